package signature

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/trust"
)

const MaxSignatureImageSize = 512 << 10

var (
	// ErrUntrustedEvaluation is returned when binding is attempted with a
	// failed evaluation or one made for another certificate.
	ErrUntrustedEvaluation = errors.New("certificate has not passed trust evaluation")

	ErrInvalidElectronicSignature = errors.New("invalid electronic signature")
)

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Binder produces signature records stamped with its clock.
type Binder struct {
	clock trust.Clock
}

func NewBinder(clock trust.Clock) *Binder {
	if clock == nil {
		clock = trust.SystemClock()
	}
	return &Binder{clock: clock}
}

// BindCertificateSignature builds a record from a certificate that passed
// evaluation. The certificate is stored PEM encoded, followed by the
// intermediates it was evaluated with so the same path can be rebuilt on
// re-verification.
func (b *Binder) BindCertificateSignature(identity *pki.CertificateIdentity, eval trust.Evaluation, content []byte, chain ...*x509.Certificate) (*Record, error) {
	if identity == nil || identity.Certificate() == nil {
		return nil, fmt.Errorf("%w: no identity", ErrUntrustedEvaluation)
	}
	if !eval.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedEvaluation, eval.Reason)
	}
	if eval.Fingerprint != identity.Fingerprint {
		return nil, fmt.Errorf("%w: evaluation was made for another certificate", ErrUntrustedEvaluation)
	}

	r := &Record{
		SignerCertificate:       encodeBundle(identity.Certificate(), chain),
		SignerCommonName:        identity.CommonName,
		SignerEmail:             identity.Email,
		SignerUniquePersonnelID: identity.UniquePersonnelID,
		CertificateIssuer:       identity.IssuerDN,
		CertificateSerial:       identity.SerialNumber,
		CertificateFingerprint:  identity.Fingerprint,
		CertificateNotBefore:    identity.NotBefore,
		CertificateNotAfter:     identity.NotAfter,
		ContentDigest:           Digest(content),
		signedAt:                b.clock.Now().UTC(),
	}
	return r, nil
}

// BindElectronicSignature builds a typed-name signature record.
func (b *Binder) BindElectronicSignature(name string, title pki.Optional, image []byte) (*ElectronicRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: signer name is required", ErrInvalidElectronicSignature)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: signature image is required", ErrInvalidElectronicSignature)
	}
	if len(image) > MaxSignatureImageSize {
		return nil, fmt.Errorf("%w: signature image exceeds %d bytes", ErrInvalidElectronicSignature, MaxSignatureImageSize)
	}

	imageType := http.DetectContentType(image)
	if !allowedImageTypes[imageType] {
		return nil, fmt.Errorf("%w: unsupported image type %q", ErrInvalidElectronicSignature, imageType)
	}

	return &ElectronicRecord{
		SignerName:     name,
		SignerTitle:    title,
		SignatureImage: append([]byte(nil), image...),
		ImageType:      imageType,
		Timestamp:      b.clock.Now().UTC(),
	}, nil
}

// Digest is the hex SHA-256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// encodeBundle writes leaf first, then each distinct intermediate.
func encodeBundle(leaf *x509.Certificate, chain []*x509.Certificate) []byte {
	var buf bytes.Buffer
	buf.Write(pki.EncodePEM(leaf.Raw))
	for _, c := range chain {
		if c == nil || c.Equal(leaf) {
			continue
		}
		buf.Write(pki.EncodePEM(c.Raw))
	}
	return buf.Bytes()
}
