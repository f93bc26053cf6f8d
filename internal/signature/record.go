// Package signature binds signer identities to authorization content.
package signature

import (
	"crypto/x509"
	"time"

	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/trust"
)

// Record is a certificate-backed signature. The signature timestamp is
// fixed when the record is bound and only verification fields change
// afterwards.
type Record struct {
	SignerCertificate       []byte
	SignerCommonName        pki.Optional
	SignerEmail             pki.Optional
	SignerUniquePersonnelID pki.Optional

	CertificateIssuer      string
	CertificateSerial      string
	CertificateFingerprint string
	CertificateNotBefore   time.Time
	CertificateNotAfter    time.Time

	// ContentDigest is the hex SHA-256 of the content at signing time.
	// It is informational and not a cryptographic signature.
	ContentDigest string

	// CertificateVerified is nil until the first re-verification.
	CertificateVerified   *bool
	VerificationTimestamp *time.Time
	VerificationReason    trust.ReasonCode
	VerificationNotes     string

	signedAt time.Time
}

// RestoreRecord rebuilds a persisted record.
func RestoreRecord(r Record, signedAt time.Time) *Record {
	r.signedAt = signedAt.UTC()
	return &r
}

// Certificates splits the stored bundle into the signer certificate and
// the intermediates presented when it was signed.
func (r *Record) Certificates() (*x509.Certificate, []*x509.Certificate, error) {
	certs, err := pki.ParseCertificates(r.SignerCertificate)
	if err != nil {
		return nil, nil, err
	}
	return certs[0], certs[1:], nil
}

func (r *Record) SignatureTimestamp() time.Time {
	return r.signedAt
}

// ApplyVerification overwrites the verification outcome.
func (r *Record) ApplyVerification(eval trust.Evaluation, at time.Time) {
	ok := eval.Valid()
	at = at.UTC()
	r.CertificateVerified = &ok
	r.VerificationTimestamp = &at
	r.VerificationReason = eval.Reason
	r.VerificationNotes = eval.Notes
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.SignerCertificate = append([]byte(nil), r.SignerCertificate...)
	if r.CertificateVerified != nil {
		v := *r.CertificateVerified
		c.CertificateVerified = &v
	}
	if r.VerificationTimestamp != nil {
		v := *r.VerificationTimestamp
		c.VerificationTimestamp = &v
	}
	return &c
}

// ElectronicRecord is a typed name with a captured signature image. It is
// not backed by a certificate and is never verified.
type ElectronicRecord struct {
	SignerName     string
	SignerTitle    pki.Optional
	SignatureImage []byte
	ImageType      string
	Timestamp      time.Time
}

func (r *ElectronicRecord) Clone() *ElectronicRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.SignatureImage = append([]byte(nil), r.SignatureImage...)
	return &c
}
