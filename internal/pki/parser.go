package pki

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedCertificate is returned for bytes that are not a usable
// X.509v3 certificate, including certificates that name nobody.
var ErrMalformedCertificate = errors.New("malformed certificate")

// Parser extracts a CertificateIdentity from certificate bytes.
type Parser struct {
	personnelIDOID asn1.ObjectIdentifier
}

type ParserOption func(*Parser)

// WithPersonnelIDOID sets the SAN otherName type that carries the EDIPI.
func WithPersonnelIDOID(oid asn1.ObjectIdentifier) ParserOption {
	return func(p *Parser) {
		p.personnelIDOID = oid
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{personnelIDOID: OIDUserPrincipalName}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PersonnelIDOID returns the configured EDIPI otherName type.
func (p *Parser) PersonnelIDOID() asn1.ObjectIdentifier {
	return p.personnelIDOID
}

// Parse decodes a DER or PEM certificate and extracts the signer identity.
func (p *Parser) Parse(data []byte) (*CertificateIdentity, error) {
	cert, err := DecodeCertificate(data)
	if err != nil {
		return nil, err
	}
	return p.Identify(cert)
}

// Identify extracts the signer identity from an already parsed certificate.
func (p *Parser) Identify(cert *x509.Certificate) (*CertificateIdentity, error) {
	if cert.Version != 3 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedCertificate, cert.Version)
	}
	if cert.NotAfter.Before(cert.NotBefore) {
		return nil, fmt.Errorf("%w: notAfter precedes notBefore", ErrMalformedCertificate)
	}

	identity := &CertificateIdentity{
		CommonName:   Some(cert.Subject.CommonName),
		SubjectDN:    cert.Subject.String(),
		IssuerDN:     cert.Issuer.String(),
		SerialNumber: SerialHex(cert.SerialNumber),
		NotBefore:    cert.NotBefore.UTC(),
		NotAfter:     cert.NotAfter.UTC(),
		Fingerprint:  Fingerprint(cert.Raw),
		cert:         cert,
	}

	// SAN rfc822Name wins over the legacy subject attribute
	switch {
	case len(cert.EmailAddresses) > 0:
		identity.Email = Some(cert.EmailAddresses[0])
	default:
		if email, ok := ExtractSubjectEmail(cert); ok {
			identity.Email = Some(email)
		}
	}

	value, err := ExtractOtherName(cert, p.personnelIDOID)
	switch {
	case err == nil && p.personnelIDOID.Equal(OIDUserPrincipalName):
		identity.UniquePersonnelID = Some(EDIPIFromUPN(value))
	case err == nil:
		identity.UniquePersonnelID = Some(strings.TrimSpace(value))
	case errors.Is(err, ErrExtensionNotFound), errors.Is(err, ErrOtherNameNotFound):
	default:
		return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}

	if !identity.CommonName.Present() && !identity.Email.Present() && !identity.UniquePersonnelID.Present() {
		return nil, fmt.Errorf("%w: no common name, email or personnel identifier", ErrMalformedCertificate)
	}

	return identity, nil
}

// DecodeCertificate accepts a single DER or PEM encoded certificate.
func DecodeCertificate(data []byte) (*x509.Certificate, error) {
	der := bytes.TrimSpace(data)
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedCertificate)
	}

	if bytes.HasPrefix(der, []byte("-----BEGIN")) {
		block, _ := pem.Decode(der)
		if block == nil {
			return nil, fmt.Errorf("%w: invalid PEM", ErrMalformedCertificate)
		}
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrMalformedCertificate, block.Type)
		}
		der = block.Bytes
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}
	return cert, nil
}

// ParseCertificates reads every CERTIFICATE block from a PEM bundle. A bundle
// that is not PEM is treated as one DER certificate.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	if !bytes.Contains(data, []byte("-----BEGIN")) {
		cert, err := DecodeCertificate(data)
		if err != nil {
			return nil, err
		}
		return []*x509.Certificate{cert}, nil
	}

	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no certificates in bundle", ErrMalformedCertificate)
	}
	return certs, nil
}

// EncodePEM wraps DER certificate bytes in a CERTIFICATE block.
func EncodePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// DescribeSubject is a compact "CN (email)" label for logs.
func DescribeSubject(identity *CertificateIdentity) string {
	var b strings.Builder
	b.WriteString(identity.DisplayName())
	if email, ok := identity.Email.Get(); ok && email != identity.DisplayName() {
		b.WriteString(" <")
		b.WriteString(email)
		b.WriteString(">")
	}
	return b.String()
}
