package store

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/wolfeidau/signoff/internal/pki"
)

// CertMetadata is a signer certificate known to the local revocation
// registry. Operators register certificates and revoke them here when the
// issuing CA's CRL or OCSP responder lags behind.
type CertMetadata struct {
	SerialNumber     string // upper case hex
	IssuerDN         string
	SubjectDN        string
	Fingerprint      string // base58 SHA-256 of the DER certificate
	CommonName       string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Revoked          bool
	RevokedAt        *time.Time
	RevocationReason string
	Description      string
}

// CertificateStore manages the local revocation registry
type CertificateStore interface {
	// Get retrieves certificate metadata by serial number
	Get(ctx context.Context, serialNumber string) (*CertMetadata, error)

	// GetByFingerprint retrieves certificate metadata by fingerprint
	GetByFingerprint(ctx context.Context, fingerprint string) (*CertMetadata, error)

	// Register stores certificate metadata
	Register(ctx context.Context, cert *CertMetadata) error

	// Revoke marks a certificate as revoked at the given time
	Revoke(ctx context.Context, serialNumber string, reason string, at time.Time) error

	// List returns registered certificates
	List(ctx context.Context, opts ListCertificatesOptions) ([]*CertMetadata, error)
}

// ListCertificatesOptions specifies filters for listing certificates
type ListCertificatesOptions struct {
	IssuerDN       string // Filter by issuer (empty = all)
	IncludeRevoked bool
	Limit          int // Max results (0 = no limit)
}

var (
	ErrCertNotFound      = errors.New("certificate not found")
	ErrCertAlreadyExists = errors.New("certificate already exists")
)

// NewCertMetadataFromX509 creates CertMetadata from an X.509 certificate
func NewCertMetadataFromX509(cert *x509.Certificate) *CertMetadata {
	return &CertMetadata{
		SerialNumber: pki.SerialHex(cert.SerialNumber),
		IssuerDN:     cert.Issuer.String(),
		SubjectDN:    cert.Subject.String(),
		Fingerprint:  pki.Fingerprint(cert.Raw),
		CommonName:   cert.Subject.CommonName,
		IssuedAt:     cert.NotBefore.UTC(),
		ExpiresAt:    cert.NotAfter.UTC(),
	}
}
