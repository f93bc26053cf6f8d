// Package pkitest builds throwaway certificate hierarchies for tests.
package pkitest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/signoff/internal/pki"
	"golang.org/x/crypto/ocsp"
)

var serials atomic.Int64

func init() {
	serials.Store(1000)
}

// CA is a certificate authority that can issue leaves, intermediates and CRLs.
type CA struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// Leaf is an issued end-entity certificate.
type Leaf struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
	DER  []byte
}

// PEM returns the leaf certificate PEM encoded.
func (l *Leaf) PEM() []byte {
	return pki.EncodePEM(l.DER)
}

// LeafOptions describes the subject of an issued leaf. Zero validity
// defaults to one hour either side of time.Now.
type LeafOptions struct {
	CommonName   string
	Email        string
	SubjectEmail string
	EDIPI        string
	NotBefore    time.Time
	NotAfter     time.Time
	CRLURL       string
	OCSPURL      string
	// OtherNames adds SAN otherName values keyed by dotted OID.
	OtherNames map[string]string
}

// NewRootCA creates a self-signed root valid for a day either side of now.
func NewRootCA(t testing.TB, cn string) *CA {
	t.Helper()
	now := time.Now()
	return NewRootCAWithValidity(t, cn, now.Add(-24*time.Hour), now.Add(24*time.Hour))
}

func NewRootCAWithValidity(t testing.TB, cn string, notBefore, notAfter time.Time) *CA {
	t.Helper()

	key := newKey(t)
	template := caTemplate(cn, notBefore, notAfter)
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &CA{Cert: cert, Key: key}
}

// NewIntermediate issues a subordinate CA.
func (ca *CA) NewIntermediate(t testing.TB, cn string, notBefore, notAfter time.Time) *CA {
	t.Helper()

	key := newKey(t)
	template := caTemplate(cn, notBefore, notAfter)
	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, &key.PublicKey, ca.Key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &CA{Cert: cert, Key: key}
}

// IssueLeaf issues an end-entity certificate carrying the requested identity.
func (ca *CA) IssueLeaf(t testing.TB, opts LeafOptions) *Leaf {
	t.Helper()

	now := time.Now()
	if opts.NotBefore.IsZero() {
		opts.NotBefore = now.Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = now.Add(time.Hour)
	}

	key := newKey(t)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serials.Add(1)),
		Subject:      pkix.Name{CommonName: opts.CommonName, Organization: []string{"Test"}},
		NotBefore:    opts.NotBefore,
		NotAfter:     opts.NotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if opts.SubjectEmail != "" {
		template.Subject.ExtraNames = append(template.Subject.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  pki.OIDEmailAddress,
			Value: opts.SubjectEmail,
		})
	}
	if opts.CRLURL != "" {
		template.CRLDistributionPoints = []string{opts.CRLURL}
	}
	if opts.OCSPURL != "" {
		template.OCSPServer = []string{opts.OCSPURL}
	}

	var emails []string
	if opts.Email != "" {
		emails = append(emails, opts.Email)
	}
	otherNames := map[string]string{}
	if opts.EDIPI != "" {
		otherNames[pki.OIDUserPrincipalName.String()] = opts.EDIPI + "@mil"
	}
	for oid, value := range opts.OtherNames {
		otherNames[oid] = value
	}
	if len(emails) > 0 || len(otherNames) > 0 {
		san, err := pki.MarshalSubjectAltName(emails, otherNames)
		require.NoError(t, err)
		template.ExtraExtensions = append(template.ExtraExtensions, pkix.Extension{Id: pki.OIDSubjectAltName, Value: san})
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, &key.PublicKey, ca.Key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Leaf{Cert: cert, Key: key, DER: der}
}

// CRL signs a revocation list naming the given certificates.
func (ca *CA) CRL(t testing.TB, thisUpdate, nextUpdate time.Time, revoked ...*x509.Certificate) []byte {
	t.Helper()

	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, cert := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   cert.SerialNumber,
			RevocationTime: thisUpdate,
			ReasonCode:     1,
		})
	}

	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(serials.Add(1)),
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: entries,
	}, ca.Cert, ca.Key)
	require.NoError(t, err)

	return der
}

// OCSPResponse signs an OCSP response for cert with status ocsp.Good,
// ocsp.Revoked or ocsp.Unknown.
func (ca *CA) OCSPResponse(t testing.TB, cert *x509.Certificate, status int) []byte {
	t.Helper()

	now := time.Now()
	template := ocsp.Response{
		Status:       status,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   now.Add(-time.Minute),
		NextUpdate:   now.Add(time.Hour),
	}
	if status == ocsp.Revoked {
		template.RevokedAt = now.Add(-time.Minute)
		template.RevocationReason = ocsp.KeyCompromise
	}

	resp, err := ocsp.CreateResponse(ca.Cert, ca.Cert, template, crypto.Signer(ca.Key))
	require.NoError(t, err)

	return resp
}

func caTemplate(cn string, notBefore, notAfter time.Time) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serials.Add(1)),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Test"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}
