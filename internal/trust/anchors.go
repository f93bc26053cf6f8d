package trust

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/wolfeidau/signoff/internal/pki"
)

// ErrNoAnchors is returned when a trust store would be empty.
var ErrNoAnchors = errors.New("no trust anchors configured")

// Anchors is the set of CA certificates explicitly configured as trusted.
// Roots and intermediates are both anchors: a chain terminating at any of
// them is accepted. It is immutable after construction.
type Anchors struct {
	pool  *x509.CertPool
	certs []*x509.Certificate
}

func NewAnchors(certs ...*x509.Certificate) (*Anchors, error) {
	if len(certs) == 0 {
		return nil, ErrNoAnchors
	}

	a := &Anchors{pool: x509.NewCertPool()}
	for _, cert := range certs {
		if !cert.IsCA {
			return nil, fmt.Errorf("trust anchor %q is not a CA certificate", cert.Subject.String())
		}
		a.pool.AddCert(cert)
		a.certs = append(a.certs, cert)
	}
	return a, nil
}

// LoadAnchorsPEM builds Anchors from a PEM bundle.
func LoadAnchorsPEM(bundle []byte) (*Anchors, error) {
	certs, err := pki.ParseCertificates(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trust bundle: %w", err)
	}
	return NewAnchors(certs...)
}

// Pool returns a copy of the anchor pool, safe for use in tls.Config.
func (a *Anchors) Pool() *x509.CertPool {
	return a.pool.Clone()
}

func (a *Anchors) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), a.certs...)
}

func (a *Anchors) Len() int {
	return len(a.certs)
}
