// Package registry answers revocation queries from the operator managed
// certificate registry.
package registry

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/revocation"
	"github.com/wolfeidau/signoff/internal/store"
)

// Provider looks certificates up on every call, by fingerprint first and
// then by serial number.
//
// A registered certificate that is not revoked is good. An unregistered
// certificate is unknown unless the provider is authoritative, in which case
// the registry is the only source and absence means good.
type Provider struct {
	certs         store.CertificateStore
	authoritative bool
}

type Option func(*Provider)

// Authoritative treats unregistered certificates as good.
func Authoritative() Option {
	return func(p *Provider) {
		p.authoritative = true
	}
}

func New(certs store.CertificateStore, opts ...Option) *Provider {
	p := &Provider{certs: certs}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Check(ctx context.Context, cert, issuer *x509.Certificate) (revocation.Result, error) {
	serial := pki.SerialHex(cert.SerialNumber)

	meta, err := p.certs.GetByFingerprint(ctx, pki.Fingerprint(cert.Raw))
	if errors.Is(err, store.ErrCertNotFound) {
		// entries created from a serial alone carry no fingerprint
		meta, err = p.certs.Get(ctx, serial)
	}
	switch {
	case errors.Is(err, store.ErrCertNotFound):
		if p.authoritative {
			return revocation.Result{Status: revocation.StatusGood, Source: "registry"}, nil
		}
		return revocation.Result{Status: revocation.StatusUnknown, Source: "registry"}, nil
	case err != nil:
		return revocation.Result{}, fmt.Errorf("%w: registry: %w", revocation.ErrUnavailable, err)
	}

	// serials are only unique per issuer
	if meta.IssuerDN != "" && meta.IssuerDN != cert.Issuer.String() {
		log.Debug().Str("serial", serial).Str("registered_issuer", meta.IssuerDN).Msg("Registry entry belongs to another issuer")
		return revocation.Result{Status: revocation.StatusUnknown, Source: "registry"}, nil
	}

	if !meta.Revoked {
		return revocation.Result{Status: revocation.StatusGood, Source: "registry"}, nil
	}

	res := revocation.Result{
		Status: revocation.StatusRevoked,
		Source: "registry",
		Reason: revocation.ParseReason(meta.RevocationReason),
	}
	if meta.RevokedAt != nil {
		res.RevokedAt = *meta.RevokedAt
	}
	return res, nil
}
