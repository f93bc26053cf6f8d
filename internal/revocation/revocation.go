// Package revocation answers whether a certificate has been revoked by its
// issuer, using CRLs, OCSP responders and a local registry.
package revocation

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable means no definitive answer could be obtained. Callers
// decide whether that fails open or closed.
var ErrUnavailable = errors.New("revocation source unavailable")

type Status int

const (
	StatusUnknown Status = iota
	StatusGood
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Reason is the RFC 5280 CRLReason code.
type Reason int

const (
	ReasonUnspecified          Reason = 0
	ReasonKeyCompromise        Reason = 1
	ReasonCACompromise         Reason = 2
	ReasonAffiliationChanged   Reason = 3
	ReasonSuperseded           Reason = 4
	ReasonCessationOfOperation Reason = 5
	ReasonCertificateHold      Reason = 6
	ReasonRemoveFromCRL        Reason = 8
	ReasonPrivilegeWithdrawn   Reason = 9
	ReasonAACompromise         Reason = 10
)

func (r Reason) String() string {
	switch r {
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "cACompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aACompromise"
	default:
		return "unspecified"
	}
}

// ErrUnknownReason is returned by LookupReason for names outside RFC 5280.
var ErrUnknownReason = errors.New("unknown revocation reason")

// LookupReason maps a reason name onto a code, ignoring case.
func LookupReason(s string) (Reason, error) {
	for r := ReasonUnspecified; r <= ReasonAACompromise; r++ {
		if strings.EqualFold(r.String(), s) {
			return r, nil
		}
	}
	return ReasonUnspecified, fmt.Errorf("%w: %q", ErrUnknownReason, s)
}

// ParseReason maps a stored reason name onto a code. Unknown names read as
// unspecified.
func ParseReason(s string) Reason {
	r, _ := LookupReason(s)
	return r
}

// Result is one source's answer for one certificate.
type Result struct {
	Status     Status
	RevokedAt  time.Time
	Reason     Reason
	Source     string
	ThisUpdate time.Time
	NextUpdate time.Time
}

// Describe renders the result for verification notes.
func (r Result) Describe() string {
	if r.Status != StatusRevoked {
		return fmt.Sprintf("%s via %s", r.Status, r.Source)
	}
	return fmt.Sprintf("revoked at %s (%s) via %s", r.RevokedAt.UTC().Format(time.RFC3339), r.Reason, r.Source)
}

// Provider checks the revocation status of cert, issued by issuer.
// Implementations return ErrUnavailable (possibly wrapped) when the
// source cannot answer.
type Provider interface {
	Check(ctx context.Context, cert, issuer *x509.Certificate) (Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, cert, issuer *x509.Certificate) (Result, error)

func (f ProviderFunc) Check(ctx context.Context, cert, issuer *x509.Certificate) (Result, error) {
	return f(ctx, cert, issuer)
}

// unavailable wraps err so errors.Is(err, ErrUnavailable) holds.
func unavailable(source string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, source, err)
}
