package trust

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/revocation"
	"github.com/wolfeidau/signoff/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultRevocationTimeout = 5 * time.Second

// FailurePolicy decides the outcome when no revocation source can answer.
type FailurePolicy string

const (
	// FailClosed rejects the certificate as UNTRUSTED_ISSUER.
	FailClosed FailurePolicy = "fail-closed"
	// FailOpen accepts the certificate and records the gap in the notes.
	FailOpen FailurePolicy = "fail-open"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailClosed:
		return FailClosed, nil
	case FailOpen:
		return FailOpen, nil
	default:
		return "", fmt.Errorf("unknown revocation failure policy %q", s)
	}
}

// Validator evaluates certificates against the configured anchors and
// revocation sources. Evaluations are independent and safe to run
// concurrently.
type Validator struct {
	anchors    *Anchors
	revocation revocation.Provider
	parser     *pki.Parser
	policy     FailurePolicy
	timeout    time.Duration
	tracer     trace.Tracer
}

type Option func(*Validator)

func WithFailurePolicy(p FailurePolicy) Option {
	return func(v *Validator) {
		v.policy = p
	}
}

// WithRevocationTimeout bounds the whole revocation lookup, retries included.
func WithRevocationTimeout(d time.Duration) Option {
	return func(v *Validator) {
		v.timeout = d
	}
}

func WithParser(p *pki.Parser) Option {
	return func(v *Validator) {
		v.parser = p
	}
}

func NewValidator(anchors *Anchors, rev revocation.Provider, opts ...Option) (*Validator, error) {
	if anchors == nil || anchors.Len() == 0 {
		return nil, ErrNoAnchors
	}
	if rev == nil {
		return nil, errors.New("revocation provider is required")
	}

	v := &Validator{
		anchors:    anchors,
		revocation: rev,
		parser:     pki.NewParser(),
		policy:     FailClosed,
		timeout:    defaultRevocationTimeout,
		tracer:     otel.Tracer("github.com/wolfeidau/signoff/internal/trust"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.timeout <= 0 {
		v.timeout = defaultRevocationTimeout
	}
	return v, nil
}

// Evaluate checks certificateBytes at asOf. The bytes are authoritative;
// identity, when supplied, must describe the same certificate. chain holds
// untrusted intermediates presented alongside the certificate and is only
// used for path building. Evaluate never returns an error: every failure is
// expressed as a reason code.
func (v *Validator) Evaluate(ctx context.Context, identity *pki.CertificateIdentity, certificateBytes []byte, asOf time.Time, chain ...*x509.Certificate) Evaluation {
	ctx, span := v.tracer.Start(ctx, "trust.Evaluate")
	defer span.End()

	start := time.Now()
	eval := v.evaluate(ctx, identity, certificateBytes, asOf, chain)

	span.SetAttributes(attribute.String("reason", string(eval.Reason)))
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("reason", string(eval.Reason)))
	m.TrustEvaluationsTotal.Add(ctx, 1, attrs)
	m.TrustEvaluationDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	return eval
}

func (v *Validator) evaluate(ctx context.Context, identity *pki.CertificateIdentity, certificateBytes []byte, asOf time.Time, chain []*x509.Certificate) Evaluation {
	parsed, err := v.parser.Parse(certificateBytes)
	if err != nil {
		return Failed(ReasonMalformed, asOf, err.Error())
	}
	if identity != nil && identity.Fingerprint != parsed.Fingerprint {
		return Failed(ReasonMalformed, asOf, "identity does not match certificate bytes")
	}
	cert := parsed.Certificate()

	if asOf.Before(cert.NotBefore) {
		return Failed(ReasonNotYetValid, asOf, fmt.Sprintf("certificate not valid before %s", cert.NotBefore.UTC().Format(time.RFC3339)))
	}
	if asOf.After(cert.NotAfter) {
		return Failed(ReasonExpired, asOf, fmt.Sprintf("certificate expired at %s", cert.NotAfter.UTC().Format(time.RFC3339)))
	}

	intermediates := x509.NewCertPool()
	for _, c := range chain {
		intermediates.AddCert(c)
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         v.anchors.pool,
		Intermediates: intermediates,
		CurrentTime:   asOf,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return Failed(ReasonUntrustedIssuer, asOf, err.Error())
	}

	issuer := cert
	if path := shortestChain(chains); len(path) > 1 {
		issuer = path[1]
	}

	rctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	res, err := v.revocation.Check(rctx, cert, issuer)
	if err == nil && res.Status == revocation.StatusUnknown {
		err = revocation.ErrUnavailable
	}
	if err != nil {
		log.Warn().Err(err).
			Str("serial", parsed.SerialNumber).
			Str("issuer", parsed.IssuerDN).
			Str("policy", string(v.policy)).
			Msg("Revocation status unavailable")

		if v.policy == FailOpen {
			eval := Passed(asOf, parsed.Fingerprint, "revocation status unknown: "+err.Error())
			eval.SourceUnavailable = true
			return eval
		}
		eval := Failed(ReasonUntrustedIssuer, asOf, "revocation source unavailable: "+err.Error())
		eval.SourceUnavailable = true
		return eval
	}

	if res.Status == revocation.StatusRevoked {
		eval := Failed(ReasonRevoked, asOf, "certificate "+res.Describe())
		eval.RevocationSource = res.Source
		return eval
	}

	eval := Passed(asOf, parsed.Fingerprint, "")
	eval.RevocationSource = res.Source
	return eval
}

// shortestChain picks the verified path whose issuer revocation is checked
// against. x509.Verify makes no promise about the order of chains.
func shortestChain(chains [][]*x509.Certificate) []*x509.Certificate {
	var shortest []*x509.Certificate
	for _, c := range chains {
		if shortest == nil || len(c) < len(shortest) {
			shortest = c
		}
	}
	return shortest
}
