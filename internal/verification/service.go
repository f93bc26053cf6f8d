// Package verification composes parsing, trust evaluation, binding and
// persistence into the signing and re-verification operations.
package verification

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/signoff/internal/audit"
	"github.com/wolfeidau/signoff/internal/models"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/signature"
	"github.com/wolfeidau/signoff/internal/store"
	"github.com/wolfeidau/signoff/internal/telemetry"
	"github.com/wolfeidau/signoff/internal/trust"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Evaluator is satisfied by *trust.Validator.
type Evaluator interface {
	Evaluate(ctx context.Context, identity *pki.CertificateIdentity, certificateBytes []byte, asOf time.Time, chain ...*x509.Certificate) trust.Evaluation
}

// Deps are the collaborators of a Service. Parser, Binder, Auditor, Clock
// and Policy have defaults.
type Deps struct {
	Store     store.AuthorizationStore
	Validator Evaluator
	Parser    *pki.Parser
	Binder    *signature.Binder
	Auditor   audit.Auditor
	Clock     trust.Clock
	Policy    ResignPolicy
}

// SignOptions accompany a certificate signing request.
type SignOptions struct {
	// Chain holds intermediates presented with the certificate.
	Chain []*x509.Certificate
	// Resign asks to replace an existing signature. It only takes effect
	// under ResignReplace.
	Resign bool
}

type Service struct {
	store     store.AuthorizationStore
	validator Evaluator
	parser    *pki.Parser
	binder    *signature.Binder
	auditor   audit.Auditor
	clock     trust.Clock
	policy    ResignPolicy
	tracer    trace.Tracer
}

func NewService(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("authorization store is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("trust validator is required")
	}

	s := &Service{
		store:     deps.Store,
		validator: deps.Validator,
		parser:    deps.Parser,
		binder:    deps.Binder,
		auditor:   deps.Auditor,
		clock:     deps.Clock,
		policy:    deps.Policy,
		tracer:    otel.Tracer("github.com/wolfeidau/signoff/internal/verification"),
	}
	if s.clock == nil {
		s.clock = trust.SystemClock()
	}
	if s.parser == nil {
		s.parser = pki.NewParser()
	}
	if s.binder == nil {
		s.binder = signature.NewBinder(s.clock)
	}
	if s.auditor == nil {
		s.auditor = audit.NewLogAuditor(log.Logger)
	}
	if s.policy == "" {
		s.policy = ResignReject
	}
	return s, nil
}

// SignNow signs an authorization with the caller's certificate as of now.
// Nothing is written unless the certificate is trusted and the state
// machine allows the transition.
func (s *Service) SignNow(ctx context.Context, id uuid.UUID, peerCertificate []byte, opts SignOptions) (*signature.Record, error) {
	ctx, span := s.tracer.Start(ctx, "verification.SignNow", trace.WithAttributes(attribute.String("authorization_id", id.String())))
	defer span.End()

	event := s.newEvent(ctx, audit.ActionSignCertificate, id)

	identity, err := s.parser.Parse(peerCertificate)
	if err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}
	event = withSigner(event, identity)

	// cheap checks before any network I/O
	current, err := s.store.Get(ctx, id)
	if err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}
	if _, err := current.SignatureState.Sign(s.policy.allows(opts.Resign)); err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}

	eval := s.validator.Evaluate(ctx, identity, peerCertificate, s.clock.Now(), opts.Chain...)
	if !eval.Valid() {
		err := newTrustFailure(eval)
		s.fail(ctx, event, err)
		return nil, err
	}

	var record *signature.Record
	_, err = s.store.Update(ctx, id, func(a *models.Authorization) error {
		next, err := a.SignatureState.Sign(s.policy.allows(opts.Resign))
		if err != nil {
			return err
		}
		rec, err := s.binder.BindCertificateSignature(identity, eval, a.Content, opts.Chain...)
		if err != nil {
			return err
		}
		a.Signature = rec
		a.ElectronicSignature = nil
		a.SignatureState = next
		record = rec
		return nil
	})
	if err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}

	event.Outcome = audit.OutcomeSuccess
	event.Reason = eval.Reason
	event.Notes = eval.Notes
	s.record(ctx, event)
	telemetry.GetMetrics().SignaturesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "certificate")))

	log.Ctx(ctx).Info().
		Str("authorization_id", id.String()).
		Str("signer", pki.DescribeSubject(identity)).
		Str("serial", identity.SerialNumber).
		Msg("Authorization signed with certificate")

	return record.Clone(), nil
}

// SignElectronic attaches a typed-name signature. It shares the signing
// lifecycle but is never verified.
func (s *Service) SignElectronic(ctx context.Context, id uuid.UUID, name string, title pki.Optional, image []byte) (*signature.ElectronicRecord, error) {
	ctx, span := s.tracer.Start(ctx, "verification.SignElectronic", trace.WithAttributes(attribute.String("authorization_id", id.String())))
	defer span.End()

	event := s.newEvent(ctx, audit.ActionSignElectronic, id)
	event.Signer = name

	record, err := s.binder.BindElectronicSignature(name, title, image)
	if err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}

	_, err = s.store.Update(ctx, id, func(a *models.Authorization) error {
		next, err := a.SignatureState.Sign(false)
		if err != nil {
			return err
		}
		a.ElectronicSignature = record
		a.SignatureState = next
		return nil
	})
	if err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}

	event.Outcome = audit.OutcomeSuccess
	s.record(ctx, event)
	telemetry.GetMetrics().SignaturesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "electronic")))

	return record.Clone(), nil
}

// Reverify re-evaluates the stored signer certificate as of now and
// records the outcome. The stored certificate bytes are parsed again; the
// projected fields on the record are never trusted. It is safe to call
// repeatedly.
func (s *Service) Reverify(ctx context.Context, id uuid.UUID) (trust.Evaluation, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Reverify", trace.WithAttributes(attribute.String("authorization_id", id.String())))
	defer span.End()

	event := s.newEvent(ctx, audit.ActionReverify, id)

	current, err := s.store.Get(ctx, id)
	if err != nil {
		s.fail(ctx, event, err)
		return trust.Evaluation{}, err
	}
	if current.Signature == nil {
		s.fail(ctx, event, ErrNoSignaturePresent)
		return trust.Evaluation{}, ErrNoSignaturePresent
	}

	certBytes := current.Signature.SignerCertificate
	leafBytes := certBytes
	var chain []*x509.Certificate
	if leaf, intermediates, err := current.Signature.Certificates(); err == nil {
		leafBytes = leaf.Raw
		chain = intermediates
		if identity, err := s.parser.Identify(leaf); err == nil {
			event = withSigner(event, identity)
		}
	}

	now := s.clock.Now()
	eval := s.validator.Evaluate(ctx, nil, leafBytes, now, chain...)

	_, err = s.store.Update(ctx, id, func(a *models.Authorization) error {
		if a.Signature == nil {
			return ErrNoSignaturePresent
		}
		if !bytes.Equal(a.Signature.SignerCertificate, certBytes) {
			return ErrSignatureReplaced
		}
		next, err := a.SignatureState.Verify(eval.Valid())
		if err != nil {
			return err
		}
		a.Signature.ApplyVerification(eval, now)
		a.SignatureState = next
		return nil
	})
	if err != nil {
		s.fail(ctx, event, err)
		return trust.Evaluation{}, err
	}

	event.Outcome = audit.OutcomeSuccess
	if !eval.Valid() {
		event.Outcome = audit.OutcomeFailure
	}
	event.Reason = eval.Reason
	event.Notes = eval.Notes
	s.record(ctx, event)
	telemetry.GetMetrics().ReverificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(eval.Reason))))

	return eval, nil
}

// GetSignatureDetails projects the current signature for display.
func (s *Service) GetSignatureDetails(ctx context.Context, id uuid.UUID) (*Details, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewDetails(a), nil
}

func (s *Service) newEvent(ctx context.Context, action audit.Action, id uuid.UUID) audit.Event {
	return audit.Event{
		Action:          action,
		AuthorizationID: id,
		ClientIP:        audit.ClientIPFromContext(ctx),
	}
}

func (s *Service) fail(ctx context.Context, event audit.Event, err error) {
	event.Outcome = audit.OutcomeFailure
	event.Notes = err.Error()
	if reason, ok := ReasonOf(err); ok {
		event.Reason = reason
	}
	s.record(ctx, event)

	if event.Action != audit.ActionReverify {
		telemetry.GetMetrics().SignatureFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(event.Reason))))
	}
	if errors.Is(err, ErrRevocationSourceUnavailable) {
		log.Ctx(ctx).Warn().Err(err).Str("authorization_id", event.AuthorizationID.String()).Msg("Signing refused because revocation source is unavailable")
	}
}

func (s *Service) record(ctx context.Context, event audit.Event) {
	event = audit.Stamp(event, s.clock.Now())
	if err := s.auditor.Record(ctx, event); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to record audit event")
	}
}

func withSigner(event audit.Event, identity *pki.CertificateIdentity) audit.Event {
	event.Signer = identity.CommonName.String()
	event.Email = identity.Email.String()
	event.EDIPI = identity.UniquePersonnelID.String()
	event.Serial = identity.SerialNumber
	event.Issuer = identity.IssuerDN
	event.Fingerprint = identity.Fingerprint
	return event
}
