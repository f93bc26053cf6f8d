// Package audit records every signing and verification attempt.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/signoff/internal/trust"
)

type Action string

const (
	ActionSignCertificate Action = "sign_certificate"
	ActionSignElectronic  Action = "sign_electronic"
	ActionReverify        Action = "reverify"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one attempt, successful or not. Signer fields identify the
// presented certificate and are empty when it could not be parsed.
type Event struct {
	ID              uuid.UUID
	Timestamp       time.Time
	Action          Action
	Outcome         Outcome
	AuthorizationID uuid.UUID
	Reason          trust.ReasonCode
	Notes           string
	Signer          string
	Email           string
	EDIPI           string
	Serial          string
	Issuer          string
	Fingerprint     string
	ClientIP        string
}

// Auditor persists events. Record failures are reported but never undo
// the operation being audited.
type Auditor interface {
	Record(ctx context.Context, event Event) error
}

// Stamp fills in the ID and timestamp when unset.
func Stamp(event Event, now time.Time) Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.Must(uuid.NewV7())
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now.UTC()
	}
	return event
}

// LogAuditor writes events to a structured logger.
type LogAuditor struct {
	logger zerolog.Logger
}

func NewLogAuditor(logger zerolog.Logger) *LogAuditor {
	return &LogAuditor{logger: logger.With().Str("component", "audit").Logger()}
}

func (a *LogAuditor) Record(ctx context.Context, e Event) error {
	ev := a.logger.Info()
	if e.Outcome == OutcomeFailure {
		ev = a.logger.Warn()
	}
	ev.Str("event_id", e.ID.String()).
		Time("at", e.Timestamp).
		Str("action", string(e.Action)).
		Str("outcome", string(e.Outcome)).
		Str("authorization_id", e.AuthorizationID.String()).
		Str("reason", string(e.Reason)).
		Str("signer", e.Signer).
		Str("email", e.Email).
		Str("edipi", e.EDIPI).
		Str("serial", e.Serial).
		Str("issuer", e.Issuer).
		Str("fingerprint", e.Fingerprint).
		Str("client_ip", e.ClientIP).
		Str("notes", e.Notes).
		Bool("audit", true).
		Msg("Signature audit event")
	return nil
}

// MemoryAuditor keeps events in memory for tests and the development server.
type MemoryAuditor struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryAuditor() *MemoryAuditor {
	return &MemoryAuditor{}
}

func (a *MemoryAuditor) Record(ctx context.Context, e Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

// Events returns a copy of the recorded events in order.
func (a *MemoryAuditor) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

type multi []Auditor

// Multi fans an event out to every auditor and joins their errors.
func Multi(auditors ...Auditor) Auditor {
	return multi(auditors)
}

func (m multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, a := range m {
		if err := a.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type clientIPKey struct{}

// WithClientIP attaches the caller's address so events recorded further
// down the call chain carry it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
