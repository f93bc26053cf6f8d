package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/signoff/internal/audit"
	"github.com/wolfeidau/signoff/internal/trust"
)

// AuditStore persists audit events. It satisfies audit.Auditor.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Record(ctx context.Context, e audit.Event) error {
	query := `
		INSERT INTO audit_events (
			event_id, occurred_at, action, outcome, authorization_id, reason, notes,
			signer, email, edipi, serial, issuer, fingerprint, client_ip
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Timestamp, string(e.Action), string(e.Outcome), e.AuthorizationID,
		string(e.Reason), e.Notes, e.Signer, e.Email, e.EDIPI, e.Serial, e.Issuer,
		e.Fingerprint, e.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", mapPostgresError(err))
	}
	return nil
}

// ListByAuthorization returns the events for an authorization, oldest first.
func (s *AuditStore) ListByAuthorization(ctx context.Context, id uuid.UUID) ([]audit.Event, error) {
	query := `
		SELECT event_id, occurred_at, action, outcome, authorization_id, reason, notes,
			signer, email, edipi, serial, issuer, fingerprint, client_ip
		FROM audit_events
		WHERE authorization_id = $1
		ORDER BY occurred_at, event_id
	`

	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e                       audit.Event
			action, outcome, reason string
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &action, &outcome, &e.AuthorizationID, &reason, &e.Notes,
			&e.Signer, &e.Email, &e.EDIPI, &e.Serial, &e.Issuer, &e.Fingerprint, &e.ClientIP,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Action = audit.Action(action)
		e.Outcome = audit.Outcome(outcome)
		e.Reason = trust.ReasonCode(reason)
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
