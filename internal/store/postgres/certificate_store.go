package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/signoff/internal/store"
)

const certificateColumns = `
	serial_number, issuer_dn, subject_dn, fingerprint, common_name,
	issued_at, expires_at, revoked, revoked_at, revocation_reason, description`

// CertificateStore implements store.CertificateStore, the local revocation
// registry, using PostgreSQL.
type CertificateStore struct {
	pool *pgxpool.Pool
}

func NewCertificateStore(pool *pgxpool.Pool) *CertificateStore {
	return &CertificateStore{pool: pool}
}

func (s *CertificateStore) Get(ctx context.Context, serialNumber string) (*store.CertMetadata, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE serial_number = $1`
	return s.getOne(ctx, query, serialNumber)
}

func (s *CertificateStore) GetByFingerprint(ctx context.Context, fingerprint string) (*store.CertMetadata, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE fingerprint = $1`
	return s.getOne(ctx, query, fingerprint)
}

func (s *CertificateStore) getOne(ctx context.Context, query string, arg string) (*store.CertMetadata, error) {
	cert, err := scanCertificate(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrCertNotFound
		}
		return nil, fmt.Errorf("failed to get certificate: %w", mapPostgresError(err))
	}
	return cert, nil
}

func (s *CertificateStore) Register(ctx context.Context, cert *store.CertMetadata) error {
	query := `INSERT INTO certificates (` + certificateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		cert.SerialNumber,
		cert.IssuerDN,
		cert.SubjectDN,
		cert.Fingerprint,
		cert.CommonName,
		cert.IssuedAt,
		cert.ExpiresAt,
		cert.Revoked,
		cert.RevokedAt,
		cert.RevocationReason,
		cert.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to register certificate: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("serial", cert.SerialNumber).
		Str("subject", cert.SubjectDN).
		Msg("Registered certificate")

	return nil
}

// Revoke marks the certificate revoked. Revoking twice keeps the first
// revocation time and reason.
func (s *CertificateStore) Revoke(ctx context.Context, serialNumber string, reason string, at time.Time) error {
	query := `
		UPDATE certificates
		SET revoked = TRUE,
		    revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = CASE WHEN revoked THEN revocation_reason ELSE $3 END
		WHERE serial_number = $1
	`

	tag, err := s.pool.Exec(ctx, query, serialNumber, at.UTC(), reason)
	if err != nil {
		return fmt.Errorf("failed to revoke certificate: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCertNotFound
	}

	log.Info().Str("serial", serialNumber).Str("reason", reason).Msg("Revoked certificate")
	return nil
}

func (s *CertificateStore) List(ctx context.Context, opts store.ListCertificatesOptions) ([]*store.CertMetadata, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates
		WHERE ($1 = '' OR issuer_dn = $1) AND ($2 OR NOT revoked)
		ORDER BY serial_number`
	args := []any{opts.IssuerDN, opts.IncludeRevoked}
	if opts.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var certs []*store.CertMetadata
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", mapPostgresError(err))
	}
	return certs, nil
}

func scanCertificate(row pgx.Row) (*store.CertMetadata, error) {
	var c store.CertMetadata
	err := row.Scan(
		&c.SerialNumber,
		&c.IssuerDN,
		&c.SubjectDN,
		&c.Fingerprint,
		&c.CommonName,
		&c.IssuedAt,
		&c.ExpiresAt,
		&c.Revoked,
		&c.RevokedAt,
		&c.RevocationReason,
		&c.Description,
	)
	if err != nil {
		return nil, err
	}
	c.IssuedAt = c.IssuedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.RevokedAt = utcPtr(c.RevokedAt)
	return &c, nil
}
