package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/signoff/internal/models"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/signature"
	"github.com/wolfeidau/signoff/internal/store"
	"github.com/wolfeidau/signoff/internal/trust"
)

const authorizationColumns = `
	authorization_id, title, content, signature_state, version, created_at, updated_at,
	signer_certificate, signer_common_name, signer_email, signer_edipi,
	certificate_issuer, certificate_serial, certificate_fingerprint,
	certificate_not_before, certificate_not_after, content_digest, signature_timestamp,
	certificate_verified, verification_timestamp, verification_reason, verification_notes,
	electronic_signer_name, electronic_signer_title, electronic_signature_image,
	electronic_image_type, electronic_timestamp`

// AuthorizationStore implements store.AuthorizationStore using PostgreSQL.
// Updates lock the row so concurrent signers are serialized by the database.
type AuthorizationStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewAuthorizationStore(pool *pgxpool.Pool) *AuthorizationStore {
	return &AuthorizationStore{pool: pool, now: time.Now}
}

func (s *AuthorizationStore) Create(ctx context.Context, a *models.Authorization) error {
	if !a.Consistent() {
		return store.ErrInconsistentAuthorization
	}

	query := `INSERT INTO authorizations (` + authorizationColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24, $25, $26, $27)`

	if _, err := s.pool.Exec(ctx, query, toRow(a).values()...); err != nil {
		return fmt.Errorf("failed to create authorization: %w", mapPostgresError(err))
	}

	log.Debug().Str("authorization_id", a.ID.String()).Msg("Created authorization")
	return nil
}

func (s *AuthorizationStore) Get(ctx context.Context, id uuid.UUID) (*models.Authorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM authorizations WHERE authorization_id = $1`

	r, err := scanAuthorization(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAuthorizationNotFound
		}
		return nil, fmt.Errorf("failed to get authorization: %w", mapPostgresError(err))
	}
	return r.model()
}

func (s *AuthorizationStore) Update(ctx context.Context, id uuid.UUID, fn store.UpdateFunc) (*models.Authorization, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	query := `SELECT ` + authorizationColumns + ` FROM authorizations WHERE authorization_id = $1 FOR UPDATE`
	r, err := scanAuthorization(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAuthorizationNotFound
		}
		return nil, fmt.Errorf("failed to lock authorization: %w", mapPostgresError(err))
	}

	working, err := r.model()
	if err != nil {
		return nil, err
	}
	version := working.Version
	if err := fn(working); err != nil {
		return nil, err
	}
	if !working.Consistent() {
		return nil, store.ErrInconsistentAuthorization
	}

	working.ID = id
	working.Version = version + 1
	working.UpdatedAt = s.now().UTC()

	update := `UPDATE authorizations SET
		title = $2, content = $3, signature_state = $4, version = $5, created_at = $6, updated_at = $7,
		signer_certificate = $8, signer_common_name = $9, signer_email = $10, signer_edipi = $11,
		certificate_issuer = $12, certificate_serial = $13, certificate_fingerprint = $14,
		certificate_not_before = $15, certificate_not_after = $16, content_digest = $17, signature_timestamp = $18,
		certificate_verified = $19, verification_timestamp = $20, verification_reason = $21, verification_notes = $22,
		electronic_signer_name = $23, electronic_signer_title = $24, electronic_signature_image = $25,
		electronic_image_type = $26, electronic_timestamp = $27
		WHERE authorization_id = $1`

	if _, err := tx.Exec(ctx, update, toRow(working).values()...); err != nil {
		return nil, fmt.Errorf("failed to update authorization: %w", mapPostgresError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit authorization update: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("authorization_id", id.String()).
		Str("state", string(working.SignatureState)).
		Int64("version", working.Version).
		Msg("Updated authorization")

	return working, nil
}

func (s *AuthorizationStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM authorizations WHERE authorization_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete authorization: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAuthorizationNotFound
	}
	return nil
}

// authorizationRow mirrors the authorizations table; NULL columns are nil.
type authorizationRow struct {
	id             uuid.UUID
	title          string
	content        []byte
	signatureState string
	version        int64
	createdAt      time.Time
	updatedAt      time.Time

	signerCertificate      []byte
	signerCommonName       *string
	signerEmail            *string
	signerEDIPI            *string
	certificateIssuer      *string
	certificateSerial      *string
	certificateFingerprint *string
	certificateNotBefore   *time.Time
	certificateNotAfter    *time.Time
	contentDigest          *string
	signatureTimestamp     *time.Time
	certificateVerified    *bool
	verificationTimestamp  *time.Time
	verificationReason     *string
	verificationNotes      *string

	electronicSignerName     *string
	electronicSignerTitle    *string
	electronicSignatureImage []byte
	electronicImageType      *string
	electronicTimestamp      *time.Time
}

func scanAuthorization(row pgx.Row) (*authorizationRow, error) {
	var r authorizationRow
	err := row.Scan(
		&r.id, &r.title, &r.content, &r.signatureState, &r.version, &r.createdAt, &r.updatedAt,
		&r.signerCertificate, &r.signerCommonName, &r.signerEmail, &r.signerEDIPI,
		&r.certificateIssuer, &r.certificateSerial, &r.certificateFingerprint,
		&r.certificateNotBefore, &r.certificateNotAfter, &r.contentDigest, &r.signatureTimestamp,
		&r.certificateVerified, &r.verificationTimestamp, &r.verificationReason, &r.verificationNotes,
		&r.electronicSignerName, &r.electronicSignerTitle, &r.electronicSignatureImage,
		&r.electronicImageType, &r.electronicTimestamp,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *authorizationRow) values() []any {
	return []any{
		r.id, r.title, r.content, r.signatureState, r.version, r.createdAt, r.updatedAt,
		r.signerCertificate, r.signerCommonName, r.signerEmail, r.signerEDIPI,
		r.certificateIssuer, r.certificateSerial, r.certificateFingerprint,
		r.certificateNotBefore, r.certificateNotAfter, r.contentDigest, r.signatureTimestamp,
		r.certificateVerified, r.verificationTimestamp, r.verificationReason, r.verificationNotes,
		r.electronicSignerName, r.electronicSignerTitle, r.electronicSignatureImage,
		r.electronicImageType, r.electronicTimestamp,
	}
}

func toRow(a *models.Authorization) *authorizationRow {
	content := a.Content
	if content == nil {
		content = []byte{}
	}
	r := &authorizationRow{
		id:             a.ID,
		title:          a.Title,
		content:        content,
		signatureState: string(a.SignatureState),
		version:        a.Version,
		createdAt:      a.CreatedAt,
		updatedAt:      a.UpdatedAt,
	}

	if sig := a.Signature; sig != nil {
		signedAt := sig.SignatureTimestamp()
		r.signerCertificate = sig.SignerCertificate
		r.signerCommonName = sig.SignerCommonName.Ptr()
		r.signerEmail = sig.SignerEmail.Ptr()
		r.signerEDIPI = sig.SignerUniquePersonnelID.Ptr()
		r.certificateIssuer = &sig.CertificateIssuer
		r.certificateSerial = &sig.CertificateSerial
		r.certificateFingerprint = &sig.CertificateFingerprint
		r.certificateNotBefore = &sig.CertificateNotBefore
		r.certificateNotAfter = &sig.CertificateNotAfter
		r.contentDigest = &sig.ContentDigest
		r.signatureTimestamp = &signedAt
		r.certificateVerified = sig.CertificateVerified
		r.verificationTimestamp = sig.VerificationTimestamp
		if sig.VerificationReason != "" {
			reason := string(sig.VerificationReason)
			r.verificationReason = &reason
		}
		if sig.VerificationNotes != "" {
			r.verificationNotes = &sig.VerificationNotes
		}
	}

	if e := a.ElectronicSignature; e != nil {
		r.electronicSignerName = &e.SignerName
		r.electronicSignerTitle = e.SignerTitle.Ptr()
		r.electronicSignatureImage = e.SignatureImage
		r.electronicImageType = &e.ImageType
		r.electronicTimestamp = &e.Timestamp
	}

	return r
}

func (r *authorizationRow) model() (*models.Authorization, error) {
	state, err := signature.ParseState(r.signatureState)
	if err != nil {
		return nil, fmt.Errorf("%w: authorization %s: %w", store.ErrInconsistentAuthorization, r.id, err)
	}

	a := &models.Authorization{
		ID:             r.id,
		Title:          r.title,
		Content:        r.content,
		SignatureState: state,
		Version:        r.version,
		CreatedAt:      r.createdAt.UTC(),
		UpdatedAt:      r.updatedAt.UTC(),
	}

	if r.signerCertificate != nil {
		// null until the first re-verification
		var reason trust.ReasonCode
		if v := deref(r.verificationReason); v != "" {
			reason = trust.ParseReasonCode(v)
		}

		a.Signature = signature.RestoreRecord(signature.Record{
			SignerCertificate:       r.signerCertificate,
			SignerCommonName:        pki.FromPtr(r.signerCommonName),
			SignerEmail:             pki.FromPtr(r.signerEmail),
			SignerUniquePersonnelID: pki.FromPtr(r.signerEDIPI),
			CertificateIssuer:       deref(r.certificateIssuer),
			CertificateSerial:       deref(r.certificateSerial),
			CertificateFingerprint:  deref(r.certificateFingerprint),
			CertificateNotBefore:    derefTime(r.certificateNotBefore),
			CertificateNotAfter:     derefTime(r.certificateNotAfter),
			ContentDigest:           deref(r.contentDigest),
			CertificateVerified:     r.certificateVerified,
			VerificationTimestamp:   utcPtr(r.verificationTimestamp),
			VerificationReason:      reason,
			VerificationNotes:       deref(r.verificationNotes),
		}, derefTime(r.signatureTimestamp))
	}

	if r.electronicSignerName != nil {
		a.ElectronicSignature = &signature.ElectronicRecord{
			SignerName:     *r.electronicSignerName,
			SignerTitle:    pki.FromPtr(r.electronicSignerTitle),
			SignatureImage: r.electronicSignatureImage,
			ImageType:      deref(r.electronicImageType),
			Timestamp:      derefTime(r.electronicTimestamp),
		}
	}

	return a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
