//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/signoff/internal/audit"
	"github.com/wolfeidau/signoff/internal/models"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/signature"
	"github.com/wolfeidau/signoff/internal/store"
	"github.com/wolfeidau/signoff/internal/trust"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString: fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// a second run is a no-op
	require.NoError(t, RunMigrations(ctx, pool))

	return pool
}

func TestIntegration_Stores(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgresContainer(t, ctx)

	authorizations := NewAuthorizationStore(pool)
	certs := NewCertificateStore(pool)
	audits := NewAuditStore(pool)

	newAuthorization := func(t *testing.T) *models.Authorization {
		t.Helper()
		a, err := models.NewAuthorization("Purchase request", []byte("Authorize purchase of 12 radios"), time.Now())
		require.NoError(t, err)
		require.NoError(t, authorizations.Create(ctx, a))
		return a
	}

	t.Run("create and get", func(t *testing.T) {
		a := newAuthorization(t)

		got, err := authorizations.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, a.Title, got.Title)
		require.Equal(t, a.Content, got.Content)
		require.Equal(t, signature.StateUnsigned, got.SignatureState)
		require.Nil(t, got.Signature)

		require.ErrorIs(t, authorizations.Create(ctx, a), store.ErrAuthorizationAlreadyExists)
	})

	t.Run("missing authorization", func(t *testing.T) {
		_, err := authorizations.Get(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrAuthorizationNotFound)

		_, err = authorizations.Update(ctx, uuid.New(), func(a *models.Authorization) error { return nil })
		require.ErrorIs(t, err, store.ErrAuthorizationNotFound)
	})

	t.Run("update persists a signature", func(t *testing.T) {
		a := newAuthorization(t)
		signedAt := time.Now().UTC().Truncate(time.Microsecond)

		updated, err := authorizations.Update(ctx, a.ID, func(a *models.Authorization) error {
			a.SignatureState = signature.StateSigned
			a.Signature = signature.RestoreRecord(signature.Record{
				SignerCertificate: []byte{0x30, 0x03, 0x02, 0x01, 0x01},
				SignerCommonName:  pki.Some("DOE.JANE.Q.1234567890"),
				SignerEmail:       pki.Some("jane.doe@example.mil"),
				CertificateIssuer: "CN=DoD Test Root CA",
				CertificateSerial: "0A1B",
				ContentDigest:     signature.Digest(a.Content),
			}, signedAt)
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, a.Version+1, updated.Version)

		got, err := authorizations.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, signature.StateSigned, got.SignatureState)
		require.Equal(t, signedAt, got.Signature.SignatureTimestamp())
		require.False(t, got.Signature.SignerUniquePersonnelID.Present())
		require.Nil(t, got.Signature.CertificateVerified)

		verifiedAt := time.Now().UTC().Truncate(time.Microsecond)
		_, err = authorizations.Update(ctx, a.ID, func(a *models.Authorization) error {
			a.Signature.ApplyVerification(trust.Failed(trust.ReasonRevoked, verifiedAt, "revoked by registry"), verifiedAt)
			a.SignatureState = signature.StateVerificationFailed
			return nil
		})
		require.NoError(t, err)

		got, err = authorizations.Get(ctx, a.ID)
		require.NoError(t, err)
		require.False(t, *got.Signature.CertificateVerified)
		require.Equal(t, trust.ReasonRevoked, got.Signature.VerificationReason)
		require.Equal(t, verifiedAt, *got.Signature.VerificationTimestamp)
		require.Equal(t, signedAt, got.Signature.SignatureTimestamp())
	})

	t.Run("failed update writes nothing", func(t *testing.T) {
		a := newAuthorization(t)
		boom := errors.New("boom")

		_, err := authorizations.Update(ctx, a.ID, func(a *models.Authorization) error {
			a.Title = "changed"
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = authorizations.Update(ctx, a.ID, func(a *models.Authorization) error {
			a.SignatureState = signature.StateSigned
			return nil
		})
		require.ErrorIs(t, err, store.ErrInconsistentAuthorization)

		got, err := authorizations.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, "Purchase request", got.Title)
		require.Equal(t, a.Version, got.Version)
	})

	t.Run("concurrent signers are serialized", func(t *testing.T) {
		a := newAuthorization(t)

		var (
			wg         sync.WaitGroup
			successes  atomic.Int32
			unexpected atomic.Int32
		)
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := authorizations.Update(ctx, a.ID, func(a *models.Authorization) error {
					next, err := a.SignatureState.Sign(false)
					if err != nil {
						return err
					}
					a.SignatureState = next
					a.ElectronicSignature = &signature.ElectronicRecord{
						SignerName: fmt.Sprintf("signer %d", i),
						ImageType:  "image/png",
						Timestamp:  time.Now().UTC(),
					}
					return nil
				})
				switch {
				case err == nil:
					successes.Add(1)
				case !errors.Is(err, signature.ErrAlreadySigned):
					unexpected.Add(1)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), successes.Load())
		require.Zero(t, unexpected.Load())
	})

	t.Run("delete", func(t *testing.T) {
		a := newAuthorization(t)
		require.NoError(t, authorizations.Delete(ctx, a.ID))
		require.ErrorIs(t, authorizations.Delete(ctx, a.ID), store.ErrAuthorizationNotFound)
	})

	t.Run("certificate registry", func(t *testing.T) {
		cert := &store.CertMetadata{
			SerialNumber: "0A1B2C",
			IssuerDN:     "CN=DoD Test Root CA",
			SubjectDN:    "CN=DOE.JANE",
			Fingerprint:  "fp-0A1B2C",
			CommonName:   "DOE.JANE",
			IssuedAt:     time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond),
			ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond),
		}
		require.NoError(t, certs.Register(ctx, cert))
		require.ErrorIs(t, certs.Register(ctx, cert), store.ErrCertAlreadyExists)

		got, err := certs.GetByFingerprint(ctx, "fp-0A1B2C")
		require.NoError(t, err)
		require.Equal(t, cert.SerialNumber, got.SerialNumber)
		require.False(t, got.Revoked)

		first := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, certs.Revoke(ctx, cert.SerialNumber, "keyCompromise", first))
		require.NoError(t, certs.Revoke(ctx, cert.SerialNumber, "superseded", first.Add(time.Hour)))

		got, err = certs.Get(ctx, cert.SerialNumber)
		require.NoError(t, err)
		require.True(t, got.Revoked)
		require.Equal(t, first, *got.RevokedAt)
		require.Equal(t, "keyCompromise", got.RevocationReason)

		require.ErrorIs(t, certs.Revoke(ctx, "FFFF", "", first), store.ErrCertNotFound)

		active, err := certs.List(ctx, store.ListCertificatesOptions{})
		require.NoError(t, err)
		require.Empty(t, active)

		all, err := certs.List(ctx, store.ListCertificatesOptions{IncludeRevoked: true, IssuerDN: "CN=DoD Test Root CA", Limit: 10})
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("audit events", func(t *testing.T) {
		id := uuid.New()
		first := audit.Stamp(audit.Event{
			Action:          audit.ActionSignCertificate,
			Outcome:         audit.OutcomeFailure,
			AuthorizationID: id,
			Reason:          trust.ReasonExpired,
			ClientIP:        "10.0.0.7",
		}, time.Now().Add(-time.Minute))
		second := audit.Stamp(audit.Event{
			Action:          audit.ActionSignCertificate,
			Outcome:         audit.OutcomeSuccess,
			AuthorizationID: id,
			Reason:          trust.ReasonOK,
		}, time.Now())

		require.NoError(t, audits.Record(ctx, first))
		require.NoError(t, audits.Record(ctx, second))

		events, err := audits.ListByAuthorization(ctx, id)
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, trust.ReasonExpired, events[0].Reason)
		require.Equal(t, "10.0.0.7", events[0].ClientIP)
		require.Equal(t, audit.OutcomeSuccess, events[1].Outcome)
	})
}
