package verification

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/signoff/internal/audit"
	"github.com/wolfeidau/signoff/internal/models"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/pki/pkitest"
	"github.com/wolfeidau/signoff/internal/revocation"
	"github.com/wolfeidau/signoff/internal/signature"
	"github.com/wolfeidau/signoff/internal/store"
	"github.com/wolfeidau/signoff/internal/store/memory"
	"github.com/wolfeidau/signoff/internal/trust"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// switchable answers with whatever status was last stored
type switchable struct {
	status atomic.Int32
	down   atomic.Bool
}

func (s *switchable) Check(ctx context.Context, cert, issuer *x509.Certificate) (revocation.Result, error) {
	if s.down.Load() {
		return revocation.Result{}, errors.Join(revocation.ErrUnavailable, errors.New("ocsp responder timeout"))
	}
	return revocation.Result{Status: revocation.Status(s.status.Load()), Source: "test", RevokedAt: time.Now()}, nil
}

type fixture struct {
	ca      *pkitest.CA
	clock   *testClock
	rev     *switchable
	store   *memory.AuthorizationStore
	auditor *audit.MemoryAuditor
	svc     *Service
}

func newFixture(t *testing.T, policy ResignPolicy) *fixture {
	t.Helper()

	f := &fixture{
		ca:      pkitest.NewRootCA(t, "DoD Test Root CA"),
		clock:   &testClock{now: time.Now().UTC()},
		rev:     &switchable{},
		store:   memory.NewAuthorizationStore(),
		auditor: audit.NewMemoryAuditor(),
	}
	f.rev.status.Store(int32(revocation.StatusGood))

	anchors, err := trust.NewAnchors(f.ca.Cert)
	require.NoError(t, err)
	validator, err := trust.NewValidator(anchors, f.rev, trust.WithRevocationTimeout(time.Second))
	require.NoError(t, err)

	f.svc, err = NewService(Deps{
		Store:     f.store,
		Validator: validator,
		Auditor:   f.auditor,
		Clock:     f.clock,
		Policy:    policy,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) authorization(t *testing.T) *models.Authorization {
	t.Helper()
	a, err := models.NewAuthorization("Purchase request", []byte("Authorize purchase of 12 radios"), f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Create(context.Background(), a))
	return a
}

func (f *fixture) leaf(t *testing.T) *pkitest.Leaf {
	t.Helper()
	return f.ca.IssueLeaf(t, pkitest.LeafOptions{
		CommonName: "DOE.JANE.Q.1234567890",
		Email:      "jane.doe@example.mil",
		EDIPI:      "1234567890",
	})
}

func (f *fixture) lastEvent(t *testing.T) audit.Event {
	t.Helper()
	events := f.auditor.Events()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 4))))
	return buf.Bytes()
}

func TestSignNow(t *testing.T) {
	ctx := context.Background()

	t.Run("valid certificate signs the authorization", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)

		record, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		require.NoError(t, err)
		require.Nil(t, record.CertificateVerified)
		require.Equal(t, f.clock.Now(), record.SignatureTimestamp())
		require.Equal(t, signature.Digest(a.Content), record.ContentDigest)

		got, err := f.store.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, signature.StateSigned, got.SignatureState)

		details, err := f.svc.GetSignatureDetails(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, details.Signed)
		require.Equal(t, "DOE.JANE.Q.1234567890", *details.SignerName)
		require.Equal(t, "1234567890", *details.SignerEdipi)
		require.Equal(t, "jane.doe@example.mil", *details.SignerEmail)
		require.Nil(t, details.CertificateVerified)

		event := f.lastEvent(t)
		require.Equal(t, audit.ActionSignCertificate, event.Action)
		require.Equal(t, audit.OutcomeSuccess, event.Outcome)
		require.Equal(t, "1234567890", event.EDIPI)
	})

	t.Run("expired certificate leaves the authorization unsigned", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		now := f.clock.Now()
		expired := f.ca.IssueLeaf(t, pkitest.LeafOptions{CommonName: "OLD.CARD", NotBefore: now.Add(-3 * time.Hour), NotAfter: now.Add(-time.Hour)})

		_, err := f.svc.SignNow(ctx, a.ID, expired.DER, SignOptions{})
		var tf *TrustFailure
		require.ErrorAs(t, err, &tf)
		require.Equal(t, trust.ReasonExpired, tf.Reason)

		got, err := f.store.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, signature.StateUnsigned, got.SignatureState)
		require.Nil(t, got.Signature)
		require.Equal(t, a.Version, got.Version)

		event := f.lastEvent(t)
		require.Equal(t, audit.OutcomeFailure, event.Outcome)
		require.Equal(t, trust.ReasonExpired, event.Reason)
	})

	t.Run("untrusted issuer", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		stranger := pkitest.NewRootCA(t, "Stranger").IssueLeaf(t, pkitest.LeafOptions{CommonName: "MALLORY"})

		_, err := f.svc.SignNow(ctx, a.ID, stranger.DER, SignOptions{})
		reason, ok := ReasonOf(err)
		require.True(t, ok)
		require.Equal(t, trust.ReasonUntrustedIssuer, reason)
	})

	t.Run("revoked certificate", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		f.rev.status.Store(int32(revocation.StatusRevoked))

		_, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		reason, _ := ReasonOf(err)
		require.Equal(t, trust.ReasonRevoked, reason)
	})

	t.Run("unreachable revocation source fails closed and is distinguishable", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		f.rev.down.Store(true)

		_, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		reason, _ := ReasonOf(err)
		require.Equal(t, trust.ReasonUntrustedIssuer, reason)
		require.ErrorIs(t, err, ErrRevocationSourceUnavailable)

		got, err := f.store.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, signature.StateUnsigned, got.SignatureState)
	})

	t.Run("malformed certificate", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)

		_, err := f.svc.SignNow(ctx, a.ID, []byte("definitely not DER"), SignOptions{})
		require.ErrorIs(t, err, ErrMalformedCertificate)
		require.Equal(t, trust.ReasonMalformed, f.lastEvent(t).Reason)
	})

	t.Run("unknown authorization", func(t *testing.T) {
		f := newFixture(t, ResignReject)

		_, err := f.svc.SignNow(ctx, uuid.New(), f.leaf(t).DER, SignOptions{})
		require.ErrorIs(t, err, store.ErrAuthorizationNotFound)
	})

	t.Run("already signed is rejected by default", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		first, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		require.NoError(t, err)

		_, err = f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{Resign: true})
		require.ErrorIs(t, err, ErrAlreadySigned)

		got, err := f.store.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, first.CertificateSerial, got.Signature.CertificateSerial)
	})

	t.Run("replace policy needs an explicit request", func(t *testing.T) {
		f := newFixture(t, ResignReplace)
		a := f.authorization(t)
		_, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		require.NoError(t, err)

		_, err = f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		require.ErrorIs(t, err, ErrAlreadySigned)

		second := f.leaf(t)
		f.clock.Advance(time.Minute)
		record, err := f.svc.SignNow(ctx, a.ID, second.DER, SignOptions{Resign: true})
		require.NoError(t, err)
		require.Equal(t, pki.SerialHex(second.Cert.SerialNumber), record.CertificateSerial)
		require.Equal(t, f.clock.Now(), record.SignatureTimestamp())
	})

	t.Run("concurrent signers produce exactly one signature", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range 10 {
			leaf := f.leaf(t)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.svc.SignNow(ctx, a.ID, leaf.DER, SignOptions{}); err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), successes.Load())
	})
}

func TestReverify(t *testing.T) {
	ctx := context.Background()

	t.Run("verification follows revocation", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		record, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		require.NoError(t, err)
		signedAt := record.SignatureTimestamp()

		f.clock.Advance(time.Minute)
		eval, err := f.svc.Reverify(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, eval.Valid())

		details, err := f.svc.GetSignatureDetails(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, *details.CertificateVerified)
		require.Equal(t, signature.StateVerified, details.SignatureState)

		f.rev.status.Store(int32(revocation.StatusRevoked))
		f.clock.Advance(time.Minute)
		eval, err = f.svc.Reverify(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, trust.ReasonRevoked, eval.Reason)

		details, err = f.svc.GetSignatureDetails(ctx, a.ID)
		require.NoError(t, err)
		require.False(t, *details.CertificateVerified)
		require.Equal(t, "REVOKED", *details.VerificationReason)
		require.Equal(t, f.clock.Now(), *details.VerificationDate)
		require.Equal(t, signedAt, *details.SignatureTimestamp)
		require.Equal(t, signature.StateVerificationFailed, details.SignatureState)
	})

	t.Run("intermediate presented at signing is used again", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		now := time.Now()
		issuing := f.ca.NewIntermediate(t, "DoD Test CA-59", now.Add(-24*time.Hour), now.Add(24*time.Hour))
		leaf := issuing.IssueLeaf(t, pkitest.LeafOptions{
			CommonName: "DOE.JOHN.R.2345678901",
			Email:      "john.doe@example.mil",
			EDIPI:      "2345678901",
		})
		a := f.authorization(t)

		record, err := f.svc.SignNow(ctx, a.ID, leaf.DER, SignOptions{Chain: []*x509.Certificate{issuing.Cert}})
		require.NoError(t, err)

		stored, chain, err := record.Certificates()
		require.NoError(t, err)
		require.True(t, stored.Equal(leaf.Cert))
		require.Len(t, chain, 1)
		require.True(t, chain[0].Equal(issuing.Cert))

		f.clock.Advance(time.Minute)
		eval, err := f.svc.Reverify(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, eval.Valid(), eval.Notes)
		require.Equal(t, trust.ReasonOK, eval.Reason)

		details, err := f.svc.GetSignatureDetails(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, signature.StateVerified, details.SignatureState)
		require.Equal(t, "2345678901", f.lastEvent(t).EDIPI)
	})

	t.Run("repeat verification gives the same outcome", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		_, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		require.NoError(t, err)

		first, err := f.svc.Reverify(ctx, a.ID)
		require.NoError(t, err)
		second, err := f.svc.Reverify(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, first.Reason, second.Reason)
		require.Equal(t, first.Valid(), second.Valid())
	})

	t.Run("certificate expired since signing", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		_, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		require.NoError(t, err)

		f.clock.Advance(2 * time.Hour)
		eval, err := f.svc.Reverify(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, trust.ReasonExpired, eval.Reason)
	})

	t.Run("stored bytes are the source of truth", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		_, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		require.NoError(t, err)

		// projected fields are display only
		_, err = f.store.Update(ctx, a.ID, func(a *models.Authorization) error {
			a.Signature.CertificateNotAfter = time.Now().Add(-time.Hour)
			return nil
		})
		require.NoError(t, err)

		eval, err := f.svc.Reverify(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, eval.Valid())
	})

	t.Run("unsigned authorization", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)

		_, err := f.svc.Reverify(ctx, a.ID)
		require.ErrorIs(t, err, ErrNoSignaturePresent)
	})
}

func TestSignElectronic(t *testing.T) {
	ctx := context.Background()

	t.Run("electronic signature is never certificate verified", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)

		record, err := f.svc.SignElectronic(ctx, a.ID, "Jane Doe", pki.Some("Supply Officer"), pngImage(t))
		require.NoError(t, err)
		require.Equal(t, "Jane Doe", record.SignerName)

		details, err := f.svc.GetSignatureDetails(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, details.Signed)
		require.Equal(t, SignatureTypeElectronic, *details.SignatureType)
		require.Nil(t, details.CertificateVerified)
		require.Nil(t, details.CertificateIssuer)
		require.Nil(t, details.CertificateSerial)
		require.Nil(t, details.SignerEdipi)
		require.True(t, details.HasSignatureImage)

		out, err := json.Marshal(details)
		require.NoError(t, err)
		require.Contains(t, string(out), `"certificateVerified":null`)

		_, err = f.svc.Reverify(ctx, a.ID)
		require.ErrorIs(t, err, ErrNoSignaturePresent)
	})

	t.Run("cannot sign twice", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)
		_, err := f.svc.SignElectronic(ctx, a.ID, "Jane Doe", pki.None(), pngImage(t))
		require.NoError(t, err)

		_, err = f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
		require.ErrorIs(t, err, ErrAlreadySigned)
	})

	t.Run("invalid input writes nothing", func(t *testing.T) {
		f := newFixture(t, ResignReject)
		a := f.authorization(t)

		_, err := f.svc.SignElectronic(ctx, a.ID, "", pki.None(), pngImage(t))
		require.ErrorIs(t, err, signature.ErrInvalidElectronicSignature)

		got, err := f.store.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, signature.StateUnsigned, got.SignatureState)
	})
}

func TestDetailsUnsigned(t *testing.T) {
	f := newFixture(t, ResignReject)
	a := f.authorization(t)

	details, err := f.svc.GetSignatureDetails(context.Background(), a.ID)
	require.NoError(t, err)

	out, err := json.Marshal(details)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"signed": false,
		"signatureState": "UNSIGNED",
		"signatureType": null,
		"signerName": null,
		"signerEmail": null,
		"signerEdipi": null,
		"signatureTimestamp": null,
		"certificateIssuer": null,
		"certificateSerial": null,
		"certificateNotBefore": null,
		"certificateNotAfter": null,
		"certificateVerified": null,
		"verificationDate": null,
		"verificationReason": null,
		"verificationNotes": null,
		"hasSignatureImage": false
	}`, string(out))
}

func TestAuditCarriesClientIP(t *testing.T) {
	f := newFixture(t, ResignReject)
	a := f.authorization(t)

	ctx := audit.WithClientIP(context.Background(), "10.1.2.3")
	_, err := f.svc.SignNow(ctx, a.ID, f.leaf(t).DER, SignOptions{})
	require.NoError(t, err)
	require.Equal(t, "10.1.2.3", f.lastEvent(t).ClientIP)
}

func TestParseResignPolicy(t *testing.T) {
	p, err := ParseResignPolicy("")
	require.NoError(t, err)
	require.Equal(t, ResignReject, p)

	_, err = ParseResignPolicy("maybe")
	require.Error(t, err)
}
