package signature

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/pki/pkitest"
	"github.com/wolfeidau/signoff/internal/trust"
)

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 2))))
	return buf.Bytes()
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		replace bool
		want    State
		wantErr error
	}{
		{name: "unsigned to signed", from: StateUnsigned, want: StateSigned},
		{name: "signed rejects", from: StateSigned, want: StateSigned, wantErr: ErrAlreadySigned},
		{name: "verified rejects", from: StateVerified, want: StateVerified, wantErr: ErrAlreadySigned},
		{name: "failed rejects", from: StateVerificationFailed, want: StateVerificationFailed, wantErr: ErrAlreadySigned},
		{name: "replace from verified", from: StateVerified, replace: true, want: StateSigned},
		{name: "unknown state", from: State("BOGUS"), want: State("BOGUS"), wantErr: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.Sign(tt.replace)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.want, got)
		})
	}

	t.Run("verify is repeatable", func(t *testing.T) {
		s, err := StateSigned.Verify(true)
		require.NoError(t, err)
		require.Equal(t, StateVerified, s)

		s, err = s.Verify(false)
		require.NoError(t, err)
		require.Equal(t, StateVerificationFailed, s)

		s, err = s.Verify(true)
		require.NoError(t, err)
		require.Equal(t, StateVerified, s)
	})

	t.Run("verify unsigned", func(t *testing.T) {
		_, err := StateUnsigned.Verify(true)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("parse", func(t *testing.T) {
		s, err := ParseState("")
		require.NoError(t, err)
		require.Equal(t, StateUnsigned, s)

		_, err = ParseState("nope")
		require.Error(t, err)
	})
}

func TestBinder(t *testing.T) {
	signedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	binder := NewBinder(trust.FixedClock(signedAt))

	ca := pkitest.NewRootCA(t, "Binder Root")
	leaf := ca.IssueLeaf(t, pkitest.LeafOptions{CommonName: "DOE.JANE", Email: "jane@example.mil", EDIPI: "1234567890"})
	identity, err := pki.NewParser().Parse(leaf.DER)
	require.NoError(t, err)

	t.Run("binds a trusted certificate", func(t *testing.T) {
		eval := trust.Passed(signedAt, identity.Fingerprint, "")

		r, err := binder.BindCertificateSignature(identity, eval, []byte("authorize 10 units"))
		require.NoError(t, err)
		require.Equal(t, signedAt, r.SignatureTimestamp())
		require.Equal(t, identity.CommonName, r.SignerCommonName)
		require.Equal(t, identity.Email, r.SignerEmail)
		require.Equal(t, pki.Some("1234567890"), r.SignerUniquePersonnelID)
		require.Equal(t, identity.SerialNumber, r.CertificateSerial)
		require.Equal(t, Digest([]byte("authorize 10 units")), r.ContentDigest)
		require.Nil(t, r.CertificateVerified)

		reparsed, err := pki.NewParser().Parse(r.SignerCertificate)
		require.NoError(t, err)
		require.True(t, identity.Equal(reparsed))
	})

	t.Run("stores presented intermediates after the signer", func(t *testing.T) {
		now := time.Now()
		issuing := ca.NewIntermediate(t, "Binder CA-1", now.Add(-time.Hour), now.Add(time.Hour))
		viaIntermediate := issuing.IssueLeaf(t, pkitest.LeafOptions{CommonName: "DOE.JOHN", EDIPI: "2345678901"})
		signer, err := pki.NewParser().Parse(viaIntermediate.DER)
		require.NoError(t, err)

		r, err := binder.BindCertificateSignature(signer, trust.Passed(signedAt, signer.Fingerprint, ""), nil, viaIntermediate.Cert, issuing.Cert)
		require.NoError(t, err)

		leaf, chain, err := r.Certificates()
		require.NoError(t, err)
		require.True(t, leaf.Equal(viaIntermediate.Cert))
		require.Len(t, chain, 1)
		require.True(t, chain[0].Equal(issuing.Cert))

		reparsed, err := pki.NewParser().Parse(r.SignerCertificate)
		require.NoError(t, err)
		require.Equal(t, signer.Fingerprint, reparsed.Fingerprint)
	})

	t.Run("refuses a failed evaluation", func(t *testing.T) {
		_, err := binder.BindCertificateSignature(identity, trust.Failed(trust.ReasonExpired, signedAt, "expired"), nil)
		require.ErrorIs(t, err, ErrUntrustedEvaluation)
	})

	t.Run("refuses an evaluation for another certificate", func(t *testing.T) {
		_, err := binder.BindCertificateSignature(identity, trust.Passed(signedAt, "someone-else", ""), nil)
		require.ErrorIs(t, err, ErrUntrustedEvaluation)
	})

	t.Run("verification leaves the signature timestamp alone", func(t *testing.T) {
		r, err := binder.BindCertificateSignature(identity, trust.Passed(signedAt, identity.Fingerprint, ""), nil)
		require.NoError(t, err)

		later := signedAt.Add(48 * time.Hour)
		r.ApplyVerification(trust.Failed(trust.ReasonRevoked, later, "revoked"), later)
		require.Equal(t, signedAt, r.SignatureTimestamp())
		require.False(t, *r.CertificateVerified)
		require.Equal(t, later, *r.VerificationTimestamp)
		require.Equal(t, trust.ReasonRevoked, r.VerificationReason)
	})

	t.Run("clone is deep", func(t *testing.T) {
		r, err := binder.BindCertificateSignature(identity, trust.Passed(signedAt, identity.Fingerprint, ""), nil)
		require.NoError(t, err)
		r.ApplyVerification(trust.Passed(signedAt, identity.Fingerprint, ""), signedAt)

		c := r.Clone()
		*c.CertificateVerified = false
		c.SignerCertificate[0] = 'X'
		require.True(t, *r.CertificateVerified)
		require.NotEqual(t, c.SignerCertificate[0], r.SignerCertificate[0])
		require.Equal(t, r.SignatureTimestamp(), c.SignatureTimestamp())
	})

	t.Run("electronic signature", func(t *testing.T) {
		img := pngImage(t)

		r, err := binder.BindElectronicSignature(" Jane Doe ", pki.Some("Commander"), img)
		require.NoError(t, err)
		require.Equal(t, "Jane Doe", r.SignerName)
		require.Equal(t, "image/png", r.ImageType)
		require.Equal(t, signedAt, r.Timestamp)
	})

	t.Run("electronic signature validation", func(t *testing.T) {
		_, err := binder.BindElectronicSignature("", pki.None(), pngImage(t))
		require.ErrorIs(t, err, ErrInvalidElectronicSignature)

		_, err = binder.BindElectronicSignature("Jane", pki.None(), nil)
		require.ErrorIs(t, err, ErrInvalidElectronicSignature)

		_, err = binder.BindElectronicSignature("Jane", pki.None(), []byte("plain text"))
		require.ErrorIs(t, err, ErrInvalidElectronicSignature)
	})
}
