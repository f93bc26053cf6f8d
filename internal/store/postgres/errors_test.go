package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/signoff/internal/store"
)

func TestMapPostgresError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{
			name: "duplicate authorization",
			in:   &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "authorizations_pkey"},
			want: store.ErrAuthorizationAlreadyExists,
		},
		{
			name: "duplicate certificate serial",
			in:   &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "certificates_pkey"},
			want: store.ErrCertAlreadyExists,
		},
		{
			name: "duplicate certificate fingerprint",
			in:   &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "certificates_fingerprint_key"},
			want: store.ErrCertAlreadyExists,
		},
		{
			name: "two signatures",
			in:   &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "authorizations_single_signature_check"},
			want: store.ErrInconsistentAuthorization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, mapPostgresError(tt.in), tt.want)
		})
	}

	t.Run("passes through other errors", func(t *testing.T) {
		plain := errors.New("boom")
		require.Equal(t, plain, mapPostgresError(plain))
		require.NoError(t, mapPostgresError(nil))
	})

	t.Run("keeps the pg error", func(t *testing.T) {
		in := &pgconn.PgError{Code: pgerrcode.QueryCanceled}
		var pgErr *pgconn.PgError
		require.ErrorAs(t, mapPostgresError(in), &pgErr)
	})

	require.True(t, isUndefinedTable(&pgconn.PgError{Code: pgerrcode.UndefinedTable}))
}
