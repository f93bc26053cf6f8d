package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/signoff/internal/logger"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/revocation"
	"github.com/wolfeidau/signoff/internal/store"
	postgresstore "github.com/wolfeidau/signoff/internal/store/postgres"
)

// RegistryCmd manages the certificate registry used as a revocation source.
type RegistryCmd struct {
	Register RegistryRegisterCmd `cmd:"" help:"Register a signer certificate"`
	Revoke   RegistryRevokeCmd   `cmd:"" help:"Revoke a registered certificate"`
	List     RegistryListCmd     `cmd:"" help:"List registered certificates"`

	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

// AfterApply makes the parsed flags available to the subcommands.
func (r *RegistryCmd) AfterApply(kctx *kong.Context) error {
	kctx.Bind(r)
	return nil
}

func (r *RegistryCmd) open(ctx context.Context) (*pgxpool.Pool, error) {
	if err := r.Postgres.Validate(); err != nil {
		return nil, err
	}
	pool, err := postgresstore.NewPool(ctx, r.Postgres.poolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if r.Postgres.AutoMigrate {
		if err := postgresstore.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return pool, nil
}

type RegistryRegisterCmd struct {
	Certificate string `arg:"" help:"PEM or DER certificate file, - for stdin"`
	Description string `help:"free text note stored with the certificate"`
}

func (c *RegistryRegisterCmd) Run(ctx context.Context, globals *Globals, parent *RegistryCmd) error {
	log := logger.Setup(globals.Debug)

	data, err := readCertificateFile(c.Certificate)
	if err != nil {
		return err
	}
	cert, err := pki.DecodeCertificate(data)
	if err != nil {
		return err
	}

	pool, err := parent.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	meta := store.NewCertMetadataFromX509(cert)
	meta.Description = c.Description
	if err := postgresstore.NewCertificateStore(pool).Register(ctx, meta); err != nil {
		return err
	}

	log.Info().Str("serial", meta.SerialNumber).Str("subject", meta.SubjectDN).Msg("Certificate registered")
	return nil
}

type RegistryRevokeCmd struct {
	Serial string    `arg:"" help:"certificate serial number in hex"`
	Reason string    `help:"RFC 5280 reason" default:"unspecified" enum:"unspecified,keyCompromise,cACompromise,affiliationChanged,superseded,cessationOfOperation,certificateHold,privilegeWithdrawn,aACompromise"`
	At     time.Time `help:"revocation time, RFC 3339, defaults to now"`
}

func (c *RegistryRevokeCmd) Run(ctx context.Context, globals *Globals, parent *RegistryCmd) error {
	log := logger.Setup(globals.Debug)

	serial, ok := pki.NormalizeSerial(c.Serial)
	if !ok {
		return fmt.Errorf("invalid serial number %q", c.Serial)
	}
	reason, err := revocation.LookupReason(c.Reason)
	if err != nil {
		return err
	}

	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	pool, err := parent.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgresstore.NewCertificateStore(pool).Revoke(ctx, serial, reason.String(), at); err != nil {
		return err
	}

	log.Info().Str("serial", serial).Str("reason", reason.String()).Time("at", at).Msg("Certificate revoked")
	return nil
}

type RegistryListCmd struct {
	Issuer         string `help:"only certificates from this issuer DN"`
	IncludeRevoked bool   `help:"include revoked certificates" default:"true" negatable:""`
	Limit          int    `help:"maximum number of certificates" default:"100"`
	Output         string `short:"o" help:"output format" default:"table" enum:"table,json,yaml"`
}

func (c *RegistryListCmd) Run(ctx context.Context, globals *Globals, parent *RegistryCmd) error {
	logger.Setup(globals.Debug)

	pool, err := parent.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	certs, err := postgresstore.NewCertificateStore(pool).List(ctx, store.ListCertificatesOptions{
		IssuerDN:       c.Issuer,
		IncludeRevoked: c.IncludeRevoked,
		Limit:          c.Limit,
	})
	if err != nil {
		return err
	}

	return writeOutput(os.Stdout, c.Output, certs, func(w io.Writer) {
		printCertificates(w, certs)
	})
}

func printCertificates(w io.Writer, certs []*store.CertMetadata) {
	if len(certs) == 0 {
		fmt.Fprintln(w, "No certificates registered.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tSUBJECT\tEXPIRES\tREVOKED")
	for _, cert := range certs {
		revoked := ""
		if cert.Revoked && cert.RevokedAt != nil {
			revoked = cert.RevokedAt.Format(time.RFC3339) + " " + cert.RevocationReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cert.SerialNumber, cert.SubjectDN, cert.ExpiresAt.Format(time.RFC3339), revoked)
	}
	tw.Flush()
}
