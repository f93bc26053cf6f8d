package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/signoff/internal/config"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/revocation"
	"github.com/wolfeidau/signoff/internal/revocation/registry"
	"github.com/wolfeidau/signoff/internal/store"
	postgresstore "github.com/wolfeidau/signoff/internal/store/postgres"
	"github.com/wolfeidau/signoff/internal/trust"
	"github.com/wolfeidau/signoff/internal/trust/anchorsource"
)

type Globals struct {
	Debug   bool
	Version string
}

// PolicyFlags locate the signing policy and trust anchors. Flags override
// the trust section of the policy file.
type PolicyFlags struct {
	Config         string `help:"path to the signing policy YAML file" type:"existingfile" env:"SIGNOFF_CONFIG"`
	TrustBundle    string `help:"path to the PEM trust anchor bundle" env:"SIGNOFF_TRUST_BUNDLE"`
	TrustBundleSSM string `help:"SSM parameter holding the PEM trust anchor bundle" env:"SIGNOFF_TRUST_BUNDLE_SSM"`
}

func (p PolicyFlags) load() (config.Config, error) {
	cfg := config.Default()
	if p.Config != "" {
		var err error
		if cfg, err = config.Load(p.Config); err != nil {
			return cfg, err
		}
	}
	if p.TrustBundle != "" {
		cfg.Trust.BundlePath = p.TrustBundle
	}
	if p.TrustBundleSSM != "" {
		cfg.Trust.BundleSSMParameter = p.TrustBundleSSM
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid signing policy: %w", err)
	}
	return cfg, nil
}

// PostgresFlags configure the shared connection pool.
type PostgresFlags struct {
	ConnString      string        `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`
	AutoMigrate     bool          `help:"run database migrations on startup" default:"false" env:"SIGNOFF_POSTGRES_AUTO_MIGRATE"`
}

func (f *PostgresFlags) Validate() error {
	if f.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (f *PostgresFlags) poolConfig() *postgresstore.PoolConfig {
	return &postgresstore.PoolConfig{
		ConnString:      f.ConnString,
		MaxConns:        f.MaxConns,
		MinConns:        f.MinConns,
		MaxConnLifetime: f.MaxConnLifetime,
		MaxConnIdleTime: f.MaxConnIdleTime,
	}
}

// trustPolicy is everything needed to evaluate a certificate.
type trustPolicy struct {
	cfg       config.Config
	parser    *pki.Parser
	anchors   *trust.Anchors
	validator *trust.Validator
}

// loadMaterial fetches the trust bundle named by the policy along with
// any server TLS material in extra.
func loadMaterial(ctx context.Context, cfg config.Config, extra anchorsource.Config) (*anchorsource.Material, error) {
	extra.TrustBundlePath = cfg.Trust.BundlePath
	extra.TrustBundleSSM = cfg.Trust.BundleSSMParameter
	return anchorsource.Load(ctx, extra)
}

// buildTrustPolicy assembles the validator with the revocation chain in
// the configured order. certs may be nil when no registry is available.
func buildTrustPolicy(cfg config.Config, material *anchorsource.Material, certs store.CertificateStore) (*trustPolicy, error) {
	anchors, err := material.Anchors()
	if err != nil {
		return nil, err
	}

	oid, err := pki.ParseOID(cfg.Signing.PersonnelIDOID)
	if err != nil {
		return nil, err
	}
	parser := pki.NewParser(pki.WithPersonnelIDOID(oid))

	failurePolicy, err := trust.ParseFailurePolicy(cfg.Revocation.FailurePolicy)
	if err != nil {
		return nil, err
	}

	validator, err := trust.NewValidator(anchors, buildRevocation(cfg, certs),
		trust.WithParser(parser),
		trust.WithFailurePolicy(failurePolicy),
		trust.WithRevocationTimeout(cfg.RevocationTimeout()),
	)
	if err != nil {
		return nil, err
	}

	for _, anchor := range anchors.Certificates() {
		log.Debug().
			Str("subject", anchor.Subject.String()).
			Time("not_after", anchor.NotAfter).
			Msg("Trust anchor")
	}
	log.Info().
		Int("anchors", anchors.Len()).
		Strs("revocation_sources", cfg.Revocation.Sources).
		Str("failure_policy", string(failurePolicy)).
		Str("personnel_id_oid", parser.PersonnelIDOID().String()).
		Msg("Trust policy loaded")

	return &trustPolicy{cfg: cfg, parser: parser, anchors: anchors, validator: validator}, nil
}

func buildRevocation(cfg config.Config, certs store.CertificateStore) revocation.Provider {
	client := revocation.NewCachingHTTPClient(cfg.Revocation.CacheDir, cfg.RevocationTimeout())
	retry := revocation.RetryOptions{MaxTries: cfg.Revocation.Attempts, MaxElapsed: cfg.RevocationTimeout()}

	var providers []revocation.Provider
	for _, source := range cfg.Revocation.Sources {
		var p revocation.Provider
		switch source {
		case config.SourceOCSP:
			var opts []revocation.OCSPOption
			if cfg.Revocation.OCSPResponder != "" {
				opts = append(opts, revocation.WithResponder(cfg.Revocation.OCSPResponder))
			}
			p = revocation.WithRetry(source, revocation.NewOCSPProvider(client, opts...), retry)
		case config.SourceCRL:
			p = revocation.WithRetry(source, revocation.NewCRLProvider(client, revocation.WithCRLURLs(cfg.Revocation.CRLURLs...)), retry)
		case config.SourceRegistry:
			if certs == nil {
				log.Warn().Msg("Registry revocation source configured without a certificate store, skipping")
				continue
			}
			var opts []registry.Option
			if cfg.Revocation.RegistryAuthoritative {
				opts = append(opts, registry.Authoritative())
			}
			p = registry.New(certs, opts...)
		}
		providers = append(providers, revocation.Instrument(source, p))
	}

	return revocation.Chain(providers...)
}

func readCertificateFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	return data, nil
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
