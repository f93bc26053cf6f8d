package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/signoff/internal/audit"
	httpapi "github.com/wolfeidau/signoff/internal/http"
	"github.com/wolfeidau/signoff/internal/logger"
	"github.com/wolfeidau/signoff/internal/store"
	memorystore "github.com/wolfeidau/signoff/internal/store/memory"
	postgresstore "github.com/wolfeidau/signoff/internal/store/postgres"
	"github.com/wolfeidau/signoff/internal/telemetry"
	"github.com/wolfeidau/signoff/internal/trust/anchorsource"
	"github.com/wolfeidau/signoff/internal/verification"
)

type ServerCmd struct {
	Listen string `help:"HTTPS listen address" default:"0.0.0.0:8443" env:"SIGNOFF_LISTEN"`

	// TLS material, from files or SSM
	Cert    string `help:"path to TLS cert file" env:"SIGNOFF_TLS_CERT"`
	Key     string `help:"path to TLS key file" env:"SIGNOFF_TLS_KEY"`
	CertSSM string `help:"SSM parameter holding the TLS cert" env:"SIGNOFF_TLS_CERT_SSM"`
	KeySSM  string `help:"SSM parameter holding the TLS key" env:"SIGNOFF_TLS_KEY_SSM"`

	RequireClientCert bool     `help:"refuse TLS connections without a client certificate" default:"false" env:"SIGNOFF_REQUIRE_CLIENT_CERT"`
	TrustProxy        bool     `help:"trust X-Forwarded-For for audit client addresses" default:"false" env:"SIGNOFF_TRUST_PROXY"`
	CORSOrigins       []string `help:"allowed CORS origins for browser clients" env:"SIGNOFF_CORS_ORIGINS"`

	Policy PolicyFlags `embed:""`

	Tracing       bool          `help:"enable OpenTelemetry export" default:"false" env:"SIGNOFF_TRACING"`
	StoreType     string        `help:"store type (memory or postgres)" default:"memory" env:"SIGNOFF_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresFlags `embed:"" prefix:"postgres-"`
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.Init(ctx, telemetry.Config{ServiceName: "signoff", Version: globals.Version})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	cfg, err := c.Policy.load()
	if err != nil {
		return err
	}
	policy, err := verification.ParseResignPolicy(cfg.Signing.ResignPolicy)
	if err != nil {
		return err
	}

	var (
		authorizations store.AuthorizationStore
		certs          store.CertificateStore
		auditor        audit.Auditor = audit.NewLogAuditor(log)
	)

	switch c.StoreType {
	case "postgres":
		if err := c.PostgresStore.Validate(); err != nil {
			return err
		}
		pool, err := postgresstore.NewPool(ctx, c.PostgresStore.poolConfig())
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		authorizations = postgresstore.NewAuthorizationStore(pool)
		certs = postgresstore.NewCertificateStore(pool)
		auditor = audit.Multi(auditor, postgresstore.NewAuditStore(pool))
		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		authorizations = memorystore.NewAuthorizationStore()
		certs = memorystore.NewCertificateStore()
		log.Info().Msg("Using in-memory stores")
	}

	material, err := loadMaterial(ctx, cfg, anchorsource.Config{
		ServerCertPath: c.Cert,
		ServerKeyPath:  c.Key,
		ServerCertSSM:  c.CertSSM,
		ServerKeySSM:   c.KeySSM,
	})
	if err != nil {
		return fmt.Errorf("failed to load trust and TLS material: %w", err)
	}

	trustPolicy, err := buildTrustPolicy(cfg, material, certs)
	if err != nil {
		return fmt.Errorf("failed to load trust policy: %w", err)
	}

	svc, err := verification.NewService(verification.Deps{
		Store:     authorizations,
		Validator: trustPolicy.validator,
		Parser:    trustPolicy.parser,
		Auditor:   auditor,
		Policy:    policy,
	})
	if err != nil {
		return err
	}

	tlsConfig, err := material.TLSConfig(c.RequireClientCert)
	if err != nil {
		return err
	}

	handler := httpapi.NewRouter(httpapi.NewAPI(svc, authorizations, nil), httpapi.RouterOptions{
		Logger:      log,
		TrustProxy:  c.TrustProxy,
		CORSOrigins: c.CORSOrigins,
	})

	srv := configureHTTPServer(c.Listen, handler)
	srv.TLSConfig = tlsConfig

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("require_client_cert", c.RequireClientCert).Msg("Starting HTTPS server")
		errCh <- srv.ListenAndServeTLS("", "")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
