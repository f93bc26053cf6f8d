// Package config reads the signing policy file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/trust"
	"github.com/wolfeidau/signoff/internal/verification"
	"gopkg.in/yaml.v3"
)

// Revocation sources, consulted in the order configured.
const (
	SourceOCSP     = "ocsp"
	SourceCRL      = "crl"
	SourceRegistry = "registry"
)

const (
	DefaultRevocationTimeout  = 5 * time.Second
	DefaultRevocationAttempts = 3
)

// TrustSection locates the trust anchor bundle. The SSM parameter wins
// when both are set.
type TrustSection struct {
	BundlePath         string `yaml:"bundle_path"`
	BundleSSMParameter string `yaml:"bundle_ssm_parameter"`
}

// RevocationSection configures revocation checking.
type RevocationSection struct {
	// Sources lists providers to consult, first answer wins unless a later
	// one reports the certificate revoked.
	Sources []string `yaml:"sources"`

	// CRLURLs replace each certificate's distribution points when set, for
	// deployments that mirror CRLs locally.
	CRLURLs []string `yaml:"crl_urls"`

	// OCSPResponder overrides the responder named in the certificate.
	OCSPResponder string `yaml:"ocsp_responder"`

	// Timeout bounds the whole revocation lookup.
	// Use Go duration format: "5s", "1m".
	Timeout string `yaml:"timeout"`

	// Attempts per source before it is treated as unavailable.
	Attempts uint `yaml:"attempts"`

	// FailurePolicy is fail-closed or fail-open.
	FailurePolicy string `yaml:"failure_policy"`

	// CacheDir keeps downloaded CRLs on disk, empty caches in memory.
	CacheDir string `yaml:"cache_dir"`

	// RegistryAuthoritative treats a serial absent from the local registry
	// as good instead of unknown.
	RegistryAuthoritative bool `yaml:"registry_authoritative"`
}

// SigningSection holds signing policy.
type SigningSection struct {
	// PersonnelIDOID is the otherName OID carrying the unique personnel
	// identifier, the UPN by default.
	PersonnelIDOID string `yaml:"personnel_id_oid"`

	// ResignPolicy is reject or replace.
	ResignPolicy string `yaml:"resign_policy"`
}

// Config is the signing policy file.
type Config struct {
	Version int `yaml:"version,omitempty"`

	Trust      TrustSection      `yaml:"trust"`
	Revocation RevocationSection `yaml:"revocation"`
	Signing    SigningSection    `yaml:"signing"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and parses a configuration file, applying defaults to
// anything left unset.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if len(c.Revocation.Sources) == 0 {
		c.Revocation.Sources = []string{SourceOCSP, SourceCRL}
	}
	if c.Revocation.Timeout == "" {
		c.Revocation.Timeout = DefaultRevocationTimeout.String()
	}
	if c.Revocation.Attempts == 0 {
		c.Revocation.Attempts = DefaultRevocationAttempts
	}
	if c.Revocation.FailurePolicy == "" {
		c.Revocation.FailurePolicy = string(trust.FailClosed)
	}
	if c.Signing.PersonnelIDOID == "" {
		c.Signing.PersonnelIDOID = pki.OIDUserPrincipalName.String()
	}
	if c.Signing.ResignPolicy == "" {
		c.Signing.ResignPolicy = string(verification.ResignReject)
	}
}

// Validate checks every field parses. It does not touch the network or
// the filesystem.
func (c Config) Validate() error {
	var errs []error

	for _, s := range c.Revocation.Sources {
		if !slices.Contains([]string{SourceOCSP, SourceCRL, SourceRegistry}, s) {
			errs = append(errs, fmt.Errorf("revocation.sources: unknown source %q", s))
		}
	}
	if d, err := time.ParseDuration(c.Revocation.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("revocation.timeout: %w", err))
	} else if d <= 0 {
		errs = append(errs, errors.New("revocation.timeout must be positive"))
	}
	if _, err := trust.ParseFailurePolicy(c.Revocation.FailurePolicy); err != nil {
		errs = append(errs, fmt.Errorf("revocation.failure_policy: %w", err))
	}
	if _, err := pki.ParseOID(c.Signing.PersonnelIDOID); err != nil {
		errs = append(errs, fmt.Errorf("signing.personnel_id_oid: %w", err))
	}
	if _, err := verification.ParseResignPolicy(c.Signing.ResignPolicy); err != nil {
		errs = append(errs, fmt.Errorf("signing.resign_policy: %w", err))
	}
	if c.Revocation.RegistryAuthoritative && !c.UsesSource(SourceRegistry) {
		errs = append(errs, errors.New("revocation.registry_authoritative requires the registry source"))
	}

	return errors.Join(errs...)
}

// RevocationTimeout returns the parsed timeout, falling back to the
// default when invalid.
func (c Config) RevocationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Revocation.Timeout)
	if err != nil || d <= 0 {
		return DefaultRevocationTimeout
	}
	return d
}

// UsesSource reports whether a revocation source is configured.
func (c Config) UsesSource(source string) bool {
	return slices.Contains(c.Revocation.Sources, source)
}
