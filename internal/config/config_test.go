package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signoff.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{SourceOCSP, SourceCRL}, cfg.Revocation.Sources)
	require.Equal(t, "fail-closed", cfg.Revocation.FailurePolicy)
	require.Equal(t, "reject", cfg.Signing.ResignPolicy)
	require.Equal(t, "1.3.6.1.4.1.311.20.2.3", cfg.Signing.PersonnelIDOID)
	require.Equal(t, DefaultRevocationTimeout, cfg.RevocationTimeout())
}

func TestLoad(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		path := writeConfig(t, `
version: 1
trust:
  bundle_path: /etc/signoff/dod-roots.pem
revocation:
  sources: [registry, ocsp]
  ocsp_responder: http://ocsp.example.mil
  timeout: 2s
  attempts: 5
  failure_policy: fail-open
  registry_authoritative: true
signing:
  resign_policy: replace
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		require.Equal(t, "/etc/signoff/dod-roots.pem", cfg.Trust.BundlePath)
		require.Equal(t, 2*time.Second, cfg.RevocationTimeout())
		require.Equal(t, uint(5), cfg.Revocation.Attempts)
		require.True(t, cfg.UsesSource(SourceRegistry))
		require.False(t, cfg.UsesSource(SourceCRL))
		require.True(t, cfg.Revocation.RegistryAuthoritative)
		require.Equal(t, "replace", cfg.Signing.ResignPolicy)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "revocation: [unclosed"))
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown source", mutate: func(c *Config) { c.Revocation.Sources = []string{"ldap"} }},
		{name: "bad timeout", mutate: func(c *Config) { c.Revocation.Timeout = "soon" }},
		{name: "negative timeout", mutate: func(c *Config) { c.Revocation.Timeout = "-1s" }},
		{name: "bad failure policy", mutate: func(c *Config) { c.Revocation.FailurePolicy = "maybe" }},
		{name: "bad oid", mutate: func(c *Config) { c.Signing.PersonnelIDOID = "1.x.3" }},
		{name: "bad resign policy", mutate: func(c *Config) { c.Signing.ResignPolicy = "append" }},
		{name: "authoritative registry not consulted", mutate: func(c *Config) { c.Revocation.RegistryAuthoritative = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
