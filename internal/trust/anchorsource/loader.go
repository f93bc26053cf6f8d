// Package anchorsource loads the trust bundle and server TLS material from
// files or AWS SSM Parameter Store.
package anchorsource

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/wolfeidau/signoff/internal/trust"
)

// Material holds PEM data in memory
type Material struct {
	TrustBundle []byte
	ServerCert  []byte
	ServerKey   []byte
}

// Config for loading material. SSM names win over file paths for each item.
type Config struct {
	TrustBundlePath string
	ServerCertPath  string
	ServerKeyPath   string

	TrustBundleSSM string
	ServerCertSSM  string
	ServerKeySSM   string
}

func (c Config) usesSSM() bool {
	return c.TrustBundleSSM != "" || c.ServerCertSSM != "" || c.ServerKeySSM != ""
}

// ParameterGetter is the subset of the SSM client used here.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Load reads every configured item. Server material is optional so the
// CLI can load just the trust bundle.
func Load(ctx context.Context, cfg Config) (*Material, error) {
	var client ParameterGetter
	if cfg.usesSSM() {
		awsConfig, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = ssm.NewFromConfig(awsConfig)
	}
	return LoadWith(ctx, client, cfg)
}

// LoadWith is Load with an explicit SSM client.
func LoadWith(ctx context.Context, client ParameterGetter, cfg Config) (*Material, error) {
	m := &Material{}

	var err error
	if m.TrustBundle, err = fetch(ctx, client, cfg.TrustBundleSSM, cfg.TrustBundlePath); err != nil {
		return nil, fmt.Errorf("failed to load trust bundle: %w", err)
	}
	if len(m.TrustBundle) == 0 {
		return nil, fmt.Errorf("failed to load trust bundle: %w", trust.ErrNoAnchors)
	}
	if m.ServerCert, err = fetch(ctx, client, cfg.ServerCertSSM, cfg.ServerCertPath); err != nil {
		return nil, fmt.Errorf("failed to load server cert: %w", err)
	}
	if m.ServerKey, err = fetch(ctx, client, cfg.ServerKeySSM, cfg.ServerKeyPath); err != nil {
		return nil, fmt.Errorf("failed to load server key: %w", err)
	}

	return m, nil
}

func fetch(ctx context.Context, client ParameterGetter, ssmName, path string) ([]byte, error) {
	switch {
	case ssmName != "":
		if client == nil {
			return nil, fmt.Errorf("no SSM client for parameter %s", ssmName)
		}
		value, err := getParameter(ctx, client, ssmName)
		if err != nil {
			return nil, err
		}
		return []byte(value), nil
	case path != "":
		return os.ReadFile(path)
	default:
		return nil, nil
	}
}

func getParameter(ctx context.Context, client ParameterGetter, name string) (string, error) {
	output, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *output.Parameter.Value, nil
}

// Anchors parses the trust bundle.
func (m *Material) Anchors() (*trust.Anchors, error) {
	return trust.LoadAnchorsPEM(m.TrustBundle)
}

// TLSConfig builds the server configuration. Client certificates are
// requested but not verified by the handshake: the trust validator
// evaluates them so failures carry a reason code instead of a TLS alert.
// requireClientCert refuses connections without any certificate.
func (m *Material) TLSConfig(requireClientCert bool) (*tls.Config, error) {
	if len(m.ServerCert) == 0 || len(m.ServerKey) == 0 {
		return nil, fmt.Errorf("server certificate and key are required")
	}

	serverCert, err := tls.X509KeyPair(m.ServerCert, m.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server certificate: %w", err)
	}

	anchors, err := m.Anchors()
	if err != nil {
		return nil, err
	}

	clientAuth := tls.RequestClientCert
	if requireClientCert {
		clientAuth = tls.RequireAnyClientCert
	}

	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   clientAuth,
		// advertised to clients so browsers offer the right card certificate
		ClientCAs:  anchors.Pool(),
		MinVersion: tls.VersionTLS12,
	}, nil
}
