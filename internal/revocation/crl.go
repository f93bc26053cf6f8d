package revocation

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultMaxCRLSize = 32 << 20

// CRLProvider checks certificates against the CRLs named in their
// distribution points, or a fixed list of locations when configured.
type CRLProvider struct {
	client  *http.Client
	urls    []string
	maxSize int64
	now     func() time.Time
}

type CRLOption func(*CRLProvider)

// WithCRLURLs overrides the certificate's distribution points. file://
// locations are read from disk for air-gapped deployments.
func WithCRLURLs(urls ...string) CRLOption {
	return func(p *CRLProvider) {
		p.urls = urls
	}
}

func WithCRLMaxSize(n int64) CRLOption {
	return func(p *CRLProvider) {
		p.maxSize = n
	}
}

// WithCRLClock sets the clock used to reject stale CRLs.
func WithCRLClock(now func() time.Time) CRLOption {
	return func(p *CRLProvider) {
		p.now = now
	}
}

func NewCRLProvider(client *http.Client, opts ...CRLOption) *CRLProvider {
	if client == nil {
		client = http.DefaultClient
	}
	p := &CRLProvider{client: client, maxSize: defaultMaxCRLSize, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *CRLProvider) Check(ctx context.Context, cert, issuer *x509.Certificate) (Result, error) {
	if issuer == nil {
		return Result{}, unavailable("crl", errors.New("issuer certificate required"))
	}

	locations := p.urls
	if len(locations) == 0 {
		locations = cert.CRLDistributionPoints
	}
	if len(locations) == 0 {
		return Result{}, unavailable("crl", errors.New("certificate has no CRL distribution point"))
	}

	var errs []error
	for _, location := range locations {
		crl, err := p.fetch(ctx, location)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", location, err))
			continue
		}
		// a CRL from another issuer says nothing about this certificate
		if err := crl.CheckSignatureFrom(issuer); err != nil {
			errs = append(errs, fmt.Errorf("%s: CRL signature: %w", location, err))
			continue
		}
		if !crl.NextUpdate.IsZero() && p.now().After(crl.NextUpdate) {
			errs = append(errs, fmt.Errorf("%s: CRL is stale, nextUpdate %s", location, crl.NextUpdate.UTC().Format(time.RFC3339)))
			continue
		}

		res := Result{
			Status:     StatusGood,
			Source:     "crl " + location,
			ThisUpdate: crl.ThisUpdate,
			NextUpdate: crl.NextUpdate,
		}
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				res.Status = StatusRevoked
				res.RevokedAt = entry.RevocationTime
				res.Reason = Reason(entry.ReasonCode)
				break
			}
		}
		return res, nil
	}

	return Result{}, unavailable("crl", errors.Join(errs...))
}

func (p *CRLProvider) fetch(ctx context.Context, location string) (*x509.RevocationList, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch u.Scheme {
	case "file":
		body, err = readLimited(os.Open(u.Path))
	case "http", "https":
		body, err = p.get(ctx, location)
	default:
		return nil, fmt.Errorf("unsupported CRL scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(strings.TrimSpace(string(body[:min(len(body), 64)])), "-----BEGIN") {
		block, _ := pem.Decode(body)
		if block == nil || block.Type != "X509 CRL" {
			return nil, errors.New("invalid CRL PEM")
		}
		body = block.Bytes
	}

	return x509.ParseRevocationList(body)
}

func (p *CRLProvider) get(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > p.maxSize {
		return nil, fmt.Errorf("CRL exceeds %d bytes", p.maxSize)
	}
	return body, nil
}

func readLimited(f *os.File, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, defaultMaxCRLSize))
}
