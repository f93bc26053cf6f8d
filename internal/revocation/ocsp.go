package revocation

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

const (
	maxOCSPResponseSize = 1 << 20

	// tolerated difference between our clock and the responder's
	maxOCSPClockSkew = 5 * time.Minute
)

// OCSPProvider queries the responder named in the certificate's AIA
// extension, or a fixed responder when configured.
type OCSPProvider struct {
	client    *http.Client
	responder string
	now       func() time.Time
}

type OCSPOption func(*OCSPProvider)

// WithResponder overrides the certificate's OCSP server.
func WithResponder(url string) OCSPOption {
	return func(p *OCSPProvider) {
		p.responder = url
	}
}

// WithOCSPClock sets the clock used to reject stale or future responses.
func WithOCSPClock(now func() time.Time) OCSPOption {
	return func(p *OCSPProvider) {
		p.now = now
	}
}

func NewOCSPProvider(client *http.Client, opts ...OCSPOption) *OCSPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	p := &OCSPProvider{client: client, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OCSPProvider) Check(ctx context.Context, cert, issuer *x509.Certificate) (Result, error) {
	if issuer == nil {
		return Result{}, unavailable("ocsp", errors.New("issuer certificate required"))
	}

	responder := p.responder
	if responder == "" && len(cert.OCSPServer) > 0 {
		responder = cert.OCSPServer[0]
	}
	if responder == "" {
		return Result{}, unavailable("ocsp", errors.New("certificate has no OCSP responder"))
	}

	reqBody, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responder, bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, unavailable("ocsp", err)
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, unavailable("ocsp", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, unavailable("ocsp", fmt.Errorf("%s returned status %d", responder, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOCSPResponseSize))
	if err != nil {
		return Result{}, unavailable("ocsp", err)
	}

	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return Result{}, unavailable("ocsp", fmt.Errorf("invalid response from %s: %w", responder, err))
	}

	if err := p.checkFreshness(parsed); err != nil {
		return Result{}, unavailable("ocsp", fmt.Errorf("%s: %w", responder, err))
	}

	res := Result{
		Source:     "ocsp " + responder,
		ThisUpdate: parsed.ThisUpdate,
		NextUpdate: parsed.NextUpdate,
	}
	switch parsed.Status {
	case ocsp.Good:
		res.Status = StatusGood
	case ocsp.Revoked:
		res.Status = StatusRevoked
		res.RevokedAt = parsed.RevokedAt
		res.Reason = Reason(parsed.RevocationReason)
	default:
		return res, unavailable("ocsp", fmt.Errorf("%s does not know this certificate", responder))
	}
	return res, nil
}

// checkFreshness rejects responses outside their thisUpdate/nextUpdate
// window so a replayed good answer cannot hide a later revocation.
func (p *OCSPProvider) checkFreshness(resp *ocsp.Response) error {
	now := p.now()
	if resp.ThisUpdate.After(now.Add(maxOCSPClockSkew)) {
		return fmt.Errorf("response is not yet valid, thisUpdate %s", resp.ThisUpdate.UTC().Format(time.RFC3339))
	}
	if !resp.NextUpdate.IsZero() && now.After(resp.NextUpdate) {
		return fmt.Errorf("response is stale, nextUpdate %s", resp.NextUpdate.UTC().Format(time.RFC3339))
	}
	return nil
}
