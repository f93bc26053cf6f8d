package revocation

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// RetryOptions bounds retries of an unavailable source.
type RetryOptions struct {
	MaxTries        uint
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

func (o *RetryOptions) applyDefaults() {
	if o.MaxTries == 0 {
		o.MaxTries = 3
	}
	if o.AttemptTimeout == 0 {
		o.AttemptTimeout = 2 * time.Second
	}
	if o.InitialInterval == 0 {
		o.InitialInterval = 100 * time.Millisecond
	}
	if o.MaxElapsed == 0 {
		o.MaxElapsed = 5 * time.Second
	}
}

type retrying struct {
	name string
	next Provider
	opts RetryOptions
}

// WithRetry retries next while it reports ErrUnavailable. Any other error
// is returned immediately.
func WithRetry(name string, next Provider, opts RetryOptions) Provider {
	opts.applyDefaults()
	return &retrying{name: name, next: next, opts: opts}
}

func (r *retrying) Check(ctx context.Context, cert, issuer *x509.Certificate) (Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialInterval

	attempt := 0
	return backoff.Retry(ctx, func() (Result, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
		defer cancel()

		res, err := r.next.Check(attemptCtx, cert, issuer)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return res, backoff.Permanent(err)
		}

		log.Debug().Err(err).Str("source", r.name).Int("attempt", attempt).Msg("Revocation check attempt failed")
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.opts.MaxTries),
		backoff.WithMaxElapsedTime(r.opts.MaxElapsed),
	)
}
