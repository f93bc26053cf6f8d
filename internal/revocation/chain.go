package revocation

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
)

// Chain consults every provider in order. A revoked answer from any source
// wins. Otherwise the first good answer is returned. When no provider can
// answer the joined errors are returned wrapped in ErrUnavailable.
func Chain(providers ...Provider) Provider {
	return ProviderFunc(func(ctx context.Context, cert, issuer *x509.Certificate) (Result, error) {
		var (
			good *Result
			errs []error
		)

		for _, p := range providers {
			res, err := p.Check(ctx, cert, issuer)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			switch res.Status {
			case StatusRevoked:
				return res, nil
			case StatusGood:
				if good == nil {
					good = &res
				}
			}
		}

		if good != nil {
			return *good, nil
		}
		if len(errs) == 0 {
			return Result{Status: StatusUnknown}, fmt.Errorf("%w: no source has a status for this certificate", ErrUnavailable)
		}
		return Result{Status: StatusUnknown}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
	})
}
