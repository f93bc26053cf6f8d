package revocation

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/wolfeidau/signoff/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument records lookup counts and latency for next under name.
func Instrument(name string, next Provider) Provider {
	return ProviderFunc(func(ctx context.Context, cert, issuer *x509.Certificate) (Result, error) {
		m := telemetry.GetMetrics()
		start := time.Now()

		res, err := next.Check(ctx, cert, issuer)

		status := res.Status.String()
		if err != nil {
			status = "unavailable"
			m.RevocationUnavailableTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", name)))
		}
		attrs := metric.WithAttributes(attribute.String("source", name), attribute.String("status", status))
		m.RevocationChecksTotal.Add(ctx, 1, attrs)
		m.RevocationCheckDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

		return res, err
	})
}
