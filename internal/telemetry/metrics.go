package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/signoff"
)

// Metrics holds the OpenTelemetry instruments for signing and verification
type Metrics struct {
	// Signing metrics
	SignaturesTotal      metric.Int64Counter
	SignatureFailures    metric.Int64Counter
	ReverificationsTotal metric.Int64Counter

	// Trust evaluation metrics
	TrustEvaluationsTotal   metric.Int64Counter
	TrustEvaluationDuration metric.Float64Histogram

	// Revocation metrics
	RevocationChecksTotal      metric.Int64Counter
	RevocationCheckDuration    metric.Float64Histogram
	RevocationUnavailableTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SignaturesTotal, _ = meter.Int64Counter(
		"signoff.signatures.total",
		metric.WithDescription("Signatures bound to authorizations, by kind"),
		metric.WithUnit("{signature}"),
	)

	m.SignatureFailures, _ = meter.Int64Counter(
		"signoff.signatures.failures.total",
		metric.WithDescription("Signing attempts rejected, by reason code"),
		metric.WithUnit("{attempt}"),
	)

	m.ReverificationsTotal, _ = meter.Int64Counter(
		"signoff.reverifications.total",
		metric.WithDescription("Re-verifications of stored signatures, by reason code"),
		metric.WithUnit("{verification}"),
	)

	m.TrustEvaluationsTotal, _ = meter.Int64Counter(
		"signoff.trust.evaluations.total",
		metric.WithDescription("Certificate trust evaluations, by reason code"),
		metric.WithUnit("{evaluation}"),
	)

	m.TrustEvaluationDuration, _ = meter.Float64Histogram(
		"signoff.trust.evaluation.duration",
		metric.WithDescription("Duration of certificate trust evaluation including revocation"),
		metric.WithUnit("ms"),
	)

	m.RevocationChecksTotal, _ = meter.Int64Counter(
		"signoff.revocation.checks.total",
		metric.WithDescription("Revocation lookups, by source and status"),
		metric.WithUnit("{check}"),
	)

	m.RevocationCheckDuration, _ = meter.Float64Histogram(
		"signoff.revocation.check.duration",
		metric.WithDescription("Duration of revocation lookups"),
		metric.WithUnit("ms"),
	)

	m.RevocationUnavailableTotal, _ = meter.Int64Counter(
		"signoff.revocation.unavailable.total",
		metric.WithDescription("Revocation lookups where no source could answer"),
		metric.WithUnit("{check}"),
	)

	return m
}
