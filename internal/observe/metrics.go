// Package observe provides application-wide observability primitives for
// Centralino: OpenTelemetry metrics with a Prometheus exporter bridge so the
// standard /metrics endpoint keeps working.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Centralino metrics.
const meterName = "github.com/trattoria-labs/centralino"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks per-utterance transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// ExtractionDuration tracks post-call order extraction latency.
	ExtractionDuration metric.Float64Histogram

	// CallDuration tracks total call length.
	CallDuration metric.Float64Histogram

	// --- Counters ---

	// CallsStarted counts answered calls.
	CallsStarted metric.Int64Counter

	// BargeIns counts caller interruptions of assistant speech.
	BargeIns metric.Int64Counter

	// WatchdogNudges counts inactivity repeats of the last utterance.
	WatchdogNudges metric.Int64Counter

	// WatchdogTerminations counts calls ended for continued silence.
	WatchdogTerminations metric.Int64Counter

	// CallsTransferred counts calls handed to the manager.
	CallsTransferred metric.Int64Counter

	// OrdersPersisted counts stored orders. Use with attribute:
	//   attribute.String("mode", "insert"|"update")
	OrdersPersisted metric.Int64Counter

	// SMSSent counts outbound text messages. Use with attribute:
	//   attribute.String("recipient", "customer"|"manager")
	SMSSent metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both sub-second transcription and multi-minute calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("centralino.transcription.duration",
		metric.WithDescription("Latency of assistant utterance transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("centralino.extraction.duration",
		metric.WithDescription("Latency of post-call order extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("centralino.call.duration",
		metric.WithDescription("Total call length."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CallsStarted, err = m.Int64Counter("centralino.calls.started",
		metric.WithDescription("Total answered calls."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("centralino.call.barge_ins",
		metric.WithDescription("Total caller interruptions of assistant speech."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogNudges, err = m.Int64Counter("centralino.watchdog.nudges",
		metric.WithDescription("Total inactivity nudges."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogTerminations, err = m.Int64Counter("centralino.watchdog.terminations",
		metric.WithDescription("Total calls ended for continued silence."),
	); err != nil {
		return nil, err
	}
	if met.CallsTransferred, err = m.Int64Counter("centralino.calls.transferred",
		metric.WithDescription("Total calls handed to the manager."),
	); err != nil {
		return nil, err
	}
	if met.OrdersPersisted, err = m.Int64Counter("centralino.orders.persisted",
		metric.WithDescription("Total stored orders by mode."),
	); err != nil {
		return nil, err
	}
	if met.SMSSent, err = m.Int64Counter("centralino.sms.sent",
		metric.WithDescription("Total outbound text messages by recipient."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("centralino.calls.active",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordOrderPersisted records a stored order with its persistence mode.
func (m *Metrics) RecordOrderPersisted(ctx context.Context, mode string) {
	m.OrdersPersisted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordSMSSent records an outbound message by recipient kind.
func (m *Metrics) RecordSMSSent(ctx context.Context, recipient string) {
	m.SMSSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("recipient", recipient)))
}
