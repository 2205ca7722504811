package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.TranscriptionDuration == nil || m.ExtractionDuration == nil || m.CallDuration == nil {
		t.Error("histogram instruments missing")
	}
	if m.CallsStarted == nil || m.BargeIns == nil || m.ActiveCalls == nil {
		t.Error("counter instruments missing")
	}
}

func TestMetrics_CounterRecords(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CallsStarted.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, -1)
	m.RecordOrderPersisted(ctx, "insert")
	m.RecordSMSSent(ctx, "customer")

	rm := collect(t, reader)
	if findMetric(rm, "centralino.calls.started") == nil {
		t.Error("calls.started not recorded")
	}
	if findMetric(rm, "centralino.orders.persisted") == nil {
		t.Error("orders.persisted not recorded")
	}

	active := findMetric(rm, "centralino.calls.active")
	if active == nil {
		t.Fatal("calls.active not recorded")
	}
	sum, ok := active.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("unexpected data shape: %+v", active.Data)
	}
	if sum.DataPoints[0].Value != 0 {
		t.Errorf("active calls = %d, want 0 after +1/-1", sum.DataPoints[0].Value)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics should return the same instance")
	}
}
