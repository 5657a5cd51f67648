package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	mp, err := NewMeterProvider(context.Background(), MetricsConfig{ServiceName: "provisioner"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("test"))
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestNewProvisionerMetrics_NilMeter(t *testing.T) {
	_, err := NewProvisionerMetrics(nil)
	assert.ErrorIs(t, err, ErrMeterNil)
}

func TestProvisionerMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewProvisionerMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSagaRun(ctx, "company", "done", 3*time.Second)
	m.RecordSagaRun(ctx, "company", "done", time.Second)
	m.RecordSagaRun(ctx, "client", "rejected", 10*time.Millisecond)
	m.RecordDelivery(ctx, "company.created", "acked")

	metrics := collect(t, reader)

	runs, ok := metrics["provisioner_saga_runs_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	total := int64(0)
	for _, dp := range runs.DataPoints {
		total += dp.Value
		if v, _ := dp.Attributes.Value(AttrKind); v.AsString() == "company" {
			assert.Equal(t, int64(2), dp.Value)
		}
	}
	assert.Equal(t, int64(3), total)

	hist, ok := metrics["provisioner_saga_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)

	deliveries, ok := metrics["provisioner_deliveries_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, deliveries.DataPoints, 1)
	outcome, _ := deliveries.DataPoints[0].Attributes.Value(AttrOutcome)
	assert.Equal(t, "acked", outcome.AsString())
}
