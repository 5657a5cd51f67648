package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ProvisionerMetrics holds the consumer's counters. It satisfies the
// recorder interfaces of the saga and the message consumer.
type ProvisionerMetrics struct {
	sagaRuns     *Counter
	sagaDuration *Histogram
	deliveries   *Counter
}

// NewProvisionerMetrics registers the instruments on meter
func NewProvisionerMetrics(meter metric.Meter) (*ProvisionerMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	runs, err := NewCounter(meter,
		"provisioner_saga_runs_total",
		"Provisioning saga runs by resource kind and terminal state",
		"{runs}",
	)
	if err != nil {
		return nil, err
	}

	duration, err := NewHistogram(meter, HistogramOpts{
		Name:        "provisioner_saga_duration_seconds",
		Description: "Wall time of provisioning saga runs",
		Unit:        "s",
		Boundaries:  SagaDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	deliveries, err := NewCounter(meter,
		"provisioner_deliveries_total",
		"Broker deliveries by routing key and outcome",
		"{deliveries}",
	)
	if err != nil {
		return nil, err
	}

	return &ProvisionerMetrics{sagaRuns: runs, sagaDuration: duration, deliveries: deliveries}, nil
}

// RecordSagaRun counts a finished saga run
func (m *ProvisionerMetrics) RecordSagaRun(ctx context.Context, kind, state string, elapsed time.Duration) {
	m.sagaRuns.Inc(ctx, AttrKind.String(kind), AttrState.String(state))
	m.sagaDuration.RecordDuration(ctx, elapsed, AttrKind.String(kind), AttrState.String(state))
}

// RecordDelivery counts a settled broker delivery
func (m *ProvisionerMetrics) RecordDelivery(ctx context.Context, routingKey, outcome string) {
	m.deliveries.Inc(ctx, AttrRoutingKey.String(routingKey), AttrOutcome.String(outcome))
}
