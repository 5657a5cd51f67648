package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

func useRecorder(t *testing.T) func() []string {
	tp, rec := newRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	return func() []string {
		names := make([]string, 0)
		for _, s := range rec.Ended() {
			names = append(names, s.Name())
		}
		return names
	}
}

func TestStartSpan(t *testing.T) {
	tp, rec := newRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx, span := StartSpan(context.Background(), "provisioning.company.run",
		WithSpanKind(trace.SpanKindConsumer),
		WithAttribute(SpanAttrTenantID, "T1"),
		WithAttribute("attempts", 2),
	)
	assert.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())

	SetAttributes(span, SpanAttrNaturalKey, "ABC010101AAA", 42, "skipped")
	AddEvent(span, "credentials_pending", "attempt", 1)
	RecordError(span, errors.New("provider down"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	s := ended[0]
	assert.Equal(t, "provisioning.company.run", s.Name())
	assert.Equal(t, trace.SpanKindConsumer, s.SpanKind())
	assert.Equal(t, codes.Error, s.Status().Code)

	v, ok := attrValue(s.Attributes(), SpanAttrNaturalKey)
	require.True(t, ok)
	assert.Equal(t, "ABC010101AAA", v.AsString())
	v, ok = attrValue(s.Attributes(), "attempts")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt64())

	require.Len(t, s.Events(), 2) // event + recorded error
	assert.Equal(t, "credentials_pending", s.Events()[0].Name)
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		SetAttributes(nil, "k", "v")
		RecordError(nil, errors.New("x"))
		SetOK(nil)
		AddEvent(nil, "e")
	})
}

func TestSetOK(t *testing.T) {
	names := useRecorder(t)

	_, span := StartSpan(context.Background(), "messaging.delivery")
	SetOK(span)
	span.End()

	assert.Equal(t, []string{"messaging.delivery"}, names())
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), Config{Enabled: false, ServiceName: "provisioner"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("test"))
	assert.NoError(t, tp.ForceFlush(context.Background()))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
