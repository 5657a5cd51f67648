package logger

import (
	"context"
	"testing"

	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := zap.NewExample()
	assert.Same(t, l, FromContext(WithContext(context.Background(), l)))
}

func TestContextValues(t *testing.T) {
	ctx := WithTenantID(context.Background(), "T1")
	ctx = WithRoutingKey(ctx, "company.created")

	assert.Equal(t, "T1", GetTenantID(ctx))
	assert.Equal(t, "company.created", GetRoutingKey(ctx))
	assert.Empty(t, GetTenantID(context.Background()))
	assert.Empty(t, GetRoutingKey(context.Background()))
}

func TestL_AddsCorrelationFields(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)

	ctx := WithContext(context.Background(), zap.New(core))
	ctx = shared.WithDeliveryID(ctx, "msg-42")
	ctx = WithRoutingKey(ctx, "client.created")
	ctx = WithTenantID(ctx, "T1")

	L(ctx).With(zap.String("step", "persist")).Info("stored")

	logs := recorded.All()
	require.Len(t, logs, 1)
	fields := logs[0].ContextMap()
	assert.Equal(t, "msg-42", fields["delivery_id"])
	assert.Equal(t, "client.created", fields["routing_key"])
	assert.Equal(t, "T1", fields["tenant_id"])
	assert.Equal(t, "persist", fields["step"])
	assert.NotContains(t, fields, "trace_id")
}

func TestL_AddsTraceFields(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithContext(ctx, zap.New(core))

	L(ctx).Warn("traced")

	logs := recorded.All()
	require.Len(t, logs, 1)
	assert.Equal(t, span.SpanContext().TraceID().String(), logs[0].ContextMap()["trace_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}
