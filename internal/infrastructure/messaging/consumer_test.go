package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clientPayload = `{"tenant_id":"T1","rfc":"ABC010101AAA","business_name":"Acme"}`

type recordedOutcome struct {
	routingKey string
	outcome    string
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (r *fakeRecorder) RecordDelivery(_ context.Context, routingKey, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recordedOutcome{routingKey, outcome})
}

func (r *fakeRecorder) last() recordedOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return recordedOutcome{}
	}
	return r.outcomes[len(r.outcomes)-1]
}

func newTestConsumer(t *testing.T, dial Dialer, fn func(context.Context, shared.IntegrationEvent) error) (*Consumer, *fakeRecorder) {
	t.Helper()
	registry := NewHandlerRegistry()
	registry.Register(&handlerFunc{types: []string{provisioning.EventTypeClientCreated}, fn: fn})
	recorder := &fakeRecorder{}
	c := NewConsumer(dial, ConsumerConfig{ReconnectDelay: time.Millisecond, ReconnectAttempts: 3}, registry, newSerializer(),
		WithDeliveryRecorder(recorder))
	return c, recorder
}

func TestConsumer_HandleDelivery_Ack(t *testing.T) {
	var got shared.IntegrationEvent
	var gotID string
	c, rec := newTestConsumer(t, nil, func(ctx context.Context, e shared.IntegrationEvent) error {
		got = e
		gotID = shared.DeliveryID(ctx)
		return nil
	})

	ack := newFakeAcknowledger()
	d := delivery(ack, 7, provisioning.EventTypeClientCreated, clientPayload)
	d.MessageId = "msg-7"
	c.HandleDelivery(context.Background(), d)

	acked, nacked, _ := ack.snapshot()
	assert.Equal(t, []uint64{7}, acked)
	assert.Empty(t, nacked)
	require.NotNil(t, got)
	assert.Equal(t, "T1", got.Tenant())
	assert.Equal(t, "msg-7", gotID)
	assert.Equal(t, recordedOutcome{provisioning.EventTypeClientCreated, OutcomeAcked}, rec.last())
}

func TestConsumer_HandleDelivery_DeadLetters(t *testing.T) {
	tests := []struct {
		name       string
		routingKey string
		body       string
		handlerErr error
		panics     bool
		wantCalled bool
		outcome    string
	}{
		{"undecodable payload", provisioning.EventTypeClientCreated, `{"tenant_id":`, nil, false, false, OutcomeDecodeFailed},
		{"unknown routing key", "vendor.created", clientPayload, nil, false, false, OutcomeUnroutable},
		{"handler error", provisioning.EventTypeClientCreated, clientPayload, &provisioning.ProviderError{Op: "create_client", StatusCode: 500, Err: errors.New("boom")}, false, true, OutcomeFailed},
		{"handler panic", provisioning.EventTypeClientCreated, clientPayload, nil, true, true, OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			c, rec := newTestConsumer(t, nil, func(context.Context, shared.IntegrationEvent) error {
				called = true
				if tt.panics {
					panic("nil map")
				}
				return tt.handlerErr
			})

			ack := newFakeAcknowledger()
			c.HandleDelivery(context.Background(), delivery(ack, 3, tt.routingKey, tt.body))

			acked, nacked, requeue := ack.snapshot()
			assert.Empty(t, acked)
			assert.Equal(t, []uint64{3}, nacked)
			assert.Equal(t, []bool{false}, requeue, "failed deliveries go to the dead-letter queue")
			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.outcome, rec.last().outcome)
		})
	}
}

func TestConsumer_HandleDelivery_RequeuesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, rec := newTestConsumer(t, nil, func(ctx context.Context, _ shared.IntegrationEvent) error {
		cancel()
		return ctx.Err()
	})

	ack := newFakeAcknowledger()
	c.HandleDelivery(ctx, delivery(ack, 9, provisioning.EventTypeClientCreated, clientPayload))

	_, nacked, requeue := ack.snapshot()
	assert.Equal(t, []uint64{9}, nacked)
	assert.Equal(t, []bool{true}, requeue)
	assert.Equal(t, OutcomeRequeued, rec.last().outcome)
}

func TestConsumer_Run_ConsumesUntilCancelled(t *testing.T) {
	ch := newFakeChannel()
	conn := &fakeConnection{ch: ch}
	dial := func(context.Context) (Connection, error) { return conn, nil }

	handled := make(chan struct{}, 1)
	c, _ := newTestConsumer(t, dial, func(context.Context, shared.IntegrationEvent) error {
		handled <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return ch.source("client_created_queue") != nil }, time.Second, time.Millisecond)
	ack := newFakeAcknowledger()
	ch.source("client_created_queue") <- delivery(ack, 1, provisioning.EventTypeClientCreated, clientPayload)

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("delivery was not handled")
	}
	select {
	case tag := <-ack.settled:
		assert.Equal(t, uint64(1), tag)
	case <-time.After(time.Second):
		t.Fatal("delivery was not settled")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 1, ch.prefetch)
	assert.True(t, ch.qosGlobal)
	assert.Contains(t, ch.queues, "client_created_queue_dlq")
	assert.True(t, conn.closed)
}

func TestConsumer_Run_Reconnects(t *testing.T) {
	var mu sync.Mutex
	var channels []*fakeChannel
	dial := func(context.Context) (Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		ch := newFakeChannel()
		channels = append(channels, ch)
		return &fakeConnection{ch: ch}, nil
	}
	channel := func(i int) *fakeChannel {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(channels) {
			return nil
		}
		return channels[i]
	}
	ready := func(i int) func() bool {
		return func() bool {
			ch := channel(i)
			return ch != nil && ch.source("client_created_queue") != nil
		}
	}

	c, _ := newTestConsumer(t, dial, func(context.Context, shared.IntegrationEvent) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, ready(0), time.Second, time.Millisecond)
	channel(0).dropAll()
	require.Eventually(t, ready(1), time.Second, time.Millisecond)

	ack := newFakeAcknowledger()
	channel(1).source("client_created_queue") <- delivery(ack, 2, provisioning.EventTypeClientCreated, clientPayload)
	select {
	case <-ack.settled:
	case <-time.After(time.Second):
		t.Fatal("delivery after reconnect was not settled")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_Run_GivesUpAfterAttempts(t *testing.T) {
	var dials atomic.Int32
	dial := func(context.Context) (Connection, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	c, _ := newTestConsumer(t, dial, nil)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), dials.Load())
}
