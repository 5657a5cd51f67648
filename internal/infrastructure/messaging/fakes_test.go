package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/erp/provisioner/internal/domain/shared"
	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeAcknowledger records how deliveries were settled
type fakeAcknowledger struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
	settled chan uint64
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: make(chan uint64, 16)}
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	a.acked = append(a.acked, tag)
	a.mu.Unlock()
	a.settled <- tag
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	a.mu.Unlock()
	a.settled <- tag
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) snapshot() (acked, nacked []uint64, requeue []bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acked...), append([]uint64(nil), a.nacked...), append([]bool(nil), a.requeue...)
}

func delivery(ack amqp.Acknowledger, tag uint64, routingKey, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		RoutingKey:   routingKey,
		Body:         []byte(body),
	}
}

// handlerFunc adapts a function to shared.EventHandler
type handlerFunc struct {
	types []string
	fn    func(ctx context.Context, e shared.IntegrationEvent) error
}

func (h *handlerFunc) Handle(ctx context.Context, e shared.IntegrationEvent) error {
	return h.fn(ctx, e)
}

func (h *handlerFunc) EventTypes() []string { return h.types }

// fakeChannel records topology calls and serves deliveries from per-queue
// channels owned by the test
type fakeChannel struct {
	mu         sync.Mutex
	prefetch   int
	qosGlobal  bool
	exchanges  []string
	queues     map[string]amqp.Table
	bindings   map[string]string
	sources    map[string]chan amqp.Delivery
	consumeErr error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		queues:   make(map[string]amqp.Table),
		bindings: make(map[string]string),
		sources:  make(map[string]chan amqp.Delivery),
	}
}

func (c *fakeChannel) Qos(prefetchCount, _ int, global bool) error {
	c.prefetch = prefetchCount
	c.qosGlobal = global
	return nil
}

func (c *fakeChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	c.exchanges = append(c.exchanges, name)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queues must be durable")
	}
	c.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, _ string, _ bool, _ amqp.Table) error {
	c.bindings[key] = name
	return nil
}

func (c *fakeChannel) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	if autoAck {
		return nil, errors.New("consumer must ack manually")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	src := make(chan amqp.Delivery, 4)
	c.sources[queue] = src
	return src, nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) source(queue string) chan amqp.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sources[queue]
}

// dropAll closes every delivery source, as the client library does when the
// connection dies
func (c *fakeChannel) dropAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, src := range c.sources {
		close(src)
	}
}

type fakeConnection struct {
	ch     *fakeChannel
	closed bool
}

func (c *fakeConnection) Channel() (Channel, error) { return c.ch, nil }

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error { return receiver }

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}
