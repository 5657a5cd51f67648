package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/telemetry"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Delivery outcomes reported to the DeliveryRecorder
const (
	OutcomeAcked        = "acked"
	OutcomeFailed       = "failed"
	OutcomeDecodeFailed = "decode_failed"
	OutcomeUnroutable   = "unroutable"
	OutcomeRequeued     = "requeued"
)

// Consumer defaults
const (
	DefaultExchange          = "amq.topic"
	DefaultPrefetch          = 1
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 5 * time.Second
)

// DeliveryRecorder counts settled deliveries
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, routingKey, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDelivery(context.Context, string, string) {}

// ConsumerConfig holds broker consumption settings
type ConsumerConfig struct {
	Exchange          string
	Prefetch          int
	ConsumerTag       string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	// Queues maps routing keys to queue names
	Queues map[string]string
}

func (c *ConsumerConfig) applyDefaults() {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.Prefetch < 1 {
		c.Prefetch = DefaultPrefetch
	}
	if c.ReconnectAttempts < 1 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
}

// Consumer reads deliveries for every registered routing key and handles
// them one at a time. A delivery is acked when its handler succeeds and
// dead-lettered otherwise.
type Consumer struct {
	dial       Dialer
	cfg        ConsumerConfig
	registry   *HandlerRegistry
	serializer *EventSerializer
	logger     *zap.Logger
	recorder   DeliveryRecorder
}

// ConsumerOption configures a Consumer
type ConsumerOption func(*Consumer)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

// WithDeliveryRecorder sets the delivery counter
func WithDeliveryRecorder(r DeliveryRecorder) ConsumerOption {
	return func(c *Consumer) {
		c.recorder = r
	}
}

// NewConsumer creates a consumer. Handlers and event types must be
// registered before Run.
func NewConsumer(dial Dialer, cfg ConsumerConfig, registry *HandlerRegistry, serializer *EventSerializer, opts ...ConsumerOption) *Consumer {
	cfg.applyDefaults()
	c := &Consumer{
		dial:       dial,
		cfg:        cfg,
		registry:   registry,
		serializer: serializer,
		logger:     zap.NewNop(),
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Topology returns the queues the consumer declares
func (c *Consumer) Topology() Topology {
	return NewTopology(c.cfg.Exchange, c.registry.RoutingKeys(), c.cfg.Queues)
}

// Run consumes until ctx is cancelled. A lost connection is re-established
// with exponential backoff; Run fails once the attempts are exhausted. The
// delivery in flight when ctx is cancelled is finished before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	ctx = logger.WithContext(ctx, c.logger)

	for {
		sess, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		lost := c.serve(ctx, sess)
		sess.close()
		if !lost {
			c.logger.Info("consumer stopped")
			return nil
		}
		c.logger.Warn("broker connection lost, reconnecting")
	}
}

// session is one connected channel with its merged delivery stream
type session struct {
	conn       Connection
	ch         Channel
	deliveries <-chan amqp.Delivery
	closed     chan *amqp.Error
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ch != nil {
			_ = s.ch.Close()
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (c *Consumer) connect(ctx context.Context) (*session, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.ReconnectDelay
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.ReconnectAttempts-1)), ctx)

	var sess *session
	op := func() error {
		s, err := c.open(ctx)
		if err != nil {
			return err
		}
		sess = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("broker connection attempt failed",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("connect to broker after %d attempts: %w", c.cfg.ReconnectAttempts, err)
	}
	return sess, nil
}

func (c *Consumer) open(ctx context.Context) (*session, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{conn: conn, done: make(chan struct{})}

	ch, err := conn.Channel()
	if err != nil {
		s.close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	s.ch = ch

	// global: the limit covers every queue consumed on this channel
	if err := ch.Qos(c.cfg.Prefetch, 0, true); err != nil {
		s.close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	topology := c.Topology()
	if err := topology.Declare(ch); err != nil {
		s.close()
		return nil, err
	}

	sources := make([]<-chan amqp.Delivery, 0, len(topology.Bindings))
	for _, b := range topology.Bindings {
		tag := ""
		if c.cfg.ConsumerTag != "" {
			tag = c.cfg.ConsumerTag + "." + b.Queue
		}
		src, err := ch.Consume(b.Queue, tag, false, false, false, false, nil)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("consume %s: %w", b.Queue, err)
		}
		sources = append(sources, src)
		c.logger.Info("listening",
			zap.String("routing_key", b.RoutingKey),
			zap.String("queue", b.Queue),
			zap.String("dead_letter_queue", b.DeadLetterQueue()),
		)
	}

	s.closed = conn.NotifyClose(make(chan *amqp.Error, 1))
	s.deliveries = merge(s.done, sources)
	return s, nil
}

// merge fans several delivery streams into one unbuffered stream so that a
// single loop handles them in order. The result closes once every source is
// closed.
func merge(done <-chan struct{}, sources []<-chan amqp.Delivery) <-chan amqp.Delivery {
	out := make(chan amqp.Delivery)
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range src {
				select {
				case out <- d:
				case <-done:
					return
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// serve handles deliveries until ctx is cancelled (false) or the connection
// is lost (true)
func (c *Consumer) serve(ctx context.Context, s *session) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-s.closed:
			if err != nil {
				c.logger.Warn("broker closed connection", zap.Int("code", err.Code), zap.String("reason", err.Reason))
			}
			return true
		case d, ok := <-s.deliveries:
			if !ok {
				return true
			}
			if ctx.Err() != nil {
				_ = d.Nack(false, true)
				return false
			}
			c.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery normalizes, decodes and dispatches one delivery, then acks
// or dead-letters it
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	if d.MessageId != "" {
		ctx = shared.WithDeliveryID(ctx, d.MessageId)
	}
	ctx = logger.WithRoutingKey(ctx, d.RoutingKey)
	ctx, span := telemetry.StartSpan(ctx, "messaging.delivery",
		telemetry.WithSpanKind(trace.SpanKindConsumer),
		telemetry.WithAttribute(telemetry.SpanAttrRoutingKey, d.RoutingKey),
		telemetry.WithAttribute(telemetry.SpanAttrMessageID, d.MessageId),
	)
	defer span.End()

	log := logger.L(ctx).With(zap.Uint64("delivery_tag", d.DeliveryTag))
	log.Info("delivery received", zap.Bool("redelivered", d.Redelivered))

	handler, ok := c.registry.Handler(d.RoutingKey)
	if !ok {
		log.Error("no handler for routing key", zap.Strings("available", c.registry.RoutingKeys()))
		c.reject(ctx, d, OutcomeUnroutable)
		return
	}

	event, err := c.serializer.Deserialize(d.RoutingKey, Normalize(d.Body))
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("payload could not be decoded", zap.Error(err), zap.ByteString("payload", d.Body))
		c.reject(ctx, d, OutcomeDecodeFailed)
		return
	}
	ctx = logger.WithTenantID(ctx, event.Tenant())
	telemetry.SetAttributes(span, telemetry.SpanAttrTenantID, event.Tenant())
	log = logger.L(ctx).With(zap.Uint64("delivery_tag", d.DeliveryTag))

	if err := dispatch(ctx, handler, event); err != nil {
		telemetry.RecordError(span, err)
		if ctx.Err() != nil {
			log.Warn("delivery interrupted by shutdown, requeueing", zap.Error(err))
			if nackErr := d.Nack(false, true); nackErr != nil {
				log.Error("requeue failed", zap.Error(nackErr))
			}
			c.recorder.RecordDelivery(context.WithoutCancel(ctx), d.RoutingKey, OutcomeRequeued)
			return
		}
		log.Error("handler failed, dead-lettering",
			zap.String("error_code", provisioning.ErrorCode(err)),
			zap.Error(err),
		)
		c.reject(ctx, d, OutcomeFailed)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Error("ack failed", zap.Error(err))
		return
	}
	telemetry.SetOK(span)
	c.recorder.RecordDelivery(ctx, d.RoutingKey, OutcomeAcked)
	log.Info("delivery acked")
}

func (c *Consumer) reject(ctx context.Context, d amqp.Delivery, outcome string) {
	if err := d.Nack(false, false); err != nil {
		logger.L(ctx).Error("nack failed", zap.Error(err))
		return
	}
	c.recorder.RecordDelivery(ctx, d.RoutingKey, outcome)
}

// errHandlerPanic marks a recovered handler panic
var errHandlerPanic = errors.New("handler panicked")

func dispatch(ctx context.Context, h shared.EventHandler, event shared.IntegrationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return h.Handle(ctx, event)
}
