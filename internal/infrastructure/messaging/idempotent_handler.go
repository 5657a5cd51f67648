package messaging

import (
	"context"
	"sync/atomic"

	"github.com/erp/provisioner/internal/domain/shared"
	"go.uber.org/zap"
)

// IdempotencyStats counts the decisions of an IdempotentHandler
type IdempotencyStats struct {
	Processed  atomic.Int64
	Duplicates atomic.Int64
	Failed     atomic.Int64
}

// IdempotentHandler skips deliveries whose broker message id was already
// handled successfully. Deliveries without a message id always run.
type IdempotentHandler struct {
	handler shared.EventHandler
	store   shared.IdempotencyStore
	config  shared.IdempotencyConfig
	logger  *zap.Logger
	stats   *IdempotencyStats
}

// NewIdempotentHandler wraps handler
func NewIdempotentHandler(handler shared.EventHandler, store shared.IdempotencyStore, config shared.IdempotencyConfig, logger *zap.Logger) *IdempotentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotentHandler{
		handler: handler,
		store:   store,
		config:  config,
		logger:  logger,
		stats:   &IdempotencyStats{},
	}
}

// EventTypes returns the wrapped handler's event types
func (h *IdempotentHandler) EventTypes() []string {
	return h.handler.EventTypes()
}

// Handle runs the wrapped handler unless the delivery was already processed.
// The id is recorded only after success so a redelivery following a crash or
// a failure still runs.
func (h *IdempotentHandler) Handle(ctx context.Context, event shared.IntegrationEvent) error {
	deliveryID := shared.DeliveryID(ctx)
	if !h.config.Enabled || deliveryID == "" {
		return h.handler.Handle(ctx, event)
	}

	seen, err := h.store.IsProcessed(ctx, deliveryID)
	switch {
	case err != nil:
		h.logger.Warn("delivery dedup check failed, processing anyway",
			zap.String("delivery_id", deliveryID),
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
	case seen:
		h.stats.Duplicates.Add(1)
		h.logger.Info("delivery already processed, skipping",
			zap.String("delivery_id", deliveryID),
			zap.String("event_type", event.EventType()),
		)
		return nil
	}

	if err := h.handler.Handle(ctx, event); err != nil {
		h.stats.Failed.Add(1)
		return err
	}
	h.stats.Processed.Add(1)

	if _, err := h.store.MarkProcessed(ctx, deliveryID, h.config.TTL); err != nil {
		h.logger.Warn("failed to record processed delivery",
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
	}
	return nil
}

// Stats returns the live counters
func (h *IdempotentHandler) Stats() *IdempotencyStats {
	return h.stats
}

var _ shared.EventHandler = (*IdempotentHandler)(nil)
