package shared

import (
	"context"
	"time"
)

// IdempotencyStore records broker deliveries that were already handled so a
// redelivered message with the same id is acknowledged without re-running
// its handler
type IdempotencyStore interface {
	// MarkProcessed marks a delivery as processed with a TTL
	// Returns true if the delivery was newly marked, false if it was already processed
	MarkProcessed(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a delivery has already been processed
	IsProcessed(ctx context.Context, deliveryID string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for delivery deduplication
type IdempotencyConfig struct {
	// TTL is how long a processed delivery id is remembered
	TTL time.Duration

	// Enabled determines whether deduplication is enabled
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
