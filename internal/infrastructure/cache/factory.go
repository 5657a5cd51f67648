// Package cache holds the delivery deduplication stores used by the consumer.
package cache

import (
	"context"
	"fmt"

	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/erp/provisioner/internal/infrastructure/config"
	"go.uber.org/zap"
)

// IdempotencyStoreFactory picks a store for delivery deduplication
type IdempotencyStoreFactory struct {
	redis         config.RedisConfig
	logger        *zap.Logger
	allowFallback bool
}

// FactoryOption configures the factory
type FactoryOption func(*IdempotencyStoreFactory)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to the
// in-memory store. Enabled by default.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.allowFallback = allow
	}
}

// NewIdempotencyStoreFactory creates a factory for the given Redis settings
func NewIdempotencyStoreFactory(cfg config.RedisConfig, opts ...FactoryOption) *IdempotencyStoreFactory {
	f := &IdempotencyStoreFactory{
		redis:         cfg,
		logger:        zap.NewNop(),
		allowFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns a Redis store, or the in-memory store when Redis is
// not configured or unreachable and fallback is allowed
func (f *IdempotencyStoreFactory) CreateStore(ctx context.Context) (shared.IdempotencyStore, error) {
	if f.redis.Host == "" {
		f.logger.Info("redis not configured, using in-memory delivery store")
		return NewInMemoryIdempotencyStore(), nil
	}

	store, err := NewRedisIdempotencyStore(ctx, f.redis.Addr(), f.redis.Password, f.redis.DB)
	if err == nil {
		f.logger.Info("using redis delivery store", zap.String("addr", f.redis.Addr()))
		return store, nil
	}

	if !f.allowFallback {
		return nil, fmt.Errorf("redis required for delivery deduplication: %w", err)
	}

	f.logger.Warn("redis unavailable, falling back to in-memory delivery store; "+
		"redeliveries handled by other consumers will not be deduplicated",
		zap.Error(err),
	)
	return NewInMemoryIdempotencyStore(), nil
}
