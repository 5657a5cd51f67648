package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces delivery ids in Redis
const DefaultKeyPrefix = "provisioner:delivery:"

// pingTimeout bounds the connectivity check done at construction
const pingTimeout = 5 * time.Second

// RedisIdempotencyStore shares processed delivery ids between consumer
// processes through Redis keys with a TTL
type RedisIdempotencyStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisIdempotencyStore connects to addr and verifies the connection
func NewRedisIdempotencyStore(ctx context.Context, addr, password string, db int) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return NewRedisIdempotencyStoreWithClient(client, ""), nil
}

// NewRedisIdempotencyStoreWithClient wraps an existing client. An empty
// prefix selects DefaultKeyPrefix.
func NewRedisIdempotencyStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed sets the delivery key with SETNX so concurrent consumers
// agree on a single winner
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(deliveryID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark delivery %s processed: %w", deliveryID, err)
	}
	return ok, nil
}

// IsProcessed reports whether the delivery key exists
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, deliveryID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(deliveryID)).Result()
	if err != nil {
		return false, fmt.Errorf("check delivery %s: %w", deliveryID, err)
	}
	return n > 0, nil
}

// Close closes the Redis client
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}

func (s *RedisIdempotencyStore) key(deliveryID string) string {
	return s.keyPrefix + deliveryID
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
