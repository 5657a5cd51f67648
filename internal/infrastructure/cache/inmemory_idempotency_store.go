package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/provisioner/internal/domain/shared"
)

// DefaultSweepInterval is how often expired delivery ids are purged
const DefaultSweepInterval = 5 * time.Minute

// InMemoryIdempotencyStore remembers processed delivery ids in process
// memory. State is lost on restart and not shared between consumers.
type InMemoryIdempotencyStore struct {
	mu        sync.RWMutex
	expiry    map[string]time.Time
	now       func() time.Time
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// InMemoryOption configures an InMemoryIdempotencyStore
type InMemoryOption func(*InMemoryIdempotencyStore)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryIdempotencyStore) {
		s.now = now
	}
}

// NewInMemoryIdempotencyStore creates the store and starts its sweeper
func NewInMemoryIdempotencyStore(opts ...InMemoryOption) *InMemoryIdempotencyStore {
	return newInMemoryStore(DefaultSweepInterval, opts...)
}

func newInMemoryStore(sweep time.Duration, opts ...InMemoryOption) *InMemoryIdempotencyStore {
	s := &InMemoryIdempotencyStore{
		expiry: make(map[string]time.Time),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.sweepLoop(sweep)
	return s
}

// MarkProcessed records deliveryID until ttl elapses. It returns false when
// the id is already recorded and still live.
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, deliveryID string, ttl time.Duration) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.expiry[deliveryID]; ok && now.Before(until) {
		return false, nil
	}
	s.expiry[deliveryID] = now.Add(ttl)
	return true, nil
}

// IsProcessed reports whether deliveryID is recorded and not expired
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, deliveryID string) (bool, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	until, ok := s.expiry[deliveryID]
	return ok && now.Before(until), nil
}

// Close stops the sweeper. Safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
	return nil
}

// Len returns the number of ids held, expired ones included until swept
func (s *InMemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.expiry)
}

func (s *InMemoryIdempotencyStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryIdempotencyStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, until := range s.expiry {
		if !now.Before(until) {
			delete(s.expiry, id)
		}
	}
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
