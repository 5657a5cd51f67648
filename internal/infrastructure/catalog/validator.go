// Package catalog validates fiscal codes against provider-published catalogs.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"go.uber.org/zap"
)

// DefaultTTL is how long a fetched catalog is trusted
const DefaultTTL = 24 * time.Hour

// entry is one cached catalog. It is replaced as a whole on refresh and never
// mutated in place.
type entry struct {
	byKey     map[string]provisioning.CatalogEntry
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return e == nil || !now.Before(e.expiresAt)
}

// Validator is a read-through cache over a CatalogSource. Each instance owns
// its cache.
type Validator struct {
	source provisioning.CatalogSource
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[provisioning.Catalog]*entry
}

// Option configures a Validator
type Option func(*Validator)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(v *Validator) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a validator reading from source
func NewValidator(source provisioning.CatalogSource, opts ...Option) *Validator {
	v := &Validator{
		source:  source,
		ttl:     DefaultTTL,
		logger:  zap.NewNop(),
		now:     time.Now,
		entries: make(map[provisioning.Catalog]*entry),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate reports whether code exists in catalog. A catalog that cannot be
// fetched makes every code invalid.
func (v *Validator) Validate(ctx context.Context, code string, catalog provisioning.Catalog) provisioning.ValidationResult {
	code = strings.TrimSpace(code)
	if code == "" {
		return invalid("%s code is empty", catalog)
	}

	cached, err := v.load(ctx, catalog)
	if err != nil {
		return invalid("could not load %s catalog: %v", catalog, err)
	}

	e, ok := cached.byKey[strings.ToUpper(code)]
	if !ok {
		return invalid("%q is not a valid %s code", code, catalog)
	}
	return provisioning.ValidationResult{Valid: true, Name: e.Name}
}

// ValidateCFDIUse checks the usage code and, when regime is given, that the
// usage is allowed for that regime
func (v *Validator) ValidateCFDIUse(ctx context.Context, code, regime string) provisioning.ValidationResult {
	result := v.Validate(ctx, code, provisioning.CatalogCFDIUses)
	if !result.Valid || regime == "" {
		return result
	}

	cached, err := v.load(ctx, provisioning.CatalogCFDIUses)
	if err != nil {
		return invalid("could not load %s catalog: %v", provisioning.CatalogCFDIUses, err)
	}
	e := cached.byKey[strings.ToUpper(strings.TrimSpace(code))]
	if len(e.Regimes) == 0 {
		return result
	}
	for _, allowed := range e.Regimes {
		if allowed == regime {
			return result
		}
	}
	return invalid("cfdi use %q is not allowed for tax regime %q", code, regime)
}

// Name returns the display name of code in catalog, or "" when the code is
// unknown or the catalog is unavailable
func (v *Validator) Name(ctx context.Context, code string, catalog provisioning.Catalog) string {
	return v.Validate(ctx, code, catalog).Name
}

// Invalidate drops a cached catalog so the next lookup refetches it
func (v *Validator) Invalidate(catalog provisioning.Catalog) {
	v.mu.Lock()
	delete(v.entries, catalog)
	v.mu.Unlock()
}

func (v *Validator) load(ctx context.Context, catalog provisioning.Catalog) (*entry, error) {
	now := v.now()

	v.mu.RLock()
	cached := v.entries[catalog]
	v.mu.RUnlock()
	if !cached.expired(now) {
		return cached, nil
	}

	entries, err := v.source.FetchCatalog(ctx, catalog)
	if err != nil {
		v.logger.Warn("catalog fetch failed",
			zap.String("catalog", string(catalog)),
			zap.Error(err),
		)
		return nil, err
	}

	fresh := &entry{
		byKey:     make(map[string]provisioning.CatalogEntry, len(entries)),
		expiresAt: now.Add(v.ttl),
	}
	for _, e := range entries {
		fresh.byKey[strings.ToUpper(strings.TrimSpace(e.Key))] = e
	}

	v.mu.Lock()
	v.entries[catalog] = fresh
	v.mu.Unlock()

	v.logger.Debug("catalog refreshed",
		zap.String("catalog", string(catalog)),
		zap.Int("entries", len(entries)),
	)
	return fresh, nil
}

func invalid(format string, args ...any) provisioning.ValidationResult {
	return provisioning.ValidationResult{Valid: false, Error: fmt.Sprintf(format, args...)}
}

var _ provisioning.CatalogValidator = (*Validator)(nil)
