package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	domain "github.com/erp/provisioner/internal/domain/provisioning"
	"go.uber.org/zap"
)

// PollerConfig shapes how long the saga waits for provider credentials.
// The zero MaxElapsed means no deadline besides MaxAttempts.
type PollerConfig struct {
	InitialDelay time.Duration
	MaxAttempts  int
	MaxInterval  time.Duration
	MaxElapsed   time.Duration
}

// DefaultPollerConfig waits two seconds and fetches once
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		InitialDelay: 2 * time.Second,
		MaxAttempts:  1,
		MaxInterval:  30 * time.Second,
	}
}

// CredentialPoller waits for the provider to issue account credentials
type CredentialPoller struct {
	provider domain.Provider
	config   PollerConfig
	logger   *zap.Logger
}

// NewCredentialPoller creates a CredentialPoller
func NewCredentialPoller(provider domain.Provider, config PollerConfig, logger *zap.Logger) *CredentialPoller {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialPoller{provider: provider, config: config, logger: logger}
}

// Await sleeps InitialDelay, then fetches credentials until they are issued
// or the attempts run out. Exhaustion yields an error wrapping
// domain.ErrCredentialsPending; cancellation yields ctx.Err().
func (p *CredentialPoller) Await(ctx context.Context, accountUID string) (*domain.Credentials, error) {
	if err := sleep(ctx, p.config.InitialDelay); err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = nonZero(p.config.InitialDelay, 500*time.Millisecond)
	policy.MaxInterval = nonZero(p.config.MaxInterval, policy.MaxInterval)
	policy.MaxElapsedTime = p.config.MaxElapsed
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.config.MaxAttempts-1)), ctx)

	attempt := 0
	creds, err := backoff.RetryNotifyWithData(func() (*domain.Credentials, error) {
		attempt++
		c, err := p.provider.GetCredentials(ctx, accountUID)
		if err != nil {
			return nil, err
		}
		if !c.IsIssued() {
			return nil, domain.ErrCredentialsPending
		}
		return c, nil
	}, b, func(err error, wait time.Duration) {
		p.logger.Debug("credentials not ready",
			zap.String("account_uid", accountUID),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	})
	if err == nil {
		return creds, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, domain.ErrCredentialsPending) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrCredentialsPending, err)
}

// sleep waits d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
