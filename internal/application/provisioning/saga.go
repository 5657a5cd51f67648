package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds the saga delays and the credential poll policy
type Config struct {
	CredentialDelay    time.Duration
	ReconcileDelay     time.Duration
	ClientConfirmDelay time.Duration
	SeriesSettleDelay  time.Duration
	PollAttempts       int
	PollMaxInterval    time.Duration
	PollDeadline       time.Duration
}

// DefaultConfig returns the production delays
func DefaultConfig() Config {
	return Config{
		CredentialDelay:    2 * time.Second,
		ReconcileDelay:     5 * time.Second,
		ClientConfirmDelay: 2 * time.Second,
		SeriesSettleDelay:  time.Second,
		PollAttempts:       1,
		PollMaxInterval:    30 * time.Second,
	}
}

// SagaRecorder receives one observation per finished run
type SagaRecorder interface {
	RecordSagaRun(ctx context.Context, kind, state string, elapsed time.Duration)
}

type nopSagaRecorder struct{}

func (nopSagaRecorder) RecordSagaRun(context.Context, string, string, time.Duration) {}

// Saga provisions one company or client per run: validate, check the
// registry, create in the provider, wait for credentials, persist and
// reconcile secrets
type Saga struct {
	provider domain.Provider
	repo     domain.RecordRepository
	catalog  domain.CatalogValidator
	cipher   domain.SecretCipher
	poller   *CredentialPoller
	config   Config
	logger   *zap.Logger
	recorder SagaRecorder
}

// Option configures a Saga
type Option func(*Saga)

// WithLogger sets the saga logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Saga) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder sets where run outcomes are reported
func WithRecorder(r SagaRecorder) Option {
	return func(s *Saga) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewSaga creates a Saga
func NewSaga(
	provider domain.Provider,
	repo domain.RecordRepository,
	catalog domain.CatalogValidator,
	cipher domain.SecretCipher,
	config Config,
	opts ...Option,
) *Saga {
	s := &Saga{
		provider: provider,
		repo:     repo,
		catalog:  catalog,
		cipher:   cipher,
		config:   config,
		logger:   zap.NewNop(),
		recorder: nopSagaRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.poller = NewCredentialPoller(provider, PollerConfig{
		InitialDelay: config.CredentialDelay,
		MaxAttempts:  config.PollAttempts,
		MaxInterval:  config.PollMaxInterval,
		MaxElapsed:   config.PollDeadline,
	}, s.logger)
	return s
}

// ProvisionCompany runs the saga for a company-created event
func (s *Saga) ProvisionCompany(ctx context.Context, event *domain.CompanyCreatedEvent) *Result {
	return s.run(ctx, &companyDescriptor{event: event})
}

// ProvisionClient runs the saga for a client-created event
func (s *Saga) ProvisionClient(ctx context.Context, event *domain.ClientCreatedEvent) *Result {
	return s.run(ctx, &clientDescriptor{event: event})
}

func (s *Saga) run(ctx context.Context, d descriptor) *Result {
	start := time.Now()
	kind := d.kind().String()

	ctx = logger.WithContext(ctx, s.logger)
	ctx = logger.WithTenantID(ctx, d.tenantID())
	ctx, span := telemetry.StartSpan(ctx, "provisioning."+kind+".run",
		telemetry.WithSpanKind(trace.SpanKindInternal),
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, d.tenantID()),
		telemetry.WithAttribute(telemetry.SpanAttrKind, kind),
		telemetry.WithAttribute(telemetry.SpanAttrNaturalKey, d.naturalKey()),
	)
	defer span.End()

	res := s.execute(ctx, d)

	telemetry.SetAttributes(span, telemetry.SpanAttrState, res.State.String())
	if res.ProviderUID != "" {
		telemetry.SetAttributes(span, telemetry.SpanAttrProviderUID, res.ProviderUID)
	}
	if res.RecordID != uuid.Nil {
		telemetry.SetAttributes(span, telemetry.SpanAttrRecordID, res.RecordID.String())
	}
	log := logger.L(ctx).With(
		zap.String("kind", kind),
		zap.String("natural_key", d.naturalKey()),
		zap.String("state", res.State.String()),
		zap.Duration("elapsed", time.Since(start)),
	)
	if res.Success {
		telemetry.SetOK(span)
		log.Info("provisioning finished",
			zap.String("record_id", res.RecordID.String()),
			zap.String("provider_uid", res.ProviderUID),
			zap.Bool("credentials_pending", res.CredentialsPending),
		)
	} else {
		telemetry.RecordError(span, res.Err)
		log.Error("provisioning failed",
			zap.String("error_code", domain.ErrorCode(res.Err)),
			zap.Error(res.Err),
		)
	}
	s.recorder.RecordSagaRun(context.WithoutCancel(ctx), kind, res.State.String(), time.Since(start))
	return res
}

func (s *Saga) execute(ctx context.Context, d descriptor) *Result {
	span := trace.SpanFromContext(ctx)
	enter := func(state State) {
		telemetry.AddEvent(span, "saga.state", telemetry.SpanAttrState, state.String())
		logger.L(ctx).Debug("saga state", zap.String("state", state.String()))
	}

	enter(StateReceived)
	if err := d.validate(ctx, s.catalog); err != nil {
		return failed(StateRejected, err)
	}

	enter(StateIdempotencyCheck)
	existing, err := s.repo.FindByNaturalKey(ctx, d.tenantID(), d.kind(), d.naturalKey())
	switch {
	case err == nil:
		return succeeded(StateAlreadyProvisioned, existing.ID, existing.ProviderUID)
	case !errors.Is(err, shared.ErrNotFound):
		return failed(StateFailed, fmt.Errorf("look up %s %s: %w", d.kind(), d.naturalKey(), err))
	}

	enter(StateExternalCreateRequested)
	providerID, uid, err := d.create(ctx, s.provider)
	if err != nil {
		return failed(StateFailed, err)
	}
	ctx = logger.WithContext(ctx, s.logger.With(zap.String("provider_uid", uid)))

	enter(StateSubResourceProvisioning)
	subs, err := d.subResources(ctx, s)
	if err != nil {
		res := failed(StateFailed, err)
		res.ProviderUID = uid
		return res
	}

	enter(StateCredentialWait)
	creds, err := d.awaitCredentials(ctx, s, uid)
	if err != nil {
		if ctx.Err() != nil {
			res := failed(StateFailed, err)
			res.ProviderUID = uid
			return res
		}
		logger.L(ctx).Warn("credentials pending, persisting without secrets", zap.Error(err))
	}

	enter(StatePersisted)
	rec, err := d.record(providerID, uid)
	if err != nil {
		return failed(StateFailed, err)
	}
	if subs != nil {
		rec.SubResources = subs
	}
	if creds.IsIssued() {
		secrets, err := encryptCredentials(s.cipher, creds)
		if err != nil {
			return failed(StateFailed, err)
		}
		if err := rec.AttachSecrets(secrets); err != nil {
			return failed(StateFailed, err)
		}
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return s.lostRace(ctx, d, uid)
		}
		res := failed(StateFailed, fmt.Errorf("persist %s record: %w", d.kind(), err))
		res.ProviderUID = uid
		return res
	}

	res := succeeded(StateDone, rec.ID, uid)
	if d.issuesCredentials() && !rec.HasSecrets() {
		enter(StateCredentialReconcile)
		if err := s.reconcile(ctx, rec); err != nil {
			logger.L(ctx).Error("credential reconciliation failed",
				zap.String("error_code", domain.ErrorCode(err)),
				zap.Error(err),
			)
			res.CredentialsPending = true
		}
	}
	enter(StateDone)
	return res
}

// lostRace handles an insert rejected by the unique index: another run
// stored the record first, which counts as already provisioned
func (s *Saga) lostRace(ctx context.Context, d descriptor, uid string) *Result {
	logger.L(ctx).Warn("record stored concurrently, keeping the existing one",
		zap.String("orphan_provider_uid", uid),
	)
	existing, err := s.repo.FindByNaturalKey(ctx, d.tenantID(), d.kind(), d.naturalKey())
	if err != nil {
		return succeeded(StateAlreadyProvisioned, uuid.Nil, uid)
	}
	return succeeded(StateAlreadyProvisioned, existing.ID, existing.ProviderUID)
}

// reconcile fetches credentials again after ReconcileDelay and writes them
// into the stored record
func (s *Saga) reconcile(ctx context.Context, rec *domain.Record) error {
	fail := func(err error) error {
		return &domain.ReconciliationError{RecordID: rec.ID.String(), Err: err}
	}

	if err := sleep(ctx, s.config.ReconcileDelay); err != nil {
		return fail(err)
	}
	creds, err := s.provider.GetCredentials(ctx, rec.ProviderUID)
	if err != nil {
		return fail(err)
	}
	if !creds.IsIssued() {
		return fail(domain.ErrCredentialsPending)
	}
	secrets, err := encryptCredentials(s.cipher, creds)
	if err != nil {
		return fail(err)
	}
	if err := s.repo.UpdateSecrets(ctx, rec.ID, secrets); err != nil {
		return fail(err)
	}
	logger.L(ctx).Info("credentials reconciled", zap.String("record_id", rec.ID.String()))
	return nil
}

// defaultSeries picks the provider's first invoice series, or its first
// series of any type
func (s *Saga) defaultSeries(ctx context.Context) (domain.SubResource, error) {
	listed, err := s.provider.ListSeries(ctx)
	if err != nil {
		return domain.SubResource{}, err
	}
	if len(listed) == 0 {
		return domain.SubResource{}, &domain.ProviderError{Op: "list_series", Err: errors.New("provider has no series to adopt as default")}
	}

	chosen := listed[0]
	for _, series := range listed {
		if strings.EqualFold(series.Type, domain.DefaultSeriesType) {
			chosen = series
			break
		}
	}
	return domain.SubResource{
		ProviderID:  chosen.ID,
		Name:        chosen.Name,
		Type:        chosen.Type,
		Description: chosen.Description,
		Status:      chosen.Status,
	}, nil
}

func encryptCredentials(cipher domain.SecretCipher, creds *domain.Credentials) (domain.Secrets, error) {
	apiKey, err := cipher.Encrypt(creds.APIKey)
	if err != nil {
		return domain.Secrets{}, fmt.Errorf("encrypt api key: %w", err)
	}
	secretKey, err := cipher.Encrypt(creds.SecretKey)
	if err != nil {
		return domain.Secrets{}, fmt.Errorf("encrypt secret key: %w", err)
	}
	return domain.Secrets{APIKey: apiKey, SecretKey: secretKey, Encrypted: true}, nil
}

func decryptSecrets(cipher domain.SecretCipher, s *domain.Secrets) (domain.Secrets, error) {
	if !s.Encrypted {
		return *s, nil
	}
	apiKey, err := cipher.Decrypt(s.APIKey)
	if err != nil {
		return domain.Secrets{}, fmt.Errorf("decrypt api key: %w", err)
	}
	secretKey, err := cipher.Decrypt(s.SecretKey)
	if err != nil {
		return domain.Secrets{}, fmt.Errorf("decrypt secret key: %w", err)
	}
	return domain.Secrets{APIKey: apiKey, SecretKey: secretKey}, nil
}
