package provisioning

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/erp/provisioner/internal/infrastructure/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProvider is a mock implementation of domain.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CreateCompany(ctx context.Context, form domain.CompanyForm) (*domain.AccountRef, error) {
	args := m.Called(ctx, form)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountRef), args.Error(1)
}

func (m *MockProvider) GetCredentials(ctx context.Context, accountUID string) (*domain.Credentials, error) {
	args := m.Called(ctx, accountUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Credentials), args.Error(1)
}

func (m *MockProvider) CreateClient(ctx context.Context, form domain.ClientForm) (*domain.ClientRef, error) {
	args := m.Called(ctx, form)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ClientRef), args.Error(1)
}

func (m *MockProvider) GetClient(ctx context.Context, clientUID string) (*domain.ClientDetails, error) {
	args := m.Called(ctx, clientUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ClientDetails), args.Error(1)
}

func (m *MockProvider) ListSeries(ctx context.Context) ([]domain.Series, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Series), args.Error(1)
}

func (m *MockProvider) CreateSeries(ctx context.Context, req domain.SeriesRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockProvider) CreateInvoice(ctx context.Context, creds domain.Credentials, clientUID string, details json.RawMessage) (*domain.InvoiceRef, error) {
	args := m.Called(ctx, creds, clientUID, details)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InvoiceRef), args.Error(1)
}

// memoryRepository is an in-memory domain.RecordRepository with the same
// uniqueness rule as the database
type memoryRepository struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*domain.Record
	createErr error
	// racer is stored right before the next Create, as if another
	// process won the insert
	racer *domain.Record
	// created holds each record as it was at insert time
	created []domain.Record
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{records: make(map[uuid.UUID]*domain.Record)}
}

func (r *memoryRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *memoryRepository) find(match func(*domain.Record) bool) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if match(rec) {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryRepository) FindByNaturalKey(_ context.Context, tenantID string, kind domain.Kind, naturalKey string) (*domain.Record, error) {
	key := domain.NormalizeNaturalKey(naturalKey)
	return r.find(func(rec *domain.Record) bool {
		return rec.TenantID == tenantID && rec.Kind == kind && rec.NaturalKey == key
	})
}

func (r *memoryRepository) FindByUpstreamID(_ context.Context, tenantID string, kind domain.Kind, upstreamID string) (*domain.Record, error) {
	return r.find(func(rec *domain.Record) bool {
		return rec.TenantID == tenantID && rec.Kind == kind && rec.UpstreamID == upstreamID
	})
}

func (r *memoryRepository) Create(ctx context.Context, record *domain.Record) error {
	if r.createErr != nil {
		return r.createErr
	}
	if r.racer != nil {
		racer := r.racer
		r.racer = nil
		r.put(racer)
	}
	if _, err := r.FindByNaturalKey(ctx, record.TenantID, record.Kind, record.NaturalKey); err == nil {
		return shared.ErrAlreadyExists
	}
	if record.HasSecrets() && !record.Secrets.Encrypted {
		return domain.ErrPlaintextSecrets
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	r.put(record)
	r.mu.Lock()
	r.created = append(r.created, *record)
	r.mu.Unlock()
	return nil
}

func (r *memoryRepository) UpdateSecrets(_ context.Context, id uuid.UUID, secrets domain.Secrets) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	if !secrets.Encrypted {
		return domain.ErrPlaintextSecrets
	}
	rec.Secrets = &secrets
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepository) put(rec *domain.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *rec
	r.records[rec.ID] = &clone
}

func (r *memoryRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// stubCatalog validates against fixed code lists
type stubCatalog struct {
	codes map[domain.Catalog]map[string]string
	// uses maps a cfdi use to the regimes allowed to use it
	uses map[string][]string
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		codes: map[domain.Catalog]map[string]string{
			domain.CatalogTaxRegimes: {
				"601": "General de Ley Personas Morales",
				"603": "Personas Morales con Fines no Lucrativos",
				"612": "Personas Físicas con Actividades Empresariales y Profesionales",
			},
			domain.CatalogCFDIUses: {
				"G01": "Adquisición de mercancías",
				"G03": "Gastos en general",
			},
			domain.CatalogCountries: {
				"MEX": "México",
				"USA": "Estados Unidos",
			},
		},
		uses: map[string][]string{
			"G01": {"601", "612"},
		},
	}
}

func (c *stubCatalog) Validate(_ context.Context, code string, catalog domain.Catalog) domain.ValidationResult {
	name, ok := c.codes[catalog][strings.ToUpper(code)]
	if !ok {
		return domain.ValidationResult{Error: "\"" + code + "\" is not a valid " + string(catalog) + " code"}
	}
	return domain.ValidationResult{Valid: true, Name: name}
}

func (c *stubCatalog) ValidateCFDIUse(ctx context.Context, code, regime string) domain.ValidationResult {
	result := c.Validate(ctx, code, domain.CatalogCFDIUses)
	if !result.Valid {
		return result
	}
	allowed, restricted := c.uses[code]
	if !restricted {
		return result
	}
	for _, r := range allowed {
		if r == regime {
			return result
		}
	}
	return domain.ValidationResult{Error: "cfdi use " + code + " is not allowed for tax regime " + regime}
}

type recordedRun struct {
	kind  string
	state string
}

type fakeSagaRecorder struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (r *fakeSagaRecorder) RecordSagaRun(_ context.Context, kind, state string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recordedRun{kind, state})
}

// sagaFixture wires a saga over mocks with every delay disabled
type sagaFixture struct {
	provider *MockProvider
	repo     *memoryRepository
	catalog  *stubCatalog
	cipher   *crypto.SecretCipher
	recorder *fakeSagaRecorder
	saga     *Saga
}

func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()
	cipher, err := crypto.NewSecretCipher("test-passphrase-0123456789")
	require.NoError(t, err)

	f := &sagaFixture{
		provider: new(MockProvider),
		repo:     newMemoryRepository(),
		catalog:  newStubCatalog(),
		cipher:   cipher,
		recorder: &fakeSagaRecorder{},
	}
	f.saga = NewSaga(f.provider, f.repo, f.catalog, f.cipher, Config{PollAttempts: 1}, WithRecorder(f.recorder))
	return f
}

func acmeCompany() *domain.CompanyCreatedEvent {
	e := &domain.CompanyCreatedEvent{
		TenantID:     "T1",
		CompanyID:    "C1",
		BusinessName: "Acme",
		RFC:          "ABC010101AAA",
		FiscalData:   domain.FiscalData{TaxRegime: "601", ZipCode: "01000", Street: "Reforma", City: "CDMX"},
		Contact:      domain.CompanyContact{Name: "Ana", Phone: "5555555555"},
		Emails:       domain.CompanyEmails{Contact: "hello@acme.mx"},
	}
	e.ApplyDefaults()
	return e
}

func publicoClient() *domain.ClientCreatedEvent {
	e := &domain.ClientCreatedEvent{
		TenantID:     "T1",
		CompanyID:    "C1",
		RFC:          "xaxx010101000",
		BusinessName: "Publico en General",
		Address:      domain.ClientAddress{ZipCode: "01000", City: "CDMX"},
		Contact:      domain.ClientContact{Name: "Luis", Email: "luis@example.mx"},
	}
	e.ApplyDefaults()
	return e
}
