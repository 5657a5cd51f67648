package provisioning

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// unexpectedEvent reports an event routed to the wrong handler
func unexpectedEvent(want string, got shared.IntegrationEvent) error {
	return fmt.Errorf("expected %s event, got %T", want, got)
}

// CompanyHandler provisions companies from company.created events
type CompanyHandler struct {
	saga *Saga
}

// NewCompanyHandler creates a CompanyHandler
func NewCompanyHandler(saga *Saga) *CompanyHandler {
	return &CompanyHandler{saga: saga}
}

// Handle implements shared.EventHandler
func (h *CompanyHandler) Handle(ctx context.Context, event shared.IntegrationEvent) error {
	e, ok := event.(*domain.CompanyCreatedEvent)
	if !ok {
		return unexpectedEvent(domain.EventTypeCompanyCreated, event)
	}
	return h.saga.ProvisionCompany(ctx, e).Err
}

// EventTypes implements shared.EventHandler
func (h *CompanyHandler) EventTypes() []string {
	return []string{domain.EventTypeCompanyCreated}
}

// ClientHandler provisions clients from client.created events
type ClientHandler struct {
	saga *Saga
}

// NewClientHandler creates a ClientHandler
func NewClientHandler(saga *Saga) *ClientHandler {
	return &ClientHandler{saga: saga}
}

// Handle implements shared.EventHandler
func (h *ClientHandler) Handle(ctx context.Context, event shared.IntegrationEvent) error {
	e, ok := event.(*domain.ClientCreatedEvent)
	if !ok {
		return unexpectedEvent(domain.EventTypeClientCreated, event)
	}
	return h.saga.ProvisionClient(ctx, e).Err
}

// EventTypes implements shared.EventHandler
func (h *ClientHandler) EventTypes() []string {
	return []string{domain.EventTypeClientCreated}
}

// InvoiceHandler issues invoices on behalf of a provisioned company. The
// receiving client is provisioned first when it is new.
type InvoiceHandler struct {
	saga     *Saga
	repo     domain.RecordRepository
	provider domain.Provider
	cipher   domain.SecretCipher
}

// NewInvoiceHandler creates an InvoiceHandler
func NewInvoiceHandler(saga *Saga, repo domain.RecordRepository, provider domain.Provider, cipher domain.SecretCipher) *InvoiceHandler {
	return &InvoiceHandler{saga: saga, repo: repo, provider: provider, cipher: cipher}
}

// Handle implements shared.EventHandler
func (h *InvoiceHandler) Handle(ctx context.Context, event shared.IntegrationEvent) error {
	e, ok := event.(*domain.InvoiceRequestedEvent)
	if !ok {
		return unexpectedEvent(domain.EventTypeInvoiceRequested, event)
	}
	if err := e.Validate(); err != nil {
		return err
	}

	company, err := h.issuer(ctx, e.TenantID, e.CompanyID)
	if err != nil {
		return err
	}
	if !company.HasSecrets() {
		return fmt.Errorf("company %s cannot issue invoices: %w", company.ID, domain.ErrCredentialsPending)
	}

	client := h.saga.ProvisionClient(ctx, &e.ClientCreatedEvent)
	if !client.Success {
		return client.Err
	}

	secrets, err := decryptSecrets(h.cipher, company.Secrets)
	if err != nil {
		return fmt.Errorf("company %s secrets: %w", company.ID, err)
	}
	creds := domain.Credentials{UID: company.ProviderUID, APIKey: secrets.APIKey, SecretKey: secrets.SecretKey}

	invoice, err := h.provider.CreateInvoice(ctx, creds, client.ProviderUID, e.Details())
	if err != nil {
		return err
	}
	logger.L(ctx).Info("invoice issued",
		zap.String("company_record_id", company.ID.String()),
		zap.String("client_uid", client.ProviderUID),
		zap.String("invoice_uid", invoice.UID),
		zap.String("invoice_status", invoice.Status),
	)
	return nil
}

// EventTypes implements shared.EventHandler
func (h *InvoiceHandler) EventTypes() []string {
	return []string{domain.EventTypeInvoiceRequested}
}

// issuer finds the issuing company by registry id, falling back to the
// upstream company id
func (h *InvoiceHandler) issuer(ctx context.Context, tenantID, companyID string) (*domain.Record, error) {
	var (
		rec *domain.Record
		err error = shared.ErrNotFound
	)
	if id, parseErr := uuid.Parse(companyID); parseErr == nil {
		rec, err = h.repo.FindByID(ctx, id)
		if err == nil && (rec.Kind != domain.KindCompany || rec.TenantID != tenantID) {
			rec, err = nil, shared.ErrNotFound
		}
	}
	if errors.Is(err, shared.ErrNotFound) {
		rec, err = h.repo.FindByUpstreamID(ctx, tenantID, domain.KindCompany, companyID)
	}
	if errors.Is(err, shared.ErrNotFound) {
		return nil, domain.NewValidationError("company_id", "company %s is not provisioned", companyID)
	}
	if err != nil {
		return nil, fmt.Errorf("look up company %s: %w", companyID, err)
	}
	return rec, nil
}

var (
	_ shared.EventHandler = (*CompanyHandler)(nil)
	_ shared.EventHandler = (*ClientHandler)(nil)
	_ shared.EventHandler = (*InvoiceHandler)(nil)
)
