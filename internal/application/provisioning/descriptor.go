package provisioning

import (
	"context"
	"errors"
	"strings"

	domain "github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// descriptor supplies the kind-specific steps of a saga run
type descriptor interface {
	kind() domain.Kind
	tenantID() string
	naturalKey() string

	// validate checks required fields and catalog codes
	validate(ctx context.Context, catalog domain.CatalogValidator) error
	create(ctx context.Context, provider domain.Provider) (providerID, uid string, err error)
	subResources(ctx context.Context, s *Saga) ([]domain.SubResource, error)
	// awaitCredentials returns nil credentials when the kind has none
	awaitCredentials(ctx context.Context, s *Saga, uid string) (*domain.Credentials, error)
	issuesCredentials() bool
	record(providerID, uid string) (*domain.Record, error)
}

// -----------------------------------------------------------------------------
// company
// -----------------------------------------------------------------------------

type companyDescriptor struct {
	event      *domain.CompanyCreatedEvent
	regimeName string
}

func (d *companyDescriptor) kind() domain.Kind  { return domain.KindCompany }
func (d *companyDescriptor) tenantID() string   { return d.event.TenantID }
func (d *companyDescriptor) naturalKey() string { return d.event.NaturalKey() }
func (d *companyDescriptor) issuesCredentials() bool {
	return true
}

func (d *companyDescriptor) validate(ctx context.Context, catalog domain.CatalogValidator) error {
	if err := d.event.Validate(); err != nil {
		return err
	}
	regime := d.event.FiscalRegime()
	if regime == "" {
		return domain.NewValidationError("tax_regime", "fiscal regime is required")
	}
	result := catalog.Validate(ctx, regime, domain.CatalogTaxRegimes)
	if !result.Valid {
		return domain.NewValidationError("tax_regime", "%s", result.Error)
	}
	d.regimeName = result.Name
	return nil
}

func (d *companyDescriptor) create(ctx context.Context, provider domain.Provider) (string, string, error) {
	ref, err := provider.CreateCompany(ctx, companyForm(d.event))
	if err != nil {
		return "", "", err
	}
	if ref.UID == "" {
		return "", "", &domain.ProviderError{Op: "create_company", Err: errors.New("response carried no account uid")}
	}
	return ref.ID, ref.UID, nil
}

// subResources creates the requested series and confirms their provider ids
// from one listing. With no series requested the provider's default series
// is adopted instead.
func (d *companyDescriptor) subResources(ctx context.Context, s *Saga) ([]domain.SubResource, error) {
	if len(d.event.Series) == 0 {
		def, err := s.defaultSeries(ctx)
		if err != nil {
			return nil, err
		}
		return []domain.SubResource{def}, nil
	}

	for _, req := range d.event.Series {
		if err := s.provider.CreateSeries(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := sleep(ctx, s.config.SeriesSettleDelay); err != nil {
		return nil, err
	}

	listed, err := s.provider.ListSeries(ctx)
	if err != nil {
		logger.L(ctx).Warn("series listing failed, ids left unconfirmed", zap.Error(err))
	}
	byName := make(map[string]domain.Series, len(listed))
	for _, series := range listed {
		byName[strings.ToUpper(strings.TrimSpace(series.Name))] = series
	}

	subs := make([]domain.SubResource, 0, len(d.event.Series))
	for _, req := range d.event.Series {
		sub := domain.SubResource{
			ProviderID:  domain.UnknownSubResourceID,
			Name:        req.Name,
			Type:        req.Type,
			Description: req.Description,
			BranchID:    req.BranchID,
			Folio:       req.InitialFolio,
		}
		if found, ok := byName[strings.ToUpper(strings.TrimSpace(req.Name))]; ok {
			sub.ProviderID = found.ID
			sub.Status = found.Status
			if found.Description != "" {
				sub.Description = found.Description
			}
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (d *companyDescriptor) awaitCredentials(ctx context.Context, s *Saga, uid string) (*domain.Credentials, error) {
	return s.poller.Await(ctx, uid)
}

func (d *companyDescriptor) record(providerID, uid string) (*domain.Record, error) {
	e := d.event
	rec, err := domain.NewRecord(domain.KindCompany, e.TenantID, e.NaturalKey(), e.BusinessName, uid)
	if err != nil {
		return nil, err
	}
	rec.ProviderID = providerID
	rec.UpstreamID = e.CompanyID
	rec.Profile = domain.Profile{
		TradeName:        e.TradeName,
		FiscalRegime:     e.FiscalRegime(),
		FiscalRegimeName: d.regimeName,
		Address:          e.ResolvedAddress(),
		Contact: domain.Contact{
			Name:   e.Contact.Name,
			Phone:  e.Contact.Phone,
			Emails: nonEmpty(e.ContactEmail(), e.AccountingEmail()),
		},
	}
	return rec, nil
}

// -----------------------------------------------------------------------------
// client
// -----------------------------------------------------------------------------

type clientDescriptor struct {
	event       *domain.ClientCreatedEvent
	regimeName  string
	cfdiUseName string
}

func (d *clientDescriptor) kind() domain.Kind  { return domain.KindClient }
func (d *clientDescriptor) tenantID() string   { return d.event.TenantID }
func (d *clientDescriptor) naturalKey() string { return d.event.NaturalKey() }
func (d *clientDescriptor) issuesCredentials() bool {
	return false
}

func (d *clientDescriptor) validate(ctx context.Context, catalog domain.CatalogValidator) error {
	e := d.event
	if err := e.Validate(); err != nil {
		return err
	}

	regime := catalog.Validate(ctx, e.TaxRegime, domain.CatalogTaxRegimes)
	if !regime.Valid {
		return domain.NewValidationError("tax_regime", "%s", regime.Error)
	}
	use := catalog.ValidateCFDIUse(ctx, e.CFDIUse, e.TaxRegime)
	if !use.Valid {
		return domain.NewValidationError("cfdi_use", "%s", use.Error)
	}
	if country := catalog.Validate(ctx, e.Address.Country, domain.CatalogCountries); !country.Valid {
		return domain.NewValidationError("address.country", "%s", country.Error)
	}

	d.regimeName = regime.Name
	d.cfdiUseName = use.Name
	return nil
}

func (d *clientDescriptor) create(ctx context.Context, provider domain.Provider) (string, string, error) {
	ref, err := provider.CreateClient(ctx, clientForm(d.event))
	if err != nil {
		return "", "", err
	}
	if ref.UID == "" {
		return "", "", &domain.ProviderError{Op: "create_client", Err: errors.New("response carried no client uid")}
	}
	return "", ref.UID, nil
}

func (d *clientDescriptor) subResources(context.Context, *Saga) ([]domain.SubResource, error) {
	return nil, nil
}

// awaitCredentials confirms the client exists once the provider settled.
// Clients have no credentials, and a failed confirmation is only logged.
func (d *clientDescriptor) awaitCredentials(ctx context.Context, s *Saga, uid string) (*domain.Credentials, error) {
	if err := sleep(ctx, s.config.ClientConfirmDelay); err != nil {
		return nil, err
	}
	details, err := s.provider.GetClient(ctx, uid)
	if err != nil {
		logger.L(ctx).Warn("client confirmation failed", zap.String("provider_uid", uid), zap.Error(err))
		return nil, nil
	}
	logger.L(ctx).Debug("client confirmed", zap.String("provider_uid", details.UID), zap.String("rfc", details.RFC))
	return nil, nil
}

func (d *clientDescriptor) record(_, uid string) (*domain.Record, error) {
	e := d.event
	rec, err := domain.NewRecord(domain.KindClient, e.TenantID, e.NaturalKey(), e.BusinessName, uid)
	if err != nil {
		return nil, err
	}
	rec.Profile = domain.Profile{
		CompanyRef:       e.CompanyID,
		FiscalRegime:     e.TaxRegime,
		FiscalRegimeName: d.regimeName,
		CFDIUse:          e.CFDIUse,
		CFDIUseName:      d.cfdiUseName,
		TaxIDNumber:      e.TaxIDNumber,
		Address:          e.ResolvedAddress(),
		Contact: domain.Contact{
			Name:      e.Contact.Name,
			LastNames: e.Contact.LastNames,
			Phone:     e.Contact.Phone,
			Emails:    e.Contact.Emails(),
		},
	}
	return rec, nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
