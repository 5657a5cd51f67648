package provisioning

import (
	"strings"
	"time"

	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind identifies which upstream resource a record mirrors
type Kind string

const (
	KindCompany Kind = "company"
	KindClient  Kind = "client"
)

// IsValid reports whether k is a known record kind
func (k Kind) IsValid() bool {
	return k == KindCompany || k == KindClient
}

func (k Kind) String() string {
	return string(k)
}

// Status is the lifecycle status of a provisioned record
type Status string

const (
	StatusActive Status = "active"
)

// UnknownSubResourceID is stored when a created series could not be found in
// the provider listing afterwards
const UnknownSubResourceID = "unknown"

// Secrets holds provider-issued credentials. Values are ciphertext whenever
// Encrypted is set.
type Secrets struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Encrypted bool   `json:"encrypted"`
}

// IsEmpty reports whether neither credential is present
func (s *Secrets) IsEmpty() bool {
	return s == nil || (s.APIKey == "" && s.SecretKey == "")
}

// SubResource is a provider-side child of a company, currently a document series
type SubResource struct {
	ProviderID  string `json:"provider_id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	BranchID    string `json:"branch_id,omitempty"`
	Folio       int    `json:"folio,omitempty"`
}

// Address is the postal address kept in a record profile
type Address struct {
	Street         string `json:"street,omitempty"`
	ExteriorNumber string `json:"exterior_number,omitempty"`
	InteriorNumber string `json:"interior_number,omitempty"`
	Neighborhood   string `json:"neighborhood,omitempty"`
	ZipCode        string `json:"zip_code,omitempty"`
	City           string `json:"city,omitempty"`
	Municipality   string `json:"municipality,omitempty"`
	Locality       string `json:"locality,omitempty"`
	State          string `json:"state,omitempty"`
	Country        string `json:"country,omitempty"`
}

// Contact is the contact block kept in a record profile
type Contact struct {
	Name      string   `json:"name,omitempty"`
	LastNames string   `json:"last_names,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Emails    []string `json:"emails,omitempty"`
}

// Profile is the clear-text descriptive document stored with a record
type Profile struct {
	TradeName        string  `json:"trade_name,omitempty"`
	CompanyRef       string  `json:"company_ref,omitempty"`
	FiscalRegime     string  `json:"fiscal_regime,omitempty"`
	FiscalRegimeName string  `json:"fiscal_regime_name,omitempty"`
	CFDIUse          string  `json:"cfdi_use,omitempty"`
	CFDIUseName      string  `json:"cfdi_use_name,omitempty"`
	TaxIDNumber      string  `json:"tax_id_number,omitempty"`
	Address          Address `json:"address"`
	Contact          Contact `json:"contact"`
}

// Record is the local system-of-record entry mirroring a resource created in
// the external provider. (TenantID, Kind, NaturalKey) is unique.
type Record struct {
	ID           uuid.UUID
	Kind         Kind
	TenantID     string
	NaturalKey   string
	BusinessName string
	UpstreamID   string
	ProviderID   string
	ProviderUID  string
	Secrets      *Secrets
	SubResources []SubResource
	Profile      Profile
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewRecord creates an active record for a resource just created in the
// provider. ID stays nil until the registry stores it.
func NewRecord(kind Kind, tenantID, naturalKey, businessName, providerUID string) (*Record, error) {
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_KIND", "Record kind must be company or client")
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	naturalKey = NormalizeNaturalKey(naturalKey)
	if naturalKey == "" {
		return nil, shared.NewDomainError("INVALID_NATURAL_KEY", "Natural key cannot be empty")
	}
	if providerUID == "" {
		return nil, shared.NewDomainError("INVALID_PROVIDER_UID", "Provider UID cannot be empty")
	}

	now := time.Now()
	return &Record{
		Kind:         kind,
		TenantID:     tenantID,
		NaturalKey:   naturalKey,
		BusinessName: strings.TrimSpace(businessName),
		ProviderUID:  providerUID,
		SubResources: []SubResource{},
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// AttachSecrets sets the record's secrets. Non-empty secrets must already be
// encrypted.
func (r *Record) AttachSecrets(s Secrets) error {
	if s.IsEmpty() {
		r.Secrets = nil
		return nil
	}
	if !s.Encrypted {
		return ErrPlaintextSecrets
	}
	r.Secrets = &s
	r.UpdatedAt = time.Now()
	return nil
}

// HasSecrets reports whether provider credentials were reconciled
func (r *Record) HasSecrets() bool {
	return !r.Secrets.IsEmpty()
}

// NormalizeNaturalKey trims and upper-cases a tax identifier so that the same
// RFC written in different case maps to the same record
func NormalizeNaturalKey(key string) string {
	return cases.Upper(language.Spanish).String(strings.TrimSpace(key))
}
