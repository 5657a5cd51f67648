package provisioning

import (
	"context"
	"encoding/json"
)

// Credentials are the API keys the provider issues for a company account
type Credentials struct {
	UID       string
	APIKey    string
	SecretKey string
}

// IsIssued reports whether both keys are present
func (c *Credentials) IsIssued() bool {
	return c != nil && c.APIKey != "" && c.SecretKey != ""
}

// AccountRef identifies a company account created in the provider
type AccountRef struct {
	ID  string
	UID string
}

// ClientRef identifies a client created in the provider
type ClientRef struct {
	UID string
}

// ClientDetails is the provider's view of a client, fetched after creation
type ClientDetails struct {
	UID string
	RFC string
	Raw json.RawMessage
}

// Series is a document series as listed by the provider
type Series struct {
	ID          string
	Name        string
	Type        string
	Description string
	Status      string
}

// CompanyForm is the provider's company registration form. Empty values are
// not sent.
type CompanyForm map[string]string

// ClientForm is the provider's client registration form. Empty values are
// not sent.
type ClientForm map[string]string

// InvoiceRef identifies an issued invoice
type InvoiceRef struct {
	UID    string
	Status string
}

// Provider is the external invoicing provider. Every method maps a non-success
// response to a *ProviderError.
type Provider interface {
	CreateCompany(ctx context.Context, form CompanyForm) (*AccountRef, error)
	// GetCredentials returns ErrCredentialsPending when the account exists but
	// keys were not issued yet
	GetCredentials(ctx context.Context, accountUID string) (*Credentials, error)

	CreateClient(ctx context.Context, form ClientForm) (*ClientRef, error)
	GetClient(ctx context.Context, clientUID string) (*ClientDetails, error)

	ListSeries(ctx context.Context) ([]Series, error)
	CreateSeries(ctx context.Context, req SeriesRequest) error

	// CreateInvoice issues an invoice using the issuing company's own credentials
	CreateInvoice(ctx context.Context, creds Credentials, clientUID string, details json.RawMessage) (*InvoiceRef, error)
}
