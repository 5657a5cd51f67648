package provisioning

import (
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Event kinds consumed from the broker
const (
	EventTypeCompanyCreated   = "company.created"
	EventTypeClientCreated    = "client.created"
	EventTypeInvoiceRequested = "invoice.requested"
)

// Defaults applied to client payloads that omit them
const (
	DefaultClientTaxRegime = "603"
	DefaultClientCFDIUse   = "G03"
	DefaultClientCountry   = "MEX"
	DefaultSeriesType      = "factura"
	DefaultSeriesFolio     = 1
	DefaultSMTPEncryption  = "tls"
)

var rfcPattern = regexp.MustCompile(`^[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("rfc", func(fl validator.FieldLevel) bool {
		return IsValidRFC(fl.Field().String())
	})
	return v
}

// IsValidRFC reports whether key has the shape of a Mexican tax id once
// normalized
func IsValidRFC(key string) bool {
	return rfcPattern.MatchString(NormalizeNaturalKey(key))
}

// validateStruct runs tag validation and converts the first failure into a
// ValidationError
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return NewValidationError(fe.Namespace(), "failed %q check", fe.Tag())
	}
	return &ValidationError{Err: err}
}

// -----------------------------------------------------------------------------
// company.created
// -----------------------------------------------------------------------------

// FiscalData is the fiscal block of a company payload
type FiscalData struct {
	TaxID        string `json:"tax_id,omitempty"`
	RFC          string `json:"rfc,omitempty"`
	TaxRegime    string `json:"tax_regime,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
	Street       string `json:"street,omitempty"`
	ExtNumber    string `json:"ext_number,omitempty"`
	IntNumber    string `json:"int_number,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	State        string `json:"state,omitempty"`
	CURP         string `json:"curp,omitempty"`
}

// CompanyAddress is the optional address block of a company payload
type CompanyAddress struct {
	Street       string `json:"street,omitempty"`
	ExtNumber    string `json:"ext_number,omitempty"`
	IntNumber    string `json:"int_number,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
	City         string `json:"city,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	State        string `json:"state,omitempty"`
}

// CompanyContact is the contact block of a company payload
type CompanyContact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// CompanyEmails lists the notification addresses of a company
type CompanyEmails struct {
	Contact    string `json:"contact,omitempty"`
	Email      string `json:"email,omitempty"`
	Owner      string `json:"owner,omitempty"`
	Billing    string `json:"billing,omitempty"`
	Accountant string `json:"accountant,omitempty"`
	Accounting string `json:"accounting,omitempty"`
}

// Certificates holds base64 encoded signing material
type Certificates struct {
	FielCer      string `json:"fiel_cer,omitempty"`
	FielKey      string `json:"fiel_key,omitempty"`
	CSDCer       string `json:"csd_cer,omitempty"`
	CSDKey       string `json:"csd_key,omitempty"`
	FielPassword string `json:"fiel_password,omitempty"`
}

// SMTPConfig is the outbound mail configuration forwarded to the provider
type SMTPConfig struct {
	Email      string      `json:"email,omitempty"`
	Password   string      `json:"password,omitempty"`
	Port       string `json:"port,omitempty"`
	Host       string      `json:"host,omitempty"`
	Encryption string      `json:"encryption,omitempty"`
}

// IsSet reports whether any SMTP setting was supplied
func (c *SMTPConfig) IsSet() bool {
	return c != nil && (c.Email != "" || c.Host != "" || c.Port != "")
}

// UnmarshalJSON accepts the port as a JSON string or number
func (c *SMTPConfig) UnmarshalJSON(data []byte) error {
	type plain SMTPConfig
	aux := struct {
		*plain
		Port json.RawMessage `json:"port,omitempty"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Port = scalarString(aux.Port)
	return nil
}

// SeriesRequest asks for a document series to be created for a company
type SeriesRequest struct {
	Name         string `json:"name" validate:"required"`
	Type         string `json:"type,omitempty"`
	InitialFolio int    `json:"initial_folio,omitempty"`
	Description  string `json:"description,omitempty"`
	BranchID     string `json:"branch_id,omitempty"`
}

// UnmarshalJSON accepts the initial folio as a JSON number or numeric
// string. Anything else leaves it zero so the default folio applies.
func (r *SeriesRequest) UnmarshalJSON(data []byte) error {
	type plain SeriesRequest
	aux := struct {
		*plain
		InitialFolio json.RawMessage `json:"initial_folio,omitempty"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.InitialFolio = 0
	if n, err := strconv.Atoi(strings.TrimSpace(scalarString(aux.InitialFolio))); err == nil && n > 0 {
		r.InitialFolio = n
	}
	return nil
}

// scalarString renders a JSON string, number or boolean as text. Null,
// objects and arrays yield "".
func scalarString(raw json.RawMessage) string {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}

// CompanyCreatedEvent announces a company registered upstream
type CompanyCreatedEvent struct {
	TenantID     string          `json:"tenant_id" validate:"required"`
	CompanyID    string          `json:"company_id,omitempty"`
	BusinessName string          `json:"business_name" validate:"required"`
	TradeName    string          `json:"trade_name,omitempty"`
	RFC          string          `json:"rfc,omitempty"`
	TaxID        string          `json:"tax_id,omitempty"`
	TaxRegime    string          `json:"tax_regime,omitempty"`
	ZipCode      string          `json:"zip_code,omitempty"`
	FiscalData   FiscalData      `json:"fiscal_data"`
	Address      CompanyAddress  `json:"address"`
	Contact      CompanyContact  `json:"contact"`
	Emails       CompanyEmails   `json:"emails"`
	Certificates Certificates    `json:"certificates"`
	SMTPConfig   *SMTPConfig     `json:"smtp_config,omitempty"`
	Series       []SeriesRequest `json:"series,omitempty" validate:"dive"`
}

// EventType implements shared.IntegrationEvent
func (e *CompanyCreatedEvent) EventType() string { return EventTypeCompanyCreated }

// Tenant implements shared.IntegrationEvent
func (e *CompanyCreatedEvent) Tenant() string { return e.TenantID }

// ApplyDefaults fills optional attributes the payload left out
func (e *CompanyCreatedEvent) ApplyDefaults() {
	for i := range e.Series {
		if e.Series[i].Type == "" {
			e.Series[i].Type = DefaultSeriesType
		}
		if e.Series[i].InitialFolio == 0 {
			e.Series[i].InitialFolio = DefaultSeriesFolio
		}
	}
	if e.SMTPConfig.IsSet() && e.SMTPConfig.Encryption == "" {
		e.SMTPConfig.Encryption = DefaultSMTPEncryption
	}
}

// NaturalKey resolves the company tax id: tax_id, then fiscal_data.tax_id,
// then fiscal_data.rfc, then rfc
func (e *CompanyCreatedEvent) NaturalKey() string {
	for _, candidate := range []string{e.TaxID, e.FiscalData.TaxID, e.FiscalData.RFC, e.RFC} {
		if strings.TrimSpace(candidate) != "" {
			return NormalizeNaturalKey(candidate)
		}
	}
	return ""
}

// FiscalRegime returns the company's tax regime code
func (e *CompanyCreatedEvent) FiscalRegime() string {
	return firstNonEmpty(e.FiscalData.TaxRegime, e.TaxRegime)
}

// ResolvedAddress merges fiscal data over the plain address block
func (e *CompanyCreatedEvent) ResolvedAddress() Address {
	f, a := e.FiscalData, e.Address
	return Address{
		Street:         firstNonEmpty(f.Street, a.Street),
		ExteriorNumber: firstNonEmpty(f.ExtNumber, a.ExtNumber),
		InteriorNumber: firstNonEmpty(f.IntNumber, a.IntNumber),
		Neighborhood:   firstNonEmpty(f.Neighborhood, a.Neighborhood),
		ZipCode:        firstNonEmpty(f.ZipCode, a.ZipCode, e.ZipCode),
		City:           firstNonEmpty(f.City, a.City),
		Municipality:   firstNonEmpty(f.Municipality, a.Municipality),
		State:          firstNonEmpty(f.State, a.State),
	}
}

// ContactEmail is the primary notification address
func (e *CompanyCreatedEvent) ContactEmail() string {
	return firstNonEmpty(e.Emails.Contact, e.Contact.Email, e.Emails.Email)
}

// AccountingEmail is the accountant copy address, if any
func (e *CompanyCreatedEvent) AccountingEmail() string {
	return firstNonEmpty(e.Emails.Accountant, e.Emails.Accounting)
}

// Validate checks required attributes and the natural key shape
func (e *CompanyCreatedEvent) Validate() error {
	if err := validateStruct(e); err != nil {
		return err
	}
	key := e.NaturalKey()
	if key == "" {
		return NewValidationError("tax_id", "company tax id is required")
	}
	if !IsValidRFC(key) {
		return NewValidationError("tax_id", "%q is not a valid RFC", key)
	}
	return nil
}

// -----------------------------------------------------------------------------
// client.created
// -----------------------------------------------------------------------------

// ClientAddress is the address block of a client payload
type ClientAddress struct {
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

// ClientContact is the contact block of a client payload
type ClientContact struct {
	Name      string `json:"name,omitempty"`
	LastNames string `json:"last_names,omitempty"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Email2    string `json:"email2,omitempty" validate:"omitempty,email"`
	Email3    string `json:"email3,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty"`
}

// Emails returns the non-empty contact addresses in order
func (c ClientContact) Emails() []string {
	emails := make([]string, 0, 3)
	for _, e := range []string{c.Email, c.Email2, c.Email3} {
		if e != "" {
			emails = append(emails, e)
		}
	}
	return emails
}

// ClientCreatedEvent announces an invoicing client registered upstream
type ClientCreatedEvent struct {
	TenantID     string        `json:"tenant_id" validate:"required"`
	CompanyID    string        `json:"company_id,omitempty"`
	RFC          string        `json:"rfc" validate:"required,rfc"`
	BusinessName string        `json:"business_name" validate:"required"`
	TaxRegime    string        `json:"tax_regime,omitempty"`
	TaxIDNumber  string        `json:"tax_id_number,omitempty"`
	CFDIUse      string        `json:"cfdi_use,omitempty"`
	Address      ClientAddress `json:"address"`
	Contact      ClientContact `json:"contact"`
}

// EventType implements shared.IntegrationEvent
func (e *ClientCreatedEvent) EventType() string { return EventTypeClientCreated }

// Tenant implements shared.IntegrationEvent
func (e *ClientCreatedEvent) Tenant() string { return e.TenantID }

// ApplyDefaults fills regime 603, usage G03 and country MEX when absent
func (e *ClientCreatedEvent) ApplyDefaults() {
	if e.TaxRegime == "" {
		e.TaxRegime = DefaultClientTaxRegime
	}
	if e.CFDIUse == "" {
		e.CFDIUse = DefaultClientCFDIUse
	}
	if e.Address.Country == "" {
		e.Address.Country = DefaultClientCountry
	}
}

// NaturalKey returns the normalized client RFC
func (e *ClientCreatedEvent) NaturalKey() string {
	return NormalizeNaturalKey(e.RFC)
}

// ResolvedAddress converts the payload address into the profile form
func (e *ClientCreatedEvent) ResolvedAddress() Address {
	a := e.Address
	return Address{
		Street:         a.Street,
		ExteriorNumber: a.ExteriorNumber,
		InteriorNumber: a.InteriorNumber,
		Neighborhood:   a.Neighborhood,
		ZipCode:        a.ZipCode,
		City:           a.City,
		Municipality:   a.Municipality,
		Locality:       a.Locality,
		State:          a.State,
		Country:        a.Country,
	}
}

// Validate checks required attributes and the RFC shape
func (e *ClientCreatedEvent) Validate() error {
	return validateStruct(e)
}

// -----------------------------------------------------------------------------
// invoice.requested
// -----------------------------------------------------------------------------

// InvoiceRequestedEvent asks for an invoice to be issued by a provisioned
// company to a client, creating the client on first use
type InvoiceRequestedEvent struct {
	ClientCreatedEvent
	InvoiceDetails json.RawMessage `json:"invoice_details,omitempty"`
}

// EventType implements shared.IntegrationEvent
func (e *InvoiceRequestedEvent) EventType() string { return EventTypeInvoiceRequested }

// Validate additionally requires the issuing company reference
func (e *InvoiceRequestedEvent) Validate() error {
	if strings.TrimSpace(e.CompanyID) == "" {
		return NewValidationError("company_id", "company_id is required to issue an invoice")
	}
	return e.ClientCreatedEvent.Validate()
}

// Details returns the opaque invoice body, or an empty object
func (e *InvoiceRequestedEvent) Details() json.RawMessage {
	if len(e.InvoiceDetails) == 0 || string(e.InvoiceDetails) == "null" {
		return json.RawMessage(`{}`)
	}
	return e.InvoiceDetails
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
