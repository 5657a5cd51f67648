package provisioning

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyCreatedEvent_NaturalKeyPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		event CompanyCreatedEvent
		want  string
	}{
		{
			name:  "top level tax id wins",
			event: CompanyCreatedEvent{TaxID: "abc010101aaa", FiscalData: FiscalData{TaxID: "XYZ010101BBB"}, RFC: "QQQ010101CCC"},
			want:  "ABC010101AAA",
		},
		{
			name:  "fiscal data tax id",
			event: CompanyCreatedEvent{FiscalData: FiscalData{TaxID: "XYZ010101BBB", RFC: "QQQ010101CCC"}},
			want:  "XYZ010101BBB",
		},
		{
			name:  "fiscal data rfc",
			event: CompanyCreatedEvent{FiscalData: FiscalData{RFC: "QQQ010101CCC"}, RFC: "ZZZ010101DDD"},
			want:  "QQQ010101CCC",
		},
		{
			name:  "plain rfc",
			event: CompanyCreatedEvent{RFC: " zzz010101ddd "},
			want:  "ZZZ010101DDD",
		},
		{
			name:  "nothing",
			event: CompanyCreatedEvent{},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.NaturalKey())
		})
	}
}

func TestCompanyCreatedEvent_Decode(t *testing.T) {
	payload := `{
		"tenant_id": "T1",
		"business_name": "Acme",
		"rfc": "ABC010101AAA",
		"unexpected": {"nested": true},
		"fiscal_data": {"tax_regime": "601", "zip_code": "01000", "street": "Reforma"},
		"address": {"street": "Ignored", "city": "CDMX"},
		"emails": {"accounting": "books@acme.mx"},
		"contact": {"email": "hello@acme.mx", "phone": "5555555555"},
		"smtp_config": {"host": "smtp.acme.mx", "port": 587},
		"series": [{"name": "A"}, {"name": "B", "type": "nota", "initial_folio": 10}]
	}`

	var e CompanyCreatedEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &e))
	e.ApplyDefaults()

	require.NoError(t, e.Validate())
	assert.Equal(t, "T1", e.Tenant())
	assert.Equal(t, EventTypeCompanyCreated, e.EventType())
	assert.Equal(t, "601", e.FiscalRegime())
	assert.Equal(t, "hello@acme.mx", e.ContactEmail())
	assert.Equal(t, "books@acme.mx", e.AccountingEmail())

	addr := e.ResolvedAddress()
	assert.Equal(t, "Reforma", addr.Street)
	assert.Equal(t, "CDMX", addr.City)
	assert.Equal(t, "01000", addr.ZipCode)

	require.Len(t, e.Series, 2)
	assert.Equal(t, DefaultSeriesType, e.Series[0].Type)
	assert.Equal(t, DefaultSeriesFolio, e.Series[0].InitialFolio)
	assert.Equal(t, "nota", e.Series[1].Type)
	assert.Equal(t, 10, e.Series[1].InitialFolio)

	require.NotNil(t, e.SMTPConfig)
	assert.Equal(t, DefaultSMTPEncryption, e.SMTPConfig.Encryption)
	assert.Equal(t, "587", e.SMTPConfig.Port)
}

func TestCompanyCreatedEvent_DecodeLooseOptionalFields(t *testing.T) {
	tests := []struct {
		name      string
		smtp      string
		folio     string
		wantPort  string
		wantFolio int
	}{
		{name: "empty strings", smtp: `{"host": "h", "port": ""}`, folio: `""`, wantPort: "", wantFolio: DefaultSeriesFolio},
		{name: "numeric strings", smtp: `{"host": "h", "port": "465"}`, folio: `"7"`, wantPort: "465", wantFolio: 7},
		{name: "null", smtp: `{"host": "h", "port": null}`, folio: `null`, wantPort: "", wantFolio: DefaultSeriesFolio},
		{name: "garbage folio", smtp: `{"host": "h", "port": 25}`, folio: `"first"`, wantPort: "25", wantFolio: DefaultSeriesFolio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"tenant_id": "T1", "business_name": "Acme", "rfc": "ABC010101AAA",
				"smtp_config": ` + tt.smtp + `,
				"series": [{"name": "A", "initial_folio": ` + tt.folio + `}]}`

			var e CompanyCreatedEvent
			require.NoError(t, json.Unmarshal([]byte(payload), &e))
			e.ApplyDefaults()

			require.NoError(t, e.Validate())
			require.NotNil(t, e.SMTPConfig)
			assert.Equal(t, "h", e.SMTPConfig.Host)
			assert.Equal(t, tt.wantPort, e.SMTPConfig.Port)
			require.Len(t, e.Series, 1)
			assert.Equal(t, "A", e.Series[0].Name)
			assert.Equal(t, tt.wantFolio, e.Series[0].InitialFolio)
		})
	}
}

func TestCompanyCreatedEvent_Validate(t *testing.T) {
	t.Run("missing business name", func(t *testing.T) {
		e := CompanyCreatedEvent{TenantID: "T1", RFC: "ABC010101AAA"}
		err := e.Validate()

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Field, "business_name")
		assert.Equal(t, CodeValidationFailed, ErrorCode(err))
	})

	t.Run("missing tax id", func(t *testing.T) {
		e := CompanyCreatedEvent{TenantID: "T1", BusinessName: "Acme"}
		err := e.Validate()

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "tax_id", verr.Field)
	})

	t.Run("malformed tax id", func(t *testing.T) {
		e := CompanyCreatedEvent{TenantID: "T1", BusinessName: "Acme", TaxID: "NOT-AN-RFC"}
		err := e.Validate()

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "not a valid RFC")
	})

	t.Run("series without name", func(t *testing.T) {
		e := CompanyCreatedEvent{TenantID: "T1", BusinessName: "Acme", RFC: "ABC010101AAA", Series: []SeriesRequest{{Type: "factura"}}}
		var verr *ValidationError
		require.ErrorAs(t, e.Validate(), &verr)
	})
}

func TestClientCreatedEvent_Defaults(t *testing.T) {
	var e ClientCreatedEvent
	require.NoError(t, json.Unmarshal([]byte(`{"tenant_id":"T1","rfc":"xaxx010101000","business_name":"Publico"}`), &e))
	e.ApplyDefaults()

	assert.Equal(t, DefaultClientTaxRegime, e.TaxRegime)
	assert.Equal(t, DefaultClientCFDIUse, e.CFDIUse)
	assert.Equal(t, DefaultClientCountry, e.Address.Country)
	assert.Equal(t, "XAXX010101000", e.NaturalKey())
	assert.NoError(t, e.Validate())
}

func TestClientCreatedEvent_DefaultsKeepExplicitValues(t *testing.T) {
	e := ClientCreatedEvent{TaxRegime: "612", CFDIUse: "G01", Address: ClientAddress{Country: "USA"}}
	e.ApplyDefaults()

	assert.Equal(t, "612", e.TaxRegime)
	assert.Equal(t, "G01", e.CFDIUse)
	assert.Equal(t, "USA", e.Address.Country)
}

func TestClientCreatedEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   ClientCreatedEvent
		wantErr bool
	}{
		{"valid", ClientCreatedEvent{TenantID: "T1", RFC: "ABC010101AAA", BusinessName: "Acme"}, false},
		{"four letter rfc", ClientCreatedEvent{TenantID: "T1", RFC: "ABCD010101AA1", BusinessName: "Acme"}, false},
		{"missing tenant", ClientCreatedEvent{RFC: "ABC010101AAA", BusinessName: "Acme"}, true},
		{"missing rfc", ClientCreatedEvent{TenantID: "T1", BusinessName: "Acme"}, true},
		{"bad rfc", ClientCreatedEvent{TenantID: "T1", RFC: "12345", BusinessName: "Acme"}, true},
		{"bad email", ClientCreatedEvent{TenantID: "T1", RFC: "ABC010101AAA", BusinessName: "Acme", Contact: ClientContact{Email: "nope"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				var verr *ValidationError
				assert.True(t, errors.As(err, &verr))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestClientContact_Emails(t *testing.T) {
	c := ClientContact{Email: "a@x.mx", Email3: "c@x.mx"}
	assert.Equal(t, []string{"a@x.mx", "c@x.mx"}, c.Emails())
}

func TestInvoiceRequestedEvent(t *testing.T) {
	payload := `{"tenant_id":"T1","company_id":"C1","rfc":"ABC010101AAA","business_name":"Acme","invoice_details":{"Conceptos":[{"Cantidad":1}]}}`

	var e InvoiceRequestedEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &e))
	e.ApplyDefaults()

	require.NoError(t, e.Validate())
	assert.Equal(t, EventTypeInvoiceRequested, e.EventType())
	assert.Equal(t, "T1", e.Tenant())
	assert.Equal(t, "C1", e.CompanyID)
	assert.Equal(t, DefaultClientCFDIUse, e.CFDIUse)
	assert.JSONEq(t, `{"Conceptos":[{"Cantidad":1}]}`, string(e.Details()))

	t.Run("company id required", func(t *testing.T) {
		e := InvoiceRequestedEvent{ClientCreatedEvent: ClientCreatedEvent{TenantID: "T1", RFC: "ABC010101AAA", BusinessName: "Acme"}}
		var verr *ValidationError
		require.ErrorAs(t, e.Validate(), &verr)
		assert.Equal(t, "company_id", verr.Field)
	})

	t.Run("empty details", func(t *testing.T) {
		e := InvoiceRequestedEvent{}
		assert.JSONEq(t, `{}`, string(e.Details()))
	})
}
