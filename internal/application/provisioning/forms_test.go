package provisioning

import (
	"testing"

	domain "github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/stretchr/testify/assert"
)

func TestCompanyForm(t *testing.T) {
	e := acmeCompany()
	e.Emails.Accounting = "books@acme.mx"
	e.FiscalData.CURP = "XEXX010101HNEXXXA4"
	e.Certificates = domain.Certificates{CSDCer: "TUlJQ0VUQ0NB", CSDKey: "TUlJRXZRSUJB", FielPassword: "s3cret"}
	e.SMTPConfig = &domain.SMTPConfig{Host: "smtp.acme.mx", Port: "587", Email: "noreply@acme.mx"}
	e.ApplyDefaults()

	form := companyForm(e)

	assert.Equal(t, "Acme", form["razons"])
	assert.Equal(t, "ABC010101AAA", form["rfc"])
	assert.Equal(t, "601", form["regimen"])
	assert.Equal(t, "01000", form["codpos"])
	assert.Equal(t, "Reforma", form["calle"])
	assert.Equal(t, "hello@acme.mx", form["email"])
	assert.Equal(t, "5555555555", form["telefono"])
	assert.Equal(t, "XEXX010101HNEXXXA4", form["curp"])

	assert.Equal(t, "1", form["mailtomyself"])
	assert.Equal(t, "1", form["mailtomyconta"])
	assert.Equal(t, "books@acme.mx", form["mail_conta"])

	assert.Equal(t, "TUlJQ0VUQ0NB", form["csd_cer_b64"])
	assert.Equal(t, "TUlJRXZRSUJB", form["csd_key_b64"])
	assert.NotContains(t, form, "fiel_cer_b64")
	assert.Equal(t, "s3cret", form["fielpassword"])

	assert.Equal(t, "1", form["smtp"])
	assert.Equal(t, "587", form["smtp_port"])
	assert.Equal(t, "tls", form["smtp_encryption"])
}

func TestCompanyForm_Minimal(t *testing.T) {
	form := companyForm(acmeCompany())

	assert.Equal(t, "0", form["smtp"])
	assert.Equal(t, "0", form["mailtomyconta"])
	assert.NotContains(t, form, "mail_conta")
	assert.NotContains(t, form, "password")
	assert.NotContains(t, form, "numero_interior")
}

func TestClientForm(t *testing.T) {
	e := publicoClient()
	e.TaxIDNumber = "123456789"
	e.Contact.Email2 = "luis2@example.mx"

	form := clientForm(e)

	assert.Equal(t, domain.ClientForm{
		"rfc":          "XAXX010101000",
		"razons":       "Publico en General",
		"regimen":      "603",
		"usocfdi":      "G03",
		"numregidtrib": "123456789",
		"codpos":       "01000",
		"ciudad":       "CDMX",
		"pais":         "MEX",
		"nombre":       "Luis",
		"email":        "luis@example.mx",
		"email2":       "luis2@example.mx",
	}, form)
}
