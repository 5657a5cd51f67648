package provisioning

import (
	domain "github.com/erp/provisioner/internal/domain/provisioning"
)

// companyForm maps a company event onto the provider's account form.
// Certificates travel base64 encoded in the *_b64 fields.
func companyForm(e *domain.CompanyCreatedEvent) domain.CompanyForm {
	addr := e.ResolvedAddress()
	form := domain.CompanyForm{}
	set := func(k, v string) {
		if v != "" {
			form[k] = v
		}
	}

	set("razons", e.BusinessName)
	set("rfc", e.NaturalKey())
	set("codpos", addr.ZipCode)
	set("calle", addr.Street)
	set("numero_exterior", addr.ExteriorNumber)
	set("numero_interior", addr.InteriorNumber)
	set("colonia", addr.Neighborhood)
	set("estado", addr.State)
	set("ciudad", addr.City)
	set("delegacion", addr.Municipality)
	set("email", e.ContactEmail())
	set("regimen", e.FiscalRegime())
	set("telefono", e.Contact.Phone)
	set("curp", e.FiscalData.CURP)

	form["mailtomyself"] = "1"
	if accounting := e.AccountingEmail(); accounting != "" {
		form["mailtomyconta"] = "1"
		form["mail_conta"] = accounting
	} else {
		form["mailtomyconta"] = "0"
	}

	certs := e.Certificates
	set("fiel_cer_b64", certs.FielCer)
	set("fiel_key_b64", certs.FielKey)
	set("csd_cer_b64", certs.CSDCer)
	set("csd_key_b64", certs.CSDKey)
	set("password", certs.FielPassword)
	set("fielpassword", certs.FielPassword)

	if smtp := e.SMTPConfig; smtp.IsSet() {
		form["smtp"] = "1"
		set("smtp_email", smtp.Email)
		set("smtp_password", smtp.Password)
		set("smtp_port", smtp.Port)
		set("smtp_host", smtp.Host)
		set("smtp_encryption", smtp.Encryption)
	} else {
		form["smtp"] = "0"
	}
	return form
}

// clientForm maps a client event onto the provider's client form
func clientForm(e *domain.ClientCreatedEvent) domain.ClientForm {
	form := domain.ClientForm{}
	set := func(k, v string) {
		if v != "" {
			form[k] = v
		}
	}

	a, c := e.Address, e.Contact
	set("rfc", e.NaturalKey())
	set("razons", e.BusinessName)
	set("regimen", e.TaxRegime)
	set("usocfdi", e.CFDIUse)
	set("numregidtrib", e.TaxIDNumber)
	set("codpos", a.ZipCode)
	set("calle", a.Street)
	set("numero_exterior", a.ExteriorNumber)
	set("numero_interior", a.InteriorNumber)
	set("colonia", a.Neighborhood)
	set("ciudad", a.City)
	set("delegacion", a.Municipality)
	set("localidad", a.Locality)
	set("estado", a.State)
	set("pais", a.Country)
	set("nombre", c.Name)
	set("apellidos", c.LastNames)
	set("telefono", c.Phone)
	set("email", c.Email)
	set("email2", c.Email2)
	set("email3", c.Email3)
	return form
}
