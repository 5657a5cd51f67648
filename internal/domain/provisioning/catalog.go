package provisioning

import "context"

// Catalog names a provider-published code list
type Catalog string

const (
	CatalogTaxRegimes Catalog = "tax_regimes"
	CatalogCFDIUses   Catalog = "cfdi_uses"
	CatalogCountries  Catalog = "countries"
)

// CatalogEntry is one code of a catalog. Regimes lists, for usage codes, the
// fiscal regimes allowed to use it.
type CatalogEntry struct {
	Key     string
	Name    string
	Regimes []string
}

// ValidationResult is the outcome of a catalog lookup
type ValidationResult struct {
	Valid bool
	Name  string
	Error string
}

// CatalogValidator checks codes against provider catalogs
type CatalogValidator interface {
	Validate(ctx context.Context, code string, catalog Catalog) ValidationResult
	// ValidateCFDIUse also checks that the usage code is allowed for regime
	ValidateCFDIUse(ctx context.Context, code, regime string) ValidationResult
}

// CatalogSource fetches a whole catalog from the provider
type CatalogSource interface {
	FetchCatalog(ctx context.Context, catalog Catalog) ([]CatalogEntry, error)
}

// SecretCipher encrypts provider secrets at rest
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
