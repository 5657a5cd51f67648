package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/erp/provisioner/internal/domain/provisioning"
)

// catalogURL resolves the endpoint of a catalog. The usage catalog lives
// under /v4, the other two under /v3.
func (c *Client) catalogURL(catalog provisioning.Catalog) (string, error) {
	switch catalog {
	case provisioning.CatalogCFDIUses:
		return c.config.BaseURL + "/catalogo/UsoCfdi", nil
	case provisioning.CatalogTaxRegimes:
		return c.config.rootURL() + "/v3/catalogo/RegimenFiscal", nil
	case provisioning.CatalogCountries:
		return c.config.rootURL() + "/v3/catalogo/Pais", nil
	default:
		return "", fmt.Errorf("unknown catalog %q", catalog)
	}
}

type catalogItem struct {
	Key     flexString   `json:"key"`
	Name    string       `json:"name"`
	Regimes []flexString `json:"regimenes"`
}

type catalogEnvelope struct {
	Status string        `json:"status"`
	Data   []catalogItem `json:"data"`
}

// FetchCatalog downloads a whole catalog
func (c *Client) FetchCatalog(ctx context.Context, catalog provisioning.Catalog) ([]provisioning.CatalogEntry, error) {
	op := "fetch_catalog_" + string(catalog)

	target, err := c.catalogURL(catalog)
	if err != nil {
		return nil, &provisioning.ProviderError{Op: op, Err: err}
	}

	body, err := c.do(ctx, request{
		op:          op,
		method:      http.MethodGet,
		url:         target,
		credentials: c.accountCredentials(),
	})
	if err != nil {
		return nil, err
	}

	// Catalogs come back either as a bare array or wrapped in {"data": [...]}
	var items []catalogItem
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := decode(op, trimmed, &items); err != nil {
			return nil, err
		}
	} else {
		var env catalogEnvelope
		if err := decode(op, body, &env); err != nil {
			return nil, err
		}
		items = env.Data
	}

	entries := make([]provisioning.CatalogEntry, 0, len(items))
	for _, it := range items {
		entry := provisioning.CatalogEntry{Key: it.Key.String(), Name: it.Name}
		for _, r := range it.Regimes {
			entry.Regimes = append(entry.Regimes, r.String())
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
