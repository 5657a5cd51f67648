package provider

import (
	"context"
	"net/http"

	"github.com/erp/provisioner/internal/domain/provisioning"
)

type createAccountResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Account struct {
		ID  flexString `json:"acco_id"`
		UID flexString `json:"acco_uid"`
	} `json:"0"`
}

// CreateCompany registers a company account under the reseller account
func (c *Client) CreateCompany(ctx context.Context, form provisioning.CompanyForm) (*provisioning.AccountRef, error) {
	const op = "create_company"

	body, err := c.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		url:         c.config.BaseURL + "/account/create",
		form:        form,
		credentials: c.accountCredentials(),
	})
	if err != nil {
		return nil, err
	}

	var resp createAccountResponse
	if err := decode(op, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "create" && resp.Status != "success" {
		return nil, rejected(op, resp.Status, resp.Message)
	}
	if resp.Account.UID == "" {
		return nil, rejected(op, resp.Status, "response carries no account uid")
	}

	return &provisioning.AccountRef{ID: resp.Account.ID.String(), UID: resp.Account.UID.String()}, nil
}

type credentialsResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		UID       string `json:"uid"`
		APIKey    string `json:"api_key"`
		SecretKey string `json:"secret_key"`
	} `json:"data"`
}

// GetCredentials fetches the API keys issued to a company account. It returns
// provisioning.ErrCredentialsPending while the provider has not issued them.
func (c *Client) GetCredentials(ctx context.Context, accountUID string) (*provisioning.Credentials, error) {
	const op = "get_credentials"

	body, err := c.do(ctx, request{
		op:          op,
		method:      http.MethodGet,
		url:         c.config.rootURL() + "/v1/account/" + accountUID,
		credentials: c.accountCredentials(),
	})
	if err != nil {
		return nil, err
	}

	var resp credentialsResponse
	if err := decode(op, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, rejected(op, resp.Status, resp.Message)
	}

	creds := &provisioning.Credentials{
		UID:       resp.Data.UID,
		APIKey:    resp.Data.APIKey,
		SecretKey: resp.Data.SecretKey,
	}
	if creds.UID == "" {
		creds.UID = accountUID
	}
	if !creds.IsIssued() {
		return nil, provisioning.ErrCredentialsPending
	}
	return creds, nil
}
