package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/erp/provisioner/internal/domain/provisioning"
)

type createClientResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		UID flexString `json:"UID"`
	} `json:"Data"`
}

// CreateClient registers a receiver of invoices
func (c *Client) CreateClient(ctx context.Context, form provisioning.ClientForm) (*provisioning.ClientRef, error) {
	const op = "create_client"

	body, err := c.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		url:         c.config.rootURL() + "/v1/clients/create",
		form:        form,
		credentials: c.accountCredentials(),
	})
	if err != nil {
		return nil, err
	}

	var resp createClientResponse
	if err := decode(op, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, rejected(op, resp.Status, resp.Message)
	}
	if resp.Data.UID == "" {
		return nil, rejected(op, resp.Status, "response carries no client uid")
	}
	return &provisioning.ClientRef{UID: resp.Data.UID.String()}, nil
}

type getClientResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"Data"`
}

type clientData struct {
	UID flexString `json:"UID"`
	RFC string     `json:"RFC"`
}

// GetClient fetches a client by provider UID
func (c *Client) GetClient(ctx context.Context, clientUID string) (*provisioning.ClientDetails, error) {
	const op = "get_client"

	body, err := c.do(ctx, request{
		op:          op,
		method:      http.MethodGet,
		url:         c.config.rootURL() + "/v1/clients/" + clientUID,
		credentials: c.accountCredentials(),
	})
	if err != nil {
		return nil, err
	}

	var resp getClientResponse
	if err := decode(op, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" || len(resp.Data) == 0 {
		return nil, rejected(op, resp.Status, resp.Message)
	}

	var data clientData
	if err := decode(op, resp.Data, &data); err != nil {
		return nil, err
	}
	uid := data.UID.String()
	if uid == "" {
		uid = clientUID
	}
	return &provisioning.ClientDetails{UID: uid, RFC: data.RFC, Raw: resp.Data}, nil
}
