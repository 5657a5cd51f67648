package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/erp/provisioner/internal/domain/provisioning"
)

type createInvoiceResponse struct {
	Response string     `json:"response"`
	Message  string     `json:"message"`
	UID      flexString `json:"UID"`
	Status   string     `json:"status"`
}

// CreateInvoice issues a CFDI 4.0 invoice on behalf of a company. The receiver
// is set to clientUID unless details already name one.
func (c *Client) CreateInvoice(ctx context.Context, creds provisioning.Credentials, clientUID string, details json.RawMessage) (*provisioning.InvoiceRef, error) {
	const op = "create_invoice"

	if !creds.IsIssued() {
		return nil, &provisioning.ProviderError{Op: op, Err: provisioning.ErrCredentialsPending}
	}

	payload := map[string]json.RawMessage{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &payload); err != nil {
			return nil, &provisioning.ProviderError{Op: op, Err: fmt.Errorf("invoice details must be a JSON object: %w", err)}
		}
	}
	if _, ok := payload["Receptor"]; !ok {
		receiver, err := json.Marshal(map[string]string{"UID": clientUID})
		if err != nil {
			return nil, &provisioning.ProviderError{Op: op, Err: err}
		}
		payload["Receptor"] = receiver
	}

	body, err := c.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		url:         c.config.BaseURL + "/cfdi40/create",
		jsonBody:    payload,
		credentials: creds,
	})
	if err != nil {
		return nil, err
	}

	var resp createInvoiceResponse
	if err := decode(op, body, &resp); err != nil {
		return nil, err
	}
	if resp.Response != "success" {
		return nil, rejected(op, resp.Response, resp.Message)
	}
	return &provisioning.InvoiceRef{UID: resp.UID.String(), Status: resp.Response}, nil
}
