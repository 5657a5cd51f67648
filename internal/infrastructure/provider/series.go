package provider

import (
	"context"
	"net/http"

	"github.com/erp/provisioner/internal/domain/provisioning"
)

type listSeriesResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    []struct {
		ID          flexString `json:"SerieID"`
		Name        string     `json:"SerieName"`
		Type        string     `json:"SerieType"`
		Description string     `json:"SerieDescription"`
		Status      string     `json:"SerieStatus"`
	} `json:"data"`
}

// ListSeries lists the document series visible to the reseller account
func (c *Client) ListSeries(ctx context.Context) ([]provisioning.Series, error) {
	const op = "list_series"

	body, err := c.do(ctx, request{
		op:          op,
		method:      http.MethodGet,
		url:         c.config.BaseURL + "/series",
		credentials: c.accountCredentials(),
	})
	if err != nil {
		return nil, err
	}

	var resp listSeriesResponse
	if err := decode(op, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, rejected(op, resp.Status, resp.Message)
	}

	series := make([]provisioning.Series, 0, len(resp.Data))
	for _, s := range resp.Data {
		series = append(series, provisioning.Series{
			ID:          s.ID.String(),
			Name:        s.Name,
			Type:        s.Type,
			Description: s.Description,
			Status:      s.Status,
		})
	}
	return series, nil
}

type createSeriesRequest struct {
	Letter       string `json:"letra"`
	DocumentType string `json:"tipoDocumento"`
	Folio        int    `json:"folio"`
}

type createSeriesResponse struct {
	Response string `json:"response"`
	Message  string `json:"message"`
}

// CreateSeries creates a document series. The provider does not return the new
// series id; callers look it up with ListSeries.
func (c *Client) CreateSeries(ctx context.Context, req provisioning.SeriesRequest) error {
	const op = "create_series"

	docType := req.Type
	if docType == "" {
		docType = provisioning.DefaultSeriesType
	}
	folio := req.InitialFolio
	if folio <= 0 {
		folio = provisioning.DefaultSeriesFolio
	}

	body, err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		url:    c.config.BaseURL + "/series/create",
		jsonBody: createSeriesRequest{
			Letter:       req.Name,
			DocumentType: docType,
			Folio:        folio,
		},
		credentials: c.accountCredentials(),
	})
	if err != nil {
		return err
	}

	var resp createSeriesResponse
	if err := decode(op, body, &resp); err != nil {
		return err
	}
	if resp.Response != "success" {
		return rejected(op, resp.Response, resp.Message)
	}
	return nil
}
