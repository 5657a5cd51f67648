// Package provider is the HTTP adapter for the external invoicing provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"go.uber.org/zap"
)

// maxResponseSize limits the response body size
const maxResponseSize = 10 * 1024 * 1024

// Client implements provisioning.Provider and provisioning.CatalogSource
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger.Named("provider")
	}
}

// NewClient creates a provider client
func NewClient(config *Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// accountCredentials are the reseller credentials from configuration
func (c *Client) accountCredentials() provisioning.Credentials {
	return provisioning.Credentials{APIKey: c.config.APIKey, SecretKey: c.config.SecretKey}
}

// request describes one provider call
type request struct {
	op          string
	method      string
	url         string
	form        map[string]string
	jsonBody    any
	credentials provisioning.Credentials
}

// do sends the request and returns the body of a 2xx response. Transport
// failures and non-2xx statuses become *provisioning.ProviderError.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch {
	case r.form != nil:
		values := url.Values{}
		for k, v := range r.form {
			if v != "" {
				values.Set(k, v)
			}
		}
		body = strings.NewReader(values.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.jsonBody != nil:
		payload, err := json.Marshal(r.jsonBody)
		if err != nil {
			return nil, &provisioning.ProviderError{Op: r.op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, &provisioning.ProviderError{Op: r.op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("F-API-KEY", r.credentials.APIKey)
	req.Header.Set("F-SECRET-KEY", r.credentials.SecretKey)
	req.Header.Set("F-PLUGIN", c.config.PluginKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &provisioning.ProviderError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &provisioning.ProviderError{Op: r.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("provider call",
		zap.String("op", r.op),
		zap.String("method", r.method),
		zap.String("url", r.url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.Any("form", redactForm(r.form)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &provisioning.ProviderError{
			Op:         r.op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", truncate(string(respBody), 512)),
		}
	}
	return respBody, nil
}

// decode unmarshals a 2xx body into out
func decode(op string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &provisioning.ProviderError{Op: op, Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}

// rejected builds the error for a 2xx response whose status field reports failure
func rejected(op, status, message string) error {
	if message == "" {
		message = "no message"
	}
	return &provisioning.ProviderError{Op: op, Err: fmt.Errorf("status %q: %s", status, message)}
}

// flexString accepts JSON strings and numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// redactForm hides secrets and shortens certificate blobs for logging
func redactForm(form map[string]string) map[string]string {
	if form == nil {
		return nil
	}
	out := make(map[string]string, len(form))
	for k, v := range form {
		switch {
		case strings.Contains(k, "password"):
			out[k] = "***"
		case strings.HasSuffix(k, "_b64"):
			out[k] = truncate(v, 16) + " (" + strconv.Itoa(len(v)) + " bytes)"
		default:
			out[k] = v
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	_ provisioning.Provider      = (*Client)(nil)
	_ provisioning.CatalogSource = (*Client)(nil)
)
