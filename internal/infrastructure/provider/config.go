package provider

import (
	"errors"
	"strings"
)

const (
	// DefaultBaseURL is the provider's v4 API root
	DefaultBaseURL = "https://api.factura.com/v4"
	// SandboxBaseURL is the provider's sandbox v4 API root
	SandboxBaseURL = "https://sandbox.factura.com/api/v4"
	// DefaultPluginKey identifies this integration to the provider
	DefaultPluginKey = "9d4095c8f7ed5785cb14c0e3b033eeb8252416ed"
	// DefaultTimeoutSeconds bounds every provider call
	DefaultTimeoutSeconds = 30
)

// Errors for provider configuration
var (
	ErrConfigMissingAPIKey    = errors.New("provider: api key is required")
	ErrConfigMissingSecretKey = errors.New("provider: secret key is required")
	ErrConfigMissingBaseURL   = errors.New("provider: base URL is required")
)

// Config holds the account-level credentials used for provisioning calls
type Config struct {
	// BaseURL is the versioned API root, e.g. https://api.factura.com/v4
	BaseURL string
	// APIKey and SecretKey authenticate the reseller account
	APIKey    string
	SecretKey string
	// PluginKey is sent as F-PLUGIN
	PluginKey string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

// Validate checks required fields and fills defaults
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrConfigMissingAPIKey
	}
	if c.SecretKey == "" {
		return ErrConfigMissingSecretKey
	}
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PluginKey == "" {
		c.PluginKey = DefaultPluginKey
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return nil
}

// rootURL is the API root without the version segment. Some provider
// endpoints live under /v1 or /v3 instead of /v4.
func (c *Config) rootURL() string {
	return strings.TrimSuffix(c.BaseURL, "/v4")
}
