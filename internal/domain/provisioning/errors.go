package provisioning

import (
	"errors"
	"fmt"

	"github.com/erp/provisioner/internal/domain/shared"
)

// Error codes carried by provisioning failures
const (
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeProviderFailed       = "PROVIDER_FAILED"
	CodeDecodeFailed         = "DECODE_FAILED"
	CodeReconciliationFailed = "RECONCILIATION_FAILED"
)

var (
	// ErrPlaintextSecrets is returned when unencrypted secrets are about to be stored
	ErrPlaintextSecrets = shared.NewDomainError("PLAINTEXT_SECRETS", "Secrets must be encrypted before they are stored")

	// ErrCredentialsPending means the provider has not issued credentials yet
	ErrCredentialsPending = shared.NewDomainError("CREDENTIALS_PENDING", "Provider credentials are not available yet")
)

// ValidationError rejects an event before any provider call. Field names the
// offending attribute when known.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %v", e.Err)
	}
	return fmt.Sprintf("validation failed on %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Code returns the domain error code
func (e *ValidationError) Code() string { return CodeValidationFailed }

// NewValidationError creates a ValidationError for field
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// ProviderError wraps a failed or rejected call to the external provider
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Code returns the domain error code
func (e *ProviderError) Code() string { return CodeProviderFailed }

// DecodeError means a message body could not be turned into a typed event
type DecodeError struct {
	RoutingKey string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.RoutingKey, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Code returns the domain error code
func (e *DecodeError) Code() string { return CodeDecodeFailed }

// ReconciliationError is a failure while writing credentials back after the
// record was persisted. It never fails a saga run.
type ReconciliationError struct {
	RecordID string
	Err      error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile secrets for record %s: %v", e.RecordID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// Code returns the domain error code
func (e *ReconciliationError) Code() string { return CodeReconciliationFailed }

// ErrorCode extracts the code of a provisioning or domain error, or "" when
// err carries none
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
