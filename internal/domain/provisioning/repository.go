package provisioning

import (
	"context"

	"github.com/google/uuid"
)

// RecordRepository is the local registry of provisioned resources
type RecordRepository interface {
	// FindByID returns shared.ErrNotFound when no record has the id
	FindByID(ctx context.Context, id uuid.UUID) (*Record, error)

	// FindByNaturalKey returns shared.ErrNotFound when the resource was never provisioned
	FindByNaturalKey(ctx context.Context, tenantID string, kind Kind, naturalKey string) (*Record, error)

	// FindByUpstreamID looks a record up by the id the upstream service gave it
	FindByUpstreamID(ctx context.Context, tenantID string, kind Kind, upstreamID string) (*Record, error)

	// Create inserts the record and assigns its ID. A record with the same
	// (tenant, kind, natural key) yields shared.ErrAlreadyExists.
	Create(ctx context.Context, record *Record) error

	// UpdateSecrets replaces only the secret attributes of an existing record
	UpdateSecrets(ctx context.Context, id uuid.UUID, secrets Secrets) error
}
