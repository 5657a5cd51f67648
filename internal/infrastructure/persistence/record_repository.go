package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/erp/provisioner/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormRecordRepository implements provisioning.RecordRepository using GORM
type GormRecordRepository struct {
	db *gorm.DB
}

// NewGormRecordRepository creates a new GormRecordRepository
func NewGormRecordRepository(db *gorm.DB) *GormRecordRepository {
	return &GormRecordRepository{db: db}
}

// FindByID finds a record by its ID
func (r *GormRecordRepository) FindByID(ctx context.Context, id uuid.UUID) (*provisioning.Record, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByNaturalKey finds a record by tenant, kind and normalized natural key
func (r *GormRecordRepository) FindByNaturalKey(ctx context.Context, tenantID string, kind provisioning.Kind, naturalKey string) (*provisioning.Record, error) {
	return r.first(ctx, "tenant_id = ? AND kind = ? AND natural_key = ?",
		tenantID, string(kind), provisioning.NormalizeNaturalKey(naturalKey))
}

// FindByUpstreamID finds a record by the id assigned by the upstream service
func (r *GormRecordRepository) FindByUpstreamID(ctx context.Context, tenantID string, kind provisioning.Kind, upstreamID string) (*provisioning.Record, error) {
	if upstreamID == "" {
		return nil, shared.NewDomainError("INVALID_UPSTREAM_ID", "Upstream ID cannot be empty")
	}
	return r.first(ctx, "tenant_id = ? AND kind = ? AND upstream_id = ?", tenantID, string(kind), upstreamID)
}

func (r *GormRecordRepository) first(ctx context.Context, query string, args ...any) (*provisioning.Record, error) {
	var model models.ProvisionedRecordModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// Create inserts a record, assigning its ID. A unique violation on
// (tenant_id, kind, natural_key) yields shared.ErrAlreadyExists.
func (r *GormRecordRepository) Create(ctx context.Context, record *provisioning.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	var model models.ProvisionedRecordModel
	if err := model.FromDomain(record); err != nil {
		record.ID = uuid.Nil
		return err
	}

	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		record.ID = uuid.Nil
		if isDuplicateKey(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateSecrets replaces the secret columns and updated_at of a record
func (r *GormRecordRepository) UpdateSecrets(ctx context.Context, id uuid.UUID, secrets provisioning.Secrets) error {
	if !secrets.IsEmpty() && !secrets.Encrypted {
		return provisioning.ErrPlaintextSecrets
	}

	result := r.db.WithContext(ctx).
		Model(&models.ProvisionedRecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"api_key_cipher":    secrets.APIKey,
			"secret_key_cipher": secrets.SecretKey,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// isDuplicateKey reports a unique constraint violation. TranslateError covers
// the drivers that support it; the message checks cover connections opened
// without it.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

var _ provisioning.RecordRepository = (*GormRecordRepository)(nil)
