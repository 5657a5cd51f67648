package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/google/uuid"
)

// ProvisionedRecordModel is the persistence model for provisioning.Record.
// Credentials are stored only as ciphertext.
type ProvisionedRecordModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key"`
	TenantID         string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_provisioned_records_natural_key,priority:1;index:idx_provisioned_records_upstream,priority:1"`
	Kind             string    `gorm:"type:varchar(16);not null;uniqueIndex:uq_provisioned_records_natural_key,priority:2;index:idx_provisioned_records_upstream,priority:2"`
	NaturalKey       string    `gorm:"type:varchar(20);not null;uniqueIndex:uq_provisioned_records_natural_key,priority:3"`
	UpstreamID       string    `gorm:"type:varchar(64);index:idx_provisioned_records_upstream,priority:3"`
	BusinessName     string    `gorm:"type:varchar(255)"`
	ProviderID       string    `gorm:"type:varchar(64)"`
	ProviderUID      string    `gorm:"type:varchar(64);not null"`
	APIKeyCipher     string    `gorm:"type:text;column:api_key_cipher"`
	SecretKeyCipher  string    `gorm:"type:text;column:secret_key_cipher"`
	SubResourcesJSON string    `gorm:"type:text;column:sub_resources"`
	ProfileJSON      string    `gorm:"type:text;column:profile"`
	Status           string    `gorm:"type:varchar(20);not null;default:'active'"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProvisionedRecordModel) TableName() string {
	return "provisioned_records"
}

// ToDomain converts the persistence model to a domain Record
func (m *ProvisionedRecordModel) ToDomain() (*provisioning.Record, error) {
	rec := &provisioning.Record{
		ID:           m.ID,
		Kind:         provisioning.Kind(m.Kind),
		TenantID:     m.TenantID,
		NaturalKey:   m.NaturalKey,
		BusinessName: m.BusinessName,
		UpstreamID:   m.UpstreamID,
		ProviderID:   m.ProviderID,
		ProviderUID:  m.ProviderUID,
		SubResources: []provisioning.SubResource{},
		Status:       provisioning.Status(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}

	if m.APIKeyCipher != "" || m.SecretKeyCipher != "" {
		rec.Secrets = &provisioning.Secrets{
			APIKey:    m.APIKeyCipher,
			SecretKey: m.SecretKeyCipher,
			Encrypted: true,
		}
	}
	if m.SubResourcesJSON != "" {
		if err := json.Unmarshal([]byte(m.SubResourcesJSON), &rec.SubResources); err != nil {
			return nil, fmt.Errorf("decode sub_resources of record %s: %w", m.ID, err)
		}
	}
	if m.ProfileJSON != "" {
		if err := json.Unmarshal([]byte(m.ProfileJSON), &rec.Profile); err != nil {
			return nil, fmt.Errorf("decode profile of record %s: %w", m.ID, err)
		}
	}
	return rec, nil
}

// FromDomain populates the persistence model from a domain Record. It refuses
// plaintext secrets.
func (m *ProvisionedRecordModel) FromDomain(rec *provisioning.Record) error {
	m.ID = rec.ID
	m.TenantID = rec.TenantID
	m.Kind = string(rec.Kind)
	m.NaturalKey = rec.NaturalKey
	m.UpstreamID = rec.UpstreamID
	m.BusinessName = rec.BusinessName
	m.ProviderID = rec.ProviderID
	m.ProviderUID = rec.ProviderUID
	m.Status = string(rec.Status)
	m.CreatedAt = rec.CreatedAt
	m.UpdatedAt = rec.UpdatedAt

	m.APIKeyCipher, m.SecretKeyCipher = "", ""
	if !rec.Secrets.IsEmpty() {
		if !rec.Secrets.Encrypted {
			return provisioning.ErrPlaintextSecrets
		}
		m.APIKeyCipher = rec.Secrets.APIKey
		m.SecretKeyCipher = rec.Secrets.SecretKey
	}

	subResources := rec.SubResources
	if subResources == nil {
		subResources = []provisioning.SubResource{}
	}
	sub, err := json.Marshal(subResources)
	if err != nil {
		return fmt.Errorf("encode sub_resources: %w", err)
	}
	m.SubResourcesJSON = string(sub)

	profile, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	m.ProfileJSON = string(profile)
	return nil
}
