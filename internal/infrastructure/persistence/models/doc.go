// Package models contains GORM persistence models mapped to database tables.
// They are kept apart from domain entities so the domain layer stays free of
// ORM concerns; each model converts to and from its domain type.
//
// The registry has a single table, provisioned_records, with a unique index
// on (tenant_id, kind, natural_key).
package models
