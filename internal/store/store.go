// Package store is the tenant-scoped persistence layer every engine writes
// through. It owns three rules:
//
//   - a new row's tenant is derived from its parent (Insert);
//   - every read is filtered by the acting tenant, and a row owned by another
//     tenant is reported as not found (Find, FindForUpdate);
//   - a mutation runs in one transaction, retried a bounded number of times
//     when the database reports a concurrent modification (Store.InTx).
package store

import (
	"errors"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Base holds the identity and authorship columns shared by every row.
type Base struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedBy string    `gorm:"type:varchar(64);not null" json:"createdBy"`
	UpdatedBy string    `gorm:"type:varchar(64);not null" json:"updatedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *Base) Meta() *Base { return b }

// Record is implemented by every tenant-owned model: Base is embedded and
// TenantKey points at the model's tenant_id column.
type Record interface {
	Meta() *Base
	TenantKey() *string
}

// Insert creates a child row. parentTenantID is the tenant of the row it hangs
// off, already loaded through the acting tenant's scope.
func Insert(tx *gorm.DB, tc tenancy.Context, parentTenantID string, rec Record, at time.Time) error {
	tenantID, err := tenancy.Derive(parentTenantID, *rec.TenantKey())
	if err != nil {
		return err
	}
	if tenantID != tc.TenantID {
		return apperr.TenantMismatch("store.Insert", tc.TenantID, tenantID)
	}
	*rec.TenantKey() = tenantID

	m := rec.Meta()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedBy = tc.Actor.ID
	m.UpdatedBy = tc.Actor.ID
	m.CreatedAt = at
	m.UpdatedAt = at
	return tx.Omit(clause.Associations).Create(rec).Error
}

// Save writes every column of an existing row.
func Save(tx *gorm.DB, tc tenancy.Context, rec Record, at time.Time) error {
	if *rec.TenantKey() != tc.TenantID {
		return apperr.TenantMismatch("store.Save", tc.TenantID, *rec.TenantKey())
	}
	m := rec.Meta()
	m.UpdatedBy = tc.Actor.ID
	m.UpdatedAt = at
	return tx.Omit(clause.Associations).Save(rec).Error
}

// Find loads dest by primary key within the acting tenant.
func Find(tx *gorm.DB, tc tenancy.Context, entity, id string, dest any) error {
	return find(tx.Scopes(tenancy.Scope(tc)), entity, id, dest)
}

// FindForUpdate is Find with a row lock held until the transaction ends.
func FindForUpdate(tx *gorm.DB, tc tenancy.Context, entity, id string, dest any) error {
	q := tx.Scopes(tenancy.Scope(tc)).Clauses(clause.Locking{Strength: "UPDATE"})
	return find(q, entity, id, dest)
}

func find(q *gorm.DB, entity, id string, dest any) error {
	if id == "" {
		return apperr.Validation("store.Find", "%s id is required", entity)
	}
	err := q.Where("id = ?", id).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("store.Find", entity, id)
	}
	return err
}
