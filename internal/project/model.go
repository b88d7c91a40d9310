package project

import (
	"time"

	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/shopspring/decimal"
)

// Tenant is provisioned outside this module; the engine only reads its
// financial defaults.
type Tenant struct {
	ID                      string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name                    string              `gorm:"size:200;not null" json:"name"`
	DefaultCurrency         string              `gorm:"size:3;not null;default:'USD'" json:"defaultCurrency"`
	DefaultRetentionPercent decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"defaultRetentionPercent"`
	CreatedAt               time.Time           `json:"createdAt"`
	UpdatedAt               time.Time           `json:"updatedAt"`
}

type Project struct {
	store.Base
	TenantID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_projects_tenant_code,priority:1" json:"tenantId"`
	Code     string `gorm:"size:50;not null;uniqueIndex:idx_projects_tenant_code,priority:2" json:"code"`
	Name     string `gorm:"size:200;not null" json:"name"`
}

func (p *Project) TenantKey() *string { return &p.TenantID }
