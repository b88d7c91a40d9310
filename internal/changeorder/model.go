package changeorder

import (
	"time"

	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusProposed  Status = "proposed"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// ChangeOrder is a signed modification of a contract's value. AmountDelta is
// always the sum of its lines once proposed.
type ChangeOrder struct {
	store.Base
	TenantID          string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_change_orders_code,priority:1" json:"tenantId"`
	ContractID        string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_change_orders_code,priority:2" json:"contractId"`
	ProjectID         string          `gorm:"type:varchar(36);not null;index" json:"projectId"`
	Code              string          `gorm:"size:20;not null;uniqueIndex:idx_change_orders_code,priority:3" json:"code"`
	Title             string          `gorm:"size:200;not null" json:"title"`
	Reason            string          `gorm:"size:1000" json:"reason"`
	Status            Status          `gorm:"size:20;not null" json:"status"`
	Currency          string          `gorm:"size:3;not null" json:"currency"`
	AmountDelta       decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amountDelta"`
	ProposedBy        *string         `gorm:"type:varchar(64)" json:"proposedBy,omitempty"`
	ProposedAt        *time.Time      `json:"proposedAt,omitempty"`
	DecidedBy         *string         `gorm:"type:varchar(64)" json:"decidedBy,omitempty"`
	DecidedAt         *time.Time      `json:"decidedAt,omitempty"`
	RejectionReason   string          `gorm:"size:1000" json:"rejectionReason,omitempty"`
	CancelledAt       *time.Time      `json:"cancelledAt,omitempty"`
	AppliedToLedgerAt *time.Time      `json:"appliedToLedgerAt,omitempty"`
	Lines             []Line          `gorm:"foreignKey:ChangeOrderID" json:"lines,omitempty"`
}

func (ChangeOrder) TableName() string     { return "change_orders" }
func (c *ChangeOrder) TenantKey() *string { return &c.TenantID }

// Line is one priced delta. It originates from at most one contract line or
// budget line.
type Line struct {
	store.Base
	TenantID       string          `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ChangeOrderID  string          `gorm:"type:varchar(36);not null;index" json:"changeOrderId"`
	ContractLineID *string         `gorm:"type:varchar(36)" json:"contractLineId,omitempty"`
	BudgetLineID   *string         `gorm:"type:varchar(36)" json:"budgetLineId,omitempty"`
	Description    string          `gorm:"size:500;not null" json:"description"`
	QuantityDelta  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"quantityDelta"`
	UnitPriceDelta decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unitPriceDelta"`
	AmountDelta    decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amountDelta"`
}

func (Line) TableName() string     { return "change_order_lines" }
func (l *Line) TenantKey() *string { return &l.TenantID }
