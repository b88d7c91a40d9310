package contract

import (
	"time"

	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
)

// Contract is the baseline every change order and certificate is measured
// against. TotalValue caches OriginalTotalValue plus the applied adjustments.
type Contract struct {
	store.Base
	TenantID                string              `gorm:"type:varchar(36);not null;uniqueIndex:idx_contracts_tenant_code,priority:1" json:"tenantId"`
	ProjectID               string              `gorm:"type:varchar(36);not null;index" json:"projectId"`
	Code                    string              `gorm:"size:50;not null;uniqueIndex:idx_contracts_tenant_code,priority:2" json:"code"`
	Title                   string              `gorm:"size:200;not null" json:"title"`
	ClientID                *string             `gorm:"type:varchar(36)" json:"clientId,omitempty"`
	Status                  Status              `gorm:"size:20;not null" json:"status"`
	Currency                string              `gorm:"size:3;not null" json:"currency"`
	OriginalTotalValue      decimal.Decimal     `gorm:"type:decimal(18,2);not null" json:"originalTotalValue"`
	TotalValue              decimal.Decimal     `gorm:"type:decimal(18,2);not null" json:"totalValue"`
	DefaultRetentionPercent decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"defaultRetentionPercent"`
	StartDate               *time.Time          `json:"startDate,omitempty"`
	EndDate                 *time.Time          `json:"endDate,omitempty"`
	Version                 int                 `gorm:"not null" json:"version"`
}

func (c *Contract) TenantKey() *string { return &c.TenantID }

// Open reports whether the contract still accepts financial changes.
func (c *Contract) Open() bool {
	return c.Status == StatusDraft || c.Status == StatusActive
}

// Line is a priced scope item. Amount is always Quantity x UnitPrice.
type Line struct {
	store.Base
	TenantID            string          `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ContractID          string          `gorm:"type:varchar(36);not null;index" json:"contractId"`
	ProjectBudgetLineID *string         `gorm:"type:varchar(36)" json:"projectBudgetLineId,omitempty"`
	Description         string          `gorm:"size:500;not null" json:"description"`
	Quantity            decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"quantity"`
	UnitPrice           decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unitPrice"`
	Amount              decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
}

func (Line) TableName() string     { return "contract_lines" }
func (l *Line) TenantKey() *string { return &l.TenantID }

type BudgetStatus string

const (
	BudgetPlanned   BudgetStatus = "planned"
	BudgetApproved  BudgetStatus = "approved"
	BudgetLocked    BudgetStatus = "locked"
	BudgetCancelled BudgetStatus = "cancelled"
)

// BudgetLine is the planned cost breakdown compared against expenses.
type BudgetLine struct {
	store.Base
	TenantID    string          `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ContractID  string          `gorm:"type:varchar(36);not null;index" json:"contractId"`
	CostCode    string          `gorm:"size:50" json:"costCode"`
	Category    string          `gorm:"size:100;not null" json:"category"`
	CostType    string          `gorm:"size:50" json:"costType"`
	Description string          `gorm:"size:500" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unitPrice"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"totalAmount"`
	Status      BudgetStatus    `gorm:"size:20;not null" json:"status"`
}

func (BudgetLine) TableName() string     { return "contract_budget_lines" }
func (b *BudgetLine) TenantKey() *string { return &b.TenantID }

// GroupKey is the variance grouping: cost code, or category when unset.
func (b BudgetLine) GroupKey() string {
	if b.CostCode != "" {
		return b.CostCode
	}
	return b.Category
}

type ExpenseStatus string

const (
	ExpensePlanned   ExpenseStatus = "planned"
	ExpenseRecorded  ExpenseStatus = "recorded"
	ExpenseApproved  ExpenseStatus = "approved"
	ExpensePaid      ExpenseStatus = "paid"
	ExpenseCancelled ExpenseStatus = "cancelled"
)

// Expense is actual cost booked against the contract. Its workflow lives in
// the reconciliation package; it is declared here so the ledger can report
// budget variance without an import cycle.
type Expense struct {
	store.Base
	TenantID     string              `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ContractID   string              `gorm:"type:varchar(36);not null;index" json:"contractId"`
	BudgetLineID *string             `gorm:"type:varchar(36);index" json:"budgetLineId,omitempty"`
	CostCode     string              `gorm:"size:50" json:"costCode"`
	Category     string              `gorm:"size:100" json:"category"`
	Description  string              `gorm:"size:500" json:"description"`
	Quantity     decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"quantity"`
	UnitCost     decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"unitCost"`
	Amount       decimal.Decimal     `gorm:"type:decimal(18,2);not null" json:"amount"`
	Currency     string              `gorm:"size:3;not null" json:"currency"`
	ExpenseDate  time.Time           `gorm:"not null" json:"expenseDate"`
	Status       ExpenseStatus       `gorm:"size:20;not null" json:"status"`
}

func (Expense) TableName() string     { return "contract_expenses" }
func (e *Expense) TenantKey() *string { return &e.TenantID }

func (e Expense) GroupKey() string {
	if e.CostCode != "" {
		return e.CostCode
	}
	return e.Category
}

// Adjustment is one applied change order delta. ChangeOrderID is unique, so a
// delta can reach the ledger at most once.
type Adjustment struct {
	store.Base
	TenantID      string          `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ContractID    string          `gorm:"type:varchar(36);not null;index" json:"contractId"`
	ChangeOrderID string          `gorm:"type:varchar(36);not null;uniqueIndex" json:"changeOrderId"`
	Delta         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"delta"`
	AppliedAt     time.Time       `gorm:"not null" json:"appliedAt"`
}

func (Adjustment) TableName() string     { return "contract_value_adjustments" }
func (a *Adjustment) TenantKey() *string { return &a.TenantID }
