package reconciliation

import (
	"time"

	"github.com/KromaEnergia/contract-engine/internal/contract"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/shopspring/decimal"
)

// ActualPayment is money that actually moved. Overpayment marks a payment
// that took the certificate's cumulative payments past its amount payable.
type ActualPayment struct {
	store.Base
	TenantID      string          `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ContractID    string          `gorm:"type:varchar(36);not null;index" json:"contractId"`
	CertificateID *string         `gorm:"type:varchar(36);index" json:"certificateId,omitempty"`
	ScheduleID    *string         `gorm:"type:varchar(36);index" json:"scheduleId,omitempty"`
	AmountPaid    decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amountPaid"`
	Currency      string          `gorm:"size:3;not null" json:"currency"`
	PaidDate      time.Time       `gorm:"not null" json:"paidDate"`
	PaymentMethod string          `gorm:"size:50" json:"paymentMethod"`
	Reference     string          `gorm:"size:100" json:"reference"`
	Overpayment   bool            `gorm:"not null;default:false" json:"overpayment"`
}

func (ActualPayment) TableName() string     { return "contract_actual_payments" }
func (p *ActualPayment) TenantKey() *string { return &p.TenantID }

type ScheduleStatus string

const (
	SchedulePlanned   ScheduleStatus = "planned"
	ScheduleDue       ScheduleStatus = "due"
	SchedulePaid      ScheduleStatus = "paid"
	ScheduleOverdue   ScheduleStatus = "overdue"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// ScheduledPayment is a planned milestone amount, distinct from the payments
// that settle it.
type ScheduledPayment struct {
	store.Base
	TenantID        string          `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ContractID      string          `gorm:"type:varchar(36);not null;index" json:"contractId"`
	Description     string          `gorm:"size:500;not null" json:"description"`
	DueDate         time.Time       `gorm:"not null" json:"dueDate"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Currency        string          `gorm:"size:3;not null" json:"currency"`
	Status          ScheduleStatus  `gorm:"size:20;not null" json:"status"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	ActualPaymentID *string         `gorm:"type:varchar(36)" json:"actualPaymentId,omitempty"`
}

func (ScheduledPayment) TableName() string     { return "contract_payments" }
func (s *ScheduledPayment) TenantKey() *string { return &s.TenantID }

// Open reports whether the entry still expects money.
func (s *ScheduledPayment) Open() bool {
	return s.Status == SchedulePlanned || s.Status == ScheduleDue || s.Status == ScheduleOverdue
}

// ExpenseEvent is the immutable history of an expense's status. From is
// empty for the row written at creation.
type ExpenseEvent struct {
	store.Base
	TenantID  string                 `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ExpenseID string                 `gorm:"type:varchar(36);not null;index" json:"expenseId"`
	From      contract.ExpenseStatus `gorm:"column:from_status;size:20" json:"from"`
	To        contract.ExpenseStatus `gorm:"column:to_status;size:20;not null" json:"to"`
	Note      string                 `gorm:"size:1000" json:"note,omitempty"`
}

func (ExpenseEvent) TableName() string     { return "contract_expense_status_events" }
func (e *ExpenseEvent) TenantKey() *string { return &e.TenantID }
