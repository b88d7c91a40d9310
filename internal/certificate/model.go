package certificate

import (
	"time"

	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Certificate is an interim payment certificate (IPC) for one billing period.
// RetentionPercent, RetentionAmount and AmountPayable are resolved when the
// certificate is approved and never recomputed afterwards.
type Certificate struct {
	store.Base
	TenantID                 string              `gorm:"type:varchar(36);not null;uniqueIndex:idx_certificates_code,priority:1" json:"tenantId"`
	ContractID               string              `gorm:"type:varchar(36);not null;uniqueIndex:idx_certificates_code,priority:2" json:"contractId"`
	ProjectID                string              `gorm:"type:varchar(36);not null;index" json:"projectId"`
	Code                     string              `gorm:"size:20;not null;uniqueIndex:idx_certificates_code,priority:3" json:"code"`
	PeriodNumber             int                 `gorm:"not null" json:"periodNumber"`
	PeriodStart              *time.Time          `json:"periodStart,omitempty"`
	PeriodEnd                *time.Time          `json:"periodEnd,omitempty"`
	Status                   Status              `gorm:"size:20;not null" json:"status"`
	Currency                 string              `gorm:"size:3;not null" json:"currency"`
	AmountBeforeRetention    decimal.Decimal     `gorm:"type:decimal(18,2);not null" json:"amountBeforeRetention"`
	CumulativeValue          decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"cumulativeValue"`
	RetentionPercentOverride decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"retentionPercentOverride"`
	RetentionPercent         decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"retentionPercent"`
	RetentionAmount          decimal.Decimal     `gorm:"type:decimal(18,2);not null" json:"retentionAmount"`
	AmountPayable            decimal.Decimal     `gorm:"type:decimal(18,2);not null" json:"amountPayable"`
	SubmittedBy              *string             `gorm:"type:varchar(64)" json:"submittedBy,omitempty"`
	SubmittedAt              *time.Time          `json:"submittedAt,omitempty"`
	DecidedBy                *string             `gorm:"type:varchar(64)" json:"decidedBy,omitempty"`
	DecidedAt                *time.Time          `json:"decidedAt,omitempty"`
	RejectionReason          string              `gorm:"size:1000" json:"rejectionReason,omitempty"`
	OutOfOrderOverride       bool                `gorm:"not null;default:false" json:"outOfOrderOverride"`
	CancelledAt              *time.Time          `json:"cancelledAt,omitempty"`
}

func (Certificate) TableName() string     { return "contract_payment_certificates" }
func (c *Certificate) TenantKey() *string { return &c.TenantID }

// Live reports whether the certificate still occupies its billing period.
func (c *Certificate) Live() bool {
	return c.Status != StatusRejected && c.Status != StatusCancelled
}

// Pending reports whether the certificate is still awaiting a decision.
func (c *Certificate) Pending() bool {
	return c.Status == StatusDraft || c.Status == StatusSubmitted
}
