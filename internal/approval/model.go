package approval

import (
	"time"

	"github.com/KromaEnergia/contract-engine/internal/store"
)

type RequestStatus string

const (
	RequestPending     RequestStatus = "pending"
	RequestApproved    RequestStatus = "approved"
	RequestRejected    RequestStatus = "rejected"
	RequestImplemented RequestStatus = "implemented"
)

// ChangeRequest is a proposed change that needs multi-level sign-off before
// it can be implemented.
type ChangeRequest struct {
	store.Base
	TenantID      string        `gorm:"type:varchar(36);not null;uniqueIndex:idx_change_requests_code,priority:1" json:"tenantId"`
	ProjectID     string        `gorm:"type:varchar(36);not null;index" json:"projectId"`
	ContractID    *string       `gorm:"type:varchar(36);index" json:"contractId,omitempty"`
	Code          string        `gorm:"size:20;not null;uniqueIndex:idx_change_requests_code,priority:2" json:"code"`
	Title         string        `gorm:"size:200;not null" json:"title"`
	Description   string        `gorm:"size:2000" json:"description"`
	Status        RequestStatus `gorm:"size:20;not null" json:"status"`
	RequestedBy   string        `gorm:"type:varchar(64);not null" json:"requestedBy"`
	ImplementedAt *time.Time    `json:"implementedAt,omitempty"`
	Version       int           `gorm:"not null" json:"version"`
	Approvals     []Approval    `gorm:"foreignKey:ChangeRequestID" json:"approvals,omitempty"`
}

func (ChangeRequest) TableName() string     { return "change_requests" }
func (r *ChangeRequest) TenantKey() *string { return &r.TenantID }

// Chain rebuilds the approval chain from the request's approvals, which must
// be ordered by sequence.
func (r *ChangeRequest) Chain() Chain {
	steps := make([]Step, len(r.Approvals))
	for i, a := range r.Approvals {
		steps[i] = Step{Level: a.Level, Status: a.Status}
	}
	return Chain{Steps: steps}
}

// Approval is one level of a change request's chain.
type Approval struct {
	store.Base
	TenantID        string     `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ChangeRequestID string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_change_request_approvals_level,priority:1" json:"changeRequestId"`
	Level           Level      `gorm:"size:20;not null;uniqueIndex:idx_change_request_approvals_level,priority:2" json:"level"`
	Sequence        int        `gorm:"not null" json:"sequence"`
	Status          StepStatus `gorm:"size:20;not null" json:"status"`
	ApproverID      *string    `gorm:"type:varchar(64)" json:"approverId,omitempty"`
	DecidedAt       *time.Time `json:"decidedAt,omitempty"`
	Comment         string     `gorm:"size:1000" json:"comment,omitempty"`
}

func (Approval) TableName() string     { return "change_request_approvals" }
func (a *Approval) TenantKey() *string { return &a.TenantID }
