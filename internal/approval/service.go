package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/audit"
	"github.com/KromaEnergia/contract-engine/internal/contract"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/project"
	"github.com/KromaEnergia/contract-engine/internal/rbac"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"gorm.io/gorm"
)

const (
	entity         = rbac.EntityChangeRequest
	entityApproval = "change_request_approval"
)

type Service struct {
	deps platform.Deps
}

func NewService(deps platform.Deps) *Service {
	return &Service{deps: deps.WithDefaults()}
}

type RequestInput struct {
	TenantID    string  `json:"tenantId"`
	ProjectID   string  `json:"projectId" validate:"required"`
	ContractID  *string `json:"contractId"`
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=2000"`
	Levels      []Level `json:"levels"`
}

// Create opens a pending change request with one pending approval per level.
func (s *Service) Create(ctx context.Context, tc tenancy.Context, in RequestInput) (*ChangeRequest, error) {
	const op = "approval.Create"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	chain, err := NewChain(in.Levels...)
	if err != nil {
		return nil, s.deps.Failed(entity, err)
	}
	var req *ChangeRequest
	err = s.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		p, err := project.Find(tx, tc, in.ProjectID)
		if err != nil {
			return err
		}
		if in.ContractID != nil {
			c, err := contract.Find(tx, tc, *in.ContractID)
			if err != nil {
				return err
			}
			if c.ProjectID != p.ID {
				return apperr.Validation(op, "contract %s belongs to another project", c.Code)
			}
		}
		var n int64
		if err := tx.Model(&ChangeRequest{}).Scopes(tenancy.Scope(tc)).Count(&n).Error; err != nil {
			return err
		}
		req = &ChangeRequest{
			TenantID:    in.TenantID,
			ProjectID:   p.ID,
			ContractID:  in.ContractID,
			Code:        fmt.Sprintf("CR-%05d", n+1),
			Title:       in.Title,
			Description: in.Description,
			Status:      RequestPending,
			RequestedBy: tc.Actor.ID,
			Version:     1,
		}
		now := s.deps.Clock.Now()
		if err := store.Insert(tx, tc, p.TenantID, req, now); err != nil {
			return err
		}
		for i, step := range chain.Steps {
			a := Approval{ChangeRequestID: req.ID, Level: step.Level, Sequence: i + 1, Status: StepPending}
			if err := store.Insert(tx, tc, req.TenantID, &a, now); err != nil {
				return err
			}
			req.Approvals = append(req.Approvals, a)
		}
		return nil
	})
	if err != nil {
		return nil, s.deps.Failed(entity, err)
	}
	s.deps.Committed(ctx, platform.Event(tc, entity, req.ID, "created", nil, req, req.CreatedAt))
	return req, nil
}

type Decision struct {
	Level   Level  `json:"level" validate:"required"`
	Approve bool   `json:"approve"`
	Comment string `json:"comment" validate:"max=1000"`
}

// Decide records one level's decision. Levels are decided strictly in order;
// a rejection rejects the request and freezes the remaining levels, and
// approving the last level approves the request. The requester cannot decide
// and one user cannot sign two levels of the same request.
func (s *Service) Decide(ctx context.Context, tc tenancy.Context, requestID string, d Decision) (*ChangeRequest, error) {
	const op = "approval.Decide"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, d); err != nil {
		return nil, err
	}
	if !d.Approve && strings.TrimSpace(d.Comment) == "" {
		return nil, s.deps.Failed(entity, apperr.Validation(op, "a rejection needs a comment"))
	}
	var (
		req    ChangeRequest
		events []audit.Event
	)
	err := s.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		events = events[:0]
		loaded, err := lock(tx, tc, requestID)
		if err != nil {
			return err
		}
		req = *loaded
		before := req

		chain := req.Chain()
		if err := chain.CanDecide(d.Level); err != nil {
			return err
		}
		if req.RequestedBy == tc.Actor.ID {
			return apperr.Policy(op, "the requester of %s cannot decide it", req.Code)
		}
		for _, a := range req.Approvals {
			if a.ApproverID != nil && *a.ApproverID == tc.Actor.ID {
				return apperr.Policy(op, "user %s already decided %s of %s", tc.Actor.ID, a.Level, req.Code)
			}
		}
		if !s.deps.Authz.CanApprove(tc.Actor, string(d.Level), entity) {
			return apperr.Policy(op, "user %s may not decide %s", tc.Actor.ID, d.Level)
		}
		outcome, err := chain.Decide(d.Level, d.Approve)
		if err != nil {
			return err
		}

		now := s.deps.Clock.Now()
		actor := tc.Actor.ID
		for i := range req.Approvals {
			a := &req.Approvals[i]
			if a.Level != d.Level {
				continue
			}
			prev := *a
			a.Status = chain.Steps[i].Status
			a.ApproverID = &actor
			a.DecidedAt = &now
			a.Comment = d.Comment
			if err := store.Save(tx, tc, a, now); err != nil {
				return err
			}
			events = append(events, platform.Event(tc, entityApproval, a.ID, string(a.Status), prev, a, now))
		}

		switch outcome {
		case OutcomeApproved:
			req.Status = RequestApproved
		case OutcomeRejected:
			req.Status = RequestRejected
		}
		if err := touch(tx, tc, &req, now); err != nil {
			return err
		}
		if req.Status != before.Status {
			events = append(events, platform.Event(tc, entity, req.ID, string(req.Status), before, req, now))
		}
		return nil
	})
	if err != nil {
		return nil, s.deps.Failed(entity, err)
	}
	s.deps.Committed(ctx, events...)
	return &req, nil
}

// Implement marks an approved request as carried out.
func (s *Service) Implement(ctx context.Context, tc tenancy.Context, requestID string) (*ChangeRequest, error) {
	const op = "approval.Implement"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	var req, before ChangeRequest
	err := s.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		loaded, err := lock(tx, tc, requestID)
		if err != nil {
			return err
		}
		req, before = *loaded, *loaded
		if req.Status != RequestApproved {
			return apperr.InvalidTransition(op, entity, string(req.Status), string(RequestImplemented))
		}
		now := s.deps.Clock.Now()
		req.Status = RequestImplemented
		req.ImplementedAt = &now
		return touch(tx, tc, &req, now)
	})
	if err != nil {
		return nil, s.deps.Failed(entity, err)
	}
	s.deps.Committed(ctx, platform.Event(tc, entity, req.ID, string(RequestImplemented), before, req, req.UpdatedAt))
	return &req, nil
}

func (s *Service) Get(ctx context.Context, tc tenancy.Context, id string) (*ChangeRequest, error) {
	return load(s.deps.Store.DB(ctx), tc, id, false)
}

func (s *Service) List(ctx context.Context, tc tenancy.Context, projectID string) ([]ChangeRequest, error) {
	q := s.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc))
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	var list []ChangeRequest
	err := q.Order("code").Find(&list).Error
	return list, err
}

func lock(tx *gorm.DB, tc tenancy.Context, id string) (*ChangeRequest, error) {
	return load(tx, tc, id, true)
}

func load(db *gorm.DB, tc tenancy.Context, id string, forUpdate bool) (*ChangeRequest, error) {
	var req ChangeRequest
	find := store.Find
	if forUpdate {
		find = store.FindForUpdate
	}
	if err := find(db, tc, entity, id, &req); err != nil {
		return nil, err
	}
	if err := db.Scopes(tenancy.Scope(tc)).
		Where("change_request_id = ?", req.ID).
		Order("sequence").
		Find(&req.Approvals).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// touch writes the request's status guarded by its version.
func touch(tx *gorm.DB, tc tenancy.Context, req *ChangeRequest, now time.Time) error {
	res := tx.Model(&ChangeRequest{}).
		Where("id = ? AND tenant_id = ? AND version = ?", req.ID, tc.TenantID, req.Version).
		Updates(map[string]any{
			"version":        req.Version + 1,
			"status":         req.Status,
			"implemented_at": req.ImplementedAt,
			"updated_by":     tc.Actor.ID,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.Concurrent("approval.touch", nil)
	}
	req.Version++
	req.UpdatedBy = tc.Actor.ID
	req.UpdatedAt = now
	return nil
}
