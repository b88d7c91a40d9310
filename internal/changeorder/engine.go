// Package changeorder proposes, decides and applies signed deltas to a
// contract's value.
//
//	draft ──► proposed ──► approved (delta applied to the ledger)
//	  │          ├───────► rejected
//	  └──────────┴───────► cancelled
//
// Approved, rejected and cancelled are terminal. A correction to an approved
// order is a new, offsetting change order.
package changeorder

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/audit"
	"github.com/KromaEnergia/contract-engine/internal/contract"
	"github.com/KromaEnergia/contract-engine/internal/money"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/rbac"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	entity     = rbac.EntityChangeOrder
	entityLine = "change_order_line"
)

var transitions = map[Status][]Status{
	StatusDraft:    {StatusProposed, StatusCancelled},
	StatusProposed: {StatusApproved, StatusRejected, StatusCancelled},
}

type Engine struct {
	deps   platform.Deps
	ledger *contract.Ledger
}

func NewEngine(deps platform.Deps) *Engine {
	deps = deps.WithDefaults()
	return &Engine{deps: deps, ledger: contract.NewLedger(deps)}
}

type Input struct {
	TenantID string `json:"tenantId"`
	Title    string `json:"title" validate:"required,max=200"`
	Reason   string `json:"reason" validate:"max=1000"`
	Currency string `json:"currency"`
}

// Create drafts a change order against an open contract. Codes run CO-000001,
// CO-000002, ... per contract.
func (e *Engine) Create(ctx context.Context, tc tenancy.Context, contractID string, in Input) (*ChangeOrder, error) {
	const op = "changeorder.Create"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	co := &ChangeOrder{
		TenantID:    in.TenantID,
		ContractID:  contractID,
		Title:       in.Title,
		Reason:      in.Reason,
		Status:      StatusDraft,
		AmountDelta: decimal.Zero,
	}
	err := e.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		c, err := contract.Lock(tx, tc, contractID)
		if err != nil {
			return err
		}
		if !c.Open() {
			return apperr.InvalidState(op, "contract is %s", c.Status)
		}
		if in.Currency != "" && in.Currency != c.Currency {
			return apperr.Validation(op, "currency %s differs from contract currency %s", in.Currency, c.Currency)
		}
		var n int64
		if err := tx.Model(&ChangeOrder{}).Where("contract_id = ?", c.ID).Count(&n).Error; err != nil {
			return err
		}
		co.ProjectID = c.ProjectID
		co.Currency = c.Currency
		co.Code = fmt.Sprintf("CO-%06d", n+1)
		return store.Insert(tx, tc, c.TenantID, co, e.deps.Clock.Now())
	})
	if err != nil {
		return nil, e.deps.Failed(entity, err)
	}
	e.deps.Committed(ctx, platform.Event(tc, entity, co.ID, "created", nil, co, co.CreatedAt))
	return co, nil
}

type LineInput struct {
	TenantID       string              `json:"tenantId"`
	ContractLineID *string             `json:"contractLineId"`
	BudgetLineID   *string             `json:"budgetLineId"`
	Description    string              `json:"description" validate:"required,max=500"`
	QuantityDelta  decimal.Decimal     `json:"quantityDelta"`
	UnitPriceDelta decimal.Decimal     `json:"unitPriceDelta"`
	AmountDelta    decimal.NullDecimal `json:"amountDelta"`
}

// AddLine appends a line to a draft order. A supplied amount delta is taken
// as is; otherwise it is derived from the origin line as
// (q+Δq)(p+Δp) - q·p.
func (e *Engine) AddLine(ctx context.Context, tc tenancy.Context, changeOrderID string, in LineInput) (*Line, error) {
	const op = "changeorder.AddLine"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	if in.ContractLineID != nil && in.BudgetLineID != nil {
		return nil, apperr.Validation(op, "a line references a contract line or a budget line, not both")
	}
	l := &Line{
		TenantID:       in.TenantID,
		ChangeOrderID:  changeOrderID,
		ContractLineID: in.ContractLineID,
		BudgetLineID:   in.BudgetLineID,
		Description:    in.Description,
		QuantityDelta:  in.QuantityDelta,
		UnitPriceDelta: in.UnitPriceDelta,
	}
	var co ChangeOrder
	err := e.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		co = ChangeOrder{}
		if err := e.lockDraft(tx, tc, op, changeOrderID, &co); err != nil {
			return err
		}
		q, p, hasOrigin, err := origin(tx, tc, op, co.ContractID, in)
		if err != nil {
			return err
		}
		switch {
		case in.AmountDelta.Valid:
			l.AmountDelta = money.Round(in.AmountDelta.Decimal)
		case hasOrigin:
			l.AmountDelta = money.Extend(q.Add(in.QuantityDelta), p.Add(in.UnitPriceDelta)).Sub(money.Extend(q, p))
		default:
			return apperr.Validation(op, "amount delta is required for a line without an origin")
		}
		now := e.deps.Clock.Now()
		if err := store.Insert(tx, tc, co.TenantID, l, now); err != nil {
			return err
		}
		return recalcTotal(tx, tc, &co, now)
	})
	if err != nil {
		return nil, e.deps.Failed(entityLine, err)
	}
	e.deps.Committed(ctx, platform.Event(tc, entityLine, l.ID, "created", nil, l, l.CreatedAt))
	return l, nil
}

// origin loads the quantity and unit price of the line a delta modifies. Both
// kinds of origin must belong to the change order's contract.
func origin(tx *gorm.DB, tc tenancy.Context, op, contractID string, in LineInput) (q, p decimal.Decimal, ok bool, err error) {
	switch {
	case in.ContractLineID != nil:
		var cl contract.Line
		if err := store.Find(tx, tc, "contract_line", *in.ContractLineID, &cl); err != nil {
			return q, p, false, err
		}
		if cl.ContractID != contractID {
			return q, p, false, apperr.Validation(op, "contract line %s belongs to another contract", cl.ID)
		}
		return cl.Quantity, cl.UnitPrice, true, nil
	case in.BudgetLineID != nil:
		var bl contract.BudgetLine
		if err := store.Find(tx, tc, "contract_budget_line", *in.BudgetLineID, &bl); err != nil {
			return q, p, false, err
		}
		if bl.ContractID != contractID {
			return q, p, false, apperr.Validation(op, "budget line %s belongs to another contract", bl.ID)
		}
		return bl.Quantity, bl.UnitPrice, true, nil
	}
	return q, p, false, nil
}

// RemoveLine deletes a line from a draft order. Draft lines have never been
// part of a committed financial state.
func (e *Engine) RemoveLine(ctx context.Context, tc tenancy.Context, lineID string) error {
	const op = "changeorder.RemoveLine"
	if err := tc.Valid(); err != nil {
		return err
	}
	var l Line
	err := e.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		if err := store.Find(tx, tc, entityLine, lineID, &l); err != nil {
			return err
		}
		var co ChangeOrder
		if err := e.lockDraft(tx, tc, op, l.ChangeOrderID, &co); err != nil {
			return err
		}
		if err := tx.Scopes(tenancy.Scope(tc)).Delete(&Line{}, "id = ?", l.ID).Error; err != nil {
			return err
		}
		return recalcTotal(tx, tc, &co, e.deps.Clock.Now())
	})
	if err != nil {
		return e.deps.Failed(entityLine, err)
	}
	e.deps.Committed(ctx, platform.Event(tc, entityLine, l.ID, "removed", l, nil, e.deps.Clock.Now()))
	return nil
}

func (e *Engine) lockDraft(tx *gorm.DB, tc tenancy.Context, op, id string, co *ChangeOrder) error {
	if err := store.FindForUpdate(tx, tc, entity, id, co); err != nil {
		return err
	}
	if co.Status != StatusDraft {
		return apperr.InvalidState(op, "change order %s is %s; lines can only change while draft", co.Code, co.Status)
	}
	return nil
}

// recalcTotal re-sums the order's lines into AmountDelta.
func recalcTotal(tx *gorm.DB, tc tenancy.Context, co *ChangeOrder, now time.Time) error {
	lines, err := loadLines(tx, tc, co.ID)
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.AmountDelta)
	}
	co.AmountDelta = total
	co.Lines = lines
	return store.Save(tx, tc, co, now)
}

func loadLines(tx *gorm.DB, tc tenancy.Context, changeOrderID string) ([]Line, error) {
	var lines []Line
	err := tx.Scopes(tenancy.Scope(tc)).
		Where("change_order_id = ?", changeOrderID).
		Order("created_at, id").
		Find(&lines).Error
	return lines, err
}

// Propose submits a draft for decision. The total is recomputed from the
// lines; a separately edited amount is never trusted.
func (e *Engine) Propose(ctx context.Context, tc tenancy.Context, id string) (*ChangeOrder, error) {
	const op = "changeorder.Propose"
	return e.transition(ctx, tc, op, id, StatusProposed, func(tx *gorm.DB, co *ChangeOrder) error {
		lines, err := loadLines(tx, tc, co.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return apperr.Validation(op, "change order %s has no lines", co.Code)
		}
		total := decimal.Zero
		for _, l := range lines {
			total = total.Add(l.AmountDelta)
		}
		now := e.deps.Clock.Now()
		actor := tc.Actor.ID
		co.AmountDelta = total
		co.Lines = lines
		co.ProposedBy = &actor
		co.ProposedAt = &now
		return nil
	})
}

// Approve decides a proposed order and applies its delta to the contract's
// value in the same transaction. The approver must differ from the proposer
// and hold final approval rights on change orders.
func (e *Engine) Approve(ctx context.Context, tc tenancy.Context, id string) (*ChangeOrder, error) {
	const op = "changeorder.Approve"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	var (
		co             ChangeOrder
		before         ChangeOrder
		c              *contract.Contract
		contractBefore contract.Contract
		applied        bool
	)
	err := e.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		applied = false
		var head ChangeOrder
		if err := store.Find(tx, tc, entity, id, &head); err != nil {
			return err
		}
		// Contract first, then the order: every path that touches both
		// locks in this order.
		var err error
		c, err = contract.Lock(tx, tc, head.ContractID)
		if err != nil {
			return err
		}
		contractBefore = *c
		co = ChangeOrder{}
		if err := store.FindForUpdate(tx, tc, entity, id, &co); err != nil {
			return err
		}
		before = co
		if !slices.Contains(transitions[co.Status], StatusApproved) {
			return apperr.InvalidTransition(op, entity, string(co.Status), string(StatusApproved))
		}
		if co.ProposedBy != nil && *co.ProposedBy == tc.Actor.ID {
			return apperr.Policy(op, "the proposer of %s cannot approve it", co.Code)
		}
		if !e.deps.Authz.CanApprove(tc.Actor, rbac.LevelFinal, entity) {
			return apperr.Policy(op, "user %s may not approve change orders", tc.Actor.ID)
		}
		if !c.Open() {
			return apperr.InvalidState(op, "contract is %s", c.Status)
		}

		now := e.deps.Clock.Now()
		if co.AppliedToLedgerAt == nil {
			if applied, err = e.ledger.ApplyDelta(tx, tc, c, co.AmountDelta, co.ID, now); err != nil {
				return err
			}
			co.AppliedToLedgerAt = &now
		}
		actor := tc.Actor.ID
		co.Status = StatusApproved
		co.DecidedBy = &actor
		co.DecidedAt = &now
		return store.Save(tx, tc, &co, now)
	})
	if err != nil {
		return nil, e.deps.Failed(entity, err)
	}
	events := []audit.Event{platform.Event(tc, entity, co.ID, string(StatusApproved), before, co, *co.DecidedAt)}
	if applied {
		events = append(events, platform.Event(tc, "contract", c.ID, "value_adjusted", contractBefore, c, *co.DecidedAt))
	}
	e.deps.Committed(ctx, events...)
	return &co, nil
}

// Reject closes a proposed order without touching the ledger.
func (e *Engine) Reject(ctx context.Context, tc tenancy.Context, id, reason string) (*ChangeOrder, error) {
	const op = "changeorder.Reject"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, e.deps.Failed(entity, apperr.Validation(op, "a rejection reason is required"))
	}
	return e.transition(ctx, tc, op, id, StatusRejected, func(_ *gorm.DB, co *ChangeOrder) error {
		if !e.deps.Authz.CanApprove(tc.Actor, rbac.LevelFinal, entity) {
			return apperr.Policy(op, "user %s may not reject change orders", tc.Actor.ID)
		}
		now := e.deps.Clock.Now()
		actor := tc.Actor.ID
		co.RejectionReason = reason
		co.DecidedBy = &actor
		co.DecidedAt = &now
		return nil
	})
}

// Cancel withdraws a draft or proposed order. An approved order can never be
// cancelled.
func (e *Engine) Cancel(ctx context.Context, tc tenancy.Context, id string) (*ChangeOrder, error) {
	return e.transition(ctx, tc, "changeorder.Cancel", id, StatusCancelled, func(_ *gorm.DB, co *ChangeOrder) error {
		now := e.deps.Clock.Now()
		co.CancelledAt = &now
		return nil
	})
}

func (e *Engine) transition(ctx context.Context, tc tenancy.Context, op, id string, to Status, apply func(tx *gorm.DB, co *ChangeOrder) error) (*ChangeOrder, error) {
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	var co, before ChangeOrder
	err := e.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		co = ChangeOrder{}
		if err := store.FindForUpdate(tx, tc, entity, id, &co); err != nil {
			return err
		}
		before = co
		if !slices.Contains(transitions[co.Status], to) {
			return apperr.InvalidTransition(op, entity, string(co.Status), string(to))
		}
		if err := apply(tx, &co); err != nil {
			return err
		}
		co.Status = to
		return store.Save(tx, tc, &co, e.deps.Clock.Now())
	})
	if err != nil {
		return nil, e.deps.Failed(entity, err)
	}
	e.deps.Committed(ctx, platform.Event(tc, entity, co.ID, string(to), before, co, co.UpdatedAt))
	return &co, nil
}

func (e *Engine) Get(ctx context.Context, tc tenancy.Context, id string) (*ChangeOrder, error) {
	db := e.deps.Store.DB(ctx)
	var co ChangeOrder
	if err := store.Find(db, tc, entity, id, &co); err != nil {
		return nil, err
	}
	lines, err := loadLines(db, tc, co.ID)
	if err != nil {
		return nil, err
	}
	co.Lines = lines
	return &co, nil
}

// ListByContract returns the contract's orders by code, optionally filtered
// by status.
func (e *Engine) ListByContract(ctx context.Context, tc tenancy.Context, contractID string, status Status) ([]ChangeOrder, error) {
	q := e.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc)).Where("contract_id = ?", contractID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []ChangeOrder
	err := q.Order("code").Find(&list).Error
	return list, err
}
