package contract

import (
	"context"
	"slices"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/money"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/project"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	entityContract   = "contract"
	entityLine       = "contract_line"
	entityBudgetLine = "contract_budget_line"
)

var contractTransitions = map[Status][]Status{
	StatusDraft:  {StatusActive, StatusTerminated},
	StatusActive: {StatusCompleted, StatusTerminated},
}

var budgetTransitions = map[BudgetStatus][]BudgetStatus{
	BudgetPlanned:  {BudgetApproved, BudgetCancelled},
	BudgetApproved: {BudgetLocked, BudgetCancelled},
}

type Repository struct {
	deps   platform.Deps
	Ledger *Ledger
}

func NewRepository(deps platform.Deps) *Repository {
	deps = deps.WithDefaults()
	return &Repository{deps: deps, Ledger: NewLedger(deps)}
}

type ContractInput struct {
	TenantID                string              `json:"tenantId"`
	ProjectID               string              `json:"projectId" validate:"required"`
	Code                    string              `json:"code" validate:"required,max=50"`
	Title                   string              `json:"title" validate:"required,max=200"`
	ClientID                *string             `json:"clientId"`
	Currency                string              `json:"currency"`
	TotalValue              decimal.Decimal     `json:"totalValue"`
	DefaultRetentionPercent decimal.NullDecimal `json:"defaultRetentionPercent"`
	StartDate               *time.Time          `json:"startDate"`
	EndDate                 *time.Time          `json:"endDate"`
}

func (r *Repository) Create(ctx context.Context, tc tenancy.Context, in ContractInput) (*Contract, error) {
	const op = "contract.Create"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	if in.TotalValue.IsNegative() {
		return nil, apperr.Validation(op, "total value cannot be negative")
	}
	if in.DefaultRetentionPercent.Valid && !money.ValidPercent(in.DefaultRetentionPercent.Decimal) {
		return nil, apperr.Validation(op, "retention percent must be between 0 and 100")
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return nil, apperr.Validation(op, "end date precedes start date")
	}

	c := &Contract{
		TenantID:                in.TenantID,
		ProjectID:               in.ProjectID,
		Code:                    in.Code,
		Title:                   in.Title,
		ClientID:                in.ClientID,
		Status:                  StatusDraft,
		Currency:                in.Currency,
		OriginalTotalValue:      money.Round(in.TotalValue),
		TotalValue:              money.Round(in.TotalValue),
		DefaultRetentionPercent: in.DefaultRetentionPercent,
		StartDate:               in.StartDate,
		EndDate:                 in.EndDate,
		Version:                 1,
	}
	err := r.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		p, err := project.Find(tx, tc, in.ProjectID)
		if err != nil {
			return err
		}
		if c.Currency == "" {
			t, err := project.LoadTenant(tx, tc)
			if err != nil {
				return err
			}
			c.Currency = t.DefaultCurrency
		}
		if !money.Currencies[c.Currency] {
			return apperr.Validation(op, "unsupported currency %q", c.Currency)
		}
		return store.Insert(tx, tc, p.TenantID, c, r.deps.Clock.Now())
	})
	if err != nil {
		return nil, r.deps.Failed(entityContract, err)
	}
	r.deps.Committed(ctx, platform.Event(tc, entityContract, c.ID, "created", nil, c, c.CreatedAt))
	return c, nil
}

func (r *Repository) Get(ctx context.Context, tc tenancy.Context, id string) (*Contract, error) {
	return Find(r.deps.Store.DB(ctx), tc, id)
}

func (r *Repository) List(ctx context.Context, tc tenancy.Context, projectID string) ([]Contract, error) {
	q := r.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc))
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	var list []Contract
	err := q.Order("code").Find(&list).Error
	return list, err
}

func (r *Repository) Activate(ctx context.Context, tc tenancy.Context, id string) (*Contract, error) {
	return r.transition(ctx, tc, id, StatusActive)
}

func (r *Repository) Complete(ctx context.Context, tc tenancy.Context, id string) (*Contract, error) {
	return r.transition(ctx, tc, id, StatusCompleted)
}

func (r *Repository) Terminate(ctx context.Context, tc tenancy.Context, id string) (*Contract, error) {
	return r.transition(ctx, tc, id, StatusTerminated)
}

func (r *Repository) transition(ctx context.Context, tc tenancy.Context, id string, to Status) (*Contract, error) {
	const op = "contract.Transition"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	var (
		c      *Contract
		before Contract
	)
	err := r.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		c, err = Lock(tx, tc, id)
		if err != nil {
			return err
		}
		before = *c
		if !slices.Contains(contractTransitions[c.Status], to) {
			return apperr.InvalidTransition(op, entityContract, string(c.Status), string(to))
		}
		c.Status = to
		return Touch(tx, tc, c, r.deps.Clock.Now())
	})
	if err != nil {
		return nil, r.deps.Failed(entityContract, err)
	}
	r.deps.Committed(ctx, platform.Event(tc, entityContract, c.ID, string(to), before, c, c.UpdatedAt))
	return c, nil
}

type LineInput struct {
	TenantID            string              `json:"tenantId"`
	ProjectBudgetLineID *string             `json:"projectBudgetLineId"`
	Description         string              `json:"description" validate:"required,max=500"`
	Quantity            decimal.Decimal     `json:"quantity"`
	UnitPrice           decimal.Decimal     `json:"unitPrice"`
	Amount              decimal.NullDecimal `json:"amount"`
}

// lineAmount recomputes quantity x unit price and rejects a supplied amount
// that disagrees with it.
func lineAmount(op string, in LineInput) (decimal.Decimal, error) {
	if in.Quantity.IsNegative() || in.UnitPrice.IsNegative() {
		return decimal.Zero, apperr.Validation(op, "quantity and unit price cannot be negative")
	}
	amount := money.Extend(in.Quantity, in.UnitPrice)
	if in.Amount.Valid && !money.WithinTolerance(in.Amount.Decimal, amount) {
		return decimal.Zero, apperr.Validation(op, "amount %s does not equal quantity x unit price (%s)", in.Amount.Decimal, amount)
	}
	return amount, nil
}

func (r *Repository) AddLine(ctx context.Context, tc tenancy.Context, contractID string, in LineInput) (*Line, error) {
	const op = "contract.AddLine"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	amount, err := lineAmount(op, in)
	if err != nil {
		return nil, r.deps.Failed(entityLine, err)
	}
	l := &Line{
		TenantID:            in.TenantID,
		ContractID:          contractID,
		ProjectBudgetLineID: in.ProjectBudgetLineID,
		Description:         in.Description,
		Quantity:            in.Quantity,
		UnitPrice:           in.UnitPrice,
		Amount:              amount,
	}
	err = r.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		c, err := Lock(tx, tc, contractID)
		if err != nil {
			return err
		}
		if !c.Open() {
			return apperr.InvalidState(op, "contract is %s", c.Status)
		}
		return store.Insert(tx, tc, c.TenantID, l, r.deps.Clock.Now())
	})
	if err != nil {
		return nil, r.deps.Failed(entityLine, err)
	}
	r.deps.Committed(ctx, platform.Event(tc, entityLine, l.ID, "created", nil, l, l.CreatedAt))
	return l, nil
}

// UpdateLine replaces a line's quantity, price and description. The amount is
// recomputed; it can never be edited on its own.
func (r *Repository) UpdateLine(ctx context.Context, tc tenancy.Context, lineID string, in LineInput) (*Line, error) {
	const op = "contract.UpdateLine"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	amount, err := lineAmount(op, in)
	if err != nil {
		return nil, r.deps.Failed(entityLine, err)
	}
	var (
		l      Line
		before Line
	)
	err = r.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		if err := store.Find(tx, tc, entityLine, lineID, &l); err != nil {
			return err
		}
		if in.TenantID != "" && in.TenantID != l.TenantID {
			return apperr.TenantMismatch(op, l.TenantID, in.TenantID)
		}
		c, err := Lock(tx, tc, l.ContractID)
		if err != nil {
			return err
		}
		if !c.Open() {
			return apperr.InvalidState(op, "contract is %s", c.Status)
		}
		before = l
		l.Description = in.Description
		l.Quantity = in.Quantity
		l.UnitPrice = in.UnitPrice
		l.Amount = amount
		if in.ProjectBudgetLineID != nil {
			l.ProjectBudgetLineID = in.ProjectBudgetLineID
		}
		return store.Save(tx, tc, &l, r.deps.Clock.Now())
	})
	if err != nil {
		return nil, r.deps.Failed(entityLine, err)
	}
	r.deps.Committed(ctx, platform.Event(tc, entityLine, l.ID, "updated", before, l, l.UpdatedAt))
	return &l, nil
}

func (r *Repository) Lines(ctx context.Context, tc tenancy.Context, contractID string) ([]Line, error) {
	var list []Line
	err := r.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc)).
		Where("contract_id = ?", contractID).Order("created_at, id").Find(&list).Error
	return list, err
}

type BudgetLineInput struct {
	TenantID    string              `json:"tenantId"`
	CostCode    string              `json:"costCode" validate:"max=50"`
	Category    string              `json:"category" validate:"required,max=100"`
	CostType    string              `json:"costType" validate:"max=50"`
	Description string              `json:"description" validate:"max=500"`
	Quantity    decimal.Decimal     `json:"quantity"`
	UnitPrice   decimal.Decimal     `json:"unitPrice"`
	TotalAmount decimal.NullDecimal `json:"totalAmount"`
}

// AddBudgetLine creates a planned budget line. Its tenant always comes from
// the contract.
func (r *Repository) AddBudgetLine(ctx context.Context, tc tenancy.Context, contractID string, in BudgetLineInput) (*BudgetLine, error) {
	const op = "contract.AddBudgetLine"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	total := money.Extend(in.Quantity, in.UnitPrice)
	if in.Quantity.IsZero() && in.UnitPrice.IsZero() && in.TotalAmount.Valid {
		total = money.Round(in.TotalAmount.Decimal)
	} else if in.TotalAmount.Valid && !money.WithinTolerance(in.TotalAmount.Decimal, total) {
		return nil, apperr.Validation(op, "total amount %s does not equal quantity x unit price (%s)", in.TotalAmount.Decimal, total)
	}
	if total.IsNegative() {
		return nil, apperr.Validation(op, "budget amount cannot be negative")
	}
	b := &BudgetLine{
		TenantID:    in.TenantID,
		ContractID:  contractID,
		CostCode:    in.CostCode,
		Category:    in.Category,
		CostType:    in.CostType,
		Description: in.Description,
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		TotalAmount: total,
		Status:      BudgetPlanned,
	}
	err := r.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		c, err := Find(tx, tc, contractID)
		if err != nil {
			return err
		}
		return store.Insert(tx, tc, c.TenantID, b, r.deps.Clock.Now())
	})
	if err != nil {
		return nil, r.deps.Failed(entityBudgetLine, err)
	}
	r.deps.Committed(ctx, platform.Event(tc, entityBudgetLine, b.ID, "created", nil, b, b.CreatedAt))
	return b, nil
}

func (r *Repository) TransitionBudgetLine(ctx context.Context, tc tenancy.Context, id string, to BudgetStatus) (*BudgetLine, error) {
	const op = "contract.TransitionBudgetLine"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	var (
		b      BudgetLine
		before BudgetLine
	)
	err := r.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		if err := store.FindForUpdate(tx, tc, entityBudgetLine, id, &b); err != nil {
			return err
		}
		before = b
		if !slices.Contains(budgetTransitions[b.Status], to) {
			return apperr.InvalidTransition(op, entityBudgetLine, string(b.Status), string(to))
		}
		b.Status = to
		return store.Save(tx, tc, &b, r.deps.Clock.Now())
	})
	if err != nil {
		return nil, r.deps.Failed(entityBudgetLine, err)
	}
	r.deps.Committed(ctx, platform.Event(tc, entityBudgetLine, b.ID, string(to), before, b, b.UpdatedAt))
	return &b, nil
}

func (r *Repository) BudgetLines(ctx context.Context, tc tenancy.Context, contractID string) ([]BudgetLine, error) {
	var list []BudgetLine
	err := r.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc)).
		Where("contract_id = ?", contractID).Order("created_at, id").Find(&list).Error
	return list, err
}
