package contract

import (
	"context"
	"sort"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger maintains the authoritative current value of a contract.
type Ledger struct {
	deps platform.Deps
}

func NewLedger(deps platform.Deps) *Ledger {
	return &Ledger{deps: deps.WithDefaults()}
}

// Find loads a contract inside an existing transaction.
func Find(tx *gorm.DB, tc tenancy.Context, id string) (*Contract, error) {
	var c Contract
	if err := store.Find(tx, tc, "contract", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Lock loads a contract and holds its row lock for the rest of the
// transaction. Every transition that touches derived financial state takes
// this lock first.
func Lock(tx *gorm.DB, tc tenancy.Context, id string) (*Contract, error) {
	var c Contract
	if err := store.FindForUpdate(tx, tc, "contract", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Touch writes the contract's mutable columns guarded by its version. A
// version that moved since the row was read is a concurrent modification.
func Touch(tx *gorm.DB, tc tenancy.Context, c *Contract, at time.Time) error {
	res := tx.Model(&Contract{}).
		Where("id = ? AND tenant_id = ? AND version = ?", c.ID, tc.TenantID, c.Version).
		Updates(map[string]any{
			"version":     c.Version + 1,
			"status":      c.Status,
			"total_value": c.TotalValue,
			"updated_by":  tc.Actor.ID,
			"updated_at":  at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.Concurrent("contract.Touch", nil)
	}
	c.Version++
	c.UpdatedBy = tc.Actor.ID
	c.UpdatedAt = at
	return nil
}

// CurrentValue is original_total_value plus every applied change order delta.
func (l *Ledger) CurrentValue(ctx context.Context, tc tenancy.Context, contractID string) (decimal.Decimal, error) {
	db := l.deps.Store.DB(ctx)
	c, err := Find(db, tc, contractID)
	if err != nil {
		return decimal.Zero, err
	}
	adjustments, err := l.Adjustments(ctx, tc, contractID)
	if err != nil {
		return decimal.Zero, err
	}
	value := c.OriginalTotalValue
	for _, a := range adjustments {
		value = value.Add(a.Delta)
	}
	return value, nil
}

func (l *Ledger) Adjustments(ctx context.Context, tc tenancy.Context, contractID string) ([]Adjustment, error) {
	var list []Adjustment
	err := l.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc)).
		Where("contract_id = ?", contractID).
		Order("applied_at, id").
		Find(&list).Error
	return list, err
}

// ApplyDelta records an approved change order's delta against the locked
// contract c. It must run inside the change order engine's approval
// transaction; callers outside that engine have no business calling it.
// Applying the same change order twice is a no-op and reports applied=false.
func (l *Ledger) ApplyDelta(tx *gorm.DB, tc tenancy.Context, c *Contract, delta decimal.Decimal, changeOrderID string, at time.Time) (applied bool, err error) {
	var existing int64
	if err := tx.Model(&Adjustment{}).Scopes(tenancy.Scope(tc)).
		Where("change_order_id = ?", changeOrderID).
		Count(&existing).Error; err != nil {
		return false, err
	}
	if existing > 0 {
		l.deps.Logger.Warn("ledger delta already applied", "contract", c.ID, "change_order", changeOrderID)
		return false, nil
	}

	adj := &Adjustment{ContractID: c.ID, ChangeOrderID: changeOrderID, Delta: delta, AppliedAt: at}
	if err := store.Insert(tx, tc, c.TenantID, adj, at); err != nil {
		return false, err
	}
	c.TotalValue = c.TotalValue.Add(delta)
	if err := Touch(tx, tc, c, at); err != nil {
		return false, err
	}
	l.deps.Metrics.LedgerDelta(c.Currency)
	return true, nil
}

type VarianceRow struct {
	Key      string          `json:"key"`
	Budget   decimal.Decimal `json:"budget"`
	Actual   decimal.Decimal `json:"actual"`
	Variance decimal.Decimal `json:"variance"`
}

// Variance compares approved/locked budget lines with recorded, approved and
// paid expenses, grouped by cost code (or category).
func (l *Ledger) Variance(ctx context.Context, tc tenancy.Context, contractID string) ([]VarianceRow, error) {
	db := l.deps.Store.DB(ctx)
	if _, err := Find(db, tc, contractID); err != nil {
		return nil, err
	}

	var budget []BudgetLine
	if err := db.Scopes(tenancy.Scope(tc)).
		Where("contract_id = ? AND status IN ?", contractID, []BudgetStatus{BudgetApproved, BudgetLocked}).
		Find(&budget).Error; err != nil {
		return nil, err
	}
	var expenses []Expense
	if err := db.Scopes(tenancy.Scope(tc)).
		Where("contract_id = ? AND status IN ?", contractID, []ExpenseStatus{ExpenseRecorded, ExpenseApproved, ExpensePaid}).
		Find(&expenses).Error; err != nil {
		return nil, err
	}
	return ComputeVariance(budget, expenses), nil
}

// ComputeVariance groups budget and expense amounts. Callers filter statuses.
func ComputeVariance(budget []BudgetLine, expenses []Expense) []VarianceRow {
	rows := map[string]*VarianceRow{}
	row := func(key string) *VarianceRow {
		r, ok := rows[key]
		if !ok {
			r = &VarianceRow{Key: key}
			rows[key] = r
		}
		return r
	}
	for _, b := range budget {
		r := row(b.GroupKey())
		r.Budget = r.Budget.Add(b.TotalAmount)
	}
	for _, e := range expenses {
		r := row(e.GroupKey())
		r.Actual = r.Actual.Add(e.Amount)
	}

	out := make([]VarianceRow, 0, len(rows))
	for _, r := range rows {
		r.Variance = r.Budget.Sub(r.Actual)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
