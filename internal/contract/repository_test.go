package contract_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/contract"
	"github.com/KromaEnergia/contract-engine/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInheritsTenantAndCurrency(t *testing.T) {
	env := testutil.New(t)
	repo := contract.NewRepository(env.Deps)

	c, err := repo.Create(context.Background(), env.Maker, contract.ContractInput{
		ProjectID:  env.Project.ID,
		Code:       "C-1",
		Title:      "Main works",
		TotalValue: testutil.Dec("100000"),
	})
	require.NoError(t, err)
	assert.Equal(t, env.Tenant.ID, c.TenantID)
	assert.Equal(t, "USD", c.Currency)
	assert.Equal(t, contract.StatusDraft, c.Status)
	assert.True(t, c.TotalValue.Equal(c.OriginalTotalValue))
	assert.Equal(t, env.Maker.Actor.ID, c.CreatedBy)
	assert.Equal(t, []string{"created"}, env.Audit.Actions(c.ID))
}

func TestCreateRejectsExplicitForeignTenant(t *testing.T) {
	env := testutil.New(t)
	other, _ := env.NewTenant(t, "Other", decimal.NullDecimal{})

	_, err := contract.NewRepository(env.Deps).Create(context.Background(), env.Maker, contract.ContractInput{
		TenantID:   other.ID,
		ProjectID:  env.Project.ID,
		Code:       "C-1",
		Title:      "x",
		TotalValue: testutil.Dec("1"),
	})
	assert.ErrorIs(t, err, apperr.ErrTenantMismatch)
}

func TestCreateValidation(t *testing.T) {
	env := testutil.New(t)
	repo := contract.NewRepository(env.Deps)
	start := testutil.Epoch
	end := start.Add(-24 * time.Hour)

	cases := map[string]contract.ContractInput{
		"missing code":     {ProjectID: env.Project.ID, Title: "x"},
		"negative value":   {ProjectID: env.Project.ID, Code: "C", Title: "x", TotalValue: testutil.Dec("-1")},
		"bad retention":    {ProjectID: env.Project.ID, Code: "C", Title: "x", DefaultRetentionPercent: testutil.NullDec("101")},
		"dates reversed":   {ProjectID: env.Project.ID, Code: "C", Title: "x", StartDate: &start, EndDate: &end},
		"unknown currency": {ProjectID: env.Project.ID, Code: "C", Title: "x", Currency: "JPY"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Create(context.Background(), env.Maker, in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestDuplicateCodeIsConcurrentModification(t *testing.T) {
	env := testutil.New(t)
	env.Contract(t, "C-1", "10")

	_, err := contract.NewRepository(env.Deps).Create(context.Background(), env.Maker, contract.ContractInput{
		ProjectID: env.Project.ID, Code: "C-1", Title: "dup",
	})
	assert.ErrorIs(t, err, apperr.ErrConcurrentModification)
}

func TestCrossTenantReadIsNotFound(t *testing.T) {
	env := testutil.New(t)
	c := env.Contract(t, "C-1", "10")
	_, outsider := env.NewTenant(t, "Other", decimal.NullDecimal{})

	_, err := contract.NewRepository(env.Deps).Get(context.Background(), outsider, c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStatusTransitions(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	repo := contract.NewRepository(env.Deps)
	c := env.Contract(t, "C-1", "10")
	assert.Equal(t, 2, c.Version)

	_, err := repo.Activate(ctx, env.Maker, c.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	c, err = repo.Complete(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusCompleted, c.Status)

	_, err = repo.Terminate(ctx, env.Maker, c.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
	assert.Equal(t, []string{"created", "active", "completed"}, env.Audit.Actions(c.ID))
}

func TestLineAmountIsAlwaysDerived(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	repo := contract.NewRepository(env.Deps)
	c := env.Contract(t, "C-1", "10")

	l, err := repo.AddLine(ctx, env.Maker, c.ID, contract.LineInput{
		Description: "Concrete",
		Quantity:    testutil.Dec("12.5"),
		UnitPrice:   testutil.Dec("80.10"),
	})
	require.NoError(t, err)
	assert.True(t, l.Amount.Equal(testutil.Dec("1001.25")), l.Amount.String())
	assert.Equal(t, env.Tenant.ID, l.TenantID)

	_, err = repo.AddLine(ctx, env.Maker, c.ID, contract.LineInput{
		Description: "Steel",
		Quantity:    testutil.Dec("2"),
		UnitPrice:   testutil.Dec("10"),
		Amount:      testutil.NullDec("25"),
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	l, err = repo.UpdateLine(ctx, env.Maker, l.ID, contract.LineInput{
		Description: "Concrete",
		Quantity:    testutil.Dec("10"),
		UnitPrice:   testutil.Dec("80.10"),
		Amount:      testutil.NullDec("801"),
	})
	require.NoError(t, err)
	assert.True(t, l.Amount.Equal(testutil.Dec("801")))

	lines, err := repo.Lines(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	for _, line := range lines {
		assert.True(t, line.Amount.Sub(line.Quantity.Mul(line.UnitPrice)).Abs().LessThanOrEqual(testutil.Dec("0.01")))
	}
}

func TestLinesRejectedOnClosedContract(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	repo := contract.NewRepository(env.Deps)
	c := env.Contract(t, "C-1", "10")
	_, err := repo.Terminate(ctx, env.Maker, c.ID)
	require.NoError(t, err)

	_, err = repo.AddLine(ctx, env.Maker, c.ID, contract.LineInput{Description: "late", Quantity: testutil.Dec("1"), UnitPrice: testutil.Dec("1")})
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}

func TestBudgetLineWorkflow(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	repo := contract.NewRepository(env.Deps)
	c := env.Contract(t, "C-1", "10")

	b, err := repo.AddBudgetLine(ctx, env.Maker, c.ID, contract.BudgetLineInput{
		CostCode: "03-300", Category: "Concrete", Quantity: testutil.Dec("4"), UnitPrice: testutil.Dec("250"),
	})
	require.NoError(t, err)
	assert.Equal(t, contract.BudgetPlanned, b.Status)
	assert.True(t, b.TotalAmount.Equal(testutil.Dec("1000")))
	assert.Equal(t, c.TenantID, b.TenantID)

	lump, err := repo.AddBudgetLine(ctx, env.Maker, c.ID, contract.BudgetLineInput{
		Category: "Preliminaries", TotalAmount: testutil.NullDec("500"),
	})
	require.NoError(t, err)
	assert.True(t, lump.TotalAmount.Equal(testutil.Dec("500")))

	_, err = repo.TransitionBudgetLine(ctx, env.Maker, b.ID, contract.BudgetLocked)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	b, err = repo.TransitionBudgetLine(ctx, env.Maker, b.ID, contract.BudgetApproved)
	require.NoError(t, err)
	b, err = repo.TransitionBudgetLine(ctx, env.Maker, b.ID, contract.BudgetLocked)
	require.NoError(t, err)
	assert.Equal(t, contract.BudgetLocked, b.Status)

	_, err = repo.TransitionBudgetLine(ctx, env.Maker, b.ID, contract.BudgetCancelled)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}

func TestComputeVarianceGroupsByCostCodeOrCategory(t *testing.T) {
	budget := []contract.BudgetLine{
		{CostCode: "A", Category: "Concrete", TotalAmount: testutil.Dec("1000")},
		{CostCode: "A", Category: "Concrete", TotalAmount: testutil.Dec("500")},
		{Category: "Prelims", TotalAmount: testutil.Dec("200")},
	}
	expenses := []contract.Expense{
		{CostCode: "A", Amount: testutil.Dec("1600")},
		{Category: "Travel", Amount: testutil.Dec("50")},
	}

	rows := contract.ComputeVariance(budget, expenses)
	require.Len(t, rows, 3)
	assert.Equal(t, "A", rows[0].Key)
	assert.True(t, rows[0].Variance.Equal(testutil.Dec("-100")))
	assert.Equal(t, "Prelims", rows[1].Key)
	assert.True(t, rows[1].Actual.IsZero())
	assert.Equal(t, "Travel", rows[2].Key)
	assert.True(t, rows[2].Variance.Equal(testutil.Dec("-50")))
}

func TestVarianceFiltersStatuses(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	repo := contract.NewRepository(env.Deps)
	c := env.Contract(t, "C-1", "10")

	_, err := repo.AddBudgetLine(ctx, env.Maker, c.ID, contract.BudgetLineInput{CostCode: "A", Category: "x", TotalAmount: testutil.NullDec("300")})
	require.NoError(t, err)
	approved, err := repo.AddBudgetLine(ctx, env.Maker, c.ID, contract.BudgetLineInput{CostCode: "A", Category: "x", TotalAmount: testutil.NullDec("700")})
	require.NoError(t, err)
	_, err = repo.TransitionBudgetLine(ctx, env.Maker, approved.ID, contract.BudgetApproved)
	require.NoError(t, err)

	for _, e := range []contract.Expense{
		{ContractID: c.ID, TenantID: c.TenantID, CostCode: "A", Amount: testutil.Dec("250"), Currency: "USD", ExpenseDate: testutil.Epoch, Status: contract.ExpenseRecorded},
		{ContractID: c.ID, TenantID: c.TenantID, CostCode: "A", Amount: testutil.Dec("999"), Currency: "USD", ExpenseDate: testutil.Epoch, Status: contract.ExpensePlanned},
	} {
		e.ID = "exp-" + string(e.Status)
		e.CreatedBy, e.UpdatedBy = "seed", "seed"
		require.NoError(t, env.DB.Create(&e).Error)
	}

	rows, err := repo.Ledger.Variance(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Budget.Equal(testutil.Dec("700")))
	assert.True(t, rows[0].Actual.Equal(testutil.Dec("250")))
	assert.True(t, rows[0].Variance.Equal(testutil.Dec("450")))
}

func TestUpdateLineTenantMismatchIsLoggedAsSecurityEvent(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	var buf bytes.Buffer
	deps := env.Deps
	deps.Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	repo := contract.NewRepository(deps)
	c := env.Contract(t, "C-1", "1000")
	line, err := repo.AddLine(ctx, env.Maker, c.ID, contract.LineInput{Description: "Slab", Quantity: testutil.Dec("1"), UnitPrice: testutil.Dec("10")})
	require.NoError(t, err)
	buf.Reset()

	_, err = repo.UpdateLine(ctx, env.Maker, line.ID, contract.LineInput{TenantID: "other-tenant", Description: "Slab", Quantity: testutil.Dec("2"), UnitPrice: testutil.Dec("10")})
	require.ErrorIs(t, err, apperr.ErrTenantMismatch)
	assert.Contains(t, buf.String(), `"security":true`)
	assert.Contains(t, buf.String(), `"entity":"contract_line"`)
	assert.Contains(t, buf.String(), "other-tenant")
}
