package changeorder_test

import (
	"context"
	"sync"
	"testing"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/changeorder"
	"github.com/KromaEnergia/contract-engine/internal/contract"
	"github.com/KromaEnergia/contract-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func delta(s string) changeorder.LineInput {
	return changeorder.LineInput{Description: "delta " + s, AmountDelta: testutil.NullDec(s)}
}

// proposed drafts CO-000001 with the given line deltas and proposes it as the maker.
func proposed(t *testing.T, env *testutil.Env, e *changeorder.Engine, contractID string, deltas ...string) *changeorder.ChangeOrder {
	t.Helper()
	ctx := context.Background()
	co, err := e.Create(ctx, env.Maker, contractID, changeorder.Input{Title: "Extra scope"})
	require.NoError(t, err)
	for _, d := range deltas {
		_, err := e.AddLine(ctx, env.Maker, co.ID, delta(d))
		require.NoError(t, err)
	}
	co, err = e.Propose(ctx, env.Maker, co.ID)
	require.NoError(t, err)
	return co
}

func TestApproveAppliesRecomputedDelta(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100000")

	co := proposed(t, env, e, c.ID, "5000", "-2000")
	assert.Equal(t, "CO-000001", co.Code)
	assert.Equal(t, changeorder.StatusProposed, co.Status)
	assert.True(t, co.AmountDelta.Equal(testutil.Dec("3000")), co.AmountDelta.String())
	require.NotNil(t, co.ProposedBy)
	assert.Equal(t, env.Maker.Actor.ID, *co.ProposedBy)

	co, err := e.Approve(ctx, env.Checker, co.ID)
	require.NoError(t, err)
	assert.Equal(t, changeorder.StatusApproved, co.Status)
	assert.NotNil(t, co.AppliedToLedgerAt)

	ledger := contract.NewLedger(env.Deps)
	value, err := ledger.CurrentValue(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	assert.True(t, value.Equal(testutil.Dec("103000")), value.String())

	stored, err := contract.NewRepository(env.Deps).Get(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalValue.Equal(testutil.Dec("103000")))
	assert.True(t, stored.OriginalTotalValue.Equal(testutil.Dec("100000")))
	assert.Equal(t, []string{"created", "active", "value_adjusted"}, env.Audit.Actions(c.ID))
	assert.Equal(t, []string{"created", "proposed", "approved"}, env.Audit.Actions(co.ID))
}

func TestProposeRequiresLines(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100")

	co, err := e.Create(ctx, env.Maker, c.ID, changeorder.Input{Title: "Empty"})
	require.NoError(t, err)
	_, err = e.Propose(ctx, env.Maker, co.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := e.Get(ctx, env.Maker, co.ID)
	require.NoError(t, err)
	assert.Equal(t, changeorder.StatusDraft, got.Status)
}

func TestMakerCannotApproveOwnOrder(t *testing.T) {
	env := testutil.New(t)
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100")
	co := proposed(t, env, e, c.ID, "10")

	_, err := e.Approve(context.Background(), env.Maker, co.ID)
	assert.ErrorIs(t, err, apperr.ErrPolicyViolation)
}

func TestApproveRequiresRole(t *testing.T) {
	env := testutil.New(t)
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100")
	co := proposed(t, env, e, c.ID, "10")

	_, err := e.Approve(context.Background(), env.Viewer, co.ID)
	assert.ErrorIs(t, err, apperr.ErrPolicyViolation)
}

func TestApprovedOrderCannotBeCancelled(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100")
	co := proposed(t, env, e, c.ID, "10")
	_, err := e.Approve(ctx, env.Checker, co.ID)
	require.NoError(t, err)

	_, err = e.Cancel(ctx, env.Maker, co.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
	_, err = e.Reject(ctx, env.Checker, co.ID, "too late")
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}

func TestSecondApproveDoesNotReapplyDelta(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100000")
	co := proposed(t, env, e, c.ID, "5000", "-2000")

	_, err := e.Approve(ctx, env.Checker, co.ID)
	require.NoError(t, err)
	_, err = e.Approve(ctx, env.Checker, co.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	ledger := contract.NewLedger(env.Deps)
	adjustments, err := ledger.Adjustments(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	assert.Len(t, adjustments, 1)
	value, err := ledger.CurrentValue(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	assert.True(t, value.Equal(testutil.Dec("103000")))
}

func TestLedgerApplyDeltaIsIdempotentPerChangeOrder(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	c := env.Contract(t, "C-1", "100")
	ledger := contract.NewLedger(env.Deps)

	for i, want := range []bool{true, false} {
		err := env.Deps.Store.InTx(ctx, func(tx *gorm.DB) error {
			locked, err := contract.Lock(tx, env.Maker, c.ID)
			require.NoError(t, err)
			applied, err := ledger.ApplyDelta(tx, env.Maker, locked, testutil.Dec("25"), "co-1", env.Clock.Now())
			assert.Equal(t, want, applied, "call %d", i)
			return err
		})
		require.NoError(t, err)
	}
	value, err := ledger.CurrentValue(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	assert.True(t, value.Equal(testutil.Dec("125")))
}

func TestConcurrentApprovalsApplyOnce(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100000")
	co := proposed(t, env, e, c.ID, "5000", "-2000")

	approvers := []string{"u-approver-1", "u-approver-2"}
	errs := make([]error, len(approvers))
	var wg sync.WaitGroup
	for i, id := range approvers {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.Approve(ctx, env.Actor(env.Tenant.ID, id, "finance_director"), co.ID)
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t,
			apperr.KindOf(err) == apperr.KindInvalidStateTransition || apperr.KindOf(err) == apperr.KindConcurrentModification,
			"unexpected error %v", err)
	}
	assert.Equal(t, 1, ok)

	value, err := contract.NewLedger(env.Deps).CurrentValue(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	assert.True(t, value.Equal(testutil.Dec("103000")))
}

func TestRejectNeedsReasonAndLeavesLedger(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100")
	co := proposed(t, env, e, c.ID, "50")

	_, err := e.Reject(ctx, env.Checker, co.ID, "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	co, err = e.Reject(ctx, env.Checker, co.ID, "not in scope")
	require.NoError(t, err)
	assert.Equal(t, changeorder.StatusRejected, co.Status)
	assert.Equal(t, "not in scope", co.RejectionReason)
	assert.Nil(t, co.AppliedToLedgerAt)

	value, err := contract.NewLedger(env.Deps).CurrentValue(ctx, env.Maker, c.ID)
	require.NoError(t, err)
	assert.True(t, value.Equal(testutil.Dec("100")))
}

func TestLineOrigins(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	e := changeorder.NewEngine(env.Deps)
	repo := contract.NewRepository(env.Deps)
	c := env.Contract(t, "C-1", "1000")
	other := env.Contract(t, "C-2", "1000")

	line, err := repo.AddLine(ctx, env.Maker, c.ID, contract.LineInput{Description: "Slab", Quantity: testutil.Dec("10"), UnitPrice: testutil.Dec("20")})
	require.NoError(t, err)
	budget, err := repo.AddBudgetLine(ctx, env.Maker, c.ID, contract.BudgetLineInput{Category: "Concrete", Quantity: testutil.Dec("5"), UnitPrice: testutil.Dec("10")})
	require.NoError(t, err)
	foreign, err := repo.AddLine(ctx, env.Maker, other.ID, contract.LineInput{Description: "Other", Quantity: testutil.Dec("1"), UnitPrice: testutil.Dec("1")})
	require.NoError(t, err)

	co, err := e.Create(ctx, env.Maker, c.ID, changeorder.Input{Title: "Rework"})
	require.NoError(t, err)

	t.Run("both origins", func(t *testing.T) {
		_, err := e.AddLine(ctx, env.Maker, co.ID, changeorder.LineInput{Description: "x", ContractLineID: &line.ID, BudgetLineID: &budget.ID})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
	t.Run("origin on another contract", func(t *testing.T) {
		_, err := e.AddLine(ctx, env.Maker, co.ID, changeorder.LineInput{Description: "x", ContractLineID: &foreign.ID, AmountDelta: testutil.NullDec("1")})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
	t.Run("no origin and no amount", func(t *testing.T) {
		_, err := e.AddLine(ctx, env.Maker, co.ID, changeorder.LineInput{Description: "x"})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
	t.Run("derived from contract line", func(t *testing.T) {
		// (10+2)*(20+5) - 10*20 = 100
		l, err := e.AddLine(ctx, env.Maker, co.ID, changeorder.LineInput{
			Description: "more slab", ContractLineID: &line.ID,
			QuantityDelta: testutil.Dec("2"), UnitPriceDelta: testutil.Dec("5"),
		})
		require.NoError(t, err)
		assert.True(t, l.AmountDelta.Equal(testutil.Dec("100")), l.AmountDelta.String())
	})
	t.Run("derived from budget line", func(t *testing.T) {
		// (5-1)*10 - 5*10 = -10
		l, err := e.AddLine(ctx, env.Maker, co.ID, changeorder.LineInput{
			Description: "less concrete", BudgetLineID: &budget.ID, QuantityDelta: testutil.Dec("-1"),
		})
		require.NoError(t, err)
		assert.True(t, l.AmountDelta.Equal(testutil.Dec("-10")), l.AmountDelta.String())
	})

	got, err := e.Get(ctx, env.Maker, co.ID)
	require.NoError(t, err)
	assert.Len(t, got.Lines, 2)
	assert.True(t, got.AmountDelta.Equal(testutil.Dec("90")))
}

func TestRemoveLineOnlyWhileDraft(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100")

	co, err := e.Create(ctx, env.Maker, c.ID, changeorder.Input{Title: "x"})
	require.NoError(t, err)
	keep, err := e.AddLine(ctx, env.Maker, co.ID, delta("7"))
	require.NoError(t, err)
	drop, err := e.AddLine(ctx, env.Maker, co.ID, delta("3"))
	require.NoError(t, err)

	require.NoError(t, e.RemoveLine(ctx, env.Maker, drop.ID))
	co, err = e.Propose(ctx, env.Maker, co.ID)
	require.NoError(t, err)
	assert.True(t, co.AmountDelta.Equal(testutil.Dec("7")))

	err = e.RemoveLine(ctx, env.Maker, keep.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}

func TestCodesAndListing(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	e := changeorder.NewEngine(env.Deps)
	c := env.Contract(t, "C-1", "100")

	first, err := e.Create(ctx, env.Maker, c.ID, changeorder.Input{Title: "a"})
	require.NoError(t, err)
	second, err := e.Create(ctx, env.Maker, c.ID, changeorder.Input{Title: "b"})
	require.NoError(t, err)
	assert.Equal(t, "CO-000002", second.Code)
	_, err = e.Cancel(ctx, env.Maker, first.ID)
	require.NoError(t, err)

	all, err := e.ListByContract(ctx, env.Maker, c.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	drafts, err := e.ListByContract(ctx, env.Maker, c.ID, changeorder.StatusDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, second.ID, drafts[0].ID)

	_, err = e.Create(ctx, env.Maker, c.ID, changeorder.Input{Title: "c", Currency: "EUR"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateOnClosedContractFails(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	c := env.Contract(t, "C-1", "100")
	_, err := contract.NewRepository(env.Deps).Complete(ctx, env.Maker, c.ID)
	require.NoError(t, err)

	_, err = changeorder.NewEngine(env.Deps).Create(ctx, env.Maker, c.ID, changeorder.Input{Title: "late"})
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}
