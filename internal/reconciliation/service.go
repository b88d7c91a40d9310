// Package reconciliation records money that actually moved and reconciles it
// against certificates, the payment schedule and the contract budget.
package reconciliation

import (
	"context"
	"slices"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/audit"
	"github.com/KromaEnergia/contract-engine/internal/certificate"
	"github.com/KromaEnergia/contract-engine/internal/config"
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
	entityPayment  = "contract_actual_payment"
	entityExpense  = rbac.EntityExpense
	entitySchedule = "contract_payment"
)

var expenseTransitions = map[contract.ExpenseStatus][]contract.ExpenseStatus{
	contract.ExpensePlanned:  {contract.ExpenseRecorded, contract.ExpenseCancelled},
	contract.ExpenseRecorded: {contract.ExpenseApproved, contract.ExpenseCancelled},
	contract.ExpenseApproved: {contract.ExpensePaid, contract.ExpenseCancelled},
}

var scheduleTransitions = map[ScheduleStatus][]ScheduleStatus{
	SchedulePlanned: {ScheduleDue, ScheduleOverdue, SchedulePaid, ScheduleCancelled},
	ScheduleDue:     {ScheduleOverdue, SchedulePaid, ScheduleCancelled},
	ScheduleOverdue: {SchedulePaid, ScheduleCancelled},
}

type Service struct {
	deps   platform.Deps
	ledger *contract.Ledger
}

func NewService(deps platform.Deps) *Service {
	deps = deps.WithDefaults()
	return &Service{deps: deps, ledger: contract.NewLedger(deps)}
}

type PaymentInput struct {
	TenantID      string          `json:"tenantId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaidDate      time.Time       `json:"paidDate" validate:"required"`
	PaymentMethod string          `json:"paymentMethod" validate:"max=50"`
	Reference     string          `json:"reference" validate:"max=100"`
	CertificateID *string         `json:"certificateId"`
	ScheduleID    *string         `json:"scheduleId"`
}

// RecordPayment books a payment against a contract. A linked certificate must
// belong to the same contract and be approved; payments past its amount
// payable are flagged or rejected according to the overpayment policy. A
// linked schedule entry is marked paid.
func (s *Service) RecordPayment(ctx context.Context, tc tenancy.Context, contractID string, in PaymentInput) (*ActualPayment, error) {
	const op = "reconciliation.RecordPayment"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, s.deps.Failed(entityPayment, apperr.Validation(op, "amount must be positive"))
	}
	p := &ActualPayment{
		TenantID:      in.TenantID,
		ContractID:    contractID,
		CertificateID: in.CertificateID,
		ScheduleID:    in.ScheduleID,
		AmountPaid:    money.Round(in.Amount),
		PaidDate:      in.PaidDate,
		PaymentMethod: in.PaymentMethod,
		Reference:     in.Reference,
	}
	var events []audit.Event
	err := s.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		events = events[:0]
		p.Overpayment = false
		c, err := contract.Lock(tx, tc, contractID)
		if err != nil {
			return err
		}
		if in.Currency != "" && in.Currency != c.Currency {
			return apperr.Validation(op, "currency %s differs from contract currency %s", in.Currency, c.Currency)
		}
		p.Currency = c.Currency

		if in.CertificateID != nil {
			var cert certificate.Certificate
			if err := store.Find(tx, tc, "payment_certificate", *in.CertificateID, &cert); err != nil {
				return err
			}
			if cert.ContractID != c.ID {
				return apperr.Validation(op, "certificate %s belongs to another contract", cert.Code)
			}
			if cert.Status != certificate.StatusApproved {
				return apperr.Policy(op, "certificate %s is %s; only approved certificates can be paid", cert.Code, cert.Status)
			}
			paid, err := paidAgainst(tx, tc, cert.ID)
			if err != nil {
				return err
			}
			if paid.Add(p.AmountPaid).GreaterThan(cert.AmountPayable) {
				if s.deps.Policy.Overpayment == config.OverpaymentReject {
					return apperr.Policy(op, "payment of %s exceeds the %s outstanding on %s",
						p.AmountPaid, cert.AmountPayable.Sub(paid), cert.Code)
				}
				p.Overpayment = true
			}
		}

		var sched *ScheduledPayment
		if in.ScheduleID != nil {
			sched = &ScheduledPayment{}
			if err := store.FindForUpdate(tx, tc, entitySchedule, *in.ScheduleID, sched); err != nil {
				return err
			}
			if sched.ContractID != c.ID {
				return apperr.Validation(op, "schedule entry %s belongs to another contract", sched.ID)
			}
			if !sched.Open() {
				return apperr.InvalidTransition(op, entitySchedule, string(sched.Status), string(SchedulePaid))
			}
		}

		now := s.deps.Clock.Now()
		if err := store.Insert(tx, tc, c.TenantID, p, now); err != nil {
			return err
		}
		events = append(events, platform.Event(tc, entityPayment, p.ID, "recorded", nil, p, now))
		if sched != nil {
			before := *sched
			sched.Status = SchedulePaid
			sched.PaidAt = &now
			sched.ActualPaymentID = &p.ID
			if err := store.Save(tx, tc, sched, now); err != nil {
				return err
			}
			events = append(events, platform.Event(tc, entitySchedule, sched.ID, string(SchedulePaid), before, sched, now))
		}
		return contract.Touch(tx, tc, c, now)
	})
	if err != nil {
		return nil, s.deps.Failed(entityPayment, err)
	}
	if p.Overpayment {
		s.deps.Metrics.Overpayment()
		s.deps.Logger.WarnContext(ctx, "overpayment recorded",
			"tenant", tc.TenantID, "contract", contractID, "certificate", *p.CertificateID, "payment", p.ID)
	}
	s.deps.Committed(ctx, events...)
	return p, nil
}

func paidAgainst(tx *gorm.DB, tc tenancy.Context, certificateID string) (decimal.Decimal, error) {
	var payments []ActualPayment
	if err := tx.Scopes(tenancy.Scope(tc)).Where("certificate_id = ?", certificateID).Find(&payments).Error; err != nil {
		return decimal.Zero, err
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.AmountPaid)
	}
	return paid, nil
}

func (s *Service) Payments(ctx context.Context, tc tenancy.Context, contractID string) ([]ActualPayment, error) {
	var list []ActualPayment
	err := s.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc)).
		Where("contract_id = ?", contractID).Order("paid_date, created_at").Find(&list).Error
	return list, err
}

type ExpenseInput struct {
	TenantID     string              `json:"tenantId"`
	BudgetLineID *string             `json:"budgetLineId"`
	CostCode     string              `json:"costCode" validate:"max=50"`
	Category     string              `json:"category" validate:"max=100"`
	Description  string              `json:"description" validate:"required,max=500"`
	Quantity     decimal.NullDecimal `json:"quantity"`
	UnitCost     decimal.NullDecimal `json:"unitCost"`
	Amount       decimal.NullDecimal `json:"amount"`
	Currency     string              `json:"currency"`
	ExpenseDate  time.Time           `json:"expenseDate" validate:"required"`
}

// expenseAmount is quantity x unit cost when both are present, otherwise the
// supplied amount.
func expenseAmount(op string, in ExpenseInput) (decimal.Decimal, error) {
	if in.Quantity.Valid && in.UnitCost.Valid {
		amount := money.Extend(in.Quantity.Decimal, in.UnitCost.Decimal)
		if in.Amount.Valid && !money.WithinTolerance(in.Amount.Decimal, amount) {
			return decimal.Zero, apperr.Validation(op, "amount %s does not equal quantity x unit cost (%s)", in.Amount.Decimal, amount)
		}
		return amount, nil
	}
	if !in.Amount.Valid {
		return decimal.Zero, apperr.Validation(op, "amount is required without quantity and unit cost")
	}
	return money.Round(in.Amount.Decimal), nil
}

// RecordExpense books a planned expense. Cost code and category default to
// the linked budget line's.
func (s *Service) RecordExpense(ctx context.Context, tc tenancy.Context, contractID string, in ExpenseInput) (*contract.Expense, error) {
	const op = "reconciliation.RecordExpense"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	amount, err := expenseAmount(op, in)
	if err != nil {
		return nil, s.deps.Failed(entityExpense, err)
	}
	if amount.IsNegative() {
		return nil, s.deps.Failed(entityExpense, apperr.Validation(op, "expense amount cannot be negative"))
	}
	exp := &contract.Expense{
		TenantID:     in.TenantID,
		ContractID:   contractID,
		BudgetLineID: in.BudgetLineID,
		CostCode:     in.CostCode,
		Category:     in.Category,
		Description:  in.Description,
		Quantity:     in.Quantity,
		UnitCost:     in.UnitCost,
		Amount:       amount,
		ExpenseDate:  in.ExpenseDate,
		Status:       contract.ExpensePlanned,
	}
	err = s.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		c, err := contract.Find(tx, tc, contractID)
		if err != nil {
			return err
		}
		if in.Currency != "" && in.Currency != c.Currency {
			return apperr.Validation(op, "currency %s differs from contract currency %s", in.Currency, c.Currency)
		}
		exp.Currency = c.Currency
		if in.BudgetLineID != nil {
			var b contract.BudgetLine
			if err := store.Find(tx, tc, "contract_budget_line", *in.BudgetLineID, &b); err != nil {
				return err
			}
			if b.ContractID != c.ID {
				return apperr.Validation(op, "budget line %s belongs to another contract", b.ID)
			}
			if exp.CostCode == "" {
				exp.CostCode = b.CostCode
			}
			if exp.Category == "" {
				exp.Category = b.Category
			}
		}
		if exp.CostCode == "" && exp.Category == "" {
			return apperr.Validation(op, "a cost code, category or budget line is required")
		}
		now := s.deps.Clock.Now()
		if err := store.Insert(tx, tc, c.TenantID, exp, now); err != nil {
			return err
		}
		return store.Insert(tx, tc, exp.TenantID, &ExpenseEvent{ExpenseID: exp.ID, To: exp.Status}, now)
	})
	if err != nil {
		return nil, s.deps.Failed(entityExpense, err)
	}
	s.deps.Committed(ctx, platform.Event(tc, entityExpense, exp.ID, string(exp.Status), nil, exp, exp.CreatedAt))
	return exp, nil
}

// AdvanceExpense moves an expense one step along
// planned → recorded → approved → paid, or cancels it. Every change is written
// to the expense's history.
func (s *Service) AdvanceExpense(ctx context.Context, tc tenancy.Context, id string, to contract.ExpenseStatus, note string) (*contract.Expense, error) {
	const op = "reconciliation.AdvanceExpense"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	var exp, before contract.Expense
	err := s.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		exp = contract.Expense{}
		if err := store.FindForUpdate(tx, tc, entityExpense, id, &exp); err != nil {
			return err
		}
		before = exp
		if !slices.Contains(expenseTransitions[exp.Status], to) {
			return apperr.InvalidTransition(op, entityExpense, string(exp.Status), string(to))
		}
		if to == contract.ExpenseApproved && !s.deps.Authz.CanApprove(tc.Actor, rbac.LevelFinal, entityExpense) {
			return apperr.Policy(op, "user %s may not approve expenses", tc.Actor.ID)
		}
		now := s.deps.Clock.Now()
		exp.Status = to
		if err := store.Save(tx, tc, &exp, now); err != nil {
			return err
		}
		return store.Insert(tx, tc, exp.TenantID, &ExpenseEvent{ExpenseID: exp.ID, From: before.Status, To: to, Note: note}, now)
	})
	if err != nil {
		return nil, s.deps.Failed(entityExpense, err)
	}
	s.deps.Committed(ctx, platform.Event(tc, entityExpense, exp.ID, string(to), before, exp, exp.UpdatedAt))
	return &exp, nil
}

func (s *Service) ExpenseHistory(ctx context.Context, tc tenancy.Context, expenseID string) ([]ExpenseEvent, error) {
	var list []ExpenseEvent
	err := s.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc)).
		Where("expense_id = ?", expenseID).Order("created_at, id").Find(&list).Error
	return list, err
}

func (s *Service) Expenses(ctx context.Context, tc tenancy.Context, contractID string) ([]contract.Expense, error) {
	var list []contract.Expense
	err := s.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc)).
		Where("contract_id = ?", contractID).Order("expense_date, created_at").Find(&list).Error
	return list, err
}

type ScheduleInput struct {
	TenantID    string          `json:"tenantId"`
	Description string          `json:"description" validate:"required,max=500"`
	DueDate     time.Time       `json:"dueDate" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

func (s *Service) CreateScheduleEntry(ctx context.Context, tc tenancy.Context, contractID string, in ScheduleInput) (*ScheduledPayment, error) {
	const op = "reconciliation.CreateScheduleEntry"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, s.deps.Failed(entitySchedule, apperr.Validation(op, "amount must be positive"))
	}
	sched := &ScheduledPayment{
		TenantID:    in.TenantID,
		ContractID:  contractID,
		Description: in.Description,
		DueDate:     in.DueDate,
		Amount:      money.Round(in.Amount),
		Status:      SchedulePlanned,
	}
	err := s.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		c, err := contract.Find(tx, tc, contractID)
		if err != nil {
			return err
		}
		if in.Currency != "" && in.Currency != c.Currency {
			return apperr.Validation(op, "currency %s differs from contract currency %s", in.Currency, c.Currency)
		}
		sched.Currency = c.Currency
		return store.Insert(tx, tc, c.TenantID, sched, s.deps.Clock.Now())
	})
	if err != nil {
		return nil, s.deps.Failed(entitySchedule, err)
	}
	s.deps.Committed(ctx, platform.Event(tc, entitySchedule, sched.ID, "created", nil, sched, sched.CreatedAt))
	return sched, nil
}

func (s *Service) TransitionSchedule(ctx context.Context, tc tenancy.Context, id string, to ScheduleStatus) (*ScheduledPayment, error) {
	const op = "reconciliation.TransitionSchedule"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	var sched, before ScheduledPayment
	err := s.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		sched = ScheduledPayment{}
		if err := store.FindForUpdate(tx, tc, entitySchedule, id, &sched); err != nil {
			return err
		}
		before = sched
		if !slices.Contains(scheduleTransitions[sched.Status], to) {
			return apperr.InvalidTransition(op, entitySchedule, string(sched.Status), string(to))
		}
		now := s.deps.Clock.Now()
		sched.Status = to
		if to == SchedulePaid {
			sched.PaidAt = &now
		}
		return store.Save(tx, tc, &sched, now)
	})
	if err != nil {
		return nil, s.deps.Failed(entitySchedule, err)
	}
	s.deps.Committed(ctx, platform.Event(tc, entitySchedule, sched.ID, string(to), before, sched, sched.UpdatedAt))
	return &sched, nil
}

// RefreshOverdue marks every planned or due entry whose due date is before
// asOf as overdue and returns how many changed.
func (s *Service) RefreshOverdue(ctx context.Context, tc tenancy.Context, asOf time.Time) (int, error) {
	if err := tc.Valid(); err != nil {
		return 0, err
	}
	var events []audit.Event
	err := s.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		events = events[:0]
		var late []ScheduledPayment
		if err := tx.Scopes(tenancy.Scope(tc)).
			Where("status IN ? AND due_date < ?", []ScheduleStatus{SchedulePlanned, ScheduleDue}, asOf).
			Find(&late).Error; err != nil {
			return err
		}
		now := s.deps.Clock.Now()
		for i := range late {
			before := late[i]
			late[i].Status = ScheduleOverdue
			if err := store.Save(tx, tc, &late[i], now); err != nil {
				return err
			}
			events = append(events, platform.Event(tc, entitySchedule, late[i].ID, string(ScheduleOverdue), before, late[i], now))
		}
		return nil
	})
	if err != nil {
		return 0, s.deps.Failed(entitySchedule, err)
	}
	s.deps.Committed(ctx, events...)
	return len(events), nil
}

func (s *Service) Schedule(ctx context.Context, tc tenancy.Context, contractID string) ([]ScheduledPayment, error) {
	var list []ScheduledPayment
	err := s.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc)).
		Where("contract_id = ?", contractID).Order("due_date, created_at").Find(&list).Error
	return list, err
}

type CertificateBalance struct {
	CertificateID string          `json:"certificateId"`
	Payable       decimal.Decimal `json:"payable"`
	Paid          decimal.Decimal `json:"paid"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	Overpaid      decimal.Decimal `json:"overpaid"`
}

func (s *Service) CertificateBalance(ctx context.Context, tc tenancy.Context, certificateID string) (*CertificateBalance, error) {
	db := s.deps.Store.DB(ctx)
	var cert certificate.Certificate
	if err := store.Find(db, tc, "payment_certificate", certificateID, &cert); err != nil {
		return nil, err
	}
	paid, err := paidAgainst(db, tc, cert.ID)
	if err != nil {
		return nil, err
	}
	b := &CertificateBalance{CertificateID: cert.ID, Payable: cert.AmountPayable, Paid: paid}
	if diff := cert.AmountPayable.Sub(paid); diff.IsNegative() {
		b.Overpaid = diff.Neg()
		b.Outstanding = decimal.Zero
	} else {
		b.Outstanding = diff
	}
	return b, nil
}

type ContractSummary struct {
	ContractID       string          `json:"contractId"`
	Currency         string          `json:"currency"`
	OriginalValue    decimal.Decimal `json:"originalValue"`
	CurrentValue     decimal.Decimal `json:"currentValue"`
	Certified        decimal.Decimal `json:"certified"`
	RetentionHeld    decimal.Decimal `json:"retentionHeld"`
	Payable          decimal.Decimal `json:"payable"`
	Paid             decimal.Decimal `json:"paid"`
	Outstanding      decimal.Decimal `json:"outstanding"`
	ScheduledOpen    decimal.Decimal `json:"scheduledOpen"`
	OverdueEntries   int             `json:"overdueEntries"`
	OverpaidPayments int             `json:"overpaidPayments"`
}

// ContractSummary reports the contract's value against what was certified and
// paid. Outstanding is payable minus paid and goes negative when overpaid.
func (s *Service) ContractSummary(ctx context.Context, tc tenancy.Context, contractID string) (*ContractSummary, error) {
	db := s.deps.Store.DB(ctx)
	c, err := contract.Find(db, tc, contractID)
	if err != nil {
		return nil, err
	}
	current, err := s.ledger.CurrentValue(ctx, tc, contractID)
	if err != nil {
		return nil, err
	}
	sum := &ContractSummary{
		ContractID:    c.ID,
		Currency:      c.Currency,
		OriginalValue: c.OriginalTotalValue,
		CurrentValue:  current,
	}

	var certs []certificate.Certificate
	if err := db.Scopes(tenancy.Scope(tc)).
		Where("contract_id = ? AND status = ?", contractID, certificate.StatusApproved).
		Find(&certs).Error; err != nil {
		return nil, err
	}
	for _, cert := range certs {
		sum.Certified = sum.Certified.Add(cert.AmountBeforeRetention)
		sum.RetentionHeld = sum.RetentionHeld.Add(cert.RetentionAmount)
		sum.Payable = sum.Payable.Add(cert.AmountPayable)
	}

	payments, err := s.Payments(ctx, tc, contractID)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		sum.Paid = sum.Paid.Add(p.AmountPaid)
		if p.Overpayment {
			sum.OverpaidPayments++
		}
	}
	sum.Outstanding = sum.Payable.Sub(sum.Paid)

	schedule, err := s.Schedule(ctx, tc, contractID)
	if err != nil {
		return nil, err
	}
	for _, e := range schedule {
		if e.Open() {
			sum.ScheduledOpen = sum.ScheduledOpen.Add(e.Amount)
		}
		if e.Status == ScheduleOverdue {
			sum.OverdueEntries++
		}
	}
	return sum, nil
}
