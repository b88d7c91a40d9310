// Package certificate bills progress against a contract through interim
// payment certificates.
//
//	draft ──► submitted ──► approved (retention resolved and frozen)
//	  │           ├───────► rejected
//	  └───────────┴───────► cancelled
package certificate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/contract"
	"github.com/KromaEnergia/contract-engine/internal/money"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/project"
	"github.com/KromaEnergia/contract-engine/internal/rbac"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const entity = rbac.EntityCertificate

var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted, StatusCancelled},
	StatusSubmitted: {StatusApproved, StatusRejected, StatusCancelled},
}

type Engine struct {
	deps platform.Deps
}

func NewEngine(deps platform.Deps) *Engine {
	return &Engine{deps: deps.WithDefaults()}
}

// Progress is the cumulative completion of one contract line.
type Progress struct {
	ContractLineID    string          `json:"contractLineId" validate:"required"`
	CumulativePercent decimal.Decimal `json:"cumulativePercent"`
}

// Input describes a certificate's amount: either AmountBeforeRetention
// directly, or Progress against the contract lines.
type Input struct {
	TenantID                 string              `json:"tenantId"`
	PeriodNumber             int                 `json:"periodNumber" validate:"gte=0"`
	PeriodStart              *time.Time          `json:"periodStart"`
	PeriodEnd                *time.Time          `json:"periodEnd"`
	AmountBeforeRetention    decimal.NullDecimal `json:"amountBeforeRetention"`
	Progress                 []Progress          `json:"progress" validate:"dive"`
	RetentionPercentOverride decimal.NullDecimal `json:"retentionPercentOverride"`
}

func checkInput(op string, in Input) error {
	if err := platform.Validate(op, in); err != nil {
		return err
	}
	if in.AmountBeforeRetention.Valid == (len(in.Progress) > 0) {
		return apperr.Validation(op, "supply either amountBeforeRetention or progress")
	}
	if in.AmountBeforeRetention.Valid && in.AmountBeforeRetention.Decimal.IsNegative() {
		return apperr.Validation(op, "amount before retention cannot be negative")
	}
	if in.RetentionPercentOverride.Valid && !money.ValidPercent(in.RetentionPercentOverride.Decimal) {
		return apperr.Validation(op, "retention percent must be between 0 and 100")
	}
	if in.PeriodStart != nil && in.PeriodEnd != nil && in.PeriodEnd.Before(*in.PeriodStart) {
		return apperr.Validation(op, "period end precedes period start")
	}
	return nil
}

// Create drafts the next certificate of an open contract. Without an explicit
// period number the certificate takes the period after the latest live one.
func (e *Engine) Create(ctx context.Context, tc tenancy.Context, contractID string, in Input) (*Certificate, error) {
	const op = "certificate.Create"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := checkInput(op, in); err != nil {
		return nil, e.deps.Failed(entity, err)
	}
	cert := &Certificate{
		TenantID:                 in.TenantID,
		ContractID:               contractID,
		PeriodStart:              in.PeriodStart,
		PeriodEnd:                in.PeriodEnd,
		Status:                   StatusDraft,
		RetentionPercentOverride: in.RetentionPercentOverride,
	}
	err := e.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		c, err := contract.Lock(tx, tc, contractID)
		if err != nil {
			return err
		}
		if !c.Open() {
			return apperr.InvalidState(op, "contract is %s", c.Status)
		}
		existing, err := listByContract(tx, tc, c.ID)
		if err != nil {
			return err
		}
		period := in.PeriodNumber
		if period == 0 {
			period = 1
			for _, x := range existing {
				if x.Live() && x.PeriodNumber >= period {
					period = x.PeriodNumber + 1
				}
			}
		}
		if err := periodFree(op, existing, "", period); err != nil {
			return err
		}
		cert.PeriodNumber = period
		if err := e.price(tx, tc, op, c, existing, "", in, cert); err != nil {
			return err
		}
		cert.ProjectID = c.ProjectID
		cert.Currency = c.Currency
		cert.Code = fmt.Sprintf("IPC-%02d", len(existing)+1)
		return store.Insert(tx, tc, c.TenantID, cert, e.deps.Clock.Now())
	})
	if err != nil {
		return nil, e.deps.Failed(entity, err)
	}
	e.deps.Committed(ctx, platform.Event(tc, entity, cert.ID, "created", nil, cert, cert.CreatedAt))
	return cert, nil
}

func periodFree(op string, existing []Certificate, selfID string, period int) error {
	for _, x := range existing {
		if x.ID != selfID && x.Live() && x.PeriodNumber == period {
			return apperr.Validation(op, "period %d is already billed by %s", period, x.Code)
		}
	}
	return nil
}

// price sets the certificate's amount. Progress-based amounts bill the
// cumulative line value minus every live certificate of an earlier period,
// whatever its status. cert.PeriodNumber must already be set.
func (e *Engine) price(tx *gorm.DB, tc tenancy.Context, op string, c *contract.Contract, existing []Certificate, selfID string, in Input, cert *Certificate) error {
	if in.AmountBeforeRetention.Valid {
		cert.AmountBeforeRetention = money.Round(in.AmountBeforeRetention.Decimal)
		cert.CumulativeValue = decimal.NullDecimal{}
		return nil
	}
	cumulative := decimal.Zero
	seen := map[string]bool{}
	for _, p := range in.Progress {
		if seen[p.ContractLineID] {
			return apperr.Validation(op, "contract line %s listed twice", p.ContractLineID)
		}
		seen[p.ContractLineID] = true
		if !money.ValidPercent(p.CumulativePercent) {
			return apperr.Validation(op, "progress must be between 0 and 100 percent")
		}
		var line contract.Line
		if err := store.Find(tx, tc, "contract_line", p.ContractLineID, &line); err != nil {
			return err
		}
		if line.ContractID != c.ID {
			return apperr.Validation(op, "contract line %s belongs to another contract", line.ID)
		}
		cumulative = cumulative.Add(money.Percent(line.Amount, p.CumulativePercent))
	}
	cert.CumulativeValue = money.Null(cumulative)
	return reprice(op, existing, selfID, cert)
}

// billedBefore sums the live certificates billing periods before period.
func billedBefore(existing []Certificate, selfID string, period int) decimal.Decimal {
	total := decimal.Zero
	for _, x := range existing {
		if x.ID != selfID && x.Live() && x.PeriodNumber < period {
			total = total.Add(x.AmountBeforeRetention)
		}
	}
	return total
}

// reprice derives a progress-based amount from the cumulative value and the
// earlier periods as they stand in existing.
func reprice(op string, existing []Certificate, selfID string, cert *Certificate) error {
	cumulative := cert.CumulativeValue.Decimal
	billed := billedBefore(existing, selfID, cert.PeriodNumber)
	amount := cumulative.Sub(billed)
	if amount.IsNegative() {
		return apperr.Validation(op, "cumulative value %s is below the %s billed by earlier periods", cumulative, billed)
	}
	cert.AmountBeforeRetention = amount
	return nil
}

// UpdateDraft replaces the amount, period dates and retention override of a
// draft certificate.
func (e *Engine) UpdateDraft(ctx context.Context, tc tenancy.Context, id string, in Input) (*Certificate, error) {
	const op = "certificate.UpdateDraft"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := checkInput(op, in); err != nil {
		return nil, e.deps.Failed(entity, err)
	}
	var cert, before Certificate
	err := e.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		var head Certificate
		if err := store.Find(tx, tc, entity, id, &head); err != nil {
			return err
		}
		c, err := contract.Lock(tx, tc, head.ContractID)
		if err != nil {
			return err
		}
		cert = Certificate{}
		if err := store.FindForUpdate(tx, tc, entity, id, &cert); err != nil {
			return err
		}
		before = cert
		if cert.Status != StatusDraft {
			return apperr.InvalidState(op, "certificate %s is %s; only drafts can be edited", cert.Code, cert.Status)
		}
		if in.TenantID != "" && in.TenantID != cert.TenantID {
			return apperr.TenantMismatch(op, cert.TenantID, in.TenantID)
		}
		existing, err := listByContract(tx, tc, c.ID)
		if err != nil {
			return err
		}
		if in.PeriodNumber != 0 && in.PeriodNumber != cert.PeriodNumber {
			if err := periodFree(op, existing, cert.ID, in.PeriodNumber); err != nil {
				return err
			}
			cert.PeriodNumber = in.PeriodNumber
		}
		if err := e.price(tx, tc, op, c, existing, cert.ID, in, &cert); err != nil {
			return err
		}
		cert.PeriodStart = in.PeriodStart
		cert.PeriodEnd = in.PeriodEnd
		cert.RetentionPercentOverride = in.RetentionPercentOverride
		return store.Save(tx, tc, &cert, e.deps.Clock.Now())
	})
	if err != nil {
		return nil, e.deps.Failed(entity, err)
	}
	e.deps.Committed(ctx, platform.Event(tc, entity, cert.ID, "updated", before, cert, cert.UpdatedAt))
	return &cert, nil
}

func (e *Engine) Submit(ctx context.Context, tc tenancy.Context, id string) (*Certificate, error) {
	const op = "certificate.Submit"
	return e.transition(ctx, tc, op, id, StatusSubmitted, func(_ *gorm.DB, _ *contract.Contract, cert *Certificate) error {
		if !cert.AmountBeforeRetention.IsPositive() {
			return apperr.Validation(op, "certificate %s has nothing to bill", cert.Code)
		}
		now := e.deps.Clock.Now()
		actor := tc.Actor.ID
		cert.SubmittedBy = &actor
		cert.SubmittedAt = &now
		return nil
	})
}

type ApproveOptions struct {
	// OverrideOutOfOrder approves even though an earlier period is still
	// awaiting a decision. The override is recorded on the certificate.
	OverrideOutOfOrder bool `json:"overrideOutOfOrder"`
}

// Approve resolves the retention percent, freezes the retention split and
// closes the certificate. The approver must differ from the submitter and the
// contract must still be open. Progress-based amounts are re-priced against
// the earlier periods as they stand under the contract lock.
func (e *Engine) Approve(ctx context.Context, tc tenancy.Context, id string, opts ApproveOptions) (*Certificate, error) {
	const op = "certificate.Approve"
	return e.transition(ctx, tc, op, id, StatusApproved, func(tx *gorm.DB, c *contract.Contract, cert *Certificate) error {
		if !c.Open() {
			return apperr.InvalidState(op, "contract is %s", c.Status)
		}
		if cert.SubmittedBy != nil && *cert.SubmittedBy == tc.Actor.ID {
			return apperr.Policy(op, "the submitter of %s cannot approve it", cert.Code)
		}
		if !e.deps.Authz.CanApprove(tc.Actor, rbac.LevelFinal, entity) {
			return apperr.Policy(op, "user %s may not approve payment certificates", tc.Actor.ID)
		}
		existing, err := listByContract(tx, tc, c.ID)
		if err != nil {
			return err
		}
		if e.deps.Policy.EnforcePeriodOrder {
			for _, x := range existing {
				if x.ID == cert.ID || !x.Pending() || x.PeriodNumber >= cert.PeriodNumber {
					continue
				}
				if !opts.OverrideOutOfOrder {
					return apperr.Policy(op, "period %d (%s) is still %s", x.PeriodNumber, x.Code, x.Status)
				}
				cert.OutOfOrderOverride = true
			}
		}
		if cert.CumulativeValue.Valid {
			if err := reprice(op, existing, cert.ID, cert); err != nil {
				return err
			}
			if !cert.AmountBeforeRetention.IsPositive() {
				return apperr.Validation(op, "certificate %s has nothing left to bill", cert.Code)
			}
		}

		tenant, err := project.LoadTenant(tx, tc)
		if err != nil {
			return err
		}
		pct := ResolveRetention(cert.RetentionPercentOverride, c.DefaultRetentionPercent, tenant.DefaultRetentionPercent)
		cert.RetentionPercent = money.Null(pct)
		cert.RetentionAmount, cert.AmountPayable = money.Retention(cert.AmountBeforeRetention, pct)

		now := e.deps.Clock.Now()
		actor := tc.Actor.ID
		cert.DecidedBy = &actor
		cert.DecidedAt = &now
		return nil
	})
}

// ResolveRetention applies the fallback chain: certificate override, then
// contract default, then tenant default, then zero.
func ResolveRetention(override, contractDefault, tenantDefault decimal.NullDecimal) decimal.Decimal {
	return money.Coalesce(override, contractDefault, tenantDefault)
}

func (e *Engine) Reject(ctx context.Context, tc tenancy.Context, id, reason string) (*Certificate, error) {
	const op = "certificate.Reject"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, e.deps.Failed(entity, apperr.Validation(op, "a rejection reason is required"))
	}
	return e.transition(ctx, tc, op, id, StatusRejected, func(_ *gorm.DB, _ *contract.Contract, cert *Certificate) error {
		if !e.deps.Authz.CanApprove(tc.Actor, rbac.LevelFinal, entity) {
			return apperr.Policy(op, "user %s may not reject payment certificates", tc.Actor.ID)
		}
		now := e.deps.Clock.Now()
		actor := tc.Actor.ID
		cert.RejectionReason = reason
		cert.DecidedBy = &actor
		cert.DecidedAt = &now
		return nil
	})
}

func (e *Engine) Cancel(ctx context.Context, tc tenancy.Context, id string) (*Certificate, error) {
	return e.transition(ctx, tc, "certificate.Cancel", id, StatusCancelled, func(_ *gorm.DB, _ *contract.Contract, cert *Certificate) error {
		now := e.deps.Clock.Now()
		cert.CancelledAt = &now
		return nil
	})
}

// transition locks the contract, then the certificate, and applies one state
// change.
func (e *Engine) transition(ctx context.Context, tc tenancy.Context, op, id string, to Status, apply func(tx *gorm.DB, c *contract.Contract, cert *Certificate) error) (*Certificate, error) {
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	var cert, before Certificate
	err := e.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		var head Certificate
		if err := store.Find(tx, tc, entity, id, &head); err != nil {
			return err
		}
		c, err := contract.Lock(tx, tc, head.ContractID)
		if err != nil {
			return err
		}
		cert = Certificate{}
		if err := store.FindForUpdate(tx, tc, entity, id, &cert); err != nil {
			return err
		}
		before = cert
		if !slices.Contains(transitions[cert.Status], to) {
			return apperr.InvalidTransition(op, entity, string(cert.Status), string(to))
		}
		if err := apply(tx, c, &cert); err != nil {
			return err
		}
		cert.Status = to
		now := e.deps.Clock.Now()
		if err := store.Save(tx, tc, &cert, now); err != nil {
			return err
		}
		// Serializes certificate decisions per contract.
		return contract.Touch(tx, tc, c, now)
	})
	if err != nil {
		return nil, e.deps.Failed(entity, err)
	}
	e.deps.Committed(ctx, platform.Event(tc, entity, cert.ID, string(to), before, cert, cert.UpdatedAt))
	return &cert, nil
}

func (e *Engine) Get(ctx context.Context, tc tenancy.Context, id string) (*Certificate, error) {
	var cert Certificate
	if err := store.Find(e.deps.Store.DB(ctx), tc, entity, id, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

func (e *Engine) ListByContract(ctx context.Context, tc tenancy.Context, contractID string) ([]Certificate, error) {
	return listByContract(e.deps.Store.DB(ctx), tc, contractID)
}

func listByContract(db *gorm.DB, tc tenancy.Context, contractID string) ([]Certificate, error) {
	var list []Certificate
	err := db.Scopes(tenancy.Scope(tc)).
		Where("contract_id = ?", contractID).
		Order("period_number, code").
		Find(&list).Error
	return list, err
}
