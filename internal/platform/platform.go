// Package platform bundles the collaborators every engine is built with.
package platform

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/audit"
	"github.com/KromaEnergia/contract-engine/internal/clock"
	"github.com/KromaEnergia/contract-engine/internal/config"
	"github.com/KromaEnergia/contract-engine/internal/metrics"
	"github.com/KromaEnergia/contract-engine/internal/rbac"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/go-playground/validator/v10"
)

type Deps struct {
	Store   *store.Store
	Authz   rbac.Authorizer
	Audit   audit.Emitter
	Metrics *metrics.Metrics
	Clock   clock.Clock
	Logger  *slog.Logger
	Policy  config.Policy
}

// WithDefaults fills the optional collaborators.
func (d Deps) WithDefaults() Deps {
	if d.Audit == nil {
		d.Audit = audit.Discard{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Authz == nil {
		d.Authz = rbac.NewRoleAuthorizer(rbac.DefaultConfig())
	}
	return d
}

// Committed records metrics and emits audit events for transitions that
// committed, and logs each one.
func (d Deps) Committed(ctx context.Context, events ...audit.Event) {
	for _, ev := range events {
		d.Metrics.Transition(ev.EntityType, ev.Action)
		d.Logger.InfoContext(ctx, "transition committed",
			"entity", ev.EntityType,
			"id", ev.EntityID,
			"action", ev.Action,
			"tenant", ev.TenantID,
			"actor", ev.ActorID,
		)
	}
	d.Audit.Emit(ctx, events...)
}

// Event describes one committed transition performed by tc's actor.
func Event(tc tenancy.Context, entity, id, action string, before, after any, at time.Time) audit.Event {
	return audit.Event{
		EntityType: entity,
		EntityID:   id,
		Action:     action,
		TenantID:   tc.TenantID,
		ActorID:    tc.Actor.ID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(after),
		Timestamp:  at,
	}
}

// Failed counts a rejected operation and passes err through. Tenant
// mismatches are also logged as security events.
func (d Deps) Failed(entity string, err error) error {
	if err == nil {
		return err
	}
	kind := apperr.KindOf(err)
	d.Metrics.Failure(entity, string(kind))
	if kind == apperr.KindTenantMismatch && d.Logger != nil {
		d.Logger.Warn("tenant mismatch on write",
			"security", true,
			"entity", entity,
			"err", err,
		)
	}
	return err
}

var validate = validator.New()

// Validate checks struct tags and converts failures into a ValidationError.
func Validate(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+" "+fe.Tag())
		}
		return apperr.Validation(op, "invalid input: %s", strings.Join(fields, ", "))
	}
	return apperr.Validation(op, "invalid input: %v", err)
}
