// Package tenancy carries the acting user and tenant through every engine call.
//
// A Context is always passed explicitly; nothing in this module resolves the
// tenant from global state. The HTTP middleware stores one on the request
// context and handlers pass it down by value.
package tenancy

import (
	"context"
	"slices"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"gorm.io/gorm"
)

// ActingUser is supplied by the identity collaborator and trusted as-is.
type ActingUser struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	Roles    []string `json:"roles"`
}

func (u ActingUser) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

type Context struct {
	TenantID string
	Actor    ActingUser
}

func New(user ActingUser) Context {
	return Context{TenantID: user.TenantID, Actor: user}
}

func (c Context) Valid() error {
	if c.TenantID == "" || c.Actor.ID == "" {
		return apperr.Validation("tenancy", "acting user and tenant are required")
	}
	if c.Actor.TenantID != "" && c.Actor.TenantID != c.TenantID {
		return apperr.TenantMismatch("tenancy", c.Actor.TenantID, c.TenantID)
	}
	return nil
}

// Derive resolves the tenant of a new child row from its parent. An empty
// supplied value inherits the parent's tenant; a conflicting one is rejected.
func Derive(parentTenantID, supplied string) (string, error) {
	if supplied == "" || supplied == parentTenantID {
		return parentTenantID, nil
	}
	return "", apperr.TenantMismatch("tenancy.Derive", parentTenantID, supplied)
}

// Scope filters a query to the acting tenant.
func Scope(c Context) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", c.TenantID)
	}
}

type ctxKey struct{}

func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok
}
