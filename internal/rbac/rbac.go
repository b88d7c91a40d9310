// Package rbac is the default implementation of the approval authorization
// collaborator. Deployments with an external RBAC service implement
// Authorizer themselves.
package rbac

import (
	"slices"

	"github.com/KromaEnergia/contract-engine/internal/tenancy"
)

// Entity types checked by the engines.
const (
	EntityChangeOrder   = "change_order"
	EntityCertificate   = "payment_certificate"
	EntityExpense       = "contract_expense"
	EntityChangeRequest = "change_request"
)

// LevelFinal is the single sign-off level used by change orders, certificates
// and expenses.
const LevelFinal = "final"

type Authorizer interface {
	CanApprove(user tenancy.ActingUser, level, entityType string) bool
}

type Rule struct {
	Entity string   `yaml:"entity" validate:"required"`
	Level  string   `yaml:"level" validate:"required"`
	Roles  []string `yaml:"roles" validate:"required,min=1"`
}

type Config struct {
	SuperRoles []string `yaml:"superRoles"`
	Rules      []Rule   `yaml:"rules" validate:"dive"`
}

func DefaultConfig() Config {
	return Config{
		SuperRoles: []string{"admin"},
		Rules: []Rule{
			{Entity: EntityChangeOrder, Level: LevelFinal, Roles: []string{"contract_manager", "finance_director"}},
			{Entity: EntityCertificate, Level: LevelFinal, Roles: []string{"finance", "finance_director"}},
			{Entity: EntityExpense, Level: LevelFinal, Roles: []string{"finance", "project_manager"}},
			{Entity: EntityChangeRequest, Level: "level_1", Roles: []string{"reviewer", "project_manager"}},
			{Entity: EntityChangeRequest, Level: "level_2", Roles: []string{"project_manager", "contract_manager"}},
			{Entity: EntityChangeRequest, Level: "level_3", Roles: []string{"contract_manager", "finance_director"}},
			{Entity: EntityChangeRequest, Level: LevelFinal, Roles: []string{"director"}},
		},
	}
}

// RoleAuthorizer grants approval when the user holds one of the roles
// configured for (entity, level), or any super role.
type RoleAuthorizer struct {
	super []string
	rules map[string][]string
}

func NewRoleAuthorizer(cfg Config) *RoleAuthorizer {
	a := &RoleAuthorizer{super: cfg.SuperRoles, rules: make(map[string][]string, len(cfg.Rules))}
	for _, r := range cfg.Rules {
		k := key(r.Entity, r.Level)
		a.rules[k] = append(a.rules[k], r.Roles...)
	}
	return a
}

func (a *RoleAuthorizer) CanApprove(user tenancy.ActingUser, level, entityType string) bool {
	for _, role := range user.Roles {
		if slices.Contains(a.super, role) || slices.Contains(a.rules[key(entityType, level)], role) {
			return true
		}
	}
	return false
}

func key(entity, level string) string { return entity + "/" + level }

// AllowAll approves everything. Used by tests that exercise other rules.
type AllowAll struct{}

func (AllowAll) CanApprove(tenancy.ActingUser, string, string) bool { return true }
