// Package testutil builds an engine environment over in-memory SQLite for
// package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/audit"
	"github.com/KromaEnergia/contract-engine/internal/clock"
	"github.com/KromaEnergia/contract-engine/internal/config"
	"github.com/KromaEnergia/contract-engine/internal/contract"
	"github.com/KromaEnergia/contract-engine/internal/metrics"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/project"
	"github.com/KromaEnergia/contract-engine/internal/rbac"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/KromaEnergia/contract-engine/internal/utils/db"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the fixed clock start of every environment.
var Epoch = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// NewDB opens a migrated in-memory database. A single connection keeps every
// session on the same database and serializes transactions.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(gdb))
	return gdb
}

type Env struct {
	DB       *gorm.DB
	Audit    *audit.Memory
	Clock    *clock.Fixed
	Registry *prometheus.Registry
	Deps     platform.Deps

	Tenant  *project.Tenant
	Project *project.Project

	// Maker drafts and proposes. Checker holds every approval role of the
	// default RBAC config except admin. Viewer holds none.
	Maker   tenancy.Context
	Checker tenancy.Context
	Viewer  tenancy.Context
}

// New seeds one tenant (5% default retention) and one project.
func New(t testing.TB) *Env {
	t.Helper()
	gdb := NewDB(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := &Env{
		DB:       gdb,
		Audit:    &audit.Memory{},
		Clock:    clock.NewFixed(Epoch),
		Registry: reg,
	}
	e.Deps = platform.Deps{
		Store:   store.New(gdb, store.Options{MaxRetries: 3, Backoff: time.Millisecond, Metrics: m}),
		Authz:   rbac.NewRoleAuthorizer(rbac.DefaultConfig()),
		Audit:   e.Audit,
		Metrics: m,
		Clock:   e.Clock,
		Policy: config.Policy{
			Overpayment:        config.OverpaymentFlag,
			EnforcePeriodOrder: true,
			MaxTxRetries:       3,
		},
	}.WithDefaults()

	e.Tenant, e.Maker = e.NewTenant(t, "Acme Build", decimal.NullDecimal{Decimal: decimal.NewFromInt(5), Valid: true})
	e.Checker = e.Actor(e.Tenant.ID, "u-checker", "contract_manager", "finance_director", "finance", "project_manager", "reviewer", "director")
	e.Viewer = e.Actor(e.Tenant.ID, "u-viewer")

	p, err := project.NewRepository(e.Deps).Create(context.Background(), e.Maker, project.ProjectInput{Code: "PRJ-1", Name: "Tower A"})
	require.NoError(t, err)
	e.Project = p
	return e
}

// NewTenant creates another tenant and returns it with a maker acting in it.
func (e *Env) NewTenant(t testing.TB, name string, retention decimal.NullDecimal) (*project.Tenant, tenancy.Context) {
	t.Helper()
	tenant := &project.Tenant{Name: name, DefaultCurrency: "USD", DefaultRetentionPercent: retention}
	require.NoError(t, project.NewRepository(e.Deps).CreateTenant(context.Background(), tenant))
	return tenant, e.Actor(tenant.ID, "u-maker-"+tenant.ID[:8], "contract_manager")
}

func (e *Env) Actor(tenantID, userID string, roles ...string) tenancy.Context {
	return tenancy.New(tenancy.ActingUser{ID: userID, TenantID: tenantID, Roles: roles})
}

// Contract creates an active USD contract in the seeded project.
func (e *Env) Contract(t testing.TB, code, total string) *contract.Contract {
	t.Helper()
	ctx := context.Background()
	repo := contract.NewRepository(e.Deps)
	c, err := repo.Create(ctx, e.Maker, contract.ContractInput{
		ProjectID:  e.Project.ID,
		Code:       code,
		Title:      "Contract " + code,
		TotalValue: decimal.RequireFromString(total),
	})
	require.NoError(t, err)
	c, err = repo.Activate(ctx, e.Maker, c.ID)
	require.NoError(t, err)
	return c
}

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// NullDec parses a decimal literal into a valid NullDecimal.
func NullDec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}
