package project_test

import (
	"context"
	"testing"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/project"
	"github.com/KromaEnergia/contract-engine/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTenantDefaults(t *testing.T) {
	env := testutil.New(t)
	repo := project.NewRepository(env.Deps)

	tenant := &project.Tenant{Name: "Beta"}
	require.NoError(t, repo.CreateTenant(context.Background(), tenant))
	assert.NotEmpty(t, tenant.ID)
	assert.Equal(t, "USD", tenant.DefaultCurrency)
	assert.Equal(t, testutil.Epoch, tenant.CreatedAt)
}

func TestCreateTenantValidation(t *testing.T) {
	env := testutil.New(t)
	repo := project.NewRepository(env.Deps)
	ctx := context.Background()

	cases := map[string]*project.Tenant{
		"no name":   {},
		"currency":  {Name: "X", DefaultCurrency: "ZZZ"},
		"retention": {Name: "X", DefaultRetentionPercent: testutil.NullDec("101")},
	}
	for name, tenant := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, repo.CreateTenant(ctx, tenant), apperr.ErrValidation)
		})
	}
}

func TestProjectsAreTenantScoped(t *testing.T) {
	env := testutil.New(t)
	repo := project.NewRepository(env.Deps)
	ctx := context.Background()
	_, other := env.NewTenant(t, "Other", decimal.NullDecimal{})

	_, err := repo.Get(ctx, other, env.Project.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	p, err := repo.Create(ctx, other, project.ProjectInput{Code: "PRJ-1", Name: "Same code, other tenant"})
	require.NoError(t, err)
	assert.Equal(t, other.TenantID, p.TenantID)

	_, err = repo.Create(ctx, env.Maker, project.ProjectInput{Code: "PRJ-1", Name: "Duplicate"})
	assert.ErrorIs(t, err, apperr.ErrConcurrentModification)

	list, err := repo.List(ctx, env.Maker)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, env.Project.ID, list[0].ID)
}

func TestCreateProjectRejectsForeignTenant(t *testing.T) {
	env := testutil.New(t)
	repo := project.NewRepository(env.Deps)
	other, _ := env.NewTenant(t, "Other", decimal.NullDecimal{})

	_, err := repo.Create(context.Background(), env.Maker, project.ProjectInput{TenantID: other.ID, Code: "X", Name: "X"})
	assert.ErrorIs(t, err, apperr.ErrTenantMismatch)
	assert.Equal(t, []string{"created"}, env.Audit.Actions(env.Project.ID))
}
