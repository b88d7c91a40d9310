package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveInheritsParentTenant(t *testing.T) {
	got, err := Derive("tenant-a", "")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", got)

	got, err = Derive("tenant-a", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", got)
}

func TestDeriveRejectsConflictingTenant(t *testing.T) {
	_, err := Derive("tenant-a", "tenant-b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTenantMismatch))
}

func TestContextValid(t *testing.T) {
	ok := New(ActingUser{ID: "u1", TenantID: "t1"})
	assert.NoError(t, ok.Valid())

	missing := Context{TenantID: "t1"}
	assert.True(t, errors.Is(missing.Valid(), apperr.ErrValidation))

	crossed := Context{TenantID: "t2", Actor: ActingUser{ID: "u1", TenantID: "t1"}}
	assert.True(t, errors.Is(crossed.Valid(), apperr.ErrTenantMismatch))
}

func TestContextRoundTrip(t *testing.T) {
	tc := New(ActingUser{ID: "u1", TenantID: "t1", Roles: []string{"admin"}})
	ctx := WithContext(context.Background(), tc)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t1", got.TenantID)
	assert.True(t, got.Actor.HasRole("admin"))

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
