package platform

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/audit"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReportsFields(t *testing.T) {
	in := struct {
		Title string `validate:"required"`
		Code  string `validate:"max=3"`
	}{Code: "TOO-LONG"}

	err := Validate("op", in)
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "Title required")
	assert.Contains(t, err.Error(), "Code max")
}

func TestCommittedEmitsEvents(t *testing.T) {
	mem := &audit.Memory{}
	deps := Deps{Audit: mem}.WithDefaults()
	tc := tenancy.New(tenancy.ActingUser{ID: "u1", TenantID: "t1"})
	at := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	deps.Committed(context.Background(), Event(tc, "change_order", "co-1", "approved", nil, map[string]string{"status": "approved"}, at))

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "t1", events[0].TenantID)
	assert.Equal(t, "u1", events[0].ActorID)
	assert.Equal(t, at, events[0].Timestamp)
	assert.JSONEq(t, `{"status":"approved"}`, string(events[0].After))
}

func TestFailedPassesErrorThrough(t *testing.T) {
	deps := Deps{}.WithDefaults()
	err := apperr.NotFound("op", "contract", "x")
	assert.Same(t, err, deps.Failed("contract", err))
	assert.NoError(t, deps.Failed("contract", nil))
}

func TestFailedLogsTenantMismatchOnly(t *testing.T) {
	var buf bytes.Buffer
	deps := Deps{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}.WithDefaults()

	deps.Failed("contract", apperr.NotFound("op", "contract", "x"))
	assert.Empty(t, buf.String())

	err := deps.Failed("contract", apperr.TenantMismatch("op", "t1", "t2"))
	require.ErrorIs(t, err, apperr.ErrTenantMismatch)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"security":true`)
	assert.Contains(t, buf.String(), `"entity":"contract"`)
}
