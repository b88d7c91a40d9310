package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/metrics"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type widget struct {
	Base
	TenantID string `gorm:"type:varchar(36);not null;index"`
	Name     string
}

func (w *widget) TenantKey() *string { return &w.TenantID }

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&widget{}))
	return db
}

func TestClassify(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03", "23505"} {
		err := Classify(fmt.Errorf("exec: %w", &pgconn.PgError{Code: code}))
		assert.True(t, errors.Is(err, apperr.ErrConcurrentModification), code)
	}
	assert.True(t, errors.Is(Classify(gorm.ErrDuplicatedKey), apperr.ErrConcurrentModification))
	assert.True(t, errors.Is(Classify(gorm.ErrRecordNotFound), apperr.ErrNotFound))

	other := &pgconn.PgError{Code: "23502"}
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(Classify(other)))

	policy := apperr.Policy("op", "nope")
	assert.Same(t, policy, Classify(policy))
	assert.Nil(t, Classify(nil))
}

func TestInTxRetriesConcurrentModification(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := New(openDB(t), Options{MaxRetries: 2, Backoff: 1, Metrics: m})

	calls := 0
	err := s.InTx(context.Background(), func(tx *gorm.DB) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: pgSerializationFailure}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TxRetriesTotal))
}

func TestInTxSurfacesConcurrentModificationAfterBudget(t *testing.T) {
	s := New(openDB(t), Options{MaxRetries: 1, Backoff: 1})

	calls := 0
	err := s.InTx(context.Background(), func(tx *gorm.DB) error {
		calls++
		return &pgconn.PgError{Code: pgLockNotAvailable}
	})
	assert.True(t, errors.Is(err, apperr.ErrConcurrentModification))
	assert.Equal(t, 2, calls)
}

func TestInTxDoesNotRetryOtherErrors(t *testing.T) {
	s := New(openDB(t), Options{MaxRetries: 3, Backoff: 1})

	calls := 0
	err := s.InTx(context.Background(), func(tx *gorm.DB) error {
		calls++
		return apperr.Validation("op", "bad input")
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, 1, calls)
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := openDB(t)
	s := New(db, Options{})
	tc := tenancy.New(tenancy.ActingUser{ID: "u1", TenantID: "t1"})

	err := s.InTx(context.Background(), func(tx *gorm.DB) error {
		if err := Insert(tx, tc, "t1", &widget{Name: "w"}, fixedNow); err != nil {
			return err
		}
		return apperr.Policy("op", "abort")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&widget{}).Count(&count).Error)
	assert.Zero(t, count)
}
