package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/metrics"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes treated as a concurrent modification.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

type Options struct {
	// MaxRetries is the number of extra attempts after a concurrent modification.
	MaxRetries int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
	// Serializable requests SERIALIZABLE isolation. SQLite ignores it.
	Serializable bool
	// LockTimeout bounds row-lock waits on Postgres. Zero keeps the server default.
	LockTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

type Store struct {
	db   *gorm.DB
	opts Options
}

func New(db *gorm.DB, opts Options) *Store {
	if opts.Backoff <= 0 {
		opts.Backoff = 20 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{db: db, opts: opts}
}

// DB returns a session bound to ctx for reads outside a transaction.
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// InTx runs fn in a transaction. fn must be safe to run more than once: on a
// concurrent modification the whole transaction is rolled back and retried.
func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = Classify(s.attempt(ctx, fn))
		if err == nil || !apperr.Retryable(err) || attempt >= s.opts.MaxRetries {
			return err
		}
		s.opts.Metrics.TxRetry()
		s.opts.Logger.Debug("retrying transaction", "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(s.opts.Backoff * time.Duration(attempt+1)):
		}
	}
}

func (s *Store) attempt(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var txOpts []*sql.TxOptions
	if s.opts.Serializable {
		txOpts = append(txOpts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.opts.LockTimeout > 0 && tx.Dialector.Name() == "postgres" {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.opts.LockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	}, txOpts...)
}

// Classify maps driver errors onto the apperr taxonomy. Errors that already
// carry a kind pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgUniqueViolation:
			return apperr.Concurrent("store", err)
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Concurrent("store", err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &apperr.Error{Kind: apperr.KindNotFound, Op: "store", Message: "record not found", Err: err}
	}
	return err
}
