// Package conflict runs ledger mutations inside SERIALIZABLE Postgres
// transactions and retries them when the database reports a
// serialization failure, the expected way to resolve write-write
// conflicts between concurrently running components (the updater, the
// broadcaster, and the confirmation poller all touch the same wallets).
package conflict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// ErrUnresolvable is returned when a managed transaction still conflicts
// after exhausting its retry budget.
var ErrUnresolvable = errors.New("conflict: could not resolve after max retries")

// Resolver retries a function against SERIALIZABLE transactions until it
// succeeds or exhausts its retry budget.
type Resolver struct {
	db         *sql.DB
	log        *logging.Logger
	maxRetries int
	baseDelay  time.Duration

	attempts  atomic.Int64
	conflicts atomic.Int64
	failures  atomic.Int64
}

// Config configures a Resolver.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// New builds a Resolver bound to db.
func New(db *sql.DB, cfg *Config) *Resolver {
	if cfg == nil {
		cfg = &Config{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 10 * time.Millisecond
	}
	return &Resolver{
		db:         db,
		log:        logging.GetDefault().Component("conflict"),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Attempts returns the total number of transaction attempts made.
func (r *Resolver) Attempts() int64 { return r.attempts.Load() }

// Conflicts returns the number of attempts that hit a retryable
// serialization conflict.
func (r *Resolver) Conflicts() int64 { return r.conflicts.Load() }

// Failures returns the number of managed calls that gave up after
// exhausting their retry budget.
func (r *Resolver) Failures() int64 { return r.failures.Load() }

// Managed runs fn inside a SERIALIZABLE transaction, retrying with
// jittered backoff when the database reports a serialization conflict.
// fn's error, if non-nil and not a retryable conflict, aborts the
// transaction and is returned immediately without retrying - business
// rule violations (ledger.ErrNotEnoughAccountBalance and friends) are
// never conflicts.
func (r *Resolver) Managed(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		r.attempts.Add(1)

		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		r.conflicts.Add(1)
		lastErr = err

		if attempt == r.maxRetries {
			break
		}

		delay := r.backoff(attempt)
		r.log.Debug("retrying after serialization conflict", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	r.failures.Add(1)
	return fmt.Errorf("%w: %v", ErrUnresolvable, lastErr)
}

func (r *Resolver) runOnce(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("conflict: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// NonRetryable runs fn inside a SERIALIZABLE transaction exactly once,
// without retrying on conflict. Use it for steps adjacent to external
// I/O (a backend RPC call, an outbound webhook) where blind retry would
// risk repeating the side effect rather than just the database write.
func (r *Resolver) NonRetryable(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	r.attempts.Add(1)
	err := r.runOnce(ctx, fn)
	if err != nil && IsRetryable(err) {
		r.conflicts.Add(1)
	}
	return err
}

func (r *Resolver) backoff(attempt int) time.Duration {
	d := r.baseDelay * time.Duration(1<<uint(attempt))
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d + jitter
}

// IsRetryable reports whether err represents a Postgres serialization
// conflict or deadlock that a retried transaction could plausibly
// succeed past.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected,
		pgerrcode.UniqueViolation:
		// UniqueViolation is included because a racing INSERT ... ON
		// CONFLICT DO NOTHING under SERIALIZABLE can surface as a
		// unique violation rather than a serialization failure,
		// depending on timing.
		return true
	default:
		return false
	}
}
