package conflict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"serialization failure", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, true},
		{"deadlock detected", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, true},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, true},
		{"not null violation", &pgconn.PgError{Code: pgerrcode.NotNullViolation}, false},
		{"wrapped serialization failure", fmt.Errorf("tx failed: %w", &pgconn.PgError{Code: pgerrcode.SerializationFailure}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestResolverBackoffIncreases(t *testing.T) {
	r := New(nil, &Config{MaxRetries: 5})

	prev := r.backoff(0)
	for attempt := 1; attempt < 5; attempt++ {
		d := r.backoff(attempt)
		if d < prev {
			t.Errorf("backoff(%d) = %v, not >= backoff(%d) = %v", attempt, d, attempt-1, prev)
		}
		prev = d
	}
}

func TestResolverDefaults(t *testing.T) {
	r := New(nil, nil)
	if r.maxRetries != 5 {
		t.Errorf("default maxRetries = %d, want 5", r.maxRetries)
	}
	if r.Attempts() != 0 || r.Conflicts() != 0 || r.Failures() != 0 {
		t.Errorf("fresh resolver should have zero counters")
	}
}

// TestManagedRetriesThenCommits drives the literal "conflict retry"
// scenario: a SERIALIZABLE conflict on the first two attempts, each rolled
// back, then a third attempt that commits.
func TestManagedRetriesThenCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	r := New(db, &Config{MaxRetries: 5, BaseDelay: time.Millisecond})

	attempts := 0
	err = r.Managed(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Managed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("fn ran %d times, want 3", attempts)
	}
	if got := r.Attempts(); got != 3 {
		t.Errorf("Attempts() = %d, want 3", got)
	}
	if got := r.Conflicts(); got != 2 {
		t.Errorf("Conflicts() = %d, want 2", got)
	}
	if got := r.Failures(); got != 0 {
		t.Errorf("Failures() = %d, want 0", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestManagedGivesUpAfterMaxRetries covers the exhausted-retries path: every
// attempt keeps hitting a retryable conflict, so Managed gives up and wraps
// ErrUnresolvable instead of retrying forever.
func TestManagedGivesUpAfterMaxRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	const maxRetries = 2
	for i := 0; i <= maxRetries; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	r := New(db, &Config{MaxRetries: maxRetries, BaseDelay: time.Millisecond})

	attempts := 0
	err = r.Managed(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	})
	if !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("err = %v, want ErrUnresolvable", err)
	}
	if attempts != maxRetries+1 {
		t.Errorf("fn ran %d times, want %d", attempts, maxRetries+1)
	}
	if got := r.Attempts(); got != int64(maxRetries+1) {
		t.Errorf("Attempts() = %d, want %d", got, maxRetries+1)
	}
	if got := r.Conflicts(); got != int64(maxRetries+1) {
		t.Errorf("Conflicts() = %d, want %d", got, maxRetries+1)
	}
	if got := r.Failures(); got != 1 {
		t.Errorf("Failures() = %d, want 1", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestManagedDoesNotRetryBusinessError covers the other half of Managed's
// contract: a non-conflict error (a business rule violation like
// insufficient balance) aborts on the first attempt with no retry at all.
func TestManagedDoesNotRetryBusinessError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	r := New(db, &Config{MaxRetries: 5, BaseDelay: time.Millisecond})

	wantErr := errors.New("not enough balance")
	attempts := 0
	err = r.Managed(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("fn ran %d times, want 1 (no retry for a non-conflict error)", attempts)
	}
	if got := r.Conflicts(); got != 0 {
		t.Errorf("Conflicts() = %d, want 0", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestNonRetryableRunsOnce covers NonRetryable's defining behavior: even a
// retryable conflict gets exactly one attempt, since it guards steps
// adjacent to external I/O where a blind retry would risk repeating a side
// effect rather than just the database write.
func TestNonRetryableRunsOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	r := New(db, &Config{MaxRetries: 5, BaseDelay: time.Millisecond})

	attempts := 0
	err = r.NonRetryable(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("fn ran %d times, want 1", attempts)
	}
	if got := r.Attempts(); got != 1 {
		t.Errorf("Attempts() = %d, want 1", got)
	}
	if got := r.Conflicts(); got != 1 {
		t.Errorf("Conflicts() = %d, want 1", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
