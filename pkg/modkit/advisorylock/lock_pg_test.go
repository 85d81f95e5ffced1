package advisorylock

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/hyperspot-run/modkit/pkg/modkit/dbmanager"
)

func newMockPGManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	handle := dbmanager.NewHandle(dbmanager.EnginePostgres, sqlx.NewDb(db, "postgres"), "postgres://mock/db")
	return New(handle, t.TempDir()), mock
}

func TestTryLockPG_SucceedsThenReleasesOnAdvisoryLockGranted(t *testing.T) {
	m, mock := newMockPGManager(t)
	namespacedKey := "orders:migrate"
	hash := keyHash(namespacedKey)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(hash).
		WillReturnResult(sqlmock.NewResult(0, 1))

	guard, err := m.tryLockPG(context.Background(), namespacedKey)
	if err != nil {
		t.Fatalf("tryLockPG() error = %v", err)
	}
	if guard == nil {
		t.Fatal("expected a non-nil guard when pg_try_advisory_lock returns true")
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestTryLockPG_ReturnsNilGuardWhenAlreadyHeld(t *testing.T) {
	m, mock := newMockPGManager(t)
	namespacedKey := "orders:migrate"
	hash := keyHash(namespacedKey)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	guard, err := m.tryLockPG(context.Background(), namespacedKey)
	if err != nil {
		t.Fatalf("tryLockPG() error = %v", err)
	}
	if guard != nil {
		t.Fatal("expected a nil guard when pg_try_advisory_lock returns false")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestLockPG_BlockingAcquireThenRelease(t *testing.T) {
	m, mock := newMockPGManager(t)
	namespacedKey := "orders:migrate"
	hash := keyHash(namespacedKey)

	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WithArgs(hash).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(hash).
		WillReturnResult(sqlmock.NewResult(0, 1))

	guard, err := m.lockPG(context.Background(), namespacedKey, true)
	if err != nil {
		t.Fatalf("lockPG() error = %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("second Release() must be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
