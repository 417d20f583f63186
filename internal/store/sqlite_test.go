package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type person struct {
	FirstName string `db:"firstname"`
	LastName  string `db:"lastname"`
}

func newTestDatabase(t *testing.T, opts ...Option) *Database {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	opts = append([]Option{WithLogger(logger.Sugar()), LockTimeout(5 * time.Second)}, opts...)
	return New(filepath.Join(t.TempDir(), "data", "test.db"), opts...)
}

func openTestDatabase(t *testing.T, opts ...Option) *Database {
	t.Helper()

	db := newTestDatabase(t, opts...)
	require.NoError(t, db.Init(context.Background()))
	t.Cleanup(func() { _ = db.Teardown() })
	return db
}

func seedPeople(t *testing.T, db *Database) {
	t.Helper()

	ctx := context.Background()
	_, err := db.Run(ctx, "CREATE TABLE People (firstname VARCHAR(16) UNIQUE, lastname VARCHAR(16))")
	require.NoError(t, err)
	_, err = db.Run(ctx, "INSERT INTO People (firstname, lastname) VALUES (?, ?)", "Gabriel", "Buxo")
	require.NoError(t, err)
	_, err = db.Run(ctx, "INSERT INTO People (firstname, lastname) VALUES (?, ?)", "John", "Doe")
	require.NoError(t, err)
}

func countPeople(t *testing.T, ctx context.Context, db *Database) int {
	t.Helper()

	var count int
	_, err := db.Get(ctx, &count, "SELECT COUNT(*) FROM People")
	require.NoError(t, err)
	return count
}

func TestInitCreatesDirectory(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.Init(context.Background()))
	defer db.Teardown()

	_, err := os.Stat(filepath.Dir(db.Location()))
	require.NoError(t, err)
}

func TestInitTwice(t *testing.T) {
	db := openTestDatabase(t)

	err := db.Init(context.Background())
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	require.EqualError(t, err, "database already exists")
}

func TestTeardown(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, db.Init(context.Background()))

	require.NoError(t, db.Teardown())
	err := db.Teardown()
	require.ErrorIs(t, err, ErrNotInitialized)
	require.EqualError(t, err, "database does not exist")

	// a torn down handle can be opened again
	require.NoError(t, db.Init(context.Background()))
	require.NoError(t, db.Teardown())
}

func TestTeardownWithOpenTransaction(t *testing.T) {
	db := newTestDatabase(t, LockTimeout(time.Second))
	ctx := context.Background()
	require.NoError(t, db.Init(ctx))
	seedPeople(t, db)

	txCtx, err := db.StartTransaction(ctx)
	require.NoError(t, err)
	_, err = db.Run(txCtx, "INSERT INTO People (firstname, lastname) VALUES (?, ?)", "Jane", "Roe")
	require.NoError(t, err)

	require.NoError(t, db.Teardown())
	require.False(t, db.InTransaction(txCtx))
	require.ErrorIs(t, db.CommitTransaction(txCtx), ErrNoTransaction)

	require.NoError(t, db.Init(ctx))
	t.Cleanup(func() { _ = db.Teardown() })

	// the lock is free again and the abandoned insert was rolled back
	txCtx, err = db.StartTransaction(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, countPeople(t, txCtx, db))
	require.NoError(t, db.CommitTransaction(txCtx))
}

func TestOperateBeforeInit(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	_, err := db.Run(ctx, "CREATE TABLE People (firstname TEXT)")
	require.ErrorIs(t, err, ErrNotInitialized)

	var count int
	_, err = db.Get(ctx, &count, "SELECT 1")
	require.ErrorIs(t, err, ErrNotInitialized)

	_, err = db.StartTransaction(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestForeignKeysEnabled(t *testing.T) {
	db := openTestDatabase(t)

	var enabled int
	found, err := db.Get(context.Background(), &enabled, "PRAGMA foreign_keys")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, enabled)
}

func TestRun(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)
	ctx := context.Background()

	res, err := db.Run(ctx, "INSERT INTO People (firstname, lastname) VALUES (?, ?)", "Joe", "Shmoe")
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)
	require.EqualValues(t, 3, res.LastInsertID)

	res, err = db.Run(ctx, "DELETE FROM People WHERE firstname = ?", "Joe")
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)
}

func TestRunBadSQL(t *testing.T) {
	db := openTestDatabase(t)

	_, err := db.Run(context.Background(), "S: *  FR SQLITE_SC;")
	require.Error(t, err)
}

func TestRunUniqueViolation(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)

	_, err := db.Run(context.Background(), "INSERT INTO People (firstname, lastname) VALUES (?, ?)", "John", "Smith")
	require.ErrorIs(t, err, ErrUniqueViolation)

	var sqliteErr sqlite3.Error
	require.True(t, errors.As(err, &sqliteErr))
	require.Equal(t, sqlite3.ErrConstraint, sqliteErr.Code)
}

func TestGet(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)

	var p person
	found, err := db.Get(context.Background(), &p, "SELECT firstname, lastname FROM People WHERE lastname = ?", "Doe")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, person{FirstName: "John", LastName: "Doe"}, p)
}

func TestGetNotFound(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)

	var p person
	found, err := db.Get(context.Background(), &p, "SELECT firstname, lastname FROM People WHERE firstname = ?", "Billy")
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetBadSQL(t *testing.T) {
	db := openTestDatabase(t)

	var p person
	_, err := db.Get(context.Background(), &p, "SELECT m:l * ;")
	require.Error(t, err)
}

func TestGetAll(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)

	var people []person
	err := db.GetAll(context.Background(), &people, "SELECT firstname, lastname FROM People ORDER BY rowid")
	require.NoError(t, err)
	require.Equal(t, []person{{"Gabriel", "Buxo"}, {"John", "Doe"}}, people)
}

func TestGetAllEmpty(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)

	people := []person{}
	err := db.GetAll(context.Background(), &people, "SELECT firstname, lastname FROM People WHERE lastname = ?", "Smith")
	require.NoError(t, err)
	require.Empty(t, people)
}

func TestTransactionRollback(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)

	txCtx, err := db.StartTransaction(context.Background())
	require.NoError(t, err)
	require.True(t, db.InTransaction(txCtx))

	_, err = db.Run(txCtx, "DELETE FROM People WHERE firstname = ?", "John")
	require.NoError(t, err)
	require.Equal(t, 1, countPeople(t, txCtx, db))

	require.NoError(t, db.RollbackTransaction(txCtx))
	require.False(t, db.InTransaction(txCtx))
	require.Equal(t, 2, countPeople(t, context.Background(), db))
}

func TestTransactionCommit(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)

	txCtx, err := db.StartTransaction(context.Background())
	require.NoError(t, err)

	_, err = db.Run(txCtx, "DELETE FROM People WHERE firstname = ?", "John")
	require.NoError(t, err)
	require.NoError(t, db.CommitTransaction(txCtx))

	require.Equal(t, 1, countPeople(t, context.Background(), db))
}

func TestFinishWithoutTransaction(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	require.ErrorIs(t, db.CommitTransaction(ctx), ErrNoTransaction)
	require.ErrorIs(t, db.RollbackTransaction(ctx), ErrNoTransaction)

	txCtx, err := db.StartTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, db.CommitTransaction(txCtx))
	require.ErrorIs(t, db.CommitTransaction(txCtx), ErrNoTransaction)
	require.ErrorIs(t, db.RollbackTransaction(txCtx), ErrNoTransaction)
}

func TestNestedTransaction(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)

	txCtx, err := db.StartTransaction(context.Background())
	require.NoError(t, err)

	_, err = db.StartTransaction(txCtx)
	require.ErrorIs(t, err, ErrNestedTransaction)

	// the outer transaction is still usable
	require.Equal(t, 2, countPeople(t, txCtx, db))
	require.NoError(t, db.CommitTransaction(txCtx))
}

func TestTransactionFromAnotherDatabase(t *testing.T) {
	first := openTestDatabase(t)
	second := openTestDatabase(t)

	txCtx, err := first.StartTransaction(context.Background())
	require.NoError(t, err)
	defer first.RollbackTransaction(txCtx)

	require.False(t, second.InTransaction(txCtx))
	require.ErrorIs(t, second.CommitTransaction(txCtx), ErrNoTransaction)
}

func TestTransactionsQueue(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)

	firstCtx, err := db.StartTransaction(context.Background())
	require.NoError(t, err)

	started := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		secondCtx, err := db.StartTransaction(context.Background())
		if err != nil {
			errs <- err
			return
		}
		close(started)
		errs <- db.CommitTransaction(secondCtx)
	}()

	select {
	case <-started:
		t.Fatal("second transaction started while the first was open")
	case <-time.After(100 * time.Millisecond):
	}

	_, err = db.Run(firstCtx, "INSERT INTO People (firstname, lastname) VALUES (?, ?)", "Joe", "Shmoe")
	require.NoError(t, err)
	require.NoError(t, db.CommitTransaction(firstCtx))

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second transaction never started")
	}
	require.Equal(t, 3, countPeople(t, context.Background(), db))
}

func TestLockTimeout(t *testing.T) {
	db := openTestDatabase(t, LockTimeout(50*time.Millisecond))

	txCtx, err := db.StartTransaction(context.Background())
	require.NoError(t, err)
	defer db.RollbackTransaction(txCtx)

	_, err = db.StartTransaction(context.Background())
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestLockWaitCancelled(t *testing.T) {
	db := openTestDatabase(t, LockTimeout(0))

	txCtx, err := db.StartTransaction(context.Background())
	require.NoError(t, err)
	defer db.RollbackTransaction(txCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = db.StartTransaction(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTransaction(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := WithTransaction(ctx, db, func(ctx context.Context) error {
		if _, err := db.Run(ctx, "DELETE FROM People"); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 2, countPeople(t, ctx, db))

	err = WithTransaction(ctx, db, func(ctx context.Context) error {
		_, err := db.Run(ctx, "DELETE FROM People WHERE firstname = ?", "Gabriel")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, countPeople(t, ctx, db))
}

func TestWithTransactionPanic(t *testing.T) {
	db := openTestDatabase(t)
	seedPeople(t, db)
	ctx := context.Background()

	require.Panics(t, func() {
		_ = WithTransaction(ctx, db, func(ctx context.Context) error {
			_, _ = db.Run(ctx, "DELETE FROM People")
			panic("boom")
		})
	})

	// the lock was released and the delete undone
	require.Equal(t, 2, countPeople(t, ctx, db))
	txCtx, err := db.StartTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, db.RollbackTransaction(txCtx))
}
