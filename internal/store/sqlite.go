package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// Result carries the metadata of a mutating statement
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Handle is the set of database capabilities the DAOs are built on
type Handle interface {
	Run(ctx context.Context, query string, args ...any) (Result, error)
	Get(ctx context.Context, dest any, query string, args ...any) (bool, error)
	GetAll(ctx context.Context, dest any, query string, args ...any) error

	StartTransaction(ctx context.Context) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	InTransaction(ctx context.Context) bool
}

// Database owns the single connection to the SQLite file and the lock that
// serializes transactions on it.
type Database struct {
	location    string
	logger      *zap.SugaredLogger
	lockTimeout time.Duration
	busyTimeout time.Duration

	mu sync.RWMutex
	db *sqlx.DB

	// one slot: holding it means owning the open transaction
	txLock chan struct{}

	activeMu sync.Mutex
	active   *txState
}

var _ Handle = (*Database)(nil)

type txKey struct{}

type txState struct {
	owner *Database
	tx    *sqlx.Tx

	mu   sync.Mutex
	done bool
}

// New returns an uninitialized Database for the file at location. Call Init before use.
func New(location string, opts ...Option) *Database {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}

	return &Database{
		location:    location,
		logger:      o.logger,
		lockTimeout: o.lockTimeout,
		busyTimeout: o.busyTimeout,
		txLock:      make(chan struct{}, 1),
	}
}

// Location returns the path of the database file
func (d *Database) Location() string {
	return d.location
}

func (d *Database) dsn() string {
	return fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d", d.location, d.busyTimeout.Milliseconds())
}

// Init opens the connection, creating the parent directory of the database file if needed.
// It fails with ErrAlreadyInitialized when the connection is already open.
func (d *Database) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return ErrAlreadyInitialized
	}

	dir := filepath.Dir(d.location)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		d.logger.Infof("Database directory %s does not exist, creating", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", d.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite transactions belong to a connection, so everything shares one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d.db = db
	d.logger.Infof("Database initialized at %s", d.location)
	return nil
}

// Teardown closes the connection, rolling back a transaction left open.
// The Database may be initialized again afterwards.
func (d *Database) Teardown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return ErrNotInitialized
	}

	// an abandoned transaction must not keep the lock past this handle's lifetime
	if err := d.abandon(); err != nil {
		d.logger.Warnf("Failed to roll back open transaction on teardown: %v", err)
	}

	err := d.db.Close()
	d.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	d.logger.Info("Database closed")
	return nil
}

func (d *Database) conn() (*sqlx.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, ErrNotInitialized
	}
	return d.db, nil
}

// executor picks the open transaction carried by ctx, falling back to the plain connection
func (d *Database) executor(ctx context.Context) (sqlx.ExtContext, error) {
	if st := d.txFromContext(ctx); st != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
		if !st.done {
			return st.tx, nil
		}
	}
	return d.conn()
}

// Run executes a mutating statement. Statements are not cancelled with ctx once submitted.
func (d *Database) Run(ctx context.Context, query string, args ...any) (Result, error) {
	ex, err := d.executor(ctx)
	if err != nil {
		return Result{}, err
	}

	res, err := ex.ExecContext(context.WithoutCancel(ctx), query, args...)
	if err != nil {
		return Result{}, translateError(err)
	}

	var out Result
	out.LastInsertID, _ = res.LastInsertId()
	out.RowsAffected, _ = res.RowsAffected()
	return out, nil
}

// Get scans the first row of query into dest. found is false when no row matched.
func (d *Database) Get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	ex, err := d.executor(ctx)
	if err != nil {
		return false, err
	}

	err = sqlx.GetContext(context.WithoutCancel(ctx), ex, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, translateError(err)
	}
	return true, nil
}

// GetAll scans every row of query into dest, which must be a pointer to a slice
func (d *Database) GetAll(ctx context.Context, dest any, query string, args ...any) error {
	ex, err := d.executor(ctx)
	if err != nil {
		return err
	}

	if err := sqlx.SelectContext(context.WithoutCancel(ctx), ex, dest, query, args...); err != nil {
		return translateError(err)
	}
	return nil
}

// StartTransaction waits for the transaction lock, begins a transaction and
// returns a context carrying it. Run, Get and GetAll called with the returned
// context execute inside the transaction. While it is open, statements issued
// from the same goroutine must use the returned context.
//
// Starting a transaction from a context that already carries an open one
// fails with ErrNestedTransaction.
func (d *Database) StartTransaction(ctx context.Context) (context.Context, error) {
	if d.InTransaction(ctx) {
		return ctx, ErrNestedTransaction
	}

	db, err := d.conn()
	if err != nil {
		return ctx, err
	}

	if err := d.acquire(ctx); err != nil {
		return ctx, err
	}

	tx, err := db.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		d.release()
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}

	st := &txState{owner: d, tx: tx}
	d.activeMu.Lock()
	d.active = st
	d.activeMu.Unlock()

	d.logger.Debug("Transaction started")
	return context.WithValue(ctx, txKey{}, st), nil
}

// CommitTransaction commits the transaction carried by ctx and releases the lock
func (d *Database) CommitTransaction(ctx context.Context) error {
	return d.finish(ctx, true)
}

// RollbackTransaction rolls back the transaction carried by ctx and releases the lock
func (d *Database) RollbackTransaction(ctx context.Context) error {
	return d.finish(ctx, false)
}

// InTransaction reports whether ctx carries an open transaction of this Database
func (d *Database) InTransaction(ctx context.Context) bool {
	st := d.txFromContext(ctx)
	if st == nil {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return !st.done
}

func (d *Database) finish(ctx context.Context, commit bool) error {
	st := d.txFromContext(ctx)
	if st == nil {
		return ErrNoTransaction
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.done {
		return ErrNoTransaction
	}
	st.done = true
	defer d.release()
	d.clearActive(st)

	if commit {
		if err := st.tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", translateError(err))
		}
		d.logger.Debug("Transaction committed")
		return nil
	}

	if err := st.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	d.logger.Debug("Transaction rolled back")
	return nil
}

// abandon rolls back the open transaction, if any, and releases the lock
func (d *Database) abandon() error {
	d.activeMu.Lock()
	st := d.active
	d.active = nil
	d.activeMu.Unlock()
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}
	st.done = true
	defer d.release()

	d.logger.Warn("Rolling back transaction left open at teardown")
	return st.tx.Rollback()
}

func (d *Database) clearActive(st *txState) {
	d.activeMu.Lock()
	if d.active == st {
		d.active = nil
	}
	d.activeMu.Unlock()
}

func (d *Database) txFromContext(ctx context.Context) *txState {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok || st.owner != d {
		return nil
	}
	return st
}

func (d *Database) acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if d.lockTimeout > 0 {
		timer := time.NewTimer(d.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case d.txLock <- struct{}{}:
		return nil
	case <-timeout:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Database) release() {
	<-d.txLock
}

// WithTransaction runs fn inside a transaction on h. The transaction is
// committed when fn returns nil and rolled back when it returns an error or panics.
func WithTransaction(ctx context.Context, h Handle, fn func(ctx context.Context) error) error {
	txCtx, err := h.StartTransaction(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = h.RollbackTransaction(txCtx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := h.RollbackTransaction(txCtx); rbErr != nil && !errors.Is(rbErr, ErrNoTransaction) {
			return errors.Join(err, rbErr)
		}
		return err
	}

	return h.CommitTransaction(txCtx)
}

// atomically joins the transaction carried by ctx, or opens a new one when there is none
func atomically(ctx context.Context, h Handle, fn func(ctx context.Context) error) error {
	if h.InTransaction(ctx) {
		return fn(ctx)
	}
	return WithTransaction(ctx, h, fn)
}
