package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrAlreadyInitialized = errors.New("database already exists")
	ErrNotInitialized     = errors.New("database does not exist")

	ErrNoTransaction     = errors.New("no active transaction")
	ErrNestedTransaction = errors.New("transaction already active for this context")
	ErrLockTimeout       = errors.New("timed out waiting for transaction lock")

	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	ErrUserExists = errors.New("user already exists")
)

// translateError tags driver constraint failures with the matching sentinel.
// The driver error stays in the chain so callers can still errors.As it.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
	default:
		return err
	}
}
