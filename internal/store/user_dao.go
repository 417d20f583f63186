package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const userColumns = "id, firstname, lastname, email, username, password, salt, registerdate"

// UserDAO owns the Users table
type UserDAO struct {
	logger *zap.SugaredLogger
	db     Handle
}

// NewUserDAO returns a UserDAO working over db. db must be initialized before Init is called.
func NewUserDAO(logger *zap.SugaredLogger, db Handle) *UserDAO {
	return &UserDAO{
		logger: logger,
		db:     db,
	}
}

// Init creates the Users table if it does not exist
func (d *UserDAO) Init(ctx context.Context) error {
	_, err := d.db.Run(ctx, `
	CREATE TABLE IF NOT EXISTS Users (
		id INTEGER NOT NULL PRIMARY KEY,
		firstname VARCHAR(32) NOT NULL,
		lastname VARCHAR(32) NOT NULL,
		email VARCHAR(32) UNIQUE NOT NULL,
		username VARCHAR(32) UNIQUE NOT NULL,
		password VARCHAR(64) NOT NULL,
		salt VARCHAR(40) NOT NULL,
		registerdate DATETIME NOT NULL DEFAULT (DATETIME('now'))
	)`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	d.logger.Info("Users table initialized")
	return nil
}

// GetUser returns the user with the given id, or nil if there is none
func (d *UserDAO) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	found, err := d.db.Get(ctx, &user, "SELECT "+userColumns+" FROM Users WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &user, nil
}

// GetUserByUsername returns the user with the given username, or nil if there is none
func (d *UserDAO) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	found, err := d.db.Get(ctx, &user, "SELECT "+userColumns+" FROM Users WHERE username = ?", username)
	if err != nil {
		return nil, fmt.Errorf("failed to query user by username: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &user, nil
}

// CreateUser inserts user, whose password must already be hashed, and returns it with its id set.
// A taken username or email yields ErrUserExists.
func (d *UserDAO) CreateUser(ctx context.Context, user User) (*User, error) {
	d.logger.Debugf("Creating user (%s)", user.Username)

	if user.RegisterDate.IsZero() {
		user.RegisterDate = time.Now().UTC()
	}

	res, err := d.db.Run(ctx,
		"INSERT INTO Users (firstname, lastname, email, username, password, salt, registerdate) VALUES (?, ?, ?, ?, ?, ?, ?)",
		user.FirstName, user.LastName, user.Email, user.Username, user.Password, user.Salt, user.RegisterDate)
	if err != nil {
		return nil, userWriteError(err)
	}

	user.ID = res.LastInsertID
	d.logger.Debugf("Created user (%s) with id %d", user.Username, user.ID)
	return &user, nil
}

// UpdateUser overwrites the names, email, username and password of the user with user.ID.
// It returns nil if there is no such user.
func (d *UserDAO) UpdateUser(ctx context.Context, user User) (*User, error) {
	d.logger.Debugf("Updating user (id: %d)", user.ID)

	res, err := d.db.Run(ctx,
		"UPDATE Users SET firstname = ?, lastname = ?, email = ?, username = ?, password = ? WHERE id = ?",
		user.FirstName, user.LastName, user.Email, user.Username, user.Password, user.ID)
	if err != nil {
		return nil, userWriteError(err)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	return d.GetUser(ctx, user.ID)
}

// DeleteUser removes the user and returns it as it was before deletion, or nil if there is none.
// Their conversations and messages are removed with them.
func (d *UserDAO) DeleteUser(ctx context.Context, id int64) (*User, error) {
	d.logger.Debugf("Deleting user (id: %d)", id)

	var deleted *User
	err := atomically(ctx, d.db, func(ctx context.Context) error {
		user, err := d.GetUser(ctx, id)
		if err != nil || user == nil {
			return err
		}

		if _, err := d.db.Run(ctx, "DELETE FROM Users WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		deleted = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Verify reports whether exactly one user has the given username and password hash
func (d *UserDAO) Verify(ctx context.Context, username, passwordHash string) (bool, error) {
	var count int
	_, err := d.db.Get(ctx, &count, "SELECT COUNT(*) FROM Users WHERE username = ? AND password = ?", username, passwordHash)
	if err != nil {
		return false, fmt.Errorf("failed to verify user: %w", err)
	}
	return count == 1, nil
}

func userWriteError(err error) error {
	if errors.Is(err, ErrUniqueViolation) {
		return fmt.Errorf("%w: %w", ErrUserExists, err)
	}
	return fmt.Errorf("failed to write user: %w", err)
}
