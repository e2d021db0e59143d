package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/forms-app/internal/apperror"
	"github.com/sakif/forms-app/internal/model"
	"github.com/sakif/forms-app/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

// CreateUser inserts a new user. The email is the primary key, so a second
// registration with the same email fails with a Conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO users (email, password_hash, created_at)
		 VALUES (?, ?, ?)`),
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict(apperror.ReasonDuplicate, "User already registered")
		}
		return fmt.Errorf("sqldb: creating user: %w", err)
	}

	return nil
}

// GetUserByEmail looks up a user by email. Returns a NotFound error if no
// user exists.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User

	err := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT email, password_hash, created_at
		 FROM users
		 WHERE email = ?`),
		email,
	).Scan(&user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqldb: getting user by email: %w", err)
	}

	return &user, nil
}

// UpdatePasswordHash stores a new hash for email.
func (db *DB) UpdatePasswordHash(ctx context.Context, email, hash string) error {
	result, err := db.conn.ExecContext(ctx, db.rebind(
		`UPDATE users SET password_hash = ? WHERE email = ?`),
		hash, email,
	)
	if err != nil {
		return fmt.Errorf("sqldb: updating password hash: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", email)
	}
	return nil
}
