// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

// Package postgres implements the auth.UserStore contract on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/doorward/doorward/internal/auth"
)

// poolIface is the subset of pgxpool.Pool the repository uses.
// Narrowing the dependency lets tests substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, email, password_hash, session_token, reset_token,
	       failed_attempts, locked_until, created_at, updated_at`

// UserRepository implements auth.UserStore using PostgreSQL.
//
// The unique index on users.email makes Create's check-then-insert atomic:
// under concurrent registration of the same email exactly one insert
// succeeds and the rest surface auth.ErrEmailTaken.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, password_hash, session_token, reset_token,
			failed_attempts, locked_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.SessionToken,
		user.ResetToken,
		user.FailedAttempts,
		user.LockedUntil,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("USER_EXISTS").
				With("email", user.Email).
				Wrap(auth.ErrEmailTaken)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return nil
}

// FindByID retrieves a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())
	return r.scanUser(row, "id", id.String())
}

// FindByEmail retrieves a user by exact email match.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email)
	return r.scanUser(row, "email", email)
}

// FindBySessionToken retrieves the user holding the given session token hash.
func (r *UserRepository) FindBySessionToken(ctx context.Context, tokenHash string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE session_token = $1
	`, tokenHash)
	return r.scanUser(row, "lookup", "session_token")
}

// FindByResetToken retrieves the user holding the given reset token hash.
func (r *UserRepository) FindByResetToken(ctx context.Context, tokenHash string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE reset_token = $1
	`, tokenHash)
	return r.scanUser(row, "lookup", "reset_token")
}

// Update applies a partial update in a single UPDATE statement, so paired
// changes (new password hash + cleared reset token) cannot partially apply.
func (r *UserRepository) Update(ctx context.Context, id ulid.ULID, changes auth.UserUpdate) error {
	if changes.Empty() {
		return nil
	}

	set := []string{"updated_at = $2"}
	args := []any{id.String(), time.Now()}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if changes.PasswordHash != nil {
		add("password_hash", *changes.PasswordHash)
	}
	if changes.SetSessionToken {
		add("session_token", changes.SessionToken)
	}
	if changes.SetResetToken {
		add("reset_token", changes.ResetToken)
	}
	if changes.FailedAttempts != nil {
		add("failed_attempts", *changes.FailedAttempts)
	}
	if changes.SetLockedUntil {
		add("locked_until", changes.LockedUntil)
	}

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $1", strings.Join(set, ", "))

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single row into a User.
func (r *UserRepository) scanUser(row pgx.Row, byKey, byValue string) (*auth.User, error) {
	var (
		idStr          string
		email          string
		passwordHash   string
		sessionToken   *string
		resetToken     *string
		failedAttempts int
		lockedUntil    *time.Time
		createdAt      time.Time
		updatedAt      time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&passwordHash,
		&sessionToken,
		&resetToken,
		&failedAttempts,
		&lockedUntil,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With(byKey, byValue).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			With(byKey, byValue).
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.User{
		ID:             id,
		Email:          email,
		PasswordHash:   passwordHash,
		SessionToken:   sessionToken,
		ResetToken:     resetToken,
		FailedAttempts: failedAttempts,
		LockedUntil:    lockedUntil,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.UserStore = (*UserRepository)(nil)
