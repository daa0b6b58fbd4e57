// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Email validation constraints.
const MaxEmailLength = 254

// emailRegex is a sanity check, not an RFC 5322 validator. The boundary
// rejects obviously malformed input; deliverability is not this layer's job.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// User represents a registered account.
//
// SessionToken and ResetToken hold SHA-256 hashes of the opaque tokens, or
// nil when no token is live. At most one of each exists per user at a time.
type User struct {
	ID             ulid.ULID
	Email          string
	PasswordHash   string
	SessionToken   *string
	ResetToken     *string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser creates a validated User with a fresh ID and hashed password.
func NewUser(email, passwordHash string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked returns true if the user is currently locked out.
func (u *User) IsLocked() bool {
	return IsLockedOut(u.LockedUntil)
}

// RecordFailure increments the failure counter and sets lockout if the
// threshold is reached.
func (u *User) RecordFailure() {
	u.FailedAttempts++
	u.LockedUntil = ComputeLockoutTime(u.FailedAttempts)
	u.UpdatedAt = time.Now()
}

// RecordSuccess resets the failure counter and lockout.
func (u *User) RecordSuccess() {
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.UpdatedAt = time.Now()
}

// ValidateEmail rejects obviously malformed email addresses.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email is not a valid address")
	}
	return nil
}

// UserUpdate describes a partial update of a user record.
//
// Nil pointer fields are left untouched. The nullable token columns use a
// Set flag so that "clear to NULL" is expressible: when SetSessionToken is
// true the column is written with SessionToken (which may be nil).
// PasswordHash and SetResetToken travel together in the reset-consume path
// so the store can apply both in one write.
type UserUpdate struct {
	PasswordHash *string

	SessionToken    *string
	SetSessionToken bool

	ResetToken    *string
	SetResetToken bool

	FailedAttempts *int
	LockedUntil    *time.Time
	SetLockedUntil bool
}

// Empty returns true if the update changes nothing.
func (c UserUpdate) Empty() bool {
	return c.PasswordHash == nil &&
		!c.SetSessionToken &&
		!c.SetResetToken &&
		c.FailedAttempts == nil &&
		!c.SetLockedUntil
}

// UserStore is the persistence contract the core depends on.
//
// Lookup misses return an error wrapping ErrNotFound, distinct from
// storage I/O failure. Create must be atomic with respect to concurrent
// registration of the same email; the backing store enforces this with a
// unique constraint and surfaces ErrEmailTaken on conflict.
type UserStore interface {
	// Create stores a new user. Duplicate email wraps ErrEmailTaken.
	Create(ctx context.Context, user *User) error

	// FindByID retrieves a user by ID.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// FindByEmail retrieves a user by exact email match.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindBySessionToken retrieves the user holding the given session
	// token hash. Exact-match lookup; at most one user can match.
	FindBySessionToken(ctx context.Context, tokenHash string) (*User, error)

	// FindByResetToken retrieves the user holding the given reset token hash.
	FindByResetToken(ctx context.Context, tokenHash string) (*User, error)

	// Update applies a partial update. All requested changes are written in
	// a single statement; absent id wraps ErrNotFound.
	Update(ctx context.Context, id ulid.ULID, changes UserUpdate) error
}
