// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummyPasswordHash is used when a user doesn't exist to prevent timing
// attacks: verification still runs so response time stays consistent.
// This is NOT a real credential - it can never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service is the authentication facade the boundary layer calls into.
type Service struct {
	users    UserStore
	hasher   PasswordHasher
	sessions *SessionManager
	resets   *ResetTokenManager
	logger   *slog.Logger
}

// NewService creates a Service over the given store and hasher.
func NewService(users UserStore, hasher PasswordHasher) (*Service, error) {
	return NewServiceWithLogger(users, hasher, slog.Default())
}

// NewServiceWithLogger creates a Service with an explicit logger.
func NewServiceWithLogger(users UserStore, hasher PasswordHasher, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("user store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}

	sessions, err := NewSessionManager(users)
	if err != nil {
		return nil, err
	}
	resets, err := NewResetTokenManager(users, hasher)
	if err != nil {
		return nil, err
	}

	return &Service{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		resets:   resets,
		logger:   logger,
	}, nil
}

// Sessions exposes the session manager for strategy construction.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// Register creates a new user with a hashed password and returns its ID.
// A taken email wraps ErrEmailTaken; the store's unique constraint makes
// the check-then-insert atomic under concurrent registration.
func (s *Service) Register(ctx context.Context, email, password string) (ulid.ULID, error) {
	if err := ValidateEmail(email); err != nil {
		return ulid.ULID{}, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return ulid.ULID{}, err
	}

	user, err := NewUser(email, passwordHash)
	if err != nil {
		return ulid.ULID{}, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return ulid.ULID{}, oops.Code("USER_EXISTS").
				With("email", email).
				Wrap(ErrEmailTaken)
		}
		return ulid.ULID{}, oops.Code("USER_CREATE_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user.ID, nil
}

// Login reports whether the email/password pair is valid. Unknown user and
// wrong password are indistinguishable to the caller: both return
// (false, ..., nil). Verification always runs, against a dummy hash when
// the user does not exist, to keep response time constant.
//
// The ThrottleResult carries the progressive delay for a failed attempt
// and the remaining lockout time when the account is locked, so the
// boundary can advertise Retry-After.
func (s *Service) Login(ctx context.Context, email, password string) (bool, ThrottleResult, error) {
	user, lookupErr := s.users.FindByEmail(ctx, email)

	targetHash := dummyPasswordHash
	userExists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return false, ThrottleResult{}, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "find user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		// A stored hash the verifier cannot parse counts as a mismatch,
		// not an internal failure. Legacy records fail closed until the
		// password is reset.
		if userExists {
			s.logger.WarnContext(ctx, "stored password hash is not parseable",
				"user_id", user.ID.String(), "error", verifyErr)
		}
		valid = false
	}

	if !userExists || !valid {
		var throttle ThrottleResult
		if userExists {
			user.RecordFailure()
			throttle = CheckFailures(user.FailedAttempts, user.LockedUntil)
			s.persistThrottleState(ctx, user)
		}
		return false, throttle, nil
	}

	// Check lockout AFTER password verification to maintain constant time.
	if user.IsLocked() {
		return false, CheckFailures(user.FailedAttempts, user.LockedUntil),
			oops.Code("AUTH_ACCOUNT_LOCKED").
				With("locked_until", user.LockedUntil).
				Errorf("account is temporarily locked")
	}

	user.RecordSuccess()

	// Opportunistic upgrade for hashes predating argon2id.
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			user.PasswordHash = newHash
		}
	}

	s.persistThrottleState(ctx, user)
	return true, ThrottleResult{}, nil
}

// persistThrottleState writes the failure counter, lockout, and possibly
// upgraded hash back to the store. Best effort: login outcome stands even
// if this write fails.
func (s *Service) persistThrottleState(ctx context.Context, user *User) {
	changes := UserUpdate{
		PasswordHash:   &user.PasswordHash,
		FailedAttempts: &user.FailedAttempts,
		LockedUntil:    user.LockedUntil,
		SetLockedUntil: true,
	}
	if err := s.users.Update(ctx, user.ID, changes); err != nil {
		s.logger.WarnContext(ctx, "failed to persist login throttle state",
			"user_id", user.ID.String(), "error", err)
	}
}

// CreateSession issues a session token for the given email. The second
// return reports whether a prior live session was superseded.
func (s *Service) CreateSession(ctx context.Context, email string) (string, bool, error) {
	return s.sessions.Create(ctx, email)
}

// DestroySession revokes the user's session token. Idempotent.
func (s *Service) DestroySession(ctx context.Context, userID ulid.ULID) error {
	return s.sessions.Destroy(ctx, userID)
}

// ResolveSession returns the user bound to a session token.
// Unknown tokens wrap ErrNotFound.
func (s *Service) ResolveSession(ctx context.Context, token string) (*User, error) {
	return s.sessions.Resolve(ctx, token)
}

// Profile returns the user bound to a session token, for callers that only
// need to display account details. Unknown tokens wrap ErrNotFound.
func (s *Service) Profile(ctx context.Context, sessionToken string) (*User, error) {
	return s.sessions.Resolve(ctx, sessionToken)
}

// RequestPasswordReset issues a reset token for the given email.
// Unknown email wraps ErrNotFound; the boundary decides whether to mask it.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	token, err := s.resets.Issue(ctx, email)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "password reset requested")
	return token, nil
}

// UpdatePassword consumes a reset token and stores the new password.
func (s *Service) UpdatePassword(ctx context.Context, token, newPassword string) error {
	if err := s.resets.Consume(ctx, token, newPassword); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password updated via reset token")
	return nil
}
