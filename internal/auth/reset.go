// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// ResetTokenManager issues and consumes single-use password-reset tokens.
//
// A token lives in the reset_token column of the user record; issuing a new
// one invalidates any earlier token, and consuming one clears the column in
// the same write that stores the new password hash.
type ResetTokenManager struct {
	users  UserStore
	hasher PasswordHasher
}

// NewResetTokenManager creates a ResetTokenManager.
func NewResetTokenManager(users UserStore, hasher PasswordHasher) (*ResetTokenManager, error) {
	if users == nil {
		return nil, oops.Errorf("user store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	return &ResetTokenManager{users: users, hasher: hasher}, nil
}

// Issue generates a reset token for the user with the given email and
// persists its hash, superseding any earlier token. Returns the plaintext
// token for delivery (delivery is not this layer's job). Unknown email
// wraps ErrNotFound so the boundary can decide what to expose.
func (m *ResetTokenManager) Issue(ctx context.Context, email string) (string, error) {
	user, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("RESET_NO_SUCH_USER").
				With("email", email).
				Wrap(ErrNotFound)
		}
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	token, hash, err := GenerateToken()
	if err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	err = m.users.Update(ctx, user.ID, UserUpdate{
		ResetToken:    &hash,
		SetResetToken: true,
	})
	if err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "persist token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	return token, nil
}

// Consume redeems a reset token: the new password is hashed and stored, and
// the token column is cleared, in one store update. A token is never usable
// twice. Unknown or already-consumed tokens fail with RESET_TOKEN_INVALID.
func (m *ResetTokenManager) Consume(ctx context.Context, token, newPassword string) error {
	if newPassword == "" {
		return ErrEmptyPassword
	}
	if token == "" {
		return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrInvalidResetToken)
	}

	user, err := m.users.FindByResetToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrInvalidResetToken)
		}
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "find user by reset token").
			Wrap(err)
	}

	// The lookup is by hash; confirm the row's stored column still
	// matches before trusting it.
	if user.ResetToken == nil || !VerifyToken(token, *user.ResetToken) {
		return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrInvalidResetToken)
	}

	passwordHash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	// Hash update and token clear travel in one write so the transition
	// cannot partially apply.
	err = m.users.Update(ctx, user.ID, UserUpdate{
		PasswordHash:  &passwordHash,
		SetResetToken: true,
	})
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	return nil
}
