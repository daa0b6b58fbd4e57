// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionManager issues, resolves, and revokes opaque session tokens.
//
// Tokens live in the session_token column of the user record: creating a new
// session overwrites any prior token, so a user holds at most one live
// session at a time. The manager keeps no state of its own.
type SessionManager struct {
	users UserStore
}

// NewSessionManager creates a SessionManager over the given store.
func NewSessionManager(users UserStore) (*SessionManager, error) {
	if users == nil {
		return nil, oops.Errorf("user store is required")
	}
	return &SessionManager{users: users}, nil
}

// Create generates a fresh session token for the user with the given email
// and persists its hash, overwriting any prior token. Returns the plaintext
// token and whether a prior token was superseded. Unknown email wraps
// ErrNotFound; the caller maps that to an authentication failure, not an
// internal error.
func (m *SessionManager) Create(ctx context.Context, email string) (string, bool, error) {
	user, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, oops.Code("SESSION_NO_SUCH_USER").
				With("email", email).
				Wrap(ErrNotFound)
		}
		return "", false, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}
	replaced := user.SessionToken != nil

	token, hash, err := GenerateToken()
	if err != nil {
		return "", false, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	err = m.users.Update(ctx, user.ID, UserUpdate{
		SessionToken:    &hash,
		SetSessionToken: true,
	})
	if err != nil {
		return "", false, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	return token, replaced, nil
}

// Resolve returns the user bound to the given plaintext session token.
// An unknown token wraps ErrNotFound; that is the expected invalid-session
// case, not a failure.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, oops.Code("SESSION_INVALID").Wrap(ErrNotFound)
	}

	user, err := m.users.FindBySessionToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Wrap(ErrNotFound)
		}
		return nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "find user by session token").
			Wrap(err)
	}

	// The lookup is by hash; confirm the row's stored column still
	// matches before trusting it.
	if user.SessionToken == nil || !VerifyToken(token, *user.SessionToken) {
		return nil, oops.Code("SESSION_INVALID").Wrap(ErrNotFound)
	}

	return user, nil
}

// Destroy clears the user's session token. Logout is idempotent: an absent
// user or an already-cleared token is a no-op, not an error.
func (m *SessionManager) Destroy(ctx context.Context, userID ulid.ULID) error {
	err := m.users.Update(ctx, userID, UserUpdate{SetSessionToken: true})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("SESSION_DESTROY_FAILED").
			With("operation", "clear token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}
