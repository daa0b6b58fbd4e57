// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// DefaultSessionCookie is the cookie the session strategy reads by default.
const DefaultSessionCookie = "doorward_session"

// basicScheme is the Authorization header scheme the basic strategy accepts.
const basicScheme = "Basic "

// Credential is an unresolved credential extracted from a request.
// Exactly one shape is populated: email/password for header credentials,
// token for session cookies.
type Credential struct {
	Email    string
	Password string
	Token    string
}

// Strategy decides, per request, whether authentication is required and how
// the principal is extracted and resolved. One instance is built from
// configuration at startup and injected into the request path.
type Strategy interface {
	// RequiresAuth reports whether the request path needs authentication.
	RequiresAuth(path string) bool

	// ExtractCredential pulls a credential from the request. ok is false
	// when no usable credential is present; malformed input is treated the
	// same as absence, never an error.
	ExtractCredential(r *http.Request) (cred Credential, ok bool)

	// ResolvePrincipal resolves the credential to a user. A credential that
	// resolves to nothing wraps ErrNotFound.
	ResolvePrincipal(ctx context.Context, cred Credential) (*User, error)
}

// PathExcluded reports whether path matches any exclusion entry.
// Matching is deterministic: the first matching entry wins.
//
// An entry matches when it equals the path, when it ends in '*' and the
// path shares the prefix before the '*', or when it is a boundary prefix of
// the path. A trailing slash is equivalent to none: the entry "/login/"
// covers both "/login" and "/login/".
func PathExcluded(path string, exclusions []string) bool {
	for _, entry := range exclusions {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == path {
			return true
		}
		if strings.HasSuffix(entry, "*") {
			if strings.HasPrefix(path, entry[:len(entry)-1]) {
				return true
			}
			continue
		}
		base := strings.TrimSuffix(entry, "/")
		if base == "" {
			// "/" matches only the root, handled by the exact check above.
			continue
		}
		if path == base || strings.HasPrefix(path, base+"/") {
			return true
		}
	}
	return false
}

// NoneStrategy never requires authentication and never extracts credentials.
type NoneStrategy struct{}

// NewNoneStrategy creates a NoneStrategy.
func NewNoneStrategy() *NoneStrategy {
	return &NoneStrategy{}
}

// RequiresAuth always returns false.
func (s *NoneStrategy) RequiresAuth(string) bool {
	return false
}

// ExtractCredential never finds a credential.
func (s *NoneStrategy) ExtractCredential(*http.Request) (Credential, bool) {
	return Credential{}, false
}

// ResolvePrincipal never resolves a principal.
func (s *NoneStrategy) ResolvePrincipal(context.Context, Credential) (*User, error) {
	return nil, oops.Code("AUTH_NO_PRINCIPAL").Wrap(ErrNotFound)
}

// BasicStrategy authenticates via an HTTP basic Authorization header.
type BasicStrategy struct {
	users      UserStore
	hasher     PasswordHasher
	exclusions []string
}

// NewBasicStrategy creates a BasicStrategy.
func NewBasicStrategy(users UserStore, hasher PasswordHasher, exclusions []string) (*BasicStrategy, error) {
	if users == nil {
		return nil, oops.Errorf("user store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	return &BasicStrategy{users: users, hasher: hasher, exclusions: exclusions}, nil
}

// RequiresAuth returns true unless the path matches an exclusion entry.
func (s *BasicStrategy) RequiresAuth(path string) bool {
	return !PathExcluded(path, s.exclusions)
}

// ExtractCredential decodes a "Basic" Authorization header into an
// email/password pair. Malformed headers (wrong scheme, invalid base64,
// no colon, empty parts) yield no credential rather than an error.
func (s *BasicStrategy) ExtractCredential(r *http.Request) (Credential, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, basicScheme) {
		return Credential{}, false
	}

	decoded, err := base64.StdEncoding.DecodeString(header[len(basicScheme):])
	if err != nil {
		return Credential{}, false
	}

	email, password, found := strings.Cut(string(decoded), ":")
	if !found || email == "" || password == "" {
		return Credential{}, false
	}

	return Credential{Email: email, Password: password}, true
}

// ResolvePrincipal looks the user up by email and verifies the password.
// A wrong password and an unknown email both wrap ErrNotFound so the
// boundary surfaces a single opaque rejection.
func (s *BasicStrategy) ResolvePrincipal(ctx context.Context, cred Credential) (*User, error) {
	user, err := s.users.FindByEmail(ctx, cred.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrNotFound)
		}
		return nil, oops.Code("AUTH_RESOLVE_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	valid, err := s.hasher.Verify(cred.Password, user.PasswordHash)
	if err != nil || !valid {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrNotFound)
	}

	return user, nil
}

// SessionStrategy authenticates via a session cookie resolved through the
// session manager.
type SessionStrategy struct {
	sessions   *SessionManager
	cookieName string
	exclusions []string
}

// NewSessionStrategy creates a SessionStrategy. An empty cookieName falls
// back to DefaultSessionCookie.
func NewSessionStrategy(sessions *SessionManager, cookieName string, exclusions []string) (*SessionStrategy, error) {
	if sessions == nil {
		return nil, oops.Errorf("session manager is required")
	}
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &SessionStrategy{sessions: sessions, cookieName: cookieName, exclusions: exclusions}, nil
}

// CookieName returns the cookie slot this strategy reads.
func (s *SessionStrategy) CookieName() string {
	return s.cookieName
}

// RequiresAuth returns true unless the path matches an exclusion entry.
func (s *SessionStrategy) RequiresAuth(path string) bool {
	return !PathExcluded(path, s.exclusions)
}

// ExtractCredential reads the session token from the designated cookie.
func (s *SessionStrategy) ExtractCredential(r *http.Request) (Credential, bool) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return Credential{}, false
	}
	return Credential{Token: cookie.Value}, true
}

// ResolvePrincipal resolves the token through the session manager.
func (s *SessionStrategy) ResolvePrincipal(ctx context.Context, cred Credential) (*User, error) {
	return s.sessions.Resolve(ctx, cred.Token)
}

// Compile-time interface checks.
var (
	_ Strategy = (*NoneStrategy)(nil)
	_ Strategy = (*BasicStrategy)(nil)
	_ Strategy = (*SessionStrategy)(nil)
)
