// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

// Package auth implements the Doorward authentication core.
//
// # Domain Types
//
// A User carries the persisted account state: id, email, argon2id password
// hash, and the nullable session and reset token columns. At most one live
// session token and one live reset token exist per user; issuing a new one
// overwrites the prior value. Tokens are opaque 32-byte random values; only
// their SHA-256 hashes are stored.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - the facade the boundary layer calls (register, login,
//     password reset, session lifecycle)
//   - SessionManager - issues, resolves, and revokes session tokens
//   - ResetTokenManager - issues and consumes single-use reset tokens
//
// All persistence flows through the UserStore interface; the managers hold
// no state of their own.
//
// # Authorization Strategies
//
// A Strategy decides per request whether authentication is required and how
// the credential is extracted and resolved. Variants: NoneStrategy,
// BasicStrategy (Authorization header), SessionStrategy (session cookie).
// The boundary layer constructs exactly one Strategy from configuration at
// startup and injects it into the request path.
package auth
