// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/samber/oops"
)

// TokenBytes is the entropy of session and reset tokens.
// 32 bytes = 64 hex characters on the wire.
const TokenBytes = 32

// GenerateToken creates a secure random opaque token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext token goes
// to the client; only the hash is stored.
func GenerateToken() (token, hash string, err error) {
	raw := make([]byte, TokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(raw)
	hash = HashToken(token)

	return token, hash, nil
}

// HashToken computes the SHA-256 hash of an opaque token.
// The store holds only hashes, so a leaked database does not leak live tokens.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyToken checks a plaintext token against a stored hash in constant time.
func VerifyToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
