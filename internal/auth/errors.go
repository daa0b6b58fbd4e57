// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested record does not exist.
// It is an expected outcome for lookups, distinct from storage failure.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when registering an email that already exists.
var ErrEmailTaken = errors.New("email already registered")

// ErrInvalidResetToken is returned when consuming a reset token that is
// unknown, already used, or empty.
var ErrInvalidResetToken = errors.New("invalid reset token")
