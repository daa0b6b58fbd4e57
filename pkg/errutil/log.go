// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

// Package errutil provides helpers for logging and asserting oops errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// HasCode reports whether err is an oops error carrying the given code.
func HasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}

// LogError logs an error with structured context if it's an oops error.
// For oops errors it extracts the message, code, and context map.
// For standard errors it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.Error(msg, "error", err)
		return
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != "" {
		attrs = append(attrs, "code", code)
	}
	// Context becomes a group so the logging handler can redact
	// personal-data keys inside it.
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		groupArgs := make([]any, 0, len(ctx)*2)
		for k, v := range ctx {
			groupArgs = append(groupArgs, k, v)
		}
		attrs = append(attrs, slog.Group("context", groupArgs...))
	}
	logger.Error(msg, attrs...)
}
