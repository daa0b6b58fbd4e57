// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

// Package logging provides structured logging with OpenTelemetry trace
// context and redaction of personal data.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// RedactedValue replaces the value of any personal-data attribute.
const RedactedValue = "***"

// piiKeys are attribute keys whose values never reach the log output,
// at any nesting depth.
var piiKeys = map[string]bool{
	"name":     true,
	"email":    true,
	"phone":    true,
	"ssn":      true,
	"password": true,
}

// redactAttr returns a redacted copy of a if its key names personal data,
// descending into groups.
func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		redacted := make([]slog.Attr, len(group))
		for i, ga := range group {
			redacted[i] = redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	}
	if piiKeys[a.Key] {
		return slog.String(a.Key, RedactedValue)
	}
	return a
}

// gatewayHandler wraps a slog.Handler to redact personal data and add
// trace context.
type gatewayHandler struct {
	handler slog.Handler
	service string
	version string
}

// Handle redacts personal-data attributes, then adds service identity and
// trace context to the record.
func (h *gatewayHandler) Handle(ctx context.Context, r slog.Record) error {
	rec := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttrs(redactAttr(a))
		return true
	})

	rec.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		rec.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		rec.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, rec)
}

// Enabled returns true if the level is enabled.
func (h *gatewayHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes, redacted.
func (h *gatewayHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &gatewayHandler{
		handler: h.handler.WithAttrs(redacted),
		service: h.service,
		version: h.version,
	}
}

// WithGroup returns a new handler with the given group.
func (h *gatewayHandler) WithGroup(name string) slog.Handler {
	return &gatewayHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

// Setup creates a configured slog.Logger.
// format: "json" or "text" (defaults to "json" if empty)
// If w is nil, writes to os.Stderr.
func Setup(service, version, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var baseHandler slog.Handler
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}

	if format == "text" {
		baseHandler = slog.NewTextHandler(w, opts)
	} else {
		baseHandler = slog.NewJSONHandler(w, opts)
	}

	handler := &gatewayHandler{
		handler: baseHandler,
		service: service,
		version: version,
	}

	return slog.New(handler)
}

// SetDefault sets up and configures the default logger.
func SetDefault(service, version, format string) {
	logger := Setup(service, version, format, nil)
	slog.SetDefault(logger)
}
