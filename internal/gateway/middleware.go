// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gobwas/glob"
	"github.com/gorilla/mux"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/doorward/doorward/internal/auth"
)

type principalKey struct{}

// PrincipalFrom returns the authenticated user stored by the auth
// middleware, if any.
func PrincipalFrom(ctx context.Context) (*auth.User, bool) {
	user, ok := ctx.Value(principalKey{}).(*auth.User)
	return user, ok
}

// withPrincipal returns a context carrying the authenticated user.
func withPrincipal(ctx context.Context, user *auth.User) context.Context {
	return context.WithValue(ctx, principalKey{}, user)
}

// authMiddleware applies the configured authorization strategy to every
// request. Excluded paths pass through untouched. A required credential
// that is absent answers 401; a credential that resolves to no user
// answers 403. Store failures are 500, never silently treated as a
// rejection.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.strategy.RequiresAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cred, ok := s.strategy.ExtractCredential(r)
		if !ok {
			s.countDecision("unauthorized")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}

		user, err := s.strategy.ResolvePrincipal(r.Context(), cred)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				s.countDecision("forbidden")
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
				return
			}
			s.fail(w, "principal resolution failed", err)
			return
		}

		s.countDecision("allowed")
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), user)))
	})
}

// traceMiddleware opens a span per request so downstream log records carry
// trace and span ids.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("doorward/gateway")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newCORSMiddleware builds a CORS middleware from origin patterns.
// Patterns use glob syntax, e.g. https://*.example.com.
func newCORSMiddleware(origins []string) (mux.MiddlewareFunc, error) {
	globs := make([]glob.Glob, 0, len(origins))
	for _, origin := range origins {
		g, err := glob.Compile(origin)
		if err != nil {
			return nil, oops.Code("CORS_BAD_PATTERN").
				With("pattern", origin).
				Wrap(err)
		}
		globs = append(globs, g)
	}

	originAllowed := func(origin string) bool {
		for _, g := range globs {
			if g.Match(origin) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func (s *Server) countDecision(result string) {
	if s.metrics != nil {
		s.metrics.AuthDecisionsTotal.WithLabelValues(result).Inc()
	}
}
