// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

// Package gateway exposes the authentication service over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/doorward/doorward/internal/auth"
	"github.com/doorward/doorward/internal/observability"
	"github.com/doorward/doorward/pkg/errutil"
)

// Server serves the authentication HTTP API.
type Server struct {
	addr       string
	service    *auth.Service
	strategy   auth.Strategy
	cookieName string
	metrics    *observability.Metrics
	logger     *slog.Logger

	router     *mux.Router
	handler    http.Handler
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Options configures a Server.
type Options struct {
	Addr     string
	Service  *auth.Service
	Strategy auth.Strategy
	// CookieName is the session cookie written on login. Empty falls back
	// to auth.DefaultSessionCookie.
	CookieName string
	// AllowedOrigins are CORS origin patterns; empty disables CORS handling.
	AllowedOrigins []string
	// Metrics is optional; nil disables metric recording.
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewServer creates a gateway server with routes and middleware wired.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if opts.Strategy == nil {
		return nil, oops.Errorf("authorization strategy is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CookieName == "" {
		opts.CookieName = auth.DefaultSessionCookie
	}

	s := &Server{
		addr:       opts.Addr,
		service:    opts.Service,
		strategy:   opts.Strategy,
		cookieName: opts.CookieName,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/users", s.handleRegister).Methods(http.MethodPost)
	router.HandleFunc("/sessions", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/sessions", s.handleLogout).Methods(http.MethodDelete)
	router.HandleFunc("/profile", s.handleProfile).Methods(http.MethodGet)
	router.HandleFunc("/reset_password", s.handleResetRequest).Methods(http.MethodPost)
	router.HandleFunc("/reset_password", s.handleResetConsume).Methods(http.MethodPut)
	s.router = router

	// Middleware wraps the router rather than registering via Use: the
	// authorization state machine and CORS preflight answers must apply to
	// every request, not only to matched routes.
	handler := s.authMiddleware(router)
	if len(opts.AllowedOrigins) > 0 {
		cors, err := newCORSMiddleware(opts.AllowedOrigins)
		if err != nil {
			return nil, err
		}
		handler = cors(handler)
	}
	s.handler = s.traceMiddleware(handler)

	return s, nil
}

// Handler returns the configured HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving requests. It returns an error channel that receives
// any serve failure; the channel closes on graceful shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("gateway server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("gateway server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_gateway_server").Wrap(err)
		}
	}

	s.logger.Info("gateway server stopped")
	return nil
}

// Addr returns the listen address, or "" when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Bienvenue"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleRegister creates a user from form fields email and password.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")

	_, err := s.service.Register(r.Context(), email, password)
	switch {
	case err == nil:
		s.countRegistration("success")
		writeJSON(w, http.StatusOK, map[string]string{
			"email":   email,
			"message": "user created",
		})
	case errors.Is(err, auth.ErrEmailTaken):
		s.countRegistration("conflict")
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"message": "email already registered",
		})
	case errutil.HasCode(err, "AUTH_INVALID_EMAIL") || errors.Is(err, auth.ErrEmptyPassword):
		s.countRegistration("invalid")
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad request"})
	default:
		s.countRegistration("error")
		s.fail(w, "register failed", err)
	}
}

// handleLogin verifies credentials and sets the session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")

	ok, throttle, err := s.service.Login(r.Context(), email, password)
	if err != nil {
		if errutil.HasCode(err, "AUTH_ACCOUNT_LOCKED") {
			s.countLogin("locked")
			setRetryAfter(w, throttle.LockoutRemaining)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too Many Requests"})
			return
		}
		s.countLogin("error")
		s.fail(w, "login failed", err)
		return
	}
	if !ok {
		s.countLogin("failure")
		setRetryAfter(w, throttle.Delay)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	token, replaced, err := s.service.CreateSession(r.Context(), email)
	if err != nil {
		s.countLogin("error")
		s.fail(w, "session create failed", err)
		return
	}

	s.countLogin("success")
	// A superseded session nets out to zero live sessions gained.
	if s.metrics != nil && !replaced {
		s.metrics.SessionsActive.Inc()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"email":   email,
		"message": "logged in",
	})
}

// handleLogout destroys the session bound to the request cookie and
// redirects to the index. Destroying twice is not an error, but a missing
// or unresolvable cookie is rejected.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "bad request"})
		return
	}

	user, err := s.service.ResolveSession(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
			return
		}
		s.fail(w, "session resolve failed", err)
		return
	}

	if err := s.service.DestroySession(r.Context(), user.ID); err != nil {
		s.fail(w, "session destroy failed", err)
		return
	}

	if s.metrics != nil {
		s.metrics.SessionsActive.Dec()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleProfile returns the email of the user the request resolves to.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	// The auth middleware may already have resolved a principal.
	if user, ok := PrincipalFrom(r.Context()); ok {
		writeJSON(w, http.StatusOK, map[string]string{"email": user.Email})
		return
	}

	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad request"})
		return
	}

	user, err := s.service.Profile(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
			return
		}
		s.fail(w, "profile lookup failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"email": user.Email})
}

// handleResetRequest issues a password-reset token for the form email.
// Unknown emails get the same opaque 403 as known-but-failed requests so the
// endpoint cannot be used to enumerate accounts.
func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	if email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad request"})
		return
	}

	token, err := s.service.RequestPasswordReset(r.Context(), email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
			return
		}
		s.fail(w, "reset request failed", err)
		return
	}

	if s.metrics != nil {
		s.metrics.ResetRequestsTotal.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"email":       email,
		"reset_token": token,
	})
}

// handleResetConsume updates the password using a reset token.
func (s *Server) handleResetConsume(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	resetToken := r.FormValue("reset_token")
	newPassword := r.FormValue("new_password")
	if email == "" || resetToken == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "bad request"})
		return
	}

	err := s.service.UpdatePassword(r.Context(), resetToken, newPassword)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidResetToken) || errors.Is(err, auth.ErrEmptyPassword) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
			return
		}
		s.fail(w, "password update failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"email":   email,
		"message": "Password updated",
	})
}

// fail logs the error and answers with an opaque 500.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	errutil.LogError(s.logger, msg, err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

func (s *Server) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) countRegistration(outcome string) {
	if s.metrics != nil {
		s.metrics.RegistrationsTotal.WithLabelValues(outcome).Inc()
	}
}

// setRetryAfter advertises the throttle delay in whole seconds, rounding
// up. A zero or negative delay sets no header.
func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int((d + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // response write error means the client went away
	json.NewEncoder(w).Encode(body)
}
