// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/doorward/doorward/internal/auth"
	authpg "github.com/doorward/doorward/internal/auth/postgres"
	"github.com/doorward/doorward/internal/gateway"
	"github.com/doorward/doorward/internal/store"
)

// testEnv holds all the resources needed for the auth flow tests.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	server    *gateway.Server
	baseURL   string
	client    *http.Client
}

// setupTestEnv starts PostgreSQL, migrates the schema, and boots a gateway
// with the session strategy on an ephemeral port.
func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	env := &testEnv{
		ctx:    ctx,
		cancel: cancel,
	}

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("doorward_test"),
		postgres.WithUsername("doorward"),
		postgres.WithPassword("doorward"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Connect(ctx, connStr)
	if err != nil {
		return nil, err
	}

	users := authpg.NewUserRepository(env.pool)
	service, err := auth.NewService(users, auth.NewArgon2idHasher())
	if err != nil {
		return nil, err
	}
	strategy, err := auth.NewSessionStrategy(service.Sessions(), auth.DefaultSessionCookie,
		[]string{"/", "/status", "/users", "/sessions", "/reset_password"})
	if err != nil {
		return nil, err
	}

	env.server, err = gateway.NewServer(gateway.Options{
		Addr:     "127.0.0.1:0",
		Service:  service,
		Strategy: strategy,
	})
	if err != nil {
		return nil, err
	}
	if _, err := env.server.Start(); err != nil {
		return nil, err
	}
	env.baseURL = "http://" + env.server.Addr()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	env.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return env, nil
}

func (e *testEnv) teardown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if e.server != nil {
		_ = e.server.Stop(shutdownCtx)
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(shutdownCtx)
	}
	e.cancel()
}

// postForm posts form-encoded values and decodes the JSON response body.
func (e *testEnv) postForm(method, path string, form url.Values) (*http.Response, map[string]any) {
	req, err := http.NewRequestWithContext(e.ctx, method, e.baseURL+path,
		strings.NewReader(form.Encode()))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	Expect(err).NotTo(HaveOccurred())

	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	_ = resp.Body.Close()

	decoded := map[string]any{}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &decoded)
	}
	return resp, decoded
}

func (e *testEnv) get(path string) (*http.Response, map[string]any) {
	return e.postForm(http.MethodGet, path, nil)
}

var _ = Describe("Authentication flow", Ordered, func() {
	var env *testEnv

	const (
		email    = "walk@doorward.dev"
		password = "opensesame"
		changed  = "mellon"
	)

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if env != nil {
			env.teardown()
		}
	})

	It("serves the public index and status endpoints", func() {
		resp, body := env.get("/")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal("Bienvenue"))

		resp, body = env.get("/status")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["status"]).To(Equal("OK"))
	})

	It("registers a new user", func() {
		resp, body := env.postForm(http.MethodPost, "/users",
			url.Values{"email": {email}, "password": {password}})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["email"]).To(Equal(email))
		Expect(body["message"]).To(Equal("user created"))
	})

	It("rejects a duplicate registration", func() {
		resp, body := env.postForm(http.MethodPost, "/users",
			url.Values{"email": {email}, "password": {password}})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(body["message"]).To(Equal("email already registered"))
	})

	It("rejects a login with the wrong password", func() {
		resp, _ := env.postForm(http.MethodPost, "/sessions",
			url.Values{"email": {email}, "password": {"wrong"}})
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("denies profile access without a session", func() {
		resp, _ := env.get("/profile")
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("logs in and sets the session cookie", func() {
		resp, body := env.postForm(http.MethodPost, "/sessions",
			url.Values{"email": {email}, "password": {password}})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["email"]).To(Equal(email))
		Expect(body["message"]).To(Equal("logged in"))

		serverURL, err := url.Parse(env.baseURL)
		Expect(err).NotTo(HaveOccurred())
		cookies := env.client.Jar.Cookies(serverURL)
		Expect(cookies).NotTo(BeEmpty())
		Expect(cookies[0].Name).To(Equal(auth.DefaultSessionCookie))
	})

	It("serves the profile for the logged-in user", func() {
		resp, body := env.get("/profile")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["email"]).To(Equal(email))
	})

	It("resets the password through the token flow", func() {
		resp, body := env.postForm(http.MethodPost, "/reset_password",
			url.Values{"email": {email}})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		token, ok := body["reset_token"].(string)
		Expect(ok).To(BeTrue())
		Expect(token).NotTo(BeEmpty())

		resp, body = env.postForm(http.MethodPut, "/reset_password", url.Values{
			"email":        {email},
			"reset_token":  {token},
			"new_password": {changed},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal("Password updated"))

		// The token is single use.
		resp, _ = env.postForm(http.MethodPut, "/reset_password", url.Values{
			"email":        {email},
			"reset_token":  {token},
			"new_password": {"again"},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})

	It("masks reset requests for unknown emails", func() {
		resp, _ := env.postForm(http.MethodPost, "/reset_password",
			url.Values{"email": {"ghost@doorward.dev"}})
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})

	It("requires the new password after a reset", func() {
		resp, _ := env.postForm(http.MethodPost, "/sessions",
			url.Values{"email": {email}, "password": {password}})
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		resp, _ = env.postForm(http.MethodPost, "/sessions",
			url.Values{"email": {email}, "password": {changed}})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("logs out with a redirect and invalidates the session", func() {
		resp, _ := env.postForm(http.MethodDelete, "/sessions", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusFound))
		Expect(resp.Header.Get("Location")).To(Equal("/"))

		resp, _ = env.get("/profile")
		Expect(resp.StatusCode).To(Or(
			Equal(http.StatusUnauthorized),
			Equal(http.StatusForbidden),
		))
	})
})
