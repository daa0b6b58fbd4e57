// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorward/doorward/internal/auth"
	"github.com/doorward/doorward/internal/auth/mocks"
	"github.com/doorward/doorward/internal/config"
	"github.com/doorward/doorward/internal/control"
	"github.com/doorward/doorward/internal/gateway"
	"github.com/doorward/doorward/internal/observability"
)

type fakePool struct{}

func (fakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakePool) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (fakePool) Ping(context.Context) error                       { return nil }
func (fakePool) Close()                                           {}

type fakeObsServer struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (f *fakeObsServer) Start() (<-chan error, error) {
	f.started.Store(true)
	return make(chan error), nil
}

func (f *fakeObsServer) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

func (f *fakeObsServer) Addr() string { return "127.0.0.1:0" }

func (f *fakeObsServer) Metrics() *observability.Metrics { return nil }

type fakeGatewayServer struct {
	errCh   chan error
	started chan struct{}
	stopped atomic.Bool

	startErr error
}

func newFakeGatewayServer() *fakeGatewayServer {
	return &fakeGatewayServer{
		errCh:   make(chan error, 1),
		started: make(chan struct{}),
	}
}

func (f *fakeGatewayServer) Start() (<-chan error, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	close(f.started)
	return f.errCh, nil
}

func (f *fakeGatewayServer) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

func (f *fakeGatewayServer) Addr() string { return "127.0.0.1:0" }

type fakeControlServer struct {
	shutdown control.ShutdownFunc
	started  atomic.Bool
	stopped  atomic.Bool
}

func (f *fakeControlServer) Start() error {
	f.started.Store(true)
	return nil
}

func (f *fakeControlServer) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

// testServeDeps wires fakes for every external dependency of the serve
// command.
func testServeDeps(gw *fakeGatewayServer, obs *fakeObsServer, ctl *fakeControlServer) *ServeDeps {
	return &ServeDeps{
		Connect: func(context.Context, string) (DBPool, error) {
			return fakePool{}, nil
		},
		AutoMigrate: func(string) error { return nil },
		NewObservability: func(string, observability.ReadinessChecker) ObservabilityServer {
			return obs
		},
		NewGateway: func(gateway.Options) (GatewayServer, error) {
			return gw, nil
		},
		NewControl: func(_ string, shutdown control.ShutdownFunc) ControlServer {
			ctl.shutdown = shutdown
			return ctl
		},
	}
}

func executeServe(t *testing.T, deps *ServeDeps, args []string) chan error {
	t.Helper()
	configFile = ""
	if args == nil {
		args = []string{}
	}

	cmd := newServeCmd(deps)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()
	return done
}

func TestServe_StartsAndStopsCleanly(t *testing.T) {
	gw := newFakeGatewayServer()
	obs := &fakeObsServer{}
	ctl := &fakeControlServer{}

	done := executeServe(t, testServeDeps(gw, obs, ctl), nil)

	select {
	case <-gw.started:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never started")
	}

	require.Eventually(t, ctl.started.Load, time.Second, 10*time.Millisecond,
		"control socket never started")
	require.NotNil(t, ctl.shutdown, "shutdown callback not captured")

	// Shutdown request via the control socket cancels the run context.
	ctl.shutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not shut down")
	}

	assert.True(t, gw.stopped.Load(), "gateway not stopped")
	assert.True(t, obs.started.Load(), "observability server not started")
	assert.True(t, obs.stopped.Load(), "observability server not stopped")
	assert.True(t, ctl.stopped.Load(), "control socket not stopped")
}

func TestServe_MetricsDisabledSkipsObservability(t *testing.T) {
	gw := newFakeGatewayServer()
	obs := &fakeObsServer{}
	ctl := &fakeControlServer{}

	done := executeServe(t, testServeDeps(gw, obs, ctl), []string{"--metrics-addr", ""})

	select {
	case <-gw.started:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never started")
	}

	require.Eventually(t, func() bool { return ctl.shutdown != nil }, time.Second, 10*time.Millisecond)
	ctl.shutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not shut down")
	}

	assert.False(t, obs.started.Load(), "observability server should stay disabled")
}

func TestServe_GatewayRuntimeErrorPropagates(t *testing.T) {
	gw := newFakeGatewayServer()
	obs := &fakeObsServer{}
	ctl := &fakeControlServer{}

	done := executeServe(t, testServeDeps(gw, obs, ctl), nil)

	select {
	case <-gw.started:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never started")
	}

	wantErr := errors.New("listener blew up")
	gw.errCh <- wantErr

	select {
	case err := <-done:
		require.ErrorIs(t, err, wantErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}

	assert.True(t, obs.stopped.Load(), "observability server not stopped after gateway error")
}

func TestServe_GatewayStartFailureUnwinds(t *testing.T) {
	gw := newFakeGatewayServer()
	gw.startErr = errors.New("port in use")
	obs := &fakeObsServer{}
	ctl := &fakeControlServer{}

	done := executeServe(t, testServeDeps(gw, obs, ctl), nil)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port in use")
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}

	assert.True(t, obs.stopped.Load(), "observability server leaked after start failure")
	assert.False(t, ctl.started.Load(), "control socket should not start after gateway failure")
}

func TestServe_ConnectFailureReturnsError(t *testing.T) {
	deps := testServeDeps(newFakeGatewayServer(), &fakeObsServer{}, &fakeControlServer{})
	wantErr := errors.New("connection refused")
	deps.Connect = func(context.Context, string) (DBPool, error) { return nil, wantErr }

	done := executeServe(t, deps, nil)

	select {
	case err := <-done:
		require.ErrorIs(t, err, wantErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestServe_InvalidAuthModeRejected(t *testing.T) {
	deps := testServeDeps(newFakeGatewayServer(), &fakeObsServer{}, &fakeControlServer{})

	done := executeServe(t, deps, []string{"--auth-mode", "oauth"})

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestBuildStrategy(t *testing.T) {
	users := mocks.NewMockUserStore(t)
	hasher := mocks.NewMockPasswordHasher(t)
	service, err := auth.NewService(users, hasher)
	require.NoError(t, err)

	base := func(mode string) *config.Config {
		cfg := &config.Config{}
		cfg.Auth.Mode = mode
		cfg.Auth.SessionCookie = auth.DefaultSessionCookie
		cfg.Auth.ExcludedPaths = []string{"/", "/status"}
		return cfg
	}

	t.Run("none", func(t *testing.T) {
		s, err := buildStrategy(base(config.ModeNone), service, users, hasher)
		require.NoError(t, err)
		assert.IsType(t, &auth.NoneStrategy{}, s)
	})

	t.Run("basic", func(t *testing.T) {
		s, err := buildStrategy(base(config.ModeBasic), service, users, hasher)
		require.NoError(t, err)
		assert.IsType(t, &auth.BasicStrategy{}, s)
	})

	t.Run("session", func(t *testing.T) {
		s, err := buildStrategy(base(config.ModeSession), service, users, hasher)
		require.NoError(t, err)
		assert.IsType(t, &auth.SessionStrategy{}, s)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := buildStrategy(base("oauth"), service, users, hasher)
		require.Error(t, err)
	})
}
