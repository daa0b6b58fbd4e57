// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package main

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/doorward/doorward/internal/control"
	"github.com/doorward/doorward/internal/gateway"
	"github.com/doorward/doorward/internal/observability"
	"github.com/doorward/doorward/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All nil fields fall back to their production implementations.
type ServeDeps struct {
	// Connect opens the database pool.
	// Default: store.Connect
	Connect func(ctx context.Context, dsn string) (DBPool, error)

	// AutoMigrate brings the schema up to the latest version.
	// Default: autoMigrate
	AutoMigrate func(databaseURL string) error

	// NewObservability creates the metrics/health server.
	// Default: observability.NewServer
	NewObservability func(addr string, ready observability.ReadinessChecker) ObservabilityServer

	// NewGateway creates the HTTP gateway server.
	// Default: gateway.NewServer
	NewGateway func(opts gateway.Options) (GatewayServer, error)

	// NewControl creates the control socket server.
	// Default: control.NewServer
	NewControl func(component string, shutdown control.ShutdownFunc) ControlServer
}

// DBPool is the subset of pgxpool.Pool the serve command hands around.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// GatewayServer wraps the methods used from gateway.Server.
type GatewayServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ControlServer wraps the methods used from control.Server.
type ControlServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// withDefaults fills nil fields with production implementations.
func (d *ServeDeps) withDefaults() *ServeDeps {
	out := &ServeDeps{}
	if d != nil {
		*out = *d
	}
	if out.Connect == nil {
		out.Connect = func(ctx context.Context, dsn string) (DBPool, error) {
			return store.Connect(ctx, dsn)
		}
	}
	if out.AutoMigrate == nil {
		out.AutoMigrate = autoMigrate
	}
	if out.NewObservability == nil {
		out.NewObservability = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	if out.NewGateway == nil {
		out.NewGateway = func(opts gateway.Options) (GatewayServer, error) {
			return gateway.NewServer(opts)
		}
	}
	if out.NewControl == nil {
		out.NewControl = func(component string, shutdown control.ShutdownFunc) ControlServer {
			return control.NewServer(component, shutdown)
		}
	}
	return out
}
