// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

// Package config loads and validates service configuration. Values are
// layered: built-in defaults, then an optional YAML file, then command-line
// flags, with the DATABASE_URL environment variable as a fallback for the
// database connection string.
package config

import (
	"os"
	"slices"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Auth mode names accepted in configuration.
const (
	ModeNone    = "none"
	ModeBasic   = "basic"
	ModeSession = "session"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" json:"server,omitempty"`
	Database DatabaseConfig `koanf:"database" json:"database,omitempty"`
	Auth     AuthConfig     `koanf:"auth" json:"auth,omitempty"`
	CORS     CORSConfig     `koanf:"cors" json:"cors,omitempty"`
	Log      LogConfig      `koanf:"log" json:"log,omitempty"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr        string `koanf:"addr" json:"addr,omitempty" jsonschema:"default=:8080"`
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"default=:9090"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `koanf:"url" json:"url,omitempty"`
}

// AuthConfig selects the authorization strategy for the HTTP gateway.
type AuthConfig struct {
	// Mode is one of none, basic, or session.
	Mode string `koanf:"mode" json:"mode,omitempty" jsonschema:"enum=none,enum=basic,enum=session,default=session"`
	// ExcludedPaths lists request paths that bypass authorization. A
	// trailing * makes the entry a prefix match.
	ExcludedPaths []string `koanf:"excluded_paths" json:"excluded_paths,omitempty"`
	SessionCookie string   `koanf:"session_cookie" json:"session_cookie,omitempty" jsonschema:"default=doorward_session"`
}

// CORSConfig holds cross-origin settings. Origins may use glob patterns,
// e.g. https://*.example.com.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins" json:"allowed_origins,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Format is "text" or "json".
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=text,enum=json,default=text"`
}

// RegisterFlags defines the command-line flags backing configuration keys.
// Flag defaults double as configuration defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("metrics-addr", ":9090", "metrics listen address")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("auth-mode", ModeSession, "authorization mode (none, basic, session)")
	fs.StringSlice("auth-excluded-paths", []string{"/", "/status", "/users", "/sessions", "/reset_password"},
		"paths that bypass authorization")
	fs.String("session-cookie", "doorward_session", "session cookie name")
	fs.StringSlice("cors-allowed-origins", nil, "allowed CORS origins (glob patterns)")
	fs.String("log-format", "text", "log format (text or json)")
}

// flagKeys maps flag names to configuration keys for the posflag provider.
var flagKeys = map[string]string{
	"addr":                 "server.addr",
	"metrics-addr":         "server.metrics_addr",
	"database-url":         "database.url",
	"auth-mode":            "auth.mode",
	"auth-excluded-paths":  "auth.excluded_paths",
	"session-cookie":       "auth.session_cookie",
	"cors-allowed-origins": "cors.allowed_origins",
	"log-format":           "log.format",
}

// Load builds a Config from the optional YAML file at path and the given
// flag set. Flags that were set explicitly override file values; flag
// defaults fill whatever the file leaves unset.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("server.addr must not be empty")
	}
	if !slices.Contains([]string{ModeNone, ModeBasic, ModeSession}, c.Auth.Mode) {
		return oops.Code("CONFIG_INVALID").
			With("mode", c.Auth.Mode).
			Errorf("auth.mode must be one of none, basic, session")
	}
	if c.Auth.Mode == ModeSession && c.Auth.SessionCookie == "" {
		return oops.Code("CONFIG_INVALID").Errorf("auth.session_cookie must not be empty in session mode")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return oops.Code("CONFIG_INVALID").
			With("format", c.Log.Format).
			Errorf("log.format must be text or json")
	}
	return nil
}
