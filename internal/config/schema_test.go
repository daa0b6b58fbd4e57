// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorward/doorward/pkg/errutil"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, SchemaID, schema["$id"])
	assert.Equal(t, "Doorward Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema should have properties")
	for _, key := range []string{"server", "database", "auth", "cors", "log"} {
		assert.Contains(t, props, key)
	}
}

func TestValidateSchema(t *testing.T) {
	t.Cleanup(func() { schemaCache = nil })

	t.Run("valid configuration", func(t *testing.T) {
		err := ValidateSchema([]byte(`
server:
  addr: ":8080"
  metrics_addr: ":9090"
database:
  url: "postgres://localhost/doorward"
auth:
  mode: session
  session_cookie: doorward_session
  excluded_paths:
    - /status
    - /users
log:
  format: json
`))
		require.NoError(t, err)
	})

	t.Run("invalid auth mode rejected", func(t *testing.T) {
		err := ValidateSchema([]byte(`
auth:
  mode: bearer
`))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SCHEMA_VALIDATION_FAILED")
	})

	t.Run("empty input rejected", func(t *testing.T) {
		err := ValidateSchema(nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SCHEMA_EMPTY_INPUT")
	})

	t.Run("malformed yaml rejected", func(t *testing.T) {
		err := ValidateSchema([]byte("auth: [unclosed"))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SCHEMA_INVALID_YAML")
	})
}
