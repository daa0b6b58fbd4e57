// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doorward/doorward/pkg/errutil"
)

func TestConnect_BadDSN(t *testing.T) {
	_, err := Connect(context.Background(), "not a dsn ://")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "STORE_BAD_DSN")
}
