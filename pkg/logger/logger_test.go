// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/LeeDigitalWorks/tams/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtx_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, logger.Ctx(context.Background()))
	//nolint:staticcheck // nil context is tolerated
	assert.NotNil(t, logger.Ctx(nil))
}

func TestWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := logger.WithLogger(context.Background(), &base)
	ctx = logger.WithFields(ctx, "flow_id", "flow-1", "delete_request_id", "req-1")

	logger.Ctx(ctx).Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "flow-1", entry["flow_id"])
	assert.Equal(t, "req-1", entry["delete_request_id"])
	assert.Equal(t, "hello", entry["message"])
}
