// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package opencode

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
