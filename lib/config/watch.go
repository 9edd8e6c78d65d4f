// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Watch reloads the config file on SIGHUP and hands each successful
// reload to apply. A reload that fails to parse is logged and the
// previous configuration stays in force. Watch returns when the
// context is cancelled. In-flight turns are unaffected by reloads;
// consumers read config values at turn start.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(*Config)) {
	if logger == nil {
		logger = slog.Default()
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			cfg, err := LoadFile(path)
			if err != nil {
				logger.Error("config reload failed, keeping previous configuration",
					"path", path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			apply(cfg)
		}
	}
}
