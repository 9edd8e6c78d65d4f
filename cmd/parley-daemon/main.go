// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/backend/acp"
	"github.com/parley-foundation/parley/backend/opencode"
	"github.com/parley-foundation/parley/backend/pirpc"
	"github.com/parley-foundation/parley/bridge"
	"github.com/parley-foundation/parley/chat"
	"github.com/parley-foundation/parley/lib/auth"
	"github.com/parley-foundation/parley/lib/config"
	"github.com/parley-foundation/parley/lib/cron"
)

// version is stamped by the build.
var version = "devel"

func main() {
	configPath := pflag.String("config", "", "config file path (default: $PARLEY_CONFIG)")
	stateDir := pflag.String("state-dir", "", "override paths.state from the config")
	logLevel := pflag.String("log-level", "", "override log_level from the config")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println("parley-daemon", version)
		return
	}
	if err := run(*configPath, *stateDir, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "parley-daemon: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, stateDir, logLevel string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if stateDir != "" {
		cfg.Paths.State = stateDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := new(slog.LevelVar)
	if err := setLevel(level, cfg.LogLevel); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Paths.State, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	sink, err := chat.NewHTTPSink(chat.HTTPSinkConfig{
		BaseURL:       cfg.Chat.Endpoint,
		Token:         cfg.Chat.Token,
		MaxBodyLength: cfg.Chat.MaxBodyLength,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("chat sink: %w", err)
	}

	settings, err := config.OpenStore(cfg.ChannelsPath())
	if err != nil {
		return fmt.Errorf("channel settings: %w", err)
	}
	authManager, err := auth.Open(cfg.AuthPath(), nil)
	if err != nil {
		return err
	}

	registry := backend.NewRegistry()
	registry.Register("pi", &pirpc.Family{Logger: logger})
	registry.Register("opencode", &opencode.Family{Tag: "opencode", Logger: logger})
	registry.Register("kilo", &opencode.Family{Tag: "kilo", Logger: logger})
	registry.Register("copilot", &acp.Family{
		Command: strings.Fields(cfg.Backends.AcpCommand),
		WorkDir: cfg.Paths.WorkDir,
		Logger:  logger,
	})

	orch := bridge.NewOrchestrator(bridge.Options{
		Registry:       registry,
		Sink:           sink,
		Settings:       settings,
		Auth:           authManager,
		StateDir:       cfg.Paths.State,
		DefaultBackend: cfg.Backends.Default,
		ConnectConfig:  connectConfig(cfg),
		ToolGrace:      cfg.ToolGrace(),
		MinInterval:    cfg.MinInterval(),
		Logger:         logger,
	})
	defer orch.Close()
	orch.Restore()

	scheduler, err := cron.NewManager(cfg.CronPath(), orch, nil, logger)
	if err != nil {
		return fmt.Errorf("scheduled prompts: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)
	if path := configFilePath(configPath); path != "" {
		go config.Watch(ctx, path, logger, func(next *config.Config) {
			if err := setLevel(level, next.LogLevel); err != nil {
				logger.Warn("reload kept previous log level", "error", err)
			}
		})
	}

	logger.Info("parley-daemon running",
		"version", version,
		"state", cfg.Paths.State,
		"default_backend", cfg.Backends.Default,
		"backends", registry.Tags(),
	)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// loadConfig resolves the config: explicit flag, then $PARLEY_CONFIG,
// then built-in defaults for local experimentation.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("PARLEY_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func configFilePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv("PARLEY_CONFIG")
}

// connectConfig maps a backend tag to its family-level connection
// settings. Session-level fields (channel, session key, logger) are
// filled in by the bridge.
func connectConfig(cfg *config.Config) func(tag string) backend.SessionConfig {
	return func(tag string) backend.SessionConfig {
		sc := backend.SessionConfig{WorkDir: cfg.Paths.WorkDir}
		switch tag {
		case "pi":
			sc.BinaryPath = cfg.Backends.PiBinary
		case "opencode":
			sc.Endpoint = cfg.Backends.OpencodeEndpoint
		case "kilo":
			sc.Endpoint = cfg.Backends.KiloEndpoint
		}
		return sc
	}
}

func setLevel(level *slog.LevelVar, name string) error {
	switch name {
	case "", "info":
		level.Set(slog.LevelInfo)
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}
