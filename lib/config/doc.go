// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the parley
// daemon.
//
// Daemon configuration is a single YAML file specified by either the
// PARLEY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This keeps configuration
// deterministic and auditable.
//
// Per-channel settings (active backend, model, thinking level,
// mention gating, persisted backend session keys) live in a separate
// JSONC file under the state directory, managed by [Store] and
// written atomically on every change. Process-wide settings reload on
// SIGHUP via [Watch]; a turn already in flight keeps the values it
// started with.
package config
