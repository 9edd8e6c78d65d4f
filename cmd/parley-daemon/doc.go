// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// parley-daemon is the bridge daemon. It loads the YAML config, opens
// the state directory (channel settings, authorization registry, turn
// logs, scheduled prompts), registers the backend families, replays
// every known channel's history, and runs the scheduled-prompt
// manager until SIGINT/SIGTERM.
//
// SIGHUP reloads the config file; the reload adjusts the log level
// immediately, while connection-level settings apply to sessions
// created afterwards. The chat-platform message ingress is not part
// of this repository; platform connectors embed the bridge package
// with the same wiring this daemon performs.
package main
