// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// parley-log inspects turn log files. It decodes .plog files and
// their .plar compressed archives, printing one styled block per
// recorded turn: status, timing, the user prompt, and the reconciled
// card snapshot. --json emits the raw records instead, and --full
// stops truncating long text and tool output.
package main
