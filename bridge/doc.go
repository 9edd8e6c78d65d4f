// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge is the session orchestrator: the subsystem that owns
// one conversational session per chat channel and drives each through
// its turn lifecycle against an interchangeable agent backend.
//
// A session's state machine is Idle → AwaitingBackend → Streaming →
// Syncing → Idle, with Aborting reachable while a turn is open and
// Error on unrecoverable backend failure. Exactly one turn may be
// open per session; operations requested while a turn is open (other
// than abort) are rejected with [ErrBusy], never queued.
//
// Every terminal path — finished, aborted, errored — runs the same
// reconciliation before the turn closes: still-running tool cards are
// forced to a terminal state with their last-known output, the render
// pipeline performs its guaranteed flush, and the closed turn is
// appended to the per-(channel, backend) turn log. Persistence is
// best-effort: a failed append is logged and the session still
// returns to Idle.
//
// [Orchestrator] is the entry point. It holds the backend registry,
// the display sink, the settings store, and the authorization check,
// and exposes the command-level operations: start-turn, abort,
// compact, clear, switch-backend, switch-model, set-thinking-level.
package bridge
