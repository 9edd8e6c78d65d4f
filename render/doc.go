// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package render turns a turn's normalized event stream into what the
// chat surface shows.
//
// Cards is a pure projection: replaying any prefix of a turn's events
// through Apply yields the same card state, which makes the projection
// the integrity anchor for reconciliation and for the tests. Compose
// renders cards into one size-bounded message body. Pipeline owns the
// pacing: it coalesces card mutations into rate-limited edits of a
// single live message, guarantees one final flush when the turn
// closes, and hands oversized tool output to follow-up fragments
// rather than losing it to truncation.
package render
