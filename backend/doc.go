// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the uniform contract between the session
// orchestrator and the interchangeable agent backends.
//
// A backend family speaks one wire protocol (local RPC child process,
// HTTP + SSE, or the agent-communication stdio protocol) and exposes it
// through two small interfaces:
//
//   - Backend: connects a channel to the family, yielding a Handle.
//
//   - Handle: sends turns, aborts, lists models, and summarizes. All
//     streaming output is delivered as a flat, ordered sequence of
//     Event values.
//
// Normalize wraps a family's raw event channel and enforces the
// guarantees every consumer relies on: arrival order is preserved,
// every tool call eventually reaches a terminal event (synthesized
// from last-known output when the family goes silent past the grace
// window), and every stream ends with exactly one terminal turn event.
//
// The Registry maps identity tags to families. Two tags may share a
// family: a fork that speaks its ancestor's protocol registers the
// same adapter under its own tag.
package backend
