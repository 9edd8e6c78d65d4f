// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package acp adapts agents speaking the agent client protocol over
// stdio. Unlike the other families, the agent process is a shared
// singleton: one child serves every channel, with conversations
// multiplexed over protocol-level sessions. Updates arriving on the
// shared connection are routed to the owning channel's stream by
// session id, and one channel's abort or failure never touches the
// others.
//
// The process is spawned lazily on the first Connect and reaped when
// the last channel detaches. Permission requests are answered
// automatically, preferring the broadest allow option the agent
// offers.
package acp
