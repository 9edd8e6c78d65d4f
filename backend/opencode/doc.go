// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package opencode adapts an HTTP agent server to the backend
// contract. Turns are submitted with plain REST calls; streaming
// output arrives on a server-sent-events firehose shared by every
// session on the server, demultiplexed here by session id.
//
// The server assigns durable session ids. The id is exposed as the
// handle's session key so a restarted daemon reattaches to the same
// server-side conversation instead of creating a new one.
//
// A fork of the server speaking the identical protocol is registered
// under its own identity tag; both tags share this package.
package opencode
