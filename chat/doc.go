// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat is the display boundary: the few operations the render
// pipeline needs from a chat platform, and nothing else. The platform
// connection, command parsing, and user identity all live outside the
// bridge; only message creation and editing cross this seam.
//
// HTTPSink talks to a REST-style chat server, rendering markdown
// bodies to HTML alongside the plain text. MemorySink is the
// in-process implementation used throughout the tests.
package chat
