// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package pirpc adapts a local RPC agent to the backend contract. The
// agent runs as a child process in RPC mode; commands go down stdin
// and events come back up stdout, both as newline-delimited JSON.
// Commands carry a generated id, and the matching response event ties
// back to it.
//
// Each channel gets its own child process. The backend session is
// named after the channel, so restarting the daemon resumes the same
// agent-side conversation.
package pirpc
