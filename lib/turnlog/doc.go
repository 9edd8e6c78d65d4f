// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package turnlog persists one record per closed turn to an
// append-only log file per (channel, backend) pair. Records are
// deterministically encoded CBOR frames, each guarded by a keyed
// BLAKE3 checksum, so a crash mid-append leaves a detectable torn
// tail: replay returns every intact record and stops at the first
// damaged frame. Rotated logs are archived with tagged compression.
//
// Persistence is best-effort durability. Writers report failures but
// callers never gate conversational progress on a successful append.
package turnlog
