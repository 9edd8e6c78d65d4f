// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth is the file-backed registry of users and channels
// allowed to start turns.
//
// Authorization is granted by token exchange: an operator mints a
// short-lived token bound to a user or channel id, hands it over out
// of band, and the holder redeems it. Redemption moves the id into
// the durable registry; tokens expire unredeemed after five minutes.
//
// A user grant is global. A channel grant admits everyone in the
// channel and defaults to mention-only, so the assistant only reacts
// when addressed.
package auth
