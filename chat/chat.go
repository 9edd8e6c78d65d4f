// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
)

// DefaultMaxBodyLength is the usual hard ceiling chat surfaces place
// on one message body, in bytes of rendered text.
const DefaultMaxBodyLength = 3900

var (
	// ErrRateLimited means the surface refused the write for pacing
	// reasons. The caller may retry later; the message content was
	// not applied.
	ErrRateLimited = errors.New("chat: rate limited")

	// ErrNotFound means the referenced message no longer exists
	// (deleted by a user or the platform).
	ErrNotFound = errors.New("chat: message not found")
)

// MessageRef identifies one message on the chat surface.
type MessageRef struct {
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

// Message is a body to display. Body is markdown; sinks that support
// rich text derive their formatted rendering from it.
type Message struct {
	Body string `json:"body"`
}

// Sink is the write-side of a chat surface.
type Sink interface {
	// Create posts a new message and returns its reference.
	Create(ctx context.Context, channel string, message Message) (MessageRef, error)

	// Edit replaces the body of an existing message.
	Edit(ctx context.Context, ref MessageRef, message Message) error

	// Append posts a supplementary message following earlier output
	// in the channel, used for overflow fragments.
	Append(ctx context.Context, channel string, message Message) (MessageRef, error)

	// MaxBodyLength is the surface's hard per-message size limit.
	MaxBodyLength() int
}
