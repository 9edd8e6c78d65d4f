// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrUnsupported is returned by optional Handle capabilities the
	// family does not implement. Callers degrade gracefully; this is
	// not a failure.
	ErrUnsupported = errors.New("backend: operation not supported")

	// ErrTurnInFlight is returned by SendTurn when the handle already
	// has an open turn. The orchestrator normally prevents this; the
	// error is a backstop, never a queue.
	ErrTurnInFlight = errors.New("backend: turn already in flight")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("backend: handle closed")
)

// SessionConfig carries everything a family needs to connect one
// channel. Fields beyond Channel are optional; families ignore what
// they do not use.
type SessionConfig struct {
	// Channel is the chat channel this session serves.
	Channel string

	// SessionKey is the family's persisted session identifier from a
	// previous run, if any. Families that support reattach resume the
	// prior backend session; others ignore it.
	SessionKey string

	// WorkDir is the working directory for process-based families.
	WorkDir string

	// BinaryPath overrides binary discovery for process-based
	// families.
	BinaryPath string

	// Endpoint and Token configure HTTP-based families.
	Endpoint string
	Token    string

	// Logger receives adapter diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// TurnRequest is one user turn submitted to a backend.
type TurnRequest struct {
	// TurnID identifies the turn for correlation in logs and aborts.
	TurnID string

	// Message is the user's prompt text.
	Message string

	// Model optionally overrides the session's model for this turn,
	// as "provider/id" or a bare model id depending on the family.
	Model string

	// ThinkingLevel optionally adjusts visible reasoning effort.
	// Families without the concept ignore it.
	ThinkingLevel string
}

// ModelInfo describes one selectable model.
type ModelInfo struct {
	Provider string `json:"provider,omitempty"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
}

// Backend is a family of agent sessions sharing one wire protocol.
type Backend interface {
	// Name returns the family name for logs.
	Name() string

	// Connect establishes (or resumes) a backend session for one
	// channel. Connection failures are returned here; a successful
	// Connect means SendTurn can be attempted.
	Connect(ctx context.Context, cfg SessionConfig) (Handle, error)
}

// Handle is one channel's live connection to a backend session.
// Handles are not safe for concurrent SendTurn calls; the orchestrator
// serializes turns per channel.
type Handle interface {
	// SendTurn submits a user turn and returns its event stream. The
	// stream terminates with exactly one terminal event.
	SendTurn(ctx context.Context, req TurnRequest) (Stream, error)

	// Abort requests cooperative cancellation of the in-flight turn.
	// The adapter stops delivering events and terminates the stream
	// within its abort window whether or not the backend
	// acknowledges.
	Abort(ctx context.Context) error

	// ListModels returns the selectable models, or ErrUnsupported.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Summarize asks the backend to condense its conversation history
	// and returns the summary text, or ErrUnsupported.
	Summarize(ctx context.Context) (string, error)

	// LoadSkill injects a named skill into the session, or
	// ErrUnsupported.
	LoadSkill(ctx context.Context, name string) error

	// SessionKey returns the family's session identifier for
	// persistence, or "" for families without reattachable sessions.
	SessionKey() string

	// Close releases the handle. For shared-connection families this
	// detaches the session; the underlying connection survives until
	// its last session closes.
	Close() error
}
