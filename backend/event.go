// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import "time"

// Kind identifies the category of a normalized backend event.
type Kind string

const (
	// TextDelta appends text to the turn's answer.
	TextDelta Kind = "text-delta"

	// ReasoningDelta appends text to the turn's visible reasoning.
	ReasoningDelta Kind = "reasoning-delta"

	// TextReplace replaces the turn's accumulated answer text
	// wholesale. Adapters emit it when reconciliation finds the
	// streamed deltas diverged from the backend's real content.
	TextReplace Kind = "text-replace"

	// ToolStarted announces a tool invocation. ToolID is unique within
	// the turn; ToolName is the human-readable tool name.
	ToolStarted Kind = "tool-started"

	// ToolProgress replaces the tool call's last-known output.
	ToolProgress Kind = "tool-progress"

	// ToolFinished closes a tool call with its terminal output.
	ToolFinished Kind = "tool-finished"

	// TurnFinished ends the turn successfully. At most one terminal
	// event appears per stream, always last.
	TurnFinished Kind = "turn-finished"

	// BackendError ends the turn with a backend-reported failure.
	BackendError Kind = "backend-error"
)

// Terminal reports whether the kind ends a turn stream.
func (k Kind) Terminal() bool {
	return k == TurnFinished || k == BackendError
}

// Event is one normalized unit of backend output. Adapters translate
// their wire formats into this shape; nothing downstream sees raw
// protocol fragments.
type Event struct {
	Kind Kind `json:"kind" cbor:"1,keyasint"`

	// Text carries delta text for TextDelta and ReasoningDelta, and
	// tool output for ToolProgress and ToolFinished.
	Text string `json:"text,omitempty" cbor:"2,keyasint,omitempty"`

	// ToolID and ToolName are set on the three tool kinds. ToolName
	// may be empty on ToolProgress and ToolFinished; the first-seen
	// name wins.
	ToolID   string `json:"tool_id,omitempty" cbor:"3,keyasint,omitempty"`
	ToolName string `json:"tool_name,omitempty" cbor:"4,keyasint,omitempty"`

	// ToolFailed marks a ToolFinished whose invocation failed.
	ToolFailed bool `json:"tool_failed,omitempty" cbor:"5,keyasint,omitempty"`

	// Err describes a BackendError.
	Err string `json:"err,omitempty" cbor:"6,keyasint,omitempty"`

	// Synthetic marks events manufactured by the normalizer (grace
	// timeouts, missing terminal markers) rather than received from
	// the backend.
	Synthetic bool `json:"synthetic,omitempty" cbor:"7,keyasint,omitempty"`

	// Time is when the adapter observed the event.
	Time time.Time `json:"time" cbor:"8,keyasint"`
}

// Stream is an ordered, push-based sequence of events for one turn.
// The channel is closed after the terminal event is delivered.
type Stream interface {
	Events() <-chan Event
}

// chanStream adapts a plain channel to Stream.
type chanStream struct {
	events <-chan Event
}

func (s chanStream) Events() <-chan Event { return s.events }

// StreamOf wraps an event channel as a Stream. The producer must close
// the channel after emitting a terminal event.
func StreamOf(events <-chan Event) Stream { return chanStream{events: events} }
