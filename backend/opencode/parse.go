// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package opencode

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/parley-foundation/parley/backend"
)

// sseEnvelope is one firehose event. The interesting fields appear
// under "properties" on current servers and at "data" on older ones;
// both are decoded and the first non-empty value wins.
type sseEnvelope struct {
	Type       string        `json:"type"`
	Properties sseProperties `json:"properties"`
	Data       sseData       `json:"data"`
}

type sseProperties struct {
	Part        *ssePart  `json:"part"`
	PartID      string    `json:"partID"`
	SessionID   string    `json:"sessionID"`
	Delta       string    `json:"delta"`
	MessageRole string    `json:"messageRole"`
	Role        string    `json:"role"`
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Error       *sseError `json:"error"`
}

// sseData doubles as an event payload and a bare part.
type sseData struct {
	ssePart
	Delta       string `json:"delta"`
	MessageRole string `json:"messageRole"`
	Message     string `json:"message"`
}

type ssePart struct {
	Type      string        `json:"type"`
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	SessionID string        `json:"sessionID"`
	Tool      string        `json:"tool"`
	State     *ssePartState `json:"state"`
}

type ssePartState struct {
	Status string `json:"status"`
	Input  struct {
		Command string `json:"command"`
	} `json:"input"`
	Output   string `json:"output"`
	Error    string `json:"error"`
	Metadata struct {
		Output string `json:"output"`
	} `json:"metadata"`
}

type sseError struct {
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
	Message string `json:"message"`
}

// parsed is the adapter-level interpretation of one firehose event.
type parsed struct {
	// sessionID demultiplexes the shared firehose; empty means the
	// event carries no session attribution and applies to all.
	sessionID string

	// events to forward to the open turn's stream.
	events []backend.Event

	// turnDone signals the server considers the turn complete.
	turnDone bool

	// errText, when non-empty, ends the turn with a backend error.
	errText string
}

// parseEvent interprets one firehose payload. Malformed payloads
// yield a zero parsed value: the fragment is dropped and the stream
// carries on.
func parseEvent(data []byte) parsed {
	var envelope sseEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return parsed{}
	}
	now := time.Now()
	switch envelope.Type {
	case "message.part.updated", "message.part.delta", "session.message.part.delta":
		return parseDelta(envelope, now)

	case "session.idle", "session.turn.close", "session.message.completed",
		"turn.close", "turn.end", "message.completed":
		return parsed{sessionID: envelope.sessionID(), turnDone: true}

	case "session.error", "error":
		return parsed{sessionID: envelope.sessionID(), errText: envelope.errorMessage()}
	}
	return parsed{}
}

func (e *sseEnvelope) sessionID() string {
	if e.Properties.SessionID != "" {
		return e.Properties.SessionID
	}
	if e.Properties.Part != nil && e.Properties.Part.SessionID != "" {
		return e.Properties.Part.SessionID
	}
	return e.Data.SessionID
}

func (e *sseEnvelope) errorMessage() string {
	if e.Properties.Error != nil {
		if e.Properties.Error.Data.Message != "" {
			return e.Properties.Error.Data.Message
		}
		if e.Properties.Error.Message != "" {
			return e.Properties.Error.Message
		}
	}
	if e.Properties.Message != "" {
		return e.Properties.Message
	}
	if e.Data.Message != "" {
		return e.Data.Message
	}
	return "unknown backend error"
}

func parseDelta(envelope sseEnvelope, now time.Time) parsed {
	part := envelope.Properties.Part
	if part == nil {
		part = &envelope.Data.ssePart
	}
	partType := part.Type
	if partType == "" {
		partType = envelope.Properties.Type
	}
	if partType == "" {
		partType = "text"
	}
	partID := part.ID
	if partID == "" {
		partID = envelope.Properties.PartID
	}
	delta := envelope.Properties.Delta
	if delta == "" {
		delta = envelope.Data.Delta
	}
	role := firstNonEmpty(
		envelope.Properties.MessageRole,
		envelope.Data.MessageRole,
		envelope.Properties.Role,
		part.Role,
	)

	result := parsed{sessionID: envelope.sessionID()}
	reasoning := strings.Contains(partType, "reason") || strings.Contains(partType, "think")

	// Echoes of our own prompt and system scaffolding are not
	// assistant output.
	if (role == "user" || role == "system") && !reasoning {
		return result
	}

	if reasoning {
		if delta != "" {
			result.events = append(result.events, backend.Event{
				Kind: backend.ReasoningDelta, Text: delta, Time: now,
			})
		}
		return result
	}

	if strings.Contains(partType, "tool") || partType == "agent" {
		toolID := partID
		if toolID == "" {
			toolID = "tool"
		}
		if part.State == nil {
			return result
		}
		switch part.State.Status {
		case "running", "pending":
			name := part.Tool
			if name == "" {
				name = "tool"
			}
			if command := part.State.Input.Command; command != "" {
				name += ": " + command
			}
			result.events = append(result.events, backend.Event{
				Kind: backend.ToolStarted, ToolID: toolID, ToolName: name, Time: now,
			})
		case "completed":
			output := part.State.Metadata.Output
			if output == "" {
				output = part.State.Output
			}
			result.events = append(result.events, backend.Event{
				Kind: backend.ToolFinished, ToolID: toolID, Text: output, Time: now,
			})
		case "error", "failed":
			reason := part.State.Error
			if reason == "" {
				reason = part.State.Output
			}
			result.events = append(result.events, backend.Event{
				Kind: backend.ToolFinished, ToolID: toolID, Text: reason, ToolFailed: true, Time: now,
			})
		}
		return result
	}

	if delta != "" {
		result.events = append(result.events, backend.Event{
			Kind: backend.TextDelta, Text: delta, Time: now,
		})
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
