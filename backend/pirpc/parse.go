// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package pirpc

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/parley-foundation/parley/backend"
)

// wireEvent is the superset of fields the agent writes on stdout. One
// struct covers every event type; unused fields stay zero.
type wireEvent struct {
	Type string `json:"type"`

	// Delta events. The delta may sit at the top level or inside an
	// assistantMessageEvent / message envelope depending on the agent
	// version. The message field doubles as the error text on error
	// events, so it is decoded by shape.
	Delta                 string          `json:"delta"`
	AssistantMessageEvent *wireDelta      `json:"assistantMessageEvent"`
	Message               json.RawMessage `json:"message"`

	// Tool execution events.
	ToolCallID    string           `json:"toolCallId"`
	ToolName      string           `json:"toolName"`
	PartialResult *wireToolContent `json:"partialResult"`
	Result        *wireToolContent `json:"result"`

	// agent_end.
	ErrorMessage string `json:"errorMessage"`

	// Command responses.
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`

	// error events sometimes name the message field "error" instead.
	ErrAlt string `json:"error"`
}

// messageEnvelope decodes the message field as a delta envelope, or
// returns nil when it is absent or not an object.
func (w *wireEvent) messageEnvelope() *wireDelta {
	if len(w.Message) == 0 || w.Message[0] != '{' {
		return nil
	}
	var delta wireDelta
	if err := json.Unmarshal(w.Message, &delta); err != nil {
		return nil
	}
	return &delta
}

// messageText decodes the message field as a plain string, or returns
// "" when it is absent or not a string.
func (w *wireEvent) messageText() string {
	var text string
	if err := json.Unmarshal(w.Message, &text); err != nil {
		return ""
	}
	return text
}

type wireDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type wireToolContent struct {
	Content []wireContentItem `json:"content"`
}

type wireContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// commandResponse is a reply to a stdin command, matched by id.
type commandResponse struct {
	ID   string
	Data json.RawMessage
}

// parseLine translates one stdout line into normalized events and, if
// the line answers a command, the response. Unrecognized lines yield
// nothing: the stream carries on.
func parseLine(line []byte) ([]backend.Event, *commandResponse) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return nil, nil
	}
	var wire wireEvent
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, nil
	}
	now := time.Now()
	switch wire.Type {
	case "message_update", "text_delta", "thinking_delta":
		return parseDelta(wire, now), nil

	case "tool_execution_start":
		if wire.ToolCallID == "" {
			return nil, nil
		}
		name := wire.ToolName
		if name == "" {
			name = "tool"
		}
		return []backend.Event{{
			Kind:     backend.ToolStarted,
			ToolID:   wire.ToolCallID,
			ToolName: name,
			Time:     now,
		}}, nil

	case "tool_execution_update":
		return toolOutput(backend.ToolProgress, wire.ToolCallID, wire.PartialResult, now), nil

	case "tool_execution_end":
		events := toolOutput(backend.ToolProgress, wire.ToolCallID, wire.Result, now)
		if wire.ToolCallID != "" {
			events = append(events, backend.Event{
				Kind:     backend.ToolFinished,
				ToolID:   wire.ToolCallID,
				ToolName: wire.ToolName,
				Time:     now,
			})
		}
		return events, nil

	case "agent_end":
		if wire.ErrorMessage != "" {
			return []backend.Event{{Kind: backend.BackendError, Err: wire.ErrorMessage, Time: now}}, nil
		}
		return []backend.Event{{Kind: backend.TurnFinished, Time: now}}, nil

	case "error":
		message := wire.messageText()
		if message == "" {
			message = wire.ErrAlt
		}
		if message == "" {
			message = "backend error"
		}
		return []backend.Event{{Kind: backend.BackendError, Err: message, Time: now}}, nil

	case "response":
		if wire.ID == "" {
			return nil, nil
		}
		return nil, &commandResponse{ID: wire.ID, Data: wire.Data}
	}
	return nil, nil
}

func parseDelta(wire wireEvent, now time.Time) []backend.Event {
	delta := wire.Delta
	innerType := ""
	for _, envelope := range []*wireDelta{wire.AssistantMessageEvent, wire.messageEnvelope()} {
		if envelope != nil && envelope.Delta != "" {
			delta = envelope.Delta
			innerType = envelope.Type
			break
		}
	}
	if delta == "" || isControlText(delta) {
		return nil
	}
	kind := backend.TextDelta
	if wire.Type == "thinking_delta" || strings.Contains(innerType, "thinking") {
		kind = backend.ReasoningDelta
	}
	return []backend.Event{{Kind: kind, Text: delta, Time: now}}
}

func toolOutput(kind backend.Kind, toolID string, content *wireToolContent, now time.Time) []backend.Event {
	if toolID == "" || content == nil {
		return nil
	}
	var events []backend.Event
	for _, item := range content.Content {
		if item.Text == "" {
			continue
		}
		events = append(events, backend.Event{
			Kind:   kind,
			ToolID: toolID,
			Text:   item.Text,
			Time:   now,
		})
	}
	return events
}

// isControlText reports whether a delta is an agent control marker
// (never user-visible content).
func isControlText(s string) bool {
	return strings.HasPrefix(strings.TrimLeft(s, " \t"), "<ctrl")
}
