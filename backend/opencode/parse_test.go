// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package opencode

import (
	"testing"

	"github.com/parley-foundation/parley/backend"
)

func parseOne(t *testing.T, payload string) backend.Event {
	t.Helper()
	result := parseEvent([]byte(payload))
	if len(result.events) != 1 {
		t.Fatalf("parseEvent(%s) produced %d events, want 1", payload, len(result.events))
	}
	return result.events[0]
}

func TestParseTextDelta(t *testing.T) {
	event := parseOne(t, `{
		"type":"message.part.updated",
		"properties":{"part":{"type":"text","id":"m1","role":"assistant"},"delta":"hello"}
	}`)
	if event.Kind != backend.TextDelta || event.Text != "hello" {
		t.Fatalf("got %+v", event)
	}
}

func TestParseThinkingDelta(t *testing.T) {
	event := parseOne(t, `{
		"type":"message.part.delta",
		"properties":{"part":{"type":"thinking","id":"p1","role":"assistant"},"delta":"pondering"}
	}`)
	if event.Kind != backend.ReasoningDelta || event.Text != "pondering" {
		t.Fatalf("got %+v", event)
	}
}

// The firehose echoes the user's own prompt parts; they are not
// assistant output.
func TestParseUserRoleFiltered(t *testing.T) {
	result := parseEvent([]byte(`{
		"type":"message.part.delta",
		"properties":{"part":{"type":"text","id":"p2","role":"user"},"delta":"hello"}
	}`))
	if len(result.events) != 0 {
		t.Fatalf("user echo leaked: %+v", result.events)
	}
}

func TestParseToolRunning(t *testing.T) {
	event := parseOne(t, `{
		"type":"message.part.delta",
		"properties":{"part":{
			"type":"tool","id":"t1","tool":"bash",
			"state":{"status":"running","input":{"command":"ls"}}
		}}
	}`)
	if event.Kind != backend.ToolStarted || event.ToolID != "t1" {
		t.Fatalf("got %+v", event)
	}
	if event.ToolName != "bash: ls" {
		t.Errorf("tool name %q, want command included", event.ToolName)
	}
}

func TestParseToolCompleted(t *testing.T) {
	event := parseOne(t, `{
		"type":"message.part.delta",
		"properties":{"part":{
			"type":"tool","id":"t1",
			"state":{"status":"completed","metadata":{"output":"ok"}}
		}}
	}`)
	if event.Kind != backend.ToolFinished || event.Text != "ok" {
		t.Fatalf("got %+v", event)
	}

	// Output falls back to the state-level field when metadata is
	// absent.
	event = parseOne(t, `{
		"type":"message.part.updated",
		"properties":{"part":{
			"type":"tool","id":"t9",
			"state":{"status":"completed","output":"fallback-out"}
		}}
	}`)
	if event.Text != "fallback-out" {
		t.Fatalf("got %+v", event)
	}
}

func TestParseToolFailed(t *testing.T) {
	event := parseOne(t, `{
		"type":"message.part.delta",
		"properties":{"part":{
			"type":"tool","id":"t2",
			"state":{"status":"error","error":"command not found"}
		}}
	}`)
	if event.Kind != backend.ToolFinished || !event.ToolFailed || event.Text != "command not found" {
		t.Fatalf("got %+v", event)
	}
}

func TestParseTurnCompletionVariants(t *testing.T) {
	for _, eventType := range []string{
		"session.idle", "turn.end", "turn.close", "session.turn.close",
		"message.completed", "session.message.completed",
	} {
		result := parseEvent([]byte(`{"type":"` + eventType + `"}`))
		if !result.turnDone {
			t.Errorf("%s did not signal turn completion", eventType)
		}
	}
}

func TestParseErrorMessageFallbacks(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"type":"error","properties":{"error":{"data":{"message":"boom"}}}}`, "boom"},
		{`{"type":"session.error","properties":{"message":"p-msg"}}`, "p-msg"},
		{`{"type":"error","data":{"message":"d-msg"}}`, "d-msg"},
		{`{"type":"error"}`, "unknown backend error"},
	}
	for _, test := range tests {
		result := parseEvent([]byte(test.payload))
		if result.errText != test.want {
			t.Errorf("parseEvent(%s).errText = %q, want %q", test.payload, result.errText, test.want)
		}
	}
}

func TestParseSessionDemux(t *testing.T) {
	result := parseEvent([]byte(`{
		"type":"message.part.delta",
		"properties":{"sessionID":"ses_42","part":{"type":"text","role":"assistant"},"delta":"x"}
	}`))
	if result.sessionID != "ses_42" {
		t.Fatalf("sessionID = %q", result.sessionID)
	}

	result = parseEvent([]byte(`{
		"type":"session.idle",
		"properties":{"part":{"sessionID":"ses_43"}}
	}`))
	if result.sessionID != "ses_43" {
		t.Fatalf("part-level sessionID = %q", result.sessionID)
	}
}

func TestParseIgnoresUnknown(t *testing.T) {
	for _, payload := range []string{
		`{"type":"noop"}`,
		`{"type":"message.part.delta","properties":{"part":{"type":"tool","state":{"status":"queued"}}}}`,
		`not json at all`,
	} {
		result := parseEvent([]byte(payload))
		if len(result.events) != 0 || result.turnDone || result.errText != "" {
			t.Errorf("parseEvent(%s) = %+v, want nothing", payload, result)
		}
	}
}
