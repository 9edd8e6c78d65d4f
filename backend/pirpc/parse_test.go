// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package pirpc

import (
	"testing"

	"github.com/parley-foundation/parley/backend"
)

func parseOne(t *testing.T, line string) backend.Event {
	t.Helper()
	events, _ := parseLine([]byte(line))
	if len(events) != 1 {
		t.Fatalf("parseLine(%s) produced %d events, want 1", line, len(events))
	}
	return events[0]
}

func TestParseTextDelta(t *testing.T) {
	for _, line := range []string{
		`{"type":"message_update","assistantMessageEvent":{"type":"text","delta":"hello "}}`,
		`{"type":"message_update","message":{"type":"text","delta":"hello "}}`,
	} {
		event := parseOne(t, line)
		if event.Kind != backend.TextDelta || event.Text != "hello " {
			t.Errorf("parseLine(%s) = %+v, want text delta", line, event)
		}
	}
}

func TestParseThinkingDelta(t *testing.T) {
	for _, line := range []string{
		`{"type":"thinking_delta","delta":"hmm"}`,
		`{"type":"message_update","message":{"type":"thinking","delta":"hmm"}}`,
	} {
		event := parseOne(t, line)
		if event.Kind != backend.ReasoningDelta || event.Text != "hmm" {
			t.Errorf("parseLine(%s) = %+v, want reasoning delta", line, event)
		}
	}
}

func TestParseControlDeltaDropped(t *testing.T) {
	events, _ := parseLine([]byte(`{"type":"text_delta","delta":"<ctrl_reset>"}`))
	if len(events) != 0 {
		t.Fatalf("control marker leaked: %+v", events)
	}
}

func TestParseToolLifecycle(t *testing.T) {
	start := parseOne(t, `{"type":"tool_execution_start","toolCallId":"id-99","toolName":"bash"}`)
	if start.Kind != backend.ToolStarted || start.ToolID != "id-99" || start.ToolName != "bash" {
		t.Fatalf("start = %+v", start)
	}

	update := parseOne(t, `{"type":"tool_execution_update","toolCallId":"id-99","partialResult":{"content":[{"type":"text","text":"running"}]}}`)
	if update.Kind != backend.ToolProgress || update.ToolID != "id-99" || update.Text != "running" {
		t.Fatalf("update = %+v", update)
	}

	events, _ := parseLine([]byte(`{"type":"tool_execution_end","toolCallId":"id-99","toolName":"bash","result":{"content":[{"type":"text","text":"exit 0"}]}}`))
	if len(events) != 2 {
		t.Fatalf("end produced %d events, want output then finish", len(events))
	}
	if events[0].Kind != backend.ToolProgress || events[0].Text != "exit 0" {
		t.Fatalf("end output = %+v", events[0])
	}
	if events[1].Kind != backend.ToolFinished || events[1].ToolID != "id-99" {
		t.Fatalf("end finish = %+v", events[1])
	}
}

func TestParseAgentEnd(t *testing.T) {
	done := parseOne(t, `{"type":"agent_end","messages":[]}`)
	if done.Kind != backend.TurnFinished {
		t.Fatalf("clean end = %+v", done)
	}

	failed := parseOne(t, `{"type":"agent_end","errorMessage":"quota exceeded"}`)
	if failed.Kind != backend.BackendError || failed.Err != "quota exceeded" {
		t.Fatalf("failed end = %+v", failed)
	}
}

func TestParseErrorEventNameVariants(t *testing.T) {
	for _, line := range []string{
		`{"type":"error","message":"boom"}`,
		`{"type":"error","error":"boom"}`,
	} {
		event := parseOne(t, line)
		if event.Kind != backend.BackendError || event.Err != "boom" {
			t.Errorf("parseLine(%s) = %+v", line, event)
		}
	}
}

func TestParseCommandResponse(t *testing.T) {
	events, response := parseLine([]byte(`{"type":"response","id":"abc","data":{"models":[]}}`))
	if len(events) != 0 {
		t.Fatalf("response produced stream events: %+v", events)
	}
	if response == nil || response.ID != "abc" {
		t.Fatalf("response = %+v", response)
	}
}

func TestParseGarbageIgnored(t *testing.T) {
	for _, line := range []string{"", "   ", "not json", `{"type":"unknown_thing"}`} {
		events, response := parseLine([]byte(line))
		if len(events) != 0 || response != nil {
			t.Errorf("parseLine(%q) = %v, %v; want nothing", line, events, response)
		}
	}
}

func TestSplitModel(t *testing.T) {
	provider, id := splitModel("anthropic/claude-sonnet-4")
	if provider != "anthropic" || id != "claude-sonnet-4" {
		t.Fatalf("got %q/%q", provider, id)
	}
	provider, id = splitModel("gpt-5")
	if provider != "" || id != "gpt-5" {
		t.Fatalf("bare id: got %q/%q", provider, id)
	}
}
