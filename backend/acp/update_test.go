// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"io"
	"log/slog"
	"testing"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"

	"github.com/parley-foundation/parley/backend"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTranslateMessageChunk(t *testing.T) {
	events := translateUpdate(acpsdk.UpdateAgentMessage(acpsdk.TextBlock("hello")), time.Now())
	if len(events) != 1 || events[0].Kind != backend.TextDelta || events[0].Text != "hello" {
		t.Fatalf("got %+v", events)
	}
}

func TestTranslateThoughtChunk(t *testing.T) {
	events := translateUpdate(acpsdk.UpdateAgentThought(acpsdk.TextBlock("pondering")), time.Now())
	if len(events) != 1 || events[0].Kind != backend.ReasoningDelta || events[0].Text != "pondering" {
		t.Fatalf("got %+v", events)
	}
}

func TestTranslateToolCall(t *testing.T) {
	update := acpsdk.SessionUpdate{
		ToolCall: &acpsdk.SessionUpdateToolCall{
			ToolCallId: acpsdk.ToolCallId("t1"),
			Title:      "read main.go",
			Status:     acpsdk.ToolCallStatus("in_progress"),
		},
	}
	events := translateUpdate(update, time.Now())
	if len(events) != 1 {
		t.Fatalf("got %d events %+v, want 1", len(events), events)
	}
	if events[0].Kind != backend.ToolStarted || events[0].ToolID != "t1" || events[0].ToolName != "read main.go" {
		t.Fatalf("got %+v", events[0])
	}
}

func TestTranslateToolCallUpdateCompleted(t *testing.T) {
	status := acpsdk.ToolCallStatus("completed")
	update := acpsdk.SessionUpdate{
		ToolCallUpdate: &acpsdk.SessionUpdateToolCallUpdate{
			ToolCallId: acpsdk.ToolCallId("t1"),
			Status:     &status,
		},
	}
	events := translateUpdate(update, time.Now())
	if len(events) != 1 || events[0].Kind != backend.ToolFinished || events[0].ToolFailed {
		t.Fatalf("got %+v", events)
	}
}

func TestTranslateToolCallUpdateFailed(t *testing.T) {
	status := acpsdk.ToolCallStatus("failed")
	update := acpsdk.SessionUpdate{
		ToolCallUpdate: &acpsdk.SessionUpdateToolCallUpdate{
			ToolCallId: acpsdk.ToolCallId("t2"),
			Status:     &status,
		},
	}
	events := translateUpdate(update, time.Now())
	if len(events) != 1 || events[0].Kind != backend.ToolFinished || !events[0].ToolFailed {
		t.Fatalf("got %+v", events)
	}
}

func TestTranslateIgnoresOtherVariants(t *testing.T) {
	if events := translateUpdate(acpsdk.SessionUpdate{}, time.Now()); len(events) != 0 {
		t.Fatalf("empty update produced %+v", events)
	}
	if events := translateUpdate(acpsdk.UpdateUserMessage(acpsdk.TextBlock("me")), time.Now()); len(events) != 0 {
		t.Fatalf("user echo produced %+v", events)
	}
}

// Updates on the shared connection reach only the session they name.
func TestDispatchDemux(t *testing.T) {
	rt := &runtime{logger: testLogger(t), sessions: make(map[string]*session)}
	mine := &session{runtime: rt, sessionID: acpsdk.SessionId("s1"), logger: testLogger(t)}
	other := &session{runtime: rt, sessionID: acpsdk.SessionId("s2"), logger: testLogger(t)}
	rt.sessions["s1"] = mine
	rt.sessions["s2"] = other

	mineStream := backend.NewTurnStream(testLogger(t))
	mine.turn = mineStream
	otherStream := backend.NewTurnStream(testLogger(t))
	other.turn = otherStream

	rt.dispatch("s1", acpsdk.UpdateAgentMessage(acpsdk.TextBlock("for s1")))
	rt.dispatch("s3", acpsdk.UpdateAgentMessage(acpsdk.TextBlock("unknown session")))

	select {
	case event := <-mineStream.Events():
		if event.Text != "for s1" {
			t.Fatalf("got %+v", event)
		}
	default:
		t.Fatal("own session never received its update")
	}
	select {
	case event := <-otherStream.Events():
		t.Fatalf("foreign session received %+v", event)
	default:
	}
}

// A session closing mid-turn terminates its own stream without
// touching the shared runtime's other sessions.
func TestCloseIsolatedPerSession(t *testing.T) {
	rt := &runtime{logger: testLogger(t), sessions: make(map[string]*session), refs: 2}
	closing := &session{runtime: rt, sessionID: acpsdk.SessionId("s1"), logger: testLogger(t)}
	surviving := &session{runtime: rt, sessionID: acpsdk.SessionId("s2"), logger: testLogger(t)}
	rt.sessions["s1"] = closing
	rt.sessions["s2"] = surviving
	surviving.turn = backend.NewTurnStream(testLogger(t))

	stream := backend.NewTurnStream(testLogger(t))
	closing.turn = stream
	if err := closing.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !stream.Done() {
		t.Fatal("closed session's stream not terminated")
	}
	if _, ok := rt.sessions["s1"]; ok {
		t.Fatal("closed session still registered on the runtime")
	}
	if surviving.turn.Done() {
		t.Fatal("unrelated session's stream was terminated")
	}
}
