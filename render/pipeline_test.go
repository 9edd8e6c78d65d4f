// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/chat"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPipeline(t *testing.T, sink *chat.MemorySink) *Pipeline {
	t.Helper()
	return NewPipeline(PipelineConfig{
		Sink:        sink,
		Channel:     "room",
		MinInterval: 20 * time.Millisecond,
		Logger:      testLogger(t),
	})
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func textCards(text string) *Cards {
	cards := NewCards()
	cards.Apply(backend.Event{Kind: backend.TextDelta, Text: text})
	return cards
}

func TestPipelineCreateThenEdit(t *testing.T) {
	sink := chat.NewMemorySink(0)
	pipeline := testPipeline(t, sink)
	pipeline.BeginTurn()

	pipeline.Observe(textCards("hello"))
	waitFor(t, "initial create", func() bool { return sink.WriteCount() == 1 })

	if err := pipeline.FinalFlush(context.Background(), textCards("hello world")); err != nil {
		t.Fatalf("FinalFlush: %v", err)
	}
	writes := sink.Writes()
	if len(writes) != 2 || writes[0].Op != "create" || writes[1].Op != "edit" {
		t.Fatalf("unexpected write sequence: %+v", writes)
	}
	ref := pipeline.MessageRef()
	if ref == nil {
		t.Fatal("no live message reference after flush")
	}
	body, ok := sink.Body(*ref)
	if !ok || body != "hello world" {
		t.Fatalf("final body = %q, %v", body, ok)
	}
}

// A burst of snapshots within the throttle interval collapses: the
// surface sees far fewer edits than events, and always ends on the
// newest state.
func TestObserveCoalesces(t *testing.T) {
	sink := chat.NewMemorySink(0)
	pipeline := NewPipeline(PipelineConfig{
		Sink:        sink,
		Channel:     "room",
		MinInterval: 50 * time.Millisecond,
		Logger:      testLogger(t),
	})
	pipeline.BeginTurn()

	cards := NewCards()
	for i := 0; i < 40; i++ {
		cards.Apply(backend.Event{Kind: backend.TextDelta, Text: "chunk "})
		pipeline.Observe(cards)
		time.Sleep(2 * time.Millisecond)
	}
	if err := pipeline.FinalFlush(context.Background(), cards); err != nil {
		t.Fatalf("FinalFlush: %v", err)
	}
	if count := sink.WriteCount(); count >= 20 {
		t.Fatalf("throttle let %d writes through for 40 snapshots", count)
	}
	body, _ := sink.Body(*pipeline.MessageRef())
	if body != strings.Repeat("chunk ", 40) {
		t.Fatalf("final body does not reflect newest snapshot: %q", body)
	}
}

func TestFinalFlushRetriesRateLimit(t *testing.T) {
	saved := retryBackoff
	retryBackoff = time.Millisecond
	defer func() { retryBackoff = saved }()

	sink := chat.NewMemorySink(0)
	sink.FailNext(chat.ErrRateLimited, chat.ErrRateLimited)
	pipeline := testPipeline(t, sink)
	pipeline.BeginTurn()

	if err := pipeline.FinalFlush(context.Background(), textCards("the answer")); err != nil {
		t.Fatalf("FinalFlush should retry through rate limits: %v", err)
	}
	body, ok := sink.Body(*pipeline.MessageRef())
	if !ok || body != "the answer" {
		t.Fatalf("final body = %q, %v", body, ok)
	}
	failed := 0
	for _, write := range sink.Writes() {
		if write.Failed {
			failed++
		}
	}
	if failed != 2 {
		t.Fatalf("expected 2 rate-limited attempts, saw %d", failed)
	}
}

func TestFinalFlushGivesUpEventually(t *testing.T) {
	saved := retryBackoff
	retryBackoff = time.Millisecond
	defer func() { retryBackoff = saved }()

	sink := chat.NewMemorySink(0)
	failures := make([]error, finalFlushAttempts)
	for i := range failures {
		failures[i] = chat.ErrRateLimited
	}
	sink.FailNext(failures...)
	pipeline := testPipeline(t, sink)
	pipeline.BeginTurn()

	err := pipeline.FinalFlush(context.Background(), textCards("never lands"))
	if !errors.Is(err, chat.ErrRateLimited) {
		t.Fatalf("expected rate-limit error after exhausting retries, got %v", err)
	}
}

// A live message deleted out from under the pipeline is recreated
// rather than losing the rest of the turn.
func TestEditNotFoundRecreates(t *testing.T) {
	sink := chat.NewMemorySink(0)
	pipeline := testPipeline(t, sink)
	pipeline.BeginTurn()

	pipeline.Observe(textCards("first"))
	waitFor(t, "initial create", func() bool { return sink.WriteCount() == 1 })
	original := *pipeline.MessageRef()

	sink.FailNext(chat.ErrNotFound)
	if err := pipeline.FinalFlush(context.Background(), textCards("second")); err != nil {
		t.Fatalf("FinalFlush: %v", err)
	}
	replacement := pipeline.MessageRef()
	if replacement == nil || replacement.ID == original.ID {
		t.Fatalf("expected a fresh message, got %+v", replacement)
	}
	body, _ := sink.Body(*replacement)
	if body != "second" {
		t.Fatalf("replacement body = %q", body)
	}
}

func TestIntermediateFailureNotRetried(t *testing.T) {
	sink := chat.NewMemorySink(0)
	sink.FailNext(errors.New("surface hiccup"))
	pipeline := testPipeline(t, sink)
	pipeline.BeginTurn()

	pipeline.Observe(textCards("lost snapshot"))
	waitFor(t, "failed attempt recorded", func() bool { return len(sink.Writes()) >= 1 })
	time.Sleep(50 * time.Millisecond)
	if count := sink.WriteCount(); count != 0 {
		t.Fatalf("intermediate failure should not retry, %d writes landed", count)
	}

	// The terminal flush still delivers the turn.
	if err := pipeline.FinalFlush(context.Background(), textCards("recovered")); err != nil {
		t.Fatalf("FinalFlush: %v", err)
	}
	body, _ := sink.Body(*pipeline.MessageRef())
	if body != "recovered" {
		t.Fatalf("final body = %q", body)
	}
}

// A failed write must not swallow progress: the next snapshot that
// arrives is scheduled as usual.
func TestFailureThenNewerSnapshotFlushes(t *testing.T) {
	sink := chat.NewMemorySink(0)
	sink.FailNext(errors.New("surface hiccup"))
	pipeline := testPipeline(t, sink)
	pipeline.BeginTurn()

	pipeline.Observe(textCards("first"))
	waitFor(t, "failed attempt recorded", func() bool { return len(sink.Writes()) >= 1 })

	pipeline.Observe(textCards("first and second"))
	waitFor(t, "newer snapshot delivered", func() bool { return sink.WriteCount() == 1 })
	body, _ := sink.Body(*pipeline.MessageRef())
	if body != "first and second" {
		t.Fatalf("delivered body = %q", body)
	}
}

func TestToolFinishedAppendsOverflowFragments(t *testing.T) {
	sink := chat.NewMemorySink(200)
	pipeline := testPipeline(t, sink)
	pipeline.BeginTurn()

	card := &ToolCard{
		ID:     "t1",
		Name:   "bash",
		Status: ToolFinished,
		Output: strings.Repeat("overflow line\n", 60),
	}
	pipeline.ToolFinished(context.Background(), card)

	writes := sink.Writes()
	if len(writes) < 2 {
		t.Fatalf("expected multiple overflow fragments, got %d writes", len(writes))
	}
	for i, write := range writes {
		if write.Op != "append" {
			t.Fatalf("write %d op = %q, want append", i, write.Op)
		}
		if len(write.Body) > sink.MaxBodyLength() {
			t.Fatalf("fragment %d length %d exceeds surface limit", i, len(write.Body))
		}
	}
}

func TestToolFinishedSmallOutputNoFragments(t *testing.T) {
	sink := chat.NewMemorySink(0)
	pipeline := testPipeline(t, sink)
	pipeline.BeginTurn()

	card := &ToolCard{ID: "t1", Name: "bash", Status: ToolFinished, Output: "short"}
	pipeline.ToolFinished(context.Background(), card)
	if len(sink.Writes()) != 0 {
		t.Fatalf("small output should render inline only, got %d writes", len(sink.Writes()))
	}
}

func TestFinalFlushSkipsUnchangedBody(t *testing.T) {
	sink := chat.NewMemorySink(0)
	pipeline := testPipeline(t, sink)
	pipeline.BeginTurn()

	cards := textCards("stable")
	pipeline.Observe(cards)
	waitFor(t, "initial create", func() bool { return sink.WriteCount() == 1 })

	if err := pipeline.FinalFlush(context.Background(), cards); err != nil {
		t.Fatalf("FinalFlush: %v", err)
	}
	if count := sink.WriteCount(); count != 1 {
		t.Fatalf("unchanged terminal flush should be a no-op, %d writes", count)
	}
}
