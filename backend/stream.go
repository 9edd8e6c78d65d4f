// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"log/slog"
	"sync"
)

// turnStreamCapacity is the buffer between a backend's protocol
// reader and the turn consumer. Past it, Send blocks until the
// consumer catches up.
const turnStreamCapacity = 1024

// TurnStream is the producer side of a turn's event stream, shared by
// the adapter implementations. Send blocks once the consumer falls
// turnStreamCapacity events behind: the wire backpressures instead of
// losing fragments.
//
// The stream closes itself after the first terminal event; everything
// sent after that is discarded.
type TurnStream struct {
	mu     sync.Mutex
	events chan Event
	closed bool
	logger *slog.Logger
}

// NewTurnStream returns an open stream. A nil logger means
// slog.Default().
func NewTurnStream(logger *slog.Logger) *TurnStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnStream{
		events: make(chan Event, turnStreamCapacity),
		logger: logger,
	}
}

// Events implements Stream.
func (t *TurnStream) Events() <-chan Event { return t.events }

// Send delivers one event, blocking while the consumer lags. A
// terminal event closes the stream. Concurrent senders are serialized;
// the consumer must keep draining Events for Send to return.
func (t *TurnStream) Send(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.logger.Debug("discarding event after terminal", "kind", event.Kind)
		return
	}
	t.events <- event
	if event.Kind.Terminal() {
		t.closed = true
		close(t.events)
	}
}

// Done reports whether the stream has delivered its terminal event.
func (t *TurnStream) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

var _ Stream = (*TurnStream)(nil)
