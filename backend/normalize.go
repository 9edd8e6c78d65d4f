// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"log/slog"
	"time"
)

// DefaultToolGrace is how long a tool call may sit without progress
// before the normalizer forces it closed.
const DefaultToolGrace = 20 * time.Second

// Normalize wraps a family's raw event channel and enforces the
// stream contract:
//
//   - arrival order is preserved end to end
//   - every tool call reaches exactly one ToolFinished, synthesized
//     from last-known output after grace of silence if the family
//     never closes it
//   - the stream yields exactly one terminal event, synthesized if
//     the raw channel closes without one
//   - anything after the terminal event is discarded
//
// The producer must close raw when it has nothing more to say; the
// returned stream's channel closes after its terminal event.
func Normalize(raw <-chan Event, grace time.Duration, logger *slog.Logger) Stream {
	if grace <= 0 {
		grace = DefaultToolGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	out := make(chan Event, 16)
	n := &normalizer{
		raw:    raw,
		out:    out,
		grace:  grace,
		logger: logger,
		tools:  make(map[string]*toolState),
	}
	go n.run()
	return StreamOf(out)
}

type toolState struct {
	name       string
	lastOutput string
	lastSeen   time.Time
}

type normalizer struct {
	raw    <-chan Event
	out    chan<- Event
	grace  time.Duration
	logger *slog.Logger

	tools map[string]*toolState
	order []string // tool IDs in first-seen order
}

func (n *normalizer) run() {
	defer close(n.out)
	timer := time.NewTimer(n.grace)
	defer timer.Stop()
	for {
		n.resetTimer(timer)
		select {
		case event, ok := <-n.raw:
			if !ok {
				// Stream ended without a terminal marker: force the
				// open tools closed, then report the turn finished.
				n.closeOpenTools()
				n.emit(Event{Kind: TurnFinished, Synthetic: true, Time: time.Now()})
				return
			}
			if n.handle(event) {
				n.drain()
				return
			}
		case <-timer.C:
			n.expireOverdue(time.Now())
		}
	}
}

// handle forwards one raw event, updating tool bookkeeping. It returns
// true when the event terminated the stream.
func (n *normalizer) handle(event Event) bool {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	switch event.Kind {
	case ToolStarted:
		if event.ToolID == "" {
			n.logger.Warn("dropping tool-started without tool ID")
			return false
		}
		n.track(event)
	case ToolProgress:
		if event.ToolID == "" {
			n.logger.Warn("dropping tool-progress without tool ID")
			return false
		}
		// Progress for an unseen tool implies a start we never saw.
		// Register it rather than lose the output.
		n.track(event)
		state := n.tools[event.ToolID]
		state.lastOutput = event.Text
		state.lastSeen = event.Time
	case ToolFinished:
		state, open := n.tools[event.ToolID]
		if open {
			if event.Text == "" {
				event.Text = state.lastOutput
			}
			if event.ToolName == "" {
				event.ToolName = state.name
			}
			delete(n.tools, event.ToolID)
		}
	case TurnFinished, BackendError:
		n.closeOpenTools()
		n.emit(event)
		return true
	}
	n.emit(event)
	return false
}

func (n *normalizer) track(event Event) {
	state, seen := n.tools[event.ToolID]
	if !seen {
		state = &toolState{name: event.ToolName, lastSeen: event.Time}
		n.tools[event.ToolID] = state
		n.order = append(n.order, event.ToolID)
		return
	}
	if state.name == "" {
		state.name = event.ToolName
	}
	state.lastSeen = event.Time
}

// closeOpenTools synthesizes a terminal event for every tool still
// open, in first-seen order, carrying last-known output.
func (n *normalizer) closeOpenTools() {
	now := time.Now()
	for _, id := range n.order {
		state, open := n.tools[id]
		if !open {
			continue
		}
		n.emit(Event{
			Kind:      ToolFinished,
			ToolID:    id,
			ToolName:  state.name,
			Text:      state.lastOutput,
			Synthetic: true,
			Time:      now,
		})
		delete(n.tools, id)
	}
}

// expireOverdue force-closes tools silent past the grace window.
func (n *normalizer) expireOverdue(now time.Time) {
	for _, id := range n.order {
		state, open := n.tools[id]
		if !open || now.Sub(state.lastSeen) < n.grace {
			continue
		}
		n.logger.Warn("tool call silent past grace window, forcing closure",
			"tool_id", id, "tool", state.name, "grace", n.grace)
		n.emit(Event{
			Kind:      ToolFinished,
			ToolID:    id,
			ToolName:  state.name,
			Text:      state.lastOutput,
			Synthetic: true,
			Time:      now,
		})
		delete(n.tools, id)
	}
}

// resetTimer arms the grace timer for the earliest open-tool deadline,
// or a full grace period when no tools are open.
func (n *normalizer) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	wait := n.grace
	now := time.Now()
	for _, id := range n.order {
		state, open := n.tools[id]
		if !open {
			continue
		}
		if remaining := n.grace - now.Sub(state.lastSeen); remaining < wait {
			wait = remaining
		}
	}
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
}

func (n *normalizer) emit(event Event) {
	n.out <- event
}

// drain discards raw events arriving after the terminal event so a
// sloppy producer cannot block on a full channel.
func (n *normalizer) drain() {
	for range n.raw {
	}
}
