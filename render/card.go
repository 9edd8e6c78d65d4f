// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"strings"

	"github.com/parley-foundation/parley/backend"
)

// ToolStatus is a tool card's lifecycle state.
type ToolStatus string

const (
	ToolRunning  ToolStatus = "running"
	ToolFinished ToolStatus = "finished"
	ToolFailed   ToolStatus = "failed"
)

// ToolCard is the rendered view of one tool invocation. Output holds
// the full untruncated last-known output; size limits apply only at
// composition time.
type ToolCard struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Output string     `json:"output,omitempty"`
	Status ToolStatus `json:"status"`

	// Interrupted marks a closure synthesized from silence rather
	// than reported by the backend.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Cards is the projection of a turn's events: one reasoning card, one
// answer card, and tool cards in first-seen order. It is derived
// state only; applying the same events always rebuilds it exactly.
type Cards struct {
	Reasoning string      `json:"reasoning,omitempty"`
	Text      string      `json:"text,omitempty"`
	Tools     []*ToolCard `json:"tools,omitempty"`

	byID map[string]*ToolCard
}

// NewCards returns an empty projection.
func NewCards() *Cards {
	return &Cards{byID: make(map[string]*ToolCard)}
}

// Project rebuilds the projection from an event prefix.
func Project(events []backend.Event) *Cards {
	cards := NewCards()
	for _, event := range events {
		cards.Apply(event)
	}
	return cards
}

// Apply folds one event into the projection. Terminal turn events are
// no-ops here; turn lifecycle belongs to the orchestrator.
func (c *Cards) Apply(event backend.Event) {
	switch event.Kind {
	case backend.TextDelta:
		c.Text += event.Text

	case backend.TextReplace:
		c.Text = event.Text

	case backend.ReasoningDelta:
		c.Reasoning += event.Text

	case backend.ToolStarted:
		c.tool(event.ToolID, event.ToolName)

	case backend.ToolProgress:
		card := c.tool(event.ToolID, event.ToolName)
		// Progress carries the full last-known output, not a delta.
		card.Output = event.Text

	case backend.ToolFinished:
		card := c.tool(event.ToolID, event.ToolName)
		if event.Text != "" {
			card.Output = event.Text
		}
		if event.ToolFailed {
			card.Status = ToolFailed
		} else {
			card.Status = ToolFinished
		}
		card.Interrupted = event.Synthetic
	}
}

func (c *Cards) tool(id, name string) *ToolCard {
	if c.byID == nil {
		c.byID = make(map[string]*ToolCard)
		for _, card := range c.Tools {
			c.byID[card.ID] = card
		}
	}
	card, ok := c.byID[id]
	if !ok {
		card = &ToolCard{ID: id, Name: name, Status: ToolRunning}
		c.byID[id] = card
		c.Tools = append(c.Tools, card)
		return card
	}
	if card.Name == "" {
		card.Name = name
	}
	return card
}

// RunningTools returns the tool cards not yet in a terminal state.
func (c *Cards) RunningTools() []*ToolCard {
	var running []*ToolCard
	for _, card := range c.Tools {
		if card.Status == ToolRunning {
			running = append(running, card)
		}
	}
	return running
}

// ForceFinished drives every running tool card to finished with its
// last-known output. This is the reconciliation step at turn closure:
// nothing rendered ever stays "running" forever.
func (c *Cards) ForceFinished() {
	for _, card := range c.Tools {
		if card.Status == ToolRunning {
			card.Status = ToolFinished
			card.Interrupted = true
		}
	}
}

// Empty reports whether there is nothing to render.
func (c *Cards) Empty() bool {
	return c.Reasoning == "" && c.Text == "" && len(c.Tools) == 0
}

// Clone returns an independent copy for snapshotting.
func (c *Cards) Clone() *Cards {
	clone := NewCards()
	clone.Reasoning = c.Reasoning
	clone.Text = c.Text
	for _, card := range c.Tools {
		copied := *card
		clone.Tools = append(clone.Tools, &copied)
		clone.byID[copied.ID] = clone.Tools[len(clone.Tools)-1]
	}
	return clone
}

// quoteLines renders text in quote markup, one marker per line.
func quoteLines(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
