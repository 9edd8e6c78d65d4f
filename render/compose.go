// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// truncationMarker prefixes content whose head was cut.
	truncationMarker = "…"

	// toolOutputCap bounds one tool card's rendered output. The full
	// output survives on the card; overflow reaches the surface as a
	// follow-up fragment instead.
	toolOutputCap = 700
)

// Composed is one rendered message body plus what had to be cut to
// fit it.
type Composed struct {
	Body string

	// TruncatedTools lists tool IDs whose output was shortened or
	// whose card was dropped. Their full output is owed to the
	// surface as follow-up fragments.
	TruncatedTools []string
}

// Compose renders the projection into a single body no longer than
// limit bytes. Reasoning appears as quoted lines, each tool as a
// fenced block, then the answer text. When the body overflows, oldest
// content loses first: tool cards are dropped whole (atomic), then
// reasoning and text lose their heads, marked with the truncation
// marker.
func Compose(cards *Cards, limit int) Composed {
	var composed Composed
	truncated := make(map[string]bool)

	reasoning := ""
	if cards.Reasoning != "" {
		reasoning = quoteLines(cards.Reasoning)
	}
	toolBlocks := make([]string, len(cards.Tools))
	for i, card := range cards.Tools {
		block, cut := composeTool(card)
		toolBlocks[i] = block
		if cut {
			truncated[card.ID] = true
		}
	}
	text := cards.Text

	assemble := func(keepTools int) string {
		sections := make([]string, 0, 2+keepTools)
		if reasoning != "" {
			sections = append(sections, reasoning)
		}
		sections = append(sections, toolBlocks[len(toolBlocks)-keepTools:]...)
		if text != "" {
			sections = append(sections, text)
		}
		return strings.Join(sections, "\n\n")
	}

	keepTools := len(toolBlocks)
	body := assemble(keepTools)

	// Tool cards are atomic: drop the oldest whole rather than show
	// a mangled fragment of it.
	for len(body) > limit && keepTools > 0 {
		keepTools--
		truncated[cards.Tools[len(cards.Tools)-keepTools-1].ID] = true
		body = assemble(keepTools)
	}
	// Reasoning is the most expendable prose: cut its head next.
	for len(body) > limit && reasoning != "" {
		overflow := len(body) - limit
		prefix := "> " + truncationMarker
		keep := len(reasoning) - overflow - len(prefix)
		if keep <= 0 {
			reasoning = ""
		} else {
			reasoning = prefix + trimHead(reasoning, keep)
		}
		body = assemble(keepTools)
	}
	// Last resort: keep the newest end of everything.
	if len(body) > limit {
		body = truncationMarker + trimHead(body, limit-len(truncationMarker))
	}

	for _, card := range cards.Tools {
		if truncated[card.ID] {
			composed.TruncatedTools = append(composed.TruncatedTools, card.ID)
		}
	}
	composed.Body = body
	return composed
}

// composeTool renders one tool card. Returns the block and whether
// the output had to be shortened.
func composeTool(card *ToolCard) (string, bool) {
	name := card.Name
	if name == "" {
		name = "tool"
	}
	status := ""
	switch {
	case card.Status == ToolRunning:
		status = " (running)"
	case card.Status == ToolFailed:
		status = " (failed)"
	case card.Interrupted:
		status = " (interrupted)"
	}
	header := fmt.Sprintf("**%s**%s", name, status)
	if card.Output == "" {
		return header, false
	}
	output := card.Output
	cut := false
	if len(output) > toolOutputCap {
		output = truncationMarker + trimHead(output, toolOutputCap-len(truncationMarker))
		cut = true
	}
	return header + "\n```\n" + output + "\n```", cut
}

// trimHead keeps the last keep bytes of s, aligned to a rune start.
func trimHead(s string, keep int) string {
	if keep <= 0 {
		return ""
	}
	if len(s) <= keep {
		return s
	}
	start := len(s) - keep
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

// FragmentTool splits a tool card's full output into bodies small
// enough for the surface, for delivery as follow-up fragments after
// truncation. The first fragment names the tool.
func FragmentTool(card *ToolCard, limit int) []string {
	if card.Output == "" {
		return nil
	}
	name := card.Name
	if name == "" {
		name = "tool"
	}
	header := fmt.Sprintf("**%s** (full output)\n```\n", name)
	const footer = "\n```"
	chunkSize := limit - len(header) - len(footer)
	if chunkSize <= 0 {
		return nil
	}
	var fragments []string
	remaining := card.Output
	for len(remaining) > 0 {
		end := chunkSize
		if end > len(remaining) {
			end = len(remaining)
		}
		for end < len(remaining) && !utf8.RuneStart(remaining[end]) {
			end--
		}
		fragments = append(fragments, header+remaining[:end]+footer)
		remaining = remaining[end:]
	}
	return fragments
}
