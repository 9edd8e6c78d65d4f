// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"time"

	acpsdk "github.com/coder/acp-go-sdk"

	"github.com/parley-foundation/parley/backend"
)

// translateUpdate maps one protocol session update onto normalized
// events. Update variants without a conversational meaning (plans,
// command lists, mode changes, echoes of our own prompt) translate to
// nothing.
func translateUpdate(update acpsdk.SessionUpdate, now time.Time) []backend.Event {
	switch {
	case update.AgentMessageChunk != nil:
		if text := contentText(update.AgentMessageChunk.Content); text != "" {
			return []backend.Event{{Kind: backend.TextDelta, Text: text, Time: now}}
		}

	case update.AgentThoughtChunk != nil:
		if text := contentText(update.AgentThoughtChunk.Content); text != "" {
			return []backend.Event{{Kind: backend.ReasoningDelta, Text: text, Time: now}}
		}

	case update.ToolCall != nil:
		call := update.ToolCall
		toolID := string(call.ToolCallId)
		if toolID == "" {
			return nil
		}
		events := []backend.Event{{
			Kind:     backend.ToolStarted,
			ToolID:   toolID,
			ToolName: call.Title,
			Time:     now,
		}}
		if output := toolContentText(call.Content); output != "" {
			events = append(events, backend.Event{
				Kind: backend.ToolProgress, ToolID: toolID, Text: output, Time: now,
			})
		}
		if terminal := terminalToolEvent(toolID, call.Title, string(call.Status), now); terminal != nil {
			events = append(events, *terminal)
		}
		return events

	case update.ToolCallUpdate != nil:
		change := update.ToolCallUpdate
		toolID := string(change.ToolCallId)
		if toolID == "" {
			return nil
		}
		name := ""
		if change.Title != nil {
			name = *change.Title
		}
		var events []backend.Event
		if output := toolContentText(change.Content); output != "" {
			events = append(events, backend.Event{
				Kind: backend.ToolProgress, ToolID: toolID, ToolName: name, Text: output, Time: now,
			})
		}
		status := ""
		if change.Status != nil {
			status = string(*change.Status)
		}
		if terminal := terminalToolEvent(toolID, name, status, now); terminal != nil {
			events = append(events, *terminal)
		}
		return events
	}
	return nil
}

func terminalToolEvent(toolID, name, status string, now time.Time) *backend.Event {
	switch status {
	case "completed":
		return &backend.Event{Kind: backend.ToolFinished, ToolID: toolID, ToolName: name, Time: now}
	case "failed":
		return &backend.Event{Kind: backend.ToolFinished, ToolID: toolID, ToolName: name, ToolFailed: true, Time: now}
	}
	return nil
}

// contentText extracts plain text from a content block. Other block
// variants (images, resources) have no text rendering here.
func contentText(block acpsdk.ContentBlock) string {
	if block.Text != nil {
		return block.Text.Text
	}
	return ""
}

func toolContentText(contents []acpsdk.ToolCallContent) string {
	var out string
	for _, content := range contents {
		if content.Content == nil {
			continue
		}
		out += contentText(content.Content.Content)
	}
	return out
}
