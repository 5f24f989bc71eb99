// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
)

// =============================================================================
// STRUCTURED EVENTS
// =============================================================================

// Event is one pre-parsed item from a structured streaming API. Two content
// shapes are recognised: chat-completions style choices, and responses style
// events whose delta is a plain string. Everything else is metadata.
type Event struct {
	Type    string          `json:"type,omitempty"`
	Choices []EventChoice   `json:"choices,omitempty"`
	Delta   json.RawMessage `json:"delta,omitempty"`
}

// EventChoice is a single entry of Event.Choices.
type EventChoice struct {
	Delta ChoiceDelta `json:"delta"`
}

// ChoiceDelta carries the incremental content of a choice.
type ChoiceDelta struct {
	Content string `json:"content,omitempty"`
}

// ChoiceEvent builds a chat-completions style event carrying content.
func ChoiceEvent(content string) Event {
	return Event{Choices: []EventChoice{{Delta: ChoiceDelta{Content: content}}}}
}

// TextEvent builds a responses style event whose delta is the string text.
func TextEvent(eventType, text string) Event {
	raw, _ := json.Marshal(text) // marshalling a string cannot fail
	return Event{Type: eventType, Delta: raw}
}

// DecodeEvent returns the text content of an event. The choices shape takes
// priority over a string delta. ok is false for events without content.
func DecodeEvent(ev Event) (content string, ok bool) {
	if len(ev.Choices) > 0 && ev.Choices[0].Delta.Content != "" {
		return ev.Choices[0].Delta.Content, true
	}

	raw := bytes.TrimSpace(ev.Delta)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil || text == "" {
		return "", false
	}
	return text, true
}
