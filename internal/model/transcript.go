// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"sync"
)

// =============================================================================
// UPDATES
// =============================================================================

// UpdateKind tells the host what an Update does to its target message.
type UpdateKind int

const (
	// UpdateDelta appends Delta to the target message and clears IsLoading.
	UpdateDelta UpdateKind = iota
	// UpdateFinish clears IsLoading and IsStreaming on the target message.
	UpdateFinish
)

// String returns the update kind name.
func (k UpdateKind) String() string {
	switch k {
	case UpdateDelta:
		return "delta"
	case UpdateFinish:
		return "finish"
	default:
		return fmt.Sprintf("UpdateKind(%d)", int(k))
	}
}

// Update is a single mutation emitted by a stream for the message at Index.
// Hosts apply updates to their own state in the order they are received.
type Update struct {
	Kind  UpdateKind
	Index int
	Delta string
}

// ApplyTo applies u to msg in place.
func (u Update) ApplyTo(msg *Message) {
	switch u.Kind {
	case UpdateDelta:
		msg.Content += u.Delta
		msg.IsLoading = false
	case UpdateFinish:
		msg.IsLoading = false
		msg.IsStreaming = false
	}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript errors.
var (
	ErrIndexOutOfRange  = errors.New("update index out of range")
	ErrImmutableMessage = errors.New("only the last message of a transcript can be updated")
)

// Transcript is an ordered, concurrency-safe list of messages.
//
// Only the last message may be mutated. Every earlier message is frozen once
// another message has been appended after it.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// NewTranscript creates a transcript seeded with msgs.
func NewTranscript(msgs ...Message) *Transcript {
	t := &Transcript{}
	t.messages = append(t.messages, msgs...)
	return t
}

// Append adds a message to the end and returns its index.
func (t *Transcript) Append(msg Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
	return len(t.messages) - 1
}

// Apply applies an update emitted by a stream.
func (t *Transcript) Apply(u Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u.Index < 0 || u.Index >= len(t.messages) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, u.Index, len(t.messages))
	}
	if u.Index != len(t.messages)-1 {
		return ErrImmutableMessage
	}
	u.ApplyTo(&t.messages[u.Index])
	return nil
}

// Snapshot returns a copy of all messages.
func (t *Transcript) Snapshot() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns a copy of the last message.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// FirstUserMessage returns the content of the first user message, if any.
func (t *Transcript) FirstUserMessage() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.messages {
		if msg.Role == RoleUser {
			return msg.Content, true
		}
	}
	return "", false
}

// Reset drops every message.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
