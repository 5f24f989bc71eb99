// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat transcripts and messages.
//
// # Key Types
//
//   - Message: Single transcript entry with role, content and streaming flags
//   - Transcript: Ordered, mutex-guarded list of messages
//   - Update: A mutation a stream emits for the message it targets
//   - Role: Message role enumeration (user, assistant, system)
//
// # Usage
//
// A stream never touches a Transcript directly. It emits Updates that the
// owner applies:
//
//	t := model.NewTranscript(model.NewUserMessage("Hello"))
//	idx := t.Append(model.NewAssistantPlaceholder())
//	_ = t.Apply(model.Update{Kind: model.UpdateDelta, Index: idx, Delta: "Hi"})
package model
