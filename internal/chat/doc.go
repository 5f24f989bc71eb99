// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat connects a transcript to a backend and streams the response
// back into it.
//
// A Dispatcher picks the Ollama or OpenAI transport, opens the request, and
// runs the body through a stream.Driver. A Conversation adds the turn around
// that: the user message, the assistant placeholder, throttled saves while
// streaming, and the title for a new chat.
//
// # Key Types
//
//   - Backend: One of the two supported backends ("Open AI", "Ollama")
//   - Dispatcher: Opens requests and decodes their streams
//   - Conversation: A chat transcript with persistence
//   - Store: Where conversations are saved
//
// # Usage
//
// Stream into a transcript directly:
//
//	d := chat.NewDispatcher(ollamaClient, openaiClient, chat.DispatcherOptions{})
//	out, err := d.FetchAndDecode(ctx, messages, chat.NameOllama, sink)
//
// Run turns:
//
//	conv, err := chat.NewConversation(d, store, chat.ConversationOptions{
//	    Backend:        chat.NameOllama,
//	    GenerateTitles: true,
//	    Titles:         ollamaClient,
//	})
//	out, err := conv.Send(ctx, "Why is the sky blue?", func(delta string) {
//	    fmt.Print(delta)
//	})
package chat
