// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides OpenAI integration for streaming chat responses.
//
// Two streaming APIs are supported. The Responses API is read directly over
// Server-Sent Events; the Chat Completions API goes through go-openai. Both
// surface their output as stream.EventSource so the stream driver treats
// them identically.
//
// # Key Types
//
//   - Client: API key, base URL, model, and HTTP transport
//   - EventStream: Responses API event source
//   - CompletionStream: Chat Completions event source
//   - APIError: HTTP or in-stream error reported by OpenAI
//   - SSEReader: Server-Sent Events parser
//
// # Usage
//
// Open a Responses stream and drive it:
//
//	client := cloud.NewClient(apiKey).WithModel("gpt-4.1")
//	events, err := client.OpenResponses(ctx, cloud.NewResponsesRequest("", history))
//	if err != nil {
//	    return err
//	}
//	defer events.Close()
//	outcome := stream.NewDriver(sink, opts).RunEvents(ctx, events)
//
// # Security
//
// API keys are never logged. APIKeyMasked returns a length and a short
// fingerprint only.
package cloud
