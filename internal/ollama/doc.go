// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// Chat responses are not decoded here. OpenChat hands back the raw
// newline-delimited JSON body so the stream package can reassemble and merge
// frames itself. Request types come from github.com/ollama/ollama/api.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ClientConfig: Base URL, timeouts, default model and inference options
//   - ClientError: Typed error with a preserved cause
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL: "http://localhost:11434",
//	})
//	body, err := client.OpenChat(ctx, ollama.NewChatRequest("", history, nil))
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
//	out := driver.RunFrames(ctx, stream.NewReaderSource(body, 0))
//
// Titles and other one-shot prompts use Generate:
//
//	title, err := client.Generate(ctx, "gemma3:latest", prompt)
package ollama
