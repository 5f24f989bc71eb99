// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// FallbackTitleLength is the rune length of a title taken from the first
// user message.
const FallbackTitleLength = 50

const titlePrompt = "Generate a short and descriptive title for a conversation based on this user's message:\n\n" +
	"User: \"%s\"\n\n" +
	"The title should be concise (3 to 6 words), clearly describe the topic, and avoid punctuation.\n\n" +
	"Title:"

// =============================================================================
// TITLE GENERATION
// =============================================================================

// TitleRequest is a non-streaming generate request for a chat title.
type TitleRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Generator produces a completion for a prompt. *ollama.Client implements it.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// TitleOptions builds the title request for the first user message of a
// chat on the named backend.
func TitleOptions(userMsg, backendName string) (TitleRequest, error) {
	backend, err := ParseBackend(backendName)
	if err != nil {
		return TitleRequest{}, err
	}
	return TitleRequest{
		Model:  backend.ModelID(),
		Prompt: fmt.Sprintf(titlePrompt, userMsg),
		Stream: false,
	}, nil
}

// GenerateTitle asks gen for a title and falls back to the start of userMsg
// when generation fails or returns nothing. modelOverride replaces the
// backend's model when set.
func GenerateTitle(ctx context.Context, gen Generator, userMsg, backendName, modelOverride string) string {
	fallback := FallbackTitle(userMsg)
	if gen == nil {
		return fallback
	}

	req, err := TitleOptions(userMsg, backendName)
	if err != nil {
		return fallback
	}
	if modelOverride != "" {
		req.Model = modelOverride
	}

	title, err := gen.Generate(ctx, req.Model, req.Prompt)
	if err != nil {
		log.Warn().Err(err).Str("model", req.Model).Msg("Title generation failed, using first message")
		return fallback
	}

	title = cleanTitle(title)
	if title == "" {
		return fallback
	}
	return title
}

// FallbackTitle returns the first line-joined FallbackTitleLength runes of
// msg.
func FallbackTitle(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	runes := []rune(msg)
	if len(runes) > FallbackTitleLength {
		return string(runes[:FallbackTitleLength])
	}
	return msg
}

// cleanTitle trims whitespace, a "Title:" echo, and wrapping quotes.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if line, _, ok := strings.Cut(s, "\n"); ok {
		s = strings.TrimSpace(line)
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "Title:"))
	s = strings.Trim(s, "\"'*`")
	return strings.TrimSpace(s)
}
