// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/jeranaias/s6zchat/internal/chat"
	"github.com/jeranaias/s6zchat/internal/cloud"
	"github.com/jeranaias/s6zchat/internal/config"
	"github.com/jeranaias/s6zchat/internal/ollama"
	"github.com/jeranaias/s6zchat/internal/storage"
	"github.com/jeranaias/s6zchat/internal/stream"
)

// =============================================================================
// CLIENT WIRING
// =============================================================================

// newOllamaClient builds the Ollama client from cfg.
func newOllamaClient(cfg *config.Config) *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:        cfg.Ollama.BaseURL,
		Timeout:        time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
		DefaultModel:   cfg.Ollama.Model,
		DefaultOptions: cfg.Ollama.Options,
	})
}

// newOpenAIClient builds the OpenAI client from cfg. A client without a key
// is still returned; it fails before any request is made.
func newOpenAIClient(cfg *config.Config) *cloud.Client {
	return cloud.NewClient(cfg.OpenAI.APIKey).
		WithBaseURL(cfg.OpenAI.BaseURL).
		WithModel(cfg.OpenAI.Model).
		WithAPI(cfg.OpenAI.API)
}

// newDispatcher builds a dispatcher with both backends configured.
func newDispatcher(cfg *config.Config) (*chat.Dispatcher, error) {
	merger, err := stream.NewMerger(cfg.Stream.Merger, cfg.Stream.Window)
	if err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	return chat.NewDispatcher(newOllamaClient(cfg), newOpenAIClient(cfg), chat.DispatcherOptions{
		Merger:          merger,
		HaltOnMalformed: cfg.Stream.HaltOnMalformed,
	}), nil
}

// openStore opens the chat history database.
func openStore(cfg *config.Config) (*storage.ChatStore, error) {
	path := cfg.Storage.Path
	if path == "" {
		var err error
		path, err = storage.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	store, err := storage.Open(path)
	if err != nil {
		return nil, WrapError(err, "failed to open chat history")
	}
	return store, nil
}

// conversationOptions maps cfg onto a conversation for backend.
func conversationOptions(cfg *config.Config, d *chat.Dispatcher, backend string) chat.ConversationOptions {
	opts := chat.ConversationOptions{
		Backend:        backend,
		FlushInterval:  time.Duration(cfg.Storage.FlushIntervalMs) * time.Millisecond,
		GenerateTitles: cfg.App.GenerateTitles,
		TitleModel:     cfg.App.TitleModel,
		SystemPrompt:   cfg.App.SystemPrompt,
	}
	if c := d.Ollama(); c != nil {
		opts.Titles = c
	}
	return opts
}
