// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/jeranaias/s6zchat/internal/cloud"
	"github.com/jeranaias/s6zchat/internal/model"
	"github.com/jeranaias/s6zchat/internal/ollama"
	"github.com/jeranaias/s6zchat/internal/stream"
)

// Dispatch errors.
var (
	// ErrNoTarget is returned when the transcript does not end with the
	// assistant message to stream into.
	ErrNoTarget = errors.New("transcript must end with an assistant message")

	// ErrNoOllamaClient is returned when the Ollama backend is used on a
	// dispatcher built without an Ollama client.
	ErrNoOllamaClient = errors.New("Ollama client is not configured")
)

// =============================================================================
// DISPATCHER
// =============================================================================

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Merger is used for Ollama streams. Nil means the window merger.
	Merger stream.Merger
	// HaltOnMalformed ends an Ollama stream on its first malformed frame.
	HaltOnMalformed bool
	// OllamaOptions are per-call inference options. They are layered over
	// the client's default options.
	OllamaOptions map[string]any
	// ChunkSize is the Ollama body read size. Zero means the default.
	ChunkSize int
	// Logger is handed to every driver. Nil means the global logger.
	Logger *zerolog.Logger
}

// Dispatcher selects a backend for each request, opens it, and runs the
// response through a stream driver.
type Dispatcher struct {
	ollama *ollama.Client
	openai *cloud.Client
	opts   DispatcherOptions
}

// NewDispatcher creates a dispatcher. Either client may be nil; requests for
// that backend then fail before any I/O.
func NewDispatcher(ollamaClient *ollama.Client, openaiClient *cloud.Client, opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		ollama: ollamaClient,
		openai: openaiClient,
		opts:   opts,
	}
}

// FetchAndDecode streams a response for transcript from the named backend
// into sink.
//
// The last transcript message is the assistant message being streamed into;
// every earlier message is sent as history. An unknown backend name, missing
// credentials, or a malformed transcript fail before any network call and
// without touching the processing flag. A request that cannot be opened is
// returned as an error after the driver has raised and cleared the flag.
// Failures after the stream starts are reported in the Outcome only.
func (d *Dispatcher) FetchAndDecode(ctx context.Context, transcript []model.Message, backendName string, sink stream.Sink) (stream.Outcome, error) {
	backend, err := ParseBackend(backendName)
	if err != nil {
		return stream.Outcome{}, err
	}
	return d.Fetch(ctx, transcript, backend, sink)
}

// Fetch is FetchAndDecode for an already parsed backend.
func (d *Dispatcher) Fetch(ctx context.Context, transcript []model.Message, backend Backend, sink stream.Sink) (stream.Outcome, error) {
	if backend == nil {
		return stream.Outcome{}, &UnsupportedBackendError{}
	}

	n := len(transcript)
	if n == 0 || transcript[n-1].Role != model.RoleAssistant {
		return stream.Outcome{}, ErrNoTarget
	}
	if err := d.Ready(backend); err != nil {
		return stream.Outcome{}, err
	}

	target := transcript[n-1]
	drv := stream.NewDriver(sink, stream.Options{
		Index:           n - 1,
		Seed:            target.Content,
		Merger:          d.opts.Merger,
		HaltOnMalformed: d.opts.HaltOnMalformed,
		Logger:          d.opts.Logger,
	})

	history := make([]model.Message, n-1)
	copy(history, transcript[:n-1])
	return backend.fetch(ctx, d, history, drv)
}

// Ready reports whether backend can be used without making a request.
func (d *Dispatcher) Ready(backend Backend) error {
	if backend == nil {
		return &UnsupportedBackendError{}
	}
	return backend.preflight(d)
}

// Ollama returns the Ollama client, which may be nil.
func (d *Dispatcher) Ollama() *ollama.Client {
	return d.ollama
}

// OpenAI returns the OpenAI client, which may be nil.
func (d *Dispatcher) OpenAI() *cloud.Client {
	return d.openai
}
