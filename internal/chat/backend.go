// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"strings"

	"github.com/jeranaias/s6zchat/internal/cloud"
	"github.com/jeranaias/s6zchat/internal/model"
	"github.com/jeranaias/s6zchat/internal/ollama"
	"github.com/jeranaias/s6zchat/internal/stream"
)

// =============================================================================
// BACKENDS
// =============================================================================

// Backend is one of the supported chat backends: OpenAI or Ollama.
// The set is closed; values can only come from this package.
type Backend interface {
	// Name is the display name, also accepted by ParseBackend.
	Name() string
	// ModelID is the model this backend maps to for title requests.
	ModelID() string

	// preflight checks everything that can fail without I/O.
	preflight(d *Dispatcher) error
	// fetch opens the request and runs it through drv. The error is the
	// request setup error, if any.
	fetch(ctx context.Context, d *Dispatcher, history []model.Message, drv *stream.Driver) (stream.Outcome, error)
}

// OpenAI streams structured events from the OpenAI API.
type OpenAI struct{}

// Ollama streams newline-delimited JSON from a local Ollama server.
type Ollama struct{}

// Backend display names.
const (
	NameOpenAI = "Open AI"
	NameOllama = "Ollama"
)

// Backends lists every backend in display order.
func Backends() []Backend {
	return []Backend{OpenAI{}, Ollama{}}
}

// BackendNames returns the display names of every backend.
func BackendNames() []string {
	names := make([]string, 0, 2)
	for _, b := range Backends() {
		names = append(names, b.Name())
	}
	return names
}

// UnsupportedBackendError is returned for a backend name that is not one of
// BackendNames.
type UnsupportedBackendError struct {
	Name string
}

func (e *UnsupportedBackendError) Error() string {
	return "Unsupported model: " + e.Name + ". Supported models are: " + strings.Join(BackendNames(), ", ")
}

// ParseBackend resolves a display name to its Backend. Matching is exact.
func ParseBackend(name string) (Backend, error) {
	for _, b := range Backends() {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, &UnsupportedBackendError{Name: name}
}

// =============================================================================
// OPENAI
// =============================================================================

func (OpenAI) Name() string    { return NameOpenAI }
func (OpenAI) ModelID() string { return cloud.DefaultModel }

func (OpenAI) preflight(d *Dispatcher) error {
	if d.openai == nil || !d.openai.IsConfigured() {
		return cloud.ErrNotConfigured
	}
	return nil
}

func (OpenAI) fetch(ctx context.Context, d *Dispatcher, history []model.Message, drv *stream.Driver) (stream.Outcome, error) {
	var (
		src      eventStream
		setupErr error
	)

	// The request is opened on the first read; a setup failure ends the run
	// like any other read error.
	events := stream.EventSourceFunc(func(ctx context.Context) (stream.Event, error) {
		if src == nil {
			if setupErr != nil {
				return stream.Event{}, setupErr
			}
			var err error
			if d.openai.API() == cloud.APIChatCompletions {
				src, err = d.openai.OpenChatCompletions(ctx, history)
			} else {
				src, err = d.openai.OpenResponses(ctx, cloud.NewResponsesRequest("", history))
			}
			if err != nil {
				src = nil
				setupErr = err
				return stream.Event{}, err
			}
		}
		return src.Next(ctx)
	})

	out := drv.RunEvents(ctx, events)
	if src != nil {
		src.Close()
	}
	return out, reportedSetupErr(out, setupErr)
}

// eventStream is implemented by both OpenAI stream types.
type eventStream interface {
	stream.EventSource
	io.Closer
}

// =============================================================================
// OLLAMA
// =============================================================================

func (Ollama) Name() string    { return NameOllama }
func (Ollama) ModelID() string { return ollama.DefaultModel }

func (Ollama) preflight(d *Dispatcher) error {
	if d.ollama == nil {
		return ErrNoOllamaClient
	}
	return nil
}

func (Ollama) fetch(ctx context.Context, d *Dispatcher, history []model.Message, drv *stream.Driver) (stream.Outcome, error) {
	var (
		body     io.ReadCloser
		reader   *stream.ReaderSource
		setupErr error
	)

	req := ollama.NewChatRequest("", history, d.opts.OllamaOptions)
	chunks := stream.ByteSourceFunc(func(ctx context.Context) ([]byte, error) {
		if reader == nil {
			if setupErr != nil {
				return nil, setupErr
			}
			b, err := d.ollama.OpenChat(ctx, req)
			if err != nil {
				setupErr = err
				return nil, err
			}
			body = b
			reader = stream.NewReaderSource(b, d.opts.ChunkSize)
		}
		return reader.Read(ctx)
	})

	out := drv.RunFrames(ctx, chunks)
	if body != nil {
		body.Close()
	}
	return out, reportedSetupErr(out, setupErr)
}

// reportedSetupErr returns the setup error unless the run ended some other
// way, such as cancellation.
func reportedSetupErr(out stream.Outcome, setupErr error) error {
	if setupErr != nil && out.State == stream.StateErrored {
		return setupErr
	}
	return nil
}
