// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"io"
)

// =============================================================================
// SOURCES
// =============================================================================

// ByteSource yields raw chunks of a newline-delimited stream. Read returns
// io.EOF once the stream is exhausted. A chunk and an error are never
// returned together.
type ByteSource interface {
	Read(ctx context.Context) ([]byte, error)
}

// EventSource yields pre-parsed events. Next returns io.EOF once the stream
// is exhausted.
type EventSource interface {
	Next(ctx context.Context) (Event, error)
}

// ByteSourceFunc adapts a function to ByteSource.
type ByteSourceFunc func(ctx context.Context) ([]byte, error)

// Read implements ByteSource.
func (f ByteSourceFunc) Read(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// EventSourceFunc adapts a function to EventSource.
type EventSourceFunc func(ctx context.Context) (Event, error)

// Next implements EventSource.
func (f EventSourceFunc) Next(ctx context.Context) (Event, error) {
	return f(ctx)
}

// DefaultChunkSize is the read size used by ReaderSource.
const DefaultChunkSize = 4096

// ReaderSource reads chunks from an io.Reader such as an HTTP response body.
// Cancellation relies on the reader being tied to the context, as request
// bodies are; a read that fails after the context is done reports the
// context error.
type ReaderSource struct {
	r       io.Reader
	buf     []byte
	pending error
}

// NewReaderSource creates a source that reads up to chunkSize bytes at a time.
func NewReaderSource(r io.Reader, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReaderSource{r: r, buf: make([]byte, chunkSize)}
}

// Read implements ByteSource.
func (s *ReaderSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pending != nil {
		return nil, s.pending
	}

	for {
		n, err := s.r.Read(s.buf)
		if err != nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if n > 0 {
			s.pending = err
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
		if err != nil {
			s.pending = err
			return nil, err
		}
		// n == 0 with no error: try again.
	}
}
