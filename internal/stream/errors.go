// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrDriverUsed is returned when a Driver is run a second time.
	ErrDriverUsed = errors.New("stream driver already used")

	// ErrFrameTooLarge is returned when an unterminated frame exceeds the
	// frame buffer's size limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrPanic wraps a panic recovered while decoding a stream.
	ErrPanic = errors.New("panic while decoding stream")
)

// maxFrameInError bounds how much of a bad frame ends up in error messages.
const maxFrameInError = 120

// FrameError reports a frame that could not be parsed.
type FrameError struct {
	Frame string
	Err   error
}

func (e *FrameError) Error() string {
	frame := e.Frame
	if len(frame) > maxFrameInError {
		frame = frame[:maxFrameInError] + "..."
	}
	return fmt.Sprintf("malformed frame %q: %v", frame, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// BackendError is a failure reported by the backend inside the stream.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return "backend error: " + e.Message
}
