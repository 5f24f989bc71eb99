// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxEventSize is the maximum allowed size for a single SSE event (1MB).
const MaxEventSize = 1024 * 1024

// ErrEventTooLarge is returned when an event exceeds MaxEventSize.
var ErrEventTooLarge = errors.New("SSE event too large")

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error.
// Multiple data lines are joined with "\n".
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var data []byte
	hasData := false

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			if errors.Is(err, io.EOF) && hasData {
				// Stream ended without a blank line; deliver what we have.
				return eventType, data, nil
			}
			return "", nil, err
		}

		// Trim trailing newline and carriage return
		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if hasData {
				return eventType, data, nil
			}
			eventType = ""
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		// A single leading space after the colon is not part of the value.
		value = bytes.TrimPrefix(value, []byte(" "))

		switch string(field) {
		case "event":
			eventType = string(value)
		case "data":
			if hasData {
				data = append(data, '\n')
			}
			data = append(data, value...)
			hasData = true
			if len(data) > MaxEventSize {
				return "", nil, fmt.Errorf("%w: %d bytes", ErrEventTooLarge, len(data))
			}
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}
