// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// NDJSON FRAME DECODING
// =============================================================================

// chatFrame is the subset of an Ollama /api/chat line the decoder reads.
type chatFrame struct {
	Message *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

// DecodeFrame extracts the content delta from one newline-delimited JSON
// frame.
//
// Blank frames and frames without message content (such as the final done
// frame) return an empty delta and a nil error. Content that is not a JSON
// string carries no text and is ignored the same way. A frame that is not
// valid JSON returns a *FrameError. A frame reporting a backend failure
// returns a *BackendError.
func DecodeFrame(frame string) (string, error) {
	trimmed := strings.TrimSpace(frame)
	if trimmed == "" {
		return "", nil
	}

	var f chatFrame
	if err := json.Unmarshal([]byte(trimmed), &f); err != nil {
		return "", &FrameError{Frame: frame, Err: err}
	}

	if f.Error != "" {
		return "", &BackendError{Message: f.Error}
	}

	if f.Message == nil || len(f.Message.Content) == 0 || f.Message.Content[0] != '"' {
		return "", nil
	}
	var content string
	if err := json.Unmarshal(f.Message.Content, &content); err != nil {
		return "", &FrameError{Frame: frame, Err: err}
	}
	return content, nil
}
