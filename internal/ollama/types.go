// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"maps"

	"github.com/ollama/ollama/api"

	"github.com/jeranaias/s6zchat/internal/model"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// MergeOptions layers override on top of base. Either may be nil. The result
// is nil when both are empty so it is omitted from the request body.
func MergeOptions(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(override))
	maps.Copy(out, base)
	maps.Copy(out, override)
	return out
}

// ToAPIMessages converts transcript messages to request messages. Only role
// and content are sent.
func ToAPIMessages(msgs []model.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, api.Message{
			Role:    m.Role.String(),
			Content: m.Content,
		})
	}
	return out
}

// NewChatRequest builds a chat request for history. An empty modelName uses
// the client default.
func NewChatRequest(modelName string, history []model.Message, options map[string]any) *api.ChatRequest {
	return &api.ChatRequest{
		Model:    modelName,
		Messages: ToAPIMessages(history),
		Options:  options,
	}
}
