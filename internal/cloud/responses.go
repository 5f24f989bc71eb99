// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/s6zchat/internal/model"
	"github.com/jeranaias/s6zchat/internal/stream"
)

// Responses API event types with special handling.
const (
	EventCompleted = "response.completed"
	EventFailed    = "response.failed"
	EventError     = "error"
)

// =============================================================================
// RESPONSES STREAM
// =============================================================================

// NewResponsesRequest builds a streaming request for history. Only role and
// content are sent.
func NewResponsesRequest(modelName string, history []model.Message) ResponsesRequest {
	input := make([]InputMessage, 0, len(history))
	for _, m := range history {
		input = append(input, InputMessage{Role: m.Role.String(), Content: m.Content})
	}
	return ResponsesRequest{Model: modelName, Input: input, Stream: true}
}

// OpenResponses starts a streaming POST /responses request. The returned
// stream yields one stream.Event per SSE event and must be closed.
func (c *Client) OpenResponses(ctx context.Context, req ResponsesRequest) (*EventStream, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = true

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	log.Debug().
		Str("model", req.Model).
		Int("input", len(req.Input)).
		Str("key", c.APIKeyMasked()).
		Msg("Opening OpenAI responses stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	return &EventStream{body: resp.Body, reader: NewSSEReader(resp.Body)}, nil
}

// EventStream reads structured events from a Responses API SSE body.
// It implements stream.EventSource.
type EventStream struct {
	body   io.ReadCloser
	reader *SSEReader
	done   bool
}

// NewEventStream wraps an SSE body.
func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{body: body, reader: NewSSEReader(body)}
}

// responsesEvent is the subset of a Responses API event this package reads
// beyond what stream.Event carries.
type responsesEvent struct {
	stream.Event
	Message  string        `json:"message"`
	Code     *string       `json:"code"`
	Error    *apiErrorBody `json:"error"`
	Response *struct {
		Error *apiErrorBody `json:"error"`
	} `json:"response"`
}

// Next returns the next event. It returns io.EOF after [DONE] or
// response.completed, and an *APIError for error events.
func (s *EventStream) Next(ctx context.Context) (stream.Event, error) {
	for {
		if s.done {
			return stream.Event{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return stream.Event{}, err
		}

		eventType, data, err := s.reader.ReadEvent()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stream.Event{}, ctxErr
			}
			if errors.Is(err, io.EOF) {
				s.done = true
			}
			return stream.Event{}, err
		}

		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			s.done = true
			return stream.Event{}, io.EOF
		}

		var ev responsesEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Str("event", eventType).Msg("Skipping malformed SSE event")
			continue
		}
		if ev.Type == "" {
			ev.Type = eventType
		}

		switch ev.Type {
		case EventCompleted:
			s.done = true
			return stream.Event{}, io.EOF
		case EventError, EventFailed:
			s.done = true
			return stream.Event{}, ev.apiError()
		}

		return ev.Event, nil
	}
}

// apiError extracts the error carried by an error or response.failed event.
func (ev *responsesEvent) apiError() error {
	body := ev.Error
	if body == nil && ev.Response != nil {
		body = ev.Response.Error
	}
	if body != nil {
		return &APIError{Type: body.Type, Code: body.code(), Message: body.Message}
	}

	apiErr := &APIError{Type: ev.Type, Message: ev.Message}
	if ev.Code != nil {
		apiErr.Code = *ev.Code
	}
	if apiErr.Message == "" {
		apiErr.Message = "stream reported " + ev.Type
	}
	return apiErr
}

// Close releases the underlying connection.
func (s *EventStream) Close() error {
	s.done = true
	return s.body.Close()
}
