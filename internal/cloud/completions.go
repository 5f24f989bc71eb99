// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/s6zchat/internal/model"
	"github.com/jeranaias/s6zchat/internal/stream"
)

// =============================================================================
// CHAT COMPLETIONS STREAM
// =============================================================================

// CompletionStream adapts a go-openai chat completion stream to
// stream.EventSource. Each chunk becomes a choices-shaped event.
type CompletionStream struct {
	stream *openai.ChatCompletionStream
}

// OpenChatCompletions starts a streaming chat completion for history.
func (c *Client) OpenChatCompletions(ctx context.Context, history []model.Message) (*CompletionStream, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	config := openai.DefaultConfig(c.apiKey)
	config.BaseURL = c.baseURL
	config.HTTPClient = c.streamClient
	client := openai.NewClientWithConfig(config)

	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role.String(),
			Content: m.Content,
		})
	}

	s, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, convertError(err)
	}
	return &CompletionStream{stream: s}, nil
}

// Next implements stream.EventSource.
func (s *CompletionStream) Next(ctx context.Context) (stream.Event, error) {
	if err := ctx.Err(); err != nil {
		return stream.Event{}, err
	}

	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stream.Event{}, io.EOF
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stream.Event{}, ctxErr
		}
		return stream.Event{}, convertError(err)
	}

	ev := stream.Event{Type: resp.Object}
	for _, choice := range resp.Choices {
		ev.Choices = append(ev.Choices, stream.EventChoice{
			Delta: stream.ChoiceDelta{Content: choice.Delta.Content},
		})
	}
	return ev, nil
}

// Close releases the underlying connection.
func (s *CompletionStream) Close() error {
	return s.stream.Close()
}

// convertError maps go-openai errors onto *APIError so callers see one error
// type for both APIs.
func convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		out := &APIError{
			Status:  apiErr.HTTPStatusCode,
			Type:    apiErr.Type,
			Message: apiErr.Message,
		}
		if code, ok := apiErr.Code.(string); ok {
			out.Code = code
		}
		return out
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := requestErrorMessage(reqErr)
		return &APIError{Status: reqErr.HTTPStatusCode, Message: msg}
	}
	return err
}

func requestErrorMessage(reqErr *openai.RequestError) string {
	if reqErr.Err != nil {
		return reqErr.Err.Error()
	}
	return reqErr.Error()
}
