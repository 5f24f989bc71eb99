// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches any ClientError of the same type, so the sentinels below work
// with errors.Is.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Type == e.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeCancelled
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning      = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout         = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrCancelled       = &ClientError{Type: ErrTypeCancelled, Message: "request cancelled"}
	ErrModelNotFound   = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrInvalidResponse = &ClientError{Type: ErrTypeInvalidResponse, Message: "invalid response"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

const (
	// DefaultBaseURL is where a local Ollama listens.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is used when a request does not name a model.
	DefaultModel = "gemma3:latest"
)

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 60s). Streaming requests
	// are bounded by their context only.
	Timeout time.Duration

	// DefaultModel to use if none specified (default: "gemma3:latest")
	DefaultModel string

	// DefaultOptions are inference options sent with every chat request.
	// Options set on a request take precedence.
	DefaultOptions map[string]any
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      DefaultBaseURL,
		Timeout:      60 * time.Second,
		DefaultModel: DefaultModel,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
//
// Example:
//
//	client := ollama.NewClient()
//	body, err := client.OpenChat(ctx, &api.ChatRequest{Messages: msgs})
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	api          *api.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultModel
	}

	httpClient := &http.Client{Timeout: config.Timeout}

	base, err := url.Parse(config.BaseURL)
	if err != nil {
		log.Warn().Err(err).Str("base_url", config.BaseURL).Msg("Invalid Ollama base URL, using default")
		base, _ = url.Parse(DefaultBaseURL)
		config.BaseURL = DefaultBaseURL
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		// Streaming responses can run far longer than any fixed timeout.
		streamClient: &http.Client{},
		api:          api.NewClient(base, httpClient),
	}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return classify(ctx, err, ErrNotRunning)
	}
	return nil
}

// Version returns the version reported by the server.
func (c *Client) Version(ctx context.Context) (string, error) {
	v, err := c.api.Version(ctx)
	if err != nil {
		return "", classify(ctx, err, ErrNotRunning)
	}
	return v, nil
}

// ListModels returns the names of the locally available models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, classify(ctx, err, ErrNotRunning)
	}

	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// OpenChat starts a streaming /api/chat request and returns the raw
// newline-delimited JSON body. The caller must close it. Cancelling ctx
// aborts the transfer; reads then fail with an error matching
// context.Canceled.
//
// A zero Model falls back to the configured default, Stream is always
// enabled, and DefaultOptions are merged under the request's own options.
func (c *Client) OpenChat(ctx context.Context, req *api.ChatRequest) (io.ReadCloser, error) {
	if req == nil {
		req = &api.ChatRequest{}
	}

	out := *req
	if out.Model == "" {
		out.Model = c.config.DefaultModel
	}
	stream := true
	out.Stream = &stream
	out.Options = MergeOptions(c.config.DefaultOptions, req.Options)

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	log.Debug().
		Str("model", out.Model).
		Int("messages", len(out.Messages)).
		Msg("Opening Ollama chat stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err, ErrNotRunning)
	}

	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, statusError(resp, out.Model)
	}

	return resp.Body, nil
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate runs a non-streaming /api/generate request and returns the
// response text.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = c.config.DefaultModel
	}

	stream := false
	req := &api.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: MergeOptions(c.config.DefaultOptions, nil),
	}

	var sb strings.Builder
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", classifyAPI(ctx, err, model)
	}

	return sb.String(), nil
}

// =============================================================================
// UTILITY METHODS
// =============================================================================

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}

// GetDefaultModel returns the current default model.
func (c *Client) GetDefaultModel() string {
	return c.config.DefaultModel
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// classify wraps a transport error, keeping the cause so context errors stay
// visible to errors.Is.
func classify(ctx context.Context, err error, fallback *ClientError) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &ClientError{Type: ErrTypeCancelled, Message: ErrCancelled.Message, Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	default:
		return &ClientError{Type: fallback.Type, Message: fallback.Message, Cause: err}
	}
}

// classifyAPI maps errors returned by the api package. Transport failures
// mean the server is unreachable; anything else came back from the server.
func classifyAPI(ctx context.Context, err error, model string) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return &ClientError{Type: ErrTypeModelNotFound, Message: "model not found: " + model, Cause: err}
		}
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "request failed", Cause: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || ctx.Err() != nil {
		return classify(ctx, err, ErrNotRunning)
	}
	if strings.Contains(err.Error(), "not found") {
		return &ClientError{Type: ErrTypeModelNotFound, Message: "model not found: " + model, Cause: err}
	}
	return &ClientError{Type: ErrTypeInvalidResponse, Message: "request failed", Cause: err}
}

// statusError builds the error for a non-200 response.
func statusError(resp *http.Response, model string) error {
	var ollamaErr OllamaError
	detail := ""
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&ollamaErr); err == nil {
		detail = ollamaErr.Error
	}

	if resp.StatusCode == http.StatusNotFound {
		msg := "model not found: " + model
		if detail != "" {
			msg = detail
		}
		return &ClientError{Type: ErrTypeModelNotFound, Message: msg}
	}

	if detail != "" {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: detail}
	}
	return &ClientError{
		Type:    ErrTypeInvalidResponse,
		Message: "chat request failed: " + resp.Status,
	}
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}
