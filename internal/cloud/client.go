// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for the OpenAI API.
const (
	// DefaultBaseURL is the base URL for the OpenAI API.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4.1"

	// DefaultTimeout bounds connection setup for streaming requests.
	DefaultTimeout = 60 * time.Second

	// MaxErrorBodySize limits how much of an error response is read.
	MaxErrorBodySize = 64 * 1024
)

// API flavours a Client can stream from.
const (
	APIResponses       = "responses"
	APIChatCompletions = "chat_completions"
)

// Error variables for common OpenAI errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("OpenAI API key is not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientQuota indicates the account has run out of quota.
	ErrInsufficientQuota = errors.New("insufficient quota")
)

// APIError represents an error reported by the OpenAI API, either as an HTTP
// error response or as an error event inside a stream.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("OpenAI API error (%d %s): %s", e.Status, e.Code, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("OpenAI API error (%d): %s", e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("OpenAI API error (%s): %s", e.Code, e.Message)
	default:
		return "OpenAI API error: " + e.Message
	}
}

// Is maps API errors onto the sentinel errors above.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Code == "invalid_api_key"
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests && e.Code != "insufficient_quota"
	case ErrInsufficientQuota:
		return e.Code == "insufficient_quota"
	case ErrModelNotFound:
		return e.Status == http.StatusNotFound || e.Code == "model_not_found"
	}
	return false
}

// apiErrorBody is the error object OpenAI returns.
type apiErrorBody struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
}

// code returns the error code, which OpenAI sends as a string or null.
func (b *apiErrorBody) code() string {
	var s string
	if err := json.Unmarshal(b.Code, &s); err == nil {
		return s
	}
	return ""
}

// apiErrorResponse wraps apiErrorBody in an HTTP error response.
type apiErrorResponse struct {
	Error *apiErrorBody `json:"error"`
}

// InputMessage is one entry of a Responses API input list.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponsesRequest is the body of a streaming POST /responses call.
type ResponsesRequest struct {
	Model  string         `json:"model"`
	Input  []InputMessage `json:"input"`
	Stream bool           `json:"stream"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the OpenAI streaming APIs.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	api          string
	timeout      time.Duration
	streamClient *http.Client
}

// NewClient creates a new OpenAI client with the given API key.
//
// If the API key is empty the client is still created, but every request
// fails with ErrNotConfigured before touching the network.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		api:     APIResponses,
		timeout: DefaultTimeout,
		streamClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: DefaultTimeout,
			},
			// No overall timeout for streaming - controlled via context
		},
	}
}

// WithBaseURL sets a custom base URL (for proxies or compatible servers).
func (c *Client) WithBaseURL(url string) *Client {
	if url != "" {
		c.baseURL = strings.TrimRight(url, "/")
	}
	return c
}

// WithModel sets the model used for requests.
func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// WithAPI selects the streaming API: APIResponses or APIChatCompletions.
func (c *Client) WithAPI(api string) *Client {
	if api != "" {
		c.api = api
	}
	return c
}

// WithHTTPClient replaces the HTTP client used for streaming.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.streamClient = hc
	}
	return c
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.model
}

// API returns the selected streaming API.
func (c *Client) API() string {
	return c.api
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// APIKeyMasked returns a masked version of the API key for display.
// No part of the key is shown; a short fingerprint identifies it instead.
func (c *Client) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.keyFingerprint())
}

func (c *Client) keyFingerprint() string {
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// setHeaders sets the required headers for OpenAI API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "s6zchat")
}

// handleErrorResponse converts an HTTP error response into an *APIError.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
		return &APIError{
			Status:  statusCode,
			Type:    apiErr.Error.Type,
			Code:    apiErr.Error.code(),
			Message: apiErr.Error.Message,
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &APIError{Status: statusCode, Message: msg}
}
