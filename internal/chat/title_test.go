// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/s6zchat/internal/cloud"
	"github.com/jeranaias/s6zchat/internal/ollama"
)

func TestTitleOptions(t *testing.T) {
	req, err := TitleOptions("How do I bake bread?", NameOllama)
	require.NoError(t, err)

	assert.Equal(t, ollama.DefaultModel, req.Model)
	assert.False(t, req.Stream)
	assert.Equal(t, "Generate a short and descriptive title for a conversation based on this user's message:\n\n"+
		"User: \"How do I bake bread?\"\n\n"+
		"The title should be concise (3 to 6 words), clearly describe the topic, and avoid punctuation.\n\n"+
		"Title:", req.Prompt)

	req, err = TitleOptions("x", NameOpenAI)
	require.NoError(t, err)
	assert.Equal(t, cloud.DefaultModel, req.Model)

	_, err = TitleOptions("x", "Nope")
	assert.EqualError(t, err, "Unsupported model: Nope. Supported models are: Open AI, Ollama")

	body, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"gpt-4.1","prompt":`+quote(req.Prompt)+`,"stream":false}`, string(body))
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Baking Sourdough Bread", "Baking Sourdough Bread"},
		{"  \"Baking Bread\"  ", "Baking Bread"},
		{"Title: Baking Bread", "Baking Bread"},
		{"**Baking Bread**\nThis title describes...", "Baking Bread"},
		{"'single'", "single"},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanTitle(tt.in), tt.in)
	}
}

func TestFallbackTitle(t *testing.T) {
	assert.Equal(t, "short", FallbackTitle("  short  "))
	assert.Equal(t, "two lines", FallbackTitle("two\nlines"))

	long := ""
	for i := 0; i < 60; i++ {
		long += "語"
	}
	assert.Len(t, []rune(FallbackTitle(long)), FallbackTitleLength)
}

func TestGenerateTitle_NilGenerator(t *testing.T) {
	assert.Equal(t, "hello there", GenerateTitle(context.Background(), nil, "hello there", NameOllama, ""))
}

func TestGenerateTitle_UnsupportedBackend(t *testing.T) {
	gen := &fakeGenerator{title: "unused"}
	assert.Equal(t, "hello", GenerateTitle(context.Background(), gen, "hello", "Nope", ""))
	assert.Zero(t, gen.calls)
}

func TestGenerateTitle_ModelOverride(t *testing.T) {
	gen := &fakeGenerator{title: "Greeting"}
	assert.Equal(t, "Greeting", GenerateTitle(context.Background(), gen, "hello", NameOpenAI, "llama3.2"))
	assert.Equal(t, "llama3.2", gen.model)
}

func TestGenerateTitle_OllamaClient(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"gemma3:latest","response":"\"Bread Baking Basics\"","done":true}`)
	}))
	t.Cleanup(server.Close)

	title := GenerateTitle(context.Background(), newOllama(server.URL), "How do I bake bread?", NameOllama, "")
	assert.Equal(t, "Bread Baking Basics", title)
	assert.Equal(t, ollama.DefaultModel, got["model"])
	assert.Equal(t, false, got["stream"])
	assert.Contains(t, got["prompt"], "How do I bake bread?")
}
