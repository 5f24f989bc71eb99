// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/s6zchat/internal/cloud"
	"github.com/jeranaias/s6zchat/internal/model"
	"github.com/jeranaias/s6zchat/internal/ollama"
	"github.com/jeranaias/s6zchat/internal/storage"
	"github.com/jeranaias/s6zchat/internal/stream"
)

// fakeGenerator returns a fixed title and records its calls.
type fakeGenerator struct {
	title  string
	err    error
	calls  int
	model  string
	prompt string
}

func (g *fakeGenerator) Generate(_ context.Context, model, prompt string) (string, error) {
	g.calls++
	g.model = model
	g.prompt = prompt
	return g.title, g.err
}

// memStore is an in-memory Store that counts writes.
type memStore struct {
	mu      sync.Mutex
	chats   map[string]*storage.Chat
	creates int
	updates int
}

func newMemStore() *memStore {
	return &memStore{chats: map[string]*storage.Chat{}}
}

func (s *memStore) ChatExists(_ context.Context, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chats[chatID]
	return ok, nil
}

func (s *memStore) CreateChat(_ context.Context, c *storage.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[c.ChatID]; ok {
		return storage.ErrChatExists
	}
	s.creates++
	cp := *c
	cp.Messages = append([]model.Message(nil), c.Messages...)
	s.chats[c.ChatID] = &cp
	return nil
}

func (s *memStore) UpdateMessages(_ context.Context, chatID string, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return storage.ErrChatNotFound
	}
	s.updates++
	c.Messages = append([]model.Message(nil), messages...)
	return nil
}

func (s *memStore) GetChat(_ context.Context, chatID string) (*storage.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, storage.ErrChatNotFound
	}
	cp := *c
	return &cp, nil
}

func openStore(t *testing.T) *storage.ChatStore {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "chats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestConversation(t *testing.T, serverURL string, store Store, opts ConversationOptions) *Conversation {
	t.Helper()
	d := NewDispatcher(newOllama(serverURL), cloud.NewClient(""), DispatcherOptions{})
	conv, err := NewConversation(d, store, opts)
	require.NoError(t, err)
	return conv
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestConversation_FirstTurnCreatesChat(t *testing.T) {
	server, _, _ := ollamaServer(t, ollamaFrame("Because of")+ollamaFrame(" Rayleigh scattering.")+ollamaDone)
	store := openStore(t)
	gen := &fakeGenerator{title: "  \"Sky Color Explained\"\n"}

	var flags []bool
	conv := newTestConversation(t, server.URL, store, ConversationOptions{
		GenerateTitles: true,
		Titles:         gen,
		OnProcessing:   func(active bool) { flags = append(flags, active) },
	})
	assert.Equal(t, NameOllama, conv.Backend())
	assert.Empty(t, conv.ID())

	var streamed strings.Builder
	out, err := conv.Send(context.Background(), "Why is the sky blue?", func(delta string) {
		streamed.WriteString(delta)
	})
	require.NoError(t, err)

	assert.Equal(t, stream.StateCompleted, out.State)
	assert.Equal(t, "Because of Rayleigh scattering.", streamed.String())
	assert.Equal(t, []bool{true, false}, flags)
	assert.False(t, conv.Processing())

	_, err = uuid.Parse(conv.ID())
	assert.NoError(t, err, "chat IDs are UUIDs")
	assert.Equal(t, "Sky Color Explained", conv.Title())

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, ollama.DefaultModel, gen.model)
	assert.Contains(t, gen.prompt, `User: "Why is the sky blue?"`)

	saved, err := store.GetChat(context.Background(), conv.ID())
	require.NoError(t, err)
	assert.Equal(t, "Sky Color Explained", saved.ChatName)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, model.RoleUser, saved.Messages[0].Role)
	assert.Equal(t, "Because of Rayleigh scattering.", saved.Messages[1].Content)
	assert.False(t, saved.Messages[1].IsLoading)
	assert.False(t, saved.Messages[1].IsStreaming)
}

func TestConversation_LaterTurnsUpdateChat(t *testing.T) {
	server, hits, got := ollamaServer(t, ollamaFrame("Sure.")+ollamaDone)
	store := openStore(t)
	gen := &fakeGenerator{title: "Small Talk"}

	conv := newTestConversation(t, server.URL, store, ConversationOptions{GenerateTitles: true, Titles: gen})
	ctx := context.Background()

	_, err := conv.Send(ctx, "hello", nil)
	require.NoError(t, err)
	id := conv.ID()

	_, err = conv.Send(ctx, "again", nil)
	require.NoError(t, err)

	assert.Equal(t, id, conv.ID())
	assert.Equal(t, 1, gen.calls, "the title is generated once")
	assert.Equal(t, int32(2), hits.Load())

	msgs, ok := (*got)["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 3, "history includes the first exchange")

	saved, err := store.GetChat(ctx, id)
	require.NoError(t, err)
	require.Len(t, saved.Messages, 4)
	assert.Equal(t, "again", saved.Messages[2].Content)

	list, err := store.ListChats(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConversation_TitleFallback(t *testing.T) {
	server, _, _ := ollamaServer(t, ollamaFrame("ok")+ollamaDone)
	prompt := "Please explain\nhow   goroutines are scheduled across operating system threads in detail"

	tests := []struct {
		name string
		opts ConversationOptions
		gen  *fakeGenerator
	}{
		{"generation fails", ConversationOptions{GenerateTitles: true}, &fakeGenerator{err: errors.New("boom")}},
		{"empty title", ConversationOptions{GenerateTitles: true}, &fakeGenerator{title: " \"\" "}},
		{"titles disabled", ConversationOptions{}, &fakeGenerator{title: "unused"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Titles = tt.gen
			conv := newTestConversation(t, server.URL, newMemStore(), tt.opts)

			_, err := conv.Send(context.Background(), prompt, nil)
			require.NoError(t, err)

			want := "Please explain how goroutines are scheduled across"
			assert.Equal(t, want, conv.Title())
			assert.Len(t, []rune(conv.Title()), FallbackTitleLength)
			if !tt.opts.GenerateTitles {
				assert.Zero(t, tt.gen.calls)
			}
		})
	}
}

func TestConversation_SystemPrompt(t *testing.T) {
	server, _, got := ollamaServer(t, ollamaFrame("hi")+ollamaDone)
	conv := newTestConversation(t, server.URL, nil, ConversationOptions{SystemPrompt: "be brief"})

	_, err := conv.Send(context.Background(), "hello", nil)
	require.NoError(t, err)

	msgs := conv.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)

	sent, ok := (*got)["messages"].([]any)
	require.True(t, ok)
	first, ok := sent[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "system", first["role"])
	assert.Empty(t, conv.ID(), "nothing is saved without a store")
}

func TestConversation_RejectsBeforeAppending(t *testing.T) {
	server, hits, _ := ollamaServer(t, ollamaDone)
	conv := newTestConversation(t, server.URL, newMemStore(), ConversationOptions{Backend: NameOpenAI})

	var flags []bool
	conv.opts.OnProcessing = func(active bool) { flags = append(flags, active) }

	_, err := conv.Send(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, cloud.ErrNotConfigured)

	_, err = conv.Send(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	assert.Empty(t, conv.Messages())
	assert.Empty(t, flags)
	assert.Equal(t, int32(0), hits.Load())
}

func TestConversation_SetupFailureFinishesMessage(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	store := newMemStore()
	conv := newTestConversation(t, url, store, ConversationOptions{})

	out, err := conv.Send(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ollama.ErrNotRunning)
	assert.Equal(t, stream.StateErrored, out.State)

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].IsLoading)
	assert.False(t, msgs[1].IsStreaming)
	assert.Equal(t, 1, store.creates)
}

func TestConversation_CancelledTurnIsSaved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ollamaFrame("partial")))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	store := newMemStore()
	conv := newTestConversation(t, server.URL, store, ConversationOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := conv.Send(ctx, "hello", func(string) { cancel() })
	require.NoError(t, err)
	assert.Equal(t, stream.StateCancelled, out.State)

	saved, err := store.GetChat(context.Background(), conv.ID())
	require.NoError(t, err)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, "partial", saved.Messages[1].Content)
	assert.False(t, saved.Messages[1].IsStreaming)
}

// =============================================================================
// FLUSH TESTS
// =============================================================================

func TestConversation_FlushThrottled(t *testing.T) {
	server, _, _ := ollamaServer(t, ollamaFrame("one")+ollamaFrame(" two")+ollamaFrame(" three")+ollamaDone)
	store := newMemStore()
	conv := newTestConversation(t, server.URL, store, ConversationOptions{FlushInterval: time.Hour})
	ctx := context.Background()

	_, err := conv.Send(ctx, "first", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 0, store.updates, "no flush before the chat exists")

	_, err = conv.Send(ctx, "second", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, store.updates, "one throttled flush and the final save")
}

// =============================================================================
// RESUME AND RESET TESTS
// =============================================================================

func TestConversation_Resume(t *testing.T) {
	server, _, got := ollamaServer(t, ollamaFrame("welcome back")+ollamaDone)
	store := openStore(t)
	ctx := context.Background()

	stale := model.NewAssistantPlaceholder()
	stale.Content = "interrupted"
	require.NoError(t, store.CreateChat(ctx, &storage.Chat{
		ChatID:   "saved-chat",
		ChatName: "Old Chat",
		Messages: []model.Message{model.NewUserMessage("earlier"), stale},
	}))

	gen := &fakeGenerator{title: "unused"}
	conv := newTestConversation(t, server.URL, store, ConversationOptions{GenerateTitles: true, Titles: gen})
	require.NoError(t, conv.Resume(ctx, "saved-chat"))

	assert.Equal(t, "saved-chat", conv.ID())
	assert.Equal(t, "Old Chat", conv.Title())
	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].IsLoading)
	assert.False(t, msgs[1].IsStreaming)

	_, err := conv.Send(ctx, "continue", nil)
	require.NoError(t, err)
	assert.Zero(t, gen.calls)

	sent, ok := (*got)["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, sent, 3)

	saved, err := store.GetChat(ctx, "saved-chat")
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 4)

	assert.ErrorIs(t, conv.Resume(ctx, "missing"), storage.ErrChatNotFound)
}

func TestConversation_ResetAndBackend(t *testing.T) {
	server, _, _ := ollamaServer(t, ollamaFrame("hi")+ollamaDone)
	conv := newTestConversation(t, server.URL, newMemStore(), ConversationOptions{})

	_, err := conv.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID())

	require.NoError(t, conv.Reset())
	assert.Empty(t, conv.ID())
	assert.Empty(t, conv.Title())
	assert.Empty(t, conv.Messages())

	require.NoError(t, conv.SetBackend(NameOpenAI))
	assert.Equal(t, NameOpenAI, conv.Backend())

	err = conv.SetBackend("Gemini")
	assert.EqualError(t, err, "Unsupported model: Gemini. Supported models are: Open AI, Ollama")
	assert.Equal(t, NameOpenAI, conv.Backend())

	_, err = NewConversation(NewDispatcher(nil, nil, DispatcherOptions{}), nil, ConversationOptions{Backend: "Gemini"})
	var unsupported *UnsupportedBackendError
	assert.ErrorAs(t, err, &unsupported)
}
