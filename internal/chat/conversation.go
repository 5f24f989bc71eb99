// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jeranaias/s6zchat/internal/model"
	"github.com/jeranaias/s6zchat/internal/storage"
	"github.com/jeranaias/s6zchat/internal/stream"
)

const (
	// DefaultFlushInterval is the minimum time between transcript writes
	// while a response is streaming.
	DefaultFlushInterval = time.Second

	// TitleTimeout bounds title generation.
	TitleTimeout = 30 * time.Second

	// maxIDAttempts bounds chat ID generation.
	maxIDAttempts = 5
)

// Conversation errors.
var (
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrBusy        = errors.New("a response is already streaming")
)

// =============================================================================
// CONVERSATION
// =============================================================================

// ConversationOptions configures a Conversation.
type ConversationOptions struct {
	// Backend is the display name of the backend to use. Empty means Ollama.
	Backend string

	// FlushInterval throttles store writes during a stream. Zero means
	// DefaultFlushInterval.
	FlushInterval time.Duration

	// GenerateTitles asks Titles for a chat title after the first exchange.
	// Otherwise the first user message is used.
	GenerateTitles bool

	// Titles generates chat titles. Usually the Ollama client.
	Titles Generator

	// TitleModel overrides the backend's model for title requests.
	TitleModel string

	// SystemPrompt is prepended to a new chat when set.
	SystemPrompt string

	// OnProcessing mirrors the processing flag.
	OnProcessing func(active bool)
}

// Conversation is one chat: a transcript, the backend it talks to, and the
// store row it is saved in. It runs one turn at a time.
type Conversation struct {
	store Store
	opts  ConversationOptions

	mu         sync.Mutex
	dispatcher *Dispatcher
	backend    Backend
	transcript *model.Transcript
	limiter    *rate.Limiter
	chatID     string
	title      string
	persisted  bool

	busy       atomic.Bool
	processing atomic.Bool
}

// NewConversation creates an empty conversation. store may be nil, in which
// case nothing is saved.
func NewConversation(d *Dispatcher, store Store, opts ConversationOptions) (*Conversation, error) {
	if opts.Backend == "" {
		opts.Backend = NameOllama
	}
	backend, err := ParseBackend(opts.Backend)
	if err != nil {
		return nil, err
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}

	c := &Conversation{
		dispatcher: d,
		store:      store,
		opts:       opts,
		backend:    backend,
	}
	c.reset()
	return c, nil
}

// Send runs one turn: it appends prompt and an assistant placeholder, streams
// the response into the placeholder, and saves the chat.
//
// onDelta receives each piece of text as it is applied. The placeholder has
// IsLoading and IsStreaming cleared on every outcome. Errors that prevent the
// request are returned before anything is appended; stream failures are in
// the Outcome.
func (c *Conversation) Send(ctx context.Context, prompt string, onDelta func(string)) (stream.Outcome, error) {
	if strings.TrimSpace(prompt) == "" {
		return stream.Outcome{}, ErrEmptyPrompt
	}
	if !c.busy.CompareAndSwap(false, true) {
		return stream.Outcome{}, ErrBusy
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	dispatcher := c.dispatcher
	backend := c.backend
	transcript := c.transcript
	c.mu.Unlock()

	if err := dispatcher.Ready(backend); err != nil {
		return stream.Outcome{}, err
	}

	if transcript.Len() == 0 && c.opts.SystemPrompt != "" {
		transcript.Append(model.NewSystemMessage(c.opts.SystemPrompt))
	}
	transcript.Append(model.NewUserMessage(prompt))
	idx := transcript.Append(model.NewAssistantPlaceholder())

	sink := stream.FuncSink{
		OnUpdate: func(u model.Update) {
			if err := transcript.Apply(u); err != nil {
				log.Warn().Err(err).Int("index", u.Index).Msg("Dropped stream update")
				return
			}
			if u.Kind != model.UpdateDelta {
				return
			}
			if onDelta != nil {
				onDelta(u.Delta)
			}
			c.flush(ctx)
		},
		OnProcessing: c.setProcessing,
	}

	out, fetchErr := dispatcher.Fetch(ctx, transcript.Snapshot(), backend, sink)

	// The driver finishes the message itself unless the request never ran.
	if err := transcript.Apply(model.Update{Kind: model.UpdateFinish, Index: idx}); err != nil {
		log.Warn().Err(err).Msg("Failed to finish message")
	}

	if err := c.persist(ctx, backend); err != nil {
		if fetchErr != nil {
			log.Error().Err(err).Msg("Failed to save chat")
			return out, fetchErr
		}
		return out, fmt.Errorf("failed to save chat: %w", err)
	}
	return out, fetchErr
}

// Resume replaces the conversation with a saved chat.
func (c *Conversation) Resume(ctx context.Context, chatID string) error {
	if c.store == nil {
		return storage.ErrChatNotFound
	}
	if c.busy.Load() {
		return ErrBusy
	}

	saved, err := c.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}

	// Flags left set by an interrupted save are cleared.
	msgs := make([]model.Message, len(saved.Messages))
	for i, msg := range saved.Messages {
		msg.IsLoading = false
		msg.IsStreaming = false
		msgs[i] = msg
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = model.NewTranscript(msgs...)
	c.limiter = rate.NewLimiter(rate.Every(c.opts.FlushInterval), 1)
	c.chatID = saved.ChatID
	c.title = saved.ChatName
	c.persisted = true

	log.Debug().Str("chat_id", saved.ChatID).Int("messages", len(msgs)).Msg("Chat resumed")
	return nil
}

// Reset starts a new, unsaved chat on the same backend.
func (c *Conversation) Reset() error {
	if c.busy.Load() {
		return ErrBusy
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	return nil
}

func (c *Conversation) reset() {
	c.transcript = model.NewTranscript()
	c.limiter = rate.NewLimiter(rate.Every(c.opts.FlushInterval), 1)
	c.chatID = ""
	c.title = ""
	c.persisted = false
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ID returns the chat ID, or "" before the chat is first saved.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// Title returns the chat title, or "" before the chat is first saved.
func (c *Conversation) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// Backend returns the display name of the current backend.
func (c *Conversation) Backend() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Name()
}

// SetBackend switches the backend used by the next turn.
func (c *Conversation) SetBackend(name string) error {
	backend, err := ParseBackend(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = backend
	return nil
}

// SetDispatcher replaces the dispatcher used by the next turn.
func (c *Conversation) SetDispatcher(d *Dispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatcher = d
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	transcript := c.transcript
	c.mu.Unlock()
	return transcript.Snapshot()
}

// Processing reports whether a response is streaming.
func (c *Conversation) Processing() bool {
	return c.processing.Load()
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (c *Conversation) setProcessing(active bool) {
	c.processing.Store(active)
	if c.opts.OnProcessing != nil {
		c.opts.OnProcessing(active)
	}
}

// flush writes the transcript mid-stream, at most once per FlushInterval and
// only for a chat that already has a row.
func (c *Conversation) flush(ctx context.Context) {
	if c.store == nil {
		return
	}

	c.mu.Lock()
	if !c.persisted || !c.limiter.Allow() {
		c.mu.Unlock()
		return
	}
	chatID := c.chatID
	transcript := c.transcript
	c.mu.Unlock()

	if err := c.store.UpdateMessages(context.WithoutCancel(ctx), chatID, transcript.Snapshot()); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to flush chat")
	}
}

// persist saves the transcript at the end of a turn. The first turn creates
// the chat row with a title; later turns update its messages.
func (c *Conversation) persist(ctx context.Context, backend Backend) error {
	if c.store == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	persisted := c.persisted
	chatID := c.chatID
	transcript := c.transcript
	c.mu.Unlock()

	if persisted {
		return c.store.UpdateMessages(ctx, chatID, transcript.Snapshot())
	}

	first, _ := transcript.FirstUserMessage()
	title := FallbackTitle(first)
	if c.opts.GenerateTitles {
		titleCtx, cancel := context.WithTimeout(ctx, TitleTimeout)
		title = GenerateTitle(titleCtx, c.opts.Titles, first, backend.Name(), c.opts.TitleModel)
		cancel()
	}

	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		chatID, err = c.newChatID(ctx)
		if err != nil {
			return err
		}
		err = c.store.CreateChat(ctx, &storage.Chat{
			ChatID:   chatID,
			ChatName: title,
			Messages: transcript.Snapshot(),
		})
		if !errors.Is(err, storage.ErrChatExists) {
			break
		}
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.chatID = chatID
	c.title = title
	c.persisted = true
	c.mu.Unlock()

	log.Info().Str("chat_id", chatID).Str("title", title).Msg("Chat created")
	return nil
}

// newChatID returns a random ID that no saved chat uses.
func (c *Conversation) newChatID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := uuid.New().String()
		exists, err := c.store.ChatExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("no unused chat ID after %d attempts", maxIDAttempts)
}
