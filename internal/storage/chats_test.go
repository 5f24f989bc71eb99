// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/s6zchat/internal/model"
)

func openTestStore(t *testing.T) *ChatStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "chats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testChat(id, name string, created time.Time, contents ...string) *Chat {
	c := &Chat{ChatID: id, ChatName: name, CreatedOn: created}
	for i, content := range contents {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		c.Messages = append(c.Messages, model.NewMessage(role, content))
	}
	return c
}

// =============================================================================
// OPEN TESTS
// =============================================================================

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.db")

	store, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	var version int
	require.NoError(t, store.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)

	ctx := context.Background()
	require.NoError(t, store.CreateChat(ctx, testChat("a", "Kept", time.Now(), "hi")))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	exists, err := reopened.ChatExists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, exists, "reopening does not reset data")
}

// =============================================================================
// CRUD TESTS
// =============================================================================

func TestChatStore_CreateAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created := time.UnixMilli(1_700_000_000_123)
	chat := testChat("chat-1", "Go Streaming Basics", created, "How do streams work?", "They flow.")
	require.NoError(t, store.CreateChat(ctx, chat))

	got, err := store.GetChat(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "Go Streaming Basics", got.ChatName)
	assert.True(t, created.Equal(got.CreatedOn))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, model.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "They flow.", got.Messages[1].Content)
	assert.Equal(t, chat.Messages[0].ID, got.Messages[0].ID)
}

func TestChatStore_CreateDefaults(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	chat := &Chat{ChatID: "empty"}
	require.NoError(t, store.CreateChat(ctx, chat))
	assert.False(t, chat.CreatedOn.IsZero())

	got, err := store.GetChat(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, got.Messages)
	assert.Empty(t, got.Messages)

	assert.Error(t, store.CreateChat(ctx, &Chat{}), "chat ID is required")
}

func TestChatStore_CreateDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateChat(ctx, testChat("dup", "First", time.Now())))
	err := store.CreateChat(ctx, testChat("dup", "Second", time.Now()))
	assert.ErrorIs(t, err, ErrChatExists)

	got, err := store.GetChat(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "First", got.ChatName)
}

func TestChatStore_NotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetChat(ctx, "missing")
	assert.ErrorIs(t, err, ErrChatNotFound)

	assert.ErrorIs(t, store.UpdateMessages(ctx, "missing", nil), ErrChatNotFound)
	assert.ErrorIs(t, store.DeleteChat(ctx, "missing"), ErrChatNotFound)

	exists, err := store.ChatExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChatStore_UpdateMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	chat := testChat("u", "Update", time.Now(), "hello")
	require.NoError(t, store.CreateChat(ctx, chat))

	msgs := append(chat.Messages, model.NewMessage(model.RoleAssistant, "日本語の応答"))
	require.NoError(t, store.UpdateMessages(ctx, "u", msgs))

	got, err := store.GetChat(ctx, "u")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "日本語の応答", got.Messages[1].Content)
}

func TestChatStore_Delete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateChat(ctx, testChat(id, id, time.Now())))
	}

	require.NoError(t, store.DeleteChat(ctx, "b"))
	exists, err := store.ChatExists(ctx, "b")
	require.NoError(t, err)
	assert.False(t, exists)

	n, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := store.ListChats(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// LIST AND SEARCH TESTS
// =============================================================================

func TestChatStore_ListChats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"oldest", "middle", "newest"} {
		chat := testChat(id, strings.ToUpper(id), base.Add(time.Duration(i)*time.Minute), "question "+id, "answer")
		require.NoError(t, store.CreateChat(ctx, chat))
	}

	tests := []struct {
		name   string
		offset int
		limit  int
		want   []string
	}{
		{"all", 0, 0, []string{"newest", "middle", "oldest"}},
		{"first page", 0, 2, []string{"newest", "middle"}},
		{"second page", 2, 2, []string{"oldest"}},
		{"past end", 5, 2, nil},
		{"negative offset", -1, 1, []string{"newest"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := store.ListChats(ctx, tt.offset, tt.limit)
			require.NoError(t, err)

			var ids []string
			for _, s := range list {
				ids = append(ids, s.ChatID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	list, err := store.ListChats(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "NEWEST", list[0].ChatName)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.Equal(t, "question newest", list[0].Preview)
}

func TestChatStore_Search(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.CreateChat(ctx, testChat("title", "Kubernetes Networking", now, "pods?")))
	require.NoError(t, store.CreateChat(ctx, testChat("body", "Cooking", now.Add(time.Second), "recipe", "Use KUBERNETES-grade salt")))
	require.NoError(t, store.CreateChat(ctx, testChat("other", "Gardening", now.Add(2*time.Second), "tomatoes")))
	require.NoError(t, store.CreateChat(ctx, testChat("unicode", "Ünïcode", now.Add(3*time.Second), "ÄPFEL")))

	tests := []struct {
		query string
		want  []string
	}{
		{"kubernetes", []string{"body", "title"}},
		{"  TOMATO ", []string{"other"}},
		{"äpfel", []string{"unicode"}},
		{"nothing matches", nil},
		{"", []string{"unicode", "other", "body", "title"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			results, err := store.Search(ctx, tt.query)
			require.NoError(t, err)

			var ids []string
			for _, s := range results {
				ids = append(ids, s.ChatID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestChatStore_ResolveID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"abc123", "abd456", "xyz789"} {
		require.NoError(t, store.CreateChat(ctx, testChat(id, id, time.Now())))
	}

	id, err := store.ResolveID(ctx, "xy")
	require.NoError(t, err)
	assert.Equal(t, "xyz789", id)

	id, err = store.ResolveID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	_, err = store.ResolveID(ctx, "ab")
	assert.ErrorIs(t, err, ErrAmbiguousID)

	_, err = store.ResolveID(ctx, "q")
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = store.ResolveID(ctx, " ")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestChatError_Is(t *testing.T) {
	err := &ChatError{Message: "chat not found"}
	assert.True(t, errors.Is(err, ErrChatNotFound))
	assert.False(t, errors.Is(err, ErrChatExists))
	assert.False(t, errors.Is(errors.New("chat not found"), ErrChatNotFound))
}

// =============================================================================
// FORMAT TESTS
// =============================================================================

func TestFormatChatList(t *testing.T) {
	assert.Equal(t, "No chats found.", FormatChatList(nil))

	created := time.Date(2025, 3, 4, 5, 6, 0, 0, time.Local)
	out := FormatChatList([]ChatSummary{
		{ChatID: "0123456789abcdef", ChatName: "Short", CreatedOn: created, MessageCount: 4},
		{ChatID: "fedcba98", Preview: strings.Repeat("p", 60), CreatedOn: created, MessageCount: 2},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Equal(t, "01234567 2025-03-04 05:06 4        Short", lines[2])
	assert.True(t, strings.HasSuffix(lines[3], strings.Repeat("p", 37)+"..."), "untitled chats show the preview")
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"日本語テキスト", 5, "日本..."},
		{"abc", 2, "ab"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateString(tt.in, tt.max), tt.in)
	}
}
