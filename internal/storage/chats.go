// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/s6zchat/internal/model"
)

// =============================================================================
// CHAT TYPES
// =============================================================================

// Chat is a persisted conversation.
type Chat struct {
	ChatID    string          `json:"chat_id"`
	ChatName  string          `json:"chat_name"`
	Messages  []model.Message `json:"messages"`
	CreatedOn time.Time       `json:"created_on"`
}

// ChatSummary contains metadata for listing chats.
type ChatSummary struct {
	ChatID       string    `json:"chat_id"`
	ChatName     string    `json:"chat_name"`
	CreatedOn    time.Time `json:"created_on"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

// PreviewLength is the rune length of ChatSummary.Preview.
const PreviewLength = 80

// Summary returns the listing metadata for c.
func (c *Chat) Summary() ChatSummary {
	preview := ""
	for _, msg := range c.Messages {
		if msg.Role == model.RoleUser && msg.Content != "" {
			preview = msg.Preview(PreviewLength)
			break
		}
	}
	return ChatSummary{
		ChatID:       c.ChatID,
		ChatName:     c.ChatName,
		CreatedOn:    c.CreatedOn,
		MessageCount: len(c.Messages),
		Preview:      preview,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrChatNotFound is returned when a chat doesn't exist.
// Use errors.Is(err, ErrChatNotFound) to check for this error.
var ErrChatNotFound = &ChatError{Message: "chat not found"}

// ErrChatExists is returned by CreateChat when the chat ID is taken.
var ErrChatExists = &ChatError{Message: "chat already exists"}

// ChatError represents a chat store error.
// It implements the error interface and can be compared using errors.Is.
type ChatError struct {
	Message string
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing chat errors.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// CHAT STORE
// =============================================================================

// ChatStore persists chats in a SQLite database.
type ChatStore struct {
	db   *sql.DB
	path string
}

// DefaultPath returns ~/.s6zchat/chats.db.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".s6zchat", "chats.db"), nil
}

// Open opens (creating if needed) the chat database at path and migrates
// its schema. An empty path uses DefaultPath.
func Open(path string) (*ChatStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &ChatStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// migrate applies every migration above the stored user_version.
func (s *ChatStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Debug().Int("version", v+1).Str("path", s.path).Msg("Applied chat schema migration")
	}
	return nil
}

// Path returns the database file path.
func (s *ChatStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *ChatStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// ListChats returns up to limit chats starting at offset, most recent first.
// A non-positive limit returns every chat.
func (s *ChatStore) ListChats(ctx context.Context, offset, limit int) ([]ChatSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, chat_name, messages, created_on FROM chats
		 ORDER BY created_on DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats, err := scanChats(rows)
	if err != nil {
		return nil, err
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		summaries = append(summaries, c.Summary())
	}
	return summaries, nil
}

// GetChat loads a chat with its messages.
func (s *ChatStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, chat_name, messages, created_on FROM chats WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	defer rows.Close()

	chats, err := scanChats(rows)
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, ErrChatNotFound
	}
	return chats[0], nil
}

// ChatExists reports whether a chat with chatID is stored.
func (s *ChatStore) ChatExists(ctx context.Context, chatID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chats WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check chat: %w", err)
	}
	return n > 0, nil
}

// ErrAmbiguousID is returned by ResolveID when a prefix matches several chats.
var ErrAmbiguousID = errors.New("chat ID prefix is ambiguous")

// ResolveID expands a chat ID prefix to the full ID of the only chat it
// matches.
func (s *ChatStore) ResolveID(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrChatNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM chats WHERE substr(chat_id, 1, ?) = ? LIMIT 2`, len(prefix), prefix)
	if err != nil {
		return "", fmt.Errorf("failed to resolve chat ID: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", ErrChatNotFound
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousID, prefix)
	}
}

// Search finds chats whose title or any message contains query,
// case-insensitively. An empty query lists every chat.
func (s *ChatStore) Search(ctx context.Context, query string) ([]ChatSummary, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.ListChats(ctx, 0, 0)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, chat_name, messages, created_on FROM chats ORDER BY created_on DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to search chats: %w", err)
	}
	defer rows.Close()

	chats, err := scanChats(rows)
	if err != nil {
		return nil, err
	}

	var results []ChatSummary
	for _, c := range chats {
		if matches(c, query) {
			results = append(results, c.Summary())
		}
	}
	return results, nil
}

// matches reports whether c contains the lowercased query.
func matches(c *Chat, query string) bool {
	if strings.Contains(strings.ToLower(c.ChatName), query) {
		return true
	}
	for _, msg := range c.Messages {
		if strings.Contains(strings.ToLower(msg.Content), query) {
			return true
		}
	}
	return false
}

func scanChats(rows *sql.Rows) ([]*Chat, error) {
	var chats []*Chat
	for rows.Next() {
		var (
			c         Chat
			raw       string
			createdMs int64
		)
		if err := rows.Scan(&c.ChatID, &c.ChatName, &raw, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to read chat: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &c.Messages); err != nil {
			log.Warn().Err(err).Str("chat_id", c.ChatID).Msg("Skipping chat with corrupt messages")
			continue
		}
		c.CreatedOn = time.UnixMilli(createdMs)
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// CreateChat inserts a new chat. A zero CreatedOn is set to now.
// It returns ErrChatExists if the ID is taken.
func (s *ChatStore) CreateChat(ctx context.Context, c *Chat) error {
	if c.ChatID == "" {
		return errors.New("chat ID is required")
	}
	if c.CreatedOn.IsZero() {
		c.CreatedOn = time.Now()
	}

	raw, err := encodeMessages(c.Messages)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (chat_id, chat_name, messages, created_on) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		c.ChatID, c.ChatName, raw, c.CreatedOn.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChatExists
	}
	return nil
}

// UpdateMessages replaces the messages of an existing chat.
func (s *ChatStore) UpdateMessages(ctx context.Context, chatID string, messages []model.Message) error {
	raw, err := encodeMessages(messages)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE chats SET messages = ? WHERE chat_id = ?`, raw, chatID)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	return requireRow(res)
}

// DeleteChat removes a chat.
func (s *ChatStore) DeleteChat(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return requireRow(res)
}

// DeleteAll removes every chat and returns how many were deleted.
func (s *ChatStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chats: %w", err)
	}
	return res.RowsAffected()
}

func encodeMessages(messages []model.Message) (string, error) {
	if messages == nil {
		messages = []model.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("failed to encode messages: %w", err)
	}
	return string(data), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrChatNotFound
	}
	return nil
}
