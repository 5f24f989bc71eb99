// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/jeranaias/s6zchat/internal/model"
	"github.com/jeranaias/s6zchat/internal/storage"
)

// Store persists chats. *storage.ChatStore implements it.
type Store interface {
	ChatExists(ctx context.Context, chatID string) (bool, error)
	CreateChat(ctx context.Context, chat *storage.Chat) error
	UpdateMessages(ctx context.Context, chatID string, messages []model.Message) error
	GetChat(ctx context.Context, chatID string) (*storage.Chat, error)
}

var _ Store = (*storage.ChatStore)(nil)
