// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides chat persistence for s6zchat.
//
// Chats are stored in a SQLite database (pure Go driver) with one row per
// chat and the messages kept as a JSON array. The schema is migrated when
// the store is opened.
//
// # Key Types
//
//   - ChatStore: SQLite-backed chat store
//   - Chat: Persisted conversation with messages
//   - ChatSummary: Lightweight metadata for listing
//
// # Usage
//
// Open the store and create a chat:
//
//	store, err := storage.Open("")
//	defer store.Close()
//	err = store.CreateChat(ctx, &storage.Chat{ChatID: id, ChatName: title, Messages: msgs})
//
// List and search chats:
//
//	recent, err := store.ListChats(ctx, 0, 20)
//	results, err := store.Search(ctx, "query text")
//
// # Storage Location
//
// Chats are stored in ~/.s6zchat/chats.db unless storage.path is set.
package storage
