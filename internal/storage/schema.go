// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// SchemaVersion tracks the database schema version for migrations.
// It is stored in PRAGMA user_version.
const SchemaVersion = 1

// migrations[i] upgrades the schema from version i to version i+1.
var migrations = []string{
	`
-- Chats table: one row per conversation, messages as a JSON array
CREATE TABLE IF NOT EXISTS chats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id TEXT NOT NULL UNIQUE,
    chat_name TEXT NOT NULL,
    messages TEXT NOT NULL DEFAULT '[]',
    created_on INTEGER NOT NULL  -- Unix milliseconds
);

CREATE INDEX IF NOT EXISTS idx_chats_created_on ON chats(created_on DESC);
`,
}
