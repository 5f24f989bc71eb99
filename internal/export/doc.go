// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders saved chats as Markdown, JSON or HTML.
//
// # Key Types
//
//   - Exporter: renders one chat in one format
//   - Options: metadata, timestamps and HTML theme settings
//
// # Supported Formats
//
//   - Markdown: readable, with YAML front matter when metadata is on
//   - JSON: the stored chat, unchanged
//   - HTML: a single self-contained page
//
// # Usage
//
//	exporter, err := export.ForFormat("html", export.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	path, err := export.ToFile(chat, exporter, opts)
package export
