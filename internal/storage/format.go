// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"
)

// =============================================================================
// CHAT LIST FORMATTING
// =============================================================================

// FormatChatList formats chat summaries as a plain-text table with ID,
// creation time, message count and title.
func FormatChatList(chats []ChatSummary) string {
	if len(chats) == 0 {
		return "No chats found."
	}

	var sb strings.Builder
	sb.WriteString(formatPadded("ID", 8) + " " + formatPadded("Created", 16) + " " + formatPadded("Messages", 8) + " Title\n")
	sb.WriteString(strings.Repeat("-", 64) + "\n")

	for _, c := range chats {
		// Short IDs are unambiguous enough for display; commands accept prefixes
		idStr := c.ChatID
		if len(idStr) > 8 {
			idStr = idStr[:8]
		}
		title := c.ChatName
		if title == "" {
			title = c.Preview
		}

		sb.WriteString(formatPadded(idStr, 8) + " " +
			formatPadded(c.CreatedOn.Format("2006-01-02 15:04"), 16) + " " +
			formatPadded(strconv.Itoa(c.MessageCount), 8) + " " +
			truncateString(title, 40) + "\n")
	}
	return sb.String()
}

// truncateString truncates a string to maxLen runes, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// formatPadded pads a string to the specified width with spaces.
func formatPadded(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
