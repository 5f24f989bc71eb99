// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/s6zchat/internal/model"
	"github.com/jeranaias/s6zchat/internal/storage"
)

var (
	codeBlockRegex  = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\n([\\s\\S]*?)```")
	inlineCodeRegex = regexp.MustCompile("`([^`\n]+)`")
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports chats to a single HTML page with embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a chat to HTML.
func (e *HTMLExporter) Export(chat *storage.Chat) ([]byte, error) {
	if err := validate(chat); err != nil {
		return nil, err
	}

	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}
	name := html.EscapeString(title(chat))

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("  <meta charset=\"UTF-8\">\n")
	sb.WriteString("  <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "  <title>%s</title>\n", name)
	sb.WriteString("  <meta name=\"generator\" content=\"s6zchat\">\n")
	fmt.Fprintf(&sb, "  <meta name=\"date\" content=\"%s\">\n", chat.CreatedOn.Format(time.RFC3339))
	sb.WriteString(stylesheet)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n<div class=\"container\">\n", theme)

	sb.WriteString("<header class=\"header\">\n")
	fmt.Fprintf(&sb, "  <h1>%s</h1>\n", name)
	if e.options.IncludeMetadata {
		sb.WriteString("  <div class=\"metadata\">\n")
		fmt.Fprintf(&sb, "    <span><strong>Chat:</strong> %s</span>\n", html.EscapeString(chat.ChatID))
		fmt.Fprintf(&sb, "    <span><strong>Created:</strong> %s</span>\n", formatTimestamp(chat.CreatedOn))
		fmt.Fprintf(&sb, "    <span><strong>Messages:</strong> %d</span>\n", len(chat.Messages))
		sb.WriteString("  </div>\n")
	}
	sb.WriteString("</header>\n")

	sb.WriteString("<main class=\"conversation\">\n")
	for _, msg := range chat.Messages {
		sb.WriteString(e.renderMessage(msg))
	}
	sb.WriteString("</main>\n")

	fmt.Fprintf(&sb, "<footer class=\"footer\">Exported from <strong>s6zchat</strong> on %s</footer>\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("</div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderMessage(msg model.Message) string {
	var sb strings.Builder

	roleClass := "unknown"
	if msg.Role.Valid() {
		roleClass = string(msg.Role)
	}
	fmt.Fprintf(&sb, "<div class=\"message %s-message\">\n", roleClass)
	sb.WriteString("  <div class=\"message-header\">\n")
	fmt.Fprintf(&sb, "    <span class=\"role-label\">%s</span>\n", html.EscapeString(roleLabel(msg.Role)))
	if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "    <span class=\"timestamp\">%s</span>\n", formatShortTimestamp(msg.CreatedAt))
	}
	sb.WriteString("  </div>\n")
	sb.WriteString("  <div class=\"message-content\">\n")
	sb.WriteString(formatContent(msg.Content))
	sb.WriteString("\n  </div>\n</div>\n")

	return sb.String()
}

// formatContent escapes content and turns fenced and inline code into HTML.
// Text outside code blocks becomes paragraphs split on blank lines.
func formatContent(content string) string {
	content = strings.TrimSpace(content)

	var out []string
	last := 0
	for _, loc := range codeBlockRegex.FindAllStringSubmatchIndex(content, -1) {
		out = append(out, paragraphs(content[last:loc[0]])...)

		lang := content[loc[2]:loc[3]]
		code := strings.TrimRight(content[loc[4]:loc[5]], "\n")
		langLabel := ""
		if lang != "" {
			langLabel = fmt.Sprintf("<div class=\"code-lang\">%s</div>", html.EscapeString(lang))
		}
		out = append(out, fmt.Sprintf("<div class=\"code-block\">%s<pre><code class=\"language-%s\">%s</code></pre></div>",
			langLabel, html.EscapeString(lang), html.EscapeString(code)))
		last = loc[1]
	}
	out = append(out, paragraphs(content[last:])...)

	return strings.Join(out, "\n")
}

// paragraphs renders plain text as escaped paragraphs.
func paragraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		para = html.EscapeString(para)
		para = inlineCodeRegex.ReplaceAllString(para, "<code class=\"inline-code\">$1</code>")
		para = strings.ReplaceAll(para, "\n", "<br>\n")
		out = append(out, "<p>"+para+"</p>")
	}
	return out
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const stylesheet = `  <style>
    * { margin: 0; padding: 0; box-sizing: border-box; }
    :root {
      --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif;
      --font-mono: "SF Mono", "Fira Code", "Source Code Pro", monospace;
    }
    .dark-theme {
      --bg-primary: #1a1b26; --bg-secondary: #24283b; --bg-tertiary: #414868;
      --text-primary: #c0caf5; --text-muted: #565f89; --border-color: #414868;
      --user-bg: #1f2335; --code-bg: #16161e; --accent: #7aa2f7; --accent-alt: #9ece6a;
    }
    .light-theme {
      --bg-primary: #ffffff; --bg-secondary: #f7f8fa; --bg-tertiary: #e1e4e8;
      --text-primary: #24292e; --text-muted: #6a737d; --border-color: #e1e4e8;
      --user-bg: #f1f8ff; --code-bg: #f6f8fa; --accent: #0366d6; --accent-alt: #22863a;
    }
    body { font-family: var(--font-sans); line-height: 1.6; color: var(--text-primary); background: var(--bg-primary); padding: 20px; }
    .container { max-width: 900px; margin: 0 auto; background: var(--bg-secondary); border-radius: 12px; overflow: hidden; }
    .header { padding: 32px; background: var(--bg-tertiary); }
    .header h1 { font-size: 26px; margin-bottom: 12px; }
    .metadata { display: flex; flex-wrap: wrap; gap: 16px; font-size: 14px; color: var(--text-muted); }
    .conversation { padding: 24px 32px; }
    .message { margin-bottom: 20px; padding: 16px; border-radius: 8px; border: 1px solid var(--border-color); }
    .user-message { background: var(--user-bg); }
    .message-header { display: flex; justify-content: space-between; margin-bottom: 8px; font-size: 14px; }
    .role-label { font-weight: 600; color: var(--accent); }
    .assistant-message .role-label { color: var(--accent-alt); }
    .timestamp { color: var(--text-muted); }
    .message-content p { margin-bottom: 10px; }
    .code-block { margin: 12px 0; background: var(--code-bg); border-radius: 6px; overflow-x: auto; }
    .code-lang { font-size: 12px; padding: 4px 12px; color: var(--text-muted); border-bottom: 1px solid var(--border-color); }
    pre { padding: 12px; font-family: var(--font-mono); font-size: 14px; }
    .inline-code { font-family: var(--font-mono); background: var(--code-bg); padding: 2px 4px; border-radius: 4px; }
    .footer { padding: 16px 32px; font-size: 13px; color: var(--text-muted); text-align: center; }
  </style>
`
