// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Chat history commands for s6zchat.
//
// Command: history [subcommand]
// Short:   Browse and manage saved chats
// Aliases: chats
//
// Subcommands:
//   list (default)      List saved chats, most recent first
//   show <id>           Print a chat
//   search <query>      Find chats by title or message text
//   export <id>         Write a chat to a Markdown, JSON or HTML file
//   delete <id>         Delete a chat
//   clear               Delete every chat
//
// Examples:
//   s6zchat history                      List recent chats
//   s6zchat history list --limit 50      List more chats
//   s6zchat history show 3f2a            Show a chat by ID prefix
//   s6zchat history show 3f2a --markdown Export a chat as Markdown
//   s6zchat history search goroutines    Search titles and messages
//   s6zchat history export 3f2a -f html  Export a chat as an HTML page
//   s6zchat history delete 3f2a --yes    Delete without prompting
//   s6zchat history clear --yes          Delete everything
//
// Flags:
//   --json              Output in JSON format

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/s6zchat/internal/export"
	"github.com/jeranaias/s6zchat/internal/storage"
)

// defaultHistoryLimit is the number of chats listed by default.
const defaultHistoryLimit = 20

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"chats"},
		Short:   "Browse and manage saved chats",
		Args:    cobra.NoArgs,
	}

	list := newHistoryListCmd(app)
	cmd.RunE = list.RunE
	cmd.Flags().AddFlagSet(list.Flags())

	cmd.AddCommand(list)
	cmd.AddCommand(newHistoryShowCmd(app))
	cmd.AddCommand(newHistorySearchCmd(app))
	cmd.AddCommand(newHistoryExportCmd(app))
	cmd.AddCommand(newHistoryDeleteCmd(app))
	cmd.AddCommand(newHistoryClearCmd(app))
	return cmd
}

// withStore opens the chat store for the duration of fn.
func withStore(app *App, fn func(store *storage.ChatStore) error) error {
	store, err := openStore(app.Config())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// =============================================================================
// LIST / SEARCH
// =============================================================================

func newHistoryListCmd(app *App) *cobra.Command {
	var offset, limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved chats, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 || offset < 0 {
				return &UsageError{Message: "--offset and --limit cannot be negative"}
			}
			return withStore(app, func(store *storage.ChatStore) error {
				chats, err := store.ListChats(cmd.Context(), offset, limit)
				if err != nil {
					return err
				}
				return printChatList(cmd, app, "history list", chats)
			})
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many chats")
	cmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "Maximum chats to list (0 for all)")
	return cmd
}

func newHistorySearchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find chats by title or message text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(app, func(store *storage.ChatStore) error {
				chats, err := store.Search(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printChatList(cmd, app, "history search", chats)
			})
		},
	}
}

func printChatList(cmd *cobra.Command, app *App, command string, chats []storage.ChatSummary) error {
	out := cmd.OutOrStdout()
	if app.JSON {
		if chats == nil {
			chats = []storage.ChatSummary{}
		}
		return NewJSONResponse(command, map[string]any{
			"chats": chats,
			"count": len(chats),
		}).Print(out)
	}
	fmt.Fprint(out, storage.FormatChatList(chats))
	if len(chats) == 0 {
		fmt.Fprintln(out)
	}
	return nil
}

// =============================================================================
// SHOW
// =============================================================================

func newHistoryShowCmd(app *App) *cobra.Command {
	var markdown bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(app, func(store *storage.ChatStore) error {
				id, err := store.ResolveID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				c, err := store.GetChat(cmd.Context(), id)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				switch {
				case app.JSON:
					return NewJSONResponse("history show", c).Print(out)
				case markdown:
					md, err := export.NewMarkdownExporter(export.DefaultOptions()).Export(c)
					if err != nil {
						return err
					}
					_, err = out.Write(md)
					return err
				}

				fmt.Fprintln(out, RenderConditional(TitleStyle, c.ChatName))
				fmt.Fprintf(out, "%s %s\n", RenderLabel("ID:", 10), c.ChatID)
				fmt.Fprintf(out, "%s %s\n", RenderLabel("Created:", 10), c.CreatedOn.Format("2006-01-02 15:04"))
				fmt.Fprintln(out, RenderSeparator())
				for _, msg := range c.Messages {
					fmt.Fprintf(out, "\n%s\n%s\n", RenderRole(msg.Role), WrapText(msg.Content, 0))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&markdown, "markdown", false, "Export as Markdown")
	return cmd
}

// =============================================================================
// EXPORT
// =============================================================================

func newHistoryExportCmd(app *App) *cobra.Command {
	var (
		format string
		output string
		theme  string
		noMeta bool
	)

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a chat to a Markdown, JSON or HTML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.DefaultOptions()
			opts.OutputDir = output
			opts.Theme = theme
			opts.IncludeMetadata = !noMeta

			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return &UsageError{Message: err.Error()}
			}

			return withStore(app, func(store *storage.ChatStore) error {
				id, err := store.ResolveID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				c, err := store.GetChat(cmd.Context(), id)
				if err != nil {
					return err
				}

				path, err := export.ToFile(c, exporter, opts)
				if err != nil {
					return NewCommandError("history", "export", "could not export chat", err)
				}

				if app.JSON {
					return NewJSONResponse("history export", map[string]string{
						"chat_id":   id,
						"path":      path,
						"mime_type": exporter.MimeType(),
					}).Print(cmd.OutOrStdout())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Exported to %s\n", RenderConditional(SuccessStyle, "[OK]"), path)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Export format: markdown, json, html")
	cmd.Flags().StringVarP(&output, "output", "o", ".", "Output directory")
	cmd.Flags().StringVar(&theme, "theme", "dark", "HTML theme: dark or light")
	cmd.Flags().BoolVar(&noMeta, "no-metadata", false, "Omit the metadata header")
	return cmd
}

// =============================================================================
// DELETE / CLEAR
// =============================================================================

func newHistoryDeleteCmd(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a chat",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(app, func(store *storage.ChatStore) error {
				ctx := cmd.Context()
				id, err := store.ResolveID(ctx, args[0])
				if err != nil {
					return err
				}
				c, err := store.GetChat(ctx, id)
				if err != nil {
					return err
				}

				ok, err := RequireConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), "delete this chat",
					map[string]string{"Chat": c.ChatName, "ID": c.ChatID},
					ConfirmationOptions{Yes: yes, JSONMode: app.JSON})
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}

				if err := store.DeleteChat(ctx, id); err != nil {
					return NewCommandError("history", "delete", "could not delete chat", err)
				}

				if app.JSON {
					return NewJSONResponse("history delete", map[string]string{"chat_id": id}).Print(cmd.OutOrStdout())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", RenderConditional(SuccessStyle, "[OK]"), id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func newHistoryClearCmd(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(app, func(store *storage.ChatStore) error {
				ok, err := RequireConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), "delete ALL chats",
					map[string]string{"Database": store.Path()},
					ConfirmationOptions{Yes: yes, JSONMode: app.JSON})
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}

				n, err := store.DeleteAll(cmd.Context())
				if err != nil {
					return NewCommandError("history", "clear", "could not delete chats", err)
				}

				if app.JSON {
					return NewJSONResponse("history clear", map[string]int64{"deleted": n}).Print(cmd.OutOrStdout())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s chat(s)\n",
					RenderConditional(SuccessStyle, "[OK]"), strconv.FormatInt(n, 10))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}
