// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for s6zchat.
//
// Command: chat (also the default when no command is given)
// Short:   Start an interactive chat session
//
// Examples:
//   s6zchat chat                      Start a new chat on the default backend
//   s6zchat chat -b "Open AI"         Chat with OpenAI
//   s6zchat chat --resume 3f2a        Continue a saved chat
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /new, /clear        Start a new chat
//   /backend [name]     Show or switch backend
//   /history            Show this chat's messages
//   /chats              List saved chats
//   /resume <id>        Continue a saved chat
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/s6zchat/internal/chat"
	"github.com/jeranaias/s6zchat/internal/config"
	"github.com/jeranaias/s6zchat/internal/storage"
	"github.com/jeranaias/s6zchat/internal/stream"
)

// historyPreviewLength is the rune length of messages in /history.
const historyPreviewLength = 100

type chatOptions struct {
	resume string
}

func newChatCmd(app *App) *cobra.Command {
	opts := chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.resume, "resume", "r", "", "Continue a saved chat (ID or unique prefix)")
	return cmd
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlashCommand)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatSession holds the state for an interactive chat session.
type chatSession struct {
	app   *App
	conv  *chat.Conversation
	store *storage.ChatStore
	out   io.Writer
	err   io.Writer

	// reloaded holds a config picked up by the watcher, applied before the
	// next turn.
	mu       sync.Mutex
	reloaded *config.Config
}

func runChat(cmd *cobra.Command, app *App, opts chatOptions) error {
	if err := RequiresTTY("chat"); err != nil {
		return fmt.Errorf("%w (use \"s6zchat ask\" for piped input)", err)
	}

	cfg := app.Config()
	ctx := cmd.Context()

	d, err := newDispatcher(cfg)
	if err != nil {
		return err
	}

	session := &chatSession{
		app: app,
		out: cmd.OutOrStdout(),
		err: cmd.ErrOrStderr(),
	}

	var store chat.Store
	if s, err := openStore(cfg); err != nil {
		fmt.Fprintf(session.err, "%s %v (history disabled)\n", RenderConditional(WarningStyle, "[Warning]"), err)
	} else {
		defer s.Close()
		session.store = s
		store = s
	}

	session.conv, err = chat.NewConversation(d, store, conversationOptions(cfg, d, app.backendName()))
	if err != nil {
		return err
	}

	if opts.resume != "" {
		if err := session.resume(ctx, opts.resume); err != nil {
			return err
		}
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if path, err := app.configPath(); err == nil {
		go func() {
			if err := config.Watch(watchCtx, path, session.onConfigReload); err != nil {
				log.Debug().Err(err).Msg("Config watcher not started")
			}
		}()
	}

	input := NewChatCLI()
	defer input.Close()

	session.printWelcome()

	for {
		line, err := input.ReadInput(RenderConditional(PromptStyle, "s6z> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D, or closed input.
			fmt.Fprintln(session.out)
			fmt.Fprintln(session.out, RenderConditional(DimStyle, "Goodbye!"))
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			keepGoing, err := session.handleSlashCommand(ctx, line)
			if err != nil {
				fmt.Fprintf(session.err, "%s %v\n", RenderConditional(ErrorStyle, "[Error]"), err)
			}
			if !keepGoing {
				fmt.Fprintln(session.out, RenderConditional(DimStyle, "Goodbye!"))
				return nil
			}
			continue
		}

		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			fmt.Fprintln(session.out, RenderConditional(DimStyle, "Goodbye!"))
			return nil
		}

		if err := session.send(ctx, line); err != nil {
			fmt.Fprintf(session.err, "%s %v\n", RenderConditional(ErrorStyle, "[Error]"), err)
		}
	}
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// send runs one turn. Ctrl+C cancels the generation without leaving chat.
func (s *chatSession) send(ctx context.Context, prompt string) error {
	s.applyReload()

	genCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(s.out)
	out, err := s.conv.Send(genCtx, prompt, func(delta string) {
		fmt.Fprint(s.out, delta)
	})
	fmt.Fprintln(s.out)
	if err != nil {
		return err
	}

	switch out.State {
	case stream.StateCancelled:
		fmt.Fprintln(s.err, RenderConditional(WarningStyle, "[Cancelled]"))
	case stream.StateErrored:
		return WrapError(out.Err, "stream failed")
	}
	fmt.Fprintln(s.out)
	return nil
}

// onConfigReload is called by the config watcher.
func (s *chatSession) onConfigReload(cfg *config.Config, err error) {
	if err != nil {
		fmt.Fprintf(s.err, "\n%s config reload failed: %v\n", RenderConditional(WarningStyle, "[Warning]"), err)
		return
	}
	s.mu.Lock()
	s.reloaded = cfg
	s.mu.Unlock()
}

// applyReload swaps in a reloaded config between turns.
func (s *chatSession) applyReload() {
	s.mu.Lock()
	cfg := s.reloaded
	s.reloaded = nil
	s.mu.Unlock()
	if cfg == nil {
		return
	}

	d, err := newDispatcher(cfg)
	if err != nil {
		fmt.Fprintf(s.err, "%s %v\n", RenderConditional(WarningStyle, "[Warning]"), err)
		return
	}
	s.app.cfg = cfg
	s.conv.SetDispatcher(d)
	if s.app.Backend == "" {
		if err := s.conv.SetBackend(cfg.Backend.Default); err != nil {
			fmt.Fprintf(s.err, "%s %v\n", RenderConditional(WarningStyle, "[Warning]"), err)
		}
	}
	fmt.Fprintln(s.err, RenderConditional(DimStyle, "[Config reloaded]"))
}

func (s *chatSession) resume(ctx context.Context, prefix string) error {
	if s.store == nil {
		return errors.New("chat history is not available")
	}
	id, err := s.store.ResolveID(ctx, prefix)
	if err != nil {
		return err
	}
	if err := s.conv.Resume(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s (%d messages)\n",
		RenderConditional(SuccessStyle, "[Resumed]"),
		s.conv.Title(),
		len(s.conv.Messages()))
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

var slashCommands = []struct {
	cmd  string
	desc string
}{
	{"/help, /h", "Show this help"},
	{"/new, /clear", "Start a new chat"},
	{"/backend [name]", "Show or switch backend"},
	{"/history", "Show this chat's messages"},
	{"/chats", "List saved chats"},
	{"/resume <id>", "Continue a saved chat"},
	{"/quit, /q", "Exit chat"},
}

// completeSlashCommand completes slash command names for liner.
func completeSlashCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, name := range []string{"/help", "/new", "/clear", "/backend", "/history", "/chats", "/resume", "/quit"} {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	return out
}

// handleSlashCommand processes slash commands.
// Returns (keepGoing, error) where keepGoing=false means exit.
func (s *chatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	command, rest, _ := strings.Cut(line, " ")
	command = strings.ToLower(command)
	arg := strings.TrimSpace(rest)

	switch command {
	case "/help", "/h", "/?", "/":
		s.printHelp()

	case "/new", "/clear", "/c":
		if err := s.conv.Reset(); err != nil {
			return true, err
		}
		fmt.Fprintln(s.out, RenderConditional(SuccessStyle, "[New chat]"))

	case "/backend", "/b":
		if arg == "" {
			fmt.Fprintf(s.out, "%s %s (available: %s)\n",
				RenderConditional(DimStyle, "[Backend]"),
				s.conv.Backend(),
				strings.Join(chat.BackendNames(), ", "))
			return true, nil
		}
		if err := s.conv.SetBackend(arg); err != nil {
			return true, err
		}
		fmt.Fprintf(s.out, "%s Switched to %s\n", RenderConditional(SuccessStyle, "[OK]"), arg)

	case "/history":
		s.printHistory()

	case "/chats":
		if s.store == nil {
			return true, errors.New("chat history is not available")
		}
		list, err := s.store.ListChats(ctx, 0, 20)
		if err != nil {
			return true, err
		}
		fmt.Fprint(s.out, storage.FormatChatList(list))

	case "/resume":
		if arg == "" {
			return true, &UsageError{Message: "usage: /resume <chat id>"}
		}
		return true, s.resume(ctx, arg)

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (s *chatSession) printWelcome() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, RenderConditional(TitleStyle, "s6zchat interactive chat"))
	fmt.Fprintln(s.out, RenderSeparator(30))
	fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Backend:", 10), s.conv.Backend())
	if id := s.conv.ID(); id != "" {
		fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Chat:", 10), id)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, RenderConditional(DimStyle, "Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printHelp() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, RenderConditional(TitleStyle, "Available Commands"))
	fmt.Fprintln(s.out, RenderSeparator(20))
	for _, c := range slashCommands {
		fmt.Fprintf(s.out, "  %-18s %s\n", c.cmd, RenderConditional(DimStyle, c.desc))
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, RenderConditional(DimStyle, "Tip: Ctrl+C cancels the current generation, Ctrl+D exits"))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printHistory() {
	msgs := s.conv.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(s.out, RenderConditional(DimStyle, "[No messages yet]"))
		return
	}

	fmt.Fprintln(s.out)
	for i, msg := range msgs {
		fmt.Fprintf(s.out, "  %d. %s: %s\n", i+1, RenderRole(msg.Role), msg.Preview(historyPreviewLength))
	}
	fmt.Fprintln(s.out)
}
