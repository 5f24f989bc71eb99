// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Command: ask
// Short:   Ask a single question and stream the answer
//
// Examples:
//   s6zchat ask "Why is the sky blue?"
//   echo "Summarise this" | s6zchat ask
//   s6zchat ask -b "Open AI" --no-save "What is 2+2?"

package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/s6zchat/internal/chat"
	"github.com/jeranaias/s6zchat/internal/stream"
)

// maxStdinPrompt caps a prompt read from stdin.
const maxStdinPrompt = 1 << 20

type askOptions struct {
	noSave bool
	resume string
}

func newAskCmd(app *App) *cobra.Command {
	opts := askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a single question and stream the answer",
		Long: `Ask sends one question to the selected backend and streams the answer
to stdout. With no arguments the question is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				q, err := readPiped(cmd.InOrStdin())
				if err != nil {
					return err
				}
				question = q
			}
			if question == "" {
				return &UsageError{Message: `no question provided. Usage: s6zchat ask "your question"`}
			}
			return runAsk(cmd, app, question, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "Do not save the exchange to history")
	cmd.Flags().StringVar(&opts.resume, "chat", "", "Continue a saved chat (ID or unique prefix)")
	return cmd
}

// readPiped reads a question from in when it is not a terminal.
func readPiped(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(io.LimitReader(in, maxStdinPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func runAsk(cmd *cobra.Command, app *App, question string, opts askOptions) error {
	cfg := app.Config()
	out := cmd.OutOrStdout()

	d, err := newDispatcher(cfg)
	if err != nil {
		return err
	}

	var store chat.Store
	if !opts.noSave || opts.resume != "" {
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s

		if opts.resume != "" {
			id, err := s.ResolveID(cmd.Context(), opts.resume)
			if err != nil {
				return err
			}
			opts.resume = id
		}
	}

	conv, err := chat.NewConversation(d, store, conversationOptions(cfg, d, app.backendName()))
	if err != nil {
		return err
	}
	if opts.resume != "" {
		if err := conv.Resume(cmd.Context(), opts.resume); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := conv.Send(ctx, question, func(delta string) {
		fmt.Fprint(out, delta)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	if outcome.State == stream.StateCancelled {
		fmt.Fprintln(cmd.ErrOrStderr(), RenderConditional(WarningStyle, "[Cancelled]"))
	}

	return outcomeError(outcome)
}

// outcomeError turns a failed stream into an error. A cancelled stream is
// not one.
func outcomeError(out stream.Outcome) error {
	if out.State == stream.StateErrored {
		return WrapError(out.Err, "stream failed")
	}
	return nil
}
