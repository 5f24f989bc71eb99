// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation for destructive history commands.
//
//  1. If --yes is present, proceed without prompting
//  2. In --json mode, --yes is required
//  3. If stdin is not a TTY, --yes is required
//  4. Otherwise, prompt

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ConfirmationOptions controls RequireConfirmation.
type ConfirmationOptions struct {
	// Yes indicates --yes was passed (skip the prompt)
	Yes bool
	// JSONMode indicates --json was passed
	JSONMode bool
	// Interactive reports whether a prompt can be shown. Nil means IsTTY.
	Interactive func() bool
}

// RequireConfirmation asks the user to confirm action on in, writing the
// prompt to out. It returns false when the user declines.
func RequireConfirmation(in io.Reader, out io.Writer, action string, details map[string]string, opts ConfirmationOptions) (bool, error) {
	if opts.Yes {
		return true, nil
	}
	if opts.JSONMode {
		return false, &UsageError{Message: "confirmation required: use --yes for destructive actions in JSON mode"}
	}

	interactive := opts.Interactive
	if interactive == nil {
		interactive = IsTTY
	}
	if !interactive() {
		return false, &UsageError{Message: "confirmation required but stdin is not a terminal; use --yes"}
	}

	fmt.Fprintln(out)
	for label, value := range details {
		fmt.Fprintf(out, "  %s%s\n", RenderLabel(label+":", 12), value)
	}
	if len(details) > 0 {
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Are you sure you want to %s? [y/N]: ", action)

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
