// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Config command implementation for s6zchat.
//
// Command: config [subcommand]
// Short:   View and create the configuration file
//
// Subcommands:
//   show (default)      Display the effective configuration
//   path                Show the configuration file path
//   init                Write a default configuration file
//
// Examples:
//   s6zchat config                 Show the effective config
//   s6zchat config show --json     Config in JSON format (API key redacted)
//   s6zchat config path            Show config file location
//   s6zchat config init            Create ~/.s6zchat/config.toml
//   s6zchat config init --force    Overwrite an existing file

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jeranaias/s6zchat/internal/cloud"
	"github.com/jeranaias/s6zchat/internal/config"
)

var configSectionStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255"))

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and create the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.OutOrStdout(), app)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.OutOrStdout(), app)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configPath()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(path)
			exists := statErr == nil

			if app.JSON {
				return NewJSONResponse("config path", map[string]any{
					"path":   path,
					"exists": exists,
				}).Print(cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	cmd.AddCommand(newConfigInitCmd(app))
	return cmd
}

func newConfigInitCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &UsageError{Message: fmt.Sprintf("%s already exists (use --force to overwrite)", path)}
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if app.ConfigPath == "" {
				err = config.Save(config.Default())
			} else {
				err = config.SaveTOML(config.Default(), path)
			}
			if err != nil {
				return NewCommandError("config", "init", "could not write config", err)
			}

			if app.JSON {
				return NewJSONResponse("config init", map[string]string{"path": path}).Print(cmd.OutOrStdout())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", RenderConditional(SuccessStyle, "[OK]"), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

// showConfig prints the effective configuration with the API key masked.
func showConfig(w io.Writer, app *App) error {
	cfg := app.Config()
	if app.JSON {
		return NewJSONResponse("config show", cfg.Redacted()).Print(w)
	}

	path, _ := app.configPath()
	key := cloud.NewClient(cfg.OpenAI.APIKey).APIKeyMasked()

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(TitleStyle, "s6zchat Configuration"))
	fmt.Fprintln(w, RenderSeparator(41))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("File:", 20), path)

	sections := []struct {
		name string
		rows [][2]string
	}{
		{"[app]", [][2]string{
			{"generate_titles", strconv.FormatBool(cfg.App.GenerateTitles)},
			{"title_model", orDefault(cfg.App.TitleModel, "(per backend)")},
			{"system_prompt", orDefault(cfg.App.SystemPrompt, "(none)")},
		}},
		{"[backend]", [][2]string{
			{"default", cfg.Backend.Default},
		}},
		{"[ollama]", [][2]string{
			{"base_url", cfg.Ollama.BaseURL},
			{"model", cfg.Ollama.Model},
			{"timeout_secs", strconv.Itoa(cfg.Ollama.TimeoutSecs)},
		}},
		{"[openai]", [][2]string{
			{"api_key", key},
			{"base_url", cfg.OpenAI.BaseURL},
			{"model", cfg.OpenAI.Model},
			{"api", cfg.OpenAI.API},
		}},
		{"[stream]", [][2]string{
			{"merger", cfg.Stream.Merger},
			{"window", strconv.Itoa(cfg.Stream.Window)},
			{"halt_on_malformed", strconv.FormatBool(cfg.Stream.HaltOnMalformed)},
		}},
		{"[storage]", [][2]string{
			{"path", orDefault(cfg.Storage.Path, "(default)")},
			{"flush_interval_ms", strconv.Itoa(cfg.Storage.FlushIntervalMs)},
		}},
		{"[log]", [][2]string{
			{"level", cfg.Log.Level},
			{"format", cfg.Log.Format},
		}},
	}

	for _, section := range sections {
		fmt.Fprintln(w)
		fmt.Fprintln(w, RenderConditional(configSectionStyle, section.name))
		for _, row := range section.rows {
			fmt.Fprintf(w, "  %s %s\n", RenderLabel(row[0]+":", 20), RenderConditional(ValueStyle, row[1]))
		}
	}
	fmt.Fprintln(w)
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
