// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/s6zchat/internal/config"
	"github.com/jeranaias/s6zchat/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APP STATE
// =============================================================================

// App holds the state shared by every command: global flags and the loaded
// configuration.
type App struct {
	ConfigPath string
	LogLevel   string
	Backend    string
	JSON       bool

	cfg *config.Config
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	if a.cfg == nil {
		a.cfg = config.Default()
	}
	return a.cfg
}

// backendName returns the --backend flag or the configured default.
func (a *App) backendName() string {
	if a.Backend != "" {
		return a.Backend
	}
	return a.Config().Backend.Default
}

// configPath returns --config or the default config file path.
func (a *App) configPath() (string, error) {
	if a.ConfigPath != "" {
		return a.ConfigPath, nil
	}
	return config.ConfigPath()
}

// load reads the configuration and sets up logging.
func (a *App) load(stderr io.Writer) error {
	var (
		cfg *config.Config
		err error
	)
	if a.ConfigPath != "" {
		cfg, err = config.LoadFromPath(a.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	a.cfg = cfg
	config.SetGlobal(cfg)

	level := cfg.Log.Level
	if a.LogLevel != "" {
		level = a.LogLevel
	}
	if err := logging.Setup(level, cfg.Log.Format, stderr); err != nil {
		return err
	}

	warnings, _ := cfg.Validate()
	for _, w := range warnings {
		log.Debug().Str("warning", w).Msg("Config warning")
	}
	return nil
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// annotationSkipConfig marks commands that run without loading the config.
const annotationSkipConfig = "skip_config"

// NewRootCmd builds the s6zchat command tree.
func NewRootCmd() *cobra.Command {
	app := &App{}

	root := &cobra.Command{
		Use:   "s6zchat",
		Short: "Streaming chat client for Ollama and OpenAI",
		Long: `s6zchat streams chat responses from a local Ollama server or the
OpenAI API and keeps every conversation in a local SQLite history.

Run with no command to start an interactive chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationSkipConfig] == "true" {
				// Commands that repair the config must run when it is broken.
				app.cfg = config.Default()
				return logging.Setup(app.LogLevel, logging.FormatConsole, cmd.ErrOrStderr())
			}
			return app.load(cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, app, chatOptions{})
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&app.ConfigPath, "config", "", "Config file (default ~/.s6zchat/config.toml)")
	flags.StringVar(&app.LogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	flags.StringVarP(&app.Backend, "backend", "b", "", `Backend: "Open AI" or "Ollama"`)
	flags.BoolVar(&app.JSON, "json", false, "Machine-readable JSON output where supported")

	root.AddCommand(newChatCmd(app))
	root.AddCommand(newAskCmd(app))
	root.AddCommand(newHistoryCmd(app))
	root.AddCommand(newConfigCmd(app))
	root.AddCommand(newDoctorCmd(app))
	root.AddCommand(newVersionCmd(app))

	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	root.SetContext(context.Background())

	cmd, err := root.ExecuteC()
	if err == nil {
		return ExitSuccess
	}

	jsonMode, _ := cmd.Flags().GetBool("json")
	DisplayError(cmd.ErrOrStderr(), err, jsonMode)
	return GetExitCode(err)
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version":    Version,
				"git_commit": GitCommit,
				"build_date": BuildDate,
			}
			if app.JSON {
				return NewJSONResponse("version", info).Print(cmd.OutOrStdout())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "s6zchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			return nil
		},
	}
}

