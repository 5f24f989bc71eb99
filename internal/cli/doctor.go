// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command implementation for s6zchat.
//
// Command: doctor
// Short:   Run health checks for both backends and the chat history
//
// Examples:
//   s6zchat doctor               Run all health checks
//   s6zchat doctor --json        Health check results in JSON
//
// Health Checks Performed:
//   1. Config Valid       - Validates the loaded configuration
//   2. Ollama Running     - Checks if the Ollama server is responding
//   3. Model Available    - Checks if the configured Ollama model is pulled
//   4. OpenAI Configured  - Checks for an OpenAI API key (optional)
//   5. History Writable   - Opens the chat history database
//
// Exit Codes:
//   0   All checks passed (warnings allowed)
//   1   One or more checks failed

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jeranaias/s6zchat/internal/cloud"
	"github.com/jeranaias/s6zchat/internal/config"
	"github.com/jeranaias/s6zchat/internal/ollama"
)

// doctorCheckTimeout bounds each network check.
const doctorCheckTimeout = 5 * time.Second

// =============================================================================
// DOCTOR STYLES
// =============================================================================

var (
	checkPassStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	checkWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true)

	checkFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	fixStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true).
			PaddingLeft(2)
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates the check passed with warnings.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the string representation of the check status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the status marker for the check status.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return RenderConditional(checkPassStyle, "[OK]")
	case CheckWarn:
		return RenderConditional(checkWarnStyle, "[!!]")
	case CheckFail:
		return RenderConditional(checkFailStyle, "[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"-"`
	Message string      `json:"message"`
	Fix     string      `json:"fix,omitempty"` // Suggested fix command or instruction
}

// Render returns a formatted string representation of the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + RenderConditional(fixStyle, "-> "+c.Fix)
	}
	return result
}

// DoctorCheck is the JSON form of a HealthCheck.
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// DoctorSummary counts check results.
type DoctorSummary struct {
	Passed  int  `json:"passed"`
	Warned  int  `json:"warned"`
	Failed  int  `json:"failed"`
	Healthy bool `json:"healthy"`
}

// DoctorData is the JSON payload of the doctor command.
type DoctorData struct {
	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// =============================================================================
// DOCTOR COMMAND
// =============================================================================

func newDoctorCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Run health checks for both backends and the chat history",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config()
			checks := runAllChecks(cmd.Context(), cfg, newOllamaClient(cfg), newOpenAIClient(cfg))
			return reportChecks(cmd.OutOrStdout(), checks, app.JSON)
		},
	}
}

// reportChecks prints checks and returns an error if any failed.
func reportChecks(w io.Writer, checks []*HealthCheck, jsonMode bool) error {
	summary := DoctorSummary{}
	for _, check := range checks {
		switch check.Status {
		case CheckPass:
			summary.Passed++
		case CheckWarn:
			summary.Warned++
		case CheckFail:
			summary.Failed++
		}
	}
	summary.Healthy = summary.Failed == 0

	var failErr error
	if summary.Failed > 0 {
		failErr = NewCommandError("doctor", "run", fmt.Sprintf("%d health check(s) failed", summary.Failed), nil)
	}

	if jsonMode {
		data := DoctorData{Summary: summary, Checks: make([]DoctorCheck, 0, len(checks))}
		for _, check := range checks {
			data.Checks = append(data.Checks, DoctorCheck{
				Name:    check.Name,
				Status:  check.Status.String(),
				Message: check.Message,
				Fix:     check.Fix,
			})
		}
		resp := NewJSONResponse("doctor", data)
		if failErr != nil {
			msg := failErr.Error()
			resp.Success = false
			resp.Error = &msg
		}
		if err := resp.Print(w); err != nil {
			return err
		}
		return failErr
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(TitleStyle, "s6zchat Doctor"))
	fmt.Fprintln(w, RenderSeparator(41))
	fmt.Fprintln(w)
	for _, check := range checks {
		fmt.Fprintln(w, check.Render())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderSeparator(41))

	parts := []string{fmt.Sprintf("%d passed", summary.Passed)}
	if summary.Warned > 0 {
		parts = append(parts, RenderConditional(checkWarnStyle, fmt.Sprintf("%d warning", summary.Warned)))
	}
	if summary.Failed > 0 {
		parts = append(parts, RenderConditional(checkFailStyle, fmt.Sprintf("%d failed", summary.Failed)))
	}
	fmt.Fprintln(w, RenderConditional(DimStyle, strings.Join(parts, ", ")))
	fmt.Fprintln(w)

	return failErr
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

// runAllChecks runs all health checks and returns the results.
func runAllChecks(ctx context.Context, cfg *config.Config, oc *ollama.Client, cc *cloud.Client) []*HealthCheck {
	running := checkOllamaRunning(ctx, oc)
	checks := []*HealthCheck{
		checkConfigValid(cfg),
		running,
	}
	if running.Status == CheckPass {
		checks = append(checks, checkModelAvailable(ctx, oc))
	}
	checks = append(checks,
		checkOpenAIConfigured(cc),
		checkHistoryWritable(cfg),
	)
	return checks
}

func checkConfigValid(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Config Valid"}

	// Warnings are covered by the backend checks.
	if _, err := cfg.Validate(); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Config invalid: %v", err)
		check.Fix = "Run: s6zchat config init --force"
		return check
	}

	check.Status = CheckPass
	check.Message = "Config valid"
	return check
}

func checkOllamaRunning(ctx context.Context, client *ollama.Client) *HealthCheck {
	check := &HealthCheck{Name: "Ollama Running"}

	ctx, cancel := context.WithTimeout(ctx, doctorCheckTimeout)
	defer cancel()

	version, err := client.Version(ctx)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Ollama not reachable at %s", client.GetConfig().BaseURL)
		check.Fix = "Run: ollama serve"
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Ollama running (v%s)", version)
	return check
}

func checkModelAvailable(ctx context.Context, client *ollama.Client) *HealthCheck {
	check := &HealthCheck{Name: "Model Available"}
	modelName := client.GetDefaultModel()

	ctx, cancel := context.WithTimeout(ctx, doctorCheckTimeout)
	defer cancel()

	models, err := client.ListModels(ctx)
	if err != nil {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Could not list models: %v", err)
		return check
	}

	for _, m := range models {
		if modelMatches(m, modelName) {
			check.Status = CheckPass
			check.Message = fmt.Sprintf("Model %s available", modelName)
			return check
		}
	}

	check.Status = CheckFail
	check.Message = fmt.Sprintf("Model %s not pulled", modelName)
	check.Fix = "Run: ollama pull " + modelName
	return check
}

// modelMatches reports whether an installed model satisfies want. A name
// without a tag means ":latest".
func modelMatches(installed, want string) bool {
	if installed == want {
		return true
	}
	if !strings.Contains(want, ":") {
		return installed == want+":latest"
	}
	return false
}

func checkOpenAIConfigured(client *cloud.Client) *HealthCheck {
	check := &HealthCheck{Name: "OpenAI Configured"}

	if !client.IsConfigured() {
		check.Status = CheckWarn
		check.Message = "No OpenAI API key (Open AI backend unavailable)"
		check.Fix = "Set OPENAI_API_KEY or openai.api_key in config.toml"
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("OpenAI key %s, model %s (%s API)", client.APIKeyMasked(), client.Model(), client.API())
	return check
}

func checkHistoryWritable(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "History Writable"}

	store, err := openStore(cfg)
	if err != nil {
		check.Status = CheckFail
		check.Message = err.Error()
		check.Fix = "Check permissions on ~/.s6zchat or set storage.path"
		return check
	}
	path := store.Path()
	store.Close()

	check.Status = CheckPass
	check.Message = "Chat history at " + path
	return check
}
