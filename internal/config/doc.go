// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for s6zchat.
//
// Configuration is TOML with sensible defaults, .env support, environment
// variable overrides, validation, and hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - OllamaConfig, OpenAIConfig: Backend connection settings
//   - StreamConfig: Stream decoder tuning
//   - ValidationError: A single invalid setting
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (S6Z_*, or the unprefixed name)
//   - .env in the working directory, then ~/.s6zchat/.env
//   - ~/.s6zchat/config.toml (or --config)
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	warnings, _ := cfg.Validate()
//
// Reload on change:
//
//	go config.Watch(ctx, path, func(cfg *config.Config, err error) { ... })
package config
