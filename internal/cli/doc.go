// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the s6zchat command line.
//
// Commands are built with cobra and share an App holding the global flags
// and the loaded configuration. Every command returns its error; Execute
// prints it once and maps it to an exit code.
//
// # Key Types
//
//   - App: global flags and configuration shared by all commands
//   - JSONResponse: envelope for --json output
//   - CommandError, UsageError: structured errors mapped to exit codes
//   - HealthCheck: one result of the doctor command
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Execute())
//	}
//
// # Commands Overview
//
//   - chat: interactive chat (the default command)
//   - ask: one question, answer streamed to stdout
//   - history: list, show, search and delete saved chats
//   - config: show the effective config or write a default file
//   - doctor: check both backends and the history database
//   - version: build information
//
// Commands that print data support --json.
package cli
