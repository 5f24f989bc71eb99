// s6zchat - A streaming terminal chat client for Ollama and OpenAI.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/s6zchat/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
