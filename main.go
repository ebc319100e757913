// localcursor - local gateway for streaming LLM chat with a sandboxed workspace.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"github.com/Iceessence/localcursor/internal/commands"
)

func main() {
	commands.Execute()
}
