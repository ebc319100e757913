// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history keeps the append-only log of completed conversations.
//
// The log is advisory: the chat path dispatches appends in the background and
// discards failures, so a broken history file can never affect a response.
package history
