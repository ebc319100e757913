// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings persists the runtime settings document: which backend to
// talk to, its base URLs, and the generation parameters. Reads always return
// a fully populated document; partial documents on disk are overlaid onto
// built-in defaults. Writes are atomic and merge partial updates over the
// current document.
package settings
