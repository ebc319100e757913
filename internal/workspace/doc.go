// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workspace is the sandboxed file store the client browses and edits.
//
// Every operation takes a client-supplied relative path and resolves it
// against a confinement root; anything that escapes the root after symlink
// resolution fails with an invalid-path error before the filesystem is
// touched. The package never reports paths outside the root.
package workspace
