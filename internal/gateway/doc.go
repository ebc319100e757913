// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway drives a backend adapter on behalf of one chat request and
// turns its stream into the normalized event sequence the client consumes.
//
// The event contract: every stream emits exactly one End event, always last,
// on every path - natural completion, client disconnect, and upstream fault
// alike. A client disconnect is an ordinary termination (completed, not
// error). Protocol details never leak past the adapter; the gateway sees
// only frames.
package gateway
