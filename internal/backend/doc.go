// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend talks to the model-serving backends.
//
// Two interchangeable implementations of the Adapter interface are provided:
//
//   - OllamaAdapter speaks Ollama's newline-delimited JSON generate API.
//   - OpenAICompatAdapter speaks the OpenAI chat-completions API with SSE
//     streaming, as served by LM Studio and compatible servers.
//
// Both decode their wire format defensively (malformed frames are skipped)
// and surface transport failures as *UpstreamError.
package backend
