// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// BackendOllama is the Name() of the Ollama adapter.
const BackendOllama = "ollama"

// OllamaAdapter speaks Ollama's /api/generate protocol: a POST whose response
// body is newline-delimited JSON objects, each carrying a "response" token
// fragment and a "done" flag.
type OllamaAdapter struct {
	baseURL  string
	timeouts Timeouts
	client   *http.Client
}

// NewOllamaAdapter creates an adapter for the Ollama server at baseURL.
func NewOllamaAdapter(baseURL string, t Timeouts) *OllamaAdapter {
	t = t.WithDefaults()
	return &OllamaAdapter{
		baseURL:  trimBaseURL(baseURL),
		timeouts: t,
		client:   newStreamClient(t.Connect),
	}
}

// Name returns "ollama".
func (a *OllamaAdapter) Name() string {
	return BackendOllama
}

// ============================================================================
// WIRE TYPES
// ============================================================================

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumCtx      int     `json:"num_ctx"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

// buildPrompt flattens the conversation into Ollama's single-prompt generate
// format: one "ROLE: content" line per message plus a trailing "ASSISTANT:"
// line that cues the model to respond.
func buildPrompt(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		role := strings.ToUpper(m.Role)
		if role == "" {
			role = "USER"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("ASSISTANT:")
	return b.String()
}

func (a *OllamaAdapter) generateBody(req Request, stream bool) ([]byte, error) {
	return json.Marshal(ollamaGenerateRequest{
		Model:  req.Model,
		Prompt: buildPrompt(req.Messages),
		Stream: stream,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumCtx:      req.MaxTokens,
		},
	})
}

// ============================================================================
// OPERATIONS
// ============================================================================

// ListModels fetches the installed model names from /api/tags.
func (a *OllamaAdapter) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.List)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err, "list ollama models")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err, "read ollama model list")
	}

	var models []string
	gjson.GetBytes(body, "models").ForEach(func(_, item gjson.Result) bool {
		if name := item.Get("name").String(); name != "" {
			models = append(models, name)
		}
		return true
	})
	return models, nil
}

// Complete issues a single non-streaming generation.
func (a *OllamaAdapter) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Read)
	defer cancel()

	body, err := a.generateBody(req, false)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", transportError(err, "ollama completion")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(err, "read ollama completion")
	}
	if !gjson.ValidBytes(respBody) {
		return "", &UpstreamError{Kind: ErrorProtocol, Message: "ollama returned malformed JSON"}
	}
	return gjson.GetBytes(respBody, "response").String(), nil
}

// Stream issues a streaming generation and decodes the NDJSON frames.
//
// The stream ends when a frame carries done=true or the connection closes;
// both are natural terminations. Frames that fail to parse are skipped.
func (a *OllamaAdapter) Stream(ctx context.Context, req Request, fn StreamFunc) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := a.generateBody(req, true)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if parent.Err() != nil {
			return parent.Err()
		}
		return transportError(err, "connect to ollama")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	guard := newStreamGuard(cancel, a.timeouts.Read)
	defer guard.Stop()

	if err := fn(Frame{Connected: true}); err != nil {
		return err
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadBytes('\n')

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			guard.Touch()
			if gjson.ValidBytes(trimmed) {
				if token := gjson.GetBytes(trimmed, "response").String(); token != "" {
					if err := fn(Frame{Delta: token}); err != nil {
						return err
					}
				}
				if gjson.GetBytes(trimmed, "done").Bool() {
					return fn(Frame{Done: true})
				}
			}
		}

		if readErr != nil {
			switch {
			case readErr == io.EOF:
				// Connection closed without done=true: natural end.
				return fn(Frame{Done: true})
			case parent.Err() != nil:
				return parent.Err()
			case guard.Fired():
				return &UpstreamError{Kind: ErrorTimeout, Message: "ollama stream timed out"}
			default:
				return transportError(readErr, "read ollama stream")
			}
		}
	}
}
