// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// BackendLMStudio is the Name() of the OpenAI-compatible adapter.
const BackendLMStudio = "lmstudio"

// doneSentinel terminates an OpenAI-style SSE stream.
var doneSentinel = []byte("[DONE]")

// OpenAICompatAdapter speaks the OpenAI chat-completions API: SSE streaming
// with "data:" frames and a literal [DONE] sentinel. LM Studio and most local
// OpenAI-compatible servers expose this protocol.
type OpenAICompatAdapter struct {
	baseURL  string
	timeouts Timeouts
	client   *http.Client
}

// NewOpenAICompatAdapter creates an adapter for the OpenAI-compatible server
// at baseURL.
func NewOpenAICompatAdapter(baseURL string, t Timeouts) *OpenAICompatAdapter {
	t = t.WithDefaults()
	return &OpenAICompatAdapter{
		baseURL:  trimBaseURL(baseURL),
		timeouts: t,
		client:   newStreamClient(t.Connect),
	}
}

// Name returns "lmstudio".
func (a *OpenAICompatAdapter) Name() string {
	return BackendLMStudio
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens"`
}

func (a *OpenAICompatAdapter) completionBody(req Request, stream bool) ([]byte, error) {
	return json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	})
}

// ListModels fetches the served model identifiers from /v1/models.
func (a *OpenAICompatAdapter) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.List)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err, "list models")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err, "read model list")
	}

	var models []string
	gjson.GetBytes(body, "data").ForEach(func(_, item gjson.Result) bool {
		if id := item.Get("id").String(); id != "" {
			models = append(models, id)
		}
		return true
	})
	return models, nil
}

// Complete issues a single non-streaming chat completion.
func (a *OpenAICompatAdapter) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Read)
	defer cancel()

	body, err := a.completionBody(req, false)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", transportError(err, "chat completion")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(err, "read chat completion")
	}
	if !gjson.ValidBytes(respBody) {
		return "", &UpstreamError{Kind: ErrorProtocol, Message: "backend returned malformed JSON"}
	}
	return gjson.GetBytes(respBody, "choices.0.message.content").String(), nil
}

// Stream issues a streaming chat completion and decodes the SSE frames.
//
// The stream ends at the [DONE] sentinel or when the connection closes.
// Frames that fail to parse as JSON are skipped.
func (a *OpenAICompatAdapter) Stream(ctx context.Context, req Request, fn StreamFunc) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := a.completionBody(req, true)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if parent.Err() != nil {
			return parent.Err()
		}
		return transportError(err, "connect to backend")
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

	sse := newSSEReader(resp.Body)
	for {
		data, readErr := sse.ReadEvent()

		if len(data) > 0 {
			guard.Touch()
			if bytes.Equal(data, doneSentinel) {
				return fn(Frame{Done: true})
			}
			if gjson.ValidBytes(data) {
				if delta := gjson.GetBytes(data, "choices.0.delta.content").String(); delta != "" {
					if err := fn(Frame{Delta: delta}); err != nil {
						return err
					}
				}
			}
		}

		if readErr != nil {
			switch {
			case readErr == io.EOF:
				// Connection closed without [DONE]: natural end.
				return fn(Frame{Done: true})
			case parent.Err() != nil:
				return parent.Err()
			case guard.Fired():
				return &UpstreamError{Kind: ErrorTimeout, Message: "stream timed out"}
			default:
				return transportError(readErr, "read stream")
			}
		}
	}
}
