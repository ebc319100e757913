// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iceessence/localcursor/internal/backend"
	"github.com/Iceessence/localcursor/internal/history"
	"github.com/Iceessence/localcursor/internal/settings"
)

// ErrModelRequired means neither the request nor the settings named a model.
var ErrModelRequired = errors.New("model is required")

// ErrUnknownBackend means the requested backend is neither "ollama" nor
// "lmstudio".
var ErrUnknownBackend = errors.New("unknown backend")

// eventBuffer gives terminal events somewhere to land when the consumer has
// already gone away.
const eventBuffer = 16

// ChatRequest is the client's backend-agnostic chat request. Unset fields
// are filled from the settings document.
type ChatRequest struct {
	Backend         string            `json:"backend,omitempty"`
	Model           string            `json:"model,omitempty"`
	Temperature     *float64          `json:"temperature,omitempty"`
	TopP            *float64          `json:"top_p,omitempty"`
	MaxTokens       *int              `json:"max_tokens,omitempty"`
	OllamaBaseURL   string            `json:"ollama_base_url,omitempty"`
	LMStudioBaseURL string            `json:"lmstudio_base_url,omitempty"`
	Messages        []backend.Message `json:"messages"`
}

// OnceResult is the response of a non-streaming chat call.
type OnceResult struct {
	Backend  string `json:"backend"`
	Model    string `json:"model"`
	Response string `json:"response"`
}

// ModelList is the advisory model listing: transport failures surface as a
// diagnostic string, never as an error.
type ModelList struct {
	Backend string   `json:"backend"`
	Models  []string `json:"models"`
	Error   string   `json:"error,omitempty"`
}

// AdapterFactory builds an adapter for a backend name and base URL. Swapped
// out in tests.
type AdapterFactory func(name, baseURL string, t backend.Timeouts) backend.Adapter

func defaultFactory(name, baseURL string, t backend.Timeouts) backend.Adapter {
	if name == backend.BackendLMStudio {
		return backend.NewOpenAICompatAdapter(baseURL, t)
	}
	return backend.NewOllamaAdapter(baseURL, t)
}

// Gateway resolves chat requests against settings and drives the chosen
// adapter. It holds no per-request state; any number of streams may be in
// flight concurrently.
type Gateway struct {
	settings *settings.Store
	history  *history.Log
	timeouts backend.Timeouts
	factory  AdapterFactory
}

// New creates a Gateway over the given settings store and history log.
func New(st *settings.Store, hist *history.Log, t backend.Timeouts) *Gateway {
	return &Gateway{
		settings: st,
		history:  hist,
		timeouts: t.WithDefaults(),
		factory:  defaultFactory,
	}
}

// WithAdapterFactory overrides adapter construction.
func (g *Gateway) WithAdapterFactory(f AdapterFactory) *Gateway {
	g.factory = f
	return g
}

// ============================================================================
// REQUEST RESOLUTION
// ============================================================================

type resolved struct {
	adapter     backend.Adapter
	backendName string
	req         backend.Request
}

// resolve overlays the request on the settings document and builds the
// adapter. A missing model or unknown backend is a client error, detected
// before any event is emitted.
func (g *Gateway) resolve(req ChatRequest) (resolved, error) {
	doc := g.settings.Get()

	name := req.Backend
	if name == "" {
		name = doc.Backend
	}

	var baseURL string
	switch name {
	case backend.BackendOllama:
		baseURL = req.OllamaBaseURL
		if baseURL == "" {
			baseURL = doc.OllamaBaseURL
		}
	case backend.BackendLMStudio:
		baseURL = req.LMStudioBaseURL
		if baseURL == "" {
			baseURL = doc.LMStudioBaseURL
		}
	default:
		return resolved{}, ErrUnknownBackend
	}

	model := req.Model
	if model == "" {
		model = doc.Model
	}
	if model == "" {
		return resolved{}, ErrModelRequired
	}

	breq := backend.Request{
		Model:       model,
		Messages:    req.Messages,
		Temperature: doc.Temperature,
		TopP:        doc.TopP,
		MaxTokens:   doc.MaxTokens,
	}
	if req.Temperature != nil {
		breq.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		breq.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		breq.MaxTokens = *req.MaxTokens
	}

	return resolved{
		adapter:     g.factory(name, baseURL, g.timeouts),
		backendName: name,
		req:         breq,
	}, nil
}

// ============================================================================
// STREAMING
// ============================================================================

// Stream starts a streaming chat. The returned channel carries the
// normalized event sequence and is closed after the final End event.
// Request-resolution failures are returned immediately, before any event.
//
// Cancelling ctx (the client disconnecting) stops the stream and terminates
// the sequence with Status(completed) and End - never an Error.
func (g *Gateway) Stream(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	r, err := g.resolve(req)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, eventBuffer)
	go g.run(ctx, r, req.Messages, out)
	return out, nil
}

func (g *Gateway) run(ctx context.Context, r resolved, messages []backend.Message, out chan<- Event) {
	defer close(out)

	requestID := uuid.NewString()
	start := time.Now()

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// Terminal events wait for a live consumer: a slow reader still gets
	// Status and End in order. Only after cancellation does delivery fall
	// back to the channel buffer, so a departed client's sequence is still
	// terminated without blocking forever.
	emitFinal := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
			select {
			case out <- ev:
			default:
			}
		}
	}

	emit(StatusEvent(StageConnecting, ""))

	var response strings.Builder
	streaming := false

	err := r.adapter.Stream(ctx, r.req, func(fr backend.Frame) error {
		switch {
		case fr.Connected:
			if !emit(StatusEvent(StageConnected, "")) {
				return ctx.Err()
			}
		case fr.Delta != "":
			if !streaming {
				streaming = true
				if !emit(StatusEvent(StageStreaming, "")) {
					return ctx.Err()
				}
			}
			// The emit doubles as the disconnect check before each
			// forwarded delta.
			if !emit(DeltaEvent(fr.Delta)) {
				return ctx.Err()
			}
			response.WriteString(fr.Delta)
		}
		return nil
	})

	switch {
	case err == nil:
		emitFinal(StatusEvent(StageCompleted, ""))
		emitFinal(EndEvent())
		log.Printf("CHAT_STREAM_COMPLETE | id=%s backend=%s model=%s chars=%d latency=%dms",
			requestID, r.backendName, r.req.Model, response.Len(), time.Since(start).Milliseconds())

	case errors.Is(err, context.Canceled):
		// Client went away mid-stream: ordinary termination.
		emitFinal(StatusEvent(StageCompleted, ""))
		emitFinal(EndEvent())
		log.Printf("CHAT_STREAM_DISCONNECT | id=%s backend=%s model=%s chars=%d",
			requestID, r.backendName, r.req.Model, response.Len())

	default:
		msg := err.Error()
		emitFinal(StatusEvent(StageError, msg))
		emitFinal(ErrorEvent(msg))
		emitFinal(EndEvent())
		log.Printf("CHAT_STREAM_ERROR | id=%s backend=%s model=%s error=%v",
			requestID, r.backendName, r.req.Model, err)
	}

	g.history.AppendAsync(history.Entry{
		Backend:  r.backendName,
		Model:    r.req.Model,
		Messages: messages,
		Response: response.String(),
	})
}

// ============================================================================
// NON-STREAMING
// ============================================================================

// ChatOnce issues a single blocking completion. Upstream faults propagate as
// *backend.UpstreamError; success is recorded in the history log before the
// result is returned. A failed append never fails the chat.
func (g *Gateway) ChatOnce(ctx context.Context, req ChatRequest) (OnceResult, error) {
	r, err := g.resolve(req)
	if err != nil {
		return OnceResult{}, err
	}

	text, err := r.adapter.Complete(ctx, r.req)
	if err != nil {
		return OnceResult{}, err
	}

	if err := g.history.Append(history.Entry{
		Backend:  r.backendName,
		Model:    r.req.Model,
		Messages: req.Messages,
		Response: text,
	}); err != nil {
		log.Printf("HISTORY_APPEND_FAILED | error=%v", err)
	}

	return OnceResult{
		Backend:  r.backendName,
		Model:    r.req.Model,
		Response: text,
	}, nil
}

// ============================================================================
// MODEL LISTING
// ============================================================================

// Models lists the models a backend serves. Listing is advisory and never
// fails: any error is folded into the result's diagnostic field.
func (g *Gateway) Models(ctx context.Context, backendName, baseURL string) ModelList {
	doc := g.settings.Get()

	name := backendName
	if name == "" {
		name = doc.Backend
	}

	switch name {
	case backend.BackendOllama:
		if baseURL == "" {
			baseURL = doc.OllamaBaseURL
		}
	case backend.BackendLMStudio:
		if baseURL == "" {
			baseURL = doc.LMStudioBaseURL
		}
	default:
		return ModelList{Backend: name, Models: []string{}, Error: ErrUnknownBackend.Error()}
	}

	models, err := g.factory(name, baseURL, g.timeouts).ListModels(ctx)
	if err != nil {
		log.Printf("MODEL_LIST_FAILED | backend=%s error=%v", name, err)
		return ModelList{Backend: name, Models: []string{}, Error: err.Error()}
	}
	if models == nil {
		models = []string{}
	}
	return ModelList{Backend: name, Models: models}
}
