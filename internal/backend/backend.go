// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ============================================================================
// TYPES
// ============================================================================

// Message is a single turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a backend-agnostic completion request. All fields are fully
// resolved by the caller; adapters never consult defaults.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Frame is one decoded unit of a backend stream, already translated out of
// the backend's native wire format.
type Frame struct {
	// Connected is set on the single frame emitted once the upstream
	// connection is established, before any tokens arrive.
	Connected bool

	// Delta is a token fragment. Empty on Connected/Done frames.
	Delta string

	// Done is set when the backend signalled a natural end of stream.
	Done bool
}

// StreamFunc receives decoded frames in order. Returning a non-nil error
// aborts the stream; the error is propagated back through Stream.
type StreamFunc func(Frame) error

// Adapter is the capability interface every backend implementation satisfies.
type Adapter interface {
	// Name identifies the backend ("ollama", "lmstudio").
	Name() string

	// ListModels returns the identifiers of the models the backend serves.
	ListModels(ctx context.Context) ([]string, error)

	// Complete issues a single blocking completion.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream issues a streaming completion, invoking fn for each frame.
	Stream(ctx context.Context, req Request, fn StreamFunc) error
}

// ============================================================================
// TIMEOUTS
// ============================================================================

const (
	// DefaultConnectTimeout bounds the upstream dial.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultReadTimeout bounds the gap between stream frames and the whole
	// of a non-streaming call. Generation can be slow on local hardware, so
	// this is minutes, not seconds.
	DefaultReadTimeout = 300 * time.Second

	// DefaultListTimeout bounds a model-listing round trip.
	DefaultListTimeout = 20 * time.Second
)

// Timeouts configures how long an adapter waits on the upstream.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	List    time.Duration
}

// DefaultTimeouts returns the standard timeout configuration.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: DefaultConnectTimeout,
		Read:    DefaultReadTimeout,
		List:    DefaultListTimeout,
	}
}

// WithDefaults fills zero values so adapters can be constructed with a
// partially specified Timeouts.
func (t Timeouts) WithDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = DefaultConnectTimeout
	}
	if t.Read <= 0 {
		t.Read = DefaultReadTimeout
	}
	if t.List <= 0 {
		t.List = DefaultListTimeout
	}
	return t
}

// newStreamClient builds an HTTP client for streaming requests: the dial is
// bounded, but there is no overall timeout - the response body stays open for
// the life of the generation and reads are bounded by a streamGuard instead.
func newStreamClient(connect time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connect}).DialContext,
		},
	}
}

// trimBaseURL normalizes a configured base URL for path concatenation.
func trimBaseURL(base string) string {
	return strings.TrimRight(base, "/")
}

// ============================================================================
// STREAM GUARD
// ============================================================================

// streamGuard cancels a stream when no frame has arrived within the read
// timeout, and remembers that it fired so the caller can report a timeout
// instead of a bare cancellation.
type streamGuard struct {
	timer *time.Timer
	idle  time.Duration
	fired atomic.Bool
}

func newStreamGuard(cancel context.CancelFunc, idle time.Duration) *streamGuard {
	g := &streamGuard{idle: idle}
	g.timer = time.AfterFunc(idle, func() {
		g.fired.Store(true)
		cancel()
	})
	return g
}

// Touch resets the idle countdown. Called after every decoded frame.
func (g *streamGuard) Touch() {
	g.timer.Reset(g.idle)
}

func (g *streamGuard) Stop() {
	g.timer.Stop()
}

// Fired reports whether the guard cancelled the stream.
func (g *streamGuard) Fired() bool {
	return g.fired.Load()
}
