// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/Iceessence/localcursor/internal/util"
)

// ErrorKind classifies upstream failures.
type ErrorKind int

const (
	// ErrorUnreachable means the backend could not be reached at all.
	ErrorUnreachable ErrorKind = iota

	// ErrorTimeout means the backend stopped responding within the
	// configured read timeout.
	ErrorTimeout

	// ErrorBadStatus means the backend answered with a non-2xx status.
	ErrorBadStatus

	// ErrorProtocol means the backend answered with a payload the adapter
	// could not make sense of.
	ErrorProtocol
)

// String returns a short label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorUnreachable:
		return "unreachable"
	case ErrorTimeout:
		return "timeout"
	case ErrorBadStatus:
		return "bad_status"
	case ErrorProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// UpstreamError is a structured error from a backend call.
type UpstreamError struct {
	Kind       ErrorKind
	StatusCode int // set for ErrorBadStatus
	Message    string
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// IsUpstreamError reports whether err is (or wraps) an UpstreamError.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// maxBodyExcerpt caps how much of an upstream error body ends up in messages.
const maxBodyExcerpt = 200

// statusError builds an UpstreamError from a non-2xx response, attaching a
// short excerpt of the body as the message.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &UpstreamError{
		Kind:       ErrorBadStatus,
		StatusCode: resp.StatusCode,
		Message:    util.TruncateRunes(string(body), maxBodyExcerpt),
	}
}

// transportError classifies a transport-level failure. Context cancellation
// is passed through unchanged so callers can tell a client disconnect from a
// genuine upstream fault.
func transportError(err error, op string) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &UpstreamError{Kind: ErrorTimeout, Message: op + " timed out", Cause: err}
	}
	return &UpstreamError{Kind: ErrorUnreachable, Message: op + " failed", Cause: err}
}
