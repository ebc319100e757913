// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

// Stage is the lifecycle phase reported by status events, letting a client
// UI distinguish "waiting on the model" from "receiving tokens" without
// heuristics.
type Stage string

const (
	StageConnecting Stage = "connecting"
	StageConnected  Stage = "connected"
	StageStreaming  Stage = "streaming"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
)

// EventType tags the normalized event variants.
type EventType string

const (
	EventStatus EventType = "status"
	EventDelta  EventType = "delta"
	EventError  EventType = "error"
	EventEnd    EventType = "end"
)

// Event is the backend-agnostic streaming output unit.
type Event struct {
	Type    EventType `json:"type"`
	Stage   Stage     `json:"stage,omitempty"`
	Message string    `json:"message,omitempty"`
	Text    string    `json:"text,omitempty"`
}

// StatusEvent reports a lifecycle transition.
func StatusEvent(stage Stage, message string) Event {
	return Event{Type: EventStatus, Stage: stage, Message: message}
}

// DeltaEvent carries one token fragment.
func DeltaEvent(text string) Event {
	return Event{Type: EventDelta, Text: text}
}

// ErrorEvent carries an upstream fault description.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// EndEvent terminates every event sequence.
func EndEvent() Event {
	return Event{Type: EventEnd}
}
