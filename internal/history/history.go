// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iceessence/localcursor/internal/backend"
	"github.com/Iceessence/localcursor/internal/util"
)

// SchemaVersion is written into the persisted log document.
const SchemaVersion = 1

// Entry is one recorded conversation.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Backend   string            `json:"backend"`
	Model     string            `json:"model"`
	Messages  []backend.Message `json:"messages"`
	Response  string            `json:"response,omitempty"`
}

// document is the on-disk shape of the log.
type document struct {
	Version  int     `json:"version"`
	Sessions []Entry `json:"sessions"`
}

// Log is the append-only history store. Appends rewrite the whole document
// atomically; an in-process mutex serializes the read-modify-write cycle.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog creates a history log backed by the file at path. The file is
// created lazily on first append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the location of the history document.
func (l *Log) Path() string {
	return l.path
}

// Append records an entry at the end of the log. The entry's ID and
// timestamp are filled in if unset; entries are never mutated afterwards.
func (l *Log) Append(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	} else {
		e.Timestamp = e.Timestamp.UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.loadLocked()
	if err != nil {
		return err
	}
	doc.Sessions = append(doc.Sessions, e)
	doc.Version = SchemaVersion

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := util.AtomicWriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// AppendAsync dispatches an append on its own goroutine and swallows any
// failure. The streaming path records through this; nothing downstream of a
// finished stream can act on an append error.
func (l *Log) AppendAsync(e Entry) {
	go func() {
		if err := l.Append(e); err != nil {
			log.Printf("HISTORY_APPEND_FAILED | error=%v", err)
		}
	}()
}

// Recent returns up to n entries, most recent first. n <= 0 returns all.
func (l *Log) Recent(n int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.loadLocked()
	if err != nil {
		return nil, err
	}

	sessions := doc.Sessions
	if n > 0 && len(sessions) > n {
		sessions = sessions[len(sessions)-n:]
	}

	// Reverse into most-recent-first order.
	out := make([]Entry, 0, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		out = append(out, sessions[i])
	}
	return out, nil
}

func (l *Log) loadLocked() (document, error) {
	doc := document{Version: SchemaVersion}

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read history: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode history: %w", err)
	}
	return doc, nil
}
