// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/Iceessence/localcursor/internal/backend"
	"github.com/Iceessence/localcursor/internal/util"
)

// SchemaVersion is written into every persisted document. Documents without
// a version field are treated as version 1.
const SchemaVersion = 1

// Document is the complete runtime settings record.
type Document struct {
	Version         int     `json:"version"`
	Backend         string  `json:"backend"`
	OllamaBaseURL   string  `json:"ollama_base_url"`
	LMStudioBaseURL string  `json:"lmstudio_base_url"`
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
	MaxTokens       int     `json:"max_tokens"`
}

// Defaults returns the built-in settings document.
func Defaults() Document {
	return Document{
		Version:         SchemaVersion,
		Backend:         backend.BackendOllama,
		OllamaBaseURL:   "http://127.0.0.1:11434",
		LMStudioBaseURL: "http://127.0.0.1:1234",
		Model:           "",
		Temperature:     0.2,
		TopP:            0.9,
		MaxTokens:       2048,
	}
}

// Patch is a partial settings update. Nil fields keep their current value.
type Patch struct {
	Backend         *string  `json:"backend"`
	OllamaBaseURL   *string  `json:"ollama_base_url"`
	LMStudioBaseURL *string  `json:"lmstudio_base_url"`
	Model           *string  `json:"model"`
	Temperature     *float64 `json:"temperature"`
	TopP            *float64 `json:"top_p"`
	MaxTokens       *int     `json:"max_tokens"`
}

// ValidationError describes a rejected settings field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a settings validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validate(doc Document) error {
	switch doc.Backend {
	case backend.BackendOllama, backend.BackendLMStudio:
	default:
		return &ValidationError{Field: "backend", Reason: "must be \"ollama\" or \"lmstudio\""}
	}
	if doc.Temperature < 0 || doc.Temperature > 2 {
		return &ValidationError{Field: "temperature", Reason: "must be between 0 and 2"}
	}
	if doc.TopP < 0 || doc.TopP > 1 {
		return &ValidationError{Field: "top_p", Reason: "must be between 0 and 1"}
	}
	if doc.MaxTokens <= 0 {
		return &ValidationError{Field: "max_tokens", Reason: "must be positive"}
	}
	return nil
}

// ============================================================================
// STORE
// ============================================================================

// Store reads and writes the settings document at a fixed path. An fsnotify
// watcher invalidates the in-memory cache when the file is edited out of
// band. Read-modify-write cycles are serialized with an in-process mutex;
// concurrent writers from other processes are last-writer-wins.
type Store struct {
	path string

	mu     sync.Mutex
	cached *Document
	stale  atomic.Bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore opens the settings store at path, creating the document with
// defaults if it does not exist yet.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, done: make(chan struct{})}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.save(Defaults()); err != nil {
			return nil, fmt.Errorf("failed to initialize settings: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat settings: %w", err)
	}

	s.startWatcher()
	return s, nil
}

// startWatcher begins watching the settings file's directory. Watching is
// best effort; without it the cache simply never goes stale from external
// edits.
func (s *Store) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("SETTINGS_WATCH_UNAVAILABLE | error=%v", err)
		return
	}
	// Watch the directory, not the file: atomic renames replace the inode.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		log.Printf("SETTINGS_WATCH_UNAVAILABLE | error=%v", err)
		w.Close()
		return
	}
	s.watcher = w
	go s.watch()
}

func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == filepath.Clean(s.path) {
				s.stale.Store(true)
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the file watcher.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Path returns the location of the settings document.
func (s *Store) Path() string {
	return s.path
}

// Get returns the current merged settings. Load failures degrade to the
// defaults rather than an error: a read always yields a complete document.
func (s *Store) Get() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() Document {
	if s.cached != nil && !s.stale.Swap(false) {
		return *s.cached
	}

	// Unmarshal over a defaults copy: fields absent from the persisted
	// document keep their default value.
	doc := Defaults()
	if data, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Printf("SETTINGS_LOAD_FAILED | path=%s error=%v", s.path, err)
			doc = Defaults()
		}
	}

	s.cached = &doc
	return doc
}

// Update merges the patch over the current document, validates the result,
// persists it atomically, and returns the merged document.
func (s *Store) Update(p Patch) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	if p.Backend != nil {
		doc.Backend = *p.Backend
	}
	if p.OllamaBaseURL != nil {
		doc.OllamaBaseURL = *p.OllamaBaseURL
	}
	if p.LMStudioBaseURL != nil {
		doc.LMStudioBaseURL = *p.LMStudioBaseURL
	}
	if p.Model != nil {
		doc.Model = *p.Model
	}
	if p.Temperature != nil {
		doc.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		doc.TopP = *p.TopP
	}
	if p.MaxTokens != nil {
		doc.MaxTokens = *p.MaxTokens
	}
	doc.Version = SchemaVersion

	if err := validate(doc); err != nil {
		return Document{}, err
	}

	if err := s.save(doc); err != nil {
		return Document{}, err
	}
	s.cached = &doc
	return doc, nil
}

func (s *Store) save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
