// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iceessence/localcursor/internal/util"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStoreCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	// Document exists on disk immediately.
	_, err = os.Stat(path)
	require.NoError(t, err)

	doc := s.Get()
	assert.Equal(t, Defaults(), doc)
}

func TestGetOverlaysPartialDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":"llama3:8b","temperature":0.7}`), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	doc := s.Get()
	assert.Equal(t, "llama3:8b", doc.Model)
	assert.Equal(t, 0.7, doc.Temperature)
	// Absent fields come from defaults.
	assert.Equal(t, "ollama", doc.Backend)
	assert.Equal(t, "http://127.0.0.1:11434", doc.OllamaBaseURL)
	assert.Equal(t, 2048, doc.MaxTokens)
}

func TestGetCorruptDocumentFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, Defaults(), s.Get())
}

func TestUpdateMergesSingleField(t *testing.T) {
	s := newTestStore(t)

	temp := 0.7
	got, err := s.Update(Patch{Temperature: &temp})
	require.NoError(t, err)

	want := Defaults()
	want.Temperature = 0.7
	assert.Equal(t, want, got)

	// Persisted: a fresh store sees the same document.
	s2, err := NewStore(s.Path())
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, want, s2.Get())
}

func TestUpdateValidation(t *testing.T) {
	s := newTestStore(t)

	bad := "exotic"
	_, err := s.Update(Patch{Backend: &bad})
	assert.True(t, IsValidationError(err), "backend: got %v", err)

	temp := 3.5
	_, err = s.Update(Patch{Temperature: &temp})
	assert.True(t, IsValidationError(err), "temperature: got %v", err)

	topP := -0.1
	_, err = s.Update(Patch{TopP: &topP})
	assert.True(t, IsValidationError(err), "top_p: got %v", err)

	tokens := 0
	_, err = s.Update(Patch{MaxTokens: &tokens})
	assert.True(t, IsValidationError(err), "max_tokens: got %v", err)

	// A failed update leaves the document untouched.
	assert.Equal(t, Defaults(), s.Get())
}

func TestUpdateSwitchBackend(t *testing.T) {
	s := newTestStore(t)

	lm := "lmstudio"
	got, err := s.Update(Patch{Backend: &lm})
	require.NoError(t, err)
	assert.Equal(t, "lmstudio", got.Backend)
}

func TestExternalEditInvalidatesCache(t *testing.T) {
	s := newTestStore(t)

	// Prime the cache.
	assert.Equal(t, "", s.Get().Model)

	// Edit the file the way another process would.
	err := util.AtomicWriteFile(s.Path(), []byte(`{"model":"external"}`), 0o644)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return s.Get().Model == "external"
	}, 2*time.Second, 10*time.Millisecond, "cache should pick up the external edit")
}
