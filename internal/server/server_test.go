// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iceessence/localcursor/internal/backend"
	"github.com/Iceessence/localcursor/internal/config"
	"github.com/Iceessence/localcursor/internal/gateway"
	"github.com/Iceessence/localcursor/internal/history"
	"github.com/Iceessence/localcursor/internal/settings"
	"github.com/Iceessence/localcursor/internal/workspace"
)

// scriptedAdapter serves canned responses for handler tests.
type scriptedAdapter struct {
	deltas     []string
	completion string
	models     []string
	err        error
}

func (a *scriptedAdapter) Name() string { return "ollama" }

func (a *scriptedAdapter) ListModels(ctx context.Context) ([]string, error) {
	return a.models, a.err
}

func (a *scriptedAdapter) Complete(ctx context.Context, req backend.Request) (string, error) {
	return a.completion, a.err
}

func (a *scriptedAdapter) Stream(ctx context.Context, req backend.Request, fn backend.StreamFunc) error {
	if a.err != nil {
		return a.err
	}
	if err := fn(backend.Frame{Connected: true}); err != nil {
		return err
	}
	for _, d := range a.deltas {
		if err := fn(backend.Frame{Delta: d}); err != nil {
			return err
		}
	}
	return fn(backend.Frame{Done: true})
}

func newTestServer(t *testing.T, adapter backend.Adapter) *Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Workspace.Root = filepath.Join(dir, "workspace")
	cfg.Storage.DataDir = filepath.Join(dir, "data")

	st, err := settings.NewStore(cfg.SettingsPath())
	if err != nil {
		t.Fatalf("settings store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hist := history.NewLog(cfg.HistoryPath())

	ws, err := workspace.NewStore(cfg.Workspace.Root)
	if err != nil {
		t.Fatalf("workspace store: %v", err)
	}

	gw := gateway.New(st, hist, backend.Timeouts{}).WithAdapterFactory(
		func(name, baseURL string, _ backend.Timeouts) backend.Adapter {
			return adapter
		})

	return NewServer(cfg, gw, st, hist, ws)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
}

// ============================================================================
// HEALTH AND SETTINGS
// ============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var health HealthResponse
	decodeBody(t, rec, &health)
	if health.Status != "ok" {
		t.Errorf("expected status ok, got %s", health.Status)
	}
	if health.Backend != "ollama" {
		t.Errorf("expected default backend ollama, got %s", health.Backend)
	}
}

func TestGetSettingsReturnsDefaults(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "GET", "/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var doc settings.Document
	decodeBody(t, rec, &doc)
	if doc.Backend != "ollama" {
		t.Errorf("expected backend ollama, got %s", doc.Backend)
	}
	if doc.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", doc.Temperature)
	}
}

func TestUpdateSettingsPartialMerge(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "POST", "/settings", map[string]interface{}{
		"model": "llama3:8b",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var doc settings.Document
	decodeBody(t, rec, &doc)
	if doc.Model != "llama3:8b" {
		t.Errorf("expected model updated, got %s", doc.Model)
	}
	// Untouched fields keep their values.
	if doc.Backend != "ollama" {
		t.Errorf("patch must not clobber backend, got %s", doc.Backend)
	}
	if doc.Temperature != 0.2 {
		t.Errorf("patch must not clobber temperature, got %v", doc.Temperature)
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "POST", "/settings", map[string]interface{}{
		"backend": "skynet",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	// The document is unchanged after a rejected update.
	rec = doJSON(t, s.Handler(), "GET", "/settings", nil)
	var doc settings.Document
	decodeBody(t, rec, &doc)
	if doc.Backend != "ollama" {
		t.Errorf("rejected update must not change backend, got %s", doc.Backend)
	}
}

func TestUpdateSettingsMalformedBody(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	req := httptest.NewRequest("POST", "/settings", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// ============================================================================
// MODELS
// ============================================================================

func TestModels(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{models: []string{"llama3:8b", "qwen2.5:7b"}})

	rec := doJSON(t, s.Handler(), "GET", "/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var list gateway.ModelList
	decodeBody(t, rec, &list)
	if len(list.Models) != 2 {
		t.Errorf("expected 2 models, got %v", list.Models)
	}
	if list.Error != "" {
		t.Errorf("unexpected error: %s", list.Error)
	}
}

func TestModelsUnreachableBackendStill200(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{
		err: &backend.UpstreamError{Kind: backend.ErrorUnreachable, Message: "connection refused"},
	})

	rec := doJSON(t, s.Handler(), "GET", "/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("model listing is advisory, expected 200, got %d", rec.Code)
	}

	var list gateway.ModelList
	decodeBody(t, rec, &list)
	if list.Error == "" {
		t.Error("expected diagnostic error string")
	}
	if list.Models == nil || len(list.Models) != 0 {
		t.Errorf("expected empty models list, got %v", list.Models)
	}
}

// ============================================================================
// CHAT
// ============================================================================

func chatBody(model string) map[string]interface{} {
	return map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": "hello"},
		},
	}
}

func TestChatOnce(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{completion: "hi there"})

	rec := doJSON(t, s.Handler(), "POST", "/chat_once", chatBody("llama3:8b"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var result gateway.OnceResult
	decodeBody(t, rec, &result)
	if result.Response != "hi there" {
		t.Errorf("expected response, got %q", result.Response)
	}
	if result.Backend != "ollama" {
		t.Errorf("expected backend ollama, got %s", result.Backend)
	}
}

func TestChatOnceModelRequired(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "POST", "/chat_once", chatBody(""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatOnceUpstreamFailure(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{
		err: &backend.UpstreamError{Kind: backend.ErrorBadStatus, StatusCode: 500, Message: "model not loaded"},
	})

	rec := doJSON(t, s.Handler(), "POST", "/chat_once", chatBody("llama3:8b"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestChatRejectsInvalidRole(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	body := map[string]interface{}{
		"model": "llama3:8b",
		"messages": []map[string]string{
			{"role": "hacker", "content": "x"},
		},
	}
	rec := doJSON(t, s.Handler(), "POST", "/chat_once", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	body := map[string]interface{}{"model": "llama3:8b", "messages": []map[string]string{}}
	rec := doJSON(t, s.Handler(), "POST", "/chat_once", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatStreamEventSequence(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{deltas: []string{"Hel", "lo"}})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(chatBody("llama3:8b"))
	resp, err := http.Post(srv.URL+"/chat_stream", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected SSE content type, got %s", ct)
	}

	var events []gateway.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev gateway.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event frame %q: %v", line, err)
		}
		events = append(events, ev)
	}

	if len(events) != 7 {
		t.Fatalf("expected 7 events, got %d: %+v", len(events), events)
	}
	if events[0].Stage != gateway.StageConnecting {
		t.Errorf("first event stage = %s", events[0].Stage)
	}

	var text strings.Builder
	for _, ev := range events {
		if ev.Type == gateway.EventDelta {
			text.WriteString(ev.Text)
		}
	}
	if text.String() != "Hello" {
		t.Errorf("expected accumulated text Hello, got %q", text.String())
	}

	last := events[len(events)-1]
	if last.Type != gateway.EventEnd {
		t.Errorf("last event must be end, got %s", last.Type)
	}
}

func TestChatStreamModelRequiredBeforeEvents(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "POST", "/chat_stream", chatBody(""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before any event, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("resolution failure must be JSON, got %s", ct)
	}
}

func TestChatStreamUpstreamFaultInBand(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{
		err: &backend.UpstreamError{Kind: backend.ErrorUnreachable, Message: "connection refused"},
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(chatBody("llama3:8b"))
	resp, err := http.Post(srv.URL+"/chat_stream", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Upstream faults after the stream starts arrive as events, not as an
	// HTTP status.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	sawError := false
	sawEnd := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev gateway.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type == gateway.EventError {
			sawError = true
		}
		if ev.Type == gateway.EventEnd {
			sawEnd = true
		}
	}

	if !sawError {
		t.Error("expected an error event")
	}
	if !sawEnd {
		t.Error("expected a final end event")
	}
}

// ============================================================================
// HISTORY
// ============================================================================

func TestHistoryEndpoint(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	for i := 0; i < 3; i++ {
		err := s.history.Append(history.Entry{
			Backend:  "ollama",
			Model:    "m",
			Messages: []backend.Message{{Role: "user", Content: fmt.Sprintf("q%d", i)}},
			Response: fmt.Sprintf("a%d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rec := doJSON(t, s.Handler(), "GET", "/history?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp HistoryResponse
	decodeBody(t, rec, &resp)
	if len(resp.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(resp.Sessions))
	}
	// Most recent first.
	if resp.Sessions[0].Response != "a2" {
		t.Errorf("expected most recent first, got %s", resp.Sessions[0].Response)
	}
}

func TestHistoryEmptyIsList(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "GET", "/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"sessions":[]`) {
		t.Errorf("expected empty sessions array, got %s", rec.Body.String())
	}
}

func TestHistoryBadLimit(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "GET", "/history?limit=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// ============================================================================
// FILESYSTEM
// ============================================================================

func TestFSWriteReadList(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})
	h := s.Handler()

	rec := doJSON(t, h, "POST", "/fs/write", map[string]string{
		"path": "notes/todo.txt", "content": "write tests",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("write: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/fs/read?path=notes/todo.txt", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read: expected 200, got %d", rec.Code)
	}
	var read FSReadResponse
	decodeBody(t, rec, &read)
	if read.Content != "write tests" {
		t.Errorf("read content = %q", read.Content)
	}

	rec = doJSON(t, h, "GET", "/fs/list?path=notes", nil)
	var list FSListResponse
	decodeBody(t, rec, &list)
	if len(list.Entries) != 1 || list.Entries[0].Name != "todo.txt" {
		t.Errorf("unexpected listing: %+v", list.Entries)
	}
}

func TestFSEscapeRejected(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})
	h := s.Handler()

	rec := doJSON(t, h, "POST", "/fs/write", map[string]string{
		"path": "../outside.txt", "content": "nope",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for escape, got %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/fs/read?path=/etc/passwd", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for absolute path, got %d", rec.Code)
	}
}

func TestFSReadMissing(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "GET", "/fs/read?path=ghost.txt", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestFSNewConflict(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})
	h := s.Handler()

	rec := doJSON(t, h, "POST", "/fs/new", map[string]interface{}{"path": "a.txt", "is_dir": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/fs/new", map[string]interface{}{"path": "a.txt", "is_dir": false})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for existing file, got %d", rec.Code)
	}
}

func TestFSRenameAndDelete(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})
	h := s.Handler()

	doJSON(t, h, "POST", "/fs/write", map[string]string{"path": "old.txt", "content": "x"})

	rec := doJSON(t, h, "POST", "/fs/rename", map[string]string{"src": "old.txt", "dst": "sub/new.txt"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/fs/read?path=sub/new.txt", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read after rename: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/fs/delete", map[string]string{"path": "sub"})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/fs/read?path=sub/new.txt", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestFSSearch(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})
	h := s.Handler()

	doJSON(t, h, "POST", "/fs/write", map[string]string{
		"path": "report.txt", "content": "Quarterly report due Friday\nnothing else",
	})

	rec := doJSON(t, h, "POST", "/fs/search", map[string]string{"query": "report"})
	if rec.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", rec.Code)
	}

	var resp FSSearchResponse
	decodeBody(t, rec, &resp)
	if len(resp.Matches) != 2 {
		t.Fatalf("expected filename + content match, got %+v", resp.Matches)
	}
}

func TestFSSearchEmptyQueryIsEmptyList(t *testing.T) {
	s := newTestServer(t, &scriptedAdapter{})

	rec := doJSON(t, s.Handler(), "POST", "/fs/search", map[string]string{"query": "   "})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"matches":[]`) {
		t.Errorf("expected empty matches array, got %s", rec.Body.String())
	}
}
