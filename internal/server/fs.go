// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/Iceessence/localcursor/internal/workspace"
)

// setupFSRoutes configures the workspace file endpoints.
func (s *Server) setupFSRoutes() {
	s.router.HandleFunc("GET /fs/list", s.handleFSList)
	s.router.HandleFunc("GET /fs/read", s.handleFSRead)
	s.router.HandleFunc("POST /fs/write", s.handleFSWrite)
	s.router.HandleFunc("POST /fs/new", s.handleFSNew)
	s.router.HandleFunc("POST /fs/rename", s.handleFSRename)
	s.router.HandleFunc("POST /fs/delete", s.handleFSDelete)
	s.router.HandleFunc("POST /fs/search", s.handleFSSearch)
}

// writeFSError maps workspace failures onto HTTP statuses.
func (s *Server) writeFSError(w http.ResponseWriter, err error) {
	switch {
	case workspace.IsInvalidPath(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case workspace.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case workspace.IsExists(err):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		log.Printf("FS_ERROR | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "filesystem operation failed")
	}
}

// decodeFSBody parses a JSON request body into dst with the standard size cap.
func (s *Server) decodeFSBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("FS_BAD_REQUEST | path=%s error=%v", r.URL.Path, err)
		s.writeError(w, http.StatusBadRequest, "invalid request format")
		return false
	}
	return true
}

// ============================================================================
// READ ENDPOINTS
// ============================================================================

// FSListResponse is the directory listing response.
type FSListResponse struct {
	Entries []workspace.Entry `json:"entries"`
}

// handleFSList handles GET /fs/list?path=. An empty path lists the
// workspace root.
func (s *Server) handleFSList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.workspace.List(r.URL.Query().Get("path"))
	if err != nil {
		s.writeFSError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, FSListResponse{Entries: entries})
}

// FSReadResponse is the file content response.
type FSReadResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// handleFSRead handles GET /fs/read?path=.
func (s *Server) handleFSRead(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	content, err := s.workspace.Read(path)
	if err != nil {
		s.writeFSError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, FSReadResponse{Path: path, Content: content})
}

// ============================================================================
// MUTATION ENDPOINTS
// ============================================================================

type fsWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// handleFSWrite handles POST /fs/write.
func (s *Server) handleFSWrite(w http.ResponseWriter, r *http.Request) {
	var req fsWriteRequest
	if !s.decodeFSBody(w, r, &req) {
		return
	}

	if err := s.workspace.Write(req.Path, req.Content); err != nil {
		s.writeFSError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type fsNewRequest struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// handleFSNew handles POST /fs/new.
func (s *Server) handleFSNew(w http.ResponseWriter, r *http.Request) {
	var req fsNewRequest
	if !s.decodeFSBody(w, r, &req) {
		return
	}

	if err := s.workspace.Create(req.Path, req.IsDir); err != nil {
		s.writeFSError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type fsRenameRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// handleFSRename handles POST /fs/rename.
func (s *Server) handleFSRename(w http.ResponseWriter, r *http.Request) {
	var req fsRenameRequest
	if !s.decodeFSBody(w, r, &req) {
		return
	}

	if err := s.workspace.Rename(req.Src, req.Dst); err != nil {
		s.writeFSError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type fsDeleteRequest struct {
	Path string `json:"path"`
}

// handleFSDelete handles POST /fs/delete.
func (s *Server) handleFSDelete(w http.ResponseWriter, r *http.Request) {
	var req fsDeleteRequest
	if !s.decodeFSBody(w, r, &req) {
		return
	}

	if err := s.workspace.Delete(req.Path); err != nil {
		s.writeFSError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// SEARCH ENDPOINT
// ============================================================================

type fsSearchRequest struct {
	Query string `json:"query"`
	Path  string `json:"path"`
}

// FSSearchResponse is the search results response.
type FSSearchResponse struct {
	Matches []workspace.Match `json:"matches"`
}

// handleFSSearch handles POST /fs/search. The path field scopes the search
// to a subdirectory; empty searches the whole workspace.
func (s *Server) handleFSSearch(w http.ResponseWriter, r *http.Request) {
	var req fsSearchRequest
	if !s.decodeFSBody(w, r, &req) {
		return
	}

	matches, err := s.workspace.Search(r.Context(), req.Path, req.Query)
	if err != nil {
		s.writeFSError(w, err)
		return
	}
	if matches == nil {
		matches = []workspace.Match{}
	}

	s.writeJSON(w, http.StatusOK, FSSearchResponse{Matches: matches})
}
