// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/Iceessence/localcursor/internal/util"
)

// Entry describes one child of a workspace directory.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"` // posix-style, root-relative
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"` // 0 for directories
}

// Store performs confined file operations under a single root directory.
type Store struct {
	root string // canonical absolute path
}

// NewStore opens (creating if necessary) the workspace rooted at root.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize workspace root: %w", err)
	}
	return &Store{root: canonical}, nil
}

// Root returns the canonical confinement root.
func (s *Store) Root() string {
	return s.root
}

// ============================================================================
// PATH CONFINEMENT
// ============================================================================

// Resolve maps a client-supplied relative path to an absolute path inside the
// root. Absolute paths, ".." escapes, and symlink escapes all fail with a
// KindInvalidPath error. An empty path resolves to the root itself.
func (s *Store) Resolve(rel string) (string, error) {
	if rel == "" || rel == "." {
		return s.root, nil
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, "\\") {
		return "", &PathError{Kind: KindInvalidPath, Path: rel}
	}

	joined := filepath.Join(s.root, filepath.FromSlash(rel))

	resolved, err := resolveSymlinks(joined)
	if err != nil {
		return "", &PathError{Kind: KindInvalidPath, Path: rel}
	}
	if !isWithin(s.root, resolved) {
		return "", &PathError{Kind: KindInvalidPath, Path: rel}
	}
	return resolved, nil
}

// resolveSymlinks canonicalizes a path that may not exist yet: if the target
// is missing, the nearest existing ancestor is resolved and the remainder is
// reattached. This catches symlinks sitting anywhere on the path.
func resolveSymlinks(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	clean := filepath.Clean(p)
	parent := filepath.Dir(clean)
	if parent == clean {
		// Hit the filesystem root without finding anything.
		return "", err
	}
	resolvedParent, err := resolveSymlinks(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(clean)), nil
}

// isWithin reports whether p equals dir or descends from it. The separator
// check prevents "/work" matching "/workspace".
func isWithin(dir, p string) bool {
	if p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+string(filepath.Separator))
}

// relPath converts an absolute path back to the posix-style root-relative
// form reported to clients.
func (s *Store) relPath(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// ============================================================================
// OPERATIONS
// ============================================================================

// List returns the children of the given directory sorted by name. A path
// that does not resolve to an existing directory yields an empty list, not
// an error.
func (s *Store) List(rel string) ([]Entry, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		// Missing or not a directory: empty listing.
		return []Entry{}, nil
	}

	// os.ReadDir returns entries sorted by filename.
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		var size int64
		if !de.IsDir() {
			if info, err := de.Info(); err == nil {
				size = info.Size()
			}
		}
		entries = append(entries, Entry{
			Name:  de.Name(),
			Path:  s.relPath(filepath.Join(abs, de.Name())),
			IsDir: de.IsDir(),
			Size:  size,
		})
	}
	return entries, nil
}

// Read returns the contents of a file, decoded permissively: malformed UTF-8
// sequences are substituted rather than failing the read. Missing files and
// directories fail with KindNotFound.
func (s *Store) Read(rel string) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", &PathError{Kind: KindNotFound, Path: rel}
	case err != nil:
		return "", fmt.Errorf("failed to stat %s: %w", rel, err)
	case info.IsDir():
		return "", &PathError{Kind: KindNotFound, Path: rel}
	}

	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", &PathError{Kind: KindNotFound, Path: rel}
	} else if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}

	clean, _, err := transform.Bytes(runes.ReplaceIllFormed(), data)
	if err != nil {
		clean = data
	}
	return string(clean), nil
}

// Write replaces the contents of a file, creating parent directories as
// needed. The write is atomic: readers never observe a partial file.
func (s *Store) Write(rel, content string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if abs == s.root {
		return &PathError{Kind: KindInvalidPath, Path: rel}
	}
	if err := util.AtomicWriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// Create makes an empty file or directory. Directory creation is idempotent;
// creating a file that already exists fails with KindExists.
func (s *Store) Create(rel string, isDir bool) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if abs == s.root {
		return nil
	}

	if isDir {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", rel, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", rel, err)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return &PathError{Kind: KindExists, Path: rel}
		}
		return fmt.Errorf("failed to create %s: %w", rel, err)
	}
	return f.Close()
}

// Rename moves src to dst, creating dst's parent directories as needed.
// Both endpoints are confined independently.
func (s *Store) Rename(srcRel, dstRel string) error {
	src, err := s.Resolve(srcRel)
	if err != nil {
		return err
	}
	dst, err := s.Resolve(dstRel)
	if err != nil {
		return err
	}
	if src == s.root || dst == s.root {
		return &PathError{Kind: KindInvalidPath, Path: srcRel}
	}

	if _, err := os.Stat(src); err != nil {
		return &PathError{Kind: KindNotFound, Path: srcRel}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", dstRel, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", srcRel, dstRel, err)
	}
	return nil
}

// Delete removes a file or directory tree. Deleting a path that does not
// exist is a successful no-op. The root itself cannot be deleted.
func (s *Store) Delete(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if abs == s.root {
		return &PathError{Kind: KindInvalidPath, Path: rel}
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("failed to delete %s: %w", rel, err)
	}
	return nil
}
