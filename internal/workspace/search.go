// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// maxScanTokenSize bounds a single line during content search; longer
	// lines make the file unscannable and it is skipped from that point.
	maxScanTokenSize = 1024 * 1024

	initialScanBufSize = 64 * 1024
)

// Match is one search hit. Line 0 marks a filename match; content matches
// carry their 1-based line number and the trimmed line as context.
type Match struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Context string `json:"context"`
}

// Search walks every file under scope looking for the case-folded query in
// file names and file contents. Unreadable files are skipped silently. An
// empty query, or a scope that does not resolve to an existing directory,
// yields an empty match list.
func (s *Store) Search(ctx context.Context, scope, query string) ([]Match, error) {
	matches := []Match{}
	if strings.TrimSpace(query) == "" {
		return matches, nil
	}

	root, err := s.Resolve(scope)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return matches, nil
	}

	needle := strings.ToLower(query)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		rel := s.relPath(path)
		name := d.Name()

		if strings.Contains(strings.ToLower(name), needle) {
			matches = append(matches, Match{Path: rel, Line: 0, Context: name})
		}

		matches = append(matches, searchFile(path, rel, needle)...)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return matches, nil
}

// searchFile scans one file line by line. Any read or scan failure abandons
// the file without reporting an error.
func searchFile(path, rel, needle string) []Match {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var matches []Match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, initialScanBufSize), maxScanTokenSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), needle) {
			matches = append(matches, Match{
				Path:    rel,
				Line:    lineNum,
				Context: strings.TrimSpace(line),
			})
		}
	}
	// scanner.Err() deliberately ignored: binary or over-long content just
	// ends the scan early.
	return matches
}
