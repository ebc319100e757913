// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchFilenameAndContent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("notes/report.txt", "Quarterly report due"))
	require.NoError(t, s.Write("notes/other.txt", "nothing to see"))

	matches, err := s.Search(context.Background(), "", "report")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "notes/report.txt", matches[0].Path)
	assert.Equal(t, 0, matches[0].Line)
	assert.Equal(t, "report.txt", matches[0].Context)

	assert.Equal(t, "notes/report.txt", matches[1].Path)
	assert.Equal(t, 1, matches[1].Line)
	assert.Equal(t, "Quarterly report due", matches[1].Context)
}

func TestSearchCaseFolded(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("doc.txt", "Hello World\nsecond HELLO line"))

	matches, err := s.Search(context.Background(), "", "hello")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 1, matches[0].Line)
	assert.Equal(t, 2, matches[1].Line)
}

func TestSearchLineNumbersAndTrimming(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("f.txt", "first\n  needle in here  \nthird\nneedle again"))

	matches, err := s.Search(context.Background(), "", "needle")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, 2, matches[0].Line)
	assert.Equal(t, "needle in here", matches[0].Context)
	assert.Equal(t, 4, matches[1].Line)
	assert.Equal(t, "needle again", matches[1].Context)
}

func TestSearchEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("f.txt", "content"))

	matches, err := s.Search(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = s.Search(context.Background(), "", "   ")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchMissingScope(t *testing.T) {
	s := newTestStore(t)

	matches, err := s.Search(context.Background(), "no/such/dir", "query")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchScopedToSubdirectory(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("in/match.txt", "needle"))
	require.NoError(t, s.Write("out/match.txt", "needle"))

	matches, err := s.Search(context.Background(), "in", "needle")
	require.NoError(t, err)

	for _, m := range matches {
		assert.Contains(t, m.Path, "in/", "match outside scope: %+v", m)
	}
}

func TestSearchSkipsBinaryGracefully(t *testing.T) {
	s := newTestStore(t)

	// A file with very long lines is abandoned mid-scan, not fatal.
	long := make([]byte, 2*1024*1024)
	for i := range long {
		long[i] = 'a'
	}
	require.NoError(t, s.Write("big.txt", string(long)))
	require.NoError(t, s.Write("small.txt", "needle here"))

	matches, err := s.Search(context.Background(), "", "needle")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "small.txt", matches[0].Path)
}

func TestSearchEscapingScopeRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Search(context.Background(), "../..", "q")
	assert.True(t, IsInvalidPath(err))
}

func TestSearchCancelled(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("f.txt", "needle"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Search(ctx, "", "needle")
	assert.ErrorIs(t, err, context.Canceled)
}
