package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanFilesScoresByPosition(t *testing.T) {
	ws := t.TempDir()
	mustWriteFile(t, ws, "MEMORY.md", "deadline first thing\n")
	mustWriteFile(t, ws, "memory/2025-06-09.md", "# 2025-06-09\n\n- 10:00:00 moved the deadline\n")

	hits := scanFiles(ws, "deadline", Scope{Key: "main", Kind: ScopeMain}, 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "MEMORY.md", hits[0].Path)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	for _, h := range hits {
		assert.Equal(t, "keyword", h.Strategy)
	}
}

func TestScanFilesCaseInsensitive(t *testing.T) {
	ws := t.TempDir()
	mustWriteFile(t, ws, "MEMORY.md", "The DEADLINE is Friday\n")

	hits := scanFiles(ws, "deadline", Scope{Key: "main", Kind: ScopeMain}, 10)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Snippet, "DEADLINE")
}

func TestScanFilesScopeFilter(t *testing.T) {
	ws := t.TempDir()
	mustWriteFile(t, ws, "memory/shared.md", "a shared note\n")
	mustWriteFile(t, ws, "memory/scopes/tg-1/private.md", "a private note\n")

	hits := scanFiles(ws, "note", Scope{Key: "main", Kind: ScopeMain}, 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "memory/shared.md", hits[0].Path)

	hits = scanFiles(ws, "note", Scope{Key: "tg-1", Kind: ScopeGroup}, 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "memory/scopes/tg-1/private.md", hits[0].Path)
}

func TestScanFilesLimit(t *testing.T) {
	ws := t.TempDir()
	mustWriteFile(t, ws, "memory/a.md", "match here\n")
	mustWriteFile(t, ws, "memory/b.md", "match here\n")
	mustWriteFile(t, ws, "memory/c.md", "match here\n")

	hits := scanFiles(ws, "match", Scope{Key: "main", Kind: ScopeMain}, 2)
	assert.Len(t, hits, 2)
}

func TestSnippetAround(t *testing.T) {
	content := "first line\nsecond line with match\ntrailing context\n\nafter blank"

	start, end, snippet := snippetAround(content, len("first line\nsecond line with "), len("match"))
	assert.Equal(t, 2, start)
	assert.Equal(t, 3, end)
	assert.Equal(t, "second line with match\ntrailing context", snippet)

	// A blank following line is not pulled in.
	start, end, snippet = snippetAround(content, len("first line\nsecond line with match\n"), len("trailing"))
	assert.Equal(t, 3, start)
	assert.Equal(t, 3, end)
	assert.Equal(t, "trailing context", snippet)
}

func TestFirstMatchScore(t *testing.T) {
	s, ok := firstMatchScore("Deadline moved", "deadline")
	require.True(t, ok)
	assert.Equal(t, 1.0, s)

	s, ok = firstMatchScore("xx deadline", "deadline")
	require.True(t, ok)
	assert.InDelta(t, 1.0/4.0, s, 1e-9)

	_, ok = firstMatchScore("nothing here", "deadline")
	assert.False(t, ok)
}
