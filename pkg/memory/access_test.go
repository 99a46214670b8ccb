package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveDailyThenSearch(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	r := newTestRuntime(t, st, nil)
	fixed := time.Date(2025, 6, 10, 14, 30, 5, 0, time.UTC)
	r.nowFn = func() time.Time { return fixed }

	res, err := r.Save(ctx, "部署完成，服务恢复正常", TargetDaily, Scope{Key: "main", Kind: ScopeMain})
	require.NoError(t, err)
	assert.Equal(t, "memory/2025-06-10.md", res.Path)

	data, err := os.ReadFile(filepath.Join(r.workspace, "memory", "2025-06-10.md"))
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "# 2025-06-10\n\n"))
	assert.Contains(t, content, "- 14:30:05 部署完成，服务恢复正常")

	// The post-save resync makes the note immediately searchable.
	hits, err := r.Search(ctx, "部署完成", Scope{Key: "main", Kind: ScopeMain})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "memory/2025-06-10.md", hits[0].Path)
}

func TestSaveAppendsWithoutDuplicateHeader(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t, newFakeStore(), nil)
	scope := Scope{Key: "main", Kind: ScopeMain}

	_, err := r.Save(ctx, "first", TargetDaily, scope)
	require.NoError(t, err)
	res, err := r.Save(ctx, "second", TargetDaily, scope)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(r.workspace, filepath.FromSlash(res.Path)))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "# "))
	assert.Contains(t, string(data), "first")
	assert.Contains(t, string(data), "second")
}

func TestSaveLongTermTargets(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t, newFakeStore(), nil)

	res, err := r.Save(ctx, "main fact", TargetLongTerm, Scope{Key: "main", Kind: ScopeMain})
	require.NoError(t, err)
	assert.Equal(t, "MEMORY.md", res.Path)

	res, err = r.Save(ctx, "group fact", TargetLongTerm, Scope{Key: "tg-7", Kind: ScopeGroup})
	require.NoError(t, err)
	assert.Equal(t, "memory/scopes/tg-7/MEMORY.md", res.Path)

	data, err := os.ReadFile(filepath.Join(r.workspace, "memory", "scopes", "tg-7", "MEMORY.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "group fact")
}

func TestSaveRejectsEmptyContent(t *testing.T) {
	r := newTestRuntime(t, nil, nil)
	_, err := r.Save(context.Background(), "   ", TargetDaily, Scope{Key: "main", Kind: ScopeMain})
	assert.Error(t, err)
}

func TestGetWindowing(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t, nil, nil)

	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	mustWriteFile(t, r.workspace, "memory/long.md", sb.String())

	res, err := r.Get(ctx, "memory/long.md", GetOptions{From: 3, Lines: 2}, Scope{Key: "main", Kind: ScopeMain})
	require.NoError(t, err)
	assert.Equal(t, 3, res.FromLine)
	assert.Equal(t, 4, res.ToLine)
	assert.Equal(t, 10, res.LineCount)
	assert.Equal(t, "line 3\nline 4", res.Text)
	assert.False(t, res.Truncated)

	// From beyond the end clamps to the last line.
	res, err = r.Get(ctx, "memory/long.md", GetOptions{From: 50}, Scope{Key: "main", Kind: ScopeMain})
	require.NoError(t, err)
	assert.Equal(t, 10, res.FromLine)
	assert.Equal(t, "line 10", res.Text)
}

func TestGetCharCeiling(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t, nil, nil)

	mustWriteFile(t, r.workspace, "memory/huge.md", strings.Repeat("x", 3*maxGetChars)+"\n")

	res, err := r.Get(ctx, "memory/huge.md", GetOptions{}, Scope{Key: "main", Kind: ScopeMain})
	require.NoError(t, err)
	assert.Len(t, res.Text, maxGetChars)
	assert.True(t, res.Truncated)
}

func TestGetDeniesTraversalAndForeignScope(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t, nil, nil)
	mustWriteFile(t, r.workspace, "memory/scopes/tg-1/secret.md", "scoped secret\n")

	_, err := r.Get(ctx, "../../etc/passwd", GetOptions{}, Scope{Key: "main", Kind: ScopeMain})
	assert.ErrorIs(t, err, ErrPathOutsideWorkspace)

	_, err = r.Get(ctx, "memory/scopes/tg-1/secret.md", GetOptions{}, Scope{Key: "main", Kind: ScopeMain})
	assert.ErrorIs(t, err, ErrScopeDenied)

	_, err = r.Get(ctx, "memory/scopes/tg-1/secret.md", GetOptions{}, Scope{Key: "tg-2", Kind: ScopeGroup})
	assert.ErrorIs(t, err, ErrScopeDenied)

	res, err := r.Get(ctx, "memory/scopes/tg-1/secret.md", GetOptions{}, Scope{Key: "tg-1", Kind: ScopeGroup})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "scoped secret")
}

func TestGetMissingFile(t *testing.T) {
	r := newTestRuntime(t, nil, nil)
	_, err := r.Get(context.Background(), "memory/absent.md", GetOptions{}, Scope{Key: "main", Kind: ScopeMain})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSessionEvent(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	r := newTestRuntime(t, st, nil)

	r.AppendEvent(ctx, "main", "conv-1", "user", "remember the deadline", nil)

	res, err := r.Get(ctx, "session_events/main/conv-1/event-1", GetOptions{}, Scope{Key: "main", Kind: ScopeMain})
	require.NoError(t, err)
	assert.Equal(t, SourceSession, res.Source)
	assert.Contains(t, res.Text, "user: remember the deadline")

	// Another scope cannot read main's events.
	_, err = r.Get(ctx, "session_events/main/conv-1/event-1", GetOptions{}, Scope{Key: "tg-1", Kind: ScopeGroup})
	assert.ErrorIs(t, err, ErrScopeDenied)

	_, err = r.Get(ctx, "session_events/main/conv-1/event-99", GetOptions{}, Scope{Key: "main", Kind: ScopeMain})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendTranscript(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	r := newTestRuntime(t, st, func(c *Config) { c.TranscriptsEnabled = true })
	fixed := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	r.nowFn = func() time.Time { return fixed }

	scope := Scope{Key: "main", Kind: ScopeMain}
	r.AppendTranscript(ctx, scope, "user", "multi\nline message")

	data, err := os.ReadFile(filepath.Join(r.workspace, "memory", "transcripts", "2025-06-10.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# Transcript 2025-06-10")
	// Newlines are flattened into the single transcript line.
	assert.Contains(t, content, "- 09:00:00 **user**: multi line message")

	// The turn is also recorded as a session event.
	n, _ := st.CountEvents(ctx)
	assert.Equal(t, int64(1), n)
	ev, err := st.GetEvent(ctx, "main", "main", 1)
	require.NoError(t, err)
	assert.Equal(t, "multi\nline message", ev.Content)
}

func TestAppendTranscriptDisabledStillRecordsEvent(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	r := newTestRuntime(t, st, func(c *Config) { c.TranscriptsEnabled = false })

	r.AppendTranscript(ctx, Scope{Key: "main", Kind: ScopeMain}, "assistant", "reply text")

	_, err := os.Stat(filepath.Join(r.workspace, "memory", "transcripts"))
	assert.True(t, os.IsNotExist(err))
	n, _ := st.CountEvents(ctx)
	assert.Equal(t, int64(1), n)
}

func TestAppendTranscriptClipsOversizedContent(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	r := newTestRuntime(t, st, func(c *Config) { c.TranscriptsEnabled = true })
	fixed := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	r.nowFn = func() time.Time { return fixed }
	scope := Scope{Key: "main", Kind: ScopeMain}

	r.AppendTranscript(ctx, scope, "user", strings.Repeat("a", maxTranscriptItem+500))

	ev, err := st.GetEvent(ctx, "main", "main", 1)
	require.NoError(t, err)
	assert.Len(t, ev.Content, maxTranscriptItem)
}

func TestAppendTranscriptClipsOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	r := newTestRuntime(t, st, func(c *Config) { c.TranscriptsEnabled = true })
	fixed := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	r.nowFn = func() time.Time { return fixed }

	// 4000 bytes lands mid-rune in this sequence; the clip must back up to
	// the previous rune start rather than store broken UTF-8.
	r.AppendTranscript(ctx, Scope{Key: "main", Kind: ScopeMain}, "user", strings.Repeat("数据库迁移", 1000))

	ev, err := st.GetEvent(ctx, "main", "main", 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ev.Content), maxTranscriptItem)
	assert.True(t, utf8.ValidString(ev.Content))
	assert.True(t, strings.HasSuffix(ev.Content, "库"))

	data, err := os.ReadFile(filepath.Join(r.workspace, "memory", "transcripts", "2025-06-10.md"))
	require.NoError(t, err)
	assert.True(t, utf8.Valid(data))
}

func TestGetClipsCharCeilingOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	r := newTestRuntime(t, nil, nil)

	mustWriteFile(t, r.workspace, "memory/huge.md", strings.Repeat("数据库迁移", 2000)+"\n")

	res, err := r.Get(ctx, "memory/huge.md", GetOptions{}, Scope{Key: "main", Kind: ScopeMain})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Text), maxGetChars)
	assert.True(t, utf8.ValidString(res.Text))
	assert.True(t, res.Truncated)
}
