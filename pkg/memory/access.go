package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	maxGetLines       = 500
	maxGetChars       = 16 * 1024
	maxTranscriptItem = 4000
)

var eventPathPattern = regexp.MustCompile(`^session_events/([^/]+)/([^/]+)/event-(\d+)$`)

// Get reads a line window from a scoped memory path. Two namespaces are
// addressable: workspace-relative markdown paths, and synthetic
// session_events/<scopeKey>/<conversationId>/event-<id> paths. Path traversal
// and cross-scope access are hard errors, never silently redirected.
func (r *Runtime) Get(ctx context.Context, path string, opts GetOptions, scope Scope) (*GetResult, error) {
	if m := eventPathPattern.FindStringSubmatch(filepath.ToSlash(path)); m != nil {
		return r.getEvent(ctx, m, opts, scope)
	}
	return r.getFile(path, opts, scope)
}

func (r *Runtime) getFile(path string, opts GetOptions, scope Scope) (*GetResult, error) {
	full, err := resolveWorkspacePath(r.workspace, path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(r.workspace, full)
	if err != nil {
		return nil, fmt.Errorf("relativize path: %w", err)
	}
	rel = filepath.ToSlash(rel)

	if !pathAllowedForScope(rel, scope) {
		return nil, fmt.Errorf("%w: %q for scope %q", ErrScopeDenied, rel, scope.Key)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	_, source := classifyPath(rel)
	res := windowText(string(data), opts)
	res.Path = rel
	res.Scope = scope.Key
	res.Source = source
	return res, nil
}

func (r *Runtime) getEvent(ctx context.Context, m []string, opts GetOptions, scope Scope) (*GetResult, error) {
	scopeKey, conversationID := m[1], m[2]
	id, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad event id %q", ErrNotFound, m[3])
	}

	callerKey := scope.Key
	if callerKey == "" {
		callerKey = string(ScopeMain)
	}
	if scopeKey != callerKey {
		return nil, fmt.Errorf("%w: session events of %q for scope %q", ErrScopeDenied, scopeKey, scope.Key)
	}
	if r.store == nil || !r.caps.eventsAvailable() {
		return nil, fmt.Errorf("%w: session events unavailable", ErrNotFound)
	}

	ev, err := r.store.GetEvent(ctx, scopeKey, conversationID, id)
	if err != nil {
		r.noteStoreError(err, "get session event")
		return nil, fmt.Errorf("%w: event %d", ErrNotFound, id)
	}
	if ev == nil {
		return nil, fmt.Errorf("%w: event %d", ErrNotFound, id)
	}

	text := fmt.Sprintf("[%s] %s: %s", ev.CreatedAt.Format(time.RFC3339), ev.Role, ev.Content)
	res := windowText(text, opts)
	res.Path = m[0]
	res.Scope = scope.Key
	res.Source = SourceSession
	return res, nil
}

// windowText applies the line window and character ceiling, setting Truncated
// whenever either clamp binds.
func windowText(content string, opts GetOptions) *GetResult {
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	total := len(lines)

	from := opts.From
	if from < 1 {
		from = 1
	}
	if from > total {
		from = total
	}

	count := opts.Lines
	truncated := false
	if count < 1 {
		count = maxGetLines
	}
	if count > maxGetLines {
		count = maxGetLines
		truncated = true
	}

	to := from + count - 1
	if to > total {
		to = total
	}
	if opts.Lines > 0 && to-from+1 < opts.Lines && to < total {
		truncated = true
	}

	text := strings.Join(lines[from-1:to], "\n")
	if len(text) > maxGetChars {
		text = clipBytes(text, maxGetChars)
		truncated = true
	}

	return &GetResult{
		FromLine:  from,
		ToLine:    to,
		LineCount: total,
		Text:      text,
		Truncated: truncated,
	}
}

// Save appends a timestamped line to the scope's date-named daily file or its
// single long-term file, creating it with a header when absent, then forces a
// path-scoped resync so the content is immediately searchable.
func (r *Runtime) Save(ctx context.Context, content string, target SaveTarget, scope Scope) (*SaveResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content is required")
	}

	now := r.now()
	var rel string
	var header string
	switch target {
	case TargetDaily:
		rel = filepath.ToSlash(filepath.Join(scopeRoot(scope), now.Format("2006-01-02")+".md"))
		header = "# " + now.Format("2006-01-02")
	case TargetLongTerm:
		if scope.Key == "" || scope.Key == string(ScopeMain) {
			rel = longTermFile
		} else {
			rel = filepath.ToSlash(filepath.Join(scopeRoot(scope), longTermFile))
		}
		header = "# Long-term memory"
	default:
		return nil, fmt.Errorf("unknown save target %q", target)
	}

	line := fmt.Sprintf("- %s %s", now.Format("15:04:05"), strings.TrimSpace(content))
	if err := r.appendLine(rel, header, line); err != nil {
		return nil, err
	}

	if err := r.SyncIncremental(ctx, SyncOptions{OnlyPaths: []string{rel}}); err != nil {
		r.logger.Warn().Err(err).Str("path", rel).Msg("post-save resync failed")
	}

	return &SaveResult{Path: rel, Scope: scope.Key}, nil
}

// AppendTranscript records one conversational turn: a transcript line when
// transcripts are enabled, and a session event when the event store is
// available. Best-effort; failures are logged, never surfaced.
func (r *Runtime) AppendTranscript(ctx context.Context, scope Scope, role, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	if len(content) > maxTranscriptItem {
		content = clipBytes(content, maxTranscriptItem)
	}

	if r.cfg.TranscriptsEnabled {
		now := r.now()
		rel := filepath.ToSlash(filepath.Join(scopeRoot(scope), transcriptDir, now.Format("2006-01-02")+".md"))
		line := fmt.Sprintf("- %s **%s**: %s", now.Format("15:04:05"), role, strings.ReplaceAll(content, "\n", " "))
		if err := r.appendLine(rel, "# Transcript "+now.Format("2006-01-02"), line); err != nil {
			r.logger.Warn().Err(err).Str("path", rel).Msg("transcript append failed")
		} else {
			// Transcript appends are high-frequency: schedule, don't force.
			r.scheduleSync(rel)
		}
	}

	r.AppendEvent(ctx, scope.Key, scope.Key, role, content, nil)
}

// AppendEvent is the unconditional insert into the append-only session-event
// log. Best-effort like AppendTranscript; structural store errors disable
// session-event features for the process.
func (r *Runtime) AppendEvent(ctx context.Context, sessionKey, conversationID, role, content string, metadata map[string]any) {
	if r.store == nil || !r.caps.eventsAvailable() {
		return
	}
	_, err := r.store.AppendEvent(ctx, Event{
		SessionKey:     sessionKey,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      r.now(),
	})
	if err != nil {
		r.noteStoreError(err, "append session event")
		r.logger.Warn().Err(err).Str("session", sessionKey).Msg("session event append failed")
	}
}

func (r *Runtime) appendLine(rel, header, line string) error {
	full, err := resolveWorkspacePath(r.workspace, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create memory directory: %w", err)
	}

	_, statErr := os.Stat(full)
	creating := os.IsNotExist(statErr)

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	if creating && header != "" {
		if _, err := f.WriteString(header + "\n\n"); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append to %s: %w", rel, err)
	}
	return nil
}
