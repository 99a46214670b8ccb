package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// debounceQuiet coalesces bursts of path-scoped sync requests into one
	// resync after this quiet window.
	debounceQuiet = 1500 * time.Millisecond
	// presyncMinInterval rate-limits the opportunistic pre-search resync.
	presyncMinInterval = 10 * time.Second
	// mtimeTolerance absorbs filesystem timestamp granularity.
	mtimeTolerance = time.Second
)

// syncFlight is one in-progress traversal shared by concurrent callers.
type syncFlight struct {
	done chan struct{}
	err  error
}

// SyncIncremental brings the store in line with the filesystem. With no
// OnlyPaths it scans every indexable file and reconciles deletions; with
// OnlyPaths it refreshes just those files. Concurrent callers share one
// in-flight traversal rather than racing duplicate scans.
func (r *Runtime) SyncIncremental(ctx context.Context, opts SyncOptions) error {
	if r.store == nil || !r.caps.storeAvailable() {
		return nil
	}

	r.syncMu.Lock()
	if r.inflight != nil {
		flight := r.inflight
		r.syncMu.Unlock()
		select {
		case <-flight.done:
			return flight.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	flight := &syncFlight{done: make(chan struct{})}
	r.inflight = flight
	r.syncMu.Unlock()

	err := r.syncPass(ctx, opts)

	r.syncMu.Lock()
	flight.err = err
	r.inflight = nil
	r.lastSync = time.Now()
	r.syncMu.Unlock()
	close(flight.done)
	return err
}

// scheduleSync records paths needing a resync and (re)arms the debounce
// timer. High-frequency writers call this instead of forcing a sync.
func (r *Runtime) scheduleSync(paths ...string) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	if r.closed {
		return
	}

	for _, p := range paths {
		r.pendingPaths[filepath.ToSlash(p)] = struct{}{}
	}
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(debounceQuiet, r.flushScheduledSync)
}

func (r *Runtime) flushScheduledSync() {
	r.debounceMu.Lock()
	if r.closed {
		r.debounceMu.Unlock()
		return
	}
	paths := make([]string, 0, len(r.pendingPaths))
	for p := range r.pendingPaths {
		paths = append(paths, p)
	}
	r.pendingPaths = make(map[string]struct{})
	// Registered under debounceMu so Close, which flips closed under the
	// same lock, either stops this flush here or waits for it to finish
	// before releasing the store.
	r.flushWG.Add(1)
	r.debounceMu.Unlock()
	defer r.flushWG.Done()

	if len(paths) == 0 {
		return
	}
	if err := r.SyncIncremental(context.Background(), SyncOptions{OnlyPaths: paths}); err != nil {
		r.logger.Warn().Err(err).Msg("debounced sync failed")
	}
}

// maybeResync runs an opportunistic pre-search sync, rate-limited so query
// traffic cannot force constant re-scanning.
func (r *Runtime) maybeResync(ctx context.Context) {
	r.syncMu.Lock()
	recent := time.Since(r.lastSync) < presyncMinInterval
	r.syncMu.Unlock()
	if recent {
		return
	}
	if err := r.SyncIncremental(ctx, SyncOptions{}); err != nil {
		r.logger.Warn().Err(err).Msg("pre-search sync failed")
	}
}

func (r *Runtime) syncPass(ctx context.Context, opts SyncOptions) error {
	passID, _ := gonanoid.New(8)
	start := time.Now()
	full := len(opts.OnlyPaths) == 0

	var candidates []string
	if full {
		paths, err := listIndexablePaths(r.workspace)
		if err != nil {
			return fmt.Errorf("list indexable files: %w", err)
		}
		candidates = paths
	} else {
		candidates = opts.OnlyPaths
	}

	visited := make(map[string]struct{}, len(candidates))
	indexed, skipped, failed := 0, 0, 0

	for _, rel := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		changed, err := r.indexOne(ctx, rel, opts.Force)
		if err != nil {
			// One file's failure must not abort the pass.
			failed++
			r.logger.Warn().Err(err).Str("path", rel).Str("pass", passID).Msg("file indexing failed")
			continue
		}
		visited[filepath.ToSlash(rel)] = struct{}{}
		if changed {
			indexed++
		} else {
			skipped++
		}
	}

	pruned := 0
	if full {
		n, err := r.pruneMissing(ctx, visited)
		if err != nil {
			r.logger.Warn().Err(err).Str("pass", passID).Msg("deletion reconciliation failed")
		}
		pruned = n
	}

	r.logger.Info().
		Str("pass", passID).
		Bool("full", full).
		Int("indexed", indexed).
		Int("skipped", skipped).
		Int("failed", failed).
		Int("pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("sync completed")
	return nil
}

// indexOne refreshes a single file. Returns changed=false when the file was
// skipped as unchanged. Each file's writes happen in one store transaction.
func (r *Runtime) indexOne(ctx context.Context, relPath string, force bool) (changed bool, err error) {
	full, err := resolveWorkspacePath(r.workspace, relPath)
	if err != nil {
		return false, err
	}
	rel := filepath.ToSlash(relPath)
	scopeKey, source := classifyPath(rel)

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			// A path-scoped sync for a deleted file reconciles it directly.
			if derr := r.store.DeleteFile(ctx, scopeKey, rel); derr != nil {
				r.noteStoreError(derr, "delete indexed file")
				return false, derr
			}
			return true, nil
		}
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}

	prev, err := r.store.GetFile(ctx, scopeKey, rel)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.noteStoreError(err, "load file meta")
		return false, err
	}

	if !force && prev != nil &&
		prev.SizeBytes == info.Size() &&
		absDuration(prev.MTime.Sub(info.ModTime())) < mtimeTolerance {
		return false, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", rel, err)
	}
	contentHash := hashContent(string(data))

	meta := FileMeta{
		ScopeKey:    scopeKey,
		RelPath:     rel,
		Source:      source,
		ContentHash: contentHash,
		MTime:       info.ModTime(),
		SizeBytes:   info.Size(),
	}

	// mtime/size can change without content changing; a matching hash only
	// needs the metadata refreshed.
	if !force && prev != nil && prev.ContentHash == contentHash {
		if err := r.store.TouchFile(ctx, meta); err != nil {
			r.noteStoreError(err, "touch file meta")
			return false, err
		}
		return false, nil
	}

	chunks := chunkLines(scopeKey, rel, source, string(data))
	if r.embeddingWanted() {
		for i := range chunks {
			chunks[i].Embedding = r.embedder.Embed(ctx, chunks[i].Content)
		}
	}

	if err := r.store.ReplaceFile(ctx, meta, chunks); err != nil {
		r.noteStoreError(err, "replace file chunks")
		return false, err
	}
	return true, nil
}

// embeddingWanted reports whether chunk embeddings should be computed:
// embedding must be enabled and the configured retrieval mode must use them.
func (r *Runtime) embeddingWanted() bool {
	if !r.embedder.Enabled() || !r.caps.vectorAvailable() {
		return false
	}
	return r.cfg.Mode == StrategyVector || r.cfg.Mode == StrategyHybrid
}

// pruneMissing deletes rows for files not visited by a full pass; this is how
// externally deleted files are reconciled.
func (r *Runtime) pruneMissing(ctx context.Context, visited map[string]struct{}) (int, error) {
	known, err := r.store.ListFiles(ctx)
	if err != nil {
		r.noteStoreError(err, "list indexed files")
		return 0, err
	}
	pruned := 0
	for _, f := range known {
		if _, ok := visited[f.RelPath]; ok {
			continue
		}
		if err := r.store.DeleteFile(ctx, f.ScopeKey, f.RelPath); err != nil {
			r.noteStoreError(err, "prune indexed file")
			continue
		}
		pruned++
	}
	return pruned, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
