package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Retrieval strategies. The strategy label on a hit records which ladder rung
// produced it, except that vector-mode results enriched with full-text
// session-event hits keep the "vector" label (downstream consumers key on it).
const (
	StrategyKeyword = "keyword"
	StrategyFTS     = "fts"
	StrategyVector  = "vector"
	StrategyHybrid  = "hybrid"
)

// SourceSession marks hits drawn from the session-event log rather than an
// indexed file.
const SourceSession SourceType = "session"

const (
	defaultVectorWeight = 0.7
	defaultFTSWeight    = 0.3
	candidateLimit      = 200
)

// normalizeWeights scales (vector, fts) weights to sum to 1, falling back to
// the defaults when the configured sum is not positive.
func normalizeWeights(wv, wf float64) (float64, float64) {
	sum := wv + wf
	if sum <= 0 {
		return defaultVectorWeight, defaultFTSWeight
	}
	return wv / sum, wf / sum
}

// normalizeRank maps an unbounded full-text rank into [0,1).
func normalizeRank(rank float64) float64 {
	if rank < 0 {
		rank = 0
	}
	return rank / (1 + rank)
}

// cosineScore maps a cosine distance into [0,1].
func cosineScore(distance float64) float64 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func eventPath(scopeKey, conversationID string, id int64) string {
	return fmt.Sprintf("session_events/%s/%s/event-%d", scopeKey, conversationID, id)
}

// search runs the configured strategy over the backing store and unions in
// session events and temporal-recall candidates, then ranks, deduplicates and
// truncates. Store failures resolve into the filesystem scan, never an error.
func (r *Runtime) search(ctx context.Context, query string, scope Scope) []SearchHit {
	mode := r.cfg.Mode
	if mode == "" {
		mode = StrategyHybrid
	}

	if r.store == nil || !r.caps.storeAvailable() {
		return scanFiles(r.workspace, query, scope, r.cfg.MaxResults)
	}

	// Vector-dependent modes degrade before touching the store when no vector
	// can be produced for the query.
	var queryVec []float32
	if mode == StrategyVector || mode == StrategyHybrid {
		if r.caps.vectorAvailable() && r.embedder.Enabled() {
			queryVec = r.embedder.Embed(ctx, query)
		}
		if queryVec == nil {
			// Hybrid or vector without a query vector is just full-text.
			mode = StrategyFTS
		}
	}

	merged := make(map[string]SearchHit)

	switch mode {
	case StrategyKeyword:
		r.collectKeyword(ctx, query, scope, merged)
	case StrategyFTS:
		r.collectFTS(ctx, query, scope, merged, StrategyFTS)
	case StrategyVector:
		if !r.collectVector(ctx, query, queryVec, scope, merged) {
			// Zero candidate rows: retry the pass as full-text.
			mode = StrategyFTS
			r.collectFTS(ctx, query, scope, merged, StrategyFTS)
		}
	case StrategyHybrid:
		r.collectHybrid(ctx, query, queryVec, scope, merged)
	default:
		r.collectFTS(ctx, query, scope, merged, StrategyFTS)
	}

	r.collectEvents(ctx, query, scope, mode, merged)

	if win, ok := temporalWindow(query, r.now()); ok {
		r.collectTemporal(ctx, query, scope, win, mode, merged)
	}

	hits := rankAndTruncate(merged, r.cfg.MinScore, r.cfg.MaxResults)
	if len(hits) == 0 {
		return scanFiles(r.workspace, query, scope, r.cfg.MaxResults)
	}
	return hits
}

func (r *Runtime) collectKeyword(ctx context.Context, query string, scope Scope, merged map[string]SearchHit) {
	rows, err := r.store.SearchChunksSubstring(ctx, scope.Key, query, candidateLimit)
	if err != nil {
		r.noteStoreError(err, "chunk substring search")
		return
	}
	for _, row := range rows {
		score, ok := firstMatchScore(row.Content, query)
		if !ok {
			continue
		}
		mergeHit(merged, chunkKey(row), chunkHitToSearchHit(row, score, StrategyKeyword))
	}
}

func chunkKey(row ChunkHit) string {
	return fmt.Sprintf("%s#%d", row.RelPath, row.Index)
}

func (r *Runtime) collectFTS(ctx context.Context, query string, scope Scope, merged map[string]SearchHit, strategy string) {
	rows, err := r.store.SearchChunksText(ctx, scope.Key, query, candidateLimit)
	if err != nil {
		r.noteStoreError(err, "chunk text search")
		return
	}
	for _, row := range rows {
		mergeHit(merged, chunkKey(row), chunkHitToSearchHit(row, normalizeRank(row.Rank), strategy))
	}
}

// collectVector returns false when the store holds zero vector candidates,
// which triggers the full-text retry rung.
func (r *Runtime) collectVector(ctx context.Context, query string, vec []float32, scope Scope, merged map[string]SearchHit) bool {
	rows, err := r.store.SearchChunksVector(ctx, scope.Key, vec, candidateLimit)
	if err != nil {
		r.noteStoreError(err, "chunk vector search")
		return false
	}
	if len(rows) == 0 {
		return false
	}
	for _, row := range rows {
		mergeHit(merged, chunkKey(row), chunkHitToSearchHit(row, cosineScore(row.Rank), StrategyVector))
	}
	return true
}

func (r *Runtime) collectHybrid(ctx context.Context, query string, vec []float32, scope Scope, merged map[string]SearchHit) {
	wv, wf := normalizeWeights(r.cfg.VectorWeight, r.cfg.FTSWeight)

	type part struct {
		row    ChunkHit
		vector float64
		fts    float64
		hasVec bool
		hasFTS bool
	}
	parts := make(map[string]*part)

	vecRows, err := r.store.SearchChunksVector(ctx, scope.Key, vec, candidateLimit)
	if err != nil {
		r.noteStoreError(err, "chunk vector search")
	}
	for _, row := range vecRows {
		parts[chunkKey(row)] = &part{row: row, vector: cosineScore(row.Rank), hasVec: true}
	}

	ftsRows, err := r.store.SearchChunksText(ctx, scope.Key, query, candidateLimit)
	if err != nil {
		r.noteStoreError(err, "chunk text search")
	}
	for _, row := range ftsRows {
		k := chunkKey(row)
		if p, ok := parts[k]; ok {
			p.fts = normalizeRank(row.Rank)
			p.hasFTS = true
			if p.row.Content == "" {
				p.row = row
			}
		} else {
			parts[k] = &part{row: row, fts: normalizeRank(row.Rank), hasFTS: true}
		}
	}

	for k, p := range parts {
		score := wv*p.vector + wf*p.fts
		mergeHit(merged, k, chunkHitToSearchHit(p.row, score, StrategyHybrid))
	}
}

// collectEvents unions session events into the candidate set. Event ranking
// is full-text; in vector mode the hits deliberately keep the "vector"
// strategy label even though their score is full-text-derived.
func (r *Runtime) collectEvents(ctx context.Context, query string, scope Scope, mode string, merged map[string]SearchHit) {
	if !r.caps.eventsAvailable() {
		return
	}
	rows, err := r.store.SearchEventsText(ctx, scope.Key, query, candidateLimit)
	if err != nil {
		r.noteStoreError(err, "event text search")
		return
	}
	for _, row := range rows {
		score := normalizeRank(row.Rank)
		if mode == StrategyKeyword {
			s, ok := firstMatchScore(row.Content, query)
			if !ok {
				continue
			}
			score = s
		}
		hit := eventHitToSearchHit(scope.Key, row, score, mode)
		mergeHit(merged, hit.Path+"#0", hit)
	}
}

func chunkHitToSearchHit(row ChunkHit, score float64, strategy string) SearchHit {
	return SearchHit{
		Path:      row.RelPath,
		StartLine: row.StartLine,
		EndLine:   row.EndLine,
		Score:     clampScore(score),
		Snippet:   snippetOf(row.Content),
		Source:    row.Source,
		Strategy:  strategy,
	}
}

func eventHitToSearchHit(scopeKey string, row EventHit, score float64, strategy string) SearchHit {
	return SearchHit{
		Path:     eventPath(scopeKey, row.ConversationID, row.ID),
		Score:    clampScore(score),
		Snippet:  snippetOf(row.Content),
		Source:   SourceSession,
		Strategy: strategy,
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

const maxSnippetLen = 400

func snippetOf(content string) string {
	return clipBytes(strings.TrimSpace(content), maxSnippetLen)
}

// clipBytes truncates s to at most max bytes, backing up to the nearest rune
// boundary so the result is always valid UTF-8.
func clipBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// mergeHit deduplicates by (path, chunk index), keeping the higher-scoring
// row; on a score tie the row carrying non-empty content wins.
func mergeHit(merged map[string]SearchHit, key string, h SearchHit) {
	prev, ok := merged[key]
	if !ok {
		merged[key] = h
		return
	}
	if h.Score > prev.Score {
		merged[key] = h
		return
	}
	if h.Score == prev.Score && prev.Snippet == "" && h.Snippet != "" {
		merged[key] = h
	}
}

func rankAndTruncate(merged map[string]SearchHit, minScore float64, maxResults int) []SearchHit {
	hits := make([]SearchHit, 0, len(merged))
	for _, h := range merged {
		if h.Score < minScore {
			continue
		}
		hits = append(hits, h)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits
}
