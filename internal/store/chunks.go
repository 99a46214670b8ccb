package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/danuwira/engram/pkg/memory"
)

// SearchChunksText ranks chunks in a scope with websearch-style full-text
// matching. Rank is the raw ts_rank value; normalization happens upstream.
func (s *Store) SearchChunksText(ctx context.Context, scopeKey, query string, limit int) ([]memory.ChunkHit, error) {
	q := fmt.Sprintf(`
SELECT rel_path, chunk_index, source, start_line, end_line, content,
       ts_rank(content_tsv, websearch_to_tsquery('simple', $2)) AS rank
FROM %s
WHERE scope_key = $1 AND content_tsv @@ websearch_to_tsquery('simple', $2)
ORDER BY rank DESC
LIMIT $3`, s.table("memory_chunks"))

	rows, err := s.pool.Query(ctx, q, scopeKey, query, limit)
	if err != nil {
		return nil, fmt.Errorf("chunk text search: %w", err)
	}
	defer rows.Close()
	return scanChunkHits(rows)
}

// SearchChunksVector ranks chunks by cosine distance to vec, skipping rows
// that were indexed before embeddings were available. Rank is the distance,
// lower is closer.
func (s *Store) SearchChunksVector(ctx context.Context, scopeKey string, vec []float32, limit int) ([]memory.ChunkHit, error) {
	if !s.caps.Vector {
		return nil, nil
	}
	if len(vec) != memory.EmbeddingDim {
		return nil, memory.ErrDimensionMismatch
	}

	q := fmt.Sprintf(`
SELECT rel_path, chunk_index, source, start_line, end_line, content,
       (embedding <=> $2) AS distance
FROM %s
WHERE scope_key = $1 AND embedding IS NOT NULL
ORDER BY embedding <=> $2
LIMIT $3`, s.table("memory_chunks"))

	rows, err := s.pool.Query(ctx, q, scopeKey, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("chunk vector search: %w", err)
	}
	defer rows.Close()
	return scanChunkHits(rows)
}

// SearchChunksSubstring is the store-side rung of the keyword strategy: a
// case-insensitive containment match. Rank carries the match position so the
// caller can score without re-reading the file.
func (s *Store) SearchChunksSubstring(ctx context.Context, scopeKey, query string, limit int) ([]memory.ChunkHit, error) {
	q := fmt.Sprintf(`
SELECT rel_path, chunk_index, source, start_line, end_line, content,
       POSITION(LOWER($2) IN LOWER(content)) AS pos
FROM %s
WHERE scope_key = $1 AND content ILIKE '%%' || $3 || '%%'
ORDER BY pos ASC
LIMIT $4`, s.table("memory_chunks"))

	rows, err := s.pool.Query(ctx, q, scopeKey, query, likeEscape(query), limit)
	if err != nil {
		return nil, fmt.Errorf("chunk substring search: %w", err)
	}
	defer rows.Close()
	return scanChunkHits(rows)
}

// likeEscape neutralizes LIKE metacharacters so the query is matched
// literally.
func likeEscape(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}

type chunkRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanChunkHits(rows chunkRows) ([]memory.ChunkHit, error) {
	var hits []memory.ChunkHit
	for rows.Next() {
		var h memory.ChunkHit
		if err := rows.Scan(&h.RelPath, &h.Index, &h.Source, &h.StartLine, &h.EndLine, &h.Content, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
