package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/danuwira/engram/pkg/memory"
)

// The embedding cache only exists when pgvector provisioned; without it the
// cache degrades to a miss on every lookup and a no-op on every write.

func (s *Store) GetEmbedding(ctx context.Context, provider, model, contentHash string) ([]float32, error) {
	if !s.caps.Vector {
		return nil, memory.ErrNotFound
	}
	q := fmt.Sprintf(`
SELECT embedding FROM %s
WHERE provider = $1 AND model = $2 AND content_hash = $3`, s.table("embedding_cache"))

	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, q, provider, model, contentHash).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return vec.Slice(), nil
}

func (s *Store) PutEmbedding(ctx context.Context, provider, model, contentHash string, vec []float32) error {
	if !s.caps.Vector {
		return nil
	}
	if len(vec) != memory.EmbeddingDim {
		return memory.ErrDimensionMismatch
	}
	q := fmt.Sprintf(`
INSERT INTO %s (provider, model, content_hash, embedding)
VALUES ($1, $2, $3, $4)
ON CONFLICT (provider, model, content_hash) DO UPDATE SET embedding = EXCLUDED.embedding`, s.table("embedding_cache"))

	if _, err := s.pool.Exec(ctx, q, provider, model, contentHash, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("put embedding: %w", err)
	}
	return nil
}

func (s *Store) DeleteEmbedding(ctx context.Context, provider, model, contentHash string) error {
	if !s.caps.Vector {
		return nil
	}
	q := fmt.Sprintf(`
DELETE FROM %s WHERE provider = $1 AND model = $2 AND content_hash = $3`, s.table("embedding_cache"))
	if _, err := s.pool.Exec(ctx, q, provider, model, contentHash); err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}
