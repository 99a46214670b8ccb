package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danuwira/engram/pkg/memory"
)

// ensureSchema creates the core tables. The chunk and event tables carry an
// embedding column and ivfflat index only when pgvector provisioned; the
// full-text column is a generated tsvector so inserts never compute it
// client-side. Failure to create session_events disables events instead of
// failing the open.
func (s *Store) ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if s.schema != "public" {
		if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.schema)); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}

	embeddingCol := ""
	if s.caps.Vector {
		embeddingCol = fmt.Sprintf(",\n  embedding VECTOR(%d)", memory.EmbeddingDim)
	}

	core := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  scope_key TEXT NOT NULL,
  rel_path TEXT NOT NULL,
  source TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  mtime TIMESTAMPTZ NOT NULL,
  size_bytes BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (scope_key, rel_path)
);

CREATE TABLE IF NOT EXISTS %[2]s (
  scope_key TEXT NOT NULL,
  rel_path TEXT NOT NULL,
  chunk_index INT NOT NULL,
  source TEXT NOT NULL,
  start_line INT NOT NULL,
  end_line INT NOT NULL,
  content TEXT NOT NULL,
  chunk_hash TEXT NOT NULL,
  content_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED%[3]s,
  PRIMARY KEY (scope_key, rel_path, chunk_index),
  FOREIGN KEY (scope_key, rel_path) REFERENCES %[1]s (scope_key, rel_path) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS memory_chunks_tsv_idx ON %[2]s USING GIN (content_tsv);
`, s.table("indexed_files"), s.table("memory_chunks"), embeddingCol)

	if _, err := pool.Exec(ctx, core); err != nil {
		return fmt.Errorf("store: create core tables: %w", err)
	}

	if s.caps.Vector {
		vectorDDL := fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS memory_chunks_embedding_idx
  ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS %s (
  provider TEXT NOT NULL,
  model TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  embedding VECTOR(%d) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (provider, model, content_hash)
);
`, s.table("memory_chunks"), s.table("embedding_cache"), memory.EmbeddingDim)
		if _, err := pool.Exec(ctx, vectorDDL); err != nil {
			s.logger.Warn().Err(err).Msg("vector index/cache not provisioned, vector search disabled")
			s.caps.Vector = false
		}
	}

	events := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id BIGSERIAL PRIMARY KEY,
  session_key TEXT NOT NULL,
  conversation_id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  metadata JSONB,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  content_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED%[2]s
);

CREATE INDEX IF NOT EXISTS session_events_session_idx ON %[1]s (session_key, created_at DESC);
CREATE INDEX IF NOT EXISTS session_events_tsv_idx ON %[1]s USING GIN (content_tsv);
`, s.table("session_events"), embeddingCol)

	if _, err := pool.Exec(ctx, events); err != nil {
		s.logger.Warn().Err(err).Msg("session_events not provisioned, session events disabled")
		s.caps.Events = false
		return nil
	}
	s.caps.Events = true
	return nil
}
