package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/danuwira/engram/pkg/memory"
)

func (s *Store) ListFiles(ctx context.Context) ([]memory.FileMeta, error) {
	q := fmt.Sprintf(`
SELECT scope_key, rel_path, source, content_hash, mtime, size_bytes
FROM %s
ORDER BY scope_key, rel_path`, s.table("indexed_files"))

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var metas []memory.FileMeta
	for rows.Next() {
		var m memory.FileMeta
		if err := rows.Scan(&m.ScopeKey, &m.RelPath, &m.Source, &m.ContentHash, &m.MTime, &m.SizeBytes); err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func (s *Store) GetFile(ctx context.Context, scopeKey, relPath string) (*memory.FileMeta, error) {
	q := fmt.Sprintf(`
SELECT scope_key, rel_path, source, content_hash, mtime, size_bytes
FROM %s
WHERE scope_key = $1 AND rel_path = $2`, s.table("indexed_files"))

	var m memory.FileMeta
	err := s.pool.QueryRow(ctx, q, scopeKey, relPath).
		Scan(&m.ScopeKey, &m.RelPath, &m.Source, &m.ContentHash, &m.MTime, &m.SizeBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", relPath, err)
	}
	return &m, nil
}

// TouchFile refreshes mtime and size for a file whose content hash is
// unchanged. Chunks are untouched.
func (s *Store) TouchFile(ctx context.Context, meta memory.FileMeta) error {
	q := fmt.Sprintf(`
UPDATE %s SET mtime = $3, size_bytes = $4, updated_at = NOW()
WHERE scope_key = $1 AND rel_path = $2`, s.table("indexed_files"))

	if _, err := s.pool.Exec(ctx, q, meta.ScopeKey, meta.RelPath, meta.MTime, meta.SizeBytes); err != nil {
		return fmt.Errorf("touch file %s: %w", meta.RelPath, err)
	}
	return nil
}

// ReplaceFile swaps a file's chunk set inside one transaction, so readers
// never observe a half-replaced file.
func (s *Store) ReplaceFile(ctx context.Context, meta memory.FileMeta, chunks []memory.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace file %s: %w", meta.RelPath, err)
	}
	defer tx.Rollback(ctx)

	upsert := fmt.Sprintf(`
INSERT INTO %s (scope_key, rel_path, source, content_hash, mtime, size_bytes, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (scope_key, rel_path) DO UPDATE SET
  source = EXCLUDED.source,
  content_hash = EXCLUDED.content_hash,
  mtime = EXCLUDED.mtime,
  size_bytes = EXCLUDED.size_bytes,
  updated_at = NOW()`, s.table("indexed_files"))

	if _, err := tx.Exec(ctx, upsert, meta.ScopeKey, meta.RelPath, meta.Source, meta.ContentHash, meta.MTime, meta.SizeBytes); err != nil {
		return fmt.Errorf("replace file %s: upsert meta: %w", meta.RelPath, err)
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE scope_key = $1 AND rel_path = $2", s.table("memory_chunks"))
	if _, err := tx.Exec(ctx, del, meta.ScopeKey, meta.RelPath); err != nil {
		return fmt.Errorf("replace file %s: clear chunks: %w", meta.RelPath, err)
	}

	if len(chunks) > 0 {
		batch := &pgx.Batch{}
		if s.caps.Vector {
			ins := fmt.Sprintf(`
INSERT INTO %s (scope_key, rel_path, chunk_index, source, start_line, end_line, content, chunk_hash, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, s.table("memory_chunks"))
			for _, c := range chunks {
				var emb any
				if len(c.Embedding) == memory.EmbeddingDim {
					emb = pgvector.NewVector(c.Embedding)
				}
				batch.Queue(ins, c.ScopeKey, c.RelPath, c.Index, c.Source, c.StartLine, c.EndLine, c.Content, c.ChunkHash, emb)
			}
		} else {
			ins := fmt.Sprintf(`
INSERT INTO %s (scope_key, rel_path, chunk_index, source, start_line, end_line, content, chunk_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table("memory_chunks"))
			for _, c := range chunks {
				batch.Queue(ins, c.ScopeKey, c.RelPath, c.Index, c.Source, c.StartLine, c.EndLine, c.Content, c.ChunkHash)
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("replace file %s: insert chunks: %w", meta.RelPath, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace file %s: commit: %w", meta.RelPath, err)
	}
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, scopeKey, relPath string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE scope_key = $1 AND rel_path = $2", s.table("indexed_files"))
	if _, err := s.pool.Exec(ctx, q, scopeKey, relPath); err != nil {
		return fmt.Errorf("delete file %s: %w", relPath, err)
	}
	return nil
}

func (s *Store) CountFiles(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table("indexed_files"))).Scan(&n)
	return n, err
}

func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table("memory_chunks"))).Scan(&n)
	return n, err
}
