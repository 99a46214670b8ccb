package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/danuwira/engram/pkg/memory"
)

func (s *Store) AppendEvent(ctx context.Context, ev memory.Event) (int64, error) {
	q := fmt.Sprintf(`
INSERT INTO %s (session_key, conversation_id, role, content, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
RETURNING id`, s.table("session_events"))

	var createdAt any
	if !ev.CreatedAt.IsZero() {
		createdAt = ev.CreatedAt
	}

	var id int64
	err := s.pool.QueryRow(ctx, q, ev.SessionKey, ev.ConversationID, ev.Role, ev.Content, ev.Metadata, createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return id, nil
}

// GetEvent loads one event, keyed by id but guarded by session and
// conversation so a caller can never read across a scope boundary.
func (s *Store) GetEvent(ctx context.Context, sessionKey, conversationID string, id int64) (*memory.Event, error) {
	q := fmt.Sprintf(`
SELECT id, session_key, conversation_id, role, content, metadata, created_at, embedding IS NOT NULL
FROM %s
WHERE id = $1 AND session_key = $2 AND conversation_id = $3`, s.table("session_events"))
	if !s.caps.Vector {
		q = fmt.Sprintf(`
SELECT id, session_key, conversation_id, role, content, metadata, created_at, FALSE
FROM %s
WHERE id = $1 AND session_key = $2 AND conversation_id = $3`, s.table("session_events"))
	}

	var ev memory.Event
	err := s.pool.QueryRow(ctx, q, id, sessionKey, conversationID).
		Scan(&ev.ID, &ev.SessionKey, &ev.ConversationID, &ev.Role, &ev.Content, &ev.Metadata, &ev.CreatedAt, &ev.HasEmbedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return &ev, nil
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table("session_events"))).Scan(&n)
	return n, err
}

// EventsMissingEmbedding returns the oldest events with no embedding, for
// the backfill worker.
func (s *Store) EventsMissingEmbedding(ctx context.Context, limit int) ([]memory.Event, error) {
	if !s.caps.Vector {
		return nil, nil
	}
	q := fmt.Sprintf(`
SELECT id, session_key, conversation_id, role, content, metadata, created_at, FALSE
FROM %s
WHERE embedding IS NULL
ORDER BY id ASC
LIMIT $1`, s.table("session_events"))

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("events missing embedding: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SetEventEmbedding fills an event's embedding only if it is still null,
// reporting whether the row changed.
func (s *Store) SetEventEmbedding(ctx context.Context, id int64, vec []float32) (bool, error) {
	if !s.caps.Vector {
		return false, nil
	}
	if len(vec) != memory.EmbeddingDim {
		return false, memory.ErrDimensionMismatch
	}
	q := fmt.Sprintf("UPDATE %s SET embedding = $2 WHERE id = $1 AND embedding IS NULL", s.table("session_events"))
	tag, err := s.pool.Exec(ctx, q, id, pgvector.NewVector(vec))
	if err != nil {
		return false, fmt.Errorf("set event embedding %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteEventsBefore removes up to limit events older than cutoff, oldest
// first, and reports how many were deleted.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	q := fmt.Sprintf(`
DELETE FROM %[1]s
WHERE id IN (
  SELECT id FROM %[1]s WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2
)`, s.table("session_events"))

	tag, err := s.pool.Exec(ctx, q, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) SearchEventsText(ctx context.Context, sessionKey, query string, limit int) ([]memory.EventHit, error) {
	q := fmt.Sprintf(`
SELECT id, conversation_id, role, content, created_at,
       ts_rank(content_tsv, websearch_to_tsquery('simple', $2)) AS rank
FROM %s
WHERE session_key = $1 AND content_tsv @@ websearch_to_tsquery('simple', $2)
ORDER BY rank DESC
LIMIT $3`, s.table("session_events"))

	rows, err := s.pool.Query(ctx, q, sessionKey, query, limit)
	if err != nil {
		return nil, fmt.Errorf("event text search: %w", err)
	}
	defer rows.Close()
	return scanEventHits(rows)
}

func (s *Store) SearchEventsVector(ctx context.Context, sessionKey string, vec []float32, limit int) ([]memory.EventHit, error) {
	if !s.caps.Vector {
		return nil, nil
	}
	if len(vec) != memory.EmbeddingDim {
		return nil, memory.ErrDimensionMismatch
	}
	q := fmt.Sprintf(`
SELECT id, conversation_id, role, content, created_at,
       (embedding <=> $2) AS distance
FROM %s
WHERE session_key = $1 AND embedding IS NOT NULL
ORDER BY embedding <=> $2
LIMIT $3`, s.table("session_events"))

	rows, err := s.pool.Query(ctx, q, sessionKey, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("event vector search: %w", err)
	}
	defer rows.Close()
	return scanEventHits(rows)
}

// EventsInWindow returns events inside [from, to), newest first, for the
// temporal-recall heuristic.
func (s *Store) EventsInWindow(ctx context.Context, sessionKey string, from, to time.Time, limit int) ([]memory.Event, error) {
	hasEmb := "embedding IS NOT NULL"
	if !s.caps.Vector {
		hasEmb = "FALSE"
	}
	q := fmt.Sprintf(`
SELECT id, session_key, conversation_id, role, content, metadata, created_at, %s
FROM %s
WHERE session_key = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC
LIMIT $4`, hasEmb, s.table("session_events"))

	rows, err := s.pool.Query(ctx, q, sessionKey, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("events in window: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]memory.Event, error) {
	var events []memory.Event
	for rows.Next() {
		var ev memory.Event
		if err := rows.Scan(&ev.ID, &ev.SessionKey, &ev.ConversationID, &ev.Role, &ev.Content, &ev.Metadata, &ev.CreatedAt, &ev.HasEmbedding); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEventHits(rows pgx.Rows) ([]memory.EventHit, error) {
	var hits []memory.EventHit
	for rows.Next() {
		var h memory.EventHit
		if err := rows.Scan(&h.ID, &h.ConversationID, &h.Role, &h.Content, &h.CreatedAt, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan event hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
