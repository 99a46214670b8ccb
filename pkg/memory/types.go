package memory

import (
	"context"
	"errors"
	"time"
)

// EmbeddingDim is the fixed dimensionality of every stored vector. Vectors of
// any other length are rejected at the store boundary.
const EmbeddingDim = 1536

// ScopeKind classifies an isolation domain.
type ScopeKind string

const (
	ScopeMain   ScopeKind = "main"
	ScopeDirect ScopeKind = "direct"
	ScopeGroup  ScopeKind = "group"
)

// Scope is the isolation domain for memory reads and writes.
type Scope struct {
	Key  string    `json:"key"`
	Kind ScopeKind `json:"kind"`
}

// SourceType classifies where indexed content came from.
type SourceType string

const (
	SourceDaily      SourceType = "daily"
	SourceLongTerm   SourceType = "long-term"
	SourceTranscript SourceType = "transcript"
)

// SaveTarget selects the file a Save call appends to.
type SaveTarget string

const (
	TargetDaily    SaveTarget = "daily"
	TargetLongTerm SaveTarget = "long-term"
)

// FileMeta is one indexed file, keyed by (ScopeKey, RelPath).
type FileMeta struct {
	ScopeKey    string
	RelPath     string
	Source      SourceType
	ContentHash string
	MTime       time.Time
	SizeBytes   int64
}

// Chunk is a contiguous line-range slice of a memory file, the unit of
// indexing and retrieval. Keyed by (ScopeKey, RelPath, Index).
type Chunk struct {
	ScopeKey  string
	RelPath   string
	Index     int
	Source    SourceType
	StartLine int
	EndLine   int
	Content   string
	ChunkHash string
	Embedding []float32
}

// Event is one persisted conversational turn. Append-only; Embedding is set
// at most once by the backfill worker.
type Event struct {
	ID             int64
	SessionKey     string
	ConversationID string
	Role           string
	Content        string
	Metadata       map[string]any
	CreatedAt      time.Time
	HasEmbedding   bool
}

// SearchHit is one ranked retrieval result.
type SearchHit struct {
	Path      string     `json:"path"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Score     float64    `json:"score"`
	Snippet   string     `json:"snippet"`
	Source    SourceType `json:"source"`
	Strategy  string     `json:"strategy"`
}

// GetResult is the payload returned by Get.
type GetResult struct {
	Path      string     `json:"path"`
	Scope     string     `json:"scope"`
	Source    SourceType `json:"source"`
	FromLine  int        `json:"from_line"`
	ToLine    int        `json:"to_line"`
	LineCount int        `json:"line_count"`
	Text      string     `json:"text"`
	Truncated bool       `json:"truncated"`
}

// SaveResult is the payload returned by Save.
type SaveResult struct {
	Path  string `json:"path"`
	Scope string `json:"scope"`
}

// GetOptions selects a line window for Get.
type GetOptions struct {
	From  int
	Lines int
}

// SyncOptions controls an incremental sync pass.
type SyncOptions struct {
	Force     bool
	OnlyPaths []string
}

// ChunkHit is one raw chunk row returned by a store search. Rank semantics
// depend on the query: full-text rank (unbounded, higher is better) or cosine
// distance (lower is better) for vector queries.
type ChunkHit struct {
	RelPath   string
	Index     int
	Source    SourceType
	StartLine int
	EndLine   int
	Content   string
	Rank      float64
}

// EventHit is one raw session-event row returned by a store search.
type EventHit struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
	Rank           float64
}

// Sentinel errors surfaced to callers. Everything else resolves into a
// degraded-but-successful result per the runtime's fallback rules.
var (
	ErrPathOutsideWorkspace = errors.New("path resolves outside the workspace root")
	ErrScopeDenied          = errors.New("path not allowed for scope")
	ErrNotFound             = errors.New("not found")
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrClosed               = errors.New("memory runtime is closed")
)

// FileStore persists indexed file metadata and chunks. ReplaceFile must be
// atomic: the old chunk set and the new one are never both visible.
type FileStore interface {
	ListFiles(ctx context.Context) ([]FileMeta, error)
	GetFile(ctx context.Context, scopeKey, relPath string) (*FileMeta, error)
	TouchFile(ctx context.Context, meta FileMeta) error
	ReplaceFile(ctx context.Context, meta FileMeta, chunks []Chunk) error
	DeleteFile(ctx context.Context, scopeKey, relPath string) error
	CountFiles(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	SearchChunksText(ctx context.Context, scopeKey, query string, limit int) ([]ChunkHit, error)
	SearchChunksVector(ctx context.Context, scopeKey string, vec []float32, limit int) ([]ChunkHit, error)
	SearchChunksSubstring(ctx context.Context, scopeKey, query string, limit int) ([]ChunkHit, error)
}

// EventStore persists the append-only session-event log.
type EventStore interface {
	AppendEvent(ctx context.Context, ev Event) (int64, error)
	GetEvent(ctx context.Context, sessionKey, conversationID string, id int64) (*Event, error)
	CountEvents(ctx context.Context) (int64, error)

	EventsMissingEmbedding(ctx context.Context, limit int) ([]Event, error)
	SetEventEmbedding(ctx context.Context, id int64, vec []float32) (bool, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	SearchEventsText(ctx context.Context, sessionKey, query string, limit int) ([]EventHit, error)
	SearchEventsVector(ctx context.Context, sessionKey string, vec []float32, limit int) ([]EventHit, error)
	EventsInWindow(ctx context.Context, sessionKey string, from, to time.Time, limit int) ([]Event, error)
}

// EmbeddingCache maps (provider, model, contentHash) to a stored vector.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, provider, model, contentHash string) ([]float32, error)
	PutEmbedding(ctx context.Context, provider, model, contentHash string, vec []float32) error
	DeleteEmbedding(ctx context.Context, provider, model, contentHash string) error
}

// StoreCapabilities reports what the backing store could provision at open
// time. Features that failed to provision start disabled and stay disabled.
type StoreCapabilities struct {
	Vector bool
	Events bool
}

// Store is the full backing-store surface the runtime needs. The Postgres
// implementation lives in internal/store; tests use an in-memory fake.
type Store interface {
	FileStore
	EventStore
	EmbeddingCache
	Capabilities() StoreCapabilities
	Close()
}
