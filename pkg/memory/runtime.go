package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrSchemaUnavailable marks a store error caused by missing relations or
// columns rather than a transient fault. The affected feature is disabled
// for the lifetime of the runtime instead of being retried.
var ErrSchemaUnavailable = errors.New("memory: store schema unavailable")

// Config controls a Runtime. Zero values fall back to the documented
// defaults in Normalize.
type Config struct {
	// Workspace is the root directory holding the markdown memory files.
	Workspace string

	// Mode selects the ranking strategy: keyword, fts, vector or hybrid.
	Mode string

	MaxResults int
	MinScore   float64

	// Hybrid blend weights; renormalized so they sum to one.
	VectorWeight float64
	FTSWeight    float64

	TranscriptsEnabled bool

	// Retention bounds the age of session events kept by the TTL worker.
	Retention time.Duration

	// Watch enables the filesystem watcher that marks changed files for
	// the next incremental sync.
	Watch bool

	Providers []ProviderConfig
}

// Normalize fills defaults in place and returns the config for chaining.
func (c Config) Normalize() Config {
	if c.Mode == "" {
		c.Mode = StrategyHybrid
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 6
	}
	if c.Retention < minRetention {
		c.Retention = defaultRetention
	}
	c.VectorWeight, c.FTSWeight = normalizeWeights(c.VectorWeight, c.FTSWeight)
	return c
}

// Runtime is the memory engine: it indexes the workspace incrementally,
// serves scoped reads and writes, and answers searches with whatever
// capability tier the environment supports.
type Runtime struct {
	id        string
	cfg       Config
	workspace string
	store     Store
	embedder  *Embedder
	logger    zerolog.Logger
	caps      *capabilityState
	watcher   *fileWatcher

	cronMu sync.Mutex
	cron   *cron.Cron

	nowFn func() time.Time

	syncMu   sync.Mutex
	inflight *syncFlight
	lastSync time.Time

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	pendingPaths  map[string]struct{}
	flushWG       sync.WaitGroup
	closed        bool

	retentionMu   sync.Mutex
	lastRetention time.Time
}

// New builds a Runtime over the workspace. store may be nil, in which case
// every search degrades to the filesystem scan and session events are off.
func New(cfg Config, store Store, logger zerolog.Logger) (*Runtime, error) {
	cfg = cfg.Normalize()
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("memory: workspace is required")
	}
	info, err := os.Stat(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("memory: workspace %s: %w", cfg.Workspace, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("memory: workspace %s is not a directory", cfg.Workspace)
	}

	caps := newCapabilityState(store)
	var cache EmbeddingCache
	if store != nil {
		cache = store
	}

	r := &Runtime{
		id:           uuid.NewString(),
		cfg:          cfg,
		workspace:    cfg.Workspace,
		store:        store,
		logger:       logger.With().Str("component", "memory").Logger(),
		caps:         caps,
		pendingPaths: make(map[string]struct{}),
	}
	r.embedder = NewEmbedder(cfg.Providers, cache, r.logger)

	r.startWorkers()
	if cfg.Watch {
		w, err := newFileWatcher(r)
		if err != nil {
			r.logger.Warn().Err(err).Msg("filesystem watcher unavailable, relying on pre-search sync")
		} else {
			r.watcher = w
		}
	}

	r.logger.Info().
		Str("runtime_id", r.id).
		Str("mode", cfg.Mode).
		Bool("store", caps.storeAvailable()).
		Bool("vector", caps.vectorAvailable()).
		Bool("events", caps.eventsAvailable()).
		Bool("embedder", r.embedder.Enabled()).
		Msg("memory runtime ready")
	return r, nil
}

// Search syncs opportunistically, then runs the configured strategy with
// its degradation ladder. It reports results from whatever tier worked;
// missing capabilities never surface as errors.
func (r *Runtime) Search(ctx context.Context, query string, scope Scope) ([]SearchHit, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	r.maybeResync(ctx)
	return r.search(ctx, query, scope), nil
}

// Status is a point-in-time snapshot of the runtime's health and counters.
type Status struct {
	RuntimeID       string    `json:"runtime_id"`
	Mode            string    `json:"mode"`
	StoreAvailable  bool      `json:"store_available"`
	VectorAvailable bool      `json:"vector_available"`
	EventsAvailable bool      `json:"events_available"`
	EmbedderEnabled bool      `json:"embedder_enabled"`
	Files           int64     `json:"files"`
	Chunks          int64     `json:"chunks"`
	Events          int64     `json:"events"`
	CacheHits       int64     `json:"cache_hits"`
	CacheMisses     int64     `json:"cache_misses"`
	LastSync        time.Time `json:"last_sync"`
}

func (r *Runtime) Status(ctx context.Context) Status {
	s := Status{
		RuntimeID:       r.id,
		Mode:            r.cfg.Mode,
		StoreAvailable:  r.caps.storeAvailable(),
		VectorAvailable: r.caps.vectorAvailable(),
		EventsAvailable: r.caps.eventsAvailable(),
		EmbedderEnabled: r.embedder.Enabled(),
	}
	s.CacheHits, s.CacheMisses = r.embedder.CacheStats()

	r.syncMu.Lock()
	s.LastSync = r.lastSync
	r.syncMu.Unlock()

	if r.store != nil && s.StoreAvailable {
		if n, err := r.store.CountFiles(ctx); err == nil {
			s.Files = n
		}
		if n, err := r.store.CountChunks(ctx); err == nil {
			s.Chunks = n
		}
		if s.EventsAvailable {
			if n, err := r.store.CountEvents(ctx); err == nil {
				s.Events = n
			}
		}
	}
	return s
}

// Close stops the watcher and workers, drops any pending debounce, and
// releases the store. It is safe to call once.
func (r *Runtime) Close() {
	r.debounceMu.Lock()
	if r.closed {
		r.debounceMu.Unlock()
		return
	}
	r.closed = true
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
		r.debounceTimer = nil
	}
	r.debounceMu.Unlock()
	r.flushWG.Wait()

	if r.watcher != nil {
		r.watcher.close()
	}
	r.stopWorkers()
	if r.store != nil {
		r.store.Close()
	}
	r.logger.Info().Str("runtime_id", r.id).Msg("memory runtime closed")
}

func (r *Runtime) isClosed() bool {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	return r.closed
}

func (r *Runtime) now() time.Time {
	if r.nowFn != nil {
		return r.nowFn()
	}
	return time.Now()
}

// noteStoreError logs a store failure and, when the cause is structural
// (missing relation or column), permanently disables the feature the
// operation belongs to. Transient faults leave capabilities untouched so
// the next call retries.
func (r *Runtime) noteStoreError(err error, op string) {
	if err == nil {
		return
	}
	if !isStructuralError(err) {
		r.logger.Warn().Err(err).Str("op", op).Msg("store operation failed")
		return
	}
	switch {
	case strings.Contains(op, "event"):
		if r.caps.disableEvents() {
			r.logger.Error().Err(err).Str("op", op).Msg("session events disabled, schema unavailable")
			// A tick may be the caller; stopping inline would wait on itself.
			go r.stopWorkers()
		}
	case strings.Contains(op, "vector"):
		if r.caps.disableVector() {
			r.logger.Error().Err(err).Str("op", op).Msg("vector search disabled, schema unavailable")
		}
	default:
		if r.caps.disableStore() {
			r.logger.Error().Err(err).Str("op", op).Msg("store disabled, schema unavailable")
			go r.stopWorkers()
		}
	}
}

// isStructuralError reports whether err identifies missing schema rather
// than a transient failure: pg undefined_table / undefined_column, or the
// ErrSchemaUnavailable sentinel.
func isStructuralError(err error) bool {
	if errors.Is(err, ErrSchemaUnavailable) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01" || pgErr.Code == "42703"
	}
	return false
}

// capabilityState tracks which store features are usable. Transitions are
// one-way: a feature disabled by a structural error never re-enables within
// the process.
type capabilityState struct {
	mu     sync.Mutex
	store  bool
	vector bool
	events bool
}

func newCapabilityState(store Store) *capabilityState {
	cs := &capabilityState{}
	if store == nil {
		return cs
	}
	caps := store.Capabilities()
	cs.store = true
	cs.vector = caps.Vector
	cs.events = caps.Events
	return cs
}

func (c *capabilityState) storeAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

func (c *capabilityState) vectorAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store && c.vector
}

func (c *capabilityState) eventsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store && c.events
}

// disableStore turns off every store-backed feature. It reports whether the
// call changed state, so callers log the transition exactly once.
func (c *capabilityState) disableStore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.store
	c.store = false
	return changed
}

func (c *capabilityState) disableVector() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.vector
	c.vector = false
	return changed
}

func (c *capabilityState) disableEvents() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.events
	c.events = false
	return changed
}
