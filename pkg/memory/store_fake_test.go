package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeStore is an in-memory memory.Store used by the runtime tests. Text
// search matches on token containment, vector search computes real cosine
// distances, and every method can be forced to fail through errOn.
type fakeStore struct {
	mu sync.Mutex

	vector bool
	events bool

	files  map[string]FileMeta
	chunks map[string][]Chunk

	eventRows   []Event
	nextEventID int64

	cache map[string][]float32

	errOn  map[string]error
	hooks  map[string]func()
	closed bool

	replaceCalls int
	touchCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vector: true,
		events: true,
		files:  make(map[string]FileMeta),
		chunks: make(map[string][]Chunk),
		cache:  make(map[string][]float32),
		errOn:  make(map[string]error),
		hooks:  make(map[string]func()),
	}
}

func (f *fakeStore) failWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errOn[op] = err
}

// hookWith runs fn at the start of the named op, outside the store lock, so
// tests can stall a store call at a chosen point.
func (f *fakeStore) hookWith(op string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[op] = fn
}

func (f *fakeStore) runHook(op string) {
	f.mu.Lock()
	fn := f.hooks[op]
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeStore) fail(op string) error {
	return f.errOn[op]
}

func fileKey(scopeKey, relPath string) string {
	return scopeKey + "\x00" + relPath
}

func (f *fakeStore) Capabilities() StoreCapabilities {
	return StoreCapabilities{Vector: f.vector, Events: f.events}
}

func (f *fakeStore) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeStore) ListFiles(ctx context.Context) ([]FileMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListFiles"); err != nil {
		return nil, err
	}
	metas := make([]FileMeta, 0, len(f.files))
	for _, m := range f.files {
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].RelPath < metas[j].RelPath })
	return metas, nil
}

func (f *fakeStore) GetFile(ctx context.Context, scopeKey, relPath string) (*FileMeta, error) {
	f.runHook("GetFile")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetFile"); err != nil {
		return nil, err
	}
	m, ok := f.files[fileKey(scopeKey, relPath)]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (f *fakeStore) TouchFile(ctx context.Context, meta FileMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("TouchFile"); err != nil {
		return err
	}
	f.touchCalls++
	k := fileKey(meta.ScopeKey, meta.RelPath)
	if prev, ok := f.files[k]; ok {
		prev.MTime = meta.MTime
		prev.SizeBytes = meta.SizeBytes
		f.files[k] = prev
	}
	return nil
}

func (f *fakeStore) ReplaceFile(ctx context.Context, meta FileMeta, chunks []Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ReplaceFile"); err != nil {
		return err
	}
	f.replaceCalls++
	k := fileKey(meta.ScopeKey, meta.RelPath)
	f.files[k] = meta
	f.chunks[k] = append([]Chunk(nil), chunks...)
	return nil
}

func (f *fakeStore) DeleteFile(ctx context.Context, scopeKey, relPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteFile"); err != nil {
		return err
	}
	k := fileKey(scopeKey, relPath)
	delete(f.files, k)
	delete(f.chunks, k)
	return nil
}

func (f *fakeStore) CountFiles(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.files)), nil
}

func (f *fakeStore) CountChunks(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cs := range f.chunks {
		n += len(cs)
	}
	return int64(n), nil
}

func (f *fakeStore) scopeChunks(scopeKey string) []Chunk {
	var out []Chunk
	for k, cs := range f.chunks {
		if strings.HasPrefix(k, scopeKey+"\x00") {
			out = append(out, cs...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelPath != out[j].RelPath {
			return out[i].RelPath < out[j].RelPath
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func (f *fakeStore) SearchChunksText(ctx context.Context, scopeKey, query string, limit int) ([]ChunkHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SearchChunksText"); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	var hits []ChunkHit
	for _, c := range f.scopeChunks(scopeKey) {
		content := strings.ToLower(c.Content)
		matched := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, chunkToHit(c, float64(matched)))
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

func (f *fakeStore) SearchChunksVector(ctx context.Context, scopeKey string, vec []float32, limit int) ([]ChunkHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SearchChunksVector"); err != nil {
		return nil, err
	}
	if !f.vector {
		return nil, nil
	}
	var hits []ChunkHit
	for _, c := range f.scopeChunks(scopeKey) {
		if c.Embedding == nil {
			continue
		}
		hits = append(hits, chunkToHit(c, cosineDistance(vec, c.Embedding)))
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Rank < hits[j].Rank })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeStore) SearchChunksSubstring(ctx context.Context, scopeKey, query string, limit int) ([]ChunkHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SearchChunksSubstring"); err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var hits []ChunkHit
	for _, c := range f.scopeChunks(scopeKey) {
		pos := strings.Index(strings.ToLower(c.Content), needle)
		if pos < 0 {
			continue
		}
		hits = append(hits, chunkToHit(c, float64(pos)))
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

func chunkToHit(c Chunk, rank float64) ChunkHit {
	return ChunkHit{
		RelPath:   c.RelPath,
		Index:     c.Index,
		Source:    c.Source,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Content:   c.Content,
		Rank:      rank,
	}
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func (f *fakeStore) AppendEvent(ctx context.Context, ev Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AppendEvent"); err != nil {
		return 0, err
	}
	f.nextEventID++
	ev.ID = f.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	f.eventRows = append(f.eventRows, ev)
	return ev.ID, nil
}

func (f *fakeStore) GetEvent(ctx context.Context, sessionKey, conversationID string, id int64) (*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetEvent"); err != nil {
		return nil, err
	}
	for _, ev := range f.eventRows {
		if ev.ID == id && ev.SessionKey == sessionKey && ev.ConversationID == conversationID {
			out := ev
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) CountEvents(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.eventRows)), nil
}

func (f *fakeStore) EventsMissingEmbedding(ctx context.Context, limit int) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("EventsMissingEmbedding"); err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range f.eventRows {
		if ev.HasEmbedding {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) SetEventEmbedding(ctx context.Context, id int64, vec []float32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SetEventEmbedding"); err != nil {
		return false, err
	}
	for i := range f.eventRows {
		if f.eventRows[i].ID == id && !f.eventRows[i].HasEmbedding {
			f.eventRows[i].HasEmbedding = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteEventsBefore"); err != nil {
		return 0, err
	}
	var kept []Event
	var deleted int64
	for _, ev := range f.eventRows {
		if ev.CreatedAt.Before(cutoff) && (limit <= 0 || deleted < int64(limit)) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	f.eventRows = kept
	return deleted, nil
}

func (f *fakeStore) SearchEventsText(ctx context.Context, sessionKey, query string, limit int) ([]EventHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SearchEventsText"); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	var hits []EventHit
	for _, ev := range f.eventRows {
		if ev.SessionKey != sessionKey {
			continue
		}
		content := strings.ToLower(ev.Content)
		matched := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, EventHit{
			ID:             ev.ID,
			ConversationID: ev.ConversationID,
			Role:           ev.Role,
			Content:        ev.Content,
			CreatedAt:      ev.CreatedAt,
			Rank:           float64(matched),
		})
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

func (f *fakeStore) SearchEventsVector(ctx context.Context, sessionKey string, vec []float32, limit int) ([]EventHit, error) {
	return nil, nil
}

func (f *fakeStore) EventsInWindow(ctx context.Context, sessionKey string, from, to time.Time, limit int) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("EventsInWindow"); err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range f.eventRows {
		if ev.SessionKey != sessionKey {
			continue
		}
		if ev.CreatedAt.Before(from) || !ev.CreatedAt.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetEmbedding(ctx context.Context, provider, model, contentHash string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vec, ok := f.cache[provider+"/"+model+"/"+contentHash]
	if !ok {
		return nil, ErrNotFound
	}
	return vec, nil
}

func (f *fakeStore) PutEmbedding(ctx context.Context, provider, model, contentHash string, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[provider+"/"+model+"/"+contentHash] = vec
	return nil
}

func (f *fakeStore) DeleteEmbedding(ctx context.Context, provider, model, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, provider+"/"+model+"/"+contentHash)
	return nil
}
