package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProviderConfig describes one embedding provider, tried in order.
type ProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// Embedder turns text into fixed-dimension vectors, caching by
// (provider, model, sha256(text)). A nil vector with a nil error means
// "vector unavailable"; callers degrade to a non-vector mode.
type Embedder struct {
	providers []ProviderConfig
	cache     EmbeddingCache
	client    *http.Client
	logger    zerolog.Logger

	mu       sync.Mutex
	degraded map[string]bool // provider name -> permanent dimension-mismatch

	hits   int64
	misses int64
}

const embedTimeout = 15 * time.Second

// NewEmbedder builds an embedder over the configured providers. cache may be
// nil, in which case every call goes to a provider.
func NewEmbedder(providers []ProviderConfig, cache EmbeddingCache, logger zerolog.Logger) *Embedder {
	return &Embedder{
		providers: providers,
		cache:     cache,
		client:    &http.Client{Timeout: embedTimeout},
		logger:    logger,
		degraded:  make(map[string]bool),
	}
}

// Enabled reports whether at least one provider is configured and not
// degraded.
func (e *Embedder) Enabled() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.providers {
		if !e.degraded[p.Name] {
			return true
		}
	}
	return false
}

// CacheStats returns cumulative cache hit and miss counts.
func (e *Embedder) CacheStats() (hits, misses int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hits, e.misses
}

// Embed returns the vector for text, or nil when no provider can serve it.
// Never returns an error for provider failures; those degrade silently to the
// next provider.
func (e *Embedder) Embed(ctx context.Context, text string) []float32 {
	if e == nil || text == "" {
		return nil
	}
	contentHash := hashContent(text)

	for _, p := range e.providers {
		e.mu.Lock()
		skip := e.degraded[p.Name]
		e.mu.Unlock()
		if skip {
			continue
		}

		if vec := e.cached(ctx, p, contentHash); vec != nil {
			return vec
		}

		vec, err := e.request(ctx, p, text)
		if err != nil {
			e.logger.Warn().Err(err).Str("provider", p.Name).Msg("embedding provider failed")
			continue
		}
		if len(vec) != EmbeddingDim {
			// Wrong dimensionality is a configuration problem, not a
			// transient one. Stop asking this provider for the process
			// lifetime.
			e.mu.Lock()
			e.degraded[p.Name] = true
			e.mu.Unlock()
			e.logger.Error().
				Str("provider", p.Name).
				Int("got", len(vec)).
				Int("want", EmbeddingDim).
				Msg("embedding dimension mismatch, provider disabled")
			continue
		}

		if e.cache != nil {
			if err := e.cache.PutEmbedding(ctx, p.Name, p.Model, contentHash, vec); err != nil {
				e.logger.Warn().Err(err).Msg("embedding cache write failed")
			}
		}
		return vec
	}
	return nil
}

// cached checks the embedding cache, purging entries whose dimensionality no
// longer matches.
func (e *Embedder) cached(ctx context.Context, p ProviderConfig, contentHash string) []float32 {
	if e.cache == nil {
		return nil
	}
	vec, err := e.cache.GetEmbedding(ctx, p.Name, p.Model, contentHash)
	if err != nil && !errors.Is(err, ErrNotFound) {
		e.logger.Warn().Err(err).Msg("embedding cache read failed")
		return nil
	}
	if vec == nil {
		e.mu.Lock()
		e.misses++
		e.mu.Unlock()
		return nil
	}
	if len(vec) != EmbeddingDim {
		if err := e.cache.DeleteEmbedding(ctx, p.Name, p.Model, contentHash); err != nil {
			e.logger.Warn().Err(err).Msg("embedding cache purge failed")
		}
		e.mu.Lock()
		e.misses++
		e.mu.Unlock()
		return nil
	}
	e.mu.Lock()
	e.hits++
	e.mu.Unlock()
	return vec
}

type embedRequest struct {
	Model          string `json:"model"`
	Input          any    `json:"input"`
	Dimensions     int    `json:"dimensions,omitempty"`
	EncodingFormat string `json:"encoding_format,omitempty"`
}

// request calls the provider's embeddings endpoint. The primary body carries
// input as a single string; some deployments only accept an array, signalled
// by a parameter-shape error mentioning the input field, in which case the
// call is retried once with the alternate shape.
func (e *Embedder) request(ctx context.Context, p ProviderConfig, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	vec, status, body, err := e.post(ctx, p, embedRequest{
		Model:          p.Model,
		Input:          text,
		Dimensions:     EmbeddingDim,
		EncodingFormat: "float",
	})
	if err == nil {
		return vec, nil
	}
	if status == http.StatusBadRequest && isInputShapeError(body) {
		return e.retryArrayShape(ctx, p, text)
	}
	return nil, err
}

func (e *Embedder) retryArrayShape(ctx context.Context, p ProviderConfig, text string) ([]float32, error) {
	vec, _, _, err := e.post(ctx, p, embedRequest{
		Model:          p.Model,
		Input:          []string{text},
		Dimensions:     EmbeddingDim,
		EncodingFormat: "float",
	})
	return vec, err
}

// isInputShapeError matches the error signature providers emit when the
// request body's input field has the wrong JSON shape.
func isInputShapeError(body []byte) bool {
	s := strings.ToLower(string(body))
	if !strings.Contains(s, "input") {
		return false
	}
	return strings.Contains(s, "invalid type") ||
		strings.Contains(s, "invalid_request_error") ||
		strings.Contains(s, "$.input")
}

func (e *Embedder) post(ctx context.Context, p ProviderConfig, reqBody embedRequest) ([]float32, int, []byte, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := strings.TrimRight(p.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("call embeddings endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, body, fmt.Errorf("embeddings endpoint status %d: %s", resp.StatusCode, truncateForLog(body))
	}

	vec, err := parseEmbeddingBody(body)
	if err != nil {
		return nil, resp.StatusCode, body, err
	}
	return vec, resp.StatusCode, body, nil
}

// parseEmbeddingBody accepts either of the two response shapes:
//
//	{"data":[{"embedding":[...]}]}
//	{"embedding":[...]}
func parseEmbeddingBody(body []byte) ([]float32, error) {
	var wrapped struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Data) > 0 && len(wrapped.Data[0].Embedding) > 0 {
		return wrapped.Data[0].Embedding, nil
	}

	var flat struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && len(flat.Embedding) > 0 {
		return flat.Embedding, nil
	}
	return nil, fmt.Errorf("unrecognized embeddings response shape")
}

func truncateForLog(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return clipBytes(string(b), max) + "..."
}
