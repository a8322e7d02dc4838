// Package ai orchestrates embedding generation: cache lookup, remote model
// call, cache store.
package ai

import (
	"context"
	"log/slog"
	"time"

	aiplugin "github.com/kinshiphq/kinship/plugin/ai"
	"github.com/kinshiphq/kinship/plugin/ai/cache"
)

const (
	// EmbeddingCacheCapacity bounds the fingerprint → vector cache.
	EmbeddingCacheCapacity = 10000

	// EmbeddingCacheTTL forces regeneration of old entries so a model
	// upgrade cannot silently keep serving vectors from its predecessor.
	EmbeddingCacheTTL = time.Hour
)

// Metadata describes how a vector was produced.
type Metadata struct {
	Model       string
	Dimensions  int
	Fingerprint string
	GeneratedTs int64
	CacheHit    bool
}

// Generator produces embeddings through a fingerprint-keyed LRU cache.
// Overlapping calls for the same fingerprint may both reach the model;
// the duplicate write is idempotent, and holding a lock across the
// network call would cost more than the occasional double computation.
type Generator struct {
	service aiplugin.EmbeddingService
	cache   *cache.LRU[[]float32]
}

// NewGenerator creates a generator. The cache is injected so tests can use
// tiny deterministic instances.
func NewGenerator(service aiplugin.EmbeddingService, embeddingCache *cache.LRU[[]float32]) *Generator {
	if embeddingCache == nil {
		embeddingCache = cache.New[[]float32](EmbeddingCacheCapacity, EmbeddingCacheTTL)
	}
	return &Generator{
		service: service,
		cache:   embeddingCache,
	}
}

// Embed returns the embedding for the text under the given content label.
// On a fresh cache hit the model is not called and the metadata timestamp
// is reconstructed from the cache entry's age. The generator never
// fabricates a fallback vector: a failed model call fails the operation.
func (g *Generator) Embed(ctx context.Context, contentLabel, text string) ([]float32, *Metadata, error) {
	fingerprint := aiplugin.Fingerprint(contentLabel, text)

	if vector, age, ok := g.cache.Get(fingerprint); ok {
		return vector, &Metadata{
			Model:       g.service.Model(),
			Dimensions:  g.service.Dimensions(),
			Fingerprint: fingerprint,
			GeneratedTs: time.Now().Add(-age).Unix(),
			CacheHit:    true,
		}, nil
	}

	vector, err := g.service.Embed(ctx, contentLabel, text)
	if err != nil {
		return nil, nil, err
	}

	g.cache.Set(fingerprint, vector)
	slog.Debug("embedding generated",
		"content_label", contentLabel,
		"fingerprint", fingerprint[:12],
		"dimensions", len(vector))

	return vector, &Metadata{
		Model:       g.service.Model(),
		Dimensions:  g.service.Dimensions(),
		Fingerprint: fingerprint,
		GeneratedTs: time.Now().Unix(),
		CacheHit:    false,
	}, nil
}

// Model returns the identifier of the underlying embedding model.
func (g *Generator) Model() string {
	return g.service.Model()
}

// Dimensions returns the model's declared vector dimension.
func (g *Generator) Dimensions() int {
	return g.service.Dimensions()
}
