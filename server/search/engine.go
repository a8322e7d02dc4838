// Package search implements the similarity search engine: query embedding,
// nearest-neighbor retrieval, threshold/exclusion filtering and ranking,
// with a bounded result cache in front.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	aiplugin "github.com/kinshiphq/kinship/plugin/ai"
	"github.com/kinshiphq/kinship/plugin/ai/cache"
	"github.com/kinshiphq/kinship/plugin/ai/timeout"
	serverai "github.com/kinshiphq/kinship/server/ai"
	"github.com/kinshiphq/kinship/store"
)

const (
	// DefaultLimit is the result count when the caller does not specify one.
	DefaultLimit = 10

	// MaxLimit is the hard cap imposed by the underlying store.
	MaxLimit = 100

	// DefaultThreshold is the similarity floor when the caller does not
	// specify one. A threshold of zero disables the floor.
	DefaultThreshold float32 = 0.7

	// ResultCacheCapacity bounds the query-result cache.
	ResultCacheCapacity = 1000

	// ResultCacheTTL bounds result staleness; same philosophy as the
	// embedding cache, shorter horizon.
	ResultCacheTTL = 15 * time.Minute
)

// Options controls a search.
type Options struct {
	// Limit caps the result count; zero means DefaultLimit.
	Limit int
	// Threshold is the minimum similarity; nil means DefaultThreshold,
	// a pointer to zero disables the floor.
	Threshold *float32
	// ContentTypes restricts results to the given types; empty means all.
	ContentTypes []store.ContentType
	// ExcludeSubjectIDs removes specific subjects regardless of score.
	ExcludeSubjectIDs []string
}

// Result is one ranked search hit. Results are strictly sorted by Score
// descending.
type Result struct {
	DocumentUID string            `json:"documentUid"`
	SubjectID   string            `json:"subjectId"`
	ContentType store.ContentType `json:"contentType"`
	Score       float32           `json:"score"`
	Content     string            `json:"content"`
	Model       string            `json:"model"`
	UpdatedTs   int64             `json:"updatedTs"`
}

// Engine is the search facade over the embedding generator and the vector
// store.
type Engine struct {
	store       *store.Store
	generator   *serverai.Generator
	consent     aiplugin.ConsentChecker
	resultCache *cache.LRU[[]Result]
}

// NewEngine creates a search engine. The result cache is injected so tests
// can use tiny deterministic instances; nil gets the default.
func NewEngine(st *store.Store, generator *serverai.Generator, consent aiplugin.ConsentChecker, resultCache *cache.LRU[[]Result]) *Engine {
	if resultCache == nil {
		resultCache = cache.New[[]Result](ResultCacheCapacity, ResultCacheTTL)
	}
	return &Engine{
		store:       st,
		generator:   generator,
		consent:     consent,
		resultCache: resultCache,
	}
}

// Search returns documents semantically similar to the query, scoped to
// one owner, ordered by similarity descending and capped at the requested
// limit. An empty result is a legitimate "nothing matched", not an error.
func (e *Engine) Search(ctx context.Context, ownerID, query string, opts *Options) ([]Result, error) {
	if err := e.checkConsent(ctx, ownerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.Wrap(aiplugin.ErrInvalidQuery, "query text is empty")
	}
	if ownerID == "" {
		return nil, errors.Wrap(aiplugin.ErrInvalidQuery, "owner id is empty")
	}

	limit, threshold, contentTypes := normalizeOptions(opts)

	key := cacheKey(ownerID, query, limit, threshold, contentTypes, opts)
	if cached, _, ok := e.resultCache.Get(key); ok {
		return append([]Result(nil), cached...), nil
	}

	vector, _, err := e.generator.Embed(ctx, aiplugin.QueryLabel, query)
	if err != nil {
		return nil, err
	}

	// Fetch more than requested: threshold and exclusion filtering shrink
	// the candidate set after the store has already applied its limit.
	fetchLimit := limit * 3
	if opts != nil {
		fetchLimit += len(opts.ExcludeSubjectIDs)
	}
	if fetchLimit > MaxLimit {
		fetchLimit = MaxLimit
	}

	searchCtx, cancel := context.WithTimeout(ctx, timeout.VectorSearchTimeout)
	defer cancel()

	matches, err := e.store.VectorSearch(searchCtx, &store.VectorSearchOptions{
		OwnerID:      ownerID,
		Vector:       vector,
		ContentTypes: contentTypes,
		Limit:        fetchLimit,
	})
	if err != nil {
		return nil, aiplugin.WrapStoreError(ctx, err, "vector search failed")
	}

	excluded := map[string]bool{}
	if opts != nil {
		for _, id := range opts.ExcludeSubjectIDs {
			excluded[id] = true
		}
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		score := clampScore(m.Score)
		if score < threshold || excluded[m.Document.SubjectID] {
			continue
		}
		results = append(results, Result{
			DocumentUID: m.Document.UID,
			SubjectID:   m.Document.SubjectID,
			ContentType: m.Document.ContentType,
			Score:       score,
			Content:     m.Document.SearchableContent,
			Model:       m.Document.Model,
			UpdatedTs:   m.Document.UpdatedTs,
		})
	}

	// Stable sort: equal scores keep a deterministic order after filtering.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	e.resultCache.Set(key, results)
	return append([]Result(nil), results...), nil
}

// RemoveSubject hard-deletes all vector documents for a subject. No
// consent gate: deleting data must always be possible.
func (e *Engine) RemoveSubject(ctx context.Context, ownerID, subjectID string) error {
	if ownerID == "" || subjectID == "" {
		return errors.Wrap(aiplugin.ErrInvalidQuery, "owner id and subject id are required")
	}
	err := e.store.DeleteVectorDocument(ctx, &store.DeleteVectorDocument{
		OwnerID:   ownerID,
		SubjectID: subjectID,
	})
	if err != nil {
		return aiplugin.WrapStoreError(ctx, err, "delete failed")
	}
	return nil
}

// RemoveAllForOwner hard-deletes every vector document for the owner and
// returns the count removed, for audit logging by the privacy collaborator.
func (e *Engine) RemoveAllForOwner(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, errors.Wrap(aiplugin.ErrInvalidQuery, "owner id is required")
	}
	count, err := e.store.DeleteVectorDocumentsByOwner(ctx, ownerID)
	if err != nil {
		return 0, aiplugin.WrapStoreError(ctx, err, "delete failed")
	}
	slog.Info("removed all vector documents for owner", "owner_id", ownerID, "count", count)
	return count, nil
}

func (e *Engine) checkConsent(ctx context.Context, ownerID string) error {
	enabled, err := e.consent.AIProcessingEnabled(ctx, ownerID)
	if err != nil {
		return errors.Wrapf(aiplugin.ErrConsentRequired, "consent lookup failed: %v", err)
	}
	if !enabled {
		return aiplugin.ErrConsentRequired
	}
	return nil
}

func normalizeOptions(opts *Options) (limit int, threshold float32, contentTypes []store.ContentType) {
	limit = DefaultLimit
	threshold = DefaultThreshold
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Threshold != nil {
			threshold = *opts.Threshold
		}
		contentTypes = opts.ContentTypes
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	// A request spanning the whole closed set is the same as no predicate;
	// skip the filter instead of sending a needless IN clause.
	if store.CoversAllContentTypes(contentTypes) {
		contentTypes = nil
	}
	return limit, threshold, contentTypes
}

// cacheKey builds a deterministic key over the query and every option that
// changes the result set.
func cacheKey(ownerID, query string, limit int, threshold float32, contentTypes []store.ContentType, opts *Options) string {
	types := make([]string, len(contentTypes))
	for i, ct := range contentTypes {
		types[i] = string(ct)
	}
	sort.Strings(types)

	var excludes []string
	if opts != nil {
		excludes = append(excludes, opts.ExcludeSubjectIDs...)
		sort.Strings(excludes)
	}

	return fmt.Sprintf("search:%s:%s:%d:%.4f:%s:%s",
		ownerID,
		aiplugin.Fingerprint(aiplugin.QueryLabel, query),
		limit,
		threshold,
		strings.Join(types, ","),
		strings.Join(excludes, ","),
	)
}

func clampScore(score float32) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
