// Package reindex regenerates and upserts embeddings for owner subjects in
// bounded-size batches, tracking per-item success and failure.
package reindex

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	aiplugin "github.com/kinshiphq/kinship/plugin/ai"
	"github.com/kinshiphq/kinship/plugin/ai/timeout"
	serverai "github.com/kinshiphq/kinship/server/ai"
	"github.com/kinshiphq/kinship/store"
)

// DefaultChunkSize bounds concurrent outbound embedding calls per chunk.
const DefaultChunkSize = 10

// SubjectText is one unit of reindexing work: the current text of a
// subject under a given content type.
type SubjectText struct {
	SubjectID   string
	ContentType store.ContentType
	Text        string
}

// Summary reports a batch outcome. Per-item failures are counted, never
// escalated: one bad item must not abort its siblings.
type Summary struct {
	Succeeded int
	Failed    int
}

// ProgressFunc is invoked after each chunk with the number of items
// processed so far and the total. It is the only synchronization point the
// caller gets; no ordering is guaranteed within a chunk.
type ProgressFunc func(completed, total int)

// Runner is the batch re-indexing pipeline. The single-item IndexSubject
// and the bulk Reindex share the same per-item code path, so live updates
// and bulk repair cannot diverge behaviorally.
type Runner struct {
	store     *store.Store
	generator *serverai.Generator
	consent   aiplugin.ConsentChecker
	chunkSize int
	interval  time.Duration
}

// NewRunner creates a reindex runner.
func NewRunner(st *store.Store, generator *serverai.Generator, consent aiplugin.ConsentChecker) *Runner {
	return &Runner{
		store:     st,
		generator: generator,
		consent:   consent,
		chunkSize: DefaultChunkSize,
		interval:  2 * time.Minute,
	}
}

// IndexSubject embeds and upserts a single subject's text. Equivalent to a
// one-element batch.
func (r *Runner) IndexSubject(ctx context.Context, ownerID string, item SubjectText) error {
	if err := r.checkConsent(ctx, ownerID); err != nil {
		return err
	}
	return r.processItem(ctx, ownerID, item)
}

// Reindex processes the items in fixed-size chunks. Within a chunk all
// items are embedded and upserted concurrently; failures are counted per
// item. Cancellation is cooperative and checked at chunk boundaries.
func (r *Runner) Reindex(ctx context.Context, ownerID string, items []SubjectText, onProgress ProgressFunc) (*Summary, error) {
	if err := r.checkConsent(ctx, ownerID); err != nil {
		return nil, err
	}

	// Every batch gets a run id so its log lines can be correlated.
	runID := uuid.New().String()
	total := len(items)
	var succeeded, failed atomic.Int32

	for start := 0; start < total; start += r.chunkSize {
		select {
		case <-ctx.Done():
			slog.Info("reindex cancelled",
				"run_id", runID,
				"owner_id", ownerID,
				"processed", start,
				"total", total)
			return r.summary(&succeeded, &failed), ctx.Err()
		default:
		}

		end := start + r.chunkSize
		if end > total {
			end = total
		}

		chunkCtx, cancel := context.WithTimeout(ctx, timeout.ReindexChunkTimeout)
		var g errgroup.Group
		for _, item := range items[start:end] {
			g.Go(func() error {
				if err := r.processItem(chunkCtx, ownerID, item); err != nil {
					failed.Add(1)
					slog.Error("failed to reindex subject",
						"run_id", runID,
						"owner_id", ownerID,
						"subject_id", item.SubjectID,
						"content_type", item.ContentType,
						"error", err)
					return nil
				}
				succeeded.Add(1)
				return nil
			})
		}
		_ = g.Wait()
		cancel()

		if onProgress != nil {
			onProgress(end, total)
		}
	}

	return r.summary(&succeeded, &failed), nil
}

// Run starts the background repair loop: documents embedded with a stale
// model or schema version are re-embedded in batches until cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.processStaleDocuments(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processStaleDocuments(ctx)
		case <-ctx.Done():
			slog.Info("reindex runner stopped")
			return
		}
	}
}

func (r *Runner) processStaleDocuments(ctx context.Context) {
	docs, err := r.store.FindStaleVectorDocuments(ctx, &store.FindStaleVectorDocuments{
		Model:         r.generator.Model(),
		SchemaVersion: store.CurrentSchemaVersion,
		Limit:         r.chunkSize * 20,
	})
	if err != nil {
		slog.Error("failed to find stale vector documents", "error", err)
		return
	}
	if len(docs) == 0 {
		return
	}

	slog.Info("reprocessing stale vector documents", "count", len(docs))

	// Group by owner so each owner's consent is checked once and the
	// shared Reindex path does the rest.
	byOwner := map[string][]SubjectText{}
	for _, doc := range docs {
		byOwner[doc.OwnerID] = append(byOwner[doc.OwnerID], SubjectText{
			SubjectID:   doc.SubjectID,
			ContentType: doc.ContentType,
			Text:        doc.SearchableContent,
		})
	}

	for ownerID, items := range byOwner {
		select {
		case <-ctx.Done():
			return
		default:
		}
		summary, err := r.Reindex(ctx, ownerID, items, nil)
		if err != nil {
			if errors.Is(err, aiplugin.ErrConsentRequired) {
				continue
			}
			slog.Error("stale document reindex failed", "owner_id", ownerID, "error", err)
			continue
		}
		slog.Info("stale documents reprocessed",
			"owner_id", ownerID,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed)
	}
}

// processItem is the shared embed-and-upsert path for both live updates
// and bulk repair.
func (r *Runner) processItem(ctx context.Context, ownerID string, item SubjectText) error {
	if !item.ContentType.IsValid() {
		return errors.Wrapf(aiplugin.ErrInvalidQuery, "unknown content type: %s", item.ContentType)
	}
	text := strings.TrimSpace(item.Text)
	if text == "" {
		return errors.Wrap(aiplugin.ErrInvalidQuery, "subject text is empty")
	}
	if item.SubjectID == "" {
		return errors.Wrap(aiplugin.ErrInvalidQuery, "subject id is empty")
	}

	vector, meta, err := r.generator.Embed(ctx, string(item.ContentType), text)
	if err != nil {
		return err
	}

	content := aiplugin.TruncateRunes(text, store.MaxSearchableContentLength)

	now := time.Now().Unix()
	_, err = r.store.UpsertVectorDocument(ctx, &store.VectorDocument{
		OwnerID:           ownerID,
		SubjectID:         item.SubjectID,
		ContentType:       item.ContentType,
		Embedding:         vector,
		SearchableContent: content,
		Model:             meta.Model,
		ContentHash:       meta.Fingerprint,
		SchemaVersion:     store.CurrentSchemaVersion,
		GeneratedTs:       meta.GeneratedTs,
		UpdatedTs:         now,
	})
	if err != nil {
		return aiplugin.WrapStoreError(ctx, err, "upsert failed")
	}
	return nil
}

func (r *Runner) checkConsent(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return errors.Wrap(aiplugin.ErrInvalidQuery, "owner id is empty")
	}
	enabled, err := r.consent.AIProcessingEnabled(ctx, ownerID)
	if err != nil {
		return errors.Wrapf(aiplugin.ErrConsentRequired, "consent lookup failed: %v", err)
	}
	if !enabled {
		return aiplugin.ErrConsentRequired
	}
	return nil
}

func (r *Runner) summary(succeeded, failed *atomic.Int32) *Summary {
	return &Summary{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
}
