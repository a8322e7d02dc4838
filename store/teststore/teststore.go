// Package teststore provides an in-memory store.Driver for tests: same
// upsert and search semantics as the real drivers, no database.
package teststore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/kinshiphq/kinship/store"
)

// Driver is an in-memory implementation of store.Driver.
type Driver struct {
	mu     sync.RWMutex
	nextID int32
	docs   map[string]*store.VectorDocument // keyed by (owner, subject, contentType)

	// FailWith, when set, makes every operation fail. Simulates an
	// unavailable store.
	FailWith error

	// SearchCalls counts VectorSearch invocations.
	SearchCalls atomic.Int32
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		docs: make(map[string]*store.VectorDocument),
	}
}

func tupleKey(ownerID, subjectID string, ct store.ContentType) string {
	return fmt.Sprintf("%s/%s/%s", ownerID, subjectID, ct)
}

func (d *Driver) GetDB() *sql.DB { return nil }
func (d *Driver) Close() error   { return nil }

func (d *Driver) IsInitialized(ctx context.Context) (bool, error) { return true, nil }
func (d *Driver) Migrate(ctx context.Context) error               { return nil }

func (d *Driver) UpsertVectorDocument(ctx context.Context, doc *store.VectorDocument) (*store.VectorDocument, error) {
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	key := tupleKey(doc.OwnerID, doc.SubjectID, doc.ContentType)
	if existing, ok := d.docs[key]; ok {
		doc.ID = existing.ID
		doc.UID = existing.UID
	} else {
		d.nextID++
		doc.ID = d.nextID
		if doc.UID == "" {
			doc.UID = fmt.Sprintf("uid-%d", doc.ID)
		}
	}
	doc.IsActive = true

	clone := *doc
	d.docs[key] = &clone
	return doc, nil
}

func (d *Driver) ListVectorDocuments(ctx context.Context, find *store.FindVectorDocument) ([]*store.VectorDocument, error) {
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.VectorDocument{}
	for _, doc := range d.docs {
		if find.OwnerID != nil && doc.OwnerID != *find.OwnerID {
			continue
		}
		if find.SubjectID != nil && doc.SubjectID != *find.SubjectID {
			continue
		}
		if find.ContentType != nil && doc.ContentType != *find.ContentType {
			continue
		}
		if find.OnlyActive && !doc.IsActive {
			continue
		}
		clone := *doc
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (d *Driver) DeleteVectorDocument(ctx context.Context, delete *store.DeleteVectorDocument) error {
	if d.FailWith != nil {
		return d.FailWith
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, doc := range d.docs {
		if doc.OwnerID == delete.OwnerID && doc.SubjectID == delete.SubjectID {
			removeKey(d.docs, key)
		}
	}
	return nil
}

func (d *Driver) DeleteVectorDocumentsByOwner(ctx context.Context, ownerID string) (int64, error) {
	if d.FailWith != nil {
		return 0, d.FailWith
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var count int64
	for key, doc := range d.docs {
		if doc.OwnerID == ownerID {
			removeKey(d.docs, key)
			count++
		}
	}
	return count, nil
}

func (d *Driver) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.DocumentWithScore, error) {
	d.SearchCalls.Add(1)
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	if opts.OwnerID == "" {
		return nil, errors.New("owner id is required for vector search")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	types := map[store.ContentType]bool{}
	for _, ct := range opts.ContentTypes {
		types[ct] = true
	}

	results := []*store.DocumentWithScore{}
	for _, doc := range d.docs {
		if doc.OwnerID != opts.OwnerID || !doc.IsActive {
			continue
		}
		if len(types) > 0 && !types[doc.ContentType] {
			continue
		}
		clone := *doc
		results = append(results, &store.DocumentWithScore{
			Document: &clone,
			Score:    cosineSimilarity(opts.Vector, doc.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (d *Driver) FindStaleVectorDocuments(ctx context.Context, find *store.FindStaleVectorDocuments) ([]*store.VectorDocument, error) {
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.VectorDocument{}
	for _, doc := range d.docs {
		if !doc.IsActive {
			continue
		}
		if find.OwnerID != nil && doc.OwnerID != *find.OwnerID {
			continue
		}
		if doc.Model == find.Model && doc.SchemaVersion >= find.SchemaVersion {
			continue
		}
		clone := *doc
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ActiveCount returns the number of active documents for an owner.
func (d *Driver) ActiveCount(ownerID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	for _, doc := range d.docs {
		if doc.OwnerID == ownerID && doc.IsActive {
			count++
		}
	}
	return count
}

// Get returns the stored document for a tuple, or nil.
func (d *Driver) Get(ownerID, subjectID string, ct store.ContentType) *store.VectorDocument {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.docs[tupleKey(ownerID, subjectID, ct)]
	if !ok {
		return nil
	}
	clone := *doc
	return &clone
}

func removeKey(docs map[string]*store.VectorDocument, key string) {
	delete(docs, key)
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
