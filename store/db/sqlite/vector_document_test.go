package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinshiphq/kinship/internal/profile"
	"github.com/kinshiphq/kinship/store"
)

func newTestDriver(t *testing.T) store.Driver {
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "kinship_test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))
	return driver
}

func newTestDocument(owner, subject string, ct store.ContentType, vector []float32) *store.VectorDocument {
	now := time.Now().Unix()
	return &store.VectorDocument{
		OwnerID:           owner,
		SubjectID:         subject,
		ContentType:       ct,
		Embedding:         vector,
		SearchableContent: "some text",
		Model:             "test-model",
		ContentHash:       "hash-1",
		SchemaVersion:     store.CurrentSchemaVersion,
		GeneratedTs:       now,
		UpdatedTs:         now,
	}
}

func TestUpsertKeepsOneActiveDocumentPerTuple(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	first, err := driver.UpsertVectorDocument(ctx, newTestDocument("u1", "p1", store.ContentTypeLifeEvent, []float32{1, 0, 0}))
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	require.NotEmpty(t, first.UID)
	firstID, firstUID := first.ID, first.UID

	updated := newTestDocument("u1", "p1", store.ContentTypeLifeEvent, []float32{0, 1, 0})
	updated.ContentHash = "hash-2"
	second, err := driver.UpsertVectorDocument(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, firstID, second.ID, "re-upsert updates the active row in place")
	assert.Equal(t, firstUID, second.UID)

	list, err := driver.ListVectorDocuments(ctx, &store.FindVectorDocument{OnlyActive: true})
	require.NoError(t, err)
	require.Len(t, list, 1, "exactly one active document per tuple")
	assert.Equal(t, "hash-2", list[0].ContentHash)
	assert.Equal(t, []float32{0, 1, 0}, list[0].Embedding)
}

func TestVectorSearchScopedToOwner(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	_, err := driver.UpsertVectorDocument(ctx, newTestDocument("u1", "p1", store.ContentTypeLifeEvent, []float32{1, 0, 0}))
	require.NoError(t, err)
	_, err = driver.UpsertVectorDocument(ctx, newTestDocument("u1", "p2", store.ContentTypeLifeEvent, []float32{0, 1, 0}))
	require.NoError(t, err)
	_, err = driver.UpsertVectorDocument(ctx, newTestDocument("u2", "p3", store.ContentTypeLifeEvent, []float32{1, 0, 0}))
	require.NoError(t, err)

	results, err := driver.VectorSearch(ctx, &store.VectorSearchOptions{
		OwnerID: "u1",
		Vector:  []float32{1, 0, 0},
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2, "other owners' documents are invisible")
	assert.Equal(t, "p1", results[0].Document.SubjectID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestVectorSearchContentTypePredicate(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	_, err := driver.UpsertVectorDocument(ctx, newTestDocument("u1", "p1", store.ContentTypeLifeEvent, []float32{1, 0, 0}))
	require.NoError(t, err)
	_, err = driver.UpsertVectorDocument(ctx, newTestDocument("u1", "p2", store.ContentTypeEmotionalSignal, []float32{1, 0, 0}))
	require.NoError(t, err)

	results, err := driver.VectorSearch(ctx, &store.VectorSearchOptions{
		OwnerID:      "u1",
		Vector:       []float32{1, 0, 0},
		ContentTypes: []store.ContentType{store.ContentTypeEmotionalSignal},
		Limit:        10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, store.ContentTypeEmotionalSignal, results[0].Document.ContentType)
}

func TestDeleteVectorDocumentsByOwner(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	_, err := driver.UpsertVectorDocument(ctx, newTestDocument("u1", "p1", store.ContentTypeLifeEvent, []float32{1, 0, 0}))
	require.NoError(t, err)
	_, err = driver.UpsertVectorDocument(ctx, newTestDocument("u1", "p2", store.ContentTypeLifeEvent, []float32{0, 1, 0}))
	require.NoError(t, err)
	_, err = driver.UpsertVectorDocument(ctx, newTestDocument("u2", "p3", store.ContentTypeLifeEvent, []float32{1, 0, 0}))
	require.NoError(t, err)

	count, err := driver.DeleteVectorDocumentsByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	remaining, err := driver.ListVectorDocuments(ctx, &store.FindVectorDocument{})
	require.NoError(t, err)
	require.Len(t, remaining, 1, "other owners untouched")
	assert.Equal(t, "u2", remaining[0].OwnerID)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{
			name:     "identical direction",
			a:        []float32{1, 0, 0},
			b:        []float32{2, 0, 0},
			expected: 1,
		},
		{
			name:     "orthogonal",
			a:        []float32{1, 0, 0},
			b:        []float32{0, 1, 0},
			expected: 0,
		},
		{
			name:     "mismatched lengths score zero",
			a:        []float32{1, 0},
			b:        []float32{1, 0, 0},
			expected: 0,
		},
		{
			name:     "zero vector scores zero",
			a:        []float32{0, 0, 0},
			b:        []float32{1, 0, 0},
			expected: 0,
		},
		{
			name:     "empty vectors score zero",
			a:        nil,
			b:        nil,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, cosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestCosineSimilarityPartialOverlap(t *testing.T) {
	got := cosineSimilarity([]float32{1, 1, 0}, []float32{1, 0, 0})
	assert.InDelta(t, 0.7071, got, 1e-3)
}
