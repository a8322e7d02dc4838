package reindex

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinshiphq/kinship/internal/profile"
	aiplugin "github.com/kinshiphq/kinship/plugin/ai"
	"github.com/kinshiphq/kinship/plugin/ai/cache"
	serverai "github.com/kinshiphq/kinship/server/ai"
	"github.com/kinshiphq/kinship/store"
	"github.com/kinshiphq/kinship/store/teststore"
)

// mockEmbedder fails for texts containing a poison marker, succeeds
// otherwise.
type mockEmbedder struct {
	dimensions int
	callCount  atomic.Int32
	failMarker string
}

func (m *mockEmbedder) Embed(ctx context.Context, contentLabel, text string) ([]float32, error) {
	m.callCount.Add(1)
	if m.failMarker != "" && strings.Contains(text, m.failMarker) {
		return nil, errors.Wrap(aiplugin.ErrEmbeddingUnavailable, "forced failure")
	}
	vector := make([]float32, m.dimensions)
	for i := range vector {
		vector[i] = 0.1
	}
	return vector, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, contentLabel string, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, contentLabel, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dimensions }
func (m *mockEmbedder) Model() string   { return "mock-embedder" }

func newRunner(t *testing.T, embed *mockEmbedder, consent aiplugin.ConsentChecker) (*Runner, *teststore.Driver) {
	driver := teststore.New()
	st := store.New(driver, &profile.Profile{Mode: "dev"})
	generator := serverai.NewGenerator(embed, cache.New[[]float32](64, time.Hour))
	return NewRunner(st, generator, consent), driver
}

func items(n int, poisonIndex int, marker string) []SubjectText {
	list := make([]SubjectText, n)
	for i := range list {
		text := fmt.Sprintf("note about subject %d", i)
		if i == poisonIndex {
			text = "note " + marker
		}
		list[i] = SubjectText{
			SubjectID:   fmt.Sprintf("subject-%d", i),
			ContentType: store.ContentTypeRelationshipContext,
			Text:        text,
		}
	}
	return list
}

func TestReindexAllSucceed(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, driver := newRunner(t, embed, aiplugin.StaticConsent(true))

	summary, err := runner.Reindex(context.Background(), "owner-1", items(25, -1, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, 25, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 25, driver.ActiveCount("owner-1"))
}

func TestReindexPartialFailureIsolation(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8, failMarker: "POISON"}
	runner, driver := newRunner(t, embed, aiplugin.StaticConsent(true))

	summary, err := runner.Reindex(context.Background(), "owner-1", items(10, 3, "POISON"), nil)
	require.NoError(t, err)
	assert.Equal(t, 9, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 9, driver.ActiveCount("owner-1"), "siblings of the failed item are stored")
	assert.Nil(t, driver.Get("owner-1", "subject-3", store.ContentTypeRelationshipContext))
}

func TestReindexProgressCallback(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, _ := newRunner(t, embed, aiplugin.StaticConsent(true))

	var progress [][2]int
	_, err := runner.Reindex(context.Background(), "owner-1", items(25, -1, ""), func(completed, total int) {
		progress = append(progress, [2]int{completed, total})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{10, 25}, {20, 25}, {25, 25}}, progress)
}

func TestReindexRequiresConsent(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, driver := newRunner(t, embed, aiplugin.StaticConsent(false))

	_, err := runner.Reindex(context.Background(), "owner-1", items(5, -1, ""), nil)
	assert.ErrorIs(t, err, aiplugin.ErrConsentRequired)
	assert.Equal(t, int32(0), embed.callCount.Load(), "consent is checked before any network call")
	assert.Equal(t, 0, driver.ActiveCount("owner-1"))
}

func TestReindexCancellationAtChunkBoundary(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, _ := newRunner(t, embed, aiplugin.StaticConsent(true))

	ctx, cancel := context.WithCancel(context.Background())
	var once atomic.Bool
	summary, err := runner.Reindex(ctx, "owner-1", items(30, -1, ""), func(completed, total int) {
		if once.CompareAndSwap(false, true) {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, summary.Succeeded, "exactly one chunk completed before cancellation")
}

func TestIndexSubjectUpsertsInPlace(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, driver := newRunner(t, embed, aiplugin.StaticConsent(true))

	item := SubjectText{
		SubjectID:   "p1",
		ContentType: store.ContentTypeInteractionSummary,
		Text:        "Had coffee with John",
	}
	require.NoError(t, runner.IndexSubject(context.Background(), "owner-1", item))

	first := driver.Get("owner-1", "p1", store.ContentTypeInteractionSummary)
	require.NotNil(t, first)

	item.Text = "Had coffee with John, he seemed stressed"
	require.NoError(t, runner.IndexSubject(context.Background(), "owner-1", item))

	// Still exactly one active document for the tuple, carrying the
	// latest content.
	assert.Equal(t, 1, driver.ActiveCount("owner-1"))
	second := driver.Get("owner-1", "p1", store.ContentTypeInteractionSummary)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Had coffee with John, he seemed stressed", second.SearchableContent)
	assert.NotEqual(t, first.ContentHash, second.ContentHash)
}

func TestIndexSubjectValidation(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, _ := newRunner(t, embed, aiplugin.StaticConsent(true))

	err := runner.IndexSubject(context.Background(), "owner-1", SubjectText{
		SubjectID:   "p1",
		ContentType: "bogus",
		Text:        "text",
	})
	assert.ErrorIs(t, err, aiplugin.ErrInvalidQuery)

	err = runner.IndexSubject(context.Background(), "owner-1", SubjectText{
		SubjectID:   "p1",
		ContentType: store.ContentTypeLifeEvent,
		Text:        "   ",
	})
	assert.ErrorIs(t, err, aiplugin.ErrInvalidQuery)
}

func TestIndexSubjectTruncatesSearchableContent(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, driver := newRunner(t, embed, aiplugin.StaticConsent(true))

	long := strings.Repeat("x", store.MaxSearchableContentLength*2)
	require.NoError(t, runner.IndexSubject(context.Background(), "owner-1", SubjectText{
		SubjectID:   "p1",
		ContentType: store.ContentTypeLifeEvent,
		Text:        long,
	}))

	doc := driver.Get("owner-1", "p1", store.ContentTypeLifeEvent)
	require.NotNil(t, doc)
	assert.Len(t, doc.SearchableContent, store.MaxSearchableContentLength)
}

func TestIndexSubjectTruncationKeepsValidText(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, driver := newRunner(t, embed, aiplugin.StaticConsent(true))

	// Two-byte runes force the byte cap to land mid-rune.
	long := strings.Repeat("ü", store.MaxSearchableContentLength)
	require.NoError(t, runner.IndexSubject(context.Background(), "owner-1", SubjectText{
		SubjectID:   "p1",
		ContentType: store.ContentTypeLifeEvent,
		Text:        long,
	}))

	doc := driver.Get("owner-1", "p1", store.ContentTypeLifeEvent)
	require.NotNil(t, doc)
	assert.LessOrEqual(t, len(doc.SearchableContent), store.MaxSearchableContentLength)
	assert.True(t, utf8.ValidString(doc.SearchableContent), "stored content must not end mid-rune")
}

func TestIndexSubjectCallerCancellationIsNotAStoreOutage(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, driver := newRunner(t, embed, aiplugin.StaticConsent(true))
	driver.FailWith = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.IndexSubject(ctx, "owner-1", SubjectText{
		SubjectID:   "p1",
		ContentType: store.ContentTypeLifeEvent,
		Text:        "some text",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, aiplugin.ErrStoreUnavailable)
	assert.False(t, aiplugin.IsRetryable(err))
}

func TestProcessStaleDocuments(t *testing.T) {
	embed := &mockEmbedder{dimensions: 8}
	runner, driver := newRunner(t, embed, aiplugin.StaticConsent(true))
	st := store.New(driver, &profile.Profile{Mode: "dev"})

	// A document embedded by an older model.
	now := time.Now().Unix()
	_, err := st.UpsertVectorDocument(context.Background(), &store.VectorDocument{
		OwnerID:           "owner-1",
		SubjectID:         "p1",
		ContentType:       store.ContentTypeLifeEvent,
		Embedding:         make([]float32, 8),
		SearchableContent: "moved to Berlin",
		Model:             "old-model",
		ContentHash:       "stale",
		SchemaVersion:     store.CurrentSchemaVersion,
		GeneratedTs:       now,
		UpdatedTs:         now,
	})
	require.NoError(t, err)

	runner.processStaleDocuments(context.Background())

	doc := driver.Get("owner-1", "p1", store.ContentTypeLifeEvent)
	require.NotNil(t, doc)
	assert.Equal(t, "mock-embedder", doc.Model, "stale document re-embedded with the current model")
	assert.Equal(t, int32(1), embed.callCount.Load())
}
