package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinshiphq/kinship/internal/profile"
	aiplugin "github.com/kinshiphq/kinship/plugin/ai"
	"github.com/kinshiphq/kinship/plugin/ai/cache"
	serverai "github.com/kinshiphq/kinship/server/ai"
	"github.com/kinshiphq/kinship/server/runner/reindex"
	"github.com/kinshiphq/kinship/server/search"
	"github.com/kinshiphq/kinship/store"
	"github.com/kinshiphq/kinship/store/teststore"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, contentLabel, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f fixedEmbedder) EmbedBatch(ctx context.Context, contentLabel string, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i], _ = f.Embed(ctx, contentLabel, texts[i])
	}
	return vectors, nil
}

func (fixedEmbedder) Dimensions() int { return 3 }
func (fixedEmbedder) Model() string   { return "mock-embedder" }

func newTestAPI(t *testing.T, consent aiplugin.ConsentChecker) (*echo.Echo, *teststore.Driver) {
	driver := teststore.New()
	st := store.New(driver, &profile.Profile{Mode: "dev"})
	generator := serverai.NewGenerator(fixedEmbedder{}, cache.New[[]float32](16, time.Hour))
	engine := search.NewEngine(st, generator, consent, cache.New[[]search.Result](16, time.Minute))
	runner := reindex.NewRunner(st, generator, consent)

	e := echo.New()
	NewAPIV1Service(engine, runner).RegisterRoutes(e)
	return e, driver
}

func doRequest(e *echo.Echo, method, path, owner, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if owner != "" {
		req.Header.Set("X-Kinship-Owner", owner)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMissingOwnerIsUnauthorized(t *testing.T) {
	e, _ := newTestAPI(t, aiplugin.StaticConsent(true))
	rec := doRequest(e, http.MethodPost, "/api/v1/search", "", `{"query":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	e, _ := newTestAPI(t, aiplugin.StaticConsent(true))

	// Index one subject, then find it.
	rec := doRequest(e, http.MethodPost, "/api/v1/subjects/index", "u1",
		`{"subjectId":"p1","contentType":"interaction_summary","text":"Had coffee with John"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(e, http.MethodPost, "/api/v1/search", "u1", `{"query":"coffee"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []search.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "p1", resp.Results[0].SubjectID)
}

func TestSearchEndpointValidation(t *testing.T) {
	e, _ := newTestAPI(t, aiplugin.StaticConsent(true))

	rec := doRequest(e, http.MethodPost, "/api/v1/search", "u1", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPost, "/api/v1/search", "u1", `{"query":"x","contentTypes":["bogus"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsentDeniedIsForbidden(t *testing.T) {
	e, _ := newTestAPI(t, aiplugin.StaticConsent(false))

	rec := doRequest(e, http.MethodPost, "/api/v1/search", "u1", `{"query":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(e, http.MethodPost, "/api/v1/subjects/index", "u1",
		`{"subjectId":"p1","contentType":"life_event","text":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRemoveAllEndpointReportsCount(t *testing.T) {
	e, driver := newTestAPI(t, aiplugin.StaticConsent(true))

	for _, body := range []string{
		`{"subjectId":"p1","contentType":"life_event","text":"a"}`,
		`{"subjectId":"p2","contentType":"life_event","text":"b"}`,
	} {
		rec := doRequest(e, http.MethodPost, "/api/v1/subjects/index", "u1", body)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := doRequest(e, http.MethodDelete, "/api/v1/owner", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Deleted)
	assert.Equal(t, 0, driver.ActiveCount("u1"))
}

func TestReindexEndpoint(t *testing.T) {
	e, driver := newTestAPI(t, aiplugin.StaticConsent(true))

	rec := doRequest(e, http.MethodPost, "/api/v1/reindex", "u1",
		`{"items":[
			{"subjectId":"p1","contentType":"life_event","text":"a"},
			{"subjectId":"p2","contentType":"bogus","text":"b"}
		]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, 1, driver.ActiveCount("u1"))
}
