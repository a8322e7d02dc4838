// Package v1 exposes the semantic search subsystem over HTTP. Owner
// identity is taken from the authentication middleware, never from the
// request body.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	aiplugin "github.com/kinshiphq/kinship/plugin/ai"
	"github.com/kinshiphq/kinship/server/runner/reindex"
	"github.com/kinshiphq/kinship/server/search"
	"github.com/kinshiphq/kinship/store"
)

// ownerContextKey is where the auth middleware stores the authenticated
// owner id on the echo context.
const ownerContextKey = "kinship/owner-id"

// APIV1Service wires the search engine and reindex runner into echo routes.
type APIV1Service struct {
	Engine *search.Engine
	Runner *reindex.Runner
}

func NewAPIV1Service(engine *search.Engine, runner *reindex.Runner) *APIV1Service {
	return &APIV1Service{
		Engine: engine,
		Runner: runner,
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1", ownerMiddleware)
	g.POST("/search", s.Search)
	g.POST("/subjects/index", s.IndexSubject)
	g.DELETE("/subjects/:subjectId", s.RemoveSubject)
	g.DELETE("/owner", s.RemoveAllForOwner)
	g.POST("/reindex", s.Reindex)
}

// ownerMiddleware extracts the already-authenticated owner identity. Real
// deployments terminate authentication upstream and forward the opaque
// owner id; requests without one are rejected.
func ownerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ownerID := c.Request().Header.Get("X-Kinship-Owner")
		if ownerID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing owner identity")
		}
		c.Set(ownerContextKey, ownerID)
		return next(c)
	}
}

func ownerID(c echo.Context) string {
	id, _ := c.Get(ownerContextKey).(string)
	return id
}

type searchRequest struct {
	Query             string   `json:"query"`
	Limit             int      `json:"limit"`
	Threshold         *float32 `json:"threshold"`
	ContentTypes      []string `json:"contentTypes"`
	ExcludeSubjectIDs []string `json:"excludeSubjectIds"`
}

type searchResponse struct {
	Results []search.Result `json:"results"`
}

// Search handles POST /api/v1/search.
func (s *APIV1Service) Search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	contentTypes := make([]store.ContentType, 0, len(req.ContentTypes))
	for _, raw := range req.ContentTypes {
		ct := store.ContentType(raw)
		if !ct.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown content type: "+raw)
		}
		contentTypes = append(contentTypes, ct)
	}

	results, err := s.Engine.Search(c.Request().Context(), ownerID(c), req.Query, &search.Options{
		Limit:             req.Limit,
		Threshold:         req.Threshold,
		ContentTypes:      contentTypes,
		ExcludeSubjectIDs: req.ExcludeSubjectIDs,
	})
	if err != nil {
		return toHTTPError(err)
	}
	if results == nil {
		results = []search.Result{}
	}
	return c.JSON(http.StatusOK, &searchResponse{Results: results})
}

type indexSubjectRequest struct {
	SubjectID   string `json:"subjectId"`
	ContentType string `json:"contentType"`
	Text        string `json:"text"`
}

// IndexSubject handles POST /api/v1/subjects/index.
func (s *APIV1Service) IndexSubject(c echo.Context) error {
	var req indexSubjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	err := s.Runner.IndexSubject(c.Request().Context(), ownerID(c), reindex.SubjectText{
		SubjectID:   req.SubjectID,
		ContentType: store.ContentType(req.ContentType),
		Text:        req.Text,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveSubject handles DELETE /api/v1/subjects/:subjectId.
func (s *APIV1Service) RemoveSubject(c echo.Context) error {
	if err := s.Engine.RemoveSubject(c.Request().Context(), ownerID(c), c.Param("subjectId")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type removeAllResponse struct {
	Deleted int64 `json:"deleted"`
}

// RemoveAllForOwner handles DELETE /api/v1/owner: the full data-erasure
// path. Returns the count deleted for audit logging.
func (s *APIV1Service) RemoveAllForOwner(c echo.Context) error {
	count, err := s.Engine.RemoveAllForOwner(c.Request().Context(), ownerID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, &removeAllResponse{Deleted: count})
}

type reindexRequest struct {
	Items []indexSubjectRequest `json:"items"`
}

type reindexResponse struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Reindex handles POST /api/v1/reindex.
func (s *APIV1Service) Reindex(c echo.Context) error {
	var req reindexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	items := make([]reindex.SubjectText, len(req.Items))
	for i, item := range req.Items {
		items[i] = reindex.SubjectText{
			SubjectID:   item.SubjectID,
			ContentType: store.ContentType(item.ContentType),
			Text:        item.Text,
		}
	}

	summary, err := s.Runner.Reindex(c.Request().Context(), ownerID(c), items, nil)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, &reindexResponse{
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
	})
}

// toHTTPError maps the subsystem's error taxonomy onto HTTP statuses. A
// failed search is always distinguishable from a legitimately empty one.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, aiplugin.ErrConsentRequired):
		return echo.NewHTTPError(http.StatusForbidden, "AI processing consent required")
	case errors.Is(err, aiplugin.ErrInvalidQuery), errors.Is(err, aiplugin.ErrInvalidDimension):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, aiplugin.ErrEmbeddingUnavailable), errors.Is(err, aiplugin.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
