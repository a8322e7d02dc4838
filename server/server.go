// Package server assembles the kinship semantic search service: store,
// embedding pipeline, search engine and HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/kinshiphq/kinship/internal/profile"
	aiplugin "github.com/kinshiphq/kinship/plugin/ai"
	serverai "github.com/kinshiphq/kinship/server/ai"
	apiv1 "github.com/kinshiphq/kinship/server/router/api/v1"
	"github.com/kinshiphq/kinship/server/runner/reindex"
	"github.com/kinshiphq/kinship/server/search"
	"github.com/kinshiphq/kinship/store"
)

type Server struct {
	profile *profile.Profile
	store   *store.Store
	echo    *echo.Echo

	runner *reindex.Runner
}

// New builds the server. AI must be enabled and configured: this service
// has no degraded non-AI mode.
func New(ctx context.Context, profile *profile.Profile, st *store.Store, consent aiplugin.ConsentChecker) (*Server, error) {
	cfg := aiplugin.NewConfigFromProfile(profile)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid AI config")
	}
	if !cfg.Enabled {
		return nil, errors.New("AI is not enabled; semantic search requires an embedding provider")
	}

	embeddingService, err := aiplugin.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding service")
	}

	if err := st.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to migrate store")
	}

	generator := serverai.NewGenerator(embeddingService, nil)
	engine := search.NewEngine(st, generator, consent, nil)
	runner := reindex.NewRunner(st, generator, consent)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request", "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	apiv1.NewAPIV1Service(engine, runner).RegisterRoutes(e)

	return &Server{
		profile: profile,
		store:   st,
		echo:    e,
		runner:  runner,
	}, nil
}

// Start runs the background reindex loop and the HTTP listener, and blocks
// until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.runner.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down server", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("kinship server started", "addr", addr, "profile", s.profile.String())
	return s.echo.Start(addr)
}
