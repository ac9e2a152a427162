// Package server exposes the scrape pipeline, staging lifecycle, and
// AI analysis over HTTP for the screening frontend.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nivo-analytics/screener-cli/internal/analysis"
	"github.com/nivo-analytics/screener-cli/internal/analytics"
	"github.com/nivo-analytics/screener-cli/internal/migrate"
	"github.com/nivo-analytics/screener-cli/internal/pipeline"
	"github.com/nivo-analytics/screener-cli/internal/staging"
	"github.com/nivo-analytics/screener-cli/internal/validate"
)

// Server hosts the HTTP API.
type Server struct {
	runner    *pipeline.Runner
	staging   *staging.Store
	validator *validate.Validator
	migrator  *migrate.Migrator
	analytics *analytics.Store
	analyzer  *analysis.Analyzer
	log       *zap.Logger

	historyLimitMax int

	// baseCtx parents the background stage goroutines, so they outlive
	// the originating request but stop on server shutdown.
	baseCtx context.Context
}

// Deps bundles the subsystems the server fronts.
type Deps struct {
	Runner    *pipeline.Runner
	Staging   *staging.Store
	Validator *validate.Validator
	Migrator  *migrate.Migrator
	Analytics *analytics.Store
	Analyzer  *analysis.Analyzer
	Logger    *zap.Logger

	// HistoryLimitMax caps the limit accepted by run-history queries.
	HistoryLimitMax int
}

// New creates a Server.
func New(baseCtx context.Context, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		runner:    deps.Runner,
		staging:   deps.Staging,
		validator: deps.Validator,
		migrator:  deps.Migrator,
		analytics: deps.Analytics,
		analyzer:  deps.Analyzer,
		log:       log,
		baseCtx:   baseCtx,

		historyLimitMax: deps.HistoryLimitMax,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/segment/start", s.handleSegmentStart)
		r.Get("/segment/status", s.handleSegmentStatus)
		r.Post("/segment/pause", s.handleSegmentPause)
		r.Post("/segment/resume", s.handleSegmentResume)
		r.Post("/segment/stop", s.handleSegmentStop)

		r.Post("/enrich/company-ids", s.handleEnrich)
		r.Post("/financial/fetch", s.handleFinancialFetch)

		r.Post("/staging/validate", s.handleValidate)
		r.Post("/staging/migrate-from-local", s.handleMigrate)

		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{sessionId}", s.handleSessionDetail)
		r.Get("/sessions/{sessionId}/companies", s.handleSessionCompanies)

		r.Get("/companies", s.handleCompanies)

		r.Post("/ai-analysis", s.handleAnalysisStart)
		r.Get("/ai-analysis", s.handleAnalysisQuery)
		r.Get("/analysis-runs", s.handleAnalysisRuns)
		r.Get("/analysis-runs/{runId}", s.handleAnalysisRunDetail)
	})

	return r
}

// ListenAndServe runs the server until ctx is canceled, then shuts it
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	s.log.Info("api server stopped")
	return nil
}

// requestLogger logs each request with latency and status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
