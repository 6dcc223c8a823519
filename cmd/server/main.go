package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"memoir/internal/app"
	"memoir/internal/chat"
	"memoir/internal/httputil"
	"memoir/internal/ingest"
	"memoir/internal/jobs"
	"memoir/internal/search"
)

// server bundles the core components the handlers close over.
type server struct {
	deps     app.Deps
	jobs     *jobs.Registry
	pipeline *ingest.Pipeline
	engine   *search.Engine
	chat     *chat.Orchestrator
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}

	s := newServer(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	srv := &http.Server{Addr: addr, Handler: s.routes()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps.Log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("server stopped", "err", err)
		os.Exit(1)
	}
	_ = deps.Events.Close()
	_ = deps.Cache.Close()
}

func newServer(deps app.Deps) *server {
	cfg := deps.Config

	engine := search.New(deps.Log, deps.Store, deps.Embedder)
	orchestrator := chat.New(deps.Log, engine, deps.LLM, deps.Cache, time.Duration(cfg.CacheTTL)*time.Second)

	registry := jobs.NewRegistry(deps.Log, jobs.WithNotify(func(j jobs.Job) {
		if err := deps.Events.JobChanged(context.Background(), j); err != nil {
			deps.Log.Warn("failed to publish job event", "job_id", j.ID, "err", err)
		}
		// A completed ingestion makes new content searchable; cached chat
		// answers may no longer reflect the archive.
		if j.Status == jobs.StatusCompleted {
			orchestrator.InvalidateCache(context.Background())
		}
	}))

	pipeline := ingest.New(deps.Log, deps.Store, deps.Blobs, deps.OCR, deps.Embedder, registry, ingest.Config{
		MaxEmbedChars: cfg.EmbeddingMaxChars,
		CallTimeout:   time.Duration(cfg.ServiceTimeout) * time.Second,
		URLTTL:        time.Duration(cfg.BlobURLTTLMin) * time.Minute,
	})

	return &server{
		deps:     deps,
		jobs:     registry,
		pipeline: pipeline,
		engine:   engine,
		chat:     orchestrator,
	}
}

func (s *server) routes() *chi.Mux {
	r := httputil.NewRouter(s.deps.Log)

	r.Post("/api/sources", createSourceHandler(s))
	r.Get("/api/sources", listSourcesHandler(s))
	r.Get("/api/sources/{sourceID}", getSourceHandler(s))

	r.Post("/api/sources/{sourceID}/pages", uploadPageHandler(s))
	r.Post("/api/sources/{sourceID}/pages/batch", uploadPagesBatchHandler(s))
	r.Get("/api/sources/{sourceID}/pages", listPagesHandler(s))
	r.Get("/api/sources/{sourceID}/pages/{pageID}", getPageHandler(s))
	r.Put("/api/sources/{sourceID}/pages/{pageID}", updatePageHandler(s))
	r.Delete("/api/sources/{sourceID}/pages/{pageID}", deletePageHandler(s))

	r.Get("/api/search", searchHandler(s))
	r.Post("/api/chat", chatHandler(s))

	r.Get("/api/jobs", listJobsHandler(s))
	r.Get("/api/jobs/{jobID}", getJobHandler(s))
	r.Delete("/api/jobs/{jobID}", cancelJobHandler(s))
	r.Delete("/api/jobs", cancelJobsHandler(s))

	r.Get("/blobs/*", serveBlobHandler(s))
	r.Get("/healthz", healthHandler(s))

	return r
}

func healthHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.deps.Log.Warn("healthz write failed", "err", err)
		}
	}
}
