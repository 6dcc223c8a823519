package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"memoir/internal/blob"
	"memoir/internal/embeddings"
	"memoir/internal/jobs"
	"memoir/internal/ocr"
	"memoir/internal/store"
)

// Pipeline drives one page from "just uploaded" to "searchable": OCR the
// image, embed the text, persist both, and keep the job record current.
//
// Runs are detached: failures land on the job, never on the caller. The
// document store stays the sole source of truth for page existence, so the
// pipeline re-checks it before writing rather than trusting its first read.
type Pipeline struct {
	log      *slog.Logger
	store    store.Store
	blobs    blob.Store
	ocr      ocr.Service
	embedder embeddings.Embedder
	jobs     *jobs.Registry

	maxEmbedChars int
	callTimeout   time.Duration
	urlTTL        time.Duration
}

type Config struct {
	MaxEmbedChars int           // embedding service's published max input length
	CallTimeout   time.Duration // per external-service call
	URLTTL        time.Duration // signed image URL lifetime
}

func New(log *slog.Logger, st store.Store, blobs blob.Store, ocrSvc ocr.Service,
	embedder embeddings.Embedder, registry *jobs.Registry, cfg Config) *Pipeline {
	if cfg.MaxEmbedChars <= 0 {
		cfg.MaxEmbedChars = 8192
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 30 * time.Minute
	}
	return &Pipeline{
		log:           log,
		store:         st,
		blobs:         blobs,
		ocr:           ocrSvc,
		embedder:      embedder,
		jobs:          registry,
		maxEmbedChars: cfg.MaxEmbedChars,
		callTimeout:   cfg.CallTimeout,
		urlTTL:        cfg.URLTTL,
	}
}

// Run executes one ingestion. Callers invoke it as `go pipeline.Run(...)`
// and do not await completion; progress is observable through the job
// registry only.
func (p *Pipeline) Run(ctx context.Context, jobID, sourceID, pageID uuid.UUID, imageRef string) {
	log := p.log.With("job_id", jobID, "source_id", sourceID, "page_id", pageID)
	start := time.Now()

	if p.jobs.Cancelled(jobID) {
		log.Info("job cancelled before start")
		return
	}

	// The page is created before the job runs, but may already be gone.
	if !p.pageExists(ctx, jobID, sourceID, pageID, log) {
		return
	}

	p.jobs.SetStatus(jobID, jobs.StatusInProgress)

	imageURL, err := p.signedURL(ctx, imageRef)
	if err != nil {
		log.Error("failed to get readable image reference", "err", err)
		p.jobs.Fail(jobID, "could not access page image: "+err.Error())
		return
	}

	text, err := p.extractText(ctx, imageURL)
	if err != nil {
		// OCR failures are rarely transient within one upload; no retry,
		// the placeholder text stays and re-upload is the recovery path.
		log.Error("text extraction failed", "err", err)
		p.jobs.Fail(jobID, "text extraction failed: "+err.Error())
		return
	}

	if p.jobs.Cancelled(jobID) {
		log.Info("job cancelled after extraction, discarding result")
		return
	}

	text = embeddings.Truncate(text, p.maxEmbedChars)
	var vec embeddings.Vector
	if strings.TrimSpace(text) != "" {
		vec, err = p.embed(ctx, text)
		if err != nil {
			log.Error("embedding failed", "err", err)
			p.jobs.Fail(jobID, "embedding failed: "+err.Error())
			return
		}
	} else {
		log.Warn("extracted text empty, skipping embedding")
	}

	if p.jobs.Cancelled(jobID) {
		log.Info("job cancelled after embedding, discarding result")
		return
	}

	// Re-verify existence: the page may have been deleted while OCR and
	// embedding ran, and a write now would resurrect it.
	if !p.pageExists(ctx, jobID, sourceID, pageID, log) {
		return
	}

	if err := p.persist(ctx, sourceID, pageID, text, vec); err != nil {
		if errors.Is(err, store.ErrPageNotFound) {
			log.Warn("page deleted during ingestion, skipping write")
			p.jobs.Fail(jobID, "page deleted during ingestion")
			return
		}
		log.Error("failed to persist extracted content", "err", err)
		p.jobs.Fail(jobID, "failed to persist extracted content: "+err.Error())
		return
	}

	p.jobs.SetStatus(jobID, jobs.StatusCompleted)
	log.Info("ingestion completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"chars", len(text),
		"dims", len(vec),
	)
}

// pageExists checks the store and fails the job when the page is gone or the
// store is unreachable.
func (p *Pipeline) pageExists(ctx context.Context, jobID, sourceID, pageID uuid.UUID, log *slog.Logger) bool {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	_, err := p.store.GetPage(callCtx, sourceID, pageID)
	if errors.Is(err, store.ErrPageNotFound) {
		log.Warn("page no longer exists, skipping ingestion")
		p.jobs.Fail(jobID, "page no longer exists")
		return false
	}
	if err != nil {
		log.Error("failed to check page existence", "err", err)
		p.jobs.Fail(jobID, "document store error: "+err.Error())
		return false
	}
	return true
}

func (p *Pipeline) signedURL(ctx context.Context, imageRef string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return p.blobs.SignedURL(callCtx, imageRef, p.urlTTL)
}

func (p *Pipeline) extractText(ctx context.Context, imageURL string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return p.ocr.ExtractText(callCtx, imageURL)
}

func (p *Pipeline) embed(ctx context.Context, text string) (embeddings.Vector, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return p.embedder.Embed(callCtx, text)
}

func (p *Pipeline) persist(ctx context.Context, sourceID, pageID uuid.UUID, text string, vec embeddings.Vector) error {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return p.store.UpdatePageContent(callCtx, sourceID, pageID, text, vec)
}
