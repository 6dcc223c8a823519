package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"memoir/internal/embeddings"
	"memoir/internal/store"
)

// Mode selects between substring matching and nearest-neighbor retrieval.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeVector  Mode = "vector"
)

var (
	ErrEmptyQuery  = errors.New("search query must not be empty")
	ErrInvalidMode = errors.New("invalid search mode")
)

const defaultLimit = 10

// PageResult is a page hit. Distance and Relevance are populated in vector
// mode only; ranking is always by ascending raw distance, Relevance is a
// display convenience.
type PageResult struct {
	store.Page
	Distance  float32
	Relevance int
}

// Results pairs matched pages with the sources they belong to.
type Results struct {
	Sources []store.Source
	Pages   []PageResult
}

// Engine answers keyword and vector queries over the archive.
type Engine struct {
	log      *slog.Logger
	store    store.Store
	embedder embeddings.Embedder
}

func New(log *slog.Logger, st store.Store, embedder embeddings.Embedder) *Engine {
	return &Engine{log: log, store: st, embedder: embedder}
}

// Search runs a query, optionally scoped to sourceIDs. In vector mode an
// embedding failure is the caller's error; there is no silent fallback to
// keyword matching.
func (e *Engine) Search(ctx context.Context, query string, limit int, mode Mode, sourceIDs []uuid.UUID) (Results, error) {
	if strings.TrimSpace(query) == "" {
		return Results{}, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	switch mode {
	case ModeKeyword:
		return e.keyword(ctx, query, limit, sourceIDs)
	case ModeVector:
		return e.vector(ctx, query, limit, sourceIDs)
	default:
		return Results{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

func (e *Engine) keyword(ctx context.Context, query string, limit int, sourceIDs []uuid.UUID) (Results, error) {
	sources, err := e.store.QuerySources(ctx, query, limit)
	if err != nil {
		return Results{}, fmt.Errorf("source query failed: %w", err)
	}
	pages, err := e.store.QueryPages(ctx, query, sourceIDs, limit)
	if err != nil {
		return Results{}, fmt.Errorf("page query failed: %w", err)
	}
	results := Results{Sources: sources, Pages: make([]PageResult, 0, len(pages))}
	for _, p := range pages {
		results.Pages = append(results.Pages, PageResult{Page: p})
	}
	return results, nil
}

func (e *Engine) vector(ctx context.Context, query string, limit int, sourceIDs []uuid.UUID) (Results, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return Results{}, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := e.store.NearestPages(ctx, vec, sourceIDs, limit)
	if err != nil {
		return Results{}, fmt.Errorf("vector query failed: %w", err)
	}

	results := Results{Pages: make([]PageResult, 0, len(hits))}
	seen := make(map[uuid.UUID]bool)
	for _, hit := range hits {
		src, err := e.store.GetSource(ctx, hit.SourceID)
		if errors.Is(err, store.ErrSourceNotFound) {
			// Source deleted under the page; drop the orphan hit.
			e.log.Warn("dropping page with missing source", "page_id", hit.ID, "source_id", hit.SourceID)
			continue
		}
		if err != nil {
			return Results{}, fmt.Errorf("source lookup failed: %w", err)
		}
		if !seen[src.ID] {
			seen[src.ID] = true
			results.Sources = append(results.Sources, src)
		}
		results.Pages = append(results.Pages, PageResult{
			Page:      hit.Page,
			Distance:  hit.Distance,
			Relevance: Relevance(hit.Distance),
		})
	}
	return results, nil
}

// Relevance converts a raw cosine distance into a bounded 0-100 percentage.
// Assumes the cosine-distance convention with range [0, 2]; out-of-range
// inputs clamp rather than mis-scale.
func Relevance(distance float32) int {
	r := (1 - float64(distance)/2) * 100
	if r < 0 {
		r = 0
	}
	if r > 100 {
		r = 100
	}
	return int(math.Round(r))
}
