package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoir/internal/embeddings"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs the "memory"
// provider for local development and most tests; the cosine-distance ranking
// here mirrors what the Postgres store delegates to pgvector.
type MemoryStore struct {
	mu      sync.RWMutex
	sources map[uuid.UUID]Source
	pages   map[uuid.UUID]Page
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		sources: make(map[uuid.UUID]Source),
		pages:   make(map[uuid.UUID]Page),
	}
}

func (s *MemoryStore) CreateSource(_ context.Context, src Source) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now
	s.sources[src.ID] = src
	return src, nil
}

func (s *MemoryStore) GetSource(_ context.Context, id uuid.UUID) (Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return Source{}, ErrSourceNotFound
	}
	return src, nil
}

func (s *MemoryStore) ListSources(_ context.Context) ([]Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) QuerySources(_ context.Context, q string, limit int) ([]Source, error) {
	needle := strings.ToLower(q)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Source
	for _, src := range s.sources {
		if strings.Contains(strings.ToLower(src.Name), needle) ||
			strings.Contains(strings.ToLower(src.Description), needle) {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreatePage(_ context.Context, page Page) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[page.SourceID]; !ok {
		return Page{}, ErrSourceNotFound
	}
	if page.ID == uuid.Nil {
		page.ID = uuid.New()
	}
	if page.ExtractedText == "" {
		page.ExtractedText = PlaceholderText
	}
	now := time.Now().UTC()
	page.CreatedAt = now
	page.UpdatedAt = now
	s.pages[page.ID] = page
	return page, nil
}

func (s *MemoryStore) GetPage(_ context.Context, sourceID, pageID uuid.UUID) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[pageID]
	if !ok || page.SourceID != sourceID {
		return Page{}, ErrPageNotFound
	}
	return page, nil
}

func (s *MemoryStore) ListPages(_ context.Context, sourceID uuid.UUID) ([]Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Page
	for _, page := range s.pages {
		if page.SourceID == sourceID {
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeletePage(_ context.Context, sourceID, pageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok || page.SourceID != sourceID {
		return ErrPageNotFound
	}
	delete(s.pages, pageID)
	return nil
}

func (s *MemoryStore) UpdatePageContent(_ context.Context, sourceID, pageID uuid.UUID, text string, vec embeddings.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok || page.SourceID != sourceID {
		return ErrPageNotFound
	}
	page.ExtractedText = text
	page.Embedding = vec
	page.UpdatedAt = time.Now().UTC()
	s.pages[pageID] = page
	return nil
}

func (s *MemoryStore) UpdatePageMeta(_ context.Context, sourceID, pageID uuid.UUID, title, date, notes string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok || page.SourceID != sourceID {
		return Page{}, ErrPageNotFound
	}
	page.Title = title
	page.Date = date
	page.Notes = notes
	page.UpdatedAt = time.Now().UTC()
	s.pages[pageID] = page
	return page, nil
}

func (s *MemoryStore) QueryPages(_ context.Context, q string, sourceIDs []uuid.UUID, limit int) ([]Page, error) {
	needle := strings.ToLower(q)
	scope := idSet(sourceIDs)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Page
	for _, page := range s.pages {
		if scope != nil && !scope[page.SourceID] {
			continue
		}
		if strings.Contains(strings.ToLower(page.ExtractedText), needle) ||
			strings.Contains(strings.ToLower(page.Title), needle) ||
			strings.Contains(strings.ToLower(page.Notes), needle) {
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) NearestPages(_ context.Context, vec embeddings.Vector, sourceIDs []uuid.UUID, limit int) ([]PageHit, error) {
	scope := idSet(sourceIDs)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []PageHit
	for _, page := range s.pages {
		if len(page.Embedding) == 0 {
			continue
		}
		if scope != nil && !scope[page.SourceID] {
			continue
		}
		d, ok := cosineDistance(vec, page.Embedding)
		if !ok {
			continue
		}
		hits = append(hits, PageHit{Page: page, Distance: d})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].CreatedAt.Before(hits[j].CreatedAt)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// cosineDistance returns 1 - cos(a, b) in [0, 2]. ok is false when the
// vectors cannot be compared (dimension mismatch or a zero-norm operand).
func cosineDistance(a, b embeddings.Vector) (float32, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return float32(1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))), true
}
