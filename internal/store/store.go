package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"memoir/internal/embeddings"
)

// PlaceholderText is the extracted-text sentinel a page carries from upload
// until its ingestion run completes. Failed runs leave it intact so the UI can
// tell "processing", "failed" and "done" apart.
const PlaceholderText = "Text extraction in progress..."

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrPageNotFound   = errors.New("page not found")
)

// Source groups pages; retrieval uses it purely as a filter scope.
type Source struct {
	ID          uuid.UUID
	Name        string
	Description string
	StartDate   string
	EndDate     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Page is one scanned page belonging to a source. Embedding is empty until a
// successful ingestion run; such pages never participate in vector queries.
type Page struct {
	ID            uuid.UUID
	SourceID      uuid.UUID
	ImageRef      string
	ExtractedText string
	Embedding     embeddings.Vector
	Title         string
	Date          string
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PageHit is a page with its raw cosine distance to a query vector.
type PageHit struct {
	Page
	Distance float32
}

// Store defines the document-store contract consumed by the pipeline,
// retrieval engine and HTTP layer.
type Store interface {
	CreateSource(ctx context.Context, src Source) (Source, error)
	GetSource(ctx context.Context, id uuid.UUID) (Source, error)
	ListSources(ctx context.Context) ([]Source, error)
	// QuerySources matches q case-insensitively against name and description.
	QuerySources(ctx context.Context, q string, limit int) ([]Source, error)

	CreatePage(ctx context.Context, page Page) (Page, error)
	GetPage(ctx context.Context, sourceID, pageID uuid.UUID) (Page, error)
	ListPages(ctx context.Context, sourceID uuid.UUID) ([]Page, error)
	DeletePage(ctx context.Context, sourceID, pageID uuid.UUID) error
	// UpdatePageContent persists extracted text and embedding in a single
	// write. Returns ErrPageNotFound if the page vanished in the meantime.
	UpdatePageContent(ctx context.Context, sourceID, pageID uuid.UUID, text string, vec embeddings.Vector) error
	// UpdatePageMeta replaces a page's title, date and notes.
	UpdatePageMeta(ctx context.Context, sourceID, pageID uuid.UUID, title, date, notes string) (Page, error)

	// QueryPages matches q case-insensitively against extracted text, title
	// and notes, optionally scoped to sourceIDs. Result order is store-defined.
	QueryPages(ctx context.Context, q string, sourceIDs []uuid.UUID, limit int) ([]Page, error)
	// NearestPages returns up to limit pages ordered by ascending cosine
	// distance to vec, ties broken by creation time. Pages without an
	// embedding are excluded, never scored.
	NearestPages(ctx context.Context, vec embeddings.Vector, sourceIDs []uuid.UUID, limit int) ([]PageHit, error)
}
