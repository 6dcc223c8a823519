package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"memoir/internal/embeddings"
)

type PostgresStore struct {
	db   *sql.DB
	dims int
}

// NewPostgres opens a connection and runs migrations. dims is the embedding
// dimensionality fixed by the embedding service; the vector column is sized
// to it.
func NewPostgres(dsn string, dims int) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db, dims: dims}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Advisory lock so concurrent replicas don't race on migrations.
	const lockID = 427831164

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		// Another replica is migrating; wait briefly and skip.
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT DEFAULT '',
			start_date TEXT DEFAULT '',
			end_date TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT now(),
			updated_at TIMESTAMPTZ DEFAULT now()
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pages (
			id UUID PRIMARY KEY,
			source_id UUID REFERENCES sources(id) ON DELETE CASCADE,
			image_ref TEXT NOT NULL,
			extracted_text TEXT DEFAULT '',
			embedding vector(%d),
			title TEXT DEFAULT '',
			page_date TEXT DEFAULT '',
			notes TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT now(),
			updated_at TIMESTAMPTZ DEFAULT now()
		);`, s.dims),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS pages_embedding_idx
		ON pages USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSource(ctx context.Context, src Source) (Source, error) {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources(id, name, description, start_date, end_date, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$6)`,
		src.ID, src.Name, src.Description, src.StartDate, src.EndDate, now)
	if err != nil {
		return Source{}, err
	}
	src.CreatedAt = now
	src.UpdatedAt = now
	return src, nil
}

func (s *PostgresStore) GetSource(ctx context.Context, id uuid.UUID) (Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, start_date, end_date, created_at, updated_at
		FROM sources WHERE id=$1`, id)
	return scanSource(row)
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, start_date, end_date, created_at, updated_at
		FROM sources ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

func (s *PostgresStore) QuerySources(ctx context.Context, q string, limit int) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, start_date, end_date, created_at, updated_at
		FROM sources
		WHERE name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
		ORDER BY created_at
		LIMIT $2`, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

func (s *PostgresStore) CreatePage(ctx context.Context, page Page) (Page, error) {
	if page.ID == uuid.Nil {
		page.ID = uuid.New()
	}
	if page.ExtractedText == "" {
		page.ExtractedText = PlaceholderText
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages(id, source_id, image_ref, extracted_text, title, page_date, notes, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		page.ID, page.SourceID, page.ImageRef, page.ExtractedText, page.Title, page.Date, page.Notes, now)
	if err != nil {
		return Page{}, err
	}
	page.CreatedAt = now
	page.UpdatedAt = now
	return page, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, sourceID, pageID uuid.UUID) (Page, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, image_ref, extracted_text, title, page_date, notes, created_at, updated_at
		FROM pages WHERE id=$1 AND source_id=$2`, pageID, sourceID)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, ErrPageNotFound
	}
	return page, err
}

func (s *PostgresStore) ListPages(ctx context.Context, sourceID uuid.UUID) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, image_ref, extracted_text, title, page_date, notes, created_at, updated_at
		FROM pages WHERE source_id=$1 ORDER BY created_at`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPages(rows)
}

func (s *PostgresStore) DeletePage(ctx context.Context, sourceID, pageID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id=$1 AND source_id=$2`, pageID, sourceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPageNotFound
	}
	return nil
}

func (s *PostgresStore) UpdatePageContent(ctx context.Context, sourceID, pageID uuid.UUID, text string, vec embeddings.Vector) error {
	var embedding any
	if len(vec) > 0 {
		embedding = pgvector.NewVector(vec)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages SET extracted_text=$1, embedding=$2, updated_at=now()
		WHERE id=$3 AND source_id=$4`,
		text, embedding, pageID, sourceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPageNotFound
	}
	return nil
}

func (s *PostgresStore) UpdatePageMeta(ctx context.Context, sourceID, pageID uuid.UUID, title, date, notes string) (Page, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE pages SET title=$1, page_date=$2, notes=$3, updated_at=now()
		WHERE id=$4 AND source_id=$5
		RETURNING id, source_id, image_ref, extracted_text, title, page_date, notes, created_at, updated_at`,
		title, date, notes, pageID, sourceID)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, ErrPageNotFound
	}
	return page, err
}

func (s *PostgresStore) QueryPages(ctx context.Context, q string, sourceIDs []uuid.UUID, limit int) ([]Page, error) {
	query := `
		SELECT id, source_id, image_ref, extracted_text, title, page_date, notes, created_at, updated_at
		FROM pages
		WHERE (extracted_text ILIKE '%' || $1 || '%'
			OR title ILIKE '%' || $1 || '%'
			OR notes ILIKE '%' || $1 || '%')`
	args := []any{q}
	if len(sourceIDs) > 0 {
		query += ` AND source_id = ANY($2)`
		args = append(args, pq.Array(sourceIDs))
	}
	query += fmt.Sprintf(` ORDER BY created_at LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPages(rows)
}

func (s *PostgresStore) NearestPages(ctx context.Context, vec embeddings.Vector, sourceIDs []uuid.UUID, limit int) ([]PageHit, error) {
	query := `
		SELECT id, source_id, image_ref, extracted_text, title, page_date, notes, created_at, updated_at,
			embedding <=> $1 AS distance
		FROM pages
		WHERE embedding IS NOT NULL`
	args := []any{pgvector.NewVector(vec)}
	if len(sourceIDs) > 0 {
		query += ` AND source_id = ANY($2)`
		args = append(args, pq.Array(sourceIDs))
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1, created_at LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []PageHit
	for rows.Next() {
		var hit PageHit
		if err := rows.Scan(
			&hit.ID, &hit.SourceID, &hit.ImageRef, &hit.ExtractedText,
			&hit.Title, &hit.Date, &hit.Notes, &hit.CreatedAt, &hit.UpdatedAt,
			&hit.Distance,
		); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (Source, error) {
	var src Source
	err := row.Scan(&src.ID, &src.Name, &src.Description, &src.StartDate, &src.EndDate, &src.CreatedAt, &src.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, ErrSourceNotFound
	}
	return src, err
}

func scanPage(row rowScanner) (Page, error) {
	var page Page
	err := row.Scan(&page.ID, &page.SourceID, &page.ImageRef, &page.ExtractedText,
		&page.Title, &page.Date, &page.Notes, &page.CreatedAt, &page.UpdatedAt)
	return page, err
}

func collectSources(rows *sql.Rows) ([]Source, error) {
	var out []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func collectPages(rows *sql.Rows) ([]Page, error) {
	var out []Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, page)
	}
	return out, rows.Err()
}
