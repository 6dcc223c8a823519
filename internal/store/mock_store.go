package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"memoir/internal/embeddings"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSource(ctx context.Context, src Source) (Source, error) {
	args := m.Called(ctx, src)
	return args.Get(0).(Source), args.Error(1)
}

func (m *MockStore) GetSource(ctx context.Context, id uuid.UUID) (Source, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Source), args.Error(1)
}

func (m *MockStore) ListSources(ctx context.Context) ([]Source, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Source), args.Error(1)
}

func (m *MockStore) QuerySources(ctx context.Context, q string, limit int) ([]Source, error) {
	args := m.Called(ctx, q, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Source), args.Error(1)
}

func (m *MockStore) CreatePage(ctx context.Context, page Page) (Page, error) {
	args := m.Called(ctx, page)
	return args.Get(0).(Page), args.Error(1)
}

func (m *MockStore) GetPage(ctx context.Context, sourceID, pageID uuid.UUID) (Page, error) {
	args := m.Called(ctx, sourceID, pageID)
	return args.Get(0).(Page), args.Error(1)
}

func (m *MockStore) ListPages(ctx context.Context, sourceID uuid.UUID) ([]Page, error) {
	args := m.Called(ctx, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Page), args.Error(1)
}

func (m *MockStore) DeletePage(ctx context.Context, sourceID, pageID uuid.UUID) error {
	args := m.Called(ctx, sourceID, pageID)
	return args.Error(0)
}

func (m *MockStore) UpdatePageContent(ctx context.Context, sourceID, pageID uuid.UUID, text string, vec embeddings.Vector) error {
	args := m.Called(ctx, sourceID, pageID, text, vec)
	return args.Error(0)
}

func (m *MockStore) UpdatePageMeta(ctx context.Context, sourceID, pageID uuid.UUID, title, date, notes string) (Page, error) {
	args := m.Called(ctx, sourceID, pageID, title, date, notes)
	return args.Get(0).(Page), args.Error(1)
}

func (m *MockStore) QueryPages(ctx context.Context, q string, sourceIDs []uuid.UUID, limit int) ([]Page, error) {
	args := m.Called(ctx, q, sourceIDs, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Page), args.Error(1)
}

func (m *MockStore) NearestPages(ctx context.Context, vec embeddings.Vector, sourceIDs []uuid.UUID, limit int) ([]PageHit, error) {
	args := m.Called(ctx, vec, sourceIDs, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]PageHit), args.Error(1)
}
