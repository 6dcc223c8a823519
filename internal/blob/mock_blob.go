package blob

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Put(ctx context.Context, ref string, r io.Reader, contentType string) error {
	args := m.Called(ctx, ref, r, contentType)
	return args.Error(0)
}

func (m *MockStore) SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, ref, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}
