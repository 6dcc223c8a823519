package ocr

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockService is a mock implementation of Service using testify/mock.
type MockService struct {
	mock.Mock
}

func (m *MockService) ExtractText(ctx context.Context, docURL string) (string, error) {
	args := m.Called(ctx, docURL)
	return args.String(0), args.Error(1)
}
