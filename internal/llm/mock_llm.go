package llm

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of Client using testify/mock.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Generate(ctx context.Context, system, user string) (string, Usage, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Get(1).(Usage), args.Error(2)
}
