package cache

import (
	"context"
	"time"
)

// NoOpCache is a cache implementation that does nothing. Used when Redis is
// not configured; every lookup is a miss and every write succeeds.
type NoOpCache struct{}

func NewNoOpCache() *NoOpCache { return &NoOpCache{} }

func (c *NoOpCache) GetChat(ctx context.Context, key string) (*ChatResult, error) {
	return nil, nil
}

func (c *NoOpCache) SetChat(ctx context.Context, key string, result *ChatResult, ttl time.Duration) error {
	return nil
}

func (c *NoOpCache) Flush(ctx context.Context) error { return nil }

func (c *NoOpCache) Close() error { return nil }
