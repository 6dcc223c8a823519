package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Cache stores chat answers so repeated questions over an unchanged archive
// skip retrieval and generation.
type Cache interface {
	// GetChat retrieves a cached chat result by key. Returns nil on miss.
	GetChat(ctx context.Context, key string) (*ChatResult, error)

	// SetChat stores a chat result with TTL.
	SetChat(ctx context.Context, key string, result *ChatResult, ttl time.Duration) error

	// Flush drops every cached chat result. Called when archive content
	// changes, since any cached answer may now be stale.
	Flush(ctx context.Context) error

	// Close closes the cache connection.
	Close() error
}

// ChatResult is the cached portion of a chat exchange.
type ChatResult struct {
	Content   string `json:"content"`
	Citations []byte `json:"citations"` // JSON-encoded citation list
}

// Key derives a stable cache key from the chat inputs. Source ids are sorted
// so scope order doesn't fragment the cache.
func Key(message string, sourceIDs []string, limit int) string {
	ids := append([]string(nil), sourceIDs...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", message, strings.Join(ids, ","), limit)))
	return hex.EncodeToString(sum[:])
}
