package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStable(t *testing.T) {
	a := Key("what happened in 1987?", []string{"id-a", "id-b"}, 5)
	b := Key("what happened in 1987?", []string{"id-b", "id-a"}, 5)
	assert.Equal(t, a, b, "source id order must not fragment the cache")
}

func TestKeyDiscriminates(t *testing.T) {
	base := Key("question", []string{"id-a"}, 5)
	assert.NotEqual(t, base, Key("other question", []string{"id-a"}, 5))
	assert.NotEqual(t, base, Key("question", []string{"id-b"}, 5))
	assert.NotEqual(t, base, Key("question", []string{"id-a"}, 10))
	assert.NotEqual(t, base, Key("question", nil, 5))
}

func TestKeyDoesNotMutateInput(t *testing.T) {
	ids := []string{"z", "a"}
	Key("q", ids, 1)
	assert.Equal(t, []string{"z", "a"}, ids)
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()

	require.NoError(t, c.SetChat(ctx, "k", &ChatResult{Content: "x"}, time.Minute))
	got, err := c.GetChat(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got, "noop cache never hits")
	assert.NoError(t, c.Flush(ctx))
	assert.NoError(t, c.Close())
}
