package blob

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *FSStore {
	t.Helper()
	fs, err := NewFS(t.TempDir(), "http://localhost:8080", "test-secret")
	require.NoError(t, err)
	return fs
}

func TestNewFSRequiresSecret(t *testing.T) {
	_, err := NewFS(t.TempDir(), "http://localhost:8080", "")
	assert.Error(t, err)
}

func TestPutOpenDelete(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "src/page.jpg", strings.NewReader("image bytes"), "image/jpeg"))

	f, err := fs.Open("src/page.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "image bytes", string(data))

	require.NoError(t, fs.Delete(ctx, "src/page.jpg"))
	_, err = fs.Open("src/page.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, fs.Delete(ctx, "src/page.jpg"), ErrNotFound)
}

func TestSignedURLVerify(t *testing.T) {
	fs := newTestFS(t)

	signed, err := fs.SignedURL(context.Background(), "src/page.jpg", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "http://localhost:8080/blobs/src/page.jpg?"))

	u, err := url.Parse(signed)
	require.NoError(t, err)
	exp := u.Query().Get("exp")
	sig := u.Query().Get("sig")

	assert.True(t, fs.Verify("src/page.jpg", exp, sig))
	assert.False(t, fs.Verify("src/other.jpg", exp, sig), "signature bound to ref")
	assert.False(t, fs.Verify("src/page.jpg", exp, "deadbeef"))
	assert.False(t, fs.Verify("src/page.jpg", "not-a-number", sig))
}

func TestSignedURLExpiry(t *testing.T) {
	fs := newTestFS(t)

	signed, err := fs.SignedURL(context.Background(), "src/page.jpg", -time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.False(t, fs.Verify("src/page.jpg", u.Query().Get("exp"), u.Query().Get("sig")), "expired URL must fail")
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a := newTestFS(t)
	b, err := NewFS(t.TempDir(), "http://localhost:8080", "other-secret")
	require.NoError(t, err)

	signed, err := a.SignedURL(context.Background(), "ref.jpg", time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)

	assert.False(t, b.Verify("ref.jpg", u.Query().Get("exp"), u.Query().Get("sig")))
}

func TestPathTraversalContained(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	// Traversal refs resolve inside the root instead of escaping it.
	require.NoError(t, fs.Put(ctx, "../escape.txt", strings.NewReader("x"), ""))
	f, err := fs.Open("escape.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = fs.Open("")
	assert.Error(t, err)
}
