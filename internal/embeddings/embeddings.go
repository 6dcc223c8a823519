package embeddings

import "context"

// Vector is a fixed-length embedding vector.
type Vector []float32

// Embedder maps text to a fixed-length numeric vector. Dimensions reports the
// output dimensionality fixed by the provider at deploy time.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dimensions() int
}

// Truncate bounds text to the provider's published maximum input length.
// Cuts on a rune boundary so truncation never produces invalid UTF-8.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
