package embeddings

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

// OpenAIEmbedder calls OpenAI's embeddings API.
type OpenAIEmbedder struct {
	model   openai.EmbeddingModel
	client  *openai.Client
	dims    int
	limiter *rate.Limiter
}

// Requests per second against the embeddings endpoint. Conservative; the
// pipeline issues one call per page so bursts stay small.
const embedRequestsPerSecond = 10

// NewOpenAIEmbedder creates a new OpenAI embedder. dims must match the
// dimensionality the model produces; the store's vector column depends on it.
func NewOpenAIEmbedder(apiKey string, model openai.EmbeddingModel, dims int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	if dims <= 0 {
		dims = 1536
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIEmbedder{
		model:   model,
		client:  &cli,
		dims:    dims,
		limiter: rate.NewLimiter(embedRequestsPerSecond, embedRequestsPerSecond),
	}, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if e == nil || e.client == nil {
		return nil, fmt.Errorf("nil openai embedder")
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: e.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	raw := resp.Data[0].Embedding
	vec := make(Vector, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	if len(vec) != e.dims {
		return nil, fmt.Errorf("openai: embedding has %d dimensions, expected %d", len(vec), e.dims)
	}
	return vec, nil
}
