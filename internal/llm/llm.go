package llm

import "context"

// Usage carries token counters reported by the provider, passed through
// verbatim to callers.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Client is a minimal LLM interface to allow pluggable providers.
type Client interface {
	Generate(ctx context.Context, system, user string) (string, Usage, error)
}
