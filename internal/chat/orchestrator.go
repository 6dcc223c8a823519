package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"memoir/internal/cache"
	"memoir/internal/llm"
	"memoir/internal/search"
	"memoir/internal/textutil"
)

var ErrEmptyMessage = errors.New("chat message must not be empty")

const (
	defaultSourcesLimit = 5

	// Per-page excerpt bound and total grounding budget, in characters.
	// The budget is conservative for the default chat model's window.
	excerptChars    = 2000
	contextBudget   = 14000
	snippetChars    = 150
	defaultCacheTTL = 5 * time.Minute
)

const systemPrompt = `You are an AI assistant for a personal archive system.
You help users find and understand information from their personal archives, such as journals, notes, and documents.
Respond in a helpful, concise, and accurate manner based on the information in the archive.
If you don't know the answer or can't find relevant information in the archive, be honest about it.`

// Orchestrator answers questions grounded in archive content, with citations
// for the pages whose excerpts were actually shown to the model.
type Orchestrator struct {
	log      *slog.Logger
	engine   *search.Engine
	llm      llm.Client
	cache    cache.Cache
	cacheTTL time.Duration
}

func New(log *slog.Logger, engine *search.Engine, client llm.Client, c cache.Cache, cacheTTL time.Duration) *Orchestrator {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Orchestrator{log: log, engine: engine, llm: client, cache: c, cacheTTL: cacheTTL}
}

// Respond retrieves grounding for message, invokes the language model and
// assembles citations. Retrieval failure aborts before the model is called;
// model failure surfaces with no citations attached.
func (o *Orchestrator) Respond(ctx context.Context, message string, sourcesLimit int, sourceIDs []uuid.UUID) (Exchange, error) {
	if strings.TrimSpace(message) == "" {
		return Exchange{}, ErrEmptyMessage
	}
	if sourcesLimit <= 0 {
		sourcesLimit = defaultSourcesLimit
	}

	key := cache.Key(message, idStrings(sourceIDs), sourcesLimit)
	if cached, err := o.cache.GetChat(ctx, key); err == nil && cached != nil {
		var citations []Citation
		if err := json.Unmarshal(cached.Citations, &citations); err == nil {
			o.log.Info("chat cache hit", "key", key)
			return Exchange{Role: RoleAssistant, Content: cached.Content, Citations: citations, Cached: true}, nil
		}
		o.log.Warn("failed to decode cached citations", "err", err)
	}

	results, err := o.engine.Search(ctx, message, sourcesLimit, search.ModeVector, sourceIDs)
	if err != nil {
		return Exchange{}, fmt.Errorf("retrieval failed: %w", err)
	}

	grounding, citations := buildGrounding(results)
	system := systemPrompt
	if grounding != "" {
		system += "\n\nHere is relevant information from the archive that may help answer the user's question:\n\n" + grounding
	}

	answer, usage, err := o.llm.Generate(ctx, system, message)
	if err != nil {
		return Exchange{}, fmt.Errorf("generation failed: %w", err)
	}

	o.cacheResult(ctx, key, answer, citations)

	return Exchange{
		Role:      RoleAssistant,
		Content:   answer,
		Citations: citations,
		Usage:     &usage,
	}, nil
}

// InvalidateCache drops cached answers; called when archive content changes.
func (o *Orchestrator) InvalidateCache(ctx context.Context) {
	if err := o.cache.Flush(ctx); err != nil {
		o.log.Warn("failed to flush chat cache", "err", err)
	}
}

// buildGrounding concatenates bounded excerpts with citation metadata under a
// total budget. Citations cover exactly the pages whose excerpts were
// included, never pages dropped by the budget.
func buildGrounding(results search.Results) (string, []Citation) {
	names := make(map[uuid.UUID]string, len(results.Sources))
	for _, src := range results.Sources {
		names[src.ID] = src.Name
	}

	var sb strings.Builder
	citations := make([]Citation, 0, len(results.Pages))
	for _, page := range results.Pages {
		text := textutil.Collapse(page.ExtractedText)
		part := fmt.Sprintf("Source: %s\nPage: %s\nContent: %s\n\n",
			names[page.SourceID], page.Title, textutil.Truncate(text, excerptChars))
		if sb.Len()+len(part) > contextBudget {
			break
		}
		sb.WriteString(part)
		citations = append(citations, Citation{
			SourceID:    page.SourceID,
			SourceName:  names[page.SourceID],
			PageID:      page.ID,
			PageTitle:   page.Title,
			TextSnippet: textutil.Truncate(text, snippetChars),
			Similarity:  page.Distance,
			Relevance:   page.Relevance,
		})
	}
	return sb.String(), citations
}

func (o *Orchestrator) cacheResult(ctx context.Context, key, answer string, citations []Citation) {
	encoded, err := json.Marshal(citations)
	if err != nil {
		o.log.Warn("failed to marshal citations, skipping cache", "err", err)
		return
	}
	if err := o.cache.SetChat(ctx, key, &cache.ChatResult{Content: answer, Citations: encoded}, o.cacheTTL); err != nil {
		o.log.Warn("failed to cache chat result", "err", err)
	}
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
