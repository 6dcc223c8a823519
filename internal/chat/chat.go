package chat

import (
	"github.com/google/uuid"

	"memoir/internal/llm"
)

// Citation attributes a retrieved snippet to its source and page. Similarity
// is the raw cosine distance from the retrieval query; Relevance is the
// bounded percentage carried unchanged from the retrieval step.
type Citation struct {
	SourceID    uuid.UUID `json:"source_id"`
	SourceName  string    `json:"source_name"`
	PageID      uuid.UUID `json:"page_id"`
	PageTitle   string    `json:"page_title,omitempty"`
	TextSnippet string    `json:"text_snippet"`
	Similarity  float32   `json:"similarity"`
	Relevance   int       `json:"relevance"`
}

// Exchange is one chat turn.
type Exchange struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	Usage     *llm.Usage `json:"usage,omitempty"`
	Cached    bool       `json:"cached,omitempty"`
}

const RoleAssistant = "assistant"
