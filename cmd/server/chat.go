package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"memoir/internal/chat"
	"memoir/internal/httputil"
)

type chatRequest struct {
	Message      string   `json:"message" validate:"required,min=1,max=4000"`
	SourcesLimit int      `json:"sources_limit" validate:"omitempty,min=1,max=20"`
	SourceIDs    []string `json:"source_ids" validate:"omitempty,dive,uuid"`
}

func chatHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(s.deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(s.deps.Log, w, err)
			return
		}

		sourceIDs := make([]uuid.UUID, len(req.SourceIDs))
		for i, raw := range req.SourceIDs {
			sourceIDs[i] = uuid.MustParse(raw)
		}
		sourcesLimit := req.SourcesLimit
		if sourcesLimit == 0 {
			sourcesLimit = s.deps.Config.ChatSourcesLimit
		}

		exchange, err := s.chat.Respond(r.Context(), req.Message, sourcesLimit, sourceIDs)
		if errors.Is(err, chat.ErrEmptyMessage) {
			httputil.Fail(s.deps.Log, w, "message must not be empty", err, http.StatusBadRequest)
			return
		}
		if err != nil {
			httputil.Fail(s.deps.Log, w, "chat failed", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": exchange})
	}
}
