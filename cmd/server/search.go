package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"memoir/internal/httputil"
	"memoir/internal/search"
)

// searchPageView always carries distance and relevance so an exact vector
// match (distance 0) is distinguishable from a keyword hit.
type searchPageView struct {
	pageView
	Distance  float32 `json:"distance"`
	Relevance int     `json:"relevance"`
}

func searchHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		mode := search.ModeKeyword
		if q.Get("vector") == "true" {
			mode = search.ModeVector
		}
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 100 {
				httputil.Fail(s.deps.Log, w, "limit must be an integer between 1 and 100", err, http.StatusBadRequest)
				return
			}
			limit = n
		}
		sourceIDs, err := parseSourceIDs(q["source_ids"])
		if err != nil {
			httputil.Fail(s.deps.Log, w, "invalid source_ids", err, http.StatusBadRequest)
			return
		}

		results, err := s.engine.Search(r.Context(), q.Get("q"), limit, mode, sourceIDs)
		if errors.Is(err, search.ErrEmptyQuery) {
			httputil.Fail(s.deps.Log, w, "query must not be empty", err, http.StatusBadRequest)
			return
		}
		if err != nil {
			httputil.Fail(s.deps.Log, w, "search failed", err, http.StatusInternalServerError)
			return
		}

		pages := make([]searchPageView, len(results.Pages))
		for i, p := range results.Pages {
			pages[i] = searchPageView{
				pageView:  viewPage(p.Page, ""),
				Distance:  p.Distance,
				Relevance: p.Relevance,
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"sources": viewSources(results.Sources),
			"pages":   pages,
		})
	}
}

func parseSourceIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
