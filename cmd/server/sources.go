package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"memoir/internal/httputil"
	"memoir/internal/store"
)

type createSourceRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Description string `json:"description" validate:"max=2000"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

type sourceView struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewSource(src store.Source) sourceView {
	return sourceView{
		ID:          src.ID,
		Name:        src.Name,
		Description: src.Description,
		StartDate:   src.StartDate,
		EndDate:     src.EndDate,
		CreatedAt:   src.CreatedAt,
		UpdatedAt:   src.UpdatedAt,
	}
}

func viewSources(sources []store.Source) []sourceView {
	out := make([]sourceView, len(sources))
	for i, src := range sources {
		out[i] = viewSource(src)
	}
	return out
}

func createSourceHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(s.deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(s.deps.Log, w, err)
			return
		}
		src, err := s.deps.Store.CreateSource(r.Context(), store.Source{
			Name:        req.Name,
			Description: req.Description,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
		})
		if err != nil {
			httputil.Fail(s.deps.Log, w, "failed to create source", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]any{"data": viewSource(src)})
	}
}

func listSourcesHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.deps.Store.ListSources(r.Context())
		if err != nil {
			httputil.Fail(s.deps.Log, w, "failed to list sources", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": viewSources(sources)})
	}
}

func getSourceHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
		if err != nil {
			httputil.Fail(s.deps.Log, w, "invalid source id", err, http.StatusBadRequest)
			return
		}
		src, err := s.deps.Store.GetSource(r.Context(), sourceID)
		if errors.Is(err, store.ErrSourceNotFound) {
			httputil.Fail(s.deps.Log, w, "source not found", err, http.StatusNotFound)
			return
		}
		if err != nil {
			httputil.Fail(s.deps.Log, w, "failed to get source", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": viewSource(src)})
	}
}
