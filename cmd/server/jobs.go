package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"memoir/internal/httputil"
	"memoir/internal/jobs"
)

func listJobsHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := jobs.Filter{
			Kind:   jobs.Kind(q.Get("kind")),
			Status: jobs.Status(q.Get("status")),
		}
		if raw := q.Get("source_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				httputil.Fail(s.deps.Log, w, "invalid source_id", err, http.StatusBadRequest)
				return
			}
			filter.SourceID = id
		}

		list := s.jobs.List(filter)
		sort.Slice(list, func(i, j int) bool {
			return list[i].ScheduledAt.Before(list[j].ScheduledAt)
		})
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": list})
	}
}

func getJobHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			httputil.Fail(s.deps.Log, w, "invalid job id", err, http.StatusBadRequest)
			return
		}
		job, ok := s.jobs.Get(jobID)
		if !ok {
			httputil.Fail(s.deps.Log, w, "job not found", nil, http.StatusNotFound)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": job})
	}
}

func cancelJobHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			httputil.Fail(s.deps.Log, w, "invalid job id", err, http.StatusBadRequest)
			return
		}
		job, ok := s.jobs.Get(jobID)
		if !ok {
			httputil.Fail(s.deps.Log, w, "job not found", nil, http.StatusNotFound)
			return
		}
		if !s.jobs.Cancel(jobID) {
			httputil.Fail(s.deps.Log, w, "job is no longer cancellable", nil, http.StatusConflict)
			return
		}
		job, _ = s.jobs.Get(jobID)
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": job})
	}
}

type cancelJobsRequest struct {
	JobIDs []string `json:"job_ids" validate:"omitempty,dive,uuid"`
}

// cancelJobsHandler cancels the listed jobs, or every cancellable job when
// the body is empty.
func cancelJobsHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelJobsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httputil.Fail(s.deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(s.deps.Log, w, err)
			return
		}
		ids := make([]uuid.UUID, len(req.JobIDs))
		for i, raw := range req.JobIDs {
			ids[i] = uuid.MustParse(raw)
		}
		cancelled := s.jobs.CancelAll(ids...)
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
	}
}
