package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"memoir/internal/blob"
	"memoir/internal/httputil"
	"memoir/internal/jobs"
	"memoir/internal/store"
)

type pageView struct {
	ID            uuid.UUID `json:"id"`
	SourceID      uuid.UUID `json:"source_id"`
	ImageURL      string    `json:"image_url,omitempty"`
	ExtractedText string    `json:"extracted_text"`
	Title         string    `json:"title,omitempty"`
	Date          string    `json:"date,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func viewPage(page store.Page, imageURL string) pageView {
	return pageView{
		ID:            page.ID,
		SourceID:      page.SourceID,
		ImageURL:      imageURL,
		ExtractedText: page.ExtractedText,
		Title:         page.Title,
		Date:          page.Date,
		Notes:         page.Notes,
		CreatedAt:     page.CreatedAt,
		UpdatedAt:     page.UpdatedAt,
	}
}

var allowedUploadExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".pdf":  true,
}

var (
	errFileTooLarge    = errors.New("file too large")
	errUnsupportedType = errors.New("unsupported file type (images and PDF only)")
)

type acceptedPage struct {
	Page   pageView    `json:"data"`
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

// acceptUpload stores the image, creates the page and detaches an ingestion
// run. The caller does not await completion.
func (s *server) acceptUpload(ctx context.Context, sourceID uuid.UUID, header *multipart.FileHeader, title, date, notes string) (acceptedPage, error) {
	if header.Size > s.deps.Config.MaxUploadSize {
		return acceptedPage{}, fmt.Errorf("%w (max %d bytes)", errFileTooLarge, s.deps.Config.MaxUploadSize)
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		return acceptedPage{}, errUnsupportedType
	}
	file, err := header.Open()
	if err != nil {
		return acceptedPage{}, fmt.Errorf("failed to read upload: %w", err)
	}
	defer file.Close()

	ref := fmt.Sprintf("%s/%s%s", sourceID, uuid.New(), ext)
	if err := s.deps.Blobs.Put(ctx, ref, file, header.Header.Get("Content-Type")); err != nil {
		return acceptedPage{}, fmt.Errorf("failed to store image: %w", err)
	}

	page, err := s.deps.Store.CreatePage(ctx, store.Page{
		SourceID: sourceID,
		ImageRef: ref,
		Title:    title,
		Date:     date,
		Notes:    notes,
	})
	if err != nil {
		return acceptedPage{}, fmt.Errorf("failed to persist page: %w", err)
	}

	job, err := s.jobs.Register(jobs.KindTextExtraction, sourceID, page.ID)
	if err != nil {
		return acceptedPage{}, fmt.Errorf("failed to register extraction job: %w", err)
	}

	go s.pipeline.Run(context.Background(), job.ID, sourceID, page.ID, ref)

	return acceptedPage{Page: viewPage(page, ""), JobID: job.ID.String(), Status: job.Status}, nil
}

func uploadStatus(err error) int {
	if errors.Is(err, errFileTooLarge) || errors.Is(err, errUnsupportedType) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func uploadPageHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sourceID, ok := requireSource(s, w, r)
		if !ok {
			return
		}
		if r.ContentLength > s.deps.Config.MaxUploadSize {
			httputil.Fail(s.deps.Log, w, "file too large", nil, http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(s.deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		file.Close()

		accepted, err := s.acceptUpload(ctx, sourceID, header, r.FormValue("title"), r.FormValue("date"), r.FormValue("notes"))
		if err != nil {
			httputil.Fail(s.deps.Log, w, err.Error(), err, uploadStatus(err))
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"data":   accepted.Page,
			"job_id": accepted.JobID,
			"status": accepted.Status,
		})
	}
}

// uploadPagesBatchHandler accepts several files under the "files" field and
// starts one ingestion per file.
func uploadPagesBatchHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sourceID, ok := requireSource(s, w, r)
		if !ok {
			return
		}
		if err := r.ParseMultipartForm(s.deps.Config.MaxUploadSize); err != nil {
			httputil.Fail(s.deps.Log, w, "invalid multipart payload", err, http.StatusBadRequest)
			return
		}
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			httputil.Fail(s.deps.Log, w, "at least one file is required", nil, http.StatusBadRequest)
			return
		}

		// Validate everything before accepting anything, so one bad file
		// doesn't leave half a batch ingesting.
		for _, header := range headers {
			if header.Size > s.deps.Config.MaxUploadSize {
				httputil.Fail(s.deps.Log, w, fmt.Sprintf("%s: file too large", header.Filename), nil, http.StatusBadRequest)
				return
			}
			if !allowedUploadExts[strings.ToLower(filepath.Ext(header.Filename))] {
				httputil.Fail(s.deps.Log, w, fmt.Sprintf("%s: unsupported file type", header.Filename), nil, http.StatusBadRequest)
				return
			}
		}

		accepted := make([]acceptedPage, 0, len(headers))
		for _, header := range headers {
			a, err := s.acceptUpload(ctx, sourceID, header, "", "", "")
			if err != nil {
				httputil.Fail(s.deps.Log, w, err.Error(), err, uploadStatus(err))
				return
			}
			accepted = append(accepted, a)
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"data": accepted})
	}
}

type updatePageRequest struct {
	Title string `json:"title" validate:"max=500"`
	Date  string `json:"date" validate:"max=100"`
	Notes string `json:"notes" validate:"max=5000"`
}

func updatePageHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID, pageID, ok := pageParams(s, w, r)
		if !ok {
			return
		}
		var req updatePageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(s.deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(s.deps.Log, w, err)
			return
		}
		page, err := s.deps.Store.UpdatePageMeta(r.Context(), sourceID, pageID, req.Title, req.Date, req.Notes)
		if errors.Is(err, store.ErrPageNotFound) {
			httputil.Fail(s.deps.Log, w, "page not found", err, http.StatusNotFound)
			return
		}
		if err != nil {
			httputil.Fail(s.deps.Log, w, "failed to update page", err, http.StatusInternalServerError)
			return
		}
		// Cached chat answers may cite the old title.
		s.chat.InvalidateCache(r.Context())

		httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": viewPage(page, "")})
	}
}

func requireSource(s *server, w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		httputil.Fail(s.deps.Log, w, "invalid source id", err, http.StatusBadRequest)
		return uuid.Nil, false
	}
	if _, err := s.deps.Store.GetSource(r.Context(), sourceID); err != nil {
		if errors.Is(err, store.ErrSourceNotFound) {
			httputil.Fail(s.deps.Log, w, "source not found", err, http.StatusNotFound)
			return uuid.Nil, false
		}
		httputil.Fail(s.deps.Log, w, "failed to get source", err, http.StatusInternalServerError)
		return uuid.Nil, false
	}
	return sourceID, true
}

func listPagesHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
		if err != nil {
			httputil.Fail(s.deps.Log, w, "invalid source id", err, http.StatusBadRequest)
			return
		}
		pages, err := s.deps.Store.ListPages(r.Context(), sourceID)
		if err != nil {
			httputil.Fail(s.deps.Log, w, "failed to list pages", err, http.StatusInternalServerError)
			return
		}
		views := make([]pageView, len(pages))
		for i, page := range pages {
			views[i] = viewPage(page, "")
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": views})
	}
}

func getPageHandler(s *server) http.HandlerFunc {
	urlTTL := time.Duration(s.deps.Config.BlobURLTTLMin) * time.Minute

	return func(w http.ResponseWriter, r *http.Request) {
		sourceID, pageID, ok := pageParams(s, w, r)
		if !ok {
			return
		}
		page, err := s.deps.Store.GetPage(r.Context(), sourceID, pageID)
		if errors.Is(err, store.ErrPageNotFound) {
			httputil.Fail(s.deps.Log, w, "page not found", err, http.StatusNotFound)
			return
		}
		if err != nil {
			httputil.Fail(s.deps.Log, w, "failed to get page", err, http.StatusInternalServerError)
			return
		}
		imageURL, err := s.deps.Blobs.SignedURL(r.Context(), page.ImageRef, urlTTL)
		if err != nil {
			s.deps.Log.Warn("failed to sign image url", "page_id", pageID, "err", err)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": viewPage(page, imageURL)})
	}
}

func deletePageHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID, pageID, ok := pageParams(s, w, r)
		if !ok {
			return
		}
		page, err := s.deps.Store.GetPage(r.Context(), sourceID, pageID)
		if errors.Is(err, store.ErrPageNotFound) {
			httputil.Fail(s.deps.Log, w, "page not found", err, http.StatusNotFound)
			return
		}
		if err != nil {
			httputil.Fail(s.deps.Log, w, "failed to get page", err, http.StatusInternalServerError)
			return
		}
		if err := s.deps.Store.DeletePage(r.Context(), sourceID, pageID); err != nil {
			httputil.Fail(s.deps.Log, w, "failed to delete page", err, http.StatusInternalServerError)
			return
		}
		if err := s.deps.Blobs.Delete(r.Context(), page.ImageRef); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.deps.Log.Warn("failed to delete page image", "ref", page.ImageRef, "err", err)
		}
		// Any cached chat answer may cite the deleted page.
		s.chat.InvalidateCache(r.Context())

		httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func serveBlobHandler(s *server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fs, ok := s.deps.Blobs.(*blob.FSStore)
		if !ok {
			http.NotFound(w, r)
			return
		}
		ref := chi.URLParam(r, "*")
		q := r.URL.Query()
		if !fs.Verify(ref, q.Get("exp"), q.Get("sig")) {
			http.Error(w, "invalid or expired signature", http.StatusForbidden)
			return
		}
		f, err := fs.Open(ref)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		http.ServeContent(w, r, filepath.Base(ref), time.Time{}, f)
	}
}

func pageParams(s *server, w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		httputil.Fail(s.deps.Log, w, "invalid source id", err, http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	pageID, err := uuid.Parse(chi.URLParam(r, "pageID"))
	if err != nil {
		httputil.Fail(s.deps.Log, w, "invalid page id", err, http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return sourceID, pageID, true
}
