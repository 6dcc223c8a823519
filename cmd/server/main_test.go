package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"memoir/internal/app"
	"memoir/internal/blob"
	"memoir/internal/cache"
	"memoir/internal/config"
	"memoir/internal/embeddings"
	"memoir/internal/events"
	"memoir/internal/jobs"
	"memoir/internal/llm"
	"memoir/internal/ocr"
	"memoir/internal/store"
)

type testEnv struct {
	server   *server
	router   http.Handler
	store    *store.MemoryStore
	ocr      *ocr.MockService
	embedder *embeddings.MockEmbedder
	llm      *llm.MockClient
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithCache(t, cache.NewNoOpCache())
}

func newTestEnvWithCache(t *testing.T, c cache.Cache) *testEnv {
	t.Helper()

	blobs, err := blob.NewFS(t.TempDir(), "http://localhost:8080", "test-secret")
	require.NoError(t, err)

	env := &testEnv{
		store:    store.NewMemory(),
		ocr:      &ocr.MockService{},
		embedder: &embeddings.MockEmbedder{},
		llm:      &llm.MockClient{},
	}
	deps := app.Deps{
		Config: config.Config{
			Port:              8080,
			PublicURL:         "http://localhost:8080",
			MaxUploadSize:     10 << 20,
			BlobURLTTLMin:     30,
			EmbeddingMaxChars: 8192,
			ChatSourcesLimit:  2,
			ServiceTimeout:    5,
			CacheTTL:          60,
		},
		Log:      slog.New(slog.DiscardHandler),
		Store:    env.store,
		Blobs:    blobs,
		OCR:      env.ocr,
		Embedder: env.embedder,
		LLM:      env.llm,
		Cache:    c,
		Events:   events.NewNoOp(),
	}
	env.server = newServer(deps)
	env.router = env.server.routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return e.do(t, method, path, r, "application/json")
}

func (e *testEnv) createSource(t *testing.T, name string) uuid.UUID {
	t.Helper()
	rec := e.doJSON(t, http.MethodPost, "/api/sources", fmt.Sprintf(`{"name":%q}`, name))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return uuid.MustParse(gjson.Get(rec.Body.String(), "data.id").String())
}

func multipartFile(t *testing.T, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateSourceValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/api/sources", `{"description":"no name"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation failed")
	assert.Contains(t, rec.Body.String(), "Name")

	rec = env.doJSON(t, http.MethodPost, "/api/sources", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSourceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSource(t, "Grandma's letters")

	rec := env.do(t, http.MethodGet, "/api/sources/"+id.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Grandma's letters", gjson.Get(rec.Body.String(), "data.name").String())

	rec = env.do(t, http.MethodGet, "/api/sources", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "data.#").Int())

	rec = env.do(t, http.MethodGet, "/api/sources/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sources/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadPageRunsIngestion(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.createSource(t, "Journal")

	env.ocr.On("ExtractText", mock.Anything, mock.Anything).Return("extracted text", nil)
	env.embedder.On("Embed", mock.Anything, "extracted text").Return(embeddings.Vector{0.1, 0.2}, nil)

	body, contentType := multipartFile(t, "page1.jpg", "jpeg bytes")
	rec := env.do(t, http.MethodPost, "/api/sources/"+sourceID.String()+"/pages", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := rec.Body.String()
	pageID := uuid.MustParse(gjson.Get(resp, "data.id").String())
	jobID := uuid.MustParse(gjson.Get(resp, "job_id").String())
	assert.Equal(t, store.PlaceholderText, gjson.Get(resp, "data.extracted_text").String())
	assert.Equal(t, string(jobs.StatusPending), gjson.Get(resp, "status").String())

	require.Eventually(t, func() bool {
		job, ok := env.server.jobs.Get(jobID)
		return ok && job.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond, "ingestion should complete in the background")

	page, err := env.store.GetPage(context.Background(), sourceID, pageID)
	require.NoError(t, err)
	assert.Equal(t, "extracted text", page.ExtractedText)
	assert.Equal(t, embeddings.Vector{0.1, 0.2}, page.Embedding)
}

func TestUploadPageRejections(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.createSource(t, "Journal")

	t.Run("unknown source", func(t *testing.T) {
		body, contentType := multipartFile(t, "p.jpg", "x")
		rec := env.do(t, http.MethodPost, "/api/sources/"+uuid.NewString()+"/pages", body, contentType)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("unsupported extension", func(t *testing.T) {
		body, contentType := multipartFile(t, "notes.docx", "x")
		rec := env.do(t, http.MethodPost, "/api/sources/"+sourceID.String()+"/pages", body, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.Close())
		rec := env.do(t, http.MethodPost, "/api/sources/"+sourceID.String()+"/pages", &buf, mw.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetPageSignedImageURLServesBlob(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.createSource(t, "Journal")

	env.ocr.On("ExtractText", mock.Anything, mock.Anything).Return("text", nil)
	env.embedder.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{1}, nil)

	body, contentType := multipartFile(t, "page.png", "png bytes")
	rec := env.do(t, http.MethodPost, "/api/sources/"+sourceID.String()+"/pages", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)
	pageID := gjson.Get(rec.Body.String(), "data.id").String()

	rec = env.do(t, http.MethodGet, "/api/sources/"+sourceID.String()+"/pages/"+pageID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	imageURL := gjson.Get(rec.Body.String(), "data.image_url").String()
	require.NotEmpty(t, imageURL)

	// The signed URL must be honored by the blob handler.
	path := strings.TrimPrefix(imageURL, "http://localhost:8080")
	rec = env.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png bytes", rec.Body.String())

	// A tampered signature must not.
	tampered := strings.Replace(path, "sig=", "sig=00", 1)
	rec = env.do(t, http.MethodGet, tampered, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeletePage(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.createSource(t, "Journal")
	page, err := env.store.CreatePage(context.Background(), store.Page{SourceID: sourceID, ImageRef: "missing.jpg"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodDelete, "/api/sources/"+sourceID.String()+"/pages/"+page.ID.String(), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/sources/"+sourceID.String()+"/pages/"+page.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.createSource(t, "Travel Diary")
	_, err := env.store.CreatePage(context.Background(), store.Page{SourceID: sourceID, ExtractedText: "We visited the old lighthouse"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/search?q=lighthouse", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "pages.#").Int())

	rec = env.do(t, http.MethodGet, "/api/search?q=", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/search?q=x&limit=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/search?q=x&source_ids=nope", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEndpointVector(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.createSource(t, "Letters")
	_, err := env.store.CreatePage(context.Background(), store.Page{
		SourceID: sourceID, ExtractedText: "content", Embedding: embeddings.Vector{1, 0},
	})
	require.NoError(t, err)
	env.embedder.On("Embed", mock.Anything, "query").Return(embeddings.Vector{1, 0}, nil)

	rec := env.do(t, http.MethodGet, "/api/search?q=query&vector=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "pages.#").Int())
	assert.Equal(t, int64(100), gjson.Get(body, "pages.0.relevance").Int())

	// Distance stays present even when it is exactly zero.
	dist := gjson.Get(body, "pages.0.distance")
	require.True(t, dist.Exists())
	assert.Equal(t, float64(0), dist.Float())
}

func TestChatEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.On("Embed", mock.Anything, "what happened?").Return(embeddings.Vector{1, 0}, nil)
	env.llm.On("Generate", mock.Anything, mock.Anything, "what happened?").
		Return("Nothing much.", llm.Usage{TotalTokens: 7}, nil)

	rec := env.doJSON(t, http.MethodPost, "/api/chat", `{"message":"what happened?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Equal(t, "assistant", gjson.Get(body, "data.role").String())
	assert.Equal(t, "Nothing much.", gjson.Get(body, "data.content").String())
	assert.Equal(t, int64(7), gjson.Get(body, "data.usage.total_tokens").Int())
}

func TestChatEndpointValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/api/chat", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/api/chat", `{"message":"q","sources_limit":50}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/api/chat", `{"message":"q","source_ids":["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sourceID := uuid.New()
	job, err := env.server.jobs.Register(jobs.KindTextExtraction, sourceID, uuid.New())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/jobs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "data.#").Int())

	rec = env.do(t, http.MethodGet, "/api/jobs?source_id="+sourceID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "data.#").Int())

	rec = env.do(t, http.MethodGet, "/api/jobs?status=completed", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), gjson.Get(rec.Body.String(), "data.#").Int())

	rec = env.do(t, http.MethodGet, "/api/jobs/"+job.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(jobs.StatusPending), gjson.Get(rec.Body.String(), "data.status").String())

	rec = env.do(t, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/jobs/"+job.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(jobs.StatusCancelled), gjson.Get(rec.Body.String(), "data.status").String())

	// Cancelling a terminal job conflicts.
	rec = env.do(t, http.MethodDelete, "/api/jobs/"+job.ID.String(), nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/jobs/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// flushCountingCache counts Flush calls; everything else is a no-op.
type flushCountingCache struct {
	cache.NoOpCache
	mu      sync.Mutex
	flushes int
}

func (c *flushCountingCache) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return nil
}

func (c *flushCountingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

func TestCompletedIngestionFlushesChatCache(t *testing.T) {
	counting := &flushCountingCache{}
	env := newTestEnvWithCache(t, counting)
	sourceID := env.createSource(t, "Journal")

	env.ocr.On("ExtractText", mock.Anything, mock.Anything).Return("text", nil)
	env.embedder.On("Embed", mock.Anything, "text").Return(embeddings.Vector{1}, nil)

	body, contentType := multipartFile(t, "page.jpg", "bytes")
	rec := env.do(t, http.MethodPost, "/api/sources/"+sourceID.String()+"/pages", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := uuid.MustParse(gjson.Get(rec.Body.String(), "job_id").String())

	require.Eventually(t, func() bool {
		job, ok := env.server.jobs.Get(jobID)
		return ok && job.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, counting.count(), 1, "newly searchable content must invalidate cached answers")
}

func TestChatUsesConfiguredSourcesLimit(t *testing.T) {
	env := newTestEnv(t) // ChatSourcesLimit is 2 in the test config
	sourceID := env.createSource(t, "Journal")
	for i := range 3 {
		_, err := env.store.CreatePage(context.Background(), store.Page{
			SourceID:      sourceID,
			Title:         fmt.Sprintf("Page %d", i),
			ExtractedText: "entry text",
			Embedding:     embeddings.Vector{1, float32(i) / 10},
		})
		require.NoError(t, err)
	}
	env.embedder.On("Embed", mock.Anything, "q").Return(embeddings.Vector{1, 0}, nil)
	env.llm.On("Generate", mock.Anything, mock.Anything, "q").Return("answer", llm.Usage{}, nil)

	rec := env.doJSON(t, http.MethodPost, "/api/chat", `{"message":"q"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "data.citations.#").Int())
}

func TestUpdatePageMetadata(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.createSource(t, "Journal")
	page, err := env.store.CreatePage(context.Background(), store.Page{SourceID: sourceID, Title: "old"})
	require.NoError(t, err)

	rec := env.doJSON(t, http.MethodPut, "/api/sources/"+sourceID.String()+"/pages/"+page.ID.String(),
		`{"title":"Day 12","date":"1987-06-01","notes":"rewritten"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Day 12", gjson.Get(rec.Body.String(), "data.title").String())

	got, err := env.store.GetPage(context.Background(), sourceID, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "Day 12", got.Title)
	assert.Equal(t, "1987-06-01", got.Date)
	assert.Equal(t, "rewritten", got.Notes)

	rec = env.doJSON(t, http.MethodPut, "/api/sources/"+sourceID.String()+"/pages/"+uuid.NewString(), `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartFiles(t *testing.T, filenames []string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range filenames {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("content of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadPagesBatch(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.createSource(t, "Journal")

	env.ocr.On("ExtractText", mock.Anything, mock.Anything).Return("text", nil)
	env.embedder.On("Embed", mock.Anything, "text").Return(embeddings.Vector{1}, nil)

	body, contentType := multipartFiles(t, []string{"a.jpg", "b.png"})
	rec := env.do(t, http.MethodPost, "/api/sources/"+sourceID.String()+"/pages/batch", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Equal(t, int64(2), gjson.Get(rec.Body.String(), "data.#").Int())

	for _, raw := range gjson.Get(rec.Body.String(), "data.#.job_id").Array() {
		jobID := uuid.MustParse(raw.String())
		require.Eventually(t, func() bool {
			job, ok := env.server.jobs.Get(jobID)
			return ok && job.Status == jobs.StatusCompleted
		}, 2*time.Second, 10*time.Millisecond)
	}

	pages, err := env.store.ListPages(context.Background(), sourceID)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestUploadPagesBatchRejectsWholeBatch(t *testing.T) {
	env := newTestEnv(t)
	sourceID := env.createSource(t, "Journal")

	// One bad file rejects the batch before any ingestion starts.
	body, contentType := multipartFiles(t, []string{"a.jpg", "evil.exe"})
	rec := env.do(t, http.MethodPost, "/api/sources/"+sourceID.String()+"/pages/batch", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	pages, err := env.store.ListPages(context.Background(), sourceID)
	require.NoError(t, err)
	assert.Empty(t, pages)

	body, contentType = multipartFiles(t, nil)
	rec = env.do(t, http.MethodPost, "/api/sources/"+sourceID.String()+"/pages/batch", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJobsBatch(t *testing.T) {
	env := newTestEnv(t)
	j1, err := env.server.jobs.Register(jobs.KindTextExtraction, uuid.New(), uuid.New())
	require.NoError(t, err)
	j2, err := env.server.jobs.Register(jobs.KindTextExtraction, uuid.New(), uuid.New())
	require.NoError(t, err)

	payload, err := json.Marshal(map[string][]string{"job_ids": {j1.ID.String()}})
	require.NoError(t, err)
	rec := env.doJSON(t, http.MethodDelete, "/api/jobs", string(payload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "cancelled").Int())

	// Empty body cancels everything still cancellable.
	rec = env.doJSON(t, http.MethodDelete, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "cancelled").Int())

	assert.True(t, env.server.jobs.Cancelled(j1.ID))
	assert.True(t, env.server.jobs.Cancelled(j2.ID))
}
