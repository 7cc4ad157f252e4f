package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docrag/internal/answer"
	"github.com/dgallion1/docrag/internal/chunker"
	"github.com/dgallion1/docrag/internal/config"
	"github.com/dgallion1/docrag/internal/pipeline"
	"github.com/dgallion1/docrag/internal/retrieval"
	"github.com/dgallion1/docrag/internal/router"
	"github.com/dgallion1/docrag/internal/tokenizer"
	"github.com/dgallion1/docrag/internal/vectorstore"
)

const testKey = "secret"

type flatEmbedder struct{}

func (flatEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 1}
	}
	return out, nil
}

func (flatEmbedder) Model() string { return "flat" }

// citingLLM cites the first passage id it finds in the prompt.
type citingLLM struct{}

func (citingLLM) Complete(ctx context.Context, system, prompt string) (string, error) {
	for _, line := range strings.Split(prompt, "\n") {
		if id, ok := strings.CutPrefix(line, "Citation: "); ok {
			return "Members vote annually " + id + ".", nil
		}
	}
	return "INSUFFICIENT_EVIDENCE", nil
}

type harness struct {
	srv   *Server
	store *vectorstore.MemoryStore
	stats *answer.LLMStats
}

func newHarness(t *testing.T, withLLM bool) *harness {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	store := vectorstore.NewMemoryStore()

	cfg := config.Config{
		APIKey:         testKey,
		MaxUploadBytes: 1 << 20,
		KCandidates:    20,
		TopPassages:    5,
		UseHybrid:      true,
		UseRerank:      true,
		SearchTimeout:  time.Second,
		RerankTimeout:  time.Second,
		AnthropicModel: "test-model",
	}

	orch := pipeline.NewOrchestrator(pipeline.Config{
		WorkerCount:        1,
		MaxQueueSize:       4,
		JobTTL:             time.Hour,
		Chunk:              chunker.Config{MaxTokens: 100, OverlapTokens: 10},
		EmbedBatchSize:     8,
		MaxConcurrentEmbed: 1,
	}, store, flatEmbedder{}, tokenizer.NewEstimator(), log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	deps := Deps{
		Orchestrator: orch,
		Store:        store,
		Retriever:    retrieval.New(&vectorstore.Searcher{Store: store, Embedder: flatEmbedder{}}, nil, log),
		Router:       router.New(nil, router.DefaultConfig(), log),
	}
	h := &harness{store: store}
	if withLLM {
		h.stats = answer.NewLLMStats(time.Hour)
		deps.Composer = answer.NewComposer(citingLLM{}, h.stats, log)
		deps.Stats = h.stats
	}
	h.srv = NewServer(deps, log, cfg)
	return h
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	err := h.store.Upsert(context.Background(), []vectorstore.Record{
		{
			ChunkID: "c1", DocID: "d1", DocTitle: "Society Bylaws", Folder: router.Bylaws,
			Text: "Article IV. Members vote annually on officers.", PageStart: 3, PageEnd: 3,
			TokenCount: 10, ContentHash: "h1", Embedding: []float32{1, 1},
		},
		{
			ChunkID: "c2", DocID: "d2", DocTitle: "Resolution 12", Folder: router.Resolutions,
			Text: "Resolved that the council adopts the budget.", PageStart: 1, PageEnd: 1,
			TokenCount: 9, ContentHash: "h2", Embedding: []float32{1, 1},
		},
	})
	require.NoError(t, err)
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, path string, fields map[string]string, fileField string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile(fileField, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth_NoAuth(t *testing.T) {
	h := newHarness(t, false)
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestAuth(t *testing.T) {
	h := newHarness(t, false)

	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/categories", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/categories", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = h.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid api key", decode(t, rec)["error"])
}

func TestCategories(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/categories", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	cats := decode(t, rec)["categories"].([]any)
	assert.Len(t, cats, 5)
}

func TestIngest_CompletesAndLists(t *testing.T) {
	h := newHarness(t, false)
	req := multipartRequest(t, "/api/ingest",
		map[string]string{"category": "By-Laws_and_Governance_Policies", "title": "Society Bylaws"},
		"file", map[string]string{"bylaws.txt": "Article I. Name\nThe Example Society."})

	rec := h.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, router.Bylaws, body["category"])
	jobID := body["job_id"].(string)

	require.Eventually(t, func() bool {
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/ingest/"+jobID+"/status", nil))
		return rec.Code == http.StatusOK && decode(t, rec)["status"] == string(pipeline.StatusCompleted)
	}, 5*time.Second, 10*time.Millisecond)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/documents?category=bylaws%20and%20governance%20policies", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode(t, rec)["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "Society Bylaws", docs[0].(map[string]any)["doc_title"])
}

func TestIngest_Validation(t *testing.T) {
	h := newHarness(t, false)
	tests := []struct {
		name   string
		fields map[string]string
		file   string
	}{
		{"missing category", map[string]string{}, "a.txt"},
		{"unknown category", map[string]string{"category": "Recipes"}, "a.txt"},
		{"unsupported type", map[string]string{"category": router.Resolutions}, "a.xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, multipartRequest(t, "/api/ingest", tt.fields, "file", map[string]string{tt.file: "text"}))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestIngest_TooLarge(t *testing.T) {
	h := newHarness(t, false)
	h.srv.cfg.MaxUploadBytes = 8
	rec := h.do(t, multipartRequest(t, "/api/ingest",
		map[string]string{"category": router.Resolutions}, "file", map[string]string{"a.txt": "more than eight bytes"}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestBatchIngest(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, multipartRequest(t, "/api/ingest/batch",
		map[string]string{"category": "resolutions"}, "files",
		map[string]string{"r1.txt": "Resolution No. 1\nAdopted.", "notes.csv": "a,b"}))
	require.Equal(t, http.StatusAccepted, rec.Code)

	jobs := decode(t, rec)["jobs"].([]any)
	require.Len(t, jobs, 2)
	var accepted, rejected int
	for _, j := range jobs {
		if _, ok := j.(map[string]any)["job_id"]; ok {
			accepted++
		} else {
			rejected++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)
}

func TestIngestStatus_NotFound(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/ingest/nope/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetrieve_ExplicitFolders(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t)

	rec := h.do(t, jsonRequest(http.MethodPost, "/api/retrieve", map[string]any{
		"query":   "how do members vote",
		"folders": []string{"By-Laws_and_Governance_Policies"},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Nil(t, body["routing"])
	passages := body["passages"].([]any)
	require.Len(t, passages, 1)
	assert.Equal(t, "c1", passages[0].(map[string]any)["chunk_id"])
}

func TestRetrieve_RoutesWithoutFolders(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t)

	rec := h.do(t, jsonRequest(http.MethodPost, "/api/retrieve", map[string]any{
		"query": "which resolution did the council adopt",
		"top_k": 1,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	routing := body["routing"].(map[string]any)
	assert.Equal(t, router.MethodKeyword, routing["method"])
	assert.Equal(t, []any{router.Resolutions}, body["folders"])
	passages := body["passages"].([]any)
	require.Len(t, passages, 1)
	assert.Equal(t, "c2", passages[0].(map[string]any)["chunk_id"])
}

func TestRetrieve_BadRequests(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, jsonRequest(http.MethodPost, "/api/retrieve", map[string]any{"query": "  "}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, jsonRequest(http.MethodPost, "/api/retrieve", map[string]any{"query": "x", "folders": []string{"Recipes"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader("{"))
	rec = h.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t)

	rec := h.do(t, jsonRequest(http.MethodPost, "/api/ask", map[string]any{
		"question": "how often do members vote on officers under the bylaws",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ans := decode(t, rec)["answer"].(map[string]any)
	assert.Equal(t, true, ans["has_valid_citations"])
	assert.Contains(t, ans["answer"], "Members vote annually")

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "test-model", body["model"])
}

func TestAsk_NoComposer(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, jsonRequest(http.MethodPost, "/api/ask", map[string]any{"question": "anything"}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeleteDocument(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t)

	rec := h.do(t, httptest.NewRequest(http.MethodDelete, "/api/documents/d1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["chunks_deleted"])

	rec = h.do(t, httptest.NewRequest(http.MethodDelete, "/api/documents/d1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDocuments_UnknownCategory(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/documents?category=recipes", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd": "passwd",
		"a..b.txt":         "a_b.txt",
		"":                 "unnamed",
		"dir/file.pdf":     "file.pdf",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), in)
	}
}

func TestRetrieve_RateLimited(t *testing.T) {
	h := newHarness(t, false)
	h.srv.cfg.QueryRateLimit = 0.001
	h.srv.cfg.QueryBurst = 1
	h.srv.setupRoutes()

	rec := h.do(t, jsonRequest(http.MethodPost, "/api/retrieve", map[string]any{"query": "quorum"}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, jsonRequest(http.MethodPost, "/api/retrieve", map[string]any{"query": "quorum"}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := rl.Middleware(ok)

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:2000"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:1000"))
}

type downEmbedder struct{}

func (downEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func (downEmbedder) Model() string { return "down" }

func TestSearchFailureDegradesToNoPassages(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t)
	h.srv.deps.Retriever = retrieval.New(&vectorstore.Searcher{Store: h.store, Embedder: downEmbedder{}}, nil, slog.New(slog.DiscardHandler))

	rec := h.do(t, jsonRequest(http.MethodPost, "/api/retrieve", map[string]any{"query": "quorum"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["passages"])

	rec = h.do(t, jsonRequest(http.MethodPost, "/api/ask", map[string]any{"question": "what is the quorum"}))
	require.Equal(t, http.StatusOK, rec.Code)
	ans := decode(t, rec)["answer"].(map[string]any)
	assert.Equal(t, answer.NoEvidenceAnswer, ans["answer"])
}
