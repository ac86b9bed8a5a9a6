package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gns-pkulkarni/chatbot-saas/internal/chat"
	"github.com/gns-pkulkarni/chatbot-saas/internal/config"
	"github.com/gns-pkulkarni/chatbot-saas/internal/embedding"
	"github.com/gns-pkulkarni/chatbot-saas/internal/entitlement"
	"github.com/gns-pkulkarni/chatbot-saas/internal/indexer"
	"github.com/gns-pkulkarni/chatbot-saas/internal/ingest"
	"github.com/gns-pkulkarni/chatbot-saas/internal/keyword"
	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/retrieval"
	"github.com/gns-pkulkarni/chatbot-saas/internal/search"
	"github.com/gns-pkulkarni/chatbot-saas/internal/storage"
	"github.com/gns-pkulkarni/chatbot-saas/internal/synth"
	"github.com/gns-pkulkarni/chatbot-saas/internal/usage"
)

const siteText = "Our shop opening hours are nine to five on weekdays. Refunds are accepted within thirty days."

type staticAcquirer string

func (a staticAcquirer) Acquire(context.Context, string) (string, error) { return string(a), nil }

type cannedGenerator struct{ calls int }

func (g *cannedGenerator) Generate(context.Context, []synth.Message) (string, synth.Usage, error) {
	g.calls++
	return "We are **open** nine to five.", synth.Usage{PromptTokens: 100, CompletionTokens: 10}, nil
}

type testServer struct {
	handler http.Handler
	sources *ingest.Service
	gen     *cannedGenerator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage:   config.StorageConfig{Driver: "sqlite", DatabasePath: filepath.Join(dir, "knowledge.db")},
		Chunking:  config.ChunkingConfig{Size: 1000, Overlap: 200},
		Retrieval: config.RetrievalConfig{TopK: 5},
		Server:    config.ServerConfig{MaxUploadBytes: 1 << 20},
		Entitlement: config.EntitlementConfig{
			DefaultPlan: "pro",
			Plans: map[string]config.PlanConfig{
				"pro":    {MaxSites: -1, MaxDocuments: -1, CanUploadDocs: true, Active: true},
				"free":   {MaxSites: 0, MaxDocuments: 0, Active: true},
				"lapsed": {MaxSites: -1, MaxDocuments: -1},
			},
			Tenants: map[string]string{"capped": "free", "lapsed": "lapsed"},
		},
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	require.NoError(t, err)
	kw, err := keyword.NewMemoryBleveIndex()
	require.NoError(t, err)
	chunker, err := indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	require.NoError(t, err)

	emb := embedding.NewMockEmbedder(8)
	plans := entitlement.NewStaticProvider(cfg.Entitlement)
	idx := indexer.NewIndexer(store, indexer.WithKeywordIndex(kw))
	sources := ingest.NewService(store, staticAcquirer(siteText), chunker, emb, idx, ingest.WithEntitlements(plans))

	engine := retrieval.NewEngine(store)
	gen := &cannedGenerator{}
	chatService := chat.NewService(emb, engine, synth.NewSynthesizer(gen), usage.NewRecorder(store, nil),
		chat.WithEntitlements(plans), chat.WithTopK(cfg.Retrieval.TopK))
	searchEngine := search.NewEngine(store, kw, emb, engine, nil)

	t.Cleanup(func() {
		sources.Wait()
		_ = kw.Close()
		_ = store.Close()
	})
	srv := NewServer(sources, chatService, searchEngine, cfg, nil)
	return &testServer{handler: srv.Routes(), sources: sources, gen: gen}
}

func (ts *testServer) do(t *testing.T, method, path, tenant string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	if tenant != "" {
		r.Header.Set(TenantHeader, tenant)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func (ts *testServer) createURLSource(t *testing.T, tenant string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/sources", tenant,
		[]byte(`{"name":"Shop","kind":"url","source_url":"https://shop.example"}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp models.IngestResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, models.StatusPending, resp.Status)
	ts.sources.Wait()
	return resp.SourceID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestTenantHeaderRequired(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/sources", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSourceLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createURLSource(t, "t1")

	w := ts.do(t, http.MethodGet, "/api/v1/sources/"+id, "t1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	src := decode[models.KnowledgeSource](t, w)
	assert.Equal(t, models.StatusActive, src.Status)
	assert.Equal(t, 1, src.ChunkCount)

	// Other tenants cannot see the source.
	w = ts.do(t, http.MethodGet, "/api/v1/sources/"+id, "t2", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/sources", "t1", nil, "")
	list := decode[struct {
		Sources []*models.KnowledgeSource `json:"sources"`
	}](t, w)
	assert.Len(t, list.Sources, 1)

	w = ts.do(t, http.MethodPost, "/api/v1/sources/"+id+"/reingest", "t1", nil, "")
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	ts.sources.Wait()

	w = ts.do(t, http.MethodDelete, "/api/v1/sources/"+id, "t1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodDelete, "/api/v1/sources/"+id, "t1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code, "delete is idempotent")
	w = ts.do(t, http.MethodGet, "/api/v1/sources/"+id, "t1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSource_multipartDocument(t *testing.T) {
	ts := newTestServer(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "Handbook"))
	fw, err := mw.CreateFormFile("file", "handbook.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(siteText))
	require.NoError(t, mw.Close())

	w := ts.do(t, http.MethodPost, "/api/v1/sources", "t1", body.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[models.IngestResponse](t, w)
	ts.sources.Wait()

	w = ts.do(t, http.MethodGet, "/api/v1/sources/"+resp.SourceID, "t1", nil, "")
	src := decode[models.KnowledgeSource](t, w)
	assert.Equal(t, models.SourceKindDocument, src.Kind)
	assert.Equal(t, "handbook.txt", src.Origin)
	assert.Equal(t, models.StatusActive, src.Status)

	// Documents must be uploaded again to re-ingest.
	w = ts.do(t, http.MethodPost, "/api/v1/sources/"+resp.SourceID+"/reingest", "t1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSource_errors(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		tenant string
		body   string
		want   int
	}{
		{"malformed json", "t1", `{`, http.StatusBadRequest},
		{"unknown kind", "t1", `{"name":"x","kind":"ftp","source_url":"ftp://x"}`, http.StatusBadRequest},
		{"missing url", "t1", `{"name":"x","kind":"url"}`, http.StatusBadRequest},
		{"plan limit", "capped", `{"name":"x","kind":"url","source_url":"https://x.example"}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/sources", tt.tenant, []byte(tt.body), "application/json")
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := ts.do(t, http.MethodPost, "/api/v1/sources", "capped",
		[]byte(`{"name":"x","kind":"url","source_url":"https://x.example"}`), "application/json")
	denied := decode[map[string]string](t, w)
	assert.Equal(t, "upgrade_required", denied["error"])
	assert.Equal(t, "sites", denied["reason"])
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t)
	ts.createURLSource(t, "t1")

	w := ts.do(t, http.MethodGet, "/api/v1/search?q=refunds", "t1", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.SearchResponse](t, w)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "Shop", resp.Results[0].SourceName)

	w = ts.do(t, http.MethodGet, "/api/v1/search?q=refunds", "t2", nil, "")
	resp = decode[models.SearchResponse](t, w)
	assert.Zero(t, resp.Total)

	w = ts.do(t, http.MethodGet, "/api/v1/search?q=refunds&mode=hybrid", "t1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{"/api/v1/search", "/api/v1/search?q=x&mode=bogus", "/api/v1/search?q=x&limit=abc"} {
		w = ts.do(t, http.MethodGet, path, "t1", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestChat(t *testing.T) {
	ts := newTestServer(t)
	ts.createURLSource(t, "t1")

	w := ts.do(t, http.MethodPost, "/api/v1/chat", "t1", []byte(`{"message":"When are you open?"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.QueryResponse](t, w)
	assert.Equal(t, "We are **open** nine to five.", resp.Answer)
	assert.Contains(t, resp.AnswerHTML, "<strong>open</strong>")
	assert.Equal(t, 1, ts.gen.calls)

	w = ts.do(t, http.MethodGet, "/api/v1/chat/history?limit=10", "t1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Records []*models.QueryRecord `json:"records"`
	}](t, w)
	require.Len(t, history.Records, 1)
	assert.Equal(t, 100, history.Records[0].PromptTokens)

	w = ts.do(t, http.MethodPost, "/api/v1/chat", "t1", []byte(`{"message":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/chat/history?limit=-1", "t1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_inactiveSubscription(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/chat", "lapsed", []byte(`{"message":"hi"}`), "application/json")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, ts.gen.calls)

	// A capped plan still answers questions.
	w = ts.do(t, http.MethodPost, "/api/v1/chat", "capped", []byte(`{"message":"hi"}`), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.createURLSource(t, "t1")
	ts.createURLSource(t, "t2")

	w := ts.do(t, http.MethodGet, "/api/v1/status", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "status requires a tenant")

	w = ts.do(t, http.MethodGet, "/api/v1/status", "t1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tenant  string                 `json:"tenant"`
		Sources tenantStats            `json:"sources"`
		Config  map[string]interface{} `json:"config"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "t1", resp.Tenant)
	assert.Equal(t, 1, resp.Sources.Sources, "other tenants are not counted")
	assert.Equal(t, 1, resp.Sources.ActiveSources)
	assert.Equal(t, 1, resp.Sources.Chunks)
	assert.Equal(t, float64(5), resp.Config["top_k"])
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))

	w = ts.do(t, http.MethodGet, "/api/v1/status", "nobody", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Zero(t, resp.Sources.Sources)
}
