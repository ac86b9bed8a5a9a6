package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:     "refund",
		QueryTime: 42,
		Total:     1,
		Results: []*models.SearchResult{{
			ChunkID: "c1", SourceID: "s1", SourceName: "Shop", Ordinal: 2,
			Snippet: "Our <mark>refund</mark>\npolicy", Score: 0.9, KeywordScore: 0.9, Rank: 1,
		}},
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != "refund" || decoded.QueryTime != 42 || len(decoded.Results) != 1 || decoded.Results[0].ChunkID != "c1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 1 results in 42ms", "Rank: 1", "Source: Shop (s1) chunk 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSearchResults_compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	want := "1\t0.9000\tShop#2\tOur <mark>refund</mark> policy\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteSources(t *testing.T) {
	var buf bytes.Buffer
	sources := []*models.KnowledgeSource{
		{ID: "s1", Kind: models.SourceKindURL, Status: models.StatusActive, ChunkCount: 3, Name: "Shop"},
		{ID: "s2", Kind: models.SourceKindDocument, Status: models.StatusFailed, Name: "data.bin", FailureReason: "extraction:corrupt"},
	}
	if err := WriteSources(&buf, sources, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[1], "extraction:corrupt") {
		t.Errorf("lines = %q", lines)
	}
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	records := []*models.QueryRecord{{
		Query: "when   are you\nopen?", PromptTokens: 100, CompletionTokens: 10, Cost: 0.0012,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	if err := WriteHistory(&buf, records, OutputText); err != nil {
		t.Fatal(err)
	}
	want := "2026-01-02 03:04:05\t100+10 tokens\t$0.0012\twhen are you open?\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"text", "json", "compact"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("xml accepted")
	}
}

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant-ID") != "t1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/search":
			if r.URL.Query().Get("q") != "refund policy" || r.URL.Query().Get("mode") != "hybrid" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(sampleResponse())
		case "/api/v1/chat":
			var req models.QueryRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(models.QueryResponse{Answer: "echo: " + req.Message})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t1")
	res, err := c.Search("refund policy", "hybrid", 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 {
		t.Errorf("total = %d", res.Total)
	}
	ans, err := c.Ask("hi")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Answer != "echo: hi" {
		t.Errorf("answer = %q", ans.Answer)
	}
	if _, err := c.Status(); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("status err = %v", err)
	}
	if _, err := NewClient(srv.URL, "").Ask("hi"); err == nil {
		t.Error("missing tenant should fail")
	}
}
