package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeEmbeddingsAPI struct {
	status int
	delay  time.Duration
	dims   int
	// reverse returns data items in reverse index order.
	reverse bool
	// sentDimensions records the dimensions parameter of the last request, nil when omitted.
	sentDimensions *int
}

func (f *fakeEmbeddingsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"denied","type":"test_error"}}`))
		return
	}
	if r.URL.Path != "/v1/embeddings" || r.Header.Get("Authorization") != "Bearer sk-test" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"bad path or key"}}`))
		return
	}
	var req struct {
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Dimensions *int     `json:"dimensions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.sentDimensions = req.Dimensions
	type item struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	data := make([]item, len(req.Input))
	for i := range req.Input {
		vec := make([]float32, f.dims)
		vec[0] = float32(i + 1)
		data[i] = item{Object: "embedding", Index: i, Embedding: vec}
	}
	if f.reverse {
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
}

func newTestOpenAIEmbedder(t *testing.T, api *fakeEmbeddingsAPI, timeout time.Duration) *OpenAIEmbedder {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "text-embedding-3-small", Dimensions: 3, Timeout: timeout,
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestNewOpenAIEmbedder_requiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder(OpenAIConfig{Dimensions: 3}); err == nil {
		t.Error("expected error without api key")
	}
}

func TestOpenAIEmbedder_EmbedBatchOrder(t *testing.T) {
	e := newTestOpenAIEmbedder(t, &fakeEmbeddingsAPI{dims: 3, reverse: true}, time.Second)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
	one, err := e.Embed(context.Background(), "single")
	if err != nil || len(one) != 3 {
		t.Errorf("Embed: %v %v", one, err)
	}
}

func TestOpenAIEmbedder_errorReasons(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeEmbeddingsAPI
		want Reason
	}{
		{"rate limited", &fakeEmbeddingsAPI{status: http.StatusTooManyRequests, dims: 3}, ReasonRateLimited},
		{"unauthorized", &fakeEmbeddingsAPI{status: http.StatusUnauthorized, dims: 3}, ReasonAuth},
		{"forbidden", &fakeEmbeddingsAPI{status: http.StatusForbidden, dims: 3}, ReasonAuth},
		{"server error", &fakeEmbeddingsAPI{status: http.StatusInternalServerError, dims: 3}, ReasonTransient},
		{"dimension mismatch", &fakeEmbeddingsAPI{dims: 5}, ReasonTransient},
		{"timeout", &fakeEmbeddingsAPI{dims: 3, delay: 2 * time.Second}, ReasonTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestOpenAIEmbedder(t, tt.api, 200*time.Millisecond)
			_, err := e.EmbedBatch(context.Background(), []string{"a"})
			var ee *Error
			if !errors.As(err, &ee) {
				t.Fatalf("want *Error, got %v", err)
			}
			if ee.Reason != tt.want {
				t.Errorf("reason = %s, want %s (%v)", ee.Reason, tt.want, err)
			}
		})
	}
}

func TestOpenAIEmbedder_dimensionsParameter(t *testing.T) {
	tests := []struct {
		model string
		dims  int
		want  int // 0 means omitted
	}{
		{"text-embedding-ada-002", 1536, 0},
		{"text-embedding-3-small", 1536, 0},
		{"text-embedding-3-small", 512, 512},
		{"text-embedding-3-large", 1024, 1024},
		{"nomic-embed-text", 768, 0},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			api := &fakeEmbeddingsAPI{dims: tt.dims}
			srv := httptest.NewServer(api)
			defer srv.Close()
			e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: tt.model, Dimensions: tt.dims})
			if err != nil {
				t.Fatal(err)
			}
			if _, err := e.Embed(context.Background(), "a"); err != nil {
				t.Fatalf("Embed: %v", err)
			}
			switch {
			case tt.want == 0 && api.sentDimensions != nil:
				t.Errorf("dimensions sent as %d, want omitted", *api.sentDimensions)
			case tt.want != 0 && (api.sentDimensions == nil || *api.sentDimensions != tt.want):
				t.Errorf("dimensions = %v, want %d", api.sentDimensions, tt.want)
			}
		})
	}

	if _, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", Model: "text-embedding-ada-002", Dimensions: 512}); err == nil {
		t.Error("ada-002 cannot be shortened")
	}
}
