package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIEmbedder. BaseURL may point at any OpenAI-compatible API.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// nativeDimensions lists output sizes of known OpenAI embedding models.
var nativeDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// fixedDimensions marks models that reject the dimensions parameter.
var fixedDimensions = map[string]bool{
	"text-embedding-ada-002": true,
}

// OpenAIEmbedder calls the embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	// requested is sent as the dimensions parameter; 0 omits it
	requested int
	timeout   time.Duration
}

// NewOpenAIEmbedder builds an embedder from cfg. The API key is required.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding api key is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	native, known := nativeDimensions[cfg.Model]
	if fixedDimensions[cfg.Model] && cfg.Dimensions != native {
		return nil, fmt.Errorf("model %s only produces %d dimensions, got %d", cfg.Model, native, cfg.Dimensions)
	}
	requested := 0
	// only shortened outputs of known models are requested; other servers may reject the field
	if known && cfg.Dimensions != native {
		requested = cfg.Dimensions
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		requested:  requested,
		timeout:    cfg.Timeout,
	}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Vectors are returned in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.requested,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &Error{Reason: ReasonTransient, Err: fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts))}
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		if len(d.Embedding) != e.dimensions {
			return nil, &Error{Reason: ReasonTransient, Err: fmt.Errorf("embedding %d has dimension %d, want %d", i, len(d.Embedding), e.dimensions)}
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

// classify maps provider errors onto embedding reasons by HTTP status.
func classify(err error) *Error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusTooManyRequests:
		return &Error{Reason: ReasonRateLimited, Err: err}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Reason: ReasonAuth, Err: err}
	}
	return &Error{Reason: ReasonTransient, Err: err}
}
