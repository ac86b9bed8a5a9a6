package embedding

import (
	"fmt"

	"github.com/gns-pkulkarni/chatbot-saas/internal/config"
)

// NewFromConfig builds the configured embedder wrapped in an LRU cache.
func NewFromConfig(cfg config.EmbeddingConfig) (Embedder, error) {
	var base Embedder
	switch cfg.Provider {
	case "openai", "":
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		base = e
	case "mock":
		base = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(base, cfg.CacheSize), nil
	}
	return base, nil
}
