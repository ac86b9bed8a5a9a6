package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 20 << 20
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/chatbot/data/db/knowledge.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/chatbot/data/indices/bleve"
	}
	if cfg.Crawl.MaxPages == 0 {
		cfg.Crawl.MaxPages = 20
	}
	if cfg.Crawl.MaxDepth == 0 {
		cfg.Crawl.MaxDepth = 3
	}
	if cfg.Crawl.Timeout == 0 {
		cfg.Crawl.Timeout = 30 * time.Second
	}
	if cfg.Crawl.MaxBytesPerPage == 0 {
		cfg.Crawl.MaxBytesPerPage = 1_500_000
	}
	if cfg.Crawl.UserAgent == "" {
		cfg.Crawl.UserAgent = "chatbot-saas-crawler/1.0"
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 200
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = 4
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
	if cfg.Generation.MaxContextChars == 0 {
		cfg.Generation.MaxContextChars = 12000
	}
	if cfg.Generation.PromptPricePer1K == 0 && cfg.Generation.CompletionPricePer1K == 0 {
		cfg.Generation.PromptPricePer1K = 0.0025
		cfg.Generation.CompletionPricePer1K = 0.01
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "memory"
	}
	if cfg.Lock.Prefix == "" {
		cfg.Lock.Prefix = "chatbot:ingest:"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 15 * time.Minute
	}
	if cfg.Entitlement.DefaultPlan == "" {
		cfg.Entitlement.DefaultPlan = "free"
	}
	if cfg.Entitlement.Plans == nil {
		cfg.Entitlement.Plans = map[string]PlanConfig{
			"free": {MaxSites: 1, MaxDocuments: 0, CanUploadDocs: false, Active: true},
		}
	}
}
