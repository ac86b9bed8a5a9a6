// Package config provides configuration loading and structs for the chatbot server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Crawl       CrawlConfig       `yaml:"crawl"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Generation  GenerationConfig  `yaml:"generation"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Lock        LockConfig        `yaml:"lock"`
	Entitlement EntitlementConfig `yaml:"entitlement"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// StorageConfig selects the storage driver and its location.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver         string `yaml:"driver"`
	DatabasePath   string `yaml:"database_path"`
	PostgresURL    string `yaml:"postgres_url"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// CrawlConfig bounds URL acquisition.
type CrawlConfig struct {
	MaxPages        int           `yaml:"max_pages"`
	MaxDepth        int           `yaml:"max_depth"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxBytesPerPage int64         `yaml:"max_bytes_per_page"`
	UserAgent       string        `yaml:"user_agent"`
}

// ChunkingConfig holds the chunk window, in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	// Provider is "openai" (default) or "mock".
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Dimensions  int           `yaml:"dimensions"`
	Timeout     time.Duration `yaml:"timeout"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	CacheSize   int           `yaml:"cache_size"`
}

// GenerationConfig holds the language model settings and pricing used for usage accounting.
type GenerationConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	// MaxContextChars bounds the context block handed to the model.
	MaxContextChars      int     `yaml:"max_context_chars"`
	PromptPricePer1K     float64 `yaml:"prompt_price_per_1k"`
	CompletionPricePer1K float64 `yaml:"completion_price_per_1k"`
}

// RetrievalConfig holds the number of chunks retrieved per query.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// LockConfig selects how per-source ingestion exclusivity is enforced.
type LockConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// EntitlementConfig is the static plan table used when no external entitlement service is wired.
type EntitlementConfig struct {
	DefaultPlan string                `yaml:"default_plan"`
	Plans       map[string]PlanConfig `yaml:"plans"`
	Tenants     map[string]string     `yaml:"tenants"`
}

// PlanConfig describes limits of a subscription plan. -1 means unlimited.
type PlanConfig struct {
	MaxSites            int  `yaml:"max_sites"`
	MaxDocuments        int  `yaml:"max_documents"`
	CanUploadDocs       bool `yaml:"can_upload_docs"`
	Active              bool `yaml:"active"`
	PendingCancellation bool `yaml:"pending_cancellation"`
}

// Load reads and parses the config file at path, applies environment overrides, expands paths,
// and applies defaults. A .env file next to the config is loaded when present.
// Returns an error if the file cannot be read or parsed, or the result is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	envPath := filepath.Join(configDir, ".env")
	if _, statErr := os.Stat(envPath); statErr == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides secrets and endpoints from CHATBOT_* environment variables.
// This is the only place the process environment is consulted.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("CHATBOT_OPENAI_API_KEY"); v != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
		if cfg.Generation.APIKey == "" {
			cfg.Generation.APIKey = v
		}
	}
	if v := os.Getenv("CHATBOT_POSTGRES_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("CHATBOT_REDIS_ADDR"); v != "" {
		cfg.Lock.RedisAddr = v
	}
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking overlap (%d) must be smaller than size (%d)", c.Chunking.Overlap, c.Chunking.Size)
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage driver postgres requires postgres_url")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}
	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown lock backend: %s", c.Lock.Backend)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
