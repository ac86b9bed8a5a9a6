package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"refund policy", "-limit", "5"},
			expected: []string{"-limit", "5", "refund policy"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-tenant", "acme", "refund policy"},
			expected: []string{"-tenant", "acme", "refund policy"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"refund policy"},
			expected: []string{"refund policy"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"when", "open", "-tenant", "acme"},
			expected: []string{"-tenant", "acme", "when", "open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"refund"}, "refund"},
		{"multiple words", []string{"refund", "policy"}, "refund policy"},
		{"single quoted phrase", []string{"refund policy"}, "refund policy"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_explicitPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  port: 9191\nstorage:\n  database_path: ./db/knowledge.db\n")
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != path {
		t.Errorf("resolved = %q", resolved)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if want := filepath.Join(dir, "db", "knowledge.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database path = %q, want %q", cfg.Storage.DatabasePath, want)
	}
}

func TestInitializeComponents(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
storage:
  database_path: ./data/knowledge.db
  bleve_index_path: ./data/bleve
embedding:
  provider: mock
  dimensions: 8
generation:
  api_key: test-key
`)
	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	c, err := initializeComponents(cfg, zap.NewNop(), true)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Ingest == nil || c.Chat == nil || c.Search == nil || c.Recorder == nil {
		t.Fatalf("components not wired: %+v", c)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "knowledge.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}
