// Package main is the chatbot server and CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/acquire"
	"github.com/gns-pkulkarni/chatbot-saas/internal/chat"
	"github.com/gns-pkulkarni/chatbot-saas/internal/cli"
	"github.com/gns-pkulkarni/chatbot-saas/internal/config"
	"github.com/gns-pkulkarni/chatbot-saas/internal/embedding"
	"github.com/gns-pkulkarni/chatbot-saas/internal/entitlement"
	"github.com/gns-pkulkarni/chatbot-saas/internal/indexer"
	"github.com/gns-pkulkarni/chatbot-saas/internal/ingest"
	"github.com/gns-pkulkarni/chatbot-saas/internal/keyword"
	"github.com/gns-pkulkarni/chatbot-saas/internal/lock"
	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/retrieval"
	"github.com/gns-pkulkarni/chatbot-saas/internal/search"
	"github.com/gns-pkulkarni/chatbot-saas/internal/server"
	"github.com/gns-pkulkarni/chatbot-saas/internal/storage"
	"github.com/gns-pkulkarni/chatbot-saas/internal/synth"
	"github.com/gns-pkulkarni/chatbot-saas/internal/usage"
	"github.com/gns-pkulkarni/chatbot-saas/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/chatbot/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists, so "chatbot server" from the project dir uses the project's
// config. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "sources":
		runSources()
	case "delete":
		runDelete()
	case "search":
		runSearch()
	case "ask":
		runAsk()
	case "history":
		runHistory()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("chatbot version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, builds the logger and initializes components. It exits on failure.
func setup(configPath string, debugFlag, withChat bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolvedConfigPath), zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger, withChat)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug, true)
	defer logger.Sync()
	defer components.Close()

	srv := server.NewServer(
		components.Ingest,
		components.Chat,
		components.Search,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	if err := components.Ingest.Shutdown(ctx); err != nil {
		logger.Warn("ingestions still running at exit", zap.Error(err))
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenant := fs.String("tenant", "", "tenant id (required)")
	name := fs.String("name", "", "source name (defaults to the URL or first file name)")
	sourceURL := fs.String("url", "", "website to crawl; otherwise the arguments are files to upload")
	_ = fs.Parse(os.Args[2:])

	if *tenant == "" || (*sourceURL == "" && fs.NArg() == 0) {
		fmt.Println("Usage: chatbot ingest --tenant <id> [--name <name>] (--url <url> | <file>...)")
		os.Exit(1)
	}
	req := &models.IngestRequest{TenantID: *tenant, Name: *name, Kind: models.SourceKindURL, SourceURL: *sourceURL}
	if *sourceURL == "" {
		req.Kind = models.SourceKindDocument
		for _, path := range fs.Args() {
			content, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
				os.Exit(1)
			}
			req.Files = append(req.Files, models.Upload{Filename: filepath.Base(path), Content: content})
		}
	}
	if req.Name == "" {
		req.Name = req.Origin()
	}

	_, logger, components := setup(*configPath, false, false)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	resp, err := components.Ingest.Submit(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	components.Ingest.Wait()
	src, err := components.Ingest.Get(ctx, *tenant, resp.SourceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read source: %v\n", err)
		os.Exit(1)
	}
	if src.Status == models.StatusFailed {
		fmt.Fprintf(os.Stderr, "Source %s failed: %s\n", src.ID, src.FailureReason)
		os.Exit(1)
	}
	fmt.Printf("Source %s is %s with %d chunk(s)\n", src.ID, src.Status, src.ChunkCount)
}

func runSources() {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenant := fs.String("tenant", "", "tenant id (required)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)
	requireTenant(*tenant)

	_, logger, components := setup(*configPath, false, false)
	defer logger.Sync()
	defer components.Close()

	sources, err := components.Ingest.List(context.Background(), *tenant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSources(os.Stdout, sources, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenant := fs.String("tenant", "", "tenant id (required)")
	_ = fs.Parse(os.Args[2:])
	if *tenant == "" || fs.NArg() < 1 {
		fmt.Println("Usage: chatbot delete --tenant <id> <source-id>")
		os.Exit(1)
	}
	sourceID := fs.Arg(0)

	_, logger, components := setup(*configPath, false, false)
	defer logger.Sync()
	defer components.Close()

	if err := components.Ingest.Delete(context.Background(), *tenant, sourceID); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Source deleted: %s\n", sourceID)
}

// buildSearchQuery joins positional args into a single query string.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that follow positional arguments to the front so that
// "chatbot search refund policy --limit 5" parses like "chatbot search --limit 5 refund policy".
func argsReorder(args []string) []string {
	for i, a := range args {
		if strings.HasPrefix(a, "-") {
			if i == 0 {
				return args
			}
			out := make([]string, 0, len(args))
			out = append(out, args[i:]...)
			out = append(out, args[:i]...)
			return out
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	tenant := fs.String("tenant", "", "tenant id (required)")
	limit := fs.Int("limit", 10, "number of results")
	mode := fs.String("mode", "keyword", "keyword, semantic or hybrid")
	fuzzy := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	outputFormat := fs.String("output", "text", "output format: text, compact or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: chatbot search --tenant <id> [flags] <query>")
		os.Exit(1)
	}
	format := mustFormat(*outputFormat)
	requireTenant(*tenant)

	var response *models.SearchResponse
	var err error
	if *serverURL != "" {
		// The server holds the Bleve and SQLite locks while running.
		response, err = cli.NewClient(*serverURL, *tenant).Search(queryStr, *mode, *limit, *fuzzy)
	} else {
		_, logger, components := setup(*configPath, false, false)
		defer logger.Sync()
		defer components.Close()
		query := &models.SearchQuery{
			TenantID:        *tenant,
			Query:           queryStr,
			Limit:           *limit,
			FuzzyEnabled:    *fuzzy,
			KeywordEnabled:  *mode != "semantic",
			SemanticEnabled: *mode != "keyword",
		}
		response, err = components.Search.Search(context.Background(), query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = answer in-process)")
	tenant := fs.String("tenant", "", "tenant id (required)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := buildSearchQuery(fs.Args())
	if question == "" {
		fmt.Println("Usage: chatbot ask --tenant <id> <question>")
		os.Exit(1)
	}
	format := mustFormat(*outputFormat)
	requireTenant(*tenant)

	var resp *models.QueryResponse
	var err error
	if *serverURL != "" {
		resp, err = cli.NewClient(*serverURL, *tenant).Ask(question)
	} else {
		_, logger, components := setup(*configPath, false, true)
		defer logger.Sync()
		defer components.Close()
		resp, err = components.Chat.Ask(context.Background(), &models.QueryRequest{TenantID: *tenant, Message: question})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteAnswer(os.Stdout, resp, format)
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenant := fs.String("tenant", "", "tenant id (required)")
	limit := fs.Int("limit", usage.DefaultHistoryLimit, "number of records")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)
	requireTenant(*tenant)

	_, logger, components := setup(*configPath, false, false)
	defer logger.Sync()
	defer components.Close()

	records, err := components.Recorder.History(context.Background(), *tenant, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteHistory(os.Stdout, records, format)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	tenant := fs.String("tenant", "", "tenant id (required with --server)")
	_ = fs.Parse(os.Args[2:])

	var status interface{}
	if *serverURL != "" {
		requireTenant(*tenant)
		res, err := cli.NewClient(*serverURL, *tenant).Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = res
	} else {
		cfg, logger, components := setup(*configPath, false, false)
		defer logger.Sync()
		defer components.Close()
		stats, err := components.Storage.Stats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		res := map[string]interface{}{"storage": stats}
		if n, err := components.KeywordIndex.DocCount(); err == nil {
			res["keyword_documents"] = n
		}
		if cfg.Storage.Driver == "sqlite" {
			if b, err := storage.SQLiteFootprint(cfg.Storage.DatabasePath); err == nil {
				res["database_bytes"] = b
			}
		}
		if b, err := storage.Footprint(cfg.Storage.BleveIndexPath); err == nil {
			res["keyword_index_bytes"] = b
		}
		status = res
	}
	_ = cli.WriteStatus(os.Stdout, status)
}

func mustFormat(s string) cli.OutputFormat {
	f, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return f
}

func requireTenant(tenant string) {
	if tenant == "" {
		fmt.Fprintln(os.Stderr, "--tenant is required")
		os.Exit(1)
	}
}

// Components holds initialized services. Chat is nil unless requested.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	KeywordIndex keyword.KeywordIndex
	Locker       lock.Locker
	Recorder     *usage.Recorder
	Ingest       *ingest.Service
	Chat         *chat.Service
	Search       *search.Engine
}

func (c *Components) Close() {
	if c.Ingest != nil {
		c.Ingest.Wait()
	}
	if c.Locker != nil {
		_ = c.Locker.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return storage.NewPostgresStorage(ctx, cfg.Storage.PostgresURL)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0o755); err != nil {
			return nil, err
		}
		return storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, withChat bool) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := openStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	if c.Embedder, err = embedding.NewFromConfig(cfg.Embedding); err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.BleveIndexPath), 0o755); err != nil {
		return nil, err
	}
	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw
	if c.Locker, err = lock.NewFromConfig(cfg.Lock); err != nil {
		return nil, fmt.Errorf("failed to initialize locker: %w", err)
	}
	chunker, err := indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	plans := entitlement.NewStaticProvider(cfg.Entitlement)
	idx := indexer.NewIndexer(store, indexer.WithLogger(logger), indexer.WithKeywordIndex(c.KeywordIndex))
	crawler := acquire.NewCrawler(cfg.Crawl, acquire.WithLogger(logger))
	c.Ingest = ingest.NewService(store, crawler, chunker, c.Embedder, idx,
		ingest.WithLogger(logger),
		ingest.WithEntitlements(plans),
		ingest.WithLocker(c.Locker),
		ingest.WithEmbedBatching(cfg.Embedding.BatchSize, cfg.Embedding.Concurrency),
	)

	retriever := retrieval.NewEngine(store, retrieval.WithLogger(logger))
	c.Search = search.NewEngine(store, c.KeywordIndex, c.Embedder, retriever, logger)
	c.Recorder = usage.NewRecorder(store, logger)

	if withChat {
		gen, err := synth.NewOpenAIGenerator(synth.OpenAIConfig{
			BaseURL:     cfg.Generation.BaseURL,
			APIKey:      cfg.Generation.APIKey,
			Model:       cfg.Generation.Model,
			Temperature: cfg.Generation.Temperature,
			Timeout:     cfg.Generation.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize generator: %w", err)
		}
		syn := synth.NewSynthesizer(gen,
			synth.WithLogger(logger),
			synth.WithMaxContextChars(cfg.Generation.MaxContextChars),
			synth.WithPricing(synth.Pricing{
				PromptPer1K:     cfg.Generation.PromptPricePer1K,
				CompletionPer1K: cfg.Generation.CompletionPricePer1K,
			}),
		)
		c.Chat = chat.NewService(c.Embedder, retriever, syn, c.Recorder,
			chat.WithLogger(logger),
			chat.WithEntitlements(plans),
			chat.WithTopK(cfg.Retrieval.TopK),
		)
	}

	logger.Info("components initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("lock_backend", cfg.Lock.Backend),
		zap.Bool("chat", withChat))
	ok = true
	return c, nil
}

func printUsage() {
	fmt.Println(`chatbot - multi-tenant knowledge chatbot

Usage:
  chatbot server [flags]                      Start the HTTP server
  chatbot ingest --tenant <id> --url <url>    Crawl a website into a tenant's knowledge base
  chatbot ingest --tenant <id> <file>...      Upload documents into a tenant's knowledge base
  chatbot sources --tenant <id>               List a tenant's sources
  chatbot delete --tenant <id> <source-id>    Delete a source and its chunks
  chatbot search --tenant <id> <query>        Search a tenant's chunks
  chatbot ask --tenant <id> <question>        Ask the chatbot a question
  chatbot history --tenant <id>               Show recent questions and token usage
  chatbot status [--tenant <id>]              Show tenant status (server) or storage and index status
  chatbot version                             Show version
  chatbot help                                Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/chatbot/config.yaml)
  --server string    Server URL for search, ask and status (default: http://localhost:8080).
                     Use --server "" to work on storage directly when the server is not running.
  --output string    Output format: text, compact (search only) or json

Examples:
  chatbot server --debug
  chatbot ingest --tenant acme --url https://acme.example
  chatbot ingest --tenant acme --name "Handbook" handbook.pdf faq.docx
  chatbot search --tenant acme --mode hybrid "refund policy"
  chatbot ask --tenant acme "When are you open?"`)
}
