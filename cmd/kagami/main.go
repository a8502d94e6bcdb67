// Package main is the Kagami CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hersafe/kagami/internal/cli"
	"github.com/hersafe/kagami/internal/config"
	"github.com/hersafe/kagami/internal/embedding"
	"github.com/hersafe/kagami/internal/ingest"
	"github.com/hersafe/kagami/internal/models"
	"github.com/hersafe/kagami/internal/pipeline"
	"github.com/hersafe/kagami/internal/risk"
	"github.com/hersafe/kagami/internal/search"
	"github.com/hersafe/kagami/internal/server"
	"github.com/hersafe/kagami/internal/storage"
	"github.com/hersafe/kagami/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kagami/config.yaml"
	defaultServerURL  = "http://localhost:8586"
)

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
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
	case "seed":
		runSeed()
	case "index":
		runIndex()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kagami version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (per-asset indexing, search events)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.Enabled {
		watchOpts := []ingest.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, ingest.WithWatcherLogger(logger))
		}
		watchSvc := ingest.NewWatcher(cfg.Storage.RawImagesDir, components.Seeder, watchOpts...)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start raw image watcher", zap.Error(err))
		}
		watchSvc.SyncExisting(watchCtx)
		defer watchSvc.Stop()
	}

	srv := server.NewServer(components.Engine, components.Pipeline, components.Store, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runSeed() {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	mockURLs := fs.Bool("mock-urls", false, "assign random platform source URLs (development corpora)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	dir := cfg.Storage.RawImagesDir
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}

	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open metadata store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	opts := []ingest.SeederOption{}
	if cfg.Debug {
		opts = append(opts, ingest.WithLogger(logger))
	}
	if *mockURLs {
		opts = append(opts, ingest.WithSourceURL(ingest.MockSourceURL()))
	}
	seeder := ingest.NewSeeder(store, opts...)

	summary, err := seeder.SeedDirectory(context.Background(), dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seeding failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeding finished. Registered: %d, Duplicates: %d, Failed: %d\n",
		summary.Registered, summary.Duplicates, summary.Failed)
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run the pipeline in-process)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	var summary *models.IndexSummary
	if *serverURL != "" {
		summary, err = indexViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Printf("Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()

		components, err := initializeComponents(cfg, logger, cfg.Debug)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()

		summary, err = components.Pipeline.Run(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteIndexSummary(os.Stdout, summary, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search in-process)")
	threshold := fs.Float64("threshold", 0, "similarity threshold (0 = config default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kagami search [flags] <image-file>")
		os.Exit(1)
	}
	imagePath := fs.Arg(0)

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}

	var result *models.SearchResult
	if *serverURL != "" {
		result, err = searchViaHTTP(*serverURL, filepath.Base(imagePath), data, *threshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Printf("Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()

		components, err := initializeComponents(cfg, logger, cfg.Debug)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()

		t := *threshold
		if t == 0 {
			t = cfg.Search.Threshold
		}
		result, err = components.Engine.SearchImage(context.Background(), data, t)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteSearchResult(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/v1/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var pretty bytes.Buffer
		body, _ := io.ReadAll(resp.Body)
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			fmt.Println(string(body))
			return
		}
		fmt.Println(pretty.String())
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	ctx := context.Background()
	assets, err := components.Store.CountAssets(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count assets failed: %v\n", err)
		os.Exit(1)
	}
	indexed, err := components.Store.CountIndexed(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count indexed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("assets:             %d   # registered images\n", assets)
	fmt.Printf("indexed:            %d   # images with a committed vector\n", indexed)
	fmt.Printf("vector_index_size:  %d   # entries in the durable index\n", components.Engine.IndexSize())
	fmt.Printf("database_path:      %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("index_path:         %s\n", cfg.Storage.IndexPath)
}

func indexViaHTTP(serverURL string) (*models.IndexSummary, error) {
	resp, err := http.Post(serverURL+"/api/v1/index", "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var summary models.IndexSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &summary, nil
}

func searchViaHTTP(serverURL, filename string, image []byte, threshold float64) (*models.SearchResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if threshold != 0 {
		if err := writer.WriteField("threshold", strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	resp, err := http.Post(serverURL+"/api/v1/search", writer.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var result models.SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func parseOutputFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "text":
		return cli.OutputText, nil
	case "json":
		return cli.OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// Components holds initialized services.
type Components struct {
	Store    storage.Store
	Embedder embedding.Embedder
	Engine   *search.Engine
	Pipeline *pipeline.Pipeline
	Seeder   *ingest.Seeder
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder := newEmbedder(cfg, logger)
	if cfg.Embedding.CacheSize > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	}

	riskTable := risk.NewTable(riskRulesFromConfig(cfg.Risk.Rules))

	engineOpts := []search.Option{search.WithTopK(cfg.Search.TopK)}
	pipeOpts := []pipeline.Option{
		pipeline.WithEmbedTimeout(time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second),
	}
	seedOpts := []ingest.SeederOption{}
	if debug && logger != nil {
		engineOpts = append(engineOpts, search.WithLogger(logger))
		pipeOpts = append(pipeOpts, pipeline.WithLogger(logger))
		seedOpts = append(seedOpts, ingest.WithLogger(logger))
	}

	engine := search.NewEngine(store, embedder, riskTable, cfg.Storage.IndexPath, engineOpts...)
	pipe := pipeline.New(store, embedder, cfg.Storage.IndexPath, pipeOpts...)
	seeder := ingest.NewSeeder(store, seedOpts...)

	return &Components{
		Store:    store,
		Embedder: embedder,
		Engine:   engine,
		Pipeline: pipe,
		Seeder:   seeder,
	}, nil
}

// newEmbedder builds the configured embedding backend, falling back to the
// deterministic mock when the backend cannot be loaded so the rest of the
// system stays usable in development.
func newEmbedder(cfg *config.Config, logger *zap.Logger) embedding.Embedder {
	switch cfg.Embedding.Type {
	case "clip":
		clip, err := embedding.NewCLIPEmbedder(cfg.Embedding.ModelPath, cfg.Embedding.Dimensions)
		if err == nil {
			return clip
		}
		if logger != nil {
			logger.Warn("CLIP embedder unavailable, falling back to mock",
				zap.String("model_path", cfg.Embedding.ModelPath), zap.Error(err))
		}
	case "remote":
		remote, err := embedding.NewRemoteEmbedder(
			cfg.Embedding.Endpoint,
			cfg.Embedding.Dimensions,
			time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second,
		)
		if err == nil {
			return remote
		}
		if logger != nil {
			logger.Warn("remote embedder unavailable, falling back to mock",
				zap.String("endpoint", cfg.Embedding.Endpoint), zap.Error(err))
		}
	case "mock":
	default:
		if logger != nil {
			logger.Warn("unknown embedding type, using mock", zap.String("type", cfg.Embedding.Type))
		}
	}
	return embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
}

func riskRulesFromConfig(rules []config.RiskRule) []risk.Rule {
	out := make([]risk.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, risk.Rule{
			Pattern:     r.Pattern,
			Score:       r.Score,
			Level:       r.Level,
			Description: r.Description,
		})
	}
	return out
}

func printUsage() {
	fmt.Println(`kagami - image provenance matcher

Usage:
  kagami server [flags]            Start the HTTP server
  kagami seed [flags] [dir]        Register raw images into the metadata store
  kagami index [flags]             Run one indexing pipeline pass
  kagami search [flags] <image>    Search the index with a query image
  kagami status [flags]            Show store and index status
  kagami version                   Show version
  kagami help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kagami/config.yaml)
  --debug            Enable debug logging (per-asset indexing, search events)

Seed Flags:
  --config string    Config file path
  --mock-urls        Assign random platform source URLs (development corpora)

Index/Search/Status Flags:
  --config string    Config file path (for in-process mode)
  --server string    Server URL (default: http://localhost:8586). Use --server "" for in-process mode.
  --output string    Output format: text or json (default: text)

Search Flags:
  --threshold float  Similarity threshold override (default: config value, 0.78)

Examples:
  kagami server
  kagami seed --mock-urls ./data/raw_images
  kagami index
  kagami search query.jpg
  kagami search --threshold 0.9 --output json query.jpg
  kagami status`)
}
