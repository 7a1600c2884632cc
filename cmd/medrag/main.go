package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"medrag/internal/chunker"
	"medrag/internal/config"
	"medrag/internal/corpus"
	"medrag/internal/domain"
	"medrag/internal/embedding"
	"medrag/internal/retriever"
	"medrag/internal/tui"
	"medrag/internal/vectorindex"
	"medrag/internal/vectorindex/memory"
	"medrag/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, corpusDir string
	flag.StringVar(&cfgPath, "config", "config.yaml", "Path to YAML config file")
	flag.StringVar(&corpusDir, "corpus", "", "Corpus directory (overrides config)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if corpusDir != "" {
		cfg.CorpusDir = corpusDir
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Assemble components
	transport := embedding.NewHTTPTransport(embedding.HTTPConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  os.Getenv(cfg.Embedding.APIKeyEnv),
		Model:   cfg.Embedding.Model,
		Timeout: time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
	})
	embedder := embedding.NewClient(transport, embedding.Config{
		Dimension:   cfg.Embedding.Dimension,
		CacheDir:    cfg.Embedding.CacheDir,
		BatchSize:   cfg.Embedding.BatchSize,
		TokenBudget: cfg.Embedding.TokenBudget,
		MinInterval: time.Duration(cfg.Embedding.MinIntervalMS) * time.Millisecond,
		BurstEvery:  cfg.Embedding.BurstEvery,
	}, logger.Named("embedding"))

	var index domain.VectorIndex
	switch cfg.Index.Type {
	case "memory", "":
		index = memory.New()
	case "hosted":
		if cfg.Index.Hosted == nil {
			logger.Fatal("hosted index config missing")
		}
		index = vectorindex.NewHosted(vectorindex.HostedConfig{
			BaseURL:     cfg.Index.Hosted.BaseURL,
			APIKey:      os.Getenv(cfg.Index.Hosted.APIKeyEnv),
			IndexName:   cfg.Index.Hosted.IndexName,
			Timeout:     time.Duration(cfg.Index.Hosted.TimeoutSecs) * time.Second,
			UploadBatch: cfg.Index.Hosted.UploadBatch,
		}, logger.Named("vectorindex"))
	default:
		logger.Fatal("unknown index type", zap.String("type", cfg.Index.Type))
	}

	ch := chunker.New(cfg.Chunker.TargetTokens, cfg.Chunker.ModelMaxTokens,
		cfg.Chunker.MinChunkChars, logger.Named("chunker"))

	store := vectorstore.New(embedder, index, vectorstore.Config{
		BuildBatch: cfg.Store.BuildBatch,
		MaxTokens:  cfg.Store.MaxTokens,
	}, logger.Named("vectorstore"))

	// Build the corpus
	ctx := context.Background()
	docs, err := corpus.Load(cfg.CorpusDir, logger.Named("corpus"))
	if err != nil {
		logger.Fatal("corpus load failed", zap.Error(err))
	}
	if len(docs) == 0 {
		fmt.Printf("No *_extracted_text.json documents found in %s\n", cfg.CorpusDir)
		os.Exit(1)
	}
	texts, metadatas := corpus.Prepare(docs, ch, logger.Named("corpus"))
	if err := store.Build(ctx, texts, metadatas); err != nil {
		logger.Fatal("corpus build failed", zap.Error(err))
	}
	stats := embedder.Stats()
	logger.Info("embedding client stats", zap.Int("requests", stats.Requests),
		zap.Int("cache_hits", stats.CacheHits), zap.Int("cache_size", stats.CacheSize))

	m := tui.New(retriever.New(store), cfg.Retriever.TopK)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		logger.Fatal("tui failed", zap.Error(err))
	}
}
