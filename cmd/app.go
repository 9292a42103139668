package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cfgPkg "github.com/xhad/docrag/pkg/config"
	"github.com/xhad/docrag/pkg/engine"
	"github.com/xhad/docrag/pkg/llm"
	"github.com/xhad/docrag/pkg/loader"
	"github.com/xhad/docrag/pkg/processor"
	"github.com/xhad/docrag/pkg/scraper"
	"github.com/xhad/docrag/pkg/store"
)

// app holds the components built from one config.
type app struct {
	config   *cfgPkg.Config
	logger   *slog.Logger
	store    *store.IndexStore
	embedder *llm.Embedder
	chat     *llm.ChatEngine
}

func newApp(ctx context.Context, config *cfgPkg.Config) (*app, error) {
	logger := slog.Default()

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     config.Embedding.Model,
		BaseURL:   config.Embedding.Endpoint,
		Dimension: config.Embedding.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       config.LLM.Model,
		MaxTokens:   config.LLM.MaxTokens,
		BaseURL:     config.LLM.BaseURL,
		Temperature: config.LLM.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	indexStore, err := store.Open(ctx, storeOptions(config, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return &app{
		config:   config,
		logger:   logger,
		store:    indexStore,
		embedder: embedder,
		chat:     chatEngine,
	}, nil
}

func storeOptions(config *cfgPkg.Config, logger *slog.Logger) store.Options {
	return store.Options{
		DocsPath:  config.Index.DocsPath,
		IndexPath: config.Index.Path,
		Dimension: config.Embedding.Dimension,
		Kind:      config.Index.Kind,
		HNSW: store.HNSWOptions{
			M:        config.Index.HNSWM,
			EfSearch: config.Index.EfSearch,
		},
		Postgres: store.PGOptions{
			ConnString: config.Database.URL,
			TableName:  config.Database.TableName,
			BatchSize:  config.Database.BatchSize,
		},
		Logger: logger,
	}
}

func (a *app) indexer(onProgress func(engine.Event)) (*engine.IndexingEngine, error) {
	chunker, err := processor.New(processor.ProcessorConfig{
		ChunkWordCount:  a.config.Processor.ChunkWordCount,
		ChunkOverlap:    a.config.Processor.ChunkOverlap,
		Strategy:        a.config.Processor.ChunkStrategy,
		TopicBlockWords: a.config.Processor.TopicBlockWords,
	}, a.chat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	pages := scraper.NewWithConfig(scraper.ScraperConfig{
		RateLimit: a.config.Scraper.RateLimit,
		Timeout:   time.Duration(a.config.Scraper.TimeoutSeconds) * time.Second,
		UserAgent: a.config.Scraper.UserAgent,
	})
	docs := loader.NewSet(a.config.Index.DocsPath, loader.NewPDFToText(), pages)

	return engine.NewIndexingEngine(engine.Config{
		DocsPath:    a.config.Index.DocsPath,
		Concurrency: a.config.Embedding.Concurrency,
		OnProgress:  onProgress,
		Logger:      a.logger,
	}, docs, chunker, a.embedder, a.store)
}

func (a *app) queryEngine() (*engine.QueryEngine, error) {
	return engine.NewQueryEngine(a.embedder, a.store, a.chat, a.logger)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close index", slog.String("error", err.Error()))
	}
}
