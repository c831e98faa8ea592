package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gqx-labs/gqx/internal/chat"
	"github.com/gqx-labs/gqx/internal/chunk"
	"github.com/gqx-labs/gqx/internal/config"
	"github.com/gqx-labs/gqx/internal/embed"
	"github.com/gqx-labs/gqx/internal/index"
	"github.com/gqx-labs/gqx/internal/log"
	"github.com/gqx-labs/gqx/internal/provider"
	"github.com/gqx-labs/gqx/internal/rag"
)

// engine bundles the wired components shared by the subcommands.
type engine struct {
	cfg          *config.Config
	logger       log.Logger
	index        *index.Index
	ingestor     *rag.Ingestor
	retriever    *rag.Retriever
	orchestrator *chat.Orchestrator
}

func newLogger(cfg *config.Config) log.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}

// setup loads configuration and wires the engine bottom-up: chunker,
// embedder, index, pipeline, providers, orchestrator.
func setup(ctx context.Context, configPath string) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg)

	chunker, err := chunk.New(cfg.Chunking.TargetWords, cfg.Chunking.OverlapWords)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	embedder, err := embed.New(ctx, embed.Config{
		Backend:   cfg.Embedding.Backend,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey(),
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	idx, err := index.New(cfg.Embedding.Dimension, logger)
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}

	ingestor := rag.NewIngestor(chunker, embedder, idx, rag.IngestorConfig{
		EmbedTimeout: cfg.Timeouts.Embed,
	}, logger)
	retriever := rag.NewRetriever(embedder, idx, rag.RetrieverConfig{
		DefaultK:     cfg.Retrieval.DefaultK,
		EmbedTimeout: cfg.Timeouts.Embed,
	}, logger)

	providerConfigs := make([]provider.Config, 0, len(cfg.Providers))
	for _, p := range providerOrder(cfg) {
		providerConfigs = append(providerConfigs, provider.Config{
			Name:           p.Name,
			Endpoint:       p.Endpoint,
			APIKey:         p.APIKey(),
			Model:          p.Model,
			Streaming:      p.Streaming,
			ConnectTimeout: cfg.Timeouts.ProviderConnect,
			IdleTimeout:    cfg.Timeouts.ProviderIdle,
		})
	}
	registry, err := provider.NewRegistry(ctx, providerConfigs, logger)
	if err != nil {
		return nil, fmt.Errorf("building provider registry: %w", err)
	}

	orchestrator := chat.New(registry, retriever, chat.Config{
		RetrievalK:         cfg.Retrieval.DefaultK,
		HistoryTokenBudget: cfg.Chat.HistoryTokenBudget,
		Options: provider.Options{
			Temperature: cfg.Chat.Temperature,
			MaxTokens:   cfg.Chat.MaxTokens,
		},
	}, logger)

	return &engine{
		cfg:          cfg,
		logger:       logger,
		index:        idx,
		ingestor:     ingestor,
		retriever:    retriever,
		orchestrator: orchestrator,
	}, nil
}

// providerOrder puts the configured default provider first, because the
// registry falls back to its first entry.
func providerOrder(cfg *config.Config) []config.Provider {
	def := strings.ToLower(cfg.Chat.DefaultProvider)
	ordered := make([]config.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if strings.ToLower(p.Name) == def {
			ordered = append([]config.Provider{p}, ordered...)
			continue
		}
		ordered = append(ordered, p)
	}
	return ordered
}
