package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/gqx-labs/gqx/internal/embed"
	"github.com/gqx-labs/gqx/internal/index"
	"github.com/gqx-labs/gqx/internal/log"
)

// RetrieverConfig parameterizes a Retriever.
type RetrieverConfig struct {
	// DefaultK is used when the caller passes k <= 0 from the outside
	// surface. Default 3.
	DefaultK int

	// EmbedTimeout bounds the query embedding call. Default 10s.
	EmbedTimeout time.Duration
}

func (cfg RetrieverConfig) withDefaults() RetrieverConfig {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 3
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 10 * time.Second
	}
	return cfg
}

// Retriever embeds a query and returns the top-k most similar chunks from
// the index.
type Retriever struct {
	embedder embed.Embedder
	index    *index.Index
	cfg      RetrieverConfig
	logger   log.Logger
}

// NewRetriever creates a Retriever over the given embedder and index.
func NewRetriever(embedder embed.Embedder, idx *index.Index, cfg RetrieverConfig, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{embedder: embedder, index: idx, cfg: cfg.withDefaults(), logger: logger}
}

// DefaultK returns the configured default result count.
func (r *Retriever) DefaultK() int { return r.cfg.DefaultK }

// Retrieve returns up to k chunks relevant to query, highest score first.
// An optional document-id filter restricts the candidate set before the k
// cutoff. An empty index yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filter []string) ([]index.Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("retrieve: %w: got %d", index.ErrInvalidK, k)
	}
	if r.index.Len() == 0 {
		return nil, nil
	}

	vectors, err := embedWithRetry(ctx, r.embedder, []string{query}, r.cfg.EmbedTimeout)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := r.index.Search(vectors[0], k, filter)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	r.logger.Debug("retrieval complete", "k", k, "results", len(results), "filtered", len(filter) > 0)
	return results, nil
}
