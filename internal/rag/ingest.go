package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gqx-labs/gqx/internal/chunk"
	"github.com/gqx-labs/gqx/internal/embed"
	"github.com/gqx-labs/gqx/internal/index"
	"github.com/gqx-labs/gqx/internal/log"
)

// IngestorConfig parameterizes an Ingestor.
type IngestorConfig struct {
	// BatchSize is the number of chunks embedded per backend call.
	// Default 16.
	BatchSize int

	// EmbedTimeout bounds each embedding call. Default 30s.
	EmbedTimeout time.Duration

	// Concurrency is the number of embedding batches in flight. Default 4.
	Concurrency int
}

func (cfg IngestorConfig) withDefaults() IngestorConfig {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return cfg
}

// Ingestor runs documents through chunking, embedding and index insertion.
// Entries become visible to searches only at the final atomic swap, so a
// document is never partially observable while it ingests.
type Ingestor struct {
	chunker  *chunk.Chunker
	embedder embed.Embedder
	index    *index.Index
	cfg      IngestorConfig
	logger   log.Logger
}

// NewIngestor creates an ingestion pipeline over the given components.
func NewIngestor(chunker *chunk.Chunker, embedder embed.Embedder, idx *index.Index, cfg IngestorConfig, logger log.Logger) *Ingestor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Ingestor{
		chunker:  chunker,
		embedder: embedder,
		index:    idx,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Ingest chunks, embeds and indexes one document, atomically replacing any
// prior entries for the same document id.
//
// In the default (lenient) mode a chunk whose embedding keeps failing is
// recorded in the report and excluded from the index; the rest of the
// document is still indexed. With strict set, any chunk failure aborts the
// whole document and nothing is inserted.
func (ing *Ingestor) Ingest(ctx context.Context, doc Document, strict bool) (*IngestionReport, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	chunks := ing.chunker.Split(doc.ID, doc.Text)
	report := &IngestionReport{DocumentID: doc.ID}
	if len(chunks) == 0 {
		// An empty document still replaces its prior entries.
		if err := ing.index.Insert(doc.ID, nil); err != nil {
			return nil, fmt.Errorf("clearing document %s: %w", doc.ID, err)
		}
		return report, nil
	}

	type embedded struct {
		chunk  chunk.Chunk
		vector []float32
	}

	var (
		mu      sync.Mutex
		done    []embedded
		failed  []ChunkFailure
		aborted error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.cfg.Concurrency)

	for start := 0; start < len(chunks); start += ing.cfg.BatchSize {
		batch := chunks[start:min(start+ing.cfg.BatchSize, len(chunks))]
		g.Go(func() error {
			vectors, failures := ing.embedBatch(gctx, batch)

			mu.Lock()
			defer mu.Unlock()
			for i, v := range vectors {
				if v != nil {
					done = append(done, embedded{chunk: batch[i], vector: v})
				}
			}
			failed = append(failed, failures...)
			if strict && len(failures) > 0 {
				// First failure wins; errgroup cancels the other batches.
				if aborted == nil {
					aborted = fmt.Errorf("chunk %d: %s", failures[0].Seq, failures[0].Error)
				}
				return aborted
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("strict ingestion of document %s aborted: %w", doc.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingestion of document %s: %w", doc.ID, err)
	}

	// Deterministic report and index order regardless of batch scheduling.
	sort.Slice(done, func(i, j int) bool { return done[i].chunk.Seq < done[j].chunk.Seq })
	sort.Slice(failed, func(i, j int) bool { return failed[i].Seq < failed[j].Seq })

	entries := make([]index.Entry, len(done))
	for i, e := range done {
		entries[i] = index.Entry{Chunk: e.chunk, Vector: e.vector}
	}
	if err := ing.index.Insert(doc.ID, entries); err != nil {
		return nil, fmt.Errorf("indexing document %s: %w", doc.ID, err)
	}

	report.ChunksIndexed = len(entries)
	report.Failures = failed
	ing.logger.Info("document ingested",
		"document", doc.ID,
		"filename", doc.Filename,
		"chunks", report.ChunksIndexed,
		"failures", len(failed),
	)
	return report, nil
}

// embedBatch embeds one batch with bounded retries. Batch calls are
// all-or-nothing at the backend, so when a whole batch keeps failing it is
// retried chunk by chunk to salvage what it can; vectors[i] is nil for
// chunks that ultimately failed.
func (ing *Ingestor) embedBatch(ctx context.Context, batch []chunk.Chunk) (vectors [][]float32, failures []ChunkFailure) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vecs, err := ing.embedWithRetry(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if len(batch) == 1 {
		return make([][]float32, 1), []ChunkFailure{{Seq: batch[0].Seq, Error: err.Error()}}
	}

	ing.logger.Warn("batch embedding failed, retrying per chunk", "size", len(batch), "error", err)
	vectors = make([][]float32, len(batch))
	for i, c := range batch {
		single, err := ing.embedWithRetry(ctx, texts[i:i+1])
		if err != nil {
			failures = append(failures, ChunkFailure{Seq: c.Seq, Error: err.Error()})
			continue
		}
		vectors[i] = single[0]
	}
	return vectors, failures
}

func (ing *Ingestor) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	return embedWithRetry(ctx, ing.embedder, texts, ing.cfg.EmbedTimeout)
}

// embedWithRetry calls the embedder under a per-attempt timeout with
// bounded exponential backoff. Shared by ingestion and retrieval.
func embedWithRetry(ctx context.Context, embedder embed.Embedder, texts []string, timeout time.Duration) ([][]float32, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(newEmbedBackoff(), embedMaxRetries), ctx)
	return backoff.RetryWithData(func() ([][]float32, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		vectors, err := embedder.Embed(attemptCtx, texts)
		if err != nil {
			if ctx.Err() != nil {
				// The caller is gone; don't keep hammering the backend.
				return nil, backoff.Permanent(err)
			}
			// Only transport and deadline failures are transient; anything
			// else (caller errors, malformed responses) fails immediately.
			if !errors.Is(err, embed.ErrBackend) && !errors.Is(err, embed.ErrTimeout) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return vectors, nil
	}, policy)
}

func newEmbedBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = embedInitialBackoff
	return b
}
