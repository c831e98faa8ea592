package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/gqx-labs/gqx/internal/chunk"
	"github.com/gqx-labs/gqx/internal/index"
	"github.com/gqx-labs/gqx/internal/log"
	"github.com/gqx-labs/gqx/internal/testutil"
)

func TestRetrieveEmptyIndex(t *testing.T) {
	embedder := testutil.NewHashEmbedder(testDim)
	idx, err := index.New(testDim, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	r := NewRetriever(embedder, idx, RetrieverConfig{}, log.NewNop())

	results, err := r.Retrieve(context.Background(), "anything", 5, nil)
	if err != nil {
		t.Fatalf("empty index should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty index", len(results))
	}
	if len(embedder.Batches()) != 0 {
		t.Error("query embedded despite empty index")
	}
}

func TestRetrieveInvalidK(t *testing.T) {
	embedder := testutil.NewHashEmbedder(testDim)
	idx, err := index.New(testDim, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	r := NewRetriever(embedder, idx, RetrieverConfig{}, log.NewNop())

	if _, err := r.Retrieve(context.Background(), "q", 0, nil); !errors.Is(err, index.ErrInvalidK) {
		t.Fatalf("error = %v, want ErrInvalidK", err)
	}
}

func TestRetrieveFindsExactText(t *testing.T) {
	ing, _, idx := newPipeline(t, IngestorConfig{})
	ctx := context.Background()

	docs := []Document{
		{ID: "cats", Text: "Cats are small carnivorous mammals. They purr when content."},
		{ID: "go", Text: "Go is a statically typed language. Goroutines make concurrency cheap."},
	}
	for _, d := range docs {
		if _, err := ing.Ingest(ctx, d, false); err != nil {
			t.Fatal(err)
		}
	}

	// The hash embedder maps identical text to identical vectors, so
	// querying with an indexed chunk's exact text must rank it first
	// with similarity ~1.
	r := NewRetriever(testutil.NewHashEmbedder(testDim), idx, RetrieverConfig{}, log.NewNop())
	chunker, err := chunk.New(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	query := chunker.Split("cats", docs[0].Text)[0].Text
	results, err := r.Retrieve(ctx, query, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Chunk.DocumentID != "cats" {
		t.Errorf("top result from %q, want cats: %+v", results[0].Chunk.DocumentID, results[0])
	}
	if results[0].Score < 0.99 {
		t.Errorf("exact text scored %v, want ~1", results[0].Score)
	}

	// Filtering to the other document must exclude the cats chunks even
	// though they score higher.
	filtered, err := r.Retrieve(ctx, query, 3, []string{"go"})
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range filtered {
		if res.Chunk.DocumentID != "go" {
			t.Errorf("filter leaked document %q", res.Chunk.DocumentID)
		}
	}
	if len(filtered) == 0 {
		t.Error("filter starved all results")
	}
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	ing, _, idx := newPipeline(t, IngestorConfig{})
	ctx := context.Background()
	if _, err := ing.Ingest(ctx, Document{ID: "doc", Text: "some indexed content here."}, false); err != nil {
		t.Fatal(err)
	}

	embedder := testutil.NewHashEmbedder(testDim)
	embedder.FailOn("broken query", errors.New("no embedding for you"))
	r := NewRetriever(embedder, idx, RetrieverConfig{}, log.NewNop())

	if _, err := r.Retrieve(ctx, "broken query", 3, nil); err == nil {
		t.Fatal("expected embedding failure to surface")
	}
}
