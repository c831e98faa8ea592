// Package rag wires the chunker, the embedding client and the vector index
// into the two document-facing operations of the engine: ingesting documents
// into the index and retrieving relevant chunks for a query.
package rag

import (
	"time"
)

// Document is a raw text to be ingested, with its source metadata.
// Immutable once created; the pipeline owns it only until it is chunked.
type Document struct {
	ID         string    // generated if empty
	Filename   string    // source metadata, kept on every chunk's report
	UploadedAt time.Time // zero means "now" at ingestion time
	Text       string
}

// ChunkFailure records one chunk that could not be embedded.
type ChunkFailure struct {
	Seq   int    `json:"seq"`
	Error string `json:"error"`
}

// IngestionReport summarizes one ingestion run.
type IngestionReport struct {
	DocumentID    string         `json:"documentId"`
	ChunksIndexed int            `json:"chunksIndexed"`
	Failures      []ChunkFailure `json:"failures,omitempty"`
}

// retryPolicy bounds the embedding retries shared by ingestion and
// retrieval.
const (
	embedMaxRetries     = 3
	embedInitialBackoff = 200 * time.Millisecond
)
