// Package testutil provides deterministic fakes for testing the engine
// without network I/O.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// HashEmbedder is a deterministic embedding backend for tests. It derives a
// unit-norm vector from a SHA-256 of the text, so equal texts always embed
// to equal vectors and different texts almost never collide.
//
// Thread-safe for concurrent use.
type HashEmbedder struct {
	Dim int

	mu      sync.Mutex
	batches [][]string
	failOn  map[string]error
}

// NewHashEmbedder creates a fake embedder emitting vectors of dimension dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim, failOn: map[string]error{}}
}

// FailOn makes any batch containing text fail with err, mirroring the
// all-or-nothing batch contract of real backends.
func (h *HashEmbedder) FailOn(text string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failOn[text] = err
}

// Batches returns a copy of all batch inputs seen so far.
func (h *HashEmbedder) Batches() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([][]string, len(h.batches))
	copy(cp, h.batches)
	return cp
}

func (h *HashEmbedder) Name() string   { return "hash" }
func (h *HashEmbedder) Dimension() int { return h.Dim }

// Embed implements embed.Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	h.mu.Lock()
	h.batches = append(h.batches, append([]string(nil), texts...))
	for _, text := range texts {
		if err, ok := h.failOn[text]; ok {
			h.mu.Unlock()
			return nil, err
		}
	}
	h.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = h.vector(text)
	}
	return vectors, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, h.Dim)
	var norm float64
	for i := range v {
		// Stretch the 32 hash bytes over any dimension by cycling the
		// read offset through the digest.
		off := (i * 4) % (len(sum) - 4)
		bits := binary.BigEndian.Uint32(sum[off : off+4])
		v[i] = float32(int32(bits%2003)-1001) / 1001
		norm += float64(v[i]) * float64(v[i])
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
