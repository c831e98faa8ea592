// Package index implements an in-memory vector index with brute-force
// cosine search.
//
// The index is built around immutable snapshots published through an atomic
// pointer. Writers build a full replacement snapshot off to the side and
// swap it in; readers pick up whichever snapshot is current when they start
// and are never blocked. A search therefore sees either all of a document's
// entries or none of them, never a half-replaced document.
//
// Brute-force search is O(n·D), which is fine for a single-tenant knowledge
// base. Callers only see the Search contract, so an approximate index can be
// substituted later without touching them.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gqx-labs/gqx/internal/chunk"
	"github.com/gqx-labs/gqx/internal/log"
)

var (
	// ErrInvalidK indicates a non-positive k passed to Search.
	ErrInvalidK = errors.New("k must be positive")

	// ErrDimensionMismatch indicates a vector whose dimension does not
	// match the index. Dimension errors are structural; the operation is
	// rejected outright rather than truncating or padding the vector.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Entry pairs a chunk's metadata with its embedding vector.
type Entry struct {
	Chunk  chunk.Chunk
	Vector []float32
}

// Result is one search hit.
type Result struct {
	Chunk chunk.Chunk
	Score float64
}

// indexed is an Entry frozen inside a snapshot, with its precomputed norm
// and a global insertion sequence used for tie-breaking.
type indexed struct {
	entry Entry
	norm  float64
	seq   uint64
}

// snapshot is one immutable published state of the index. The maps and
// slices inside a snapshot are never mutated after publication; writers
// copy what they need into a fresh snapshot.
type snapshot struct {
	docs  map[string][]indexed
	count int
}

// Index stores chunk vectors keyed by document id and answers top-k cosine
// similarity queries. Safe for concurrent use; readers never block.
type Index struct {
	dim    int
	logger log.Logger

	mu      sync.Mutex // serializes writers and guards nextSeq
	nextSeq uint64
	snap    atomic.Pointer[snapshot]
}

// New creates an empty index for vectors of the given dimension.
func New(dim int, logger log.Logger) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	idx := &Index{dim: dim, logger: logger}
	idx.snap.Store(&snapshot{docs: map[string][]indexed{}})
	return idx, nil
}

// Dimension returns the fixed vector dimension of this index.
func (idx *Index) Dimension() int { return idx.dim }

// Len returns the number of entries currently published.
func (idx *Index) Len() int { return idx.snap.Load().count }

// Insert atomically replaces all entries for the entries' document id.
// Every entry must carry the same document id and a vector of the index
// dimension; a mismatch rejects the whole call and leaves the previous
// entries for that document in place.
func (idx *Index) Insert(documentID string, entries []Entry) error {
	if documentID == "" {
		return errors.New("empty document id")
	}
	for _, e := range entries {
		if len(e.Vector) != idx.dim {
			return fmt.Errorf("%w: document %s chunk %d has dimension %d, index expects %d",
				ErrDimensionMismatch, documentID, e.Chunk.Seq, len(e.Vector), idx.dim)
		}
		if e.Chunk.DocumentID != documentID {
			return fmt.Errorf("entry for document %s carries chunk of document %s",
				documentID, e.Chunk.DocumentID)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	frozen := make([]indexed, len(entries))
	for i, e := range entries {
		idx.nextSeq++
		frozen[i] = indexed{entry: e, norm: norm(e.Vector), seq: idx.nextSeq}
	}

	cur := idx.snap.Load()
	next := &snapshot{docs: make(map[string][]indexed, len(cur.docs)+1)}
	for id, docEntries := range cur.docs {
		if id == documentID {
			continue
		}
		next.docs[id] = docEntries
		next.count += len(docEntries)
	}
	if len(frozen) > 0 {
		next.docs[documentID] = frozen
		next.count += len(frozen)
	}
	idx.snap.Store(next)

	idx.logger.Debug("index updated", "document", documentID, "entries", len(frozen), "total", next.count)
	return nil
}

// Delete removes all entries for a document id. Deleting an absent
// document is a no-op.
func (idx *Index) Delete(documentID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	if _, ok := cur.docs[documentID]; !ok {
		return
	}

	next := &snapshot{docs: make(map[string][]indexed, len(cur.docs)-1)}
	for id, docEntries := range cur.docs {
		if id == documentID {
			continue
		}
		next.docs[id] = docEntries
		next.count += len(docEntries)
	}
	idx.snap.Store(next)

	idx.logger.Debug("document removed from index", "document", documentID, "total", next.count)
}

// Search returns up to k entries ranked by descending cosine similarity to
// query. Equal scores rank the earlier-inserted entry first. If filter is
// non-empty, only documents named in it are considered; filtering happens
// before the k cutoff so it never starves valid results. An empty index
// yields an empty result, not an error.
func (idx *Index) Search(query []float32, k int, filter []string) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(query), idx.dim)
	}

	snap := idx.snap.Load()

	var candidates []indexed
	if len(filter) > 0 {
		for _, id := range filter {
			candidates = append(candidates, snap.docs[id]...)
		}
	} else {
		candidates = make([]indexed, 0, snap.count)
		for _, docEntries := range snap.docs {
			candidates = append(candidates, docEntries...)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryNorm := norm(query)
	type scored struct {
		indexed
		score float64
	}
	hits := make([]scored, len(candidates))
	for i, c := range candidates {
		hits[i] = scored{indexed: c, score: cosine(query, queryNorm, c.entry.Vector, c.norm)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].seq < hits[j].seq
	})

	if k > len(hits) {
		k = len(hits)
	}
	results := make([]Result, k)
	for i := range results {
		results[i] = Result{Chunk: hits[i].entry.Chunk, Score: hits[i].score}
	}
	return results, nil
}

// cosine computes dot(a,b) / (|a||b|) from precomputed norms. Zero-norm
// vectors score zero rather than NaN.
func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
