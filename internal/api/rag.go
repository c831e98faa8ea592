package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gqx-labs/gqx/internal/index"
	"github.com/gqx-labs/gqx/internal/log"
	"github.com/gqx-labs/gqx/internal/rag"
)

// maxIngestBodyBytes caps ingestion bodies; documents arrive as raw text.
const maxIngestBodyBytes = 16 << 20

type ragHandler struct {
	ingestor  *rag.Ingestor
	retriever *rag.Retriever
	index     *index.Index
	logger    log.Logger
}

type ingestRequest struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
	Strict   bool   `json:"strict"`
}

// ingest handles POST /rag/index.
func (h *ragHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", h.logger)
		return
	}

	doc := rag.Document{
		ID:         req.ID,
		Filename:   req.Filename,
		UploadedAt: time.Now().UTC(),
		Text:       req.Text,
	}
	report, err := h.ingestor.Ingest(r.Context(), doc, req.Strict)
	if err != nil {
		switch {
		case errors.Is(err, index.ErrDimensionMismatch):
			h.logger.Error("ingestion hit a dimension mismatch", "error", err)
			writeError(w, http.StatusInternalServerError, "index_corruption", "embedding dimension mismatch", h.logger)
		case req.Strict:
			writeError(w, http.StatusUnprocessableEntity, "ingestion_aborted", err.Error(), h.logger)
		default:
			h.logger.Error("ingestion failed", "error", err)
			writeError(w, http.StatusInternalServerError, "ingestion_failed", "ingestion failed", h.logger)
		}
		return
	}
	writeJSON(w, http.StatusOK, report, h.logger)
}

type searchRequest struct {
	Query     string   `json:"query"`
	K         int      `json:"k"`
	Documents []string `json:"documents"`
}

type searchHit struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Source   string  `json:"source"`
	ChunkSeq int     `json:"chunk_seq"`
}

// search handles POST /rag/search.
func (h *ragHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", h.logger)
		return
	}
	if req.K == 0 {
		req.K = h.retriever.DefaultK()
	}

	results, err := h.retriever.Retrieve(r.Context(), req.Query, req.K, req.Documents)
	if err != nil {
		if errors.Is(err, index.ErrInvalidK) {
			writeError(w, http.StatusBadRequest, "invalid_k", "k must be positive", h.logger)
			return
		}
		h.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "search failed", h.logger)
		return
	}

	hits := make([]searchHit, len(results))
	for i, res := range results {
		hits[i] = searchHit{
			Text:     res.Chunk.Text,
			Score:    res.Score,
			Source:   res.Chunk.DocumentID,
			ChunkSeq: res.Chunk.Seq,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits}, h.logger)
}

// deleteDocument handles DELETE /rag/documents/{id}. Deleting an absent
// document is a no-op, so the response is 204 either way.
func (h *ragHandler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "document id is required", h.logger)
		return
	}
	h.index.Delete(id)
	h.logger.Info("document deleted", "document", id)
	w.WriteHeader(http.StatusNoContent)
}

// stats handles GET /rag/stats with index diagnostics.
func (h *ragHandler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"entries":   h.index.Len(),
		"dimension": h.index.Dimension(),
	}, h.logger)
}
