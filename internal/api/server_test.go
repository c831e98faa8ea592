package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gqx-labs/gqx/internal/chat"
	"github.com/gqx-labs/gqx/internal/chunk"
	"github.com/gqx-labs/gqx/internal/index"
	"github.com/gqx-labs/gqx/internal/log"
	"github.com/gqx-labs/gqx/internal/provider"
	"github.com/gqx-labs/gqx/internal/rag"
	"github.com/gqx-labs/gqx/internal/testutil"
)

const testDim = 8

// newTestServer wires a full engine around a scripted provider and the
// deterministic hash embedder.
func newTestServer(t *testing.T, p provider.Provider, cfg ServerConfig) *Server {
	t.Helper()

	chunker, err := chunk.New(4, 1)
	require.NoError(t, err)
	idx, err := index.New(testDim, log.NewNop())
	require.NoError(t, err)
	embedder := testutil.NewHashEmbedder(testDim)

	ingestor := rag.NewIngestor(chunker, embedder, idx, rag.IngestorConfig{}, log.NewNop())
	retriever := rag.NewRetriever(embedder, idx, rag.RetrieverConfig{}, log.NewNop())
	orchestrator := chat.New(
		provider.NewRegistryFromProviders(p),
		retriever,
		chat.Config{TokenCounter: func(s string) int { return len(strings.Fields(s)) }},
		log.NewNop(),
	)

	cfg.Orchestrator = orchestrator
	cfg.Ingestor = ingestor
	cfg.Retriever = retriever
	cfg.Index = idx
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return srv
}

func scripted(deltas ...string) *testutil.ScriptedProvider {
	return &testutil.ScriptedProvider{ProviderName: "scripted", CanStream: true, Deltas: deltas}
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, scripted("ok"), ServerConfig{})
	w := doJSON(t, srv, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestChat(t *testing.T) {
	srv := newTestServer(t, scripted("streamed ", "reply"), ServerConfig{})
	w := doJSON(t, srv, http.MethodPost, "/chat",
		`{"messages":[{"role":"user","content":"hello"}],"provider":"scripted"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "streamed reply", resp.Reply)
	assert.Equal(t, "scripted", resp.Meta.Provider)
	assert.False(t, resp.Meta.RAG)
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t, scripted("ok"), ServerConfig{})

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"messages":`, "invalid_body"},
		{"empty messages", `{"messages":[]}`, "invalid_messages"},
		{"last message not user", `{"messages":[{"role":"assistant","content":"hi"}]}`, "invalid_messages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv, http.MethodPost, "/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

func TestChatUnknownProvider(t *testing.T) {
	srv := newTestServer(t, scripted("ok"), ServerConfig{})
	w := doJSON(t, srv, http.MethodPost, "/chat",
		`{"messages":[{"role":"user","content":"hi"}],"provider":"mainframe"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_provider")
}

func TestChatStream(t *testing.T) {
	srv := newTestServer(t, scripted("one ", "two ", "three"), ServerConfig{})
	w := doJSON(t, srv, http.MethodPost, "/chat/stream",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "scripted", w.Header().Get("X-Provider"))
	assert.Equal(t, "one two three", w.Body.String())
}

func TestChatStreamErrorTrailer(t *testing.T) {
	p := scripted("partial ")
	p.Final = errors.New("backend died")
	srv := newTestServer(t, p, ServerConfig{})

	w := doJSON(t, srv, http.MethodPost, "/chat/stream",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "partial "), body)
	assert.Contains(t, body, "(stream-error)")
}

func TestRAGRoundTrip(t *testing.T) {
	srv := newTestServer(t, scripted("ok"), ServerConfig{})

	// Index a document.
	w := doJSON(t, srv, http.MethodPost, "/rag/index",
		`{"id":"notes","filename":"notes.txt","text":"Cats are small carnivorous mammals. They purr when content."}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report rag.IngestionReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "notes", report.DocumentID)
	assert.Positive(t, report.ChunksIndexed)
	assert.Empty(t, report.Failures)

	// Stats reflect the insert.
	w = doJSON(t, srv, http.MethodGet, "/rag/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, report.ChunksIndexed, stats["entries"])
	assert.Equal(t, testDim, stats["dimension"])

	// Search finds the document.
	chunker, err := chunk.New(4, 1)
	require.NoError(t, err)
	query := chunker.Split("q", "Cats are small carnivorous mammals. They purr when content.")[0].Text
	w = doJSON(t, srv, http.MethodPost, "/rag/search", fmt.Sprintf(`{"query":%q,"k":3}`, query))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var searchResp struct {
		Results []searchHit `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &searchResp))
	require.NotEmpty(t, searchResp.Results)
	assert.Equal(t, "notes", searchResp.Results[0].Source)
	assert.Greater(t, searchResp.Results[0].Score, 0.99)

	// Delete removes everything for the id.
	w = doJSON(t, srv, http.MethodDelete, "/rag/documents/notes", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/rag/stats", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Zero(t, stats["entries"])
}

func TestSearchEmptyIndex(t *testing.T) {
	srv := newTestServer(t, scripted("ok"), ServerConfig{})
	w := doJSON(t, srv, http.MethodPost, "/rag/search", `{"query":"anything","k":5}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())
}

func TestSearchInvalidK(t *testing.T) {
	srv := newTestServer(t, scripted("ok"), ServerConfig{})
	w := doJSON(t, srv, http.MethodPost, "/rag/search", `{"query":"x","k":-1}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_k")
}

func TestChatWithRAGContext(t *testing.T) {
	p := scripted("answer")
	srv := newTestServer(t, p, ServerConfig{})

	w := doJSON(t, srv, http.MethodPost, "/rag/index",
		`{"id":"kb","text":"Go is a statically typed language. Goroutines make concurrency cheap."}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/chat",
		`{"messages":[{"role":"user","content":"Goroutines make concurrency cheap."}],"rag":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Meta.RAG)
	assert.Positive(t, resp.Meta.ContextChunks)

	msgs := p.LastCall()
	require.NotEmpty(t, msgs)
	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Relevant documents:")
	assert.Contains(t, msgs[0].Content, "[kb#")
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, scripted("ok"), ServerConfig{RatePerSec: 0.001, RateBurst: 2})

	for range 2 {
		w := doJSON(t, srv, http.MethodGet, "/rag/stats", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := doJSON(t, srv, http.MethodGet, "/rag/stats", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Health bypasses the limiter.
	w = doJSON(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStrictIngestFailure(t *testing.T) {
	chunker, err := chunk.New(4, 1)
	require.NoError(t, err)
	idx, err := index.New(testDim, log.NewNop())
	require.NoError(t, err)
	embedder := testutil.NewHashEmbedder(testDim)
	embedder.FailOn("sat. The dog ran.", errors.New("rejected"))

	retriever := rag.NewRetriever(embedder, idx, rag.RetrieverConfig{}, log.NewNop())
	srv, err := NewServer(ServerConfig{
		Orchestrator: chat.New(provider.NewRegistryFromProviders(scripted("ok")), retriever,
			chat.Config{TokenCounter: func(s string) int { return len(s) }}, log.NewNop()),
		Ingestor:  rag.NewIngestor(chunker, embedder, idx, rag.IngestorConfig{BatchSize: 1}, log.NewNop()),
		Retriever: retriever,
		Index:     idx,
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodPost, "/rag/index",
		`{"id":"doc","text":"The cat sat. The dog ran.","strict":true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "ingestion_aborted")

	w = doJSON(t, srv, http.MethodGet, "/rag/stats", "")
	var stats map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Zero(t, stats["entries"])
}

func TestServerRequiresComponents(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
