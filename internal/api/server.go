// Package api exposes the engine over HTTP: chat (buffered and
// streaming), document ingestion, search and index management.
package api

import (
	"errors"
	"net/http"

	"github.com/gqx-labs/gqx/internal/chat"
	"github.com/gqx-labs/gqx/internal/index"
	"github.com/gqx-labs/gqx/internal/log"
	"github.com/gqx-labs/gqx/internal/rag"
)

// ServerConfig contains the wired engine components and HTTP settings.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator *chat.Orchestrator // required
	Ingestor     *rag.Ingestor      // required
	Retriever    *rag.Retriever     // required
	Index        *index.Index       // required

	// RatePerSec and RateBurst parameterize the per-client limiter.
	// Zero values disable rate limiting.
	RatePerSec float64
	RateBurst  int
}

// Server is the engine's HTTP surface.
type Server struct {
	handler http.Handler
}

// NewServer wires all routes and middleware.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil || cfg.Ingestor == nil || cfg.Retriever == nil || cfg.Index == nil {
		return nil, errors.New("orchestrator, ingestor, retriever and index are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{orchestrator: cfg.Orchestrator, logger: logger}
	rh := &ragHandler{
		ingestor:  cfg.Ingestor,
		retriever: cfg.Retriever,
		index:     cfg.Index,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", ch.send)
	mux.HandleFunc("POST /chat/stream", ch.stream)
	mux.HandleFunc("POST /rag/index", rh.ingest)
	mux.HandleFunc("POST /rag/search", rh.search)
	mux.HandleFunc("DELETE /rag/documents/{id}", rh.deleteDocument)
	mux.HandleFunc("GET /rag/stats", rh.stats)

	// Middleware stack, outermost first:
	//   Recovery → Logging → RateLimit → Routes
	var handler http.Handler = mux
	if cfg.RatePerSec > 0 && cfg.RateBurst > 0 {
		rl := newRateLimiter(cfg.RatePerSec, cfg.RateBurst)
		handler = rateLimitMiddleware(rl, logger)(handler)
	}
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probe outside the middleware stack so load balancers never
	// hit the rate limiter.
	top := http.NewServeMux()
	top.HandleFunc("GET /health", health)
	top.Handle("/", handler)

	return &Server{handler: top}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.handler }

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}
