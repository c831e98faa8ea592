package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gqx-labs/gqx/internal/chat"
	"github.com/gqx-labs/gqx/internal/log"
	"github.com/gqx-labs/gqx/internal/provider"
)

// maxChatBodyBytes caps chat request bodies.
const maxChatBodyBytes = 1 << 20

type chatHandler struct {
	orchestrator *chat.Orchestrator
	logger       log.Logger
}

type chatRequest struct {
	Messages []provider.Message `json:"messages"`
	Provider string             `json:"provider"`
	RAG      bool               `json:"rag"`
}

type chatResponse struct {
	Reply string   `json:"reply"`
	Meta  chatMeta `json:"meta"`
}

type chatMeta struct {
	Provider      string `json:"provider"`
	RAG           bool   `json:"rag"`
	ContextChunks int    `json:"context_chunks"`
}

// toTurn splits the wire message list into history plus the new user
// message the orchestrator expects. The last message must be from the
// user.
func (req chatRequest) toTurn() (chat.Request, error) {
	if len(req.Messages) == 0 {
		return chat.Request{}, errors.New("messages cannot be empty")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != provider.RoleUser {
		return chat.Request{}, fmt.Errorf("last message role must be %q, got %q", provider.RoleUser, last.Role)
	}
	return chat.Request{
		History:  req.Messages[:len(req.Messages)-1],
		Message:  last.Content,
		Provider: req.Provider,
		RAG:      req.RAG,
	}, nil
}

func (h *chatHandler) decode(w http.ResponseWriter, r *http.Request) (chat.Request, bool) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", h.logger)
		return chat.Request{}, false
	}
	turn, err := req.toTurn()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_messages", err.Error(), h.logger)
		return chat.Request{}, false
	}
	return turn, true
}

// send handles POST /chat: the turn is driven to completion and the full
// reply returned in one JSON document.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	turn, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.orchestrator.Respond(r.Context(), turn)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Reply: res.Reply,
		Meta: chatMeta{
			Provider:      res.Provider,
			RAG:           res.RAG,
			ContextChunks: res.ContextChunks,
		},
	}, h.logger)
}

// stream handles POST /chat/stream: raw text deltas written as they
// arrive, terminated by connection close. A mid-stream failure appends a
// "(stream-error)" trailer so clients can tell a failed stream from a
// finished one.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	turn, ok := h.decode(w, r)
	if !ok {
		return
	}

	t, err := h.orchestrator.Stream(r.Context(), turn)
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Provider", t.Provider)
	w.WriteHeader(http.StatusOK)

	for ev := range t.Events {
		if ev.Err != nil {
			fmt.Fprintf(w, "\n(stream-error) %s", publicError(ev.Err))
			h.logger.Warn("chat stream failed", "provider", t.Provider, "error", ev.Err)
			return
		}
		if ev.Delta == "" {
			continue
		}
		if _, err := fmt.Fprint(w, ev.Delta); err != nil {
			// Client went away; the orchestrator sees the context cancel.
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func (h *chatHandler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown_provider", err.Error(), h.logger)
	case errors.Is(err, provider.ErrConnect):
		writeError(w, http.StatusBadGateway, "provider_unavailable", publicError(err), h.logger)
	case errors.Is(err, provider.ErrStreamPartial):
		writeError(w, http.StatusBadGateway, "provider_stream_failed", publicError(err), h.logger)
	case errors.Is(err, provider.ErrCancelled):
		// 499 in nginx convention; the client is gone either way.
		writeError(w, 499, "cancelled", "request cancelled", h.logger)
	default:
		h.logger.Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "chat_failed", "chat failed", h.logger)
	}
}

// publicError keeps provider failure detail out of client responses while
// preserving the sentinel classification.
func publicError(err error) string {
	switch {
	case errors.Is(err, provider.ErrConnect):
		return "could not reach the model backend"
	case errors.Is(err, provider.ErrStreamPartial):
		return "the model backend failed mid-response"
	case errors.Is(err, provider.ErrCancelled):
		return "request cancelled"
	default:
		return "chat failed"
	}
}
