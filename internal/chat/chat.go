// Package chat composes retrieval context with conversation history and
// relays a provider's streaming response to the caller.
package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/gqx-labs/gqx/internal/index"
	"github.com/gqx-labs/gqx/internal/log"
	"github.com/gqx-labs/gqx/internal/provider"
)

// Retriever is the retrieval capability the orchestrator consumes.
// *rag.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, filter []string) ([]index.Result, error)
	DefaultK() int
}

// Request is one chat turn: the prior conversation plus a new user message.
// History is caller-owned and never mutated.
type Request struct {
	History  []provider.Message
	Message  string
	Provider string // empty selects the default provider
	RAG      bool
}

// Event is one item on a response stream. Non-terminal events carry a
// Delta; exactly one terminal event follows, either Done or Err, so
// callers can tell a finished stream from one that failed mid-way.
type Event struct {
	Delta string
	Done  bool
	Err   error
}

// Turn is one in-flight assistant response. Events closes after the
// terminal event.
type Turn struct {
	Events        <-chan Event
	Provider      string
	ContextChunks int
}

// Result is a fully drained response, for non-streaming callers.
type Result struct {
	Reply         string `json:"reply"`
	Provider      string `json:"provider"`
	RAG           bool   `json:"rag"`
	ContextChunks int    `json:"context_chunks"`
}

// Config parameterizes an Orchestrator.
type Config struct {
	// RetrievalK overrides the retriever's default k when positive.
	RetrievalK int

	// HistoryTokenBudget caps the tokens of history sent to the provider;
	// oldest messages are dropped first. Default 4096.
	HistoryTokenBudget int

	// Encoding is the tiktoken encoding used for the budget.
	// Default "cl100k_base".
	Encoding string

	// Options are passed through to every provider call.
	Options provider.Options

	// TokenCounter overrides the tiktoken-based counter, for tests.
	TokenCounter func(string) int
}

func (cfg Config) withDefaults() Config {
	if cfg.HistoryTokenBudget <= 0 {
		cfg.HistoryTokenBudget = 4096
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "cl100k_base"
	}
	return cfg
}

// Orchestrator owns one chat turn end to end: retrieval, prompt assembly,
// provider invocation and delta relay, including cancellation.
type Orchestrator struct {
	registry  *provider.Registry
	retriever Retriever
	cfg       Config
	counter   *tokenCounter
	logger    log.Logger
}

func New(registry *provider.Registry, retriever Retriever, cfg Config, logger log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		registry:  registry,
		retriever: retriever,
		cfg:       cfg,
		counter:   newTokenCounter(cfg.Encoding, cfg.TokenCounter, logger),
		logger:    logger,
	}
}

// Respond drives a turn to completion and returns the full reply.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (*Result, error) {
	turn, err := o.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var reply strings.Builder
	for ev := range turn.Events {
		if ev.Err != nil {
			return nil, ev.Err
		}
		reply.WriteString(ev.Delta)
	}
	return &Result{
		Reply:         reply.String(),
		Provider:      turn.Provider,
		RAG:           req.RAG,
		ContextChunks: turn.ContextChunks,
	}, nil
}

// Stream starts a turn and returns its event stream. Provider lookup
// fails synchronously with ErrUnknownProvider; retrieval failures are
// non-fatal and the turn proceeds without context.
func (o *Orchestrator) Stream(ctx context.Context, req Request) (*Turn, error) {
	p, err := o.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	msgs, contextChunks := o.buildMessages(ctx, req)
	events := make(chan Event, 1)
	turn := &Turn{
		Events:        events,
		Provider:      p.Name(),
		ContextChunks: contextChunks,
	}
	go o.run(ctx, p, msgs, events)
	return turn, nil
}

// buildMessages assembles the provider prompt: retrieved context as a
// leading system message, then the budget-trimmed history ending in the
// new user message.
func (o *Orchestrator) buildMessages(ctx context.Context, req Request) ([]provider.Message, int) {
	working := append(slices.Clone(req.History), provider.Message{
		Role:    provider.RoleUser,
		Content: req.Message,
	})
	history := o.trimHistory(working)

	if !req.RAG {
		return history, 0
	}
	k := o.cfg.RetrievalK
	if k <= 0 {
		k = o.retriever.DefaultK()
	}
	results, err := o.retriever.Retrieve(ctx, req.Message, k, nil)
	if err != nil {
		o.logger.Warn("retrieval failed, answering without context", "error", err)
		return history, 0
	}
	if len(results) == 0 {
		return history, 0
	}

	msgs := make([]provider.Message, 0, len(history)+1)
	msgs = append(msgs, provider.Message{
		Role:    provider.RoleSystem,
		Content: contextBlock(results),
	})
	return append(msgs, history...), len(results)
}

// contextBlock renders retrieved chunks in ranked order, each tagged with
// its source document and chunk sequence.
func contextBlock(results []index.Result) string {
	var b strings.Builder
	b.WriteString("Relevant documents:")
	for _, r := range results {
		fmt.Fprintf(&b, "\n[%s#%d] %s", r.Chunk.DocumentID, r.Chunk.Seq, r.Chunk.Text)
	}
	return b.String()
}

// trimHistory drops the oldest messages until the remainder fits the
// token budget. The newest message always survives, and a leading system
// message (a persona set by the caller) is re-attached if trimming cut it.
func (o *Orchestrator) trimHistory(msgs []provider.Message) []provider.Message {
	total := 0
	cut := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		total += o.counter.count(msgs[i].Content) + messageOverheadTokens
		if total > o.cfg.HistoryTokenBudget && i < len(msgs)-1 {
			cut = i + 1
			break
		}
	}
	if cut == 0 {
		return msgs
	}
	o.logger.Debug("history trimmed", "dropped", cut, "kept", len(msgs)-cut)
	if msgs[0].Role == provider.RoleSystem {
		return append([]provider.Message{msgs[0]}, msgs[cut:]...)
	}
	return msgs[cut:]
}

func (o *Orchestrator) run(ctx context.Context, p provider.Provider, msgs []provider.Message, events chan<- Event) {
	defer close(events)

	if !p.Streaming() {
		// Non-streaming backend: preserve the streaming contract with a
		// single delta carrying the whole reply.
		text, err := p.Complete(ctx, msgs, o.cfg.Options)
		if err != nil {
			emitFinal(ctx, events, Event{Err: err})
			return
		}
		if text != "" && !emit(ctx, events, Event{Delta: text}) {
			return
		}
		emitFinal(ctx, events, Event{Done: true})
		return
	}

	stream, err := p.CompleteStream(ctx, msgs, o.cfg.Options)
	if err != nil {
		emitFinal(ctx, events, Event{Err: err})
		return
	}
	for delta := range stream.Deltas() {
		if !emit(ctx, events, Event{Delta: delta}) {
			stream.Cancel()
			for range stream.Deltas() {
			}
			emitFinal(ctx, events, Event{Err: provider.ErrCancelled})
			return
		}
	}
	if err := stream.Err(); err != nil {
		emitFinal(ctx, events, Event{Err: err})
		return
	}
	emitFinal(ctx, events, Event{Done: true})
}

// emit delivers an event unless the caller has gone away.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitFinal delivers a terminal event, falling back to a non-blocking
// send after cancellation so a consumer still draining the channel gets
// to observe the terminal state.
func emitFinal(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
		select {
		case events <- ev:
		default:
		}
	}
}
