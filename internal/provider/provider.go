// Package provider gives the engine one streaming-completion capability
// over heterogeneous LLM backends.
//
// Each backend implements Provider; a Registry keyed by lowercase name
// selects one at configuration time. Streaming calls go through Stream,
// an explicit state machine (Idle → Connecting → Streaming → terminal)
// that owns connect timeouts, bounded pre-first-byte retries, inactivity
// timeouts and cancellation.
package provider

import (
	"context"
	"errors"
	"time"
)

// Message roles, matching the chat wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrUnknownProvider indicates a provider name with no registered
	// implementation.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrConnect indicates a failure before the first byte arrived.
	// Connect failures are the only retryable provider failures.
	ErrConnect = errors.New("provider connect failure")

	// ErrStreamPartial indicates a failure after streaming began. The
	// stream's Partial() holds whatever text was already delivered; the
	// call is never retried because redelivery would duplicate output.
	ErrStreamPartial = errors.New("provider stream failed mid-stream")

	// ErrCancelled indicates the caller withdrew interest.
	ErrCancelled = errors.New("stream cancelled")
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single completion call.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Provider is the uniform completion capability over one LLM backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name is the registry key for this backend, lowercase.
	Name() string

	// Streaming reports whether the backend can stream deltas. When
	// false, callers fall back to Complete.
	Streaming() bool

	// Complete returns the full completion text in one shot.
	Complete(ctx context.Context, msgs []Message, opts Options) (string, error)

	// CompleteStream starts a streaming completion. The returned Stream
	// is already connecting; deltas arrive on Stream.Deltas in delivery
	// order until a terminal state is reached.
	CompleteStream(ctx context.Context, msgs []Message, opts Options) (*Stream, error)
}

// Config describes one configured provider backend.
type Config struct {
	// Name selects the adapter: "gemini", "ollama" or "openai"
	// (any OpenAI-compatible endpoint). Lookup is case-insensitive.
	Name string

	// Endpoint is the backend base URL; empty uses the adapter default.
	Endpoint string

	// APIKey is the resolved credential, already read from its
	// credential reference. Never logged.
	APIKey string

	// Model is the backend model identifier.
	Model string

	// Streaming is the capability flag; false forces the non-streaming
	// fallback in callers.
	Streaming bool

	// ConnectTimeout bounds the wait for the first byte. Default 10s.
	ConnectTimeout time.Duration

	// IdleTimeout bounds the gap between consecutive deltas once
	// streaming. Default 60s.
	IdleTimeout time.Duration

	// ConnectRetries is the number of retries after a transient connect
	// failure. Default 2.
	ConnectRetries int
}

func (cfg Config) withDefaults() Config {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.ConnectRetries < 0 {
		cfg.ConnectRetries = 0
	} else if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = 2
	}
	return cfg
}
