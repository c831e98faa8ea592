// Package embed converts text into fixed-dimensional vectors.
//
// One Embedder implementation exists per backend; the backend is selected by
// name at configuration time. Batch calls are all-or-nothing: a partial
// backend failure fails the whole call, and callers that need partial
// success must sub-batch.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackend indicates a transport or authentication failure talking
	// to the embedding backend.
	ErrBackend = errors.New("embedding backend failure")

	// ErrTimeout indicates the embedding call exceeded its deadline.
	ErrTimeout = errors.New("embedding timed out")

	// ErrUnknownBackend indicates an unregistered backend name.
	ErrUnknownBackend = errors.New("unknown embedding backend")
)

// Embedder is the capability interface for one embedding backend.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Name identifies the backend ("gemini", "openai", "ollama").
	Name() string

	// Dimension is the fixed output dimension of this backend's vectors.
	Dimension() int

	// Embed returns one vector per input text, preserving order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config selects and parameterizes an embedding backend.
type Config struct {
	Backend   string // "gemini", "openai" (any OpenAI-compatible endpoint) or "ollama"
	Endpoint  string // base URL; empty uses the backend default
	Model     string
	APIKey    string // resolved credential, already read from its reference
	Dimension int
}

// New constructs the Embedder named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension %d must be positive", cfg.Dimension)
	}
	switch strings.ToLower(cfg.Backend) {
	case "gemini":
		return newGemini(ctx, cfg)
	case "openai":
		return newOpenAI(cfg)
	case "ollama":
		return newOllama(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// wrapTransport classifies a backend failure into the package's typed
// errors, keeping the original error in the chain.
func wrapTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrBackend, err)
}
