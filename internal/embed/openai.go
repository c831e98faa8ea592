package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// openAI embeds text through any OpenAI-compatible embeddings endpoint
// (OpenAI itself, OpenRouter, vLLM, ...).
type openAI struct {
	embedder embeddings.Embedder
	dim      int
}

func newOpenAI(cfg Config) (*openAI, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating openai embedder: %w", err)
	}
	return &openAI{embedder: embedder, dim: cfg.Dimension}, nil
}

func (o *openAI) Name() string   { return "openai" }
func (o *openAI) Dimension() int { return o.dim }

func (o *openAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, wrapTransport(err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrBackend, len(vectors), len(texts))
	}
	return vectors, nil
}
