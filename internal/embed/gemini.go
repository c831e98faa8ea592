package embed

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// gemini embeds text through the Gemini API.
//
// gemini-embedding-001 emits 3072 dimensions by default but supports
// truncation via OutputDimensionality (Matryoshka representation), so the
// configured index dimension is passed through on every call.
type gemini struct {
	client *genai.Client
	model  string
	dim    int
}

func newGemini(ctx context.Context, cfg Config) (*gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &gemini{client: client, model: model, dim: cfg.Dimension}, nil
}

func (g *gemini) Name() string   { return "gemini" }
func (g *gemini) Dimension() int { return g.dim }

func (g *gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(g.dim)),
	})
	if err != nil {
		return nil, wrapTransport(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrBackend, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at position %d", ErrBackend, i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}
