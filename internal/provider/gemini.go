package provider

import (
	"context"
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"

	"github.com/gqx-labs/gqx/internal/log"
)

const defaultGeminiModel = "gemini-2.0-flash"

// gemini adapts the Gemini API. The SDK exposes streaming as an iterator
// of response fragments; it is pulled on demand so the state machine keeps
// control over pacing and cancellation.
type gemini struct {
	cfg    Config
	client *genai.Client
	logger log.Logger
}

func newGemini(ctx context.Context, cfg Config, logger log.Logger) (*gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	return &gemini{cfg: cfg, client: client, logger: logger}, nil
}

func (g *gemini) Name() string    { return "gemini" }
func (g *gemini) Streaming() bool { return g.cfg.Streaming }

// contents splits the conversation into Gemini's shape: system messages
// become the system instruction, the rest alternate user/model turns.
func (g *gemini) contents(msgs []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	var contents []*genai.Content
	var system string
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return contents, config
}

func (g *gemini) config(base *genai.GenerateContentConfig, opts Options) *genai.GenerateContentConfig {
	if opts.Temperature > 0 {
		base.Temperature = genai.Ptr(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		base.MaxOutputTokens = int32(opts.MaxTokens)
	}
	return base
}

func (g *gemini) Complete(ctx context.Context, msgs []Message, opts Options) (string, error) {
	contents, config := g.contents(msgs)
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, g.config(config, opts))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return resp.Text(), nil
}

func (g *gemini) CompleteStream(ctx context.Context, msgs []Message, opts Options) (*Stream, error) {
	contents, config := g.contents(msgs)
	connect := func(ctx context.Context) (*connection, error) {
		seq := g.client.Models.GenerateContentStream(ctx, g.cfg.Model, contents, g.config(config, opts))
		next, stop := iter.Pull2(seq)

		// Pull the first fragment eagerly so connect-phase failures (bad
		// key, unknown model, unreachable API) surface here and stay
		// retryable.
		first, firstErr, ok := next()
		if !ok {
			stop()
			return nil, fmt.Errorf("stream produced no response")
		}
		if firstErr != nil {
			stop()
			return nil, firstErr
		}

		pending := first
		recv := func() (string, error) {
			if pending != nil {
				resp := pending
				pending = nil
				return resp.Text(), nil
			}
			resp, err, ok := next()
			if !ok {
				return "", io.EOF
			}
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		}
		return &connection{
			recv:  recv,
			close: func() error { stop(); return nil },
		}, nil
	}
	return newStream(ctx, g.cfg, connect), nil
}
