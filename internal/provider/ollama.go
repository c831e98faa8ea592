package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gqx-labs/gqx/internal/log"
)

const defaultOllamaEndpoint = "http://localhost:11434"

// ollama talks to a local Ollama server over its native /api/chat
// endpoint. Streaming responses are NDJSON, one message object per line,
// terminated by an object with done=true.
type ollama struct {
	cfg    Config
	client *http.Client
	logger log.Logger
}

func newOllama(cfg Config, logger log.Logger) *ollama {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultOllamaEndpoint
	}
	return &ollama{
		cfg: cfg,
		// No client-level timeout: per-call contexts own the deadlines
		// and a whole-request timeout would kill long streams.
		client: &http.Client{},
		logger: logger,
	}
}

func (o *ollama) Name() string    { return "ollama" }
func (o *ollama) Streaming() bool { return o.cfg.Streaming }

type ollamaChatRequest struct {
	Model    string             `json:"model"`
	Messages []Message          `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  map[string]float64 `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (o *ollama) request(ctx context.Context, msgs []Message, opts Options, stream bool) (*http.Request, error) {
	body := ollamaChatRequest{
		Model:    o.cfg.Model,
		Messages: msgs,
		Stream:   stream,
	}
	if opts.Temperature > 0 {
		body.Options = map[string]float64{"temperature": float64(opts.Temperature)}
	}
	if opts.MaxTokens > 0 {
		if body.Options == nil {
			body.Options = map[string]float64{}
		}
		body.Options["num_predict"] = float64(opts.MaxTokens)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (o *ollama) Complete(ctx context.Context, msgs []Message, opts Options) (string, error) {
	req, err := o.request(ctx, msgs, opts, false)
	if err != nil {
		return "", err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrConnect, resp.StatusCode)
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	return out.Message.Content, nil
}

func (o *ollama) CompleteStream(ctx context.Context, msgs []Message, opts Options) (*Stream, error) {
	connect := func(ctx context.Context) (*connection, error) {
		req, err := o.request(ctx, msgs, opts, true)
		if err != nil {
			return nil, err
		}
		resp, err := o.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return &connection{
			recv:  ollamaRecv(resp.Body),
			close: resp.Body.Close,
		}, nil
	}
	return newStream(ctx, o.cfg, connect), nil
}

// ollamaRecv decodes one NDJSON line per call.
func ollamaRecv(body io.Reader) recvFunc {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	done := false
	return func() (string, error) {
		if done {
			return "", io.EOF
		}
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var msg ollamaChatResponse
			if err := json.Unmarshal(line, &msg); err != nil {
				return "", fmt.Errorf("decoding stream line: %w", err)
			}
			if msg.Done {
				// The final object can still carry a trailing delta.
				done = true
				if msg.Message.Content == "" {
					return "", io.EOF
				}
				return msg.Message.Content, nil
			}
			return msg.Message.Content, nil
		}
		if err := sc.Err(); err != nil {
			return "", err
		}
		// Stream ended without a done marker: the backend went away.
		return "", fmt.Errorf("stream truncated before completion: %w", io.ErrUnexpectedEOF)
	}
}
