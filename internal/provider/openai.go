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

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// openAI speaks the OpenAI chat-completions protocol, which most hosted
// and self-hosted backends expose. Streaming responses are server-sent
// events with JSON payloads, terminated by a "[DONE]" sentinel.
type openAI struct {
	cfg    Config
	client *http.Client
	logger log.Logger
}

func newOpenAI(cfg Config, logger log.Logger) *openAI {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultOpenAIEndpoint
	}
	return &openAI{cfg: cfg, client: &http.Client{}, logger: logger}
}

func (o *openAI) Name() string    { return "openai" }
func (o *openAI) Streaming() bool { return o.cfg.Streaming }

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (o *openAI) request(ctx context.Context, msgs []Message, opts Options, stream bool) (*http.Request, error) {
	payload, err := json.Marshal(openAIChatRequest{
		Model:       o.cfg.Model,
		Messages:    msgs,
		Stream:      stream,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	return req, nil
}

func (o *openAI) Complete(ctx context.Context, msgs []Message, opts Options) (string, error) {
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

	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat response carried no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (o *openAI) CompleteStream(ctx context.Context, msgs []Message, opts Options) (*Stream, error) {
	connect := func(ctx context.Context) (*connection, error) {
		req, err := o.request(ctx, msgs, opts, true)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := o.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return &connection{
			recv:  sseRecv(resp.Body),
			close: resp.Body.Close,
		}, nil
	}
	return newStream(ctx, o.cfg, connect), nil
}

// sseRecv decodes one server-sent event per call, skipping comments and
// non-data fields. "[DONE]" maps to io.EOF.
func sseRecv(body io.Reader) recvFunc {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return func() (string, error) {
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimSpace(data)
			if bytes.Equal(data, []byte("[DONE]")) {
				return "", io.EOF
			}
			var event openAIChatResponse
			if err := json.Unmarshal(data, &event); err != nil {
				return "", fmt.Errorf("decoding stream event: %w", err)
			}
			if len(event.Choices) == 0 {
				continue
			}
			return event.Choices[0].Delta.Content, nil
		}
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("stream truncated before completion: %w", io.ErrUnexpectedEOF)
	}
}
