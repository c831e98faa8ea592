package testutil

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gqx-labs/gqx/internal/provider"
)

// ScriptedProvider is a provider.Provider that replays pre-recorded
// deltas, optionally ending in an injected error. It records the messages
// of every call so tests can assert on prompt construction.
type ScriptedProvider struct {
	ProviderName string
	CanStream    bool

	// Deltas are replayed in order on both streaming and one-shot calls.
	Deltas []string

	// Final, when set, ends the script with an error instead of a clean
	// completion.
	Final error

	// DelayPerDelta paces the replay, for cancellation tests.
	DelayPerDelta time.Duration

	mu    sync.Mutex
	calls [][]provider.Message
}

var _ provider.Provider = (*ScriptedProvider)(nil)

func (p *ScriptedProvider) Name() string    { return p.ProviderName }
func (p *ScriptedProvider) Streaming() bool { return p.CanStream }

// Calls returns the message history of every Complete/CompleteStream call.
func (p *ScriptedProvider) Calls() [][]provider.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]provider.Message, len(p.calls))
	copy(out, p.calls)
	return out
}

// LastCall returns the messages of the most recent call, or nil.
func (p *ScriptedProvider) LastCall() []provider.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

func (p *ScriptedProvider) record(msgs []provider.Message) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]provider.Message(nil), msgs...))
	p.mu.Unlock()
}

func (p *ScriptedProvider) Complete(ctx context.Context, msgs []provider.Message, _ provider.Options) (string, error) {
	p.record(msgs)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Final != nil {
		return "", p.Final
	}
	return strings.Join(p.Deltas, ""), nil
}

func (p *ScriptedProvider) CompleteStream(ctx context.Context, msgs []provider.Message, _ provider.Options) (*provider.Stream, error) {
	p.record(msgs)
	i := 0
	next := func() (string, error) {
		if p.DelayPerDelta > 0 {
			select {
			case <-time.After(p.DelayPerDelta):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if i >= len(p.Deltas) {
			if p.Final != nil {
				return "", p.Final
			}
			return "", io.EOF
		}
		d := p.Deltas[i]
		i++
		return d, nil
	}
	return provider.NewScriptedStream(ctx, provider.Config{Name: p.ProviderName}, next), nil
}
