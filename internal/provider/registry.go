package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gqx-labs/gqx/internal/log"
)

// Registry holds the configured providers keyed by lowercase name.
// It is built once at startup and read-only afterwards.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry constructs adapters for every config entry. The first
// entry becomes the fallback used when a request names no provider.
func NewRegistry(ctx context.Context, configs []Config, logger log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrUnknownProvider)
	}

	reg := &Registry{providers: make(map[string]Provider, len(configs))}
	for _, cfg := range configs {
		p, err := newProvider(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", cfg.Name, err)
		}
		name := strings.ToLower(cfg.Name)
		if _, dup := reg.providers[name]; dup {
			return nil, fmt.Errorf("provider %q configured twice", name)
		}
		reg.providers[name] = p
		if reg.fallback == "" {
			reg.fallback = name
		}
		logger.Info("provider registered",
			"provider", name,
			"model", cfg.Model,
			"streaming", cfg.Streaming,
		)
	}
	return reg, nil
}

// NewRegistryFromProviders wires pre-built providers, mainly for tests.
func NewRegistryFromProviders(providers ...Provider) *Registry {
	reg := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		name := strings.ToLower(p.Name())
		reg.providers[name] = p
		if reg.fallback == "" {
			reg.fallback = name
		}
	}
	return reg
}

func newProvider(ctx context.Context, cfg Config, logger log.Logger) (Provider, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(cfg.Name) {
	case "gemini":
		return newGemini(ctx, cfg, logger)
	case "ollama":
		return newOllama(cfg, logger), nil
	case "openai":
		return newOpenAI(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}

// Get resolves a provider by name, case-insensitively. An empty name
// selects the fallback provider.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.fallback
	}
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Default returns the fallback provider name.
func (r *Registry) Default() string { return r.fallback }

// Names lists the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
