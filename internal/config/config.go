// Package config loads and validates engine configuration.
//
// Sources, highest priority first:
//  1. Environment variables (GQX_* overrides, plus credential env vars)
//  2. Config file (gqx.yaml in the working directory or an explicit path)
//  3. Defaults
//
// Secrets are never stored inline: provider and embedding entries carry
// the NAME of an environment variable (api_key_env), and the value is
// read from the environment at use time.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidChunking indicates chunk sizing that the chunker would reject.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidEmbedding indicates a broken embedding section.
	ErrInvalidEmbedding = errors.New("invalid embedding configuration")

	// ErrInvalidRetrieval indicates a broken retrieval section.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")

	// ErrNoProviders indicates an empty provider list.
	ErrNoProviders = errors.New("no providers configured")

	// ErrInvalidProviderEntry indicates a broken provider entry.
	ErrInvalidProviderEntry = errors.New("invalid provider configuration")

	// ErrInvalidServer indicates a broken server section.
	ErrInvalidServer = errors.New("invalid server configuration")
)

// Embedding backend identifiers.
const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Provider is one configured LLM backend. APIKeyEnv is a credential
// reference, not the secret itself.
type Provider struct {
	Name      string `mapstructure:"name"`
	Endpoint  string `mapstructure:"endpoint"`
	Model     string `mapstructure:"model"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	Streaming bool   `mapstructure:"streaming"`
}

// APIKey resolves the credential reference against the environment.
func (p Provider) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Embedding selects and parameterizes the embedding backend.
type Embedding struct {
	Backend   string `mapstructure:"backend"`
	Endpoint  string `mapstructure:"endpoint"`
	Model     string `mapstructure:"model"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	Dimension int    `mapstructure:"dimension"`
}

// APIKey resolves the credential reference against the environment.
func (e Embedding) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// Chunking sizes the document chunker, in words.
type Chunking struct {
	TargetWords  int `mapstructure:"target_words"`
	OverlapWords int `mapstructure:"overlap_words"`
}

// Retrieval parameterizes query-time search.
type Retrieval struct {
	DefaultK int `mapstructure:"default_k"`
}

// Timeouts are the per-stage deadlines.
type Timeouts struct {
	Embed           time.Duration `mapstructure:"embed"`
	ProviderConnect time.Duration `mapstructure:"provider_connect"`
	ProviderIdle    time.Duration `mapstructure:"provider_idle"`
}

// Server configures the HTTP boundary.
type Server struct {
	Addr       string  `mapstructure:"addr"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	RateBurst  int     `mapstructure:"rate_burst"`
}

// Chat tunes the orchestrator.
type Chat struct {
	DefaultProvider    string  `mapstructure:"default_provider"`
	HistoryTokenBudget int     `mapstructure:"history_token_budget"`
	Temperature        float32 `mapstructure:"temperature"`
	MaxTokens          int     `mapstructure:"max_tokens"`
}

// Config is the full engine configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	Server    Server     `mapstructure:"server"`
	Embedding Embedding  `mapstructure:"embedding"`
	Chunking  Chunking   `mapstructure:"chunking"`
	Retrieval Retrieval  `mapstructure:"retrieval"`
	Timeouts  Timeouts   `mapstructure:"timeouts"`
	Chat      Chat       `mapstructure:"chat"`
	Providers []Provider `mapstructure:"providers"`
}

// Load reads configuration from the given file path (empty path searches
// for gqx.yaml in the working directory), applies GQX_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GQX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gqx")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine, defaults and env apply.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_per_sec", 5.0)
	v.SetDefault("server.rate_burst", 10)

	v.SetDefault("embedding.backend", BackendGemini)
	v.SetDefault("embedding.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("embedding.dimension", 768)

	v.SetDefault("chunking.target_words", 200)
	v.SetDefault("chunking.overlap_words", 40)

	v.SetDefault("retrieval.default_k", 3)

	v.SetDefault("timeouts.embed", "30s")
	v.SetDefault("timeouts.provider_connect", "10s")
	v.SetDefault("timeouts.provider_idle", "60s")

	v.SetDefault("chat.default_provider", "gemini")
	v.SetDefault("chat.history_token_budget", 4096)
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.max_tokens", 2048)

	v.SetDefault("providers", []map[string]any{{
		"name":        "gemini",
		"model":       "gemini-2.0-flash",
		"api_key_env": "GEMINI_API_KEY",
		"streaming":   true,
	}})
}

// Validate checks every section and returns sentinel errors usable with
// errors.Is.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: addr cannot be empty", ErrInvalidServer)
	}
	if c.Server.RatePerSec <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("%w: rate_per_sec and rate_burst must be positive, got %.1f/%d",
			ErrInvalidServer, c.Server.RatePerSec, c.Server.RateBurst)
	}

	switch c.Embedding.Backend {
	case BackendGemini, BackendOpenAI, BackendOllama:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidEmbedding, c.Embedding.Backend)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidEmbedding, c.Embedding.Dimension)
	}
	if needsKey(c.Embedding.Backend) && c.Embedding.APIKeyEnv == "" {
		return fmt.Errorf("%w: backend %q needs api_key_env", ErrInvalidEmbedding, c.Embedding.Backend)
	}

	if c.Chunking.TargetWords <= 0 {
		return fmt.Errorf("%w: target_words must be positive, got %d", ErrInvalidChunking, c.Chunking.TargetWords)
	}
	if c.Chunking.OverlapWords < 0 || c.Chunking.OverlapWords >= c.Chunking.TargetWords {
		return fmt.Errorf("%w: overlap_words must be in [0, target_words), got %d/%d",
			ErrInvalidChunking, c.Chunking.OverlapWords, c.Chunking.TargetWords)
	}

	if c.Retrieval.DefaultK <= 0 {
		return fmt.Errorf("%w: default_k must be positive, got %d", ErrInvalidRetrieval, c.Retrieval.DefaultK)
	}

	if len(c.Providers) == 0 {
		return ErrNoProviders
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		name := strings.ToLower(p.Name)
		switch name {
		case "gemini", "ollama", "openai":
		default:
			return fmt.Errorf("%w: unknown provider %q", ErrInvalidProviderEntry, p.Name)
		}
		if seen[name] {
			return fmt.Errorf("%w: provider %q configured twice", ErrInvalidProviderEntry, name)
		}
		seen[name] = true
		if needsKey(name) && p.APIKeyEnv == "" {
			return fmt.Errorf("%w: provider %q needs api_key_env", ErrInvalidProviderEntry, name)
		}
	}
	if def := strings.ToLower(c.Chat.DefaultProvider); def != "" && !seen[def] {
		return fmt.Errorf("%w: default provider %q is not in the provider list", ErrInvalidProviderEntry, def)
	}
	return nil
}

// needsKey reports whether a backend requires a credential reference.
// Ollama is local and unauthenticated.
func needsKey(backend string) bool {
	return backend != BackendOllama
}
