package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gqx.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Embedding.Backend != BackendGemini || cfg.Embedding.Dimension != 768 {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Chunking.TargetWords != 200 || cfg.Chunking.OverlapWords != 40 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.Retrieval.DefaultK != 3 {
		t.Errorf("default_k = %d", cfg.Retrieval.DefaultK)
	}
	if cfg.Timeouts.ProviderConnect != 10*time.Second || cfg.Timeouts.Embed != 30*time.Second {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "gemini" || !cfg.Providers[0].Streaming {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Chat.DefaultProvider != "gemini" {
		t.Errorf("default provider = %q", cfg.Chat.DefaultProvider)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log_level: debug
server:
  addr: ":9090"
embedding:
  backend: ollama
  endpoint: http://localhost:11434
  model: nomic-embed-text
  dimension: 512
chunking:
  target_words: 120
  overlap_words: 20
timeouts:
  embed: 5s
  provider_connect: 1s
chat:
  default_provider: ollama
providers:
  - name: ollama
    model: llama3
    streaming: true
  - name: openai
    endpoint: http://localhost:8000/v1
    model: qwen2
    api_key_env: LOCAL_OPENAI_KEY
    streaming: false
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.LogLevel != "debug" || cfg.Server.Addr != ":9090" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Embedding.Backend != BackendOllama || cfg.Embedding.Dimension != 512 {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Timeouts.ProviderConnect != time.Second {
		t.Errorf("provider_connect = %v", cfg.Timeouts.ProviderConnect)
	}
	if len(cfg.Providers) != 2 || cfg.Providers[1].APIKeyEnv != "LOCAL_OPENAI_KEY" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GQX_LOG_LEVEL", "warn")
	cfg, err := Load(writeConfig(t, "log_level: info\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q, want env override", cfg.LogLevel)
	}
}

func TestAPIKeyResolution(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-from-env")
	p := Provider{Name: "openai", APIKeyEnv: "TEST_PROVIDER_KEY"}
	if p.APIKey() != "sk-from-env" {
		t.Errorf("APIKey() = %q", p.APIKey())
	}
	if (Provider{}).APIKey() != "" {
		t.Error("empty reference resolved to a value")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{
			name: "overlap not below target",
			yaml: "chunking: {target_words: 10, overlap_words: 10}\n",
			want: ErrInvalidChunking,
		},
		{
			name: "zero dimension",
			yaml: "embedding: {backend: gemini, api_key_env: K, dimension: 0}\n",
			want: ErrInvalidEmbedding,
		},
		{
			name: "unknown embedding backend",
			yaml: "embedding: {backend: word2vec, dimension: 300}\n",
			want: ErrInvalidEmbedding,
		},
		{
			name: "bad default k",
			yaml: "retrieval: {default_k: 0}\n",
			want: ErrInvalidRetrieval,
		},
		{
			name: "empty providers",
			yaml: "providers: []\n",
			want: ErrNoProviders,
		},
		{
			name: "unknown provider",
			yaml: "providers: [{name: mainframe}]\n",
			want: ErrInvalidProviderEntry,
		},
		{
			name: "provider missing credential reference",
			yaml: "providers: [{name: openai, model: gpt-4o}]\nchat: {default_provider: openai}\n",
			want: ErrInvalidProviderEntry,
		},
		{
			name: "default provider not configured",
			yaml: "providers: [{name: ollama}]\nchat: {default_provider: gemini}\n",
			want: ErrInvalidProviderEntry,
		},
		{
			name: "bad rate limit",
			yaml: "server: {addr: ':8080', rate_per_sec: 0, rate_burst: 5}\n",
			want: ErrInvalidServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if !errors.Is(err, tt.want) {
				t.Errorf("Load() error = %v, want %v", err, tt.want)
			}
		})
	}
}
