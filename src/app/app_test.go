package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/config"
	"github.com/elee1766/parley/src/provider/echo"
)

func offlineConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Offline = true
	return cfg
}

func TestNewOffline(t *testing.T) {
	a, err := New(context.Background(), offlineConfig(), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"echo"}, a.Registry.Names())
	assert.Equal(t, "echo", a.Session.Backend())

	reply, err := a.Session.Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply.Content)
	assert.NoError(t, reply.Err)
}

func TestBuildRegistryCredentialGating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[],"models":[]}`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.HuggingFace.Enabled = false
	cfg.Providers.Ollama.Enabled = false
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.OpenAI.BaseURL = srv.URL
	cfg.Providers.Anthropic.APIKey = "ant-test"
	cfg.Providers.Anthropic.BaseURL = srv.URL

	reg, err := BuildRegistry(context.Background(), cfg, Options{HTTPClient: srv.Client()})
	require.NoError(t, err)
	defer reg.Close()

	names := reg.Names()
	assert.Contains(t, names, "openai-gpt-4o-mini")
	assert.Contains(t, names, "anthropic-claude-3-5-haiku-latest")
	assert.Len(t, names, 2)
	assert.False(t, reg.Has("gemini-gemini-2.0-flash"))
}

func TestBuildRegistryOpenRouter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.HuggingFace.Enabled = false
	cfg.Providers.Ollama.Enabled = false
	cfg.Providers.OpenRouter.APIKey = "or-test"
	cfg.Providers.OpenRouter.BaseURL = "http://127.0.0.1:1"
	cfg.Providers.OpenRouter.Model = "meta-llama/llama-3-8b"

	reg, err := BuildRegistry(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer reg.Close()

	entry, err := reg.Entry("openrouter-meta-llama/llama-3-8b")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", entry.Descriptor.Provider)
}

func TestBuildRegistryLocalNeedsModelPath(t *testing.T) {
	cfg := offlineConfig()
	cfg.Offline = false
	cfg.Providers.HuggingFace.Enabled = false
	cfg.Providers.Ollama.Enabled = false
	cfg.Providers.Local.Enabled = true

	_, err := BuildRegistry(context.Background(), cfg, Options{})
	assert.ErrorIs(t, err, aisdk.ErrInvalidRequest)
}

func TestBuildRegistryLocal(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/models/tiny.gguf", []byte("weights"), 0o644))

	cfg := config.DefaultConfig()
	cfg.Providers.HuggingFace.Enabled = false
	cfg.Providers.Ollama.Enabled = false
	cfg.Providers.Local.Enabled = true
	cfg.Providers.Local.ModelPath = "/models/tiny.gguf"
	cfg.Providers.Local.Binary = "parley-test-missing-binary"

	reg, err := BuildRegistry(context.Background(), cfg, Options{Fs: fs})
	require.NoError(t, err)
	defer reg.Close()

	entry, err := reg.Entry("local-tiny")
	require.NoError(t, err)
	assert.False(t, entry.Available, "missing binary makes the engine unavailable")
	assert.Equal(t, "tiny", entry.Descriptor.Model)
}

func TestPreferredBackend(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		want    string
	}{
		{"explicit backend", "second", "", "second"},
		{"default model names a backend", "", "second", "second"},
		{"unknown backend falls back to policy", "missing", "", "echo"},
		{"nothing configured", "", "", "echo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := offlineConfig()
			cfg.Backend = tt.backend
			cfg.Generation.Model = tt.model

			a, err := New(context.Background(), cfg, Options{
				Extra: []NamedBackend{{"second", echo.New(echo.Config{Name: "second"})}},
			})
			require.NoError(t, err)
			defer a.Close()

			assert.Equal(t, tt.want, a.Session.Backend())
		})
	}
}

func TestParamsAndRetryPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, aisdk.Params{}, Params(cfg))

	cfg.Generation.Temperature = aisdk.Float64(0.2)
	cfg.Generation.MaxTokens = aisdk.Int(64)
	cfg.Retry.Attempts = 5
	cfg.Retry.Delay = config.Duration(time.Second)

	p := Params(cfg)
	assert.Equal(t, 0.2, *p.Temperature)
	assert.Equal(t, 64, *p.MaxTokens)
	assert.Nil(t, p.TopP)

	rp := RetryPolicy(cfg)
	assert.Equal(t, 5, rp.Attempts)
	assert.Equal(t, time.Second, rp.Delay)
	assert.Equal(t, 30*time.Second, rp.MaxRetryAfter)
}

func TestExtraBackendsKeepOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.HuggingFace.Enabled = false
	cfg.Providers.Ollama.Enabled = false

	for i := 0; i < 20; i++ {
		var extra []NamedBackend
		for _, name := range []string{"c", "a", "d", "b"} {
			extra = append(extra, NamedBackend{name, echo.New(echo.Config{Name: name})})
		}

		a, err := New(context.Background(), cfg, Options{Extra: extra})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "d", "b"}, a.Registry.Names())
		assert.Equal(t, "c", a.Session.Backend())
		require.NoError(t, a.Close())
	}
}

func TestCloseReleasesBackends(t *testing.T) {
	extra := echo.New(echo.Config{Name: "extra"})
	a, err := New(context.Background(), offlineConfig(), Options{
		Extra: []NamedBackend{{"extra", extra}},
	})
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.False(t, extra.IsAvailable(context.Background()))
}

func TestBackendDefaultParamsReachRequest(t *testing.T) {
	tests := []struct {
		name       string
		maxTokens  *int
		wantTokens float64
	}{
		{"backend default", nil, 100},
		{"configured override", aisdk.Int(32), 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received := make(chan map[string]any, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if r.Method == http.MethodPost {
					var body struct {
						Parameters map[string]any `json:"parameters"`
					}
					assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
					received <- body.Parameters
					_, _ = w.Write([]byte(`[{"generated_text":"hi"}]`))
					return
				}
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			cfg := config.DefaultConfig()
			cfg.Providers.Ollama.Enabled = false
			cfg.Providers.HuggingFace.BaseURL = srv.URL
			cfg.Generation.MaxTokens = tt.maxTokens

			a, err := New(context.Background(), cfg, Options{HTTPClient: srv.Client()})
			require.NoError(t, err)
			defer a.Close()

			reply, err := a.Session.Chat(context.Background(), "hello")
			require.NoError(t, err)
			require.NoError(t, reply.Err)

			params := <-received
			assert.Equal(t, tt.wantTokens, params["max_new_tokens"])
			assert.Equal(t, 0.7, params["temperature"])
			assert.Equal(t, 0.95, params["top_p"])
		})
	}
}
