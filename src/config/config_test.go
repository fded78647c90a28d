package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elee1766/parley/src/aisdk"
)

func envOf(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func newTestLoader(fs afero.Fs, env map[string]string) *Loader {
	l := NewLoader(WithFs(fs), WithLookup(envOf(env)))
	l.UserPaths = []string{"/home/u/.config/parley/config.json", "/home/u/.config/parley/config.yaml"}
	return l
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "1.0", config.Version)
	assert.Nil(t, config.Generation.Temperature)
	assert.Nil(t, config.Generation.MaxTokens)
	assert.Equal(t, 10, config.Conversation.MaxHistory)
	assert.Equal(t, "You are a helpful AI assistant.", config.Conversation.SystemPrompt)
	assert.Equal(t, "http://localhost:11434", config.Providers.Ollama.BaseURL)
	assert.Equal(t, "https://api-inference.huggingface.co/models", config.Providers.HuggingFace.BaseURL)
	assert.Equal(t, 3, config.Retry.Attempts)
	assert.Equal(t, 2*time.Second, config.Retry.Delay.Std())

	require.NoError(t, NewValidator().Validate(config))
}

func TestConfigValidation(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"invalid temperature", func(c *Config) { c.Generation.Temperature = aisdk.Float64(3.0) }, true},
		{"negative temperature", func(c *Config) { c.Generation.Temperature = aisdk.Float64(-0.1) }, true},
		{"zero temperature", func(c *Config) { c.Generation.Temperature = aisdk.Float64(0) }, false},
		{"zero max tokens", func(c *Config) { c.Generation.MaxTokens = aisdk.Int(0) }, true},
		{"negative history", func(c *Config) { c.Conversation.MaxHistory = -1 }, true},
		{"zero history", func(c *Config) { c.Conversation.MaxHistory = 0 }, false},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad url", func(c *Config) { c.Providers.OpenAI.BaseURL = "not a url" }, true},
		{"no attempts", func(c *Config) { c.Retry.Attempts = 0 }, true},
		{"negative delay", func(c *Config) { c.Retry.Delay = Duration(-time.Second) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := validator.Validate(c)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	config, err := newTestLoader(afero.NewMemMapFs(), nil).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestLoadUserJSONWithComments(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/u/.config/parley/config.json", []byte(`{
		// prefer the local server
		"backend": "ollama-mistral",
		"providers": {"ollama": {"model": "mistral"}},
		"retry": {"delay": "500ms"},
	}`), 0o644))

	config, err := newTestLoader(fs, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, "ollama-mistral", config.Backend)
	assert.Equal(t, "mistral", config.Providers.Ollama.Model)
	assert.Equal(t, "http://localhost:11434", config.Providers.Ollama.BaseURL, "unset fields keep defaults")
	assert.Equal(t, 500*time.Millisecond, config.Retry.Delay.Std())
}

func TestLoadYAMLAndExplicitFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/u/.config/parley/config.yaml", []byte(`
generation:
  temperature: 0.2
conversation:
  max_history: 4
retry:
  delay: 1s
`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/parley.json", []byte(`{"conversation": {"max_history": 6}}`), 0o644))

	l := newTestLoader(fs, nil)
	l.File = "/work/parley.json"
	config, err := l.Load()
	require.NoError(t, err)
	require.NotNil(t, config.Generation.Temperature)
	assert.Equal(t, 0.2, *config.Generation.Temperature)
	assert.Equal(t, 6, config.Conversation.MaxHistory)
	assert.Equal(t, time.Second, config.Retry.Delay.Std())
}

func TestLoadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.json", []byte(`{"unknown_field": 1}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/invalid.json", []byte(`{"generation": {"temperature": 9}}`), 0o644))

	l := newTestLoader(fs, nil)
	l.File = "/missing.json"
	_, err := l.Load()
	assert.Error(t, err)

	l.File = "/bad.json"
	_, err = l.Load()
	assert.ErrorContains(t, err, "unknown field")

	l.File = "/invalid.json"
	_, err = l.Load()
	var verr ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEnvironmentOverrides(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ".env", []byte(
		"ANTHROPIC_API_KEY=from-dotenv\nMAX_TOKENS=100\nTEMPERATURE=0.3\n",
	), 0o644))

	env := map[string]string{
		"OPENAI_API_KEY":           "sk-test",
		"MAX_TOKENS":               "250",
		"MAX_CONVERSATION_HISTORY": "3",
		"LOCAL_MODEL_PATH":         "/models/tiny.gguf",
		"LOG_LEVEL":                "DEBUG",
		"GOOGLE_API_KEY":           "g-key",
	}
	config, err := newTestLoader(fs, env).Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", config.Providers.OpenAI.APIKey)
	assert.Equal(t, "from-dotenv", config.Providers.Anthropic.APIKey)
	require.NotNil(t, config.Generation.MaxTokens)
	assert.Equal(t, 250, *config.Generation.MaxTokens, "environment beats dotenv")
	require.NotNil(t, config.Generation.Temperature)
	assert.Equal(t, 0.3, *config.Generation.Temperature)
	assert.Equal(t, 3, config.Conversation.MaxHistory)
	assert.True(t, config.Providers.Local.Enabled)
	assert.Equal(t, "/models/tiny.gguf", config.Providers.Local.ModelPath)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "g-key", config.Providers.Gemini.APIKey)
}

func TestInvalidEnvironmentNumberIgnored(t *testing.T) {
	config, err := newTestLoader(afero.NewMemMapFs(), map[string]string{"MAX_TOKENS": "lots"}).Load()
	require.NoError(t, err)
	assert.Nil(t, config.Generation.MaxTokens)
}

func TestSaveFileRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := newTestLoader(fs, nil)

	config := DefaultConfig()
	config.Backend = "echo"
	config.Retry.Delay = Duration(3 * time.Second)

	for _, path := range []string{"/out/config.json", "/out/config.yaml"} {
		require.NoError(t, l.SaveFile(config, path))

		reload := newTestLoader(fs, nil)
		reload.File = path
		got, err := reload.Load()
		require.NoError(t, err, path)
		assert.Equal(t, config, got, path)
	}
}

func TestRedacted(t *testing.T) {
	config := DefaultConfig()
	config.Providers.OpenAI.APIKey = "sk-secret"

	redacted := config.Redacted()
	assert.Equal(t, "********", redacted.Providers.OpenAI.APIKey)
	assert.Empty(t, redacted.Providers.Anthropic.APIKey)
	assert.Equal(t, "sk-secret", config.Providers.OpenAI.APIKey)

	data, err := json.Marshal(redacted)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, time.Microsecond, d.Std())
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))

	data, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(data))
}
