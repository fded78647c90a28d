package config

import (
	"time"

	"github.com/elee1766/parley/src/conversation"
	"github.com/elee1766/parley/src/provider/huggingface"
	"github.com/elee1766/parley/src/provider/ollama"
)

// DefaultConfig returns a default configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Conversation: ConversationConfig{
			SystemPrompt: conversation.DefaultSystemPrompt,
			MaxHistory:   10,
		},
		Retry: RetryConfig{
			Attempts:      3,
			Delay:         Duration(2 * time.Second),
			MaxRetryAfter: Duration(30 * time.Second),
		},
		Providers: ProvidersConfig{
			HuggingFace: HuggingFaceConfig{
				Enabled: true,
				BaseURL: huggingface.DefaultBaseURL,
				Model:   huggingface.DefaultModel,
			},
			Ollama: OllamaConfig{
				Enabled: true,
				BaseURL: ollama.DefaultBaseURL,
				Model:   ollama.DefaultModel,
			},
			Local: LocalConfig{
				Binary:  "llama-cli",
				Workers: 1,
			},
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		UI: UIConfig{
			CodeTheme: "monokai",
		},
	}
}

// Redacted returns a copy with every API key masked.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&out.Providers.OpenAI.APIKey)
	mask(&out.Providers.OpenRouter.APIKey)
	mask(&out.Providers.Anthropic.APIKey)
	mask(&out.Providers.Gemini.APIKey)
	mask(&out.Providers.HuggingFace.APIKey)
	return &out
}
