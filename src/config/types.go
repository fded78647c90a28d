package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for parley
type Config struct {
	// Version of the configuration format
	Version string `json:"version" yaml:"version"`

	// Backend names the backend to start with. Empty applies the
	// registry's selection policy.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// Offline registers only the echo backend.
	Offline bool `json:"offline,omitempty" yaml:"offline,omitempty"`

	// Generation defaults sent with every request
	Generation GenerationConfig `json:"generation" yaml:"generation"`

	// Conversation settings
	Conversation ConversationConfig `json:"conversation" yaml:"conversation"`

	// Retry bounds adapter-internal retries
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// Providers configuration for model backends
	Providers ProvidersConfig `json:"providers" yaml:"providers"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// UI preferences for the command line
	UI UIConfig `json:"ui" yaml:"ui"`
}

// GenerationConfig holds the parameters sent with each request.
type GenerationConfig struct {
	// Model overrides the model of the first credentialed hosted provider
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Temperature and MaxTokens override the backend defaults when set
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"omitnil,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"omitnil,gt=0"`
}

// ConversationConfig holds conversation settings.
type ConversationConfig struct {
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	MaxHistory   int    `json:"max_history" yaml:"max_history" validate:"gte=0"`
}

// RetryConfig defines retry behavior for rate limited and warming up backends
type RetryConfig struct {
	Attempts      int      `json:"attempts" yaml:"attempts" validate:"gte=1"`
	Delay         Duration `json:"delay" yaml:"delay"`
	MaxRetryAfter Duration `json:"max_retry_after" yaml:"max_retry_after"`
}

// ProvidersConfig groups per-backend settings.
type ProvidersConfig struct {
	OpenAI      HostedConfig      `json:"openai" yaml:"openai"`
	OpenRouter  HostedConfig      `json:"openrouter" yaml:"openrouter"`
	Anthropic   HostedConfig      `json:"anthropic" yaml:"anthropic"`
	Gemini      HostedConfig      `json:"gemini" yaml:"gemini"`
	HuggingFace HuggingFaceConfig `json:"huggingface" yaml:"huggingface"`
	Ollama      OllamaConfig      `json:"ollama" yaml:"ollama"`
	Local       LocalConfig       `json:"local" yaml:"local"`
	Echo        EchoConfig        `json:"echo" yaml:"echo"`
}

// HostedConfig configures a credentialed hosted backend. It registers only
// when an API key is present.
type HostedConfig struct {
	APIKey  string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string   `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model   string   `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RequestsPerSecond paces requests. Zero disables pacing.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty" validate:"gte=0"`
}

// HuggingFaceConfig configures the free-tier inference API.
type HuggingFaceConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	APIKey  string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string   `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model   string   `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OllamaConfig configures a local Ollama server.
type OllamaConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
}

// LocalConfig configures in-process inference through a command line engine.
type LocalConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	ModelPath string `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	Binary    string `json:"binary,omitempty" yaml:"binary,omitempty"`
	Threads   int    `json:"threads,omitempty" yaml:"threads,omitempty" validate:"gte=0"`
	Workers   int    `json:"workers,omitempty" yaml:"workers,omitempty" validate:"gte=0"`
}

// EchoConfig configures the offline echo backend.
type EchoConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Delay   Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `json:"level,omitempty" yaml:"level,omitempty" validate:"log_level"`

	// Format is the output format (text, json)
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"log_format"`
}

// UIConfig defines command line preferences
type UIConfig struct {
	// Stream replies by default in chat
	Stream bool `json:"stream" yaml:"stream"`

	// NoColor disables styling and syntax highlighting
	NoColor bool `json:"no_color" yaml:"no_color"`

	// CodeTheme is the chroma style for fenced code blocks
	CodeTheme string `json:"code_theme,omitempty" yaml:"code_theme,omitempty"`
}

// Duration is a time.Duration that reads "2s" style strings or plain
// nanosecond numbers.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
	Value   any
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Source indicates where a configuration layer came from
type Source string

const (
	SourceDefault     Source = "default"
	SourceUser        Source = "user"
	SourceFile        Source = "file"
	SourceDotenv      Source = "dotenv"
	SourceEnvironment Source = "environment"
	SourceCLI         Source = "cli"
)
