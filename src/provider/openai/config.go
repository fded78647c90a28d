package openai

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/elee1766/parley/src/aisdk"
)

const (
	// DefaultBaseURL is the OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// OpenRouterBaseURL is the OpenRouter API endpoint, which speaks the same protocol.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gpt-4o-mini"
)

// Config holds configuration for an OpenAI compatible backend
type Config struct {
	Name     string // Registered backend name, defaults to "<provider>-<model>"
	Provider string // Provider family reported in the descriptor, defaults to "openai"
	APIKey   string
	BaseURL  string
	Model    string

	SiteURL  string // Site URL for OpenRouter ranking
	SiteName string // Site name for OpenRouter ranking

	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             aisdk.RetryPolicy
	Defaults          aisdk.Params

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultParams are the generation defaults for chat completion backends.
func DefaultParams() aisdk.Params {
	return aisdk.Params{
		Temperature: aisdk.Float64(0.7),
		MaxTokens:   aisdk.Int(4000),
		TopP:        aisdk.Float64(1.0),
	}
}
