package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/afero"

	"github.com/elee1766/parley/src/agent"
	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/config"
	"github.com/elee1766/parley/src/provider/anthropic"
	"github.com/elee1766/parley/src/provider/echo"
	"github.com/elee1766/parley/src/provider/gemini"
	"github.com/elee1766/parley/src/provider/huggingface"
	"github.com/elee1766/parley/src/provider/local"
	"github.com/elee1766/parley/src/provider/ollama"
	"github.com/elee1766/parley/src/provider/openai"
	"github.com/elee1766/parley/src/registry"
)

// App represents the main application with all services
type App struct {
	Config   *config.Config
	Registry *registry.Registry
	Session  *agent.Session
	Logger   *slog.Logger
}

// Options holds the collaborators used when building an App.
type Options struct {
	Logger *slog.Logger

	// Fs is used by the local engine to inspect model files.
	Fs afero.Fs

	// HTTPClient is shared by every network backend when set.
	HTTPClient *http.Client

	// Extra backends are registered after the configured ones, in order.
	Extra []NamedBackend
}

// NamedBackend pairs a backend with its registry name.
type NamedBackend struct {
	Name    string
	Backend aisdk.Backend
}

// New creates a new App instance with all services initialized
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg, err := BuildRegistry(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	backend := preferredBackend(cfg, reg, logger)
	session, err := agent.New(agent.Config{
		Registry:     reg,
		Backend:      backend,
		SystemPrompt: cfg.Conversation.SystemPrompt,
		MaxHistory:   cfg.Conversation.MaxHistory,
		Params:       Params(cfg),
		OwnsRegistry: true,
		Logger:       logger,
	})
	if err != nil {
		return nil, errors.Join(err, reg.Close())
	}

	return &App{
		Config:   cfg,
		Registry: reg,
		Session:  session,
		Logger:   logger,
	}, nil
}

// Params returns the caller generation parameters carried by cfg. Unset
// values stay nil so each backend applies its own defaults.
func Params(cfg *config.Config) aisdk.Params {
	var p aisdk.Params
	if t := cfg.Generation.Temperature; t != nil {
		p.Temperature = aisdk.Float64(*t)
	}
	if n := cfg.Generation.MaxTokens; n != nil {
		p.MaxTokens = aisdk.Int(*n)
	}
	return p
}

// RetryPolicy converts the configured retry settings.
func RetryPolicy(cfg *config.Config) aisdk.RetryPolicy {
	return aisdk.RetryPolicy{
		Attempts:      cfg.Retry.Attempts,
		Delay:         cfg.Retry.Delay.Std(),
		MaxRetryAfter: cfg.Retry.MaxRetryAfter.Std(),
	}
}

// BuildRegistry registers every backend the configuration enables.
// Credentialed families are only registered when their key is set. Offline
// mode registers the echo backend alone.
func BuildRegistry(ctx context.Context, cfg *config.Config, opts Options) (*registry.Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New(
		registry.WithLogger(logger),
		registry.WithMiddleware(registry.LoggingMiddleware(logger)),
	)

	backends, err := configuredBackends(cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	backends = append(backends, opts.Extra...)

	for _, b := range backends {
		if err := reg.Register(ctx, b.Name, b.Backend); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to register %s: %w", b.Name, err), reg.Close())
		}
	}
	logger.Debug("registry built", "backends", reg.Names(), "available", reg.Available())
	return reg, nil
}

func configuredBackends(cfg *config.Config, opts Options, logger *slog.Logger) ([]NamedBackend, error) {
	var out []NamedBackend
	add := func(b aisdk.Backend) {
		out = append(out, NamedBackend{b.Describe().Name, b})
	}

	if cfg.Offline || cfg.Providers.Echo.Enabled {
		add(echo.New(echo.Config{Delay: cfg.Providers.Echo.Delay.Std()}))
	}
	if cfg.Offline {
		return out, nil
	}

	retry := RetryPolicy(cfg)
	p := cfg.Providers

	if p.OpenAI.APIKey != "" {
		add(openai.NewClient(openai.Config{
			APIKey:            p.OpenAI.APIKey,
			BaseURL:           p.OpenAI.BaseURL,
			Model:             p.OpenAI.Model,
			Timeout:           p.OpenAI.Timeout.Std(),
			RequestsPerSecond: p.OpenAI.RequestsPerSecond,
			Retry:             retry,
			HTTPClient:        opts.HTTPClient,
			Logger:            logger,
		}))
	}
	if p.OpenRouter.APIKey != "" {
		baseURL := p.OpenRouter.BaseURL
		if baseURL == "" {
			baseURL = openai.OpenRouterBaseURL
		}
		add(openai.NewClient(openai.Config{
			Provider:          "openrouter",
			APIKey:            p.OpenRouter.APIKey,
			BaseURL:           baseURL,
			Model:             p.OpenRouter.Model,
			SiteName:          config.AppName,
			Timeout:           p.OpenRouter.Timeout.Std(),
			RequestsPerSecond: p.OpenRouter.RequestsPerSecond,
			Retry:             retry,
			HTTPClient:        opts.HTTPClient,
			Logger:            logger,
		}))
	}
	if p.Anthropic.APIKey != "" {
		add(anthropic.NewClient(anthropic.Config{
			APIKey:            p.Anthropic.APIKey,
			BaseURL:           p.Anthropic.BaseURL,
			Model:             p.Anthropic.Model,
			Timeout:           p.Anthropic.Timeout.Std(),
			RequestsPerSecond: p.Anthropic.RequestsPerSecond,
			Retry:             retry,
			HTTPClient:        opts.HTTPClient,
			Logger:            logger,
		}))
	}
	if p.Gemini.APIKey != "" {
		add(gemini.NewClient(gemini.Config{
			APIKey:     p.Gemini.APIKey,
			BaseURL:    p.Gemini.BaseURL,
			Model:      p.Gemini.Model,
			Retry:      retry,
			HTTPClient: opts.HTTPClient,
			Logger:     logger,
		}))
	}
	if p.HuggingFace.Enabled {
		add(huggingface.NewClient(huggingface.Config{
			APIKey:     p.HuggingFace.APIKey,
			BaseURL:    p.HuggingFace.BaseURL,
			Model:      p.HuggingFace.Model,
			Timeout:    p.HuggingFace.Timeout.Std(),
			Retry:      retry,
			HTTPClient: opts.HTTPClient,
			Logger:     logger,
		}))
	}
	if p.Ollama.Enabled {
		add(ollama.NewClient(ollama.Config{
			BaseURL:    p.Ollama.BaseURL,
			Model:      p.Ollama.Model,
			HTTPClient: opts.HTTPClient,
			Logger:     logger,
		}))
	}
	if p.Local.Enabled {
		if p.Local.ModelPath == "" {
			return nil, fmt.Errorf("local backend enabled without a model path: %w", aisdk.ErrInvalidRequest)
		}
		engine := local.NewCommandEngine(p.Local.Binary, p.Local.ModelPath, opts.Fs)
		engine.Threads = p.Local.Threads
		add(local.NewClient(local.Config{
			ModelPath: p.Local.ModelPath,
			Engine:    engine,
			Workers:   int64(p.Local.Workers),
			Logger:    logger,
		}))
	}
	return out, nil
}

// preferredBackend returns the configured backend name when it is
// registered. Otherwise the registry policy decides.
func preferredBackend(cfg *config.Config, reg *registry.Registry, logger *slog.Logger) string {
	for _, name := range []string{cfg.Backend, cfg.Generation.Model} {
		if name == "" {
			continue
		}
		if reg.Has(name) {
			return name
		}
		logger.Warn("configured backend is not registered, using default", "backend", name)
	}
	return ""
}

// Close closes all resources held by the app
func (a *App) Close() error {
	if a.Session != nil {
		return a.Session.Close()
	}
	return nil
}
