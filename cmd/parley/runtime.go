package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/elee1766/parley/src/app"
	"github.com/elee1766/parley/src/config"
	"github.com/elee1766/parley/src/theme"
)

// runtime holds what every command needs after startup.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	styles  theme.Styles
	cleanup func()
}

func (r *runtime) Close() {
	if r.cleanup != nil {
		r.cleanup()
	}
}

// setup loads the configuration, applies command line overrides and
// builds the logger.
func (c *CLI) setup() (*runtime, error) {
	boot, closeBoot := createCLILogger(c.LogLevel, "text", c.NoColor)
	defer closeBoot()

	loader := config.NewLoader(config.WithFs(c.Fs), config.WithLogger(boot))
	loader.File = c.ConfigFile
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}

	c.applyFlags(cfg)
	if err := loader.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}

	level := cfg.Logging.Level
	if c.LogLevel != "" {
		level = c.LogLevel
	}
	logger, cleanup := createCLILogger(level, cfg.Logging.Format, cfg.UI.NoColor)

	t := theme.CurrentTheme
	if cfg.UI.CodeTheme != "" {
		t.CodeStyle = cfg.UI.CodeTheme
	}
	theme.SetTheme(t)

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		styles:  theme.NewStyles(t, !cfg.UI.NoColor),
		cleanup: cleanup,
	}, nil
}

// applyFlags overrides configuration values with CLI flags
func (c *CLI) applyFlags(cfg *config.Config) {
	if c.Backend != "" {
		cfg.Backend = c.Backend
	}
	if c.Offline {
		cfg.Offline = true
	}
	if c.NoColor {
		cfg.UI.NoColor = true
	}
	if c.Temperature != nil {
		cfg.Generation.Temperature = c.Temperature
	}
	if c.MaxTokens != nil {
		cfg.Generation.MaxTokens = c.MaxTokens
	}
	if c.System != "" {
		cfg.Conversation.SystemPrompt = c.System
	}
	if c.History != nil {
		cfg.Conversation.MaxHistory = *c.History
	}
}

// openApp builds the registry and session for commands that talk to a
// backend.
func (c *CLI) openApp(ctx context.Context) (*runtime, *app.App, error) {
	rt, err := c.setup()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, rt.cfg, app.Options{Logger: rt.logger, Fs: c.Fs})
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return rt, a, nil
}
