// Package local implements a backend that runs inference on this machine.
package local

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"golang.org/x/sync/semaphore"
)

const (
	// Simulated streaming cadence.
	DefaultChunkSize  = 3
	DefaultChunkPause = 100 * time.Millisecond
)

// Config holds configuration for the local backend.
type Config struct {
	Name string

	// ModelPath names the weights file. Its base name becomes the model id.
	ModelPath string
	Engine    Engine

	// Workers bounds concurrent generations. Defaults to 1.
	Workers  int64
	Defaults aisdk.Params

	ChunkSize  int
	ChunkPause time.Duration

	Logger *slog.Logger
}

// DefaultParams are the local generation defaults.
func DefaultParams() aisdk.Params {
	return aisdk.Params{
		Temperature: aisdk.Float64(0.7),
		MaxTokens:   aisdk.Int(200),
		TopP:        aisdk.Float64(0.95),
	}
}

// ModelName returns the model id for a weights file,
// e.g. "/models/tinyllama.Q4_K_M.gguf" becomes "tinyllama.Q4_K_M".
func ModelName(modelPath string) string {
	base := filepath.Base(modelPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var _ aisdk.Backend = (*Client)(nil)

// Client is the local backend. Inference runs on worker goroutines so the
// caller can abandon a request without waiting for the engine.
type Client struct {
	config Config
	logger *slog.Logger
	desc   aisdk.Descriptor
	model  string

	workers *semaphore.Weighted

	loadMu sync.Mutex
	loaded bool
	closed bool
}

// NewClient creates a new local backend around engine.
func NewClient(config Config) *Client {
	model := ModelName(config.ModelPath)
	if config.Name == "" {
		config.Name = "local-" + model
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkPause == 0 {
		config.ChunkPause = DefaultChunkPause
	}
	config.Defaults = config.Defaults.WithDefaults(DefaultParams())

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "local_client", "backend", config.Name)

	return &Client{
		config:  config,
		logger:  logger,
		model:   model,
		workers: semaphore.NewWeighted(config.Workers),
		desc: aisdk.Descriptor{
			Name:              config.Name,
			Provider:          "local",
			Model:             model,
			SupportsStreaming: false,
			Defaults:          config.Defaults,
		},
	}
}

// Describe implements aisdk.Backend.
func (c *Client) Describe() aisdk.Descriptor {
	return c.desc
}

// IsAvailable reports whether the engine could run here. It does not load
// the model.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.config.Engine == nil {
		return false
	}
	c.loadMu.Lock()
	loaded, closed := c.loaded, c.closed
	c.loadMu.Unlock()
	if closed {
		return false
	}
	if loaded {
		return true
	}
	if err := c.config.Engine.Check(ctx); err != nil {
		c.logger.Debug("local engine not available", "error", err)
		return false
	}
	return true
}

// ensureLoaded loads the engine on first use. Concurrent first callers wait
// for a single load; a failed load is retried by the next call.
func (c *Client) ensureLoaded(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.closed {
		return aisdk.NewError(aisdk.ErrBackendUnavailable, c.desc.Name, "backend closed")
	}
	if c.loaded {
		return nil
	}
	if c.config.Engine == nil {
		return aisdk.NewError(aisdk.ErrBackendUnavailable, c.desc.Name, "no engine configured")
	}

	start := time.Now()
	if err := c.config.Engine.Load(ctx); err != nil {
		return &aisdk.Error{Kind: aisdk.ErrBackendUnavailable, Backend: c.desc.Name, Message: "failed to load model", Err: err}
	}
	c.loaded = true
	c.logger.Info("model loaded", "model", c.model, "duration", time.Since(start))
	return nil
}

type result struct {
	text string
	err  error
}

// Generate implements aisdk.Backend.
func (c *Client) Generate(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (*aisdk.ModelResponse, error) {
	merged, err := aisdk.Prepare(msgs, params, c.config.Defaults)
	if err != nil {
		return nil, aisdk.Wrap(aisdk.ErrInvalidRequest, c.desc.Name, err)
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	if err := c.workers.Acquire(ctx, 1); err != nil {
		return nil, aisdk.FromContext(c.desc.Name, err)
	}

	prompt := aisdk.RenderPrompt(msgs)
	opts := toOptions(merged)
	start := time.Now()

	// The worker owns the semaphore slot until the engine returns, even if
	// the caller has gone away.
	done := make(chan result, 1)
	go func() {
		defer c.workers.Release(1)
		text, err := c.config.Engine.Generate(ctx, prompt, opts)
		done <- result{text: text, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, aisdk.FromContext(c.desc.Name, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
			return nil, aisdk.FromContext(c.desc.Name, res.err)
		}
		c.logger.Warn("local generation failed", "error", res.err)
		return nil, &aisdk.Error{Kind: aisdk.ErrGenerationFailed, Backend: c.desc.Name, Err: res.err}
	}

	c.logger.Debug("local generation complete", "duration", time.Since(start), "chars", len(res.text))
	return &aisdk.ModelResponse{
		Content:      res.text,
		ModelID:      c.model,
		FinishReason: aisdk.FinishStop,
		Usage:        aisdk.EstimateUsage(prompt, res.text),
		Metadata: map[string]any{
			"provider":        "local",
			"device":          "cpu",
			"usage_estimated": true,
		},
		CreatedAt: time.Now(),
	}, nil
}

// GenerateStream implements aisdk.Backend by chunking a full response.
func (c *Client) GenerateStream(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (aisdk.Stream, error) {
	resp, err := c.Generate(ctx, msgs, params)
	if err != nil {
		return nil, err
	}
	return aisdk.SimulateStream(ctx, resp.Content, c.config.ChunkSize, c.config.ChunkPause), nil
}

// Close releases the engine. Later calls fail with ErrBackendUnavailable.
func (c *Client) Close() error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.config.Engine == nil {
		return nil
	}
	return c.config.Engine.Close()
}

func toOptions(p aisdk.Params) Options {
	opts := Options{Stop: p.Stop}
	if p.MaxTokens != nil {
		opts.MaxTokens = *p.MaxTokens
	}
	if p.Temperature != nil {
		opts.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		opts.TopP = *p.TopP
	}
	if p.TopK != nil {
		opts.TopK = *p.TopK
	}
	return opts
}
