// Package huggingface implements a backend for the Hugging Face inference API.
package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/httpx"
)

const (
	DefaultBaseURL = "https://api-inference.huggingface.co/models"
	DefaultModel   = "microsoft/DialoGPT-medium"

	// Simulated streaming cadence.
	DefaultChunkSize  = 5
	DefaultChunkPause = 50 * time.Millisecond
)

// Config holds configuration for the Hugging Face backend.
type Config struct {
	Name string

	// APIKey is optional; the free tier works without one at lower limits.
	APIKey  string
	BaseURL string
	Model   string

	// Retry bounds the automatic retries while the model warms up.
	Retry    aisdk.RetryPolicy
	Defaults aisdk.Params

	ChunkSize  int
	ChunkPause time.Duration

	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// DefaultParams are the Hugging Face generation defaults.
func DefaultParams() aisdk.Params {
	return aisdk.Params{
		Temperature: aisdk.Float64(0.7),
		MaxTokens:   aisdk.Int(100),
		TopP:        aisdk.Float64(0.95),
	}
}

// NameForModel derives the registered name from a model id,
// e.g. "microsoft/DialoGPT-medium" becomes "hf-DialoGPT-medium".
func NameForModel(model string) string {
	return "hf-" + path.Base(model)
}

var _ aisdk.Backend = (*Client)(nil)

// Client is the Hugging Face backend. The transport has no incremental
// output, so streams are simulated.
type Client struct {
	config Config
	http   *httpx.Client
	logger *slog.Logger
	desc   aisdk.Descriptor
}

// NewClient creates a new Hugging Face backend.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Name == "" {
		config.Name = NameForModel(config.Model)
	}
	if config.Retry.Attempts == 0 {
		config.Retry = aisdk.DefaultRetryPolicy()
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
	logger = logger.With("component", "huggingface_client", "backend", config.Name)

	headers := map[string]string{}
	if config.APIKey != "" {
		headers["Authorization"] = "Bearer " + config.APIKey
	}

	c := &Client{
		config: config,
		logger: logger,
		desc: aisdk.Descriptor{
			Name:              config.Name,
			Provider:          "huggingface",
			Model:             config.Model,
			SupportsStreaming: false,
			Hosted:            true,
			Defaults:          config.Defaults,
		},
	}
	c.http = httpx.NewClient(httpx.Config{
		Backend:           config.Name,
		BaseURL:           config.BaseURL,
		Headers:           headers,
		Timeout:           config.Timeout,
		RequestsPerSecond: config.RequestsPerSecond,
		DecodeError:       c.decodeError,
		HTTPClient:        config.HTTPClient,
		Logger:            logger,
	})
	return c
}

// decodeError marks "model is loading" answers as temporary so the retry
// policy waits for the warm-up.
func (c *Client) decodeError(e *aisdk.Error, body []byte) {
	if e.StatusCode != http.StatusServiceUnavailable {
		return
	}
	e.Temporary = true

	var loading struct {
		EstimatedTime float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(body, &loading); err == nil && loading.EstimatedTime > 0 {
		c.logger.Info("model is loading",
			"model", c.config.Model,
			"estimated_time", time.Duration(loading.EstimatedTime*float64(time.Second)),
		)
	}
}

// Describe implements aisdk.Backend.
func (c *Client) Describe() aisdk.Descriptor {
	return c.desc
}

// IsAvailable reports whether the inference endpoint answers for the model.
// A model that is still loading counts as available.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.http.NewRequest(ctx, http.MethodGet, "/"+c.config.Model, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		var apiErr *aisdk.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			return true
		}
		c.logger.Debug("inference endpoint not available", "error", err)
		return false
	}
	resp.Body.Close()
	return true
}

// Generate implements aisdk.Backend. A 503 "model loading" answer is
// retried with a fixed backoff before giving up.
func (c *Client) Generate(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (*aisdk.ModelResponse, error) {
	merged, err := aisdk.Prepare(msgs, params, c.config.Defaults)
	if err != nil {
		return nil, aisdk.Wrap(aisdk.ErrInvalidRequest, c.desc.Name, err)
	}

	prompt := aisdk.RenderPrompt(msgs)
	req := inferenceRequest{
		Inputs: prompt,
		Parameters: parameters{
			MaxNewTokens:   merged.MaxTokens,
			Temperature:    merged.Temperature,
			TopP:           merged.TopP,
			TopK:           merged.TopK,
			DoSample:       true,
			ReturnFullText: false,
			Stop:           merged.Stop,
		},
		Options: options{WaitForModel: false, UseCache: false},
	}

	logger := c.logger.With("method", "Generate")

	var raw json.RawMessage
	err = c.config.Retry.Do(ctx, logger, func(ctx context.Context) error {
		return c.http.DoJSON(ctx, http.MethodPost, "/"+c.config.Model, req, &raw)
	})
	if err != nil {
		logger.Warn("inference failed", "error", err)
		return nil, aisdk.Wrap(aisdk.ErrGenerationFailed, c.desc.Name, err)
	}

	text, err := parseGenerated(raw)
	if err != nil {
		return nil, &aisdk.Error{Kind: aisdk.ErrGenerationFailed, Backend: c.desc.Name, Err: err}
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, prompt))

	return &aisdk.ModelResponse{
		Content:      text,
		ModelID:      c.config.Model,
		FinishReason: aisdk.FinishStop,
		Usage:        aisdk.EstimateUsage(prompt, text),
		Metadata:     map[string]any{"usage_estimated": true},
		CreatedAt:    time.Now(),
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

// parseGenerated accepts both the list and the single object response shapes.
func parseGenerated(raw json.RawMessage) (string, error) {
	var list []generated
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", errors.New("empty response")
		}
		return list[0].GeneratedText, nil
	}

	var single generated
	if err := json.Unmarshal(raw, &single); err != nil {
		return "", errors.New("unexpected response format")
	}
	if single.Error != "" {
		return "", errors.New(single.Error)
	}
	return single.GeneratedText, nil
}

type parameters struct {
	MaxNewTokens   *int     `json:"max_new_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	TopK           *int     `json:"top_k,omitempty"`
	DoSample       bool     `json:"do_sample"`
	ReturnFullText bool     `json:"return_full_text"`
	Stop           []string `json:"stop,omitempty"`
}

type options struct {
	WaitForModel bool `json:"wait_for_model"`
	UseCache     bool `json:"use_cache"`
}

type inferenceRequest struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
	Options    options    `json:"options"`
}

type generated struct {
	GeneratedText string `json:"generated_text"`
	Error         string `json:"error"`
}
