// Package ollama implements a backend for a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/httpx"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama2"

	probeTimeout = 2 * time.Second
)

// Config holds configuration for the Ollama backend.
type Config struct {
	Name     string
	BaseURL  string
	Model    string
	Defaults aisdk.Params

	// TagsTTL controls how long the installed model list is cached.
	TagsTTL time.Duration

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultParams are the Ollama generation defaults.
func DefaultParams() aisdk.Params {
	return aisdk.Params{
		Temperature:   aisdk.Float64(0.7),
		TopP:          aisdk.Float64(1.0),
		TopK:          aisdk.Int(40),
		RepeatPenalty: aisdk.Float64(1.1),
	}
}

var _ aisdk.Backend = (*Client)(nil)

// Client is the Ollama backend. Conversations are flattened into a single
// prompt for the generate endpoint.
type Client struct {
	config Config
	http   *httpx.Client
	logger *slog.Logger
	desc   aisdk.Descriptor
	tags   *ModelCache
}

// NewClient creates a new Ollama backend.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Name == "" {
		config.Name = "ollama-" + config.Model
	}
	if config.TagsTTL == 0 {
		config.TagsTTL = time.Minute
	}
	config.Defaults = config.Defaults.WithDefaults(DefaultParams())

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ollama_client", "backend", config.Name)

	c := &Client{
		config: config,
		logger: logger,
		http: httpx.NewClient(httpx.Config{
			Backend:    config.Name,
			BaseURL:    config.BaseURL,
			Timeout:    config.Timeout,
			HTTPClient: config.HTTPClient,
			Logger:     logger,
		}),
		desc: aisdk.Descriptor{
			Name:              config.Name,
			Provider:          "ollama",
			Model:             config.Model,
			SupportsStreaming: true,
			Defaults:          config.Defaults,
		},
	}
	c.tags = NewModelCache(c.fetchTags, config.TagsTTL)
	return c
}

// Describe implements aisdk.Backend.
func (c *Client) Describe() aisdk.Descriptor {
	return c.desc
}

// IsAvailable reports whether the server answers and has the model installed.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	models, err := c.tags.Models(ctx)
	if err != nil {
		c.logger.Debug("ollama not reachable", "error", err)
		return false
	}
	for _, m := range models {
		if matchModel(m.Name, c.config.Model) {
			return true
		}
	}
	c.logger.Debug("model not installed", "model", c.config.Model)
	return false
}

func (c *Client) fetchTags(ctx context.Context) ([]ModelInfo, error) {
	var tags tagsResponse
	if err := c.http.DoJSON(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}
	return tags.Models, nil
}

// matchModel treats "llama2" and "llama2:latest" as the same model.
func matchModel(installed, want string) bool {
	if installed == want {
		return true
	}
	if !strings.Contains(want, ":") {
		return installed == want+":latest"
	}
	return false
}

// Generate implements aisdk.Backend.
func (c *Client) Generate(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (*aisdk.ModelResponse, error) {
	req, err := c.buildRequest(msgs, params, false)
	if err != nil {
		return nil, err
	}

	var result generateResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, "/api/generate", req, &result); err != nil {
		c.logger.Warn("generate failed", "error", err)
		return nil, aisdk.Wrap(aisdk.ErrGenerationFailed, c.desc.Name, err)
	}
	if result.Error != "" {
		return nil, aisdk.NewError(aisdk.ErrGenerationFailed, c.desc.Name, result.Error)
	}
	return c.toResponse(&result, result.Response), nil
}

// GenerateStream implements aisdk.Backend by reading newline delimited JSON.
func (c *Client) GenerateStream(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (aisdk.Stream, error) {
	req, err := c.buildRequest(msgs, params, true)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := c.http.NewRequest(ctx, http.MethodPost, "/api/generate", req)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/x-ndjson")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, aisdk.Wrap(aisdk.ErrGenerationFailed, c.desc.Name, err)
	}

	lines := httpx.NewLineReader(resp.Body)
	finished := false
	return aisdk.NewFuncStream(func() (string, error) {
		for !finished {
			line, err := lines.Next()
			if err == io.EOF {
				return "", aisdk.NewError(aisdk.ErrBackendUnavailable, c.desc.Name, "stream ended before completion")
			}
			if err != nil {
				return "", c.http.ReadStreamError(ctx, err)
			}

			var chunk generateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				return "", aisdk.NewError(aisdk.ErrGenerationFailed, c.desc.Name, "malformed stream line: "+err.Error())
			}
			if chunk.Error != "" {
				return "", aisdk.NewError(aisdk.ErrGenerationFailed, c.desc.Name, chunk.Error)
			}
			if chunk.Done {
				finished = true
				c.logger.Debug("stream complete", "eval_count", chunk.EvalCount, "done_reason", chunk.DoneReason)
			}
			if chunk.Response != "" {
				return chunk.Response, nil
			}
		}
		return "", io.EOF
	}, func() error {
		cancel()
		return resp.Body.Close()
	}), nil
}

func (c *Client) buildRequest(msgs []aisdk.Message, params aisdk.Params, stream bool) (*generateRequest, error) {
	merged, err := aisdk.Prepare(msgs, params, c.config.Defaults)
	if err != nil {
		return nil, aisdk.Wrap(aisdk.ErrInvalidRequest, c.desc.Name, err)
	}

	return &generateRequest{
		Model:  c.config.Model,
		Prompt: aisdk.RenderPrompt(msgs),
		Stream: stream,
		Options: options{
			Temperature:   merged.Temperature,
			TopP:          merged.TopP,
			TopK:          merged.TopK,
			RepeatPenalty: merged.RepeatPenalty,
			NumPredict:    merged.MaxTokens,
			Stop:          merged.Stop,
		},
	}, nil
}

func (c *Client) toResponse(r *generateResponse, content string) *aisdk.ModelResponse {
	finish := aisdk.FinishStop
	if r.DoneReason == "length" || !r.Done {
		finish = aisdk.FinishLength
	}
	modelID := r.Model
	if modelID == "" {
		modelID = c.config.Model
	}
	return &aisdk.ModelResponse{
		Content:      content,
		ModelID:      modelID,
		FinishReason: finish,
		Usage: &aisdk.Usage{
			PromptTokens:     r.PromptEvalCount,
			CompletionTokens: r.EvalCount,
			TotalTokens:      r.PromptEvalCount + r.EvalCount,
		},
		Metadata: map[string]any{
			"total_duration": time.Duration(r.TotalDuration).String(),
		},
		CreatedAt: time.Now(),
	}
}

type options struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"`
	Error           string `json:"error"`
}

// ModelInfo describes an installed model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}
