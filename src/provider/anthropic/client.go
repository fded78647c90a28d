// Package anthropic implements a backend for the Anthropic Messages API.
package anthropic

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
	DefaultBaseURL = "https://api.anthropic.com/v1"
	DefaultModel   = "claude-3-5-haiku-latest"
	APIVersion     = "2023-06-01"
)

// Config holds configuration for the Anthropic backend.
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string

	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             aisdk.RetryPolicy
	Defaults          aisdk.Params

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultParams are the Anthropic generation defaults.
func DefaultParams() aisdk.Params {
	return aisdk.Params{
		Temperature: aisdk.Float64(0.7),
		MaxTokens:   aisdk.Int(4000),
		TopP:        aisdk.Float64(1.0),
	}
}

var _ aisdk.Backend = (*Client)(nil)

// Client is the Anthropic backend.
type Client struct {
	config Config
	http   *httpx.Client
	logger *slog.Logger
	desc   aisdk.Descriptor
}

// NewClient creates a new Anthropic backend.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Name == "" {
		config.Name = "anthropic-" + config.Model
	}
	if config.Retry.Attempts == 0 {
		config.Retry = aisdk.DefaultRetryPolicy()
	}
	config.Defaults = config.Defaults.WithDefaults(DefaultParams())

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "anthropic_client", "backend", config.Name)

	return &Client{
		config: config,
		logger: logger,
		http: httpx.NewClient(httpx.Config{
			Backend: config.Name,
			BaseURL: config.BaseURL,
			Headers: map[string]string{
				"x-api-key":         config.APIKey,
				"anthropic-version": APIVersion,
			},
			Timeout:           config.Timeout,
			RequestsPerSecond: config.RequestsPerSecond,
			HTTPClient:        config.HTTPClient,
			Logger:            logger,
		}),
		desc: aisdk.Descriptor{
			Name:                config.Name,
			Provider:            "anthropic",
			Model:               config.Model,
			SupportsStreaming:   true,
			Hosted:              true,
			RequiresCredentials: true,
			Defaults:            config.Defaults,
		},
	}
}

// Describe implements aisdk.Backend.
func (c *Client) Describe() aisdk.Descriptor {
	return c.desc
}

// IsAvailable reports whether an API key is configured.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.config.APIKey != ""
}

// Generate implements aisdk.Backend.
func (c *Client) Generate(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (*aisdk.ModelResponse, error) {
	req, err := c.buildRequest(msgs, params, false)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("method", "Generate")

	var result messageResponse
	err = c.config.Retry.Do(ctx, logger, func(ctx context.Context) error {
		return c.http.DoJSON(ctx, http.MethodPost, "/messages", req, &result)
	})
	if err != nil {
		logger.Warn("messages request failed", "error", err)
		return nil, aisdk.Wrap(aisdk.ErrGenerationFailed, c.desc.Name, err)
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	resp := &aisdk.ModelResponse{
		Content:      text.String(),
		ModelID:      result.Model,
		FinishReason: mapStopReason(result.StopReason),
		Usage: &aisdk.Usage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
		Metadata:  map[string]any{"id": result.ID, "stop_reason": result.StopReason},
		CreatedAt: time.Now(),
	}
	if resp.ModelID == "" {
		resp.ModelID = c.config.Model
	}
	return resp, nil
}

// GenerateStream implements aisdk.Backend using the Messages streaming API.
func (c *Client) GenerateStream(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (aisdk.Stream, error) {
	req, err := c.buildRequest(msgs, params, true)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("method", "GenerateStream")

	ctx, cancel := context.WithCancel(ctx)
	var resp *http.Response
	err = c.config.Retry.Do(ctx, logger, func(ctx context.Context) error {
		httpReq, err := c.http.NewRequest(ctx, http.MethodPost, "/messages", req)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Accept", "text/event-stream")
		resp, err = c.http.Do(httpReq)
		return err
	})
	if err != nil {
		cancel()
		logger.Warn("failed to open stream", "error", err)
		return nil, aisdk.Wrap(aisdk.ErrGenerationFailed, c.desc.Name, err)
	}

	events := httpx.NewSSEReader(resp.Body)
	return aisdk.NewFuncStream(func() (string, error) {
		for events.Next() {
			var ev streamEvent
			if err := json.Unmarshal([]byte(events.Event().Data), &ev); err != nil {
				return "", aisdk.NewError(aisdk.ErrGenerationFailed, c.desc.Name, "malformed stream event: "+err.Error())
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
					return ev.Delta.Text, nil
				}
			case "message_delta":
				if ev.Delta.StopReason != "" {
					logger.Debug("stream stopping", "stop_reason", ev.Delta.StopReason)
				}
			case "message_stop":
				return "", io.EOF
			case "error":
				kind := aisdk.ErrGenerationFailed
				if ev.Error.Type == "rate_limit_error" {
					kind = aisdk.ErrRateLimited
				} else if ev.Error.Type == "overloaded_error" {
					kind = aisdk.ErrBackendUnavailable
				}
				return "", aisdk.NewError(kind, c.desc.Name, ev.Error.Message)
			}
		}
		if err := events.Err(); err != nil {
			return "", c.http.ReadStreamError(ctx, err)
		}
		return "", io.EOF
	}, func() error {
		cancel()
		return resp.Body.Close()
	}), nil
}

// buildRequest folds system messages into the top-level system field.
func (c *Client) buildRequest(msgs []aisdk.Message, params aisdk.Params, stream bool) (*messageRequest, error) {
	merged, err := aisdk.Prepare(msgs, params, c.config.Defaults)
	if err != nil {
		return nil, aisdk.Wrap(aisdk.ErrInvalidRequest, c.desc.Name, err)
	}

	system, turns := aisdk.SplitSystem(msgs)
	if len(turns) == 0 {
		return nil, aisdk.NewError(aisdk.ErrInvalidRequest, c.desc.Name, "at least one user or assistant message is required")
	}

	req := &messageRequest{
		Model:         c.config.Model,
		System:        system,
		MaxTokens:     *merged.MaxTokens,
		Temperature:   merged.Temperature,
		TopP:          merged.TopP,
		TopK:          merged.TopK,
		StopSequences: merged.Stop,
		Stream:        stream,
		Messages:      make([]wireMessage, 0, len(turns)),
	}
	for _, m := range turns {
		req.Messages = append(req.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return req, nil
}

func mapStopReason(reason string) aisdk.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return aisdk.FinishStop
	case "max_tokens":
		return aisdk.FinishLength
	case "":
		return ""
	default:
		return aisdk.FinishStop
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageRequest struct {
	Model         string        `json:"model"`
	System        string        `json:"system,omitempty"`
	Messages      []wireMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	TopK          *int          `json:"top_k,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
