package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/httpx"
)

var _ aisdk.Backend = (*Client)(nil)

// Client is a backend for OpenAI compatible chat completion APIs.
type Client struct {
	config Config
	http   *httpx.Client
	logger *slog.Logger
	desc   aisdk.Descriptor
}

// NewClient creates a new OpenAI compatible backend.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.Name == "" {
		config.Name = config.Provider + "-" + config.Model
	}
	if config.Retry.Attempts == 0 {
		config.Retry = aisdk.DefaultRetryPolicy()
	}
	config.Defaults = config.Defaults.WithDefaults(DefaultParams())

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "openai_client", "backend", config.Name)

	headers := map[string]string{
		"Authorization": "Bearer " + config.APIKey,
	}
	// Optional headers for ranking
	if config.SiteURL != "" {
		headers["HTTP-Referer"] = config.SiteURL
	}
	if config.SiteName != "" {
		headers["X-Title"] = config.SiteName
	}

	return &Client{
		config: config,
		logger: logger,
		http: httpx.NewClient(httpx.Config{
			Backend:           config.Name,
			BaseURL:           config.BaseURL,
			Headers:           headers,
			Timeout:           config.Timeout,
			RequestsPerSecond: config.RequestsPerSecond,
			HTTPClient:        config.HTTPClient,
			Logger:            logger,
		}),
		desc: aisdk.Descriptor{
			Name:                config.Name,
			Provider:            config.Provider,
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

// IsAvailable reports whether an API key is configured. It does not touch
// the network.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.config.APIKey != ""
}

// Generate implements aisdk.Backend.
func (c *Client) Generate(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (*aisdk.ModelResponse, error) {
	req, err := c.buildRequest(msgs, params, false)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("method", "Generate", "model", req.Model)
	logger.Debug("sending chat completion request", "messages", len(req.Messages))

	var result chatResponse
	err = c.config.Retry.Do(ctx, logger, func(ctx context.Context) error {
		return c.http.DoJSON(ctx, http.MethodPost, "/chat/completions", req, &result)
	})
	if err != nil {
		logger.Warn("chat completion failed", "error", err)
		return nil, aisdk.Wrap(aisdk.ErrGenerationFailed, c.desc.Name, err)
	}
	if result.Error != nil {
		return nil, aisdk.NewError(aisdk.ErrGenerationFailed, c.desc.Name, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, aisdk.NewError(aisdk.ErrGenerationFailed, c.desc.Name, "response contained no choices")
	}

	choice := result.Choices[0]
	resp := &aisdk.ModelResponse{
		Content:      choice.Message.Content,
		ModelID:      result.Model,
		FinishReason: mapFinishReason(choice.FinishReason),
		Metadata:     map[string]any{"id": result.ID},
		CreatedAt:    time.Now(),
	}
	if resp.ModelID == "" {
		resp.ModelID = c.config.Model
	}
	if result.Usage != nil {
		resp.Usage = &aisdk.Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		}
	}

	logger.Info("chat completion successful", "finish_reason", resp.FinishReason)
	return resp, nil
}

// GenerateStream implements aisdk.Backend using server-sent events.
func (c *Client) GenerateStream(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (aisdk.Stream, error) {
	req, err := c.buildRequest(msgs, params, true)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("method", "GenerateStream", "model", req.Model)

	ctx, cancel := context.WithCancel(ctx)
	var resp *http.Response
	err = c.config.Retry.Do(ctx, logger, func(ctx context.Context) error {
		httpReq, err := c.http.NewRequest(ctx, http.MethodPost, "/chat/completions", req)
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
			data := events.Event().Data
			if data == "[DONE]" {
				return "", io.EOF
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return "", aisdk.NewError(aisdk.ErrGenerationFailed, c.desc.Name, "malformed stream chunk: "+err.Error())
			}
			if chunk.Error != nil {
				return "", aisdk.NewError(aisdk.ErrGenerationFailed, c.desc.Name, chunk.Error.Message)
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				return chunk.Choices[0].Delta.Content, nil
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

func (c *Client) buildRequest(msgs []aisdk.Message, params aisdk.Params, stream bool) (*chatRequest, error) {
	merged, err := aisdk.Prepare(msgs, params, c.config.Defaults)
	if err != nil {
		return nil, aisdk.Wrap(aisdk.ErrInvalidRequest, c.desc.Name, err)
	}

	req := &chatRequest{
		Model:       c.config.Model,
		Messages:    make([]chatMessage, 0, len(msgs)),
		Temperature: merged.Temperature,
		MaxTokens:   merged.MaxTokens,
		TopP:        merged.TopP,
		Stop:        merged.Stop,
		Stream:      stream,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return req, nil
}

func mapFinishReason(reason string) aisdk.FinishReason {
	switch reason {
	case "length", "max_tokens":
		return aisdk.FinishLength
	case "":
		return ""
	case "content_filter", "error":
		return aisdk.FinishError
	default:
		return aisdk.FinishStop
	}
}
