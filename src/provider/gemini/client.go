// Package gemini implements a backend for Google Gemini using the genai SDK.
package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/httpx"
	"google.golang.org/genai"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.0-flash"

// Config holds configuration for the Gemini backend.
type Config struct {
	Name     string
	APIKey   string
	BaseURL  string
	Model    string
	Retry    aisdk.RetryPolicy
	Defaults aisdk.Params

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultParams are the Gemini generation defaults.
func DefaultParams() aisdk.Params {
	return aisdk.Params{
		Temperature: aisdk.Float64(0.7),
		MaxTokens:   aisdk.Int(4000),
		TopP:        aisdk.Float64(1.0),
	}
}

var _ aisdk.Backend = (*Client)(nil)

// Client is the Gemini backend. The SDK client is created on first use.
type Client struct {
	config Config
	logger *slog.Logger
	desc   aisdk.Descriptor

	initOnce sync.Once
	sdk      *genai.Client
	initErr  error
}

// NewClient creates a new Gemini backend.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Name == "" {
		config.Name = "gemini-" + config.Model
	}
	if config.Retry.Attempts == 0 {
		config.Retry = aisdk.DefaultRetryPolicy()
	}
	config.Defaults = config.Defaults.WithDefaults(DefaultParams())

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: config,
		logger: logger.With("component", "gemini_client", "backend", config.Name),
		desc: aisdk.Descriptor{
			Name:                config.Name,
			Provider:            "gemini",
			Model:               config.Model,
			SupportsStreaming:   true,
			Hosted:              true,
			RequiresCredentials: true,
			Defaults:            config.Defaults,
		},
	}
}

func (c *Client) client(ctx context.Context) (*genai.Client, error) {
	c.initOnce.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:     c.config.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: c.config.HTTPClient,
		}
		if c.config.BaseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.config.BaseURL}
		}
		c.sdk, c.initErr = genai.NewClient(ctx, cc)
		if c.initErr != nil {
			c.initErr = &aisdk.Error{Kind: aisdk.ErrBackendUnavailable, Backend: c.desc.Name, Message: "failed to create client", Err: c.initErr}
		}
	})
	return c.sdk, c.initErr
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
	contents, config, err := c.buildRequest(msgs, params)
	if err != nil {
		return nil, err
	}
	sdk, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("method", "Generate")

	var result *genai.GenerateContentResponse
	err = c.config.Retry.Do(ctx, logger, func(ctx context.Context) error {
		var err error
		result, err = sdk.Models.GenerateContent(ctx, c.config.Model, contents, config)
		if err != nil {
			return c.classify(ctx, err)
		}
		return nil
	})
	if err != nil {
		logger.Warn("generate content failed", "error", err)
		return nil, aisdk.Wrap(aisdk.ErrGenerationFailed, c.desc.Name, err)
	}

	resp := &aisdk.ModelResponse{
		Content:      result.Text(),
		ModelID:      c.config.Model,
		FinishReason: finishReason(result),
		Metadata:     map[string]any{},
		CreatedAt:    time.Now(),
	}
	if result.ModelVersion != "" {
		resp.Metadata["model_version"] = result.ModelVersion
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = &aisdk.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return resp, nil
}

// GenerateStream implements aisdk.Backend with the SDK's streaming call.
func (c *Client) GenerateStream(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (aisdk.Stream, error) {
	contents, config, err := c.buildRequest(msgs, params)
	if err != nil {
		return nil, err
	}
	sdk, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("method", "GenerateStream")

	// The SDK sends the request when the iterator is created and reports a
	// failed start as its first item, so the first item is read here where
	// rate limits can still be retried.
	var stream *seqStream
	err = c.config.Retry.Do(ctx, logger, func(ctx context.Context) error {
		sctx, cancel := context.WithCancel(ctx)
		s := newSeqStream(sctx, cancel, sdk.Models.GenerateContentStream(sctx, c.config.Model, contents, config), c.classify)
		if err := s.prime(); err != nil {
			_ = s.Close()
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		logger.Warn("stream open failed", "error", err)
		return nil, aisdk.Wrap(aisdk.ErrGenerationFailed, c.desc.Name, err)
	}
	return stream, nil
}

// seqStream adapts the SDK's pull iterator to aisdk.Stream. The iterator
// must not be stopped while a read is in progress, so Close cancels the
// context first and waits for the reader to let go.
type seqStream struct {
	mu       sync.Mutex
	next     func() (*genai.GenerateContentResponse, error, bool)
	stop     func()
	cancel   context.CancelFunc
	ctx      context.Context
	classify func(context.Context, error) error
	done     bool

	// pending holds text read by prime and not yet returned.
	pending string
}

func newSeqStream(ctx context.Context, cancel context.CancelFunc, seq iter.Seq2[*genai.GenerateContentResponse, error], classify func(context.Context, error) error) *seqStream {
	next, stop := iter.Pull2(seq)
	return &seqStream{next: next, stop: stop, cancel: cancel, ctx: ctx, classify: classify}
}

// prime reads up to the first non-empty fragment so a failed start is
// reported before the stream is handed out.
func (s *seqStream) prime() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	text, err := s.readLocked()
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	s.pending = text
	return nil
}

func (s *seqStream) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != "" {
		text := s.pending
		s.pending = ""
		return text, nil
	}
	return s.readLocked()
}

func (s *seqStream) readLocked() (string, error) {
	for !s.done {
		resp, err, ok := s.next()
		if !ok {
			s.finish()
			return "", io.EOF
		}
		if err != nil {
			s.finish()
			return "", s.classify(s.ctx, err)
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *seqStream) finish() {
	s.done = true
	s.stop()
	s.cancel()
}

func (s *seqStream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.finish()
	}
	return nil
}

// buildRequest translates messages into SDK contents. System messages
// become the system instruction; assistant turns use the model role.
func (c *Client) buildRequest(msgs []aisdk.Message, params aisdk.Params) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	merged, err := aisdk.Prepare(msgs, params, c.config.Defaults)
	if err != nil {
		return nil, nil, aisdk.Wrap(aisdk.ErrInvalidRequest, c.desc.Name, err)
	}

	system, turns := aisdk.SplitSystem(msgs)
	if len(turns) == 0 {
		return nil, nil, aisdk.NewError(aisdk.ErrInvalidRequest, c.desc.Name, "at least one user or assistant message is required")
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.RoleModel
		if m.Role == aisdk.RoleUser {
			role = genai.RoleUser
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	config := &genai.GenerateContentConfig{
		StopSequences: merged.Stop,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if merged.Temperature != nil {
		v := float32(*merged.Temperature)
		config.Temperature = &v
	}
	if merged.TopP != nil {
		v := float32(*merged.TopP)
		config.TopP = &v
	}
	if merged.TopK != nil {
		v := float32(*merged.TopK)
		config.TopK = &v
	}
	if merged.MaxTokens != nil {
		config.MaxOutputTokens = int32(*merged.MaxTokens)
	}
	return contents, config, nil
}

// classify maps SDK errors onto the error taxonomy.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return aisdk.FromContext(c.desc.Name, ctxErr)
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return &aisdk.Error{Kind: aisdk.ErrBackendUnavailable, Backend: c.desc.Name, Err: err}
	}

	return &aisdk.Error{
		Kind:       httpx.KindForStatus(apiErr.Code),
		Backend:    c.desc.Name,
		StatusCode: apiErr.Code,
		Message:    apiErr.Message,
		Err:        err,
	}
}

func finishReason(resp *genai.GenerateContentResponse) aisdk.FinishReason {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	switch resp.Candidates[0].FinishReason {
	case genai.FinishReasonStop:
		return aisdk.FinishStop
	case genai.FinishReasonMaxTokens:
		return aisdk.FinishLength
	case "":
		return ""
	default:
		return aisdk.FinishError
	}
}
