// Package httpx holds the HTTP plumbing shared by the network backends.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const defaultTimeout = 2 * time.Minute

// Config configures a Client.
type Config struct {
	// Backend names the owning backend in errors and logs.
	Backend string

	BaseURL string
	Headers map[string]string

	// Timeout applies to non-streaming requests only. Streams are bounded
	// by their context.
	Timeout time.Duration

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64

	// DecodeError lets a backend refine a classified error from the raw
	// error body, e.g. to mark a provider specific status as temporary.
	DecodeError func(e *aisdk.Error, body []byte)

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client sends JSON requests to one backend and classifies failures.
type Client struct {
	backend string
	baseURL string
	headers map[string]string
	timeout time.Duration
	limiter *rate.Limiter
	decode  func(e *aisdk.Error, body []byte)
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		backend: cfg.Backend,
		baseURL: cfg.BaseURL,
		headers: cfg.Headers,
		timeout: cfg.Timeout,
		decode:  cfg.DecodeError,
		http:    httpClient,
		logger:  logger.With("component", "httpx", "backend", cfg.Backend),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NewRequest builds a request against the base URL with the configured
// headers. A non-nil body is encoded as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &aisdk.Error{Kind: aisdk.ErrInvalidRequest, Backend: c.backend, Message: "failed to marshal request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &aisdk.Error{Kind: aisdk.ErrInvalidRequest, Backend: c.backend, Message: "failed to create request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Do sends req. Non-2xx responses are consumed and returned as classified
// errors; on success the caller owns the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, aisdk.FromContext(c.backend, err)
		}
	}

	logger := c.logger.With("method", req.Method, "path", req.URL.Path)
	logger.Debug("sending request", "request_id", req.Header.Get("X-Request-ID"))

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug("request failed", "error", err)
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, aisdk.FromContext(c.backend, ctxErr)
		}
		return nil, &aisdk.Error{Kind: aisdk.ErrBackendUnavailable, Backend: c.backend, Message: "request failed", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		apiErr, body := readError(c.backend, resp)
		if c.decode != nil {
			c.decode(apiErr, body)
		}
		logger.Debug("received error response", "status_code", resp.StatusCode, "error", apiErr)
		return nil, apiErr
	}
	return resp, nil
}

// DoJSON sends a request with the non-streaming timeout and decodes the
// response body into out.
func (c *Client) DoJSON(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return aisdk.FromContext(c.backend, ctxErr)
		}
		return &aisdk.Error{Kind: aisdk.ErrGenerationFailed, Backend: c.backend, Message: "failed to decode response", Err: err}
	}
	return nil
}

// Probe issues a short GET and reports whether it succeeded.
func (c *Client) Probe(ctx context.Context, path string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("probe failed", "path", path, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ReadStreamError classifies an error raised while reading a streaming body.
func (c *Client) ReadStreamError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return aisdk.FromContext(c.backend, ctxErr)
	}
	var e *aisdk.Error
	if errors.As(err, &e) {
		return e
	}
	return &aisdk.Error{Kind: aisdk.ErrBackendUnavailable, Backend: c.backend, Message: fmt.Sprintf("stream interrupted: %v", err), Err: err}
}
