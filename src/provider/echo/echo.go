// Package echo implements a deterministic offline backend.
package echo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elee1766/parley/src/aisdk"
)

// Config holds configuration for the echo backend.
type Config struct {
	Name string

	// Prefix is prepended to the echoed user message.
	Prefix string

	// Delay is applied before every reply.
	Delay time.Duration

	// Fail makes every call fail with this error.
	Fail error

	// Unavailable makes IsAvailable report false.
	Unavailable bool

	// Native reports the backend as natively streaming in its descriptor.
	Native bool

	ChunkSize  int
	ChunkPause time.Duration
}

var _ aisdk.Backend = (*Backend)(nil)

// Backend replies with the last user message.
type Backend struct {
	config Config
	calls  atomic.Int64

	mu     sync.Mutex
	fail   error
	closed bool
}

// New creates an echo backend.
func New(config Config) *Backend {
	if config.Name == "" {
		config.Name = "echo"
	}
	if config.Prefix == "" {
		config.Prefix = "echo: "
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 4
	}
	return &Backend{config: config, fail: config.Fail}
}

// Describe implements aisdk.Backend.
func (b *Backend) Describe() aisdk.Descriptor {
	return aisdk.Descriptor{
		Name:              b.config.Name,
		Provider:          "echo",
		Model:             "echo",
		SupportsStreaming: b.config.Native,
	}
}

// IsAvailable implements aisdk.Backend.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.config.Unavailable && !b.closed
}

// SetFailure changes the injected failure. nil restores normal replies.
func (b *Backend) SetFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// Calls returns how many generations were requested.
func (b *Backend) Calls() int64 {
	return b.calls.Load()
}

// Reply returns the deterministic reply for msgs.
func (b *Backend) Reply(msgs []aisdk.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == aisdk.RoleUser {
			return b.config.Prefix + msgs[i].Content
		}
	}
	return b.config.Prefix
}

func (b *Backend) check(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) error {
	b.calls.Add(1)
	if _, err := aisdk.Prepare(msgs, params, aisdk.Params{}); err != nil {
		return aisdk.Wrap(aisdk.ErrInvalidRequest, b.config.Name, err)
	}

	if b.config.Delay > 0 {
		t := time.NewTimer(b.config.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return aisdk.FromContext(b.config.Name, ctx.Err())
		case <-t.C:
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return aisdk.NewError(aisdk.ErrBackendUnavailable, b.config.Name, "backend closed")
	}
	if b.fail != nil {
		return aisdk.Wrap(aisdk.ErrGenerationFailed, b.config.Name, b.fail)
	}
	return nil
}

// Generate implements aisdk.Backend.
func (b *Backend) Generate(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (*aisdk.ModelResponse, error) {
	if err := b.check(ctx, msgs, params); err != nil {
		return nil, err
	}
	reply := b.Reply(msgs)
	return &aisdk.ModelResponse{
		Content:      reply,
		ModelID:      "echo",
		FinishReason: aisdk.FinishStop,
		Usage:        aisdk.EstimateUsage(aisdk.RenderPrompt(msgs), reply),
		Metadata:     map[string]any{"call": b.calls.Load()},
		CreatedAt:    time.Now(),
	}, nil
}

// GenerateStream implements aisdk.Backend.
func (b *Backend) GenerateStream(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (aisdk.Stream, error) {
	if err := b.check(ctx, msgs, params); err != nil {
		return nil, err
	}
	return aisdk.SimulateStream(ctx, b.Reply(msgs), b.config.ChunkSize, b.config.ChunkPause), nil
}

// Close implements io.Closer.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
