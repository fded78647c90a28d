package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/elee1766/parley/src/aisdk"
)

// Middleware wraps a backend when it is registered.
type Middleware func(name string, next aisdk.Backend) aisdk.Backend

// LoggingMiddleware logs every generation with its duration and outcome.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(name string, next aisdk.Backend) aisdk.Backend {
		return &loggingBackend{
			Backend: next,
			logger:  logger.With("component", "backend", "backend", name),
		}
	}
}

type loggingBackend struct {
	aisdk.Backend
	logger *slog.Logger
}

func (b *loggingBackend) Generate(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (*aisdk.ModelResponse, error) {
	start := time.Now()
	resp, err := b.Backend.Generate(ctx, msgs, params)
	if err != nil {
		b.logger.Warn("generation failed",
			"messages", len(msgs),
			"duration", time.Since(start),
			"error_kind", aisdk.KindName(err),
			"error", err,
		)
		return nil, err
	}
	attrs := []any{"messages", len(msgs), "duration", time.Since(start), "finish_reason", resp.FinishReason}
	if resp.Usage != nil {
		attrs = append(attrs, "total_tokens", resp.Usage.TotalTokens)
	}
	b.logger.Debug("generation complete", attrs...)
	return resp, nil
}

func (b *loggingBackend) GenerateStream(ctx context.Context, msgs []aisdk.Message, params aisdk.Params) (aisdk.Stream, error) {
	start := time.Now()
	stream, err := b.Backend.GenerateStream(ctx, msgs, params)
	if err != nil {
		b.logger.Warn("stream failed to start", "error_kind", aisdk.KindName(err), "error", err)
		return nil, err
	}

	fragments := 0
	return aisdk.NewFuncStream(func() (string, error) {
		f, err := stream.Read()
		switch {
		case err == nil:
			fragments++
		case errors.Is(err, io.EOF):
			b.logger.Debug("stream complete", "fragments", fragments, "duration", time.Since(start))
		default:
			b.logger.Warn("stream failed", "fragments", fragments, "error_kind", aisdk.KindName(err), "error", err)
		}
		return f, err
	}, stream.Close), nil
}

// Close releases the wrapped backend if it holds resources.
func (b *loggingBackend) Close() error {
	if c, ok := b.Backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
