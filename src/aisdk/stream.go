package aisdk

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// StreamCallback is a function called for each fragment in a stream.
type StreamCallback func(fragment string) error

// StreamToCallback reads a stream and calls the callback for each fragment.
func StreamToCallback(stream Stream, callback StreamCallback) error {
	defer stream.Close()

	for {
		fragment, err := stream.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := callback(fragment); err != nil {
			return err
		}
	}
}

// CollectStreamContent reads a stream and collects all content into a single string.
func CollectStreamContent(stream Stream) (string, error) {
	var content strings.Builder
	err := StreamToCallback(stream, func(fragment string) error {
		content.WriteString(fragment)
		return nil
	})
	return content.String(), err
}

// FuncStream adapts a read function and an optional closer to a Stream.
// Read must be called from a single goroutine. Close may be called from any
// goroutine, including while Read is blocked.
type FuncStream struct {
	next   func() (string, error)
	closer func() error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      bool
}

// NewFuncStream creates a Stream from next. Once next returns an error,
// including io.EOF, every later Read returns io.EOF.
func NewFuncStream(next func() (string, error), closer func() error) *FuncStream {
	return &FuncStream{next: next, closer: closer}
}

// Read returns the next fragment.
func (s *FuncStream) Read() (string, error) {
	if s.closed.Load() || s.done {
		return "", io.EOF
	}
	fragment, err := s.next()
	if err != nil {
		s.done = true
		if s.closed.Load() {
			return "", io.EOF
		}
		return "", err
	}
	return fragment, nil
}

// Close releases the stream. It is safe to call more than once.
func (s *FuncStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}

// Chunk splits text into fragments of at most size runes.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = 1
	}
	var out []string
	for len(text) > 0 {
		n, i := 0, 0
		for i < len(text) && n < size {
			_, w := utf8.DecodeRuneInString(text[i:])
			i += w
			n++
		}
		out = append(out, text[:i])
		text = text[i:]
	}
	return out
}

// SimulateStream re-chunks a complete response into fixed-size fragments
// with a pause before every fragment after the first. Backends without
// incremental output use it to satisfy GenerateStream.
func SimulateStream(ctx context.Context, text string, size int, pause time.Duration) Stream {
	chunks := Chunk(text, size)
	ctx, cancel := context.WithCancel(ctx)
	i := 0

	return NewFuncStream(func() (string, error) {
		if i >= len(chunks) {
			return "", io.EOF
		}
		if i > 0 && pause > 0 {
			t := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", FromContext("", ctx.Err())
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return "", FromContext("", err)
		}
		c := chunks[i]
		i++
		return c, nil
	}, func() error {
		cancel()
		return nil
	})
}
