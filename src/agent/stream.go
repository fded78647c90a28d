package agent

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/elee1766/parley/src/aisdk"
)

// sessionStream forwards fragments from a backend stream and appends the
// assistant turn exactly once, when the stream ends or is closed.
type sessionStream struct {
	session *Session
	inner   aisdk.Stream
	backend string
	desc    aisdk.Descriptor
	logger  *slog.Logger

	mu        sync.Mutex
	content   strings.Builder
	fragments int
	finished  bool
}

// Read returns the next fragment. A backend error is turned into one final
// apology fragment followed by io.EOF.
func (s *sessionStream) Read() (string, error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return "", io.EOF
	}
	s.mu.Unlock()

	fragment, err := s.inner.Read()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return "", io.EOF
	}

	switch {
	case err == nil:
		s.content.WriteString(fragment)
		s.fragments++
		return fragment, nil

	case errors.Is(err, io.EOF):
		s.finishLocked(s.content.String(), map[string]any{
			"model":         s.desc.Model,
			"backend":       s.backend,
			"finish_reason": string(aisdk.FinishStop),
			"streamed":      true,
			"fragments":     s.fragments,
		})
		s.logger.Debug("stream complete", "fragments", s.fragments)
		_ = s.inner.Close()
		return "", io.EOF

	default:
		s.logger.Warn("stream failed", "fragments", s.fragments, "error_kind", aisdk.KindName(err), "error", err)
		apology := ApologyText(err)
		if s.content.Len() > 0 {
			apology = "\n\n" + apology
		}
		md := errorMetadata(s.backend, err)
		md["streamed"] = true
		md["fragments"] = s.fragments
		s.finishLocked(s.content.String()+apology, md)
		_ = s.inner.Close()
		return apology, nil
	}
}

// Close abandons the stream. Text already read is appended as an
// interrupted turn; if nothing was read no turn is appended.
func (s *sessionStream) Close() error {
	s.mu.Lock()
	if !s.finished {
		if s.fragments > 0 {
			s.finishLocked(s.content.String(), map[string]any{
				"model":       s.desc.Model,
				"backend":     s.backend,
				"streamed":    true,
				"interrupted": true,
				"fragments":   s.fragments,
			})
		} else {
			s.finishLocked("", nil)
		}
		s.logger.Debug("stream abandoned", "fragments", s.fragments)
	}
	s.mu.Unlock()

	return s.inner.Close()
}

// finishLocked appends the turn, if any, and returns the session to idle.
// A nil metadata map means nothing is appended.
func (s *sessionStream) finishLocked(content string, metadata map[string]any) {
	if s.finished {
		return
	}
	s.finished = true
	if metadata != nil {
		s.session.conv.AddAssistant(content, metadata)
	}

	s.session.mu.Lock()
	if s.session.active == s {
		s.session.active = nil
	}
	s.session.mu.Unlock()
	s.session.release()
}
