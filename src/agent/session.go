// Package agent drives a conversation against a selected backend.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/conversation"
	"github.com/elee1766/parley/src/registry"
)

// Config configures a Session.
type Config struct {
	Registry *registry.Registry

	// Backend names the initial backend. Empty selects the registry default.
	Backend string

	SystemPrompt string
	MaxHistory   int
	Params       aisdk.Params

	// OwnsRegistry makes Close release the registry's backends.
	OwnsRegistry bool

	ConversationOptions []conversation.Option
	Logger              *slog.Logger
}

// Reply is the outcome of one chat turn. Content is what was appended to
// the conversation; on failure it is the apology text and Err holds the cause.
type Reply struct {
	Content  string
	Backend  string
	Response *aisdk.ModelResponse
	Err      error
}

// Session owns one conversation and allows a single request in flight.
type Session struct {
	registry *registry.Registry
	conv     *conversation.Conversation
	owns     bool
	logger   *slog.Logger

	busy atomic.Bool

	mu          sync.RWMutex
	backendName string
	backend     aisdk.Backend
	params      aisdk.Params
	active      *sessionStream
}

// New creates a session bound to the configured or default backend.
func New(cfg Config) (*Session, error) {
	if cfg.Registry == nil {
		return nil, aisdk.NewError(aisdk.ErrInvalidRequest, "", "session requires a registry")
	}

	name := cfg.Backend
	if name == "" {
		var err error
		name, err = cfg.Registry.Default()
		if err != nil {
			return nil, err
		}
	}
	backend, err := cfg.Registry.Select(name)
	if err != nil {
		return nil, err
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, aisdk.Wrap(aisdk.ErrInvalidRequest, name, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conv := conversation.New(cfg.SystemPrompt, cfg.MaxHistory, cfg.ConversationOptions...)
	s := &Session{
		registry:    cfg.Registry,
		conv:        conv,
		owns:        cfg.OwnsRegistry,
		backendName: name,
		backend:     backend,
		params:      cfg.Params,
		logger:      logger.With("component", "session", "conversation_id", conv.ID()),
	}
	s.logger.Debug("session created", "backend", name, "max_history", conv.MaxHistory())
	return s, nil
}

func busyError() error {
	return aisdk.NewError(aisdk.ErrSessionBusy, "", "a request is already in flight")
}

// acquire marks the session busy for an operation that must not overlap a
// request.
func (s *Session) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return busyError()
	}
	return nil
}

func (s *Session) release() {
	s.busy.Store(false)
}

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

func (s *Session) current() (string, aisdk.Backend, aisdk.Params) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backendName, s.backend, s.params
}

// Chat sends text and appends the reply. Backend failures do not return an
// error: an apology is appended and returned in Reply, with the cause in
// Reply.Err. The returned error is reserved for SessionBusy.
func (s *Session) Chat(ctx context.Context, text string) (*Reply, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	name, backend, params := s.current()
	logger := s.logger.With("method", "Chat", "backend", name)

	s.conv.AddUser(text, nil)
	resp, err := backend.Generate(ctx, s.conv.ForGeneration(), params)
	if err != nil {
		logger.Warn("generation failed", "error_kind", aisdk.KindName(err), "error", err)
		content := ApologyText(err)
		s.conv.AddAssistant(content, errorMetadata(name, err))
		return &Reply{Content: content, Backend: name, Err: err}, nil
	}

	s.conv.AddAssistant(resp.Content, successMetadata(name, resp))
	logger.Debug("reply appended", "chars", len(resp.Content))
	return &Reply{Content: resp.Content, Backend: name, Response: resp}, nil
}

// ChatStream sends text and returns the reply as a stream. The assistant
// turn is appended when the stream is exhausted. A backend failure, at start
// or mid-stream, is delivered as a final apology fragment. Closing the
// stream early appends whatever was already read, marked interrupted. The
// session stays busy until the stream ends or is closed.
func (s *Session) ChatStream(ctx context.Context, text string) (aisdk.Stream, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}

	name, backend, params := s.current()
	logger := s.logger.With("method", "ChatStream", "backend", name)

	s.conv.AddUser(text, nil)
	inner, err := backend.GenerateStream(ctx, s.conv.ForGeneration(), params)
	if err != nil {
		logger.Warn("stream failed to start", "error_kind", aisdk.KindName(err), "error", err)
		content := ApologyText(err)
		s.conv.AddAssistant(content, errorMetadata(name, err))
		s.release()

		sent := false
		return aisdk.NewFuncStream(func() (string, error) {
			if sent {
				return "", io.EOF
			}
			sent = true
			return content, nil
		}, nil), nil
	}

	ss := &sessionStream{
		session: s,
		inner:   inner,
		backend: name,
		desc:    backend.Describe(),
		logger:  logger,
	}
	s.mu.Lock()
	s.active = ss
	s.mu.Unlock()
	return ss, nil
}

// SwitchBackend makes name the backend for later requests.
func (s *Session) SwitchBackend(name string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	backend, err := s.registry.Select(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.backendName
	s.backendName = name
	s.backend = backend
	s.mu.Unlock()

	s.logger.Info("switched backend", "from", prev, "to", name)
	return nil
}

// Backend returns the current backend name.
func (s *Session) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backendName
}

// SetParams replaces the generation parameters sent with each request.
func (s *Session) SetParams(p aisdk.Params) error {
	if err := p.Validate(); err != nil {
		return aisdk.Wrap(aisdk.ErrInvalidRequest, "", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	return nil
}

// ListBackends returns the registry entries.
func (s *Session) ListBackends() []registry.Entry {
	return s.registry.Entries()
}

// SetSystemPrompt replaces the system prompt.
func (s *Session) SetSystemPrompt(text string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	s.conv.SetSystemPrompt(text)
	return nil
}

// Clear drops all non-system messages.
func (s *Session) Clear() error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	s.conv.Clear()
	return nil
}

// Conversation returns the underlying conversation for read access.
func (s *Session) Conversation() *conversation.Conversation {
	return s.conv
}

// Summary returns the conversation summary.
func (s *Session) Summary() conversation.Summary {
	return s.conv.Summary()
}

// Export serializes the conversation.
func (s *Session) Export() ([]byte, error) {
	return s.conv.Export()
}

// Import replaces the conversation with a serialized one.
func (s *Session) Import(data []byte) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	return s.conv.Import(data)
}

// Info describes the session state.
type Info struct {
	ConversationID string               `json:"conversation_id"`
	Backend        string               `json:"backend"`
	Descriptor     aisdk.Descriptor     `json:"descriptor"`
	StreamingMode  aisdk.StreamingMode  `json:"streaming_mode"`
	Available      []string             `json:"available_backends"`
	MaxHistory     int                  `json:"max_history"`
	Busy           bool                 `json:"busy"`
	Summary        conversation.Summary `json:"summary"`
}

// Info returns the session state.
func (s *Session) Info() Info {
	name, backend, _ := s.current()
	desc := backend.Describe()
	return Info{
		ConversationID: s.conv.ID(),
		Backend:        name,
		Descriptor:     desc,
		StreamingMode:  desc.StreamingMode(),
		Available:      s.registry.Available(),
		MaxHistory:     s.conv.MaxHistory(),
		Busy:           s.Busy(),
		Summary:        s.conv.Summary(),
	}
}

// Close abandons any active stream and, if the session owns the registry,
// releases every backend.
func (s *Session) Close() error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	var err error
	if active != nil {
		err = active.Close()
	}
	if s.owns {
		if cerr := s.registry.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ApologyText is the assistant reply recorded for a failed request.
func ApologyText(err error) string {
	return fmt.Sprintf("I apologize, but I encountered an error: %v", err)
}

func successMetadata(backend string, resp *aisdk.ModelResponse) map[string]any {
	md := map[string]any{
		"model":         resp.ModelID,
		"backend":       backend,
		"finish_reason": string(resp.FinishReason),
	}
	if resp.Usage != nil {
		md["usage"] = map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	return md
}

func errorMetadata(backend string, err error) map[string]any {
	return map[string]any{
		"backend":    backend,
		"error":      true,
		"error_kind": aisdk.KindName(err),
	}
}
