package aisdk

import (
	"context"
	"fmt"
	"strings"
)

// Backend is a text generation backend. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Generate produces a complete response.
	Generate(ctx context.Context, msgs []Message, params Params) (*ModelResponse, error)

	// GenerateStream produces the response as a sequence of fragments whose
	// concatenation equals the content Generate would return.
	GenerateStream(ctx context.Context, msgs []Message, params Params) (Stream, error)

	// IsAvailable is a cheap readiness probe. It never fails.
	IsAvailable(ctx context.Context) bool

	// Describe returns static information about the backend.
	Describe() Descriptor
}

// Stream is a finite, non-restartable sequence of text fragments.
// Read returns io.EOF after the last fragment. Close releases the
// underlying connection or worker and may be called at any time.
type Stream interface {
	Read() (string, error)
	Close() error
}

// ValidateMessages checks the shape of a message list before it is handed
// to a transport.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return &Error{Kind: ErrInvalidRequest, Message: "messages must not be empty"}
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return &Error{Kind: ErrInvalidRequest, Message: fmt.Sprintf("message %d has invalid role %q", i, m.Role)}
		}
	}
	return nil
}

// SplitSystem separates system messages from the conversation turns. Multiple
// system entries are joined with a blank line.
func SplitSystem(msgs []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// RenderPrompt flattens messages for prompt-completion backends. Each turn
// becomes a "<Role>: <content>" line and the prompt ends with an assistant cue.
func RenderPrompt(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role.Label())
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString(RoleAssistant.Label())
	b.WriteString(":")
	return b.String()
}
