package aisdk

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Label returns the capitalized role name used in flattened prompts.
func (r Role) Label() string {
	switch r {
	case RoleSystem:
		return "System"
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	}
	return string(r)
}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", &Error{Kind: ErrInvalidRole, Message: "unrecognized role " + s}
	}
	return r, nil
}

// Message is the API-facing message shape every backend consumes.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// FinishReason describes why generation stopped.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelResponse is the result of a single non-streaming generation.
type ModelResponse struct {
	Content      string         `json:"content"`
	ModelID      string         `json:"model_id"`
	Usage        *Usage         `json:"usage,omitempty"`
	FinishReason FinishReason   `json:"finish_reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// StreamingMode tells callers whether a backend streams natively.
type StreamingMode string

const (
	StreamingNative    StreamingMode = "native"
	StreamingSimulated StreamingMode = "simulated"
)

// Descriptor is static information about a backend.
type Descriptor struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// SupportsStreaming is true only when the transport delivers output
	// incrementally. Simulated streams report false.
	SupportsStreaming bool `json:"supports_streaming"`

	// Hosted backends are reached over the network at a third party.
	Hosted bool `json:"hosted"`

	// RequiresCredentials is true when the backend cannot work without an
	// API key.
	RequiresCredentials bool `json:"requires_credentials"`

	Defaults Params `json:"defaults"`
}

// StreamingMode returns the streaming mode implied by the descriptor.
func (d Descriptor) StreamingMode() StreamingMode {
	if d.SupportsStreaming {
		return StreamingNative
	}
	return StreamingSimulated
}

// EstimateTokens returns a rough token count for text.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// EstimateUsage builds a Usage from prompt and completion text when a
// backend does not report counts itself.
func EstimateUsage(prompt, completion string) *Usage {
	p, c := EstimateTokens(prompt), EstimateTokens(completion)
	return &Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}
