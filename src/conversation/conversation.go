package conversation

import (
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/google/uuid"
)

// DefaultSystemPrompt is used when a conversation is created without one.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// Message is a stored conversation turn.
type Message struct {
	Role      aisdk.Role
	Content   string
	CreatedAt time.Time
	Metadata  map[string]any
}

// Conversation is an ordered, bounded message store. At most one system
// message exists and it is always reported first. Non-system messages are
// trimmed oldest first to MaxHistory.
type Conversation struct {
	mu         sync.RWMutex
	id         string
	system     *Message
	messages   []*Message
	maxHistory int
	evicted    int
	now        func() time.Time
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithID sets the conversation identifier.
func WithID(id string) Option {
	return func(c *Conversation) { c.id = id }
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

// New creates a conversation. An empty system prompt selects DefaultSystemPrompt.
// Negative maxHistory is treated as zero.
func New(systemPrompt string, maxHistory int, opts ...Option) *Conversation {
	if maxHistory < 0 {
		maxHistory = 0
	}
	c := &Conversation{
		id:         uuid.NewString(),
		maxHistory: maxHistory,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	c.system = &Message{Role: aisdk.RoleSystem, Content: systemPrompt, CreatedAt: c.stamp()}
	return c
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// MaxHistory returns the non-system message bound.
func (c *Conversation) MaxHistory() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxHistory
}

// AddUser appends a user message.
func (c *Conversation) AddUser(text string, metadata map[string]any) {
	c.append(aisdk.RoleUser, text, metadata)
}

// AddAssistant appends an assistant message.
func (c *Conversation) AddAssistant(text string, metadata map[string]any) {
	c.append(aisdk.RoleAssistant, text, metadata)
}

// Add appends a message with an explicit role. A system role replaces the
// system prompt. Unknown roles fail with aisdk.ErrInvalidRole.
func (c *Conversation) Add(role aisdk.Role, text string, metadata map[string]any) error {
	switch role {
	case aisdk.RoleSystem:
		c.SetSystemPrompt(text)
	case aisdk.RoleUser, aisdk.RoleAssistant:
		c.append(role, text, metadata)
	default:
		return &aisdk.Error{Kind: aisdk.ErrInvalidRole, Message: "cannot append message with role " + string(role)}
	}
	return nil
}

func (c *Conversation) append(role aisdk.Role, text string, metadata map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, &Message{
		Role:      role,
		Content:   text,
		CreatedAt: c.stamp(),
		Metadata:  normalizeMetadata(metadata),
	})
	c.trim()
}

// trim drops the oldest non-system messages beyond maxHistory. A bound of
// zero still keeps the latest message.
func (c *Conversation) trim() {
	keep := c.maxHistory
	if keep < 1 {
		keep = 1
	}
	if over := len(c.messages) - keep; over > 0 {
		clear(c.messages[:over])
		c.messages = append(c.messages[:0:0], c.messages[over:]...)
		c.evicted += over
	}
}

// SetSystemPrompt replaces the system message.
func (c *Conversation) SetSystemPrompt(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = &Message{Role: aisdk.RoleSystem, Content: text, CreatedAt: c.stamp()}
}

// SystemPrompt returns the current system prompt text.
func (c *Conversation) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.system == nil {
		return ""
	}
	return c.system.Content
}

// Clear drops all non-system messages.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Len returns the number of non-system messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Evicted returns how many messages trimming has dropped so far.
func (c *Conversation) Evicted() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evicted
}

// Messages returns copies of all messages, system message first.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, 0, len(c.messages)+1)
	if c.system != nil {
		out = append(out, copyMessage(c.system))
	}
	for _, m := range c.messages {
		out = append(out, copyMessage(m))
	}
	return out
}

// ForGeneration returns the role/content projection handed to backends.
func (c *Conversation) ForGeneration() []aisdk.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]aisdk.Message, 0, len(c.messages)+1)
	if c.system != nil {
		out = append(out, aisdk.Message{Role: aisdk.RoleSystem, Content: c.system.Content})
	}
	for _, m := range c.messages {
		out = append(out, aisdk.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Summary describes the current state of a conversation.
type Summary struct {
	ConversationID    string     `json:"conversation_id,omitempty"`
	TotalMessages     int        `json:"total_messages"`
	UserMessages      int        `json:"user_messages"`
	AssistantMessages int        `json:"assistant_messages"`
	SystemPrompt      string     `json:"system_prompt,omitempty"`
	LastMessageTime   *time.Time `json:"last_message_time"`
	EvictedMessages   int        `json:"evicted_messages,omitempty"`
}

// Summary returns counts for the conversation.
func (c *Conversation) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summaryLocked()
}

func (c *Conversation) summaryLocked() Summary {
	s := Summary{
		ConversationID:  c.id,
		EvictedMessages: c.evicted,
	}
	if c.system != nil {
		s.TotalMessages++
		s.SystemPrompt = c.system.Content
	}
	for _, m := range c.messages {
		s.TotalMessages++
		switch m.Role {
		case aisdk.RoleUser:
			s.UserMessages++
		case aisdk.RoleAssistant:
			s.AssistantMessages++
		}
	}
	if n := len(c.messages); n > 0 {
		t := c.messages[n-1].CreatedAt
		s.LastMessageTime = &t
	}
	return s
}

func copyMessage(m *Message) Message {
	out := *m
	out.Metadata = normalizeMetadata(m.Metadata)
	return out
}

// stamp returns the current time in the form it takes after an export
// round trip: UTC without a monotonic reading.
func (c *Conversation) stamp() time.Time {
	return c.now().UTC().Round(0)
}

// normalizeMetadata copies m into its JSON form, so numbers are float64 and
// nested values are plain maps and slices. Stored metadata then compares
// equal before and after an export round trip. Values that cannot be
// encoded are kept as a shallow copy.
func normalizeMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return maps.Clone(m)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return maps.Clone(m)
	}
	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
