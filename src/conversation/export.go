package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/elee1766/parley/src/aisdk"
)

// Document is the serialized form of a conversation.
type Document struct {
	ConversationID string            `json:"conversation_id,omitempty" description:"Identifier of the exported conversation"`
	SystemPrompt   string            `json:"system_prompt" description:"System prompt in effect at export time"`
	Messages       []DocumentMessage `json:"messages" description:"Messages in order, system message first"`
	Summary        DocumentSummary   `json:"summary"`
}

// DocumentMessage is a single serialized message.
type DocumentMessage struct {
	Role      string         `json:"role" enum:"system,user,assistant" required:"true"`
	Content   string         `json:"content" required:"true"`
	Timestamp *time.Time     `json:"timestamp,omitempty" format:"date-time" description:"ISO-8601 creation time"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DocumentSummary holds message counts at export time. It is informational
// and ignored on import.
type DocumentSummary struct {
	TotalMessages     int        `json:"total_messages"`
	UserMessages      int        `json:"user_messages"`
	AssistantMessages int        `json:"assistant_messages"`
	LastMessageTime   *time.Time `json:"last_message_time" format:"date-time"`
}

// Document builds the export document for the conversation.
func (c *Conversation) Document() Document {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc := Document{
		ConversationID: c.id,
		Messages:       make([]DocumentMessage, 0, len(c.messages)+1),
	}
	if c.system != nil {
		doc.SystemPrompt = c.system.Content
		doc.Messages = append(doc.Messages, documentMessage(c.system))
	}
	for _, m := range c.messages {
		doc.Messages = append(doc.Messages, documentMessage(m))
	}

	s := c.summaryLocked()
	doc.Summary = DocumentSummary{
		TotalMessages:     s.TotalMessages,
		UserMessages:      s.UserMessages,
		AssistantMessages: s.AssistantMessages,
		LastMessageTime:   s.LastMessageTime,
	}
	return doc
}

func documentMessage(m *Message) DocumentMessage {
	ts := m.CreatedAt.UTC()
	return DocumentMessage{
		Role:      string(m.Role),
		Content:   m.Content,
		Timestamp: &ts,
		Metadata:  cloneMetadata(m.Metadata),
	}
}

// Export serializes the conversation to JSON.
func (c *Conversation) Export() ([]byte, error) {
	data, err := json.MarshalIndent(c.Document(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return data, nil
}

// Import replaces the conversation contents with a serialized document.
// Trimming is not reapplied. Unknown fields are ignored.
func (c *Conversation) Import(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return &aisdk.Error{Kind: aisdk.ErrInvalidRequest, Message: "malformed conversation document", Err: err}
	}
	return c.Load(doc)
}

// Load replaces the conversation contents with doc.
func (c *Conversation) Load(doc Document) error {
	now := c.stamp()

	var system *Message
	messages := make([]*Message, 0, len(doc.Messages))
	for i, dm := range doc.Messages {
		role, err := aisdk.ParseRole(dm.Role)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		m := &Message{
			Role:      role,
			Content:   dm.Content,
			CreatedAt: now,
			Metadata:  normalizeMetadata(dm.Metadata),
		}
		if dm.Timestamp != nil {
			m.CreatedAt = dm.Timestamp.UTC().Round(0)
		}
		if role == aisdk.RoleSystem {
			system = m
			continue
		}
		messages = append(messages, m)
	}

	if doc.SystemPrompt != "" && (system == nil || system.Content != doc.SystemPrompt) {
		system = &Message{Role: aisdk.RoleSystem, Content: doc.SystemPrompt, CreatedAt: now}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if doc.ConversationID != "" {
		c.id = doc.ConversationID
	}
	if system != nil {
		c.system = system
	}
	c.messages = messages
	c.evicted = 0
	return nil
}
