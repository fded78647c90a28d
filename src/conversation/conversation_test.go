package conversation

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != aisdk.RoleSystem {
			out = append(out, m.Content)
		}
	}
	return out
}

func TestNewDefaults(t *testing.T) {
	c := New("", 10)
	assert.Equal(t, DefaultSystemPrompt, c.SystemPrompt())
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, 0, c.Len())

	msgs := c.ForGeneration()
	require.Len(t, msgs, 1)
	assert.Equal(t, aisdk.RoleSystem, msgs[0].Role)
}

func TestTrimKeepsMostRecent(t *testing.T) {
	tests := []struct {
		name       string
		maxHistory int
		appends    int
		want       []string
	}{
		{name: "under limit", maxHistory: 5, appends: 3, want: []string{"m0", "m1", "m2"}},
		{name: "at limit", maxHistory: 3, appends: 3, want: []string{"m0", "m1", "m2"}},
		{name: "over limit", maxHistory: 3, appends: 7, want: []string{"m4", "m5", "m6"}},
		{name: "limit one", maxHistory: 1, appends: 4, want: []string{"m3"}},
		{name: "limit zero keeps latest", maxHistory: 0, appends: 4, want: []string{"m3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("sys", tt.maxHistory)
			for i := 0; i < tt.appends; i++ {
				if i%2 == 0 {
					c.AddUser(fmt.Sprintf("m%d", i), nil)
				} else {
					c.AddAssistant(fmt.Sprintf("m%d", i), nil)
				}
			}
			assert.Equal(t, tt.want, contents(c.Messages()))
			assert.Equal(t, "sys", c.SystemPrompt())
			assert.Equal(t, tt.appends-len(tt.want), c.Evicted())
		})
	}
}

func TestMaxHistoryZero(t *testing.T) {
	c := New("sys", 0)
	c.AddUser("a", nil)
	c.AddUser("b", nil)
	assert.Equal(t, []string{"b"}, contents(c.Messages()))
}

func TestSingleSystemMessage(t *testing.T) {
	c := New("first", 4)
	c.AddUser("hi", nil)
	c.SetSystemPrompt("second")
	c.AddAssistant("hello", nil)
	require.NoError(t, c.Add(aisdk.RoleSystem, "third", nil))
	c.AddUser("again", nil)

	var systems int
	for _, m := range c.Messages() {
		if m.Role == aisdk.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)

	gen := c.ForGeneration()
	assert.Equal(t, aisdk.Message{Role: aisdk.RoleSystem, Content: "third"}, gen[0])
	assert.Equal(t, []aisdk.Message{
		{Role: aisdk.RoleSystem, Content: "third"},
		{Role: aisdk.RoleUser, Content: "hi"},
		{Role: aisdk.RoleAssistant, Content: "hello"},
		{Role: aisdk.RoleUser, Content: "again"},
	}, gen)
}

func TestAddInvalidRole(t *testing.T) {
	c := New("sys", 4)
	err := c.Add(aisdk.Role("tool"), "x", nil)
	assert.ErrorIs(t, err, aisdk.ErrInvalidRole)
	assert.Equal(t, 0, c.Len())
}

func TestClearKeepsSystem(t *testing.T) {
	c := New("sys", 4)
	c.AddUser("a", nil)
	c.AddAssistant("b", nil)
	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, "sys", c.SystemPrompt())
	assert.Len(t, c.ForGeneration(), 1)
}

func TestMetadataIsCopied(t *testing.T) {
	c := New("sys", 4)
	meta := map[string]any{"k": "v"}
	c.AddUser("a", meta)
	meta["k"] = "changed"

	msgs := c.Messages()
	assert.Equal(t, "v", msgs[1].Metadata["k"])

	msgs[1].Metadata["k"] = "mutated"
	assert.Equal(t, "v", c.Messages()[1].Metadata["k"])
}

func TestSummary(t *testing.T) {
	c := New("sys", 10, WithClock(fixedClock()), WithID("conv-1"))
	s := c.Summary()
	assert.Equal(t, 1, s.TotalMessages)
	assert.Nil(t, s.LastMessageTime)

	c.AddUser("a", nil)
	c.AddAssistant("b", nil)
	c.AddUser("c", nil)

	s = c.Summary()
	assert.Equal(t, "conv-1", s.ConversationID)
	assert.Equal(t, 4, s.TotalMessages)
	assert.Equal(t, 2, s.UserMessages)
	assert.Equal(t, 1, s.AssistantMessages)
	assert.Equal(t, "sys", s.SystemPrompt)
	require.NotNil(t, s.LastMessageTime)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 4, 0, time.UTC), *s.LastMessageTime)
}

func TestExportImportRoundTrip(t *testing.T) {
	src := New("Be concise.", 10, WithClock(fixedClock()))
	src.AddUser("hello", map[string]any{"source": "cli"})
	src.AddAssistant("hi there", map[string]any{"model": "stub", "error": false})
	src.AddUser("bye", nil)

	data, err := src.Export()
	require.NoError(t, err)

	dst := New("", 2)
	require.NoError(t, dst.Import(data))

	assert.Equal(t, src.Messages(), dst.Messages())
	assert.Equal(t, src.SystemPrompt(), dst.SystemPrompt())
	assert.Equal(t, src.ID(), dst.ID())
	// imported history is trusted, not re-trimmed
	assert.Equal(t, 3, dst.Len())
}

func TestRoundTripWithNumericMetadata(t *testing.T) {
	src := New("sys", 10)
	src.AddAssistant("reply", map[string]any{
		"usage":     map[string]any{"prompt_tokens": 3, "completion_tokens": 2},
		"fragments": 4,
	})

	msgs := src.Messages()
	assert.Equal(t, float64(4), msgs[1].Metadata["fragments"])
	assert.Equal(t, time.UTC, msgs[1].CreatedAt.Location())

	data, err := src.Export()
	require.NoError(t, err)
	dst := New("", 10)
	require.NoError(t, dst.Import(data))

	got := dst.Messages()
	require.Len(t, got, len(msgs))
	for i := range msgs {
		assert.True(t, msgs[i].CreatedAt == got[i].CreatedAt, "message %d", i)
	}
	assert.Equal(t, msgs, got)
}

func TestExportShape(t *testing.T) {
	c := New("sys", 10, WithClock(fixedClock()))
	c.AddUser("q", nil)
	c.AddAssistant("a", nil)

	data, err := c.Export()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "sys", raw["system_prompt"])

	msgs := raw["messages"].([]any)
	require.Len(t, msgs, 3)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "2024-03-01T12:00:01Z", first["timestamp"])

	summary := raw["summary"].(map[string]any)
	assert.EqualValues(t, 3, summary["total_messages"])
	assert.EqualValues(t, 1, summary["user_messages"])
	assert.EqualValues(t, 1, summary["assistant_messages"])
	assert.Equal(t, "2024-03-01T12:00:03Z", summary["last_message_time"])
}

func TestImport(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		wantErr    error
		wantSystem string
		wantMsgs   []string
	}{
		{
			name:       "unknown fields ignored",
			doc:        `{"system_prompt":"s","messages":[{"role":"user","content":"x","extra":1}],"summary":{},"version":"2"}`,
			wantSystem: "s",
			wantMsgs:   []string{"x"},
		},
		{
			name:       "system only in messages",
			doc:        `{"messages":[{"role":"system","content":"from-messages"},{"role":"assistant","content":"y"}]}`,
			wantSystem: "from-messages",
			wantMsgs:   []string{"y"},
		},
		{
			name:       "missing timestamps and metadata",
			doc:        `{"system_prompt":"s","messages":[{"role":"user","content":"x"}]}`,
			wantSystem: "s",
			wantMsgs:   []string{"x"},
		},
		{
			name:    "invalid role",
			doc:     `{"system_prompt":"s","messages":[{"role":"tool","content":"x"}]}`,
			wantErr: aisdk.ErrInvalidRole,
		},
		{
			name:    "malformed json",
			doc:     `{"messages":`,
			wantErr: aisdk.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("original", 10)
			c.AddUser("keep-on-error", nil)

			err := c.Import([]byte(tt.doc))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, []string{"keep-on-error"}, contents(c.Messages()))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSystem, c.SystemPrompt())
			assert.Equal(t, tt.wantMsgs, contents(c.Messages()))
			for _, m := range c.Messages() {
				assert.NotNil(t, m.Metadata)
				assert.False(t, m.CreatedAt.IsZero())
			}
		})
	}
}
