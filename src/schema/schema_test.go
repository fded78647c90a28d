package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, name string) map[string]any {
	t.Helper()
	s, err := ByName(name)
	data, err := MarshalIndent(s, err)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func prop(t *testing.T, obj map[string]any, path ...string) map[string]any {
	t.Helper()
	cur := obj
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		require.True(t, ok, "missing %q in %v", p, cur)
		cur = next
	}
	return cur
}

func TestExportSchema(t *testing.T) {
	doc := decode(t, "export")

	assert.Equal(t, Draft, doc["$schema"])
	assert.Equal(t, "parley conversation export", doc["title"])
	assert.Equal(t, "object", doc["type"])

	props := prop(t, doc, "properties")
	for _, key := range []string{"conversation_id", "system_prompt", "messages", "summary"} {
		assert.Contains(t, props, key)
	}

	message := prop(t, props, "messages", "items")
	role := prop(t, message, "properties", "role")
	assert.ElementsMatch(t, []any{"system", "user", "assistant"}, role["enum"])
	assert.ElementsMatch(t, []any{"role", "content"}, message["required"])

	timestamp := prop(t, message, "properties", "timestamp")
	assert.Equal(t, "date-time", timestamp["format"])

	summary := prop(t, props, "summary", "properties")
	assert.Contains(t, summary, "total_messages")
	assert.Contains(t, summary, "last_message_time")
}

func TestParamsSchema(t *testing.T) {
	doc := decode(t, "params")
	props := prop(t, doc, "properties")

	for _, key := range []string{"temperature", "max_tokens", "top_p", "top_k", "repeat_penalty", "stop"} {
		assert.Contains(t, props, key)
	}
	assert.Contains(t, doc["description"], "backend defaults")
}

func TestByNameUnknown(t *testing.T) {
	_, err := ByName("nope")
	assert.ErrorContains(t, err, "unknown schema")

	_, err = MarshalIndent(ByName("nope"))
	assert.Error(t, err)
}
