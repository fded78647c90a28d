package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		APIKey:  "ak-test",
		BaseURL: server.URL,
		Model:   "claude-test",
		Retry:   aisdk.RetryPolicy{Attempts: 2, Delay: time.Millisecond},
	})
}

func TestBuildRequestFoldsSystem(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	req, err := c.buildRequest([]aisdk.Message{
		{Role: aisdk.RoleSystem, Content: "Rule one."},
		{Role: aisdk.RoleUser, Content: "hi"},
		{Role: aisdk.RoleAssistant, Content: "hello"},
		{Role: aisdk.RoleUser, Content: "bye"},
	}, aisdk.Params{MaxTokens: aisdk.Int(64)}, false)
	require.NoError(t, err)

	assert.Equal(t, "Rule one.", req.System)
	assert.Equal(t, 64, req.MaxTokens)
	require.Len(t, req.Messages, 3)
	for _, m := range req.Messages {
		assert.NotEqual(t, "system", m.Role)
	}

	_, err = c.buildRequest([]aisdk.Message{{Role: aisdk.RoleSystem, Content: "only"}}, aisdk.Params{}, false)
	assert.ErrorIs(t, err, aisdk.ErrInvalidRequest)
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))

		var req messageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Be kind.", req.System)
		assert.Equal(t, 4000, req.MaxTokens)

		_, _ = w.Write([]byte(`{"id":"msg_1","model":"claude-test","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"stop_reason":"max_tokens","usage":{"input_tokens":10,"output_tokens":3}}`))
	})

	resp, err := c.Generate(context.Background(), []aisdk.Message{
		{Role: aisdk.RoleSystem, Content: "Be kind."},
		{Role: aisdk.RoleUser, Content: "hello"},
	}, aisdk.Params{})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, aisdk.FinishLength, resp.FinishReason)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
}

func TestGenerateAuthError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	})

	_, err := c.Generate(context.Background(), []aisdk.Message{{Role: aisdk.RoleUser, Content: "x"}}, aisdk.Params{})
	assert.ErrorIs(t, err, aisdk.ErrBackendUnavailable)
	assert.ErrorContains(t, err, "invalid x-api-key")
}

func TestGenerateStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`event: message_start` + "\n" + `data: {"type":"message_start","message":{"id":"msg_1"}}`,
			`event: content_block_start` + "\n" + `data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`event: ping` + "\n" + `data: {"type":"ping"}`,
			`event: content_block_delta` + "\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
			`event: content_block_delta` + "\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":", world"}}`,
			`event: content_block_stop` + "\n" + `data: {"type":"content_block_stop","index":0}`,
			`event: message_delta` + "\n" + `data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`,
			`event: message_stop` + "\n" + `data: {"type":"message_stop"}`,
		}
		fmt.Fprint(w, strings.Join(events, "\n\n")+"\n\n")
	})

	stream, err := c.GenerateStream(context.Background(), []aisdk.Message{{Role: aisdk.RoleUser, Content: "x"}}, aisdk.Params{})
	require.NoError(t, err)

	content, err := aisdk.CollectStreamContent(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", content)
}

func TestGenerateStreamErrorEvent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	})

	stream, err := c.GenerateStream(context.Background(), []aisdk.Message{{Role: aisdk.RoleUser, Content: "x"}}, aisdk.Params{})
	require.NoError(t, err)

	_, err = aisdk.CollectStreamContent(stream)
	assert.ErrorIs(t, err, aisdk.ErrBackendUnavailable)
}
