package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessages = []aisdk.Message{
	{Role: aisdk.RoleSystem, Content: "You are terse."},
	{Role: aisdk.RoleUser, Content: "Why is the sky blue?"},
}

type fakeServer struct {
	tagsCalls atomic.Int32
	fragments []string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/tags":
		f.tagsCalls.Add(1)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama2:latest","size":3825819519},{"name":"mistral:7b"}]}`))
	case "/api/generate":
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "llama2" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model 'x' not found"}`))
			return
		}
		if !req.Stream {
			full := ""
			for _, f := range f.fragments {
				full += f
			}
			_ = json.NewEncoder(w).Encode(generateResponse{
				Model: "llama2", Response: full, Done: true, DoneReason: "stop",
				PromptEvalCount: 12, EvalCount: 5, TotalDuration: int64(time.Second),
			})
			return
		}
		for _, frag := range f.fragments {
			data, _ := json.Marshal(generateResponse{Model: "llama2", Response: frag})
			fmt.Fprintf(w, "%s\n", data)
		}
		data, _ := json.Marshal(generateResponse{Model: "llama2", Done: true, DoneReason: "stop", EvalCount: 5})
		fmt.Fprintf(w, "%s\n", data)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, model string) (*Client, *fakeServer) {
	t.Helper()
	fake := &fakeServer{fragments: []string{"Rayleigh", " scattering", "."}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL + "/", Model: model}), fake
}

func TestDescribe(t *testing.T) {
	c := NewClient(Config{})
	d := c.Describe()
	assert.Equal(t, "ollama-llama2", d.Name)
	assert.True(t, d.SupportsStreaming)
	assert.False(t, d.Hosted)
	assert.False(t, d.RequiresCredentials)
	assert.Equal(t, 40, *d.Defaults.TopK)
}

func TestIsAvailable(t *testing.T) {
	c, fake := newTestClient(t, "llama2")
	assert.True(t, c.IsAvailable(context.Background()))
	assert.True(t, c.IsAvailable(context.Background()))
	assert.Equal(t, int32(1), fake.tagsCalls.Load(), "tags should be cached")

	missing, _ := newTestClient(t, "phi3")
	assert.False(t, missing.IsAvailable(context.Background()))

	down := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, down.IsAvailable(context.Background()))
}

func TestMatchModel(t *testing.T) {
	assert.True(t, matchModel("llama2:latest", "llama2"))
	assert.True(t, matchModel("mistral:7b", "mistral:7b"))
	assert.False(t, matchModel("mistral:7b", "mistral"))
	assert.False(t, matchModel("llama2:13b", "llama2:latest"))
}

func TestBuildRequestFlattensPrompt(t *testing.T) {
	c := NewClient(Config{})
	req, err := c.buildRequest(testMessages, aisdk.Params{MaxTokens: aisdk.Int(50)}, false)
	require.NoError(t, err)
	assert.Equal(t, "System: You are terse.\nUser: Why is the sky blue?\nAssistant:", req.Prompt)
	assert.Equal(t, 50, *req.Options.NumPredict)
	assert.Equal(t, 1.1, *req.Options.RepeatPenalty)
}

func TestGenerate(t *testing.T) {
	c, _ := newTestClient(t, "llama2")
	resp, err := c.Generate(context.Background(), testMessages, aisdk.Params{})
	require.NoError(t, err)
	assert.Equal(t, "Rayleigh scattering.", resp.Content)
	assert.Equal(t, aisdk.FinishStop, resp.FinishReason)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Equal(t, "1s", resp.Metadata["total_duration"])
}

func TestGenerateUnknownModel(t *testing.T) {
	c, _ := newTestClient(t, "nope")
	_, err := c.Generate(context.Background(), testMessages, aisdk.Params{})
	assert.ErrorIs(t, err, aisdk.ErrInvalidRequest)
	assert.ErrorContains(t, err, "not found")
}

func TestStreamMatchesGenerate(t *testing.T) {
	c, _ := newTestClient(t, "llama2")

	resp, err := c.Generate(context.Background(), testMessages, aisdk.Params{})
	require.NoError(t, err)

	stream, err := c.GenerateStream(context.Background(), testMessages, aisdk.Params{})
	require.NoError(t, err)
	content, err := aisdk.CollectStreamContent(stream)
	require.NoError(t, err)

	assert.Equal(t, resp.Content, content)
}

func TestStreamTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial"}`)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	stream, err := c.GenerateStream(context.Background(), testMessages, aisdk.Params{})
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Read()
	require.NoError(t, err)
	assert.Equal(t, "partial", first)

	_, err = stream.Read()
	assert.ErrorIs(t, err, aisdk.ErrBackendUnavailable)
}

func TestModelCacheExpiry(t *testing.T) {
	var calls int
	cache := NewModelCache(func(ctx context.Context) ([]ModelInfo, error) {
		calls++
		return []ModelInfo{{Name: "m"}}, nil
	}, time.Minute)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, err := cache.Models(context.Background())
	require.NoError(t, err)
	_, _ = cache.Models(context.Background())
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	_, _ = cache.Models(context.Background())
	assert.Equal(t, 2, calls)

	cache.Invalidate()
	_, _ = cache.Models(context.Background())
	assert.Equal(t, 3, calls)
}
