package registry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/provider/echo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend lets tests control the descriptor flags the policy reads.
type fakeBackend struct {
	*echo.Backend
	desc aisdk.Descriptor
}

func (f *fakeBackend) Describe() aisdk.Descriptor { return f.desc }

func newFake(name string, hosted, creds, available bool) *fakeBackend {
	return &fakeBackend{
		Backend: echo.New(echo.Config{Name: name, Unavailable: !available}),
		desc: aisdk.Descriptor{
			Name:                name,
			Hosted:              hosted,
			RequiresCredentials: creds,
		},
	}
}

func TestRegisterAndSelect(t *testing.T) {
	ctx := context.Background()
	r := New()

	require.NoError(t, r.Register(ctx, "a", newFake("a", false, false, true)))
	require.NoError(t, r.Register(ctx, "b", newFake("b", false, false, false)))

	err := r.Register(ctx, "a", newFake("a", false, false, true))
	assert.ErrorIs(t, err, aisdk.ErrInvalidRequest)
	assert.ErrorIs(t, r.Register(ctx, "", newFake("x", false, false, true)), aisdk.ErrInvalidRequest)

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, []string{"a"}, r.Available())

	b, err := r.Select("b")
	require.NoError(t, err)
	assert.Equal(t, "b", b.Describe().Name)

	_, err = r.Select("missing")
	assert.ErrorIs(t, err, aisdk.ErrUnknownBackend)
	_, err = r.Entry("missing")
	assert.ErrorIs(t, err, aisdk.ErrUnknownBackend)
}

func TestAvailabilityIsSnapshot(t *testing.T) {
	ctx := context.Background()
	r := New()
	backend := echo.New(echo.Config{Name: "e"})
	require.NoError(t, r.Register(ctx, "e", backend))
	assert.Equal(t, []string{"e"}, r.Available())

	require.NoError(t, backend.Close())
	assert.Equal(t, []string{"e"}, r.Available())

	r.Refresh(ctx)
	assert.Empty(t, r.Available())
}

func TestDefaultPolicy(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		want    string
		wantErr error
	}{
		{
			name:    "empty",
			wantErr: aisdk.ErrUnknownBackend,
		},
		{
			name: "credentialed hosted wins over earlier free",
			entries: []Entry{
				{Name: "ollama", Available: true},
				{Name: "hf", Available: true, Descriptor: aisdk.Descriptor{Hosted: true}},
				{Name: "openai", Available: true, Descriptor: aisdk.Descriptor{Hosted: true, RequiresCredentials: true}},
			},
			want: "openai",
		},
		{
			name: "first credential free in order",
			entries: []Entry{
				{Name: "ollama", Available: false},
				{Name: "hf", Available: true, Descriptor: aisdk.Descriptor{Hosted: true}},
				{Name: "local", Available: true},
			},
			want: "hf",
		},
		{
			name: "unavailable credentialed skipped",
			entries: []Entry{
				{Name: "openai", Available: false, Descriptor: aisdk.Descriptor{Hosted: true, RequiresCredentials: true}},
				{Name: "local", Available: true},
			},
			want: "local",
		},
		{
			name: "nothing available falls back to first",
			entries: []Entry{
				{Name: "x", Available: false},
				{Name: "y", Available: false},
			},
			want: "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefaultPolicy(tt.entries)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverridePolicy(t *testing.T) {
	ctx := context.Background()
	r := New(WithPolicy(func(entries []Entry) (string, error) {
		return entries[len(entries)-1].Name, nil
	}))
	require.NoError(t, r.Register(ctx, "first", newFake("first", true, true, true)))
	require.NoError(t, r.Register(ctx, "last", newFake("last", false, false, true)))

	name, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "last", name)

	r.SetPolicy(func([]Entry) (string, error) { return "ghost", nil })
	_, err = r.Default()
	assert.ErrorIs(t, err, aisdk.ErrUnknownBackend)

	r.SetPolicy(nil)
	name, err = r.Default()
	require.NoError(t, err)
	assert.Equal(t, "first", name)
}

func TestEmptyRegistryDefault(t *testing.T) {
	_, err := New().Default()
	assert.ErrorIs(t, err, aisdk.ErrUnknownBackend)
}

func TestLoggingMiddlewareAndClose(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	backend := echo.New(echo.Config{})
	r := New(WithMiddleware(LoggingMiddleware(logger)))
	require.NoError(t, r.Register(ctx, "echo", backend))

	b, err := r.Select("echo")
	require.NoError(t, err)
	msgs := []aisdk.Message{{Role: aisdk.RoleUser, Content: "hi"}}

	_, err = b.Generate(ctx, msgs, aisdk.Params{})
	require.NoError(t, err)

	stream, err := b.GenerateStream(ctx, msgs, aisdk.Params{})
	require.NoError(t, err)
	content, err := aisdk.CollectStreamContent(stream)
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", content)

	assert.Contains(t, buf.String(), "generation complete")
	assert.Contains(t, buf.String(), "stream complete")

	require.NoError(t, r.Close())
	assert.False(t, backend.IsAvailable(ctx))
}
