// Package registry maps backend names to adapters and picks a default.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/elee1766/parley/src/aisdk"
)

// Entry is a registered backend with its availability snapshot.
type Entry struct {
	Name       string
	Backend    aisdk.Backend
	Descriptor aisdk.Descriptor
	Available  bool
	CheckedAt  time.Time
}

// Policy picks the default backend name from the registered entries, in
// registration order.
type Policy func(entries []Entry) (string, error)

// DefaultPolicy prefers the first available hosted backend that needs
// credentials, then the first available backend that needs none. With
// nothing available it falls back to the first registered backend.
func DefaultPolicy(entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", aisdk.NewError(aisdk.ErrUnknownBackend, "", "no backends registered")
	}
	for _, e := range entries {
		if e.Available && e.Descriptor.Hosted && e.Descriptor.RequiresCredentials {
			return e.Name, nil
		}
	}
	for _, e := range entries {
		if e.Available && !e.Descriptor.RequiresCredentials {
			return e.Name, nil
		}
	}
	return entries[0].Name, nil
}

// Registry holds the backends shared by every session. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	order      []string
	policy     Policy
	middleware []Middleware
	logger     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithMiddleware wraps every backend registered afterwards. Middleware is
// applied in order, the first being the outermost layer.
func WithMiddleware(mw ...Middleware) Option {
	return func(r *Registry) { r.middleware = append(r.middleware, mw...) }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		policy:  DefaultPolicy,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Register adds backend under name and records whether it is available
// right now. The snapshot is not refreshed unless Refresh is called.
func (r *Registry) Register(ctx context.Context, name string, backend aisdk.Backend) error {
	if name == "" {
		return aisdk.NewError(aisdk.ErrInvalidRequest, "", "backend name cannot be empty")
	}
	if backend == nil {
		return aisdk.NewError(aisdk.ErrInvalidRequest, name, "backend cannot be nil")
	}

	r.mu.RLock()
	_, exists := r.entries[name]
	mw := r.middleware
	r.mu.RUnlock()
	if exists {
		return aisdk.NewError(aisdk.ErrInvalidRequest, name, fmt.Sprintf("backend %s is already registered", name))
	}

	// Probe outside the lock; probes may do network I/O.
	available := backend.IsAvailable(ctx)
	desc := backend.Describe()

	wrapped := backend
	for i := len(mw) - 1; i >= 0; i-- {
		wrapped = mw[i](name, wrapped)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return aisdk.NewError(aisdk.ErrInvalidRequest, name, fmt.Sprintf("backend %s is already registered", name))
	}
	r.entries[name] = &Entry{
		Name:       name,
		Backend:    wrapped,
		Descriptor: desc,
		Available:  available,
		CheckedAt:  time.Now(),
	}
	r.order = append(r.order, name)

	r.logger.Info("registered backend",
		"name", name,
		"provider", desc.Provider,
		"model", desc.Model,
		"available", available,
		"streaming", desc.StreamingMode(),
	)
	return nil
}

// Select returns the backend registered under name.
func (r *Registry) Select(name string) (aisdk.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, aisdk.NewError(aisdk.ErrUnknownBackend, name, fmt.Sprintf("backend %q is not registered", name))
	}
	return e.Backend, nil
}

// Has checks if name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns every registered name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Available returns the names whose snapshot reported available, in
// registration order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.order {
		if r.entries[name].Available {
			out = append(out, name)
		}
	}
	return out
}

// Entries returns a copy of every entry in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.entries[name])
	}
	return out
}

// Entry returns the entry for name.
func (r *Registry) Entry(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, aisdk.NewError(aisdk.ErrUnknownBackend, name, fmt.Sprintf("backend %q is not registered", name))
	}
	return *e, nil
}

// Refresh re-probes every backend and updates the snapshots.
func (r *Registry) Refresh(ctx context.Context) {
	for _, e := range r.Entries() {
		available := e.Backend.IsAvailable(ctx)

		r.mu.Lock()
		if cur, ok := r.entries[e.Name]; ok {
			cur.Available = available
			cur.CheckedAt = time.Now()
		}
		r.mu.Unlock()
	}
}

// SetPolicy replaces the default-selection policy.
func (r *Registry) SetPolicy(p Policy) {
	if p == nil {
		p = DefaultPolicy
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// Default applies the policy to the current entries.
func (r *Registry) Default() (string, error) {
	r.mu.RLock()
	policy := r.policy
	r.mu.RUnlock()

	name, err := policy(r.Entries())
	if err != nil {
		return "", err
	}
	if !r.Has(name) {
		return "", aisdk.NewError(aisdk.ErrUnknownBackend, name, "policy selected an unregistered backend")
	}
	return name, nil
}

// Close releases every backend that holds resources.
func (r *Registry) Close() error {
	var errs []error
	for _, e := range r.Entries() {
		closer, ok := e.Backend.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			r.logger.Warn("failed to close backend", "name", e.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
		}
	}
	return errors.Join(errs...)
}
