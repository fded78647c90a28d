package aisdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds. Every error produced by a backend, the registry or a session
// matches exactly one of these with errors.Is.
var (
	// ErrInvalidRole indicates a message with an unrecognized role
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidRequest indicates malformed messages or parameters
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBackendUnavailable indicates a transport, auth or availability failure
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates provider throttling
	ErrRateLimited = errors.New("rate limited")

	// ErrUnknownBackend indicates a lookup of an unregistered backend
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrSessionBusy indicates a session already has a request in flight
	ErrSessionBusy = errors.New("session busy")

	// ErrGenerationFailed is the catch-all for backend-reported failures
	ErrGenerationFailed = errors.New("generation failed")
)

var kinds = []error{
	ErrInvalidRole,
	ErrInvalidRequest,
	ErrBackendUnavailable,
	ErrRateLimited,
	ErrUnknownBackend,
	ErrSessionBusy,
	ErrGenerationFailed,
}

// Error is a classified failure.
type Error struct {
	Kind       error
	Backend    string
	Message    string
	StatusCode int

	// RetryAfter is the provider's hint for rate limited requests.
	RetryAfter time.Duration

	// Temporary marks conditions the adapter may retry on its own, such as
	// a model that is still loading.
	Temporary bool

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Backend != "" {
		b.WriteString(e.Backend)
		b.WriteString(": ")
	}
	kind := e.Kind
	if kind == nil {
		kind = ErrGenerationFailed
	}
	b.WriteString(kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	kind := e.Kind
	if kind == nil {
		kind = ErrGenerationFailed
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// Retryable returns true if an adapter may retry the failed call itself.
func (e *Error) Retryable() bool {
	return e.Kind == ErrRateLimited || e.Temporary
}

// NewError creates a classified error for a backend.
func NewError(kind error, backend, message string) *Error {
	return &Error{Kind: kind, Backend: backend, Message: message}
}

// Wrap classifies err as kind unless it already carries a classification.
func Wrap(kind error, backend string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Backend == "" {
			e.Backend = backend
		}
		return e
	}
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// FromContext classifies a cancellation or deadline error.
func FromContext(backend string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrBackendUnavailable, Backend: backend, Message: "request cancelled", Err: err}
	}
	return Wrap(ErrBackendUnavailable, backend, err)
}

// KindOf returns the taxonomy kind of err. Unclassified errors are
// reported as ErrGenerationFailed.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrGenerationFailed
}

// KindName returns a stable identifier for the kind of err.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrInvalidRole:
		return "invalid_role"
	case ErrInvalidRequest:
		return "invalid_request"
	case ErrBackendUnavailable:
		return "backend_unavailable"
	case ErrRateLimited:
		return "rate_limited"
	case ErrUnknownBackend:
		return "unknown_backend"
	case ErrSessionBusy:
		return "session_busy"
	case nil:
		return ""
	default:
		return "generation_failed"
	}
}

// IsRetryable checks if an error is retryable by an adapter.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
