package main

import (
	"context"
	"errors"

	"github.com/elee1766/parley/src/aisdk"
	"github.com/elee1766/parley/src/config"
)

// Exit codes following standard conventions
const (
	ExitSuccess        = 0 // Success
	ExitError          = 1 // General error
	ExitUsage          = 2 // Invalid request or role
	ExitConfig         = 3 // Configuration error
	ExitUnavailable    = 4 // Backend unreachable or unauthorized
	ExitRateLimited    = 5 // Provider throttling
	ExitUnknownBackend = 6 // Backend name not registered
	ExitBusy           = 7 // Session already in use
	ExitInterrupted    = 8 // Interrupted by user
	ExitGeneration     = 9 // Backend reported a failure
)

// errConfig marks configuration failures.
var errConfig = errors.New("configuration error")

// kindExitCodes is checked in order; an error matching several kinds takes
// the first.
var kindExitCodes = []struct {
	kind error
	code int
}{
	{aisdk.ErrSessionBusy, ExitBusy},
	{aisdk.ErrUnknownBackend, ExitUnknownBackend},
	{aisdk.ErrRateLimited, ExitRateLimited},
	{aisdk.ErrInvalidRole, ExitUsage},
	{aisdk.ErrInvalidRequest, ExitUsage},
	{aisdk.ErrBackendUnavailable, ExitUnavailable},
	{aisdk.ErrGenerationFailed, ExitGeneration},
}

// exitCode determines the appropriate exit code for an error
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var verr config.ValidationError
	switch {
	case errors.Is(err, errConfig), errors.As(err, &verr):
		return ExitConfig
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	}

	for _, k := range kindExitCodes {
		if errors.Is(err, k.kind) {
			return k.code
		}
	}
	return ExitError
}

// kindByName maps an error_kind metadata value back to its sentinel.
func kindByName(name string) error {
	for _, k := range kindExitCodes {
		if aisdk.KindName(k.kind) == name {
			return k.kind
		}
	}
	return aisdk.ErrGenerationFailed
}
