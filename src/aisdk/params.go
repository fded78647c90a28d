package aisdk

import (
	"errors"
	"fmt"
	"maps"

	"github.com/go-playground/validator/v10"
)

var paramsValidator = validator.New()

// Params are generation parameters. Nil fields mean "use the backend default".
type Params struct {
	Temperature   *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens     *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	TopP          *float64 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopK          *int     `json:"top_k,omitempty" validate:"omitempty,gte=0"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty" validate:"omitempty,gte=0"`
	Stop          []string `json:"stop,omitempty" validate:"omitempty,max=16"`

	// Extra holds provider specific options passed through verbatim.
	Extra map[string]any `json:"extra,omitempty"`
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Validate checks parameter bounds.
func (p Params) Validate() error {
	if err := paramsValidator.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return &Error{
				Kind:    ErrInvalidRequest,
				Message: fmt.Sprintf("parameter %s failed on tag '%s' with value '%v'", e.Field(), e.Tag(), e.Value()),
			}
		}
		return &Error{Kind: ErrInvalidRequest, Err: err}
	}
	return nil
}

// WithDefaults returns p with every unset field taken from defaults.
func (p Params) WithDefaults(defaults Params) Params {
	out := p
	if out.Temperature == nil {
		out.Temperature = defaults.Temperature
	}
	if out.MaxTokens == nil {
		out.MaxTokens = defaults.MaxTokens
	}
	if out.TopP == nil {
		out.TopP = defaults.TopP
	}
	if out.TopK == nil {
		out.TopK = defaults.TopK
	}
	if out.RepeatPenalty == nil {
		out.RepeatPenalty = defaults.RepeatPenalty
	}
	if out.Stop == nil {
		out.Stop = defaults.Stop
	}
	if len(defaults.Extra) > 0 {
		merged := maps.Clone(defaults.Extra)
		maps.Copy(merged, out.Extra)
		out.Extra = merged
	}
	return out
}

// Prepare validates messages, merges defaults and validates the result.
// Every adapter calls it before touching its transport.
func Prepare(msgs []Message, params Params, defaults Params) (Params, error) {
	if err := ValidateMessages(msgs); err != nil {
		return Params{}, err
	}
	merged := params.WithDefaults(defaults)
	if err := merged.Validate(); err != nil {
		return Params{}, err
	}
	return merged, nil
}
