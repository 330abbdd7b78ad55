package policy

import (
	"errors"
	"fmt"
	"math"
)

// ErrStorageUnavailable wraps every settings, throttle or feedback write that
// could not reach the store. Surfaces treat it as "show nothing".
var ErrStorageUnavailable = errors.New("suggestion storage unavailable")

// ValidationError rejects a malformed request and names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConfigurationError describes an unknown role or surface. It is logged and
// resolved through fallback, never returned to a surface.
type ConfigurationError struct {
	Kind  string
	Value string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
}

// Unavailable wraps err as a storage failure for op.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidatePreset checks every field of p.
func ValidatePreset(p Preset) error {
	if !p.Mode.IsValid() {
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", p.Mode)}
	}
	if !p.Frequency.IsValid() {
		return &ValidationError{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", p.Frequency)}
	}
	return ValidateThreshold(p.ConfidenceThreshold)
}

// ValidateThreshold checks that t lies in [0,1].
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return &ValidationError{Field: "confidenceThreshold", Message: "must be between 0 and 1"}
	}
	return nil
}
