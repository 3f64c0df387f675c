package errors

import "fmt"

// ConfigError is returned when the run configuration is unusable. Nothing has started yet.
type ConfigError struct {
	ErrorMsg string
}

func (m *ConfigError) Error() string {
	return "invalid configuration: " + m.ErrorMsg
}

// NewConfigError builds a ConfigError from a format string.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{ErrorMsg: fmt.Sprintf(format, args...)}
}

// ParseError is returned when a corpus file cannot be turned into examples.
// One ParseError aborts the whole read.
type ParseError struct {
	File     string
	ErrorMsg string
	Err      error
}

func (m *ParseError) Error() string {
	if m.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", m.File, m.ErrorMsg, m.Err)
	}
	return fmt.Sprintf("parse %s: %s", m.File, m.ErrorMsg)
}

func (m *ParseError) Unwrap() error {
	return m.Err
}

// InvariantError signals an internal consistency bug. It is only ever raised with panic.
type InvariantError struct {
	ErrorMsg string
}

func (m *InvariantError) Error() string {
	return "invariant violated: " + m.ErrorMsg
}

// Invariantf panics with an InvariantError.
func Invariantf(format string, args ...any) {
	panic(&InvariantError{ErrorMsg: fmt.Sprintf(format, args...)})
}

// CapabilityError is returned at construction time when a required runtime capability is missing.
type CapabilityError struct {
	Capability string
	ErrorMsg   string
}

func (m *CapabilityError) Error() string {
	return fmt.Sprintf("missing capability %q: %s", m.Capability, m.ErrorMsg)
}
