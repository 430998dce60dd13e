package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component
var (
	// ErrConfiguration marks fatal misconfiguration: no usable embedding provider,
	// or stored vectors whose dimension differs from the active provider.
	ErrConfiguration = errors.New("configuration error")

	// ErrCapabilityUnavailable marks an optional capability (lexical scoring,
	// reranking, ANN acceleration) that is absent. Callers degrade instead of failing.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrData marks malformed stored data such as an unparseable date or a corrupt
	// index file. It is recovered locally and logged.
	ErrData = errors.New("data error")

	// ErrNotFound marks an operation on a resource that was never indexed
	ErrNotFound = errors.New("not found")
)

// Block validation errors
var (
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrInvalidLines    = errors.New("line numbers must be positive")
	ErrLineOrder       = errors.New("start line must be before or equal to end line")
	ErrMissingResource = errors.New("resource ID is required")
)

// ConfigurationError describes which operation hit a fatal misconfiguration
type ConfigurationError struct {
	Op  string
	Err error
}

// NewConfigurationError wraps err as a configuration error raised by op
func NewConfigurationError(op string, err error) *ConfigurationError {
	return &ConfigurationError{Op: op, Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, ErrConfiguration)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrConfiguration, e.Err)
}

// Unwrap lets errors.Is match both ErrConfiguration and the underlying cause
func (e *ConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// Search result validation errors
var (
	ErrInvalidBlockID       = errors.New("invalid block ID")
	ErrInvalidRank          = errors.New("rank must be >= 1")
	ErrInvalidSemanticScore = errors.New("semantic score must be between -1 and 1")
	ErrMissingPath          = errors.New("path is required")
)
