package schemas

import (
	"errors"
	"fmt"
)

// ProviderError reports a failed model API call. StatusCode is the HTTP
// status when the failure had one, zero otherwise.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	RateLimited bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: provider error: %s", e.Provider, e.Message)
}

// IsRateLimited reports whether err wraps a rate-limited ProviderError.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.RateLimited
}

// ConfigurationError reports a setting that cannot work, detected before
// any run starts. It always fails fast.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
}

// NewConfigurationError builds a fail-fast error for the named field.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// DriverError reports a failed desktop operation. Op names the driver
// method that failed.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("desktop driver: %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// NewDriverError wraps err with the originating operation name.
func NewDriverError(op string, err error) *DriverError {
	return &DriverError{Op: op, Err: err}
}
