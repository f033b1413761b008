package optimization

import (
	"errors"
	"fmt"
)

// ConfigError reports malformed optimizer input. It is returned before any
// trial runs.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NoSolutionError is returned when every trial of a run failed to converge.
type NoSolutionError struct {
	Strategy string
	Trials   int
	Failed   int
	// LastErr is the error reported by the last failing trial, if any.
	LastErr error
}

func (e *NoSolutionError) Error() string {
	msg := fmt.Sprintf("no converged solution for %s: %d of %d trials failed", e.Strategy, e.Failed, e.Trials)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *NoSolutionError) Unwrap() error {
	return e.LastErr
}

// IsConfigError reports whether err (or anything it wraps) is a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// IsNoSolution reports whether err (or anything it wraps) is a *NoSolutionError.
func IsNoSolution(err error) bool {
	var noSol *NoSolutionError
	return errors.As(err, &noSol)
}
