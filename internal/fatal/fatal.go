// Package fatal defines the error taxonomy shared across the runtime.
//
// ConfigError covers missing or invalid group/assembly data, naming-convention
// violations, and duplicate metadata; it always aborts the run and is never
// retried. ResolutionError covers source resolution failures (branch not
// found, clone failure, unknown alias) and is raised only after partial state
// has been cleaned up. Transient network failures during branch probes are
// treated as "not found" by callers and never reach this package.
package fatal

import (
	"errors"
	"fmt"
)

// ErrAutomationFrozen is returned by mutation checks when the group has
// freeze_automation set. It is independent of every other error path.
var ErrAutomationFrozen = errors.New("automation (builds / mutations) for this group is currently frozen; coordinate with the group owner if you believe this is incorrect")

// ConfigError is a non-retryable configuration problem.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

// Configf creates a ConfigError.
func Configf(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// ResolutionError is a non-retryable source resolution failure.
type ResolutionError struct {
	msg string
}

func (e *ResolutionError) Error() string { return e.msg }

// Resolutionf creates a ResolutionError.
func Resolutionf(format string, args ...any) error {
	return &ResolutionError{msg: fmt.Sprintf(format, args...)}
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsResolution reports whether err is (or wraps) a ResolutionError.
func IsResolution(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
