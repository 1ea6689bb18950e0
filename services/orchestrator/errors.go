package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when no operator identity is available.
	ErrUnauthenticated = errors.New("orchestrator: operator identity required")
	// ErrInvalidInput marks operator input that cannot be acted on.
	ErrInvalidInput = errors.New("orchestrator: invalid input")
)

// PreflightError reports a condition found on fresh ledger reads that stops
// an action before anything is signed. Remedy tells the operator what to do.
type PreflightError struct {
	Action string
	Reason string
	Remedy string
}

func (e *PreflightError) Error() string {
	if e.Remedy == "" {
		return fmt.Sprintf("%s preflight: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("%s preflight: %s (remedy: %s)", e.Action, e.Reason, e.Remedy)
}

func preflight(action, remedy, format string, args ...any) error {
	return &PreflightError{Action: action, Reason: fmt.Sprintf(format, args...), Remedy: remedy}
}

// AccessError is returned when the operator's roles do not cover an action.
type AccessError struct {
	Operator string
	Action   string
	Roles    []string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("operator %q with roles %v may not run %s", e.Operator, e.Roles, e.Action)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
