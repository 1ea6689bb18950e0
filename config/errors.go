package config

import (
	"errors"
	"fmt"
)

// ErrMissing marks a required setting that was not provided.
var ErrMissing = errors.New("missing required setting")

// Error reports a configuration problem. It is always fatal to the command
// that hit it.
type Error struct {
	Var    string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := "config"
	if e.Var != "" {
		msg += ": " + e.Var
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps an *Error.
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}
