package kcs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by backends when an alias, key or parameter is
	// missing.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned by backends when the caller lacks permission.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidWindow rejects deletion windows outside [MinDeletionDays,
	// MaxDeletionDays].
	ErrInvalidWindow = errors.New("kcs: deletion window must be between 7 and 30 days")
	// ErrInvalidAlias rejects empty or malformed aliases.
	ErrInvalidAlias = errors.New("kcs: alias must be 1-64 characters of [A-Za-z0-9_-]")
)

// KeyAccessError reports a refused or incomplete custody operation. No state
// was changed when it is returned.
type KeyAccessError struct {
	Op    string
	Alias string
	Err   error
}

func (e *KeyAccessError) Error() string {
	if e.Alias == "" {
		return fmt.Sprintf("kcs: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kcs: %s %q: %v", e.Op, e.Alias, e.Err)
}

func (e *KeyAccessError) Unwrap() error { return e.Err }

// IsKeyAccessError reports whether err is, or wraps, a KeyAccessError.
func IsKeyAccessError(err error) bool {
	var kae *KeyAccessError
	return errors.As(err, &kae)
}

func accessErr(op, alias string, err error) error {
	if err == nil {
		return nil
	}
	var kae *KeyAccessError
	if errors.As(err, &kae) {
		return err
	}
	return &KeyAccessError{Op: op, Alias: alias, Err: err}
}
