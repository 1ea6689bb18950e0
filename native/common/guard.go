package common

import (
	"errors"
	"fmt"

	"confio/core/ledger"
	"confio/crypto"
)

// ErrModulePaused is wrapped by Guard when a program is paused.
var ErrModulePaused = errors.New("paused")

// Fail builds the "<op>: <reason>" error every program returns so callers can
// classify a rejection by its prefix.
func Fail(op, format string, args ...any) error {
	return fmt.Errorf("%s: %s", op, fmt.Sprintf(format, args...))
}

// Guard rejects op while the pause flag stored under key is set.
func Guard(ctx *ledger.Context, key, op string) error {
	if ctx.GlobalUint(key) != 0 {
		return fmt.Errorf("%s: %w", op, ErrModulePaused)
	}
	return nil
}

// RequireSender rejects calls from anyone but want.
func RequireSender(ctx *ledger.Context, want crypto.Address, op, role string) error {
	if want.IsZero() || ctx.Sender() != want {
		return Fail(op, "unauthorized: sender is not %s", role)
	}
	return nil
}

// RequireAdmin is RequireSender against the "admin" global.
func RequireAdmin(ctx *ledger.Context, op string) error {
	return RequireSender(ctx, ctx.GlobalAddress("admin"), op, "admin")
}

// RequireGroupSize asserts the exact number of outer transactions.
func RequireGroupSize(ctx *ledger.Context, op string, size int) error {
	if ctx.GroupSize() != size {
		return Fail(op, "group size %d, expected %d", ctx.GroupSize(), size)
	}
	return nil
}

// RequireNoRekey rejects a call that rekeys its sender.
func RequireNoRekey(ctx *ledger.Context, op string) error {
	if !ctx.Txn().RekeyTo.IsZero() {
		return Fail(op, "rekey not allowed")
	}
	return nil
}
