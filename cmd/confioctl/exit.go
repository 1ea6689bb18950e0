package main

import (
	"errors"
	"fmt"
	"io"

	"confio/config"
	"confio/services/kcs"
	"confio/services/orchestrator"
	"confio/services/txc"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitInput     = 2
	exitPreflight = 3
	exitLedger    = 4
	exitKey       = 5
	exitTimeout   = 6
)

// exitCode maps an error to the documented process exit status. Signing
// errors wrap the key access error, so it is checked before the ledger
// outcomes.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var (
		timeout   *txc.ConfirmationTimeout
		ledger    *txc.LedgerError
		compose   *txc.CompositionError
		pre       *orchestrator.PreflightError
		forbidden *orchestrator.AccessError
	)
	switch {
	case errors.As(err, &timeout):
		return exitTimeout
	case kcs.IsKeyAccessError(err):
		return exitKey
	case errors.As(err, &ledger):
		return exitLedger
	case errors.As(err, &pre):
		return exitPreflight
	case config.IsConfigError(err),
		errors.As(err, &compose),
		errors.As(err, &forbidden),
		errors.Is(err, orchestrator.ErrInvalidInput),
		errors.Is(err, orchestrator.ErrUnauthenticated),
		errors.Is(err, kcs.ErrInvalidAlias),
		errors.Is(err, kcs.ErrInvalidWindow):
		return exitInput
	default:
		return exitFailure
	}
}

func fail(stderr io.Writer, err error) int {
	code := exitCode(err)
	var timeout *txc.ConfirmationTimeout
	if errors.As(err, &timeout) {
		fmt.Fprintf(stderr, "Error: %v\nCheck later with: confioctl tx status --txid %s\n", err, timeout.TxID)
		return code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return code
}

// usageError reports bad flags or arguments.
func usageError(stderr io.Writer, format string, args ...any) int {
	fmt.Fprintf(stderr, "Error: "+format+"\n", args...)
	return exitInput
}
