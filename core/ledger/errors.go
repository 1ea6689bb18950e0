package ledger

import (
	"errors"
	"fmt"

	"confio/core/types"
)

var (
	// ErrTxNotFound is returned for transaction ids the node has never seen.
	ErrTxNotFound = errors.New("ledger: transaction not found")
	// ErrAlreadyInLedger rejects resubmission of a known transaction.
	ErrAlreadyInLedger = errors.New("ledger: transaction already in ledger")
	// ErrAssetNotFound is returned by asset lookups.
	ErrAssetNotFound = errors.New("ledger: asset not found")
	// ErrAppNotFound is returned by application lookups.
	ErrAppNotFound = errors.New("ledger: application not found")
	// ErrBoxNotFound is returned by sub-record lookups.
	ErrBoxNotFound = errors.New("ledger: box not found")
	// ErrEmptyGroup rejects submissions without transactions.
	ErrEmptyGroup = errors.New("ledger: empty transaction group")
)

// EvalError reports the transaction that caused a group to be rejected. Logs
// holds whatever the failing application emitted before it stopped.
type EvalError struct {
	GroupIndex int
	TxID       types.TxID
	Message    string
	Logs       [][]byte
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("transaction %s (group index %d) rejected: %s", e.TxID, e.GroupIndex, e.Message)
}

// programError marks failures raised by application code so they can be
// reported as logic errors.
type programError struct{ err error }

func (e *programError) Error() string { return "logic eval error: " + e.err.Error() }
func (e *programError) Unwrap() error { return e.err }
