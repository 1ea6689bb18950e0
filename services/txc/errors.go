package txc

import (
	"errors"
	"fmt"
	"strings"

	"confio/core/types"
)

// Kind classifies a ledger rejection.
type Kind string

const (
	KindPaused                Kind = "paused"
	KindFrozen                Kind = "frozen"
	KindRatio                 Kind = "ratio"
	KindUnderCollateralized   Kind = "under_collateralized"
	KindPostUnlockStart       Kind = "post_unlock_start"
	KindDuplicateMember       Kind = "duplicate_member"
	KindGroupSize             Kind = "group_size"
	KindCloseTo               Kind = "close_to"
	KindUnauthorized          Kind = "unauthorized"
	KindInsufficientInventory Kind = "insufficient_inventory"
	KindCapExceeded           Kind = "cap_exceeded"
	KindNotOptedIn            Kind = "not_opted_in"
	KindUnderfunded           Kind = "underfunded"
	KindUnknown               Kind = "unknown"
)

// CompositionError reports a group the composer refuses to build. Nothing
// was signed or submitted.
type CompositionError struct {
	Operation string
	Reason    string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("compose %s: %s", e.Operation, e.Reason)
}

func composeErr(op, format string, args ...any) error {
	return &CompositionError{Operation: op, Reason: fmt.Sprintf(format, args...)}
}

// LedgerError is a group the ledger rejected, either during simulation or at
// submission.
type LedgerError struct {
	Operation  string
	Kind       Kind
	Method     string
	Message    string
	TxID       string
	GroupIndex int
	Simulated  bool
	Logs       [][]byte
}

func (e *LedgerError) Error() string {
	stage := "rejected"
	if e.Simulated {
		stage = "rejected in simulation"
	}
	return fmt.Sprintf("%s %s (%s): %s", e.Operation, stage, e.Kind, e.Message)
}

// ConfirmationTimeout is returned when a submitted group did not confirm
// within the round budget. The group may still confirm later.
type ConfirmationTimeout struct {
	Operation string
	TxID      types.TxID
	Rounds    uint64
	LastRound uint64
}

func (e *ConfirmationTimeout) Error() string {
	return fmt.Sprintf("%s: transaction %s not confirmed after %d rounds (last round %d)", e.Operation, e.TxID, e.Rounds, e.LastRound)
}

// KindOf returns the rejection kind carried by err, or "" when err is not a
// ledger rejection.
func KindOf(err error) Kind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

const logicPrefix = "logic eval error: "

// failedMethod extracts the contract operation named in a logic error, e.g.
// "freeze" from "... logic eval error: freeze: account is frozen".
func failedMethod(message string) string {
	idx := strings.Index(message, logicPrefix)
	if idx < 0 {
		return ""
	}
	rest := message[idx+len(logicPrefix):]
	if end := strings.Index(rest, ":"); end > 0 {
		return rest[:end]
	}
	return ""
}

type rule struct {
	kind    Kind
	matches func(method, msg string) bool
}

func contains(needles ...string) func(string, string) bool {
	return func(_, msg string) bool {
		for _, n := range needles {
			if strings.Contains(msg, n) {
				return true
			}
		}
		return false
	}
}

// rules are checked in order; the first match wins.
var rules = []rule{
	{KindUnknown, contains("not paused")},
	{KindPostUnlockStart, contains("claims are unlocked")},
	{KindDuplicateMember, func(method, msg string) bool {
		return strings.Contains(msg, "already exists") && (method == "add_member" || method == "change_member")
	}},
	{KindCloseTo, contains("close_to")},
	{KindGroupSize, contains("group size")},
	{KindUnderCollateralized, contains("under collateralized", "exceeds collateral")},
	{KindRatio, contains("collateral ratio")},
	{KindInsufficientInventory, contains("insufficient inventory")},
	{KindCapExceeded, contains("cap exceeded")},
	{KindNotOptedIn, contains("missing from", "not opted in")},
	{KindFrozen, contains("frozen")},
	{KindPaused, contains("paused")},
	{KindUnauthorized, contains("unauthorized", "admin only", "not authorized")},
	{KindUnderfunded, contains("overspend", "below min ", "fee too small")},
}

// Classify maps a rejection message and the failing call's logs onto a
// Kind.
func Classify(message string, logs [][]byte) Kind {
	msg := strings.ToLower(message)
	method := failedMethod(msg)
	for _, line := range logs {
		msg += " " + strings.ToLower(string(line))
	}
	for _, r := range rules {
		if r.matches(method, msg) {
			return r.kind
		}
	}
	return KindUnknown
}

func newLedgerError(op, message, txid string, index int, logs [][]byte, simulated bool) *LedgerError {
	return &LedgerError{
		Operation:  op,
		Kind:       Classify(message, logs),
		Method:     failedMethod(strings.ToLower(message)),
		Message:    message,
		TxID:       txid,
		GroupIndex: index,
		Simulated:  simulated,
		Logs:       logs,
	}
}
