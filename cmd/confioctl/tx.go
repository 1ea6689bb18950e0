package main

import (
	"context"
	"fmt"

	"confio/core/types"
	"confio/services/txc"
)

// txStatus reports a transaction and reconciles the journal with it. The
// exit status follows the ledger state so scripts can poll after a timeout:
// confirmed 0, rejected 4, still pending or unknown 6.
func txStatus(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("tx status", s.stderr)
	raw := fs.String("txid", "", "transaction id")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	txid, err := types.ParseTxID(*raw)
	if err != nil || txid.IsZero() {
		return usageError(s.stderr, "--txid must be a transaction id")
	}
	if _, _, err := s.operator(); err != nil {
		return fail(s.stderr, err)
	}
	node, err := s.node()
	if err != nil {
		return fail(s.stderr, err)
	}
	composer, err := s.composer(node)
	if err != nil {
		return fail(s.stderr, err)
	}
	st, err := composer.Status(ctx, txid)
	if err != nil {
		return fail(s.stderr, err)
	}
	fmt.Fprintf(s.stdout, "%s %s", st.TxID, st.State)
	if st.Round > 0 {
		fmt.Fprintf(s.stdout, " round=%d", st.Round)
	}
	fmt.Fprintln(s.stdout)
	if st.PoolError != "" {
		fmt.Fprintf(s.stderr, "rejected: %s (%s)\n", st.PoolError, txc.Classify(st.PoolError, st.Logs))
	}
	if st.Entry != nil {
		fmt.Fprintf(s.stderr, "journal: action %s %s %s\n", st.Entry.ActionID, st.Entry.Operation, st.Entry.State)
	}
	switch st.State {
	case txc.StateConfirmed:
		return exitOK
	case txc.StateRejected:
		return exitLedger
	default:
		return exitTimeout
	}
}
