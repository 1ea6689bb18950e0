package txc

import (
	"errors"
	"fmt"
	"testing"

	"confio/core/types"
	"confio/native/payroll"
	"confio/native/stablecoin"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		message string
		logs    []string
		want    Kind
	}{
		{"transaction ABC: logic eval error: mint_with_collateral: paused", nil, KindPaused},
		{"transaction ABC: logic eval error: unpause: not paused", nil, KindUnknown},
		{"logic eval error: transfer: asset 12 frozen in CFXYZ", nil, KindFrozen},
		{"logic eval error: ratio: collateral ratio 90 outside [100, 200]", nil, KindRatio},
		{"logic eval error: withdraw: under collateralized: reserve 10 below 20", nil, KindUnderCollateralized},
		{"logic eval error: burn_for_collateral: amount 5 exceeds collateral 3", nil, KindUnderCollateralized},
		{"logic eval error: start_round: claims are unlocked; no new rounds", nil, KindPostUnlockStart},
		{"logic eval error: add_member: box 6d already exists", nil, KindDuplicateMember},
		{"logic eval error: payout: box 72 already exists", nil, KindUnknown},
		{"logic eval error: setup: group size 3: expected 2", nil, KindGroupSize},
		{"logic eval error: fund: asset close_to must be empty", nil, KindCloseTo},
		{"logic eval error: freeze: unauthorized: sender is not admin", nil, KindUnauthorized},
		{"logic eval error: start_round: insufficient inventory: holds 10, needs 20", nil, KindInsufficientInventory},
		{"logic eval error: purchase: round cap exceeded", nil, KindCapExceeded},
		{"logic eval error: purchase: per-address cap exceeded", nil, KindCapExceeded},
		{"asset 44 missing from account CFABC", nil, KindNotOptedIn},
		{"overspend (account CFABC, data {amount 10})", nil, KindUnderfunded},
		{"fee too small: group pays 1000, needs 3000", nil, KindUnderfunded},
		{"account CFABC balance 90000 below min 100000", nil, KindUnderfunded},
		{"logic eval error: purchase: amount 5 below minimum 10", nil, KindUnknown},
		{"logic eval error: claim: rejected", []string{"frozen:1"}, KindFrozen},
		{"something else entirely", nil, KindUnknown},
	}
	for _, tc := range cases {
		var logs [][]byte
		for _, l := range tc.logs {
			logs = append(logs, []byte(l))
		}
		if got := Classify(tc.message, logs); got != tc.want {
			t.Fatalf("Classify(%q) = %s, want %s", tc.message, got, tc.want)
		}
	}
}

func TestFailedMethod(t *testing.T) {
	if got := failedMethod("transaction x: logic eval error: claim: nothing to claim"); got != "claim" {
		t.Fatalf("failedMethod = %q", got)
	}
	if got := failedMethod("overspend"); got != "" {
		t.Fatalf("failedMethod = %q, want empty", got)
	}
}

func TestKindOf(t *testing.T) {
	le := newLedgerError("presale.purchase", "logic eval error: purchase: round cap exceeded", "TX", 1, nil, true)
	wrapped := fmt.Errorf("workflow: %w", le)
	if KindOf(wrapped) != KindCapExceeded {
		t.Fatalf("KindOf = %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no kind")
	}
	timeout := &ConfirmationTimeout{Operation: "x", TxID: types.TxID{1}, Rounds: 10, LastRound: 20}
	if outcomeOf(timeout) != "timeout" || outcomeOf(le) != "rejected" || outcomeOf(nil) != "confirmed" {
		t.Fatalf("unexpected outcome mapping")
	}
}

func TestShapesCoverEveryMethod(t *testing.T) {
	actions := Actions()
	if len(actions) != len(shapes) {
		t.Fatalf("actions = %d, shapes = %d", len(actions), len(shapes))
	}
	for i := 1; i < len(actions); i++ {
		if actions[i-1] >= actions[i] {
			t.Fatalf("actions not sorted at %d", i)
		}
	}
	pinned := []string{stablecoin.MethodSetupAssets, stablecoin.MethodBurnAdmin, stablecoin.MethodTransferCUSD}
	for _, m := range pinned {
		s, ok := ShapeOf(stablecoin.ProgramName, m)
		if !ok || s.Sponsorable {
			t.Fatalf("%s must exist and not be sponsorable", m)
		}
	}
	s, ok := ShapeOf(payroll.ProgramName, payroll.MethodPayout)
	if !ok || s.Inner != 2 || s.Boxes != 3 || !s.Sponsorable {
		t.Fatalf("payout shape = %+v", s)
	}
}
