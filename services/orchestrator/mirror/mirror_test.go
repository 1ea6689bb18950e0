package mirror

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s.SetNowFunc(func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) })
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPhaseLifecycle(t *testing.T) {
	s := newStore(t)
	for n := uint64(1); n <= 2; n++ {
		if err := s.SavePhase(PresalePhase{Phase: n, Price: 200_000 * n, DisplayCap: 1_000_000_000, MaxPerAddr: 500_000_000}); err != nil {
			t.Fatalf("save phase %d: %v", n, err)
		}
	}
	if err := s.SavePhase(PresalePhase{Phase: 3}); err == nil {
		t.Fatalf("expected validation error")
	}

	if err := s.MarkPhase(1, true, 1, "TXA"); err != nil {
		t.Fatalf("mark phase: %v", err)
	}
	if err := s.MarkPhase(2, true, 2, "TXB"); err != nil {
		t.Fatalf("mark phase: %v", err)
	}
	first, err := s.Phase(1)
	if err != nil {
		t.Fatalf("phase 1: %v", err)
	}
	second, err := s.Phase(2)
	if err != nil {
		t.Fatalf("phase 2: %v", err)
	}
	if first.Active || !second.Active || second.RoundID != 2 || second.LastTxID != "TXB" {
		t.Fatalf("unexpected phases: %+v %+v", first, second)
	}

	// re-saving the configuration keeps the ledger binding
	if err := s.SavePhase(PresalePhase{Phase: 2, Price: 250_000, DisplayCap: 2_000_000_000, MaxPerAddr: 500_000_000}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	second, _ = s.Phase(2)
	if second.Price != 250_000 || !second.Active || second.RoundID != 2 {
		t.Fatalf("resave lost binding: %+v", second)
	}

	if err := s.DeactivatePhases("TXU"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	phases, err := s.Phases()
	if err != nil || len(phases) != 2 {
		t.Fatalf("phases: %v %d", err, len(phases))
	}
	for _, p := range phases {
		if p.Active {
			t.Fatalf("phase %d still active", p.Phase)
		}
	}

	if _, err := s.Phase(9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.MarkPhase(9, false, 0, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFlagsAndAudit(t *testing.T) {
	s := newStore(t)
	unlocked, err := s.Flag(FlagClaimsUnlocked)
	if err != nil || unlocked {
		t.Fatalf("fresh flag = %v, %v", unlocked, err)
	}
	if err := s.SetFlag(FlagClaimsUnlocked, true, "TXU"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if unlocked, _ = s.Flag(FlagClaimsUnlocked); !unlocked {
		t.Fatalf("flag not set")
	}

	if err := s.MarkRevoked("cf1abc", true, "TXR"); err != nil {
		t.Fatalf("mark revoked: %v", err)
	}
	rf, err := s.RewardFlag("cf1abc")
	if err != nil || !rf.Revoked || !rf.Frozen {
		t.Fatalf("reward flag = %+v, %v", rf, err)
	}
	if _, err := s.RewardFlag("cf1zzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"presale.start-round", "presale.end-round", "rewards.revoke"} {
		if err := s.RecordAction(Action{Operator: "ops", Action: name, Outcome: "confirmed", CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("record action: %v", err)
		}
	}
	actions, err := s.Actions(2)
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	if len(actions) != 2 || actions[0].Action != "rewards.revoke" {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}
