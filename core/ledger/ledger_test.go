package ledger_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"confio/core/ledger"
	"confio/core/ledger/ledgertest"
	"confio/core/state"
	"confio/core/types"
	"confio/crypto"
)

func keys(k ...*crypto.PrivateKey) []*crypto.PrivateKey { return k }

func txns(t ...*types.Transaction) []*types.Transaction { return t }

func TestPaymentAndMinBalance(t *testing.T) {
	h := ledgertest.New(t, nil)
	alice := h.Account(1_000_000)
	bob := h.Account(0)

	h.MustSend(txns(h.Pay(alice.Address(), bob.Address(), 200_000)), keys(alice))
	if got := h.Ledger.AccountInfo(bob.Address()).Amount; got != 200_000 {
		t.Fatalf("bob balance = %d", got)
	}
	if got := h.Ledger.AccountInfo(alice.Address()).Amount; got != 1_000_000-200_000-1_000 {
		t.Fatalf("alice balance = %d", got)
	}

	carol := h.Account(0)
	_, err := h.Send(txns(h.Pay(alice.Address(), carol.Address(), 50_000)), keys(alice))
	if err == nil || !strings.Contains(err.Error(), "below min") {
		t.Fatalf("expected min balance rejection, got %v", err)
	}
}

func TestMinBalanceCheckedAtGroupEnd(t *testing.T) {
	h := ledgertest.New(t, nil)
	alice := h.Account(1_000_000)
	bob := h.Account(150_000)

	dip := h.Pay(bob.Address(), alice.Address(), 120_000)
	refill := h.Pay(alice.Address(), bob.Address(), 100_000)
	h.MustSend(txns(dip, refill), keys(bob, alice))
	if got := h.Ledger.AccountInfo(bob.Address()).Amount; got != 129_000 {
		t.Fatalf("bob balance = %d", got)
	}

	dip = h.Pay(bob.Address(), alice.Address(), 100_000)
	other := h.Pay(alice.Address(), alice.Address(), 0)
	_, err := h.Send(txns(dip, other), keys(bob, alice))
	var evalErr *ledger.EvalError
	if !errors.As(err, &evalErr) || !strings.Contains(err.Error(), "below min") {
		t.Fatalf("expected min balance rejection, got %v", err)
	}
	if evalErr.GroupIndex != 1 {
		t.Fatalf("group index = %d", evalErr.GroupIndex)
	}
	if got := h.Ledger.AccountInfo(bob.Address()).Amount; got != 129_000 {
		t.Fatalf("rejected group applied: bob = %d", got)
	}
}

func TestGroupIsAtomic(t *testing.T) {
	h := ledgertest.New(t, nil)
	alice := h.Account(1_000_000)
	bob := h.Account(1_000_000)
	ok := h.Pay(alice.Address(), bob.Address(), 100_000)
	bad := h.Pay(bob.Address(), alice.Address(), 10_000_000)
	if _, err := h.Send(txns(ok, bad), keys(alice, bob)); err == nil {
		t.Fatalf("expected overspend")
	} else {
		var evalErr *ledger.EvalError
		if !errors.As(err, &evalErr) || evalErr.GroupIndex != 1 {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if got := h.Ledger.AccountInfo(bob.Address()).Amount; got != 1_000_000 {
		t.Fatalf("partial group applied: bob = %d", got)
	}
}

func TestFeePooling(t *testing.T) {
	h := ledgertest.New(t, nil)
	sponsor := h.Account(1_000_000)
	user := h.Account(500_000)
	bump := h.Pay(sponsor.Address(), user.Address(), 0)
	bump.Fee = 2_000
	userPay := h.Pay(user.Address(), sponsor.Address(), 1)
	userPay.Fee = 0
	h.MustSend(txns(bump, userPay), keys(sponsor, user))
	if got := h.Ledger.AccountInfo(user.Address()).Amount; got != 499_999 {
		t.Fatalf("user paid a fee: %d", got)
	}

	short := h.Pay(sponsor.Address(), user.Address(), 0)
	short.Fee = 1_000
	free := h.Pay(user.Address(), sponsor.Address(), 1)
	free.Fee = 0
	if _, err := h.Send(txns(short, free), keys(sponsor, user)); err == nil || !strings.Contains(err.Error(), "fee too small") {
		t.Fatalf("expected fee too small, got %v", err)
	}
}

func TestAssetLifecycle(t *testing.T) {
	h := ledgertest.New(t, nil)
	issuer := h.Account(10_000_000)
	holder := h.Account(1_000_000)
	asset := h.CreateAsset(issuer, types.AssetParams{
		Total: 1_000, Decimals: 6, UnitName: "TST",
		Manager: issuer.Address(), Reserve: issuer.Address(), Freeze: issuer.Address(), Clawback: issuer.Address(),
	})

	if _, err := h.Send(txns(h.Xfer(issuer.Address(), holder.Address(), asset, 10)), keys(issuer)); err == nil {
		t.Fatalf("transfer to non opted-in account must fail")
	}
	h.OptIn(holder, asset)
	h.MustSend(txns(h.Xfer(issuer.Address(), holder.Address(), asset, 10)), keys(issuer))
	if got := h.Holding(holder.Address(), asset); got != 10 {
		t.Fatalf("holding = %d", got)
	}

	freeze := h.Base(types.AssetFreezeTx, issuer.Address())
	freeze.FreezeAsset = asset
	freeze.FreezeAccount = holder.Address()
	freeze.AssetFrozen = true
	h.MustSend(txns(freeze), keys(issuer))
	if _, err := h.Send(txns(h.Xfer(holder.Address(), issuer.Address(), asset, 1)), keys(holder)); err == nil || !strings.Contains(err.Error(), "frozen") {
		t.Fatalf("frozen holder sent: %v", err)
	}

	claw := h.Xfer(issuer.Address(), issuer.Address(), asset, 4)
	claw.AssetSender = holder.Address()
	h.MustSend(txns(claw), keys(issuer))
	if got := h.Holding(holder.Address(), asset); got != 6 {
		t.Fatalf("clawback ignored freeze incorrectly: %d", got)
	}

	lock := h.Base(types.AssetConfigTx, issuer.Address())
	lock.ConfigAsset = asset
	lock.AssetParams = types.AssetParams{Reserve: issuer.Address(), Freeze: issuer.Address(), Clawback: issuer.Address()}
	h.MustSend(txns(lock), keys(issuer))
	info, err := h.Ledger.AssetInfo(asset)
	if err != nil || !info.Params.Manager.IsZero() {
		t.Fatalf("manager not cleared: %+v %v", info, err)
	}
	again := h.Base(types.AssetConfigTx, issuer.Address())
	again.ConfigAsset = asset
	again.AssetParams = types.AssetParams{Manager: issuer.Address()}
	if _, err := h.Send(txns(again), keys(issuer)); err == nil {
		t.Fatalf("immutable asset was reconfigured")
	}
}

func TestApplicationInnerTransactionsAndBoxes(t *testing.T) {
	program := ledger.ProgramFunc(func(ctx *ledger.Context) error {
		if ctx.IsCreate() {
			ctx.SetGlobalUint("calls", 0)
			return nil
		}
		ctx.SetGlobalUint("calls", ctx.GlobalUint("calls")+1)
		switch string(ctx.Arg(0)) {
		case "pay":
			to, err := ctx.Account(0)
			if err != nil {
				return err
			}
			return ctx.Submit(&types.Transaction{Type: types.PaymentTx, Receiver: to, Amount: 1_000})
		case "box":
			if err := ctx.BoxCreate([]byte("k"), []byte("value")); err != nil {
				return err
			}
			return ctx.Log([]byte("box:1"))
		}
		return errors.New("unknown method")
	})
	h := ledgertest.New(t, map[string]ledger.Program{"demo": program})
	admin := h.Account(10_000_000)
	create := h.Call(admin.Address(), 0)
	create.Program = "demo"
	appID := h.MustSend(txns(create), keys(admin)).ApplicationIndex
	appAddr := types.ApplicationAddress(appID)
	h.MustSend(txns(h.Pay(admin.Address(), appAddr, 1_000_000)), keys(admin))

	call := h.Call(admin.Address(), appID, []byte("pay"))
	call.Accounts = []crypto.Address{admin.Address()}
	if _, err := h.Send(txns(call), keys(admin)); err == nil || !strings.Contains(err.Error(), "fee too small") {
		t.Fatalf("inner fee must be covered: %v", err)
	}
	call = h.Call(admin.Address(), appID, []byte("pay"))
	call.Accounts = []crypto.Address{admin.Address()}
	call.Fee = 2_000
	info := h.MustSend(txns(call), keys(admin))
	if len(info.InnerTxns) != 1 || info.InnerTxns[0].Sender != appAddr {
		t.Fatalf("inner txns = %+v", info.InnerTxns)
	}

	unref := h.Call(admin.Address(), appID, []byte("box"))
	if _, err := h.Send(txns(unref), keys(admin)); err == nil || !strings.Contains(err.Error(), "invalid Box reference") {
		t.Fatalf("expected box reference error: %v", err)
	}
	boxCall := h.Call(admin.Address(), appID, []byte("box"))
	boxCall.Boxes = []types.BoxRef{{Name: []byte("k")}}
	info = h.MustSend(txns(boxCall), keys(admin))
	if len(info.Logs) != 1 || string(info.Logs[0]) != "box:1" {
		t.Fatalf("logs = %q", info.Logs)
	}
	box, err := h.Ledger.Box(appID, []byte("k"))
	if err != nil || string(box.Value) != "value" {
		t.Fatalf("box = %+v %v", box, err)
	}
	want := state.DefaultRequirements.BaseMinBalance + state.DefaultRequirements.BoxCost(1, 5)
	if got := h.Ledger.AccountInfo(appAddr).MinBalance; got != want {
		t.Fatalf("app min balance = %d want %d", got, want)
	}
	boxCall = h.Call(admin.Address(), appID, []byte("box"))
	boxCall.Boxes = []types.BoxRef{{Name: []byte("k")}}
	if _, err := h.Send(txns(boxCall), keys(admin)); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("duplicate box accepted: %v", err)
	}
	if got := h.Global(appID).Uint("calls"); got != 2 {
		t.Fatalf("calls = %d", got)
	}
}

func TestSimulateReportsFailureWithoutCommitting(t *testing.T) {
	h := ledgertest.New(t, nil)
	alice := h.Account(1_000_000)
	bob := h.Account(1_000_000)
	tx := h.Pay(alice.Address(), bob.Address(), 5_000_000)
	res, err := h.Ledger.Simulate([]types.SignedTxn{{Txn: *tx}}, ledger.SimulateOptions{AllowEmptySignatures: true})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !res.Failed() || res.FailedAt != 0 || !strings.Contains(res.FailureMessage, "overspend") {
		t.Fatalf("unexpected result %+v", res)
	}
	tx = h.Pay(alice.Address(), bob.Address(), 5)
	res, err = h.Ledger.Simulate([]types.SignedTxn{{Txn: *tx}}, ledger.SimulateOptions{})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !res.Failed() || !strings.Contains(res.FailureMessage, "signature") {
		t.Fatalf("unsigned txn must fail without allowance: %+v", res)
	}
	if got := h.Ledger.AccountInfo(bob.Address()).Amount; got != 1_000_000 {
		t.Fatalf("simulation committed state")
	}
}

func TestPoolModeAndWaitForRound(t *testing.T) {
	store, _ := state.Open(nil)
	cfg := ledger.DefaultConfig()
	cfg.DevMode = false
	l := ledger.New(store, cfg)
	alice, _ := crypto.GeneratePrivateKey()
	bob, _ := crypto.GeneratePrivateKey()
	if err := l.Fund(alice.Address(), 1_000_000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	sp := l.SuggestedParams()
	tx := &types.Transaction{Type: types.PaymentTx, Sender: alice.Address(), Receiver: bob.Address(), Amount: 100_000,
		Fee: sp.MinFee, FirstValid: sp.FirstValid, LastValid: sp.LastValid}
	stx, err := types.SignTransaction(tx, alice, crypto.ZeroAddress)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := l.Submit([]types.SignedTxn{*stx})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p, _ := l.PendingInfo(id); p.Confirmed() {
		t.Fatalf("confirmed before a round was produced")
	}
	if _, err := l.Submit([]types.SignedTxn{*stx}); !errors.Is(err, ledger.ErrAlreadyInLedger) {
		t.Fatalf("duplicate accepted: %v", err)
	}

	done := make(chan types.NodeStatus, 1)
	go func() {
		status, _ := l.WaitForRoundAfter(context.Background(), 0)
		done <- status
	}()
	if _, err := l.ProduceBlock(); err != nil {
		t.Fatalf("produce: %v", err)
	}
	select {
	case status := <-done:
		if status.LastRound != 1 {
			t.Fatalf("status round = %d", status.LastRound)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter not released")
	}
	p, err := l.PendingInfo(id)
	if err != nil || p.ConfirmedRound != 1 {
		t.Fatalf("pending = %+v %v", p, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.WaitForRoundAfter(ctx, 5); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
