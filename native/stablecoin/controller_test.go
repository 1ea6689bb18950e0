package stablecoin

import (
	"math/rand"
	"strings"
	"testing"

	"confio/core/events"
	"confio/core/ledger"
	"confio/core/ledger/ledgertest"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

type fixture struct {
	h       *ledgertest.Harness
	admin   *crypto.PrivateKey
	reserve *crypto.PrivateKey
	issuer  *crypto.PrivateKey
	app     uint64
	appAddr crypto.Address
	cusd    uint64
	usdc    uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := ledgertest.New(t, map[string]ledger.Program{ProgramName: New()})
	f := &fixture{
		h:       h,
		admin:   h.Account(100_000_000),
		reserve: h.Account(10_000_000),
		issuer:  h.Account(10_000_000),
	}
	f.app = h.CreateApp(f.admin, ProgramName)
	f.appAddr = types.ApplicationAddress(f.app)
	f.cusd = h.CreateAsset(f.reserve, types.AssetParams{
		Total:     1_000_000_000_000_000,
		Decimals:  6,
		UnitName:  "cUSD",
		AssetName: "Confio Dollar",
		Reserve:   f.reserve.Address(),
		Freeze:    f.appAddr,
		Clawback:  f.appAddr,
	})
	f.usdc = h.CreateAsset(f.issuer, types.AssetParams{
		Total:    1_000_000_000_000_000,
		Decimals: 6,
		UnitName: "USDC",
		Manager:  f.issuer.Address(),
		Reserve:  f.issuer.Address(),
	})
	if _, err := f.setup(); err != nil {
		t.Fatalf("setup_assets: %v", err)
	}
	return f
}

func (f *fixture) setup() (types.PendingTxn, error) {
	pay := f.h.Pay(f.admin.Address(), f.appAddr, SetupFunding)
	call := f.h.Call(f.admin.Address(), f.app, common.Args(MethodSetupAssets, f.cusd, f.usdc)...)
	call.ForeignAssets = []uint64{f.cusd, f.usdc}
	call.Fee = 3_000
	return f.h.Send([]*types.Transaction{pay, call}, []*crypto.PrivateKey{f.admin, f.admin})
}

func (f *fixture) user() *crypto.PrivateKey {
	key := f.h.Account(2_000_000)
	f.h.OptIn(key, f.cusd)
	f.h.OptIn(key, f.usdc)
	return key
}

func (f *fixture) fundUSDC(to crypto.Address, amount uint64) {
	f.h.MustSend([]*types.Transaction{f.h.Xfer(f.issuer.Address(), to, f.usdc, amount)}, []*crypto.PrivateKey{f.issuer})
}

func (f *fixture) adminCall(method string, fee uint64, accounts []crypto.Address, values ...any) (types.PendingTxn, error) {
	call := f.h.Call(f.admin.Address(), f.app, common.Args(method, values...)...)
	call.Accounts = accounts
	call.ForeignAssets = []uint64{f.cusd, f.usdc}
	call.Fee = fee
	return f.h.Send([]*types.Transaction{call}, []*crypto.PrivateKey{f.admin})
}

func (f *fixture) mint(key *crypto.PrivateKey, amount uint64) (types.PendingTxn, error) {
	xfer := f.h.Xfer(key.Address(), f.appAddr, f.usdc, amount)
	call := f.h.Call(key.Address(), f.app, common.Args(MethodMintWithCollateral)...)
	call.ForeignAssets = []uint64{f.cusd, f.usdc}
	call.Accounts = []crypto.Address{f.reserve.Address()}
	call.Fee = 2_000
	return f.h.Send([]*types.Transaction{xfer, call}, []*crypto.PrivateKey{key, key})
}

func (f *fixture) burn(key *crypto.PrivateKey, amount uint64) (types.PendingTxn, error) {
	xfer := f.h.Xfer(key.Address(), f.appAddr, f.cusd, amount)
	call := f.h.Call(key.Address(), f.app, common.Args(MethodBurnForCollateral)...)
	call.ForeignAssets = []uint64{f.cusd, f.usdc}
	call.Accounts = []crypto.Address{f.reserve.Address()}
	call.Fee = 3_000
	return f.h.Send([]*types.Transaction{xfer, call}, []*crypto.PrivateKey{key, key})
}

func (f *fixture) transfer(from *crypto.PrivateKey, to crypto.Address, amount uint64) (types.PendingTxn, error) {
	xfer := f.h.Xfer(from.Address(), to, f.cusd, amount)
	call := f.h.Call(from.Address(), f.app, common.Args(MethodTransferCUSD)...)
	call.Accounts = []crypto.Address{to}
	call.ForeignAssets = []uint64{f.cusd}
	return f.h.Send([]*types.Transaction{xfer, call}, []*crypto.PrivateKey{from, from})
}

func (f *fixture) state() State { return DecodeState(f.h.Global(f.app)) }

func expectRejected(t *testing.T, err error, fragment string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected rejection containing %q", fragment)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Fatalf("expected %q in %v", fragment, err)
	}
}

func TestMintTransferBurn(t *testing.T) {
	f := newFixture(t)
	alice := f.user()
	bob := f.user()
	f.fundUSDC(alice.Address(), 100_000_000)

	info, err := f.mint(alice, 100_000_000)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(info.Logs) != 1 {
		t.Fatalf("mint logs = %d", len(info.Logs))
	}
	line, err := events.Parse(info.Logs[0])
	if err != nil || line.Verb != "mint" || line.Values[0] != 100_000_000 {
		t.Fatalf("unexpected mint log %q (%v)", info.Logs[0], err)
	}
	if got := f.h.Holding(alice.Address(), f.cusd); got != 100_000_000 {
		t.Fatalf("alice cUSD = %d", got)
	}

	if _, err := f.transfer(alice, bob.Address(), 30_000_000); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := f.burn(bob, 30_000_000); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if got := f.h.Holding(alice.Address(), f.cusd); got != 70_000_000 {
		t.Fatalf("alice cUSD = %d", got)
	}
	if got := f.h.Holding(bob.Address(), f.usdc); got != 30_000_000 {
		t.Fatalf("bob USDC = %d", got)
	}
	if got := f.h.Holding(bob.Address(), f.cusd); got != 0 {
		t.Fatalf("bob cUSD = %d", got)
	}
	if got := f.h.Holding(f.appAddr, f.usdc); got != 70_000_000 {
		t.Fatalf("collateral = %d", got)
	}
	st := f.state()
	if st.CollateralBackedSupply != 70_000_000 || st.TotalMinted != 100_000_000 || st.TotalBurned != 30_000_000 {
		t.Fatalf("unexpected counters %+v", st)
	}
	if st.TotalCollateralLocked != 70_000_000 {
		t.Fatalf("collateral locked = %d", st.TotalCollateralLocked)
	}
}

func TestWithdrawRespectsPegFloor(t *testing.T) {
	f := newFixture(t)
	alice := f.user()
	treasury := f.user()
	f.fundUSDC(alice.Address(), 100_000_000)
	if _, err := f.mint(alice, 100_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.fundUSDC(f.appAddr, 5_000_000)

	onChain := f.h.Holding(f.appAddr, f.usdc)
	x := onChain - f.state().CollateralBackedSupply + 1
	to := []crypto.Address{treasury.Address()}
	_, err := f.adminCall(MethodWithdrawUSDC, 2_000, to, x)
	expectRejected(t, err, "under collateralized")

	if _, err := f.adminCall(MethodWithdrawUSDC, 2_000, to, x-1); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.h.Holding(treasury.Address(), f.usdc); got != 5_000_000 {
		t.Fatalf("treasury USDC = %d", got)
	}
	if got := f.h.Holding(f.appAddr, f.usdc); got != f.state().CollateralBackedSupply {
		t.Fatalf("collateral %d != backed supply", got)
	}
}

func TestSetupAssetsIsSetOnce(t *testing.T) {
	f := newFixture(t)
	st := f.state()
	if st.CUSDAssetID != f.cusd || st.CollateralAssetID != f.usdc || st.Reserve != f.reserve.Address() {
		t.Fatalf("unexpected setup state %+v", st)
	}
	_, err := f.setup()
	expectRejected(t, err, "already configured")
}

func TestSetupAssetsValidatesStablecoin(t *testing.T) {
	h := ledgertest.New(t, map[string]ledger.Program{ProgramName: New()})
	admin := h.Account(100_000_000)
	app := h.CreateApp(admin, ProgramName)
	appAddr := types.ApplicationAddress(app)
	// freeze authority left with the creator
	cusd := h.CreateAsset(admin, types.AssetParams{
		Total: 1_000_000, Decimals: 6, Reserve: admin.Address(), Freeze: admin.Address(), Clawback: appAddr,
	})
	usdc := h.CreateAsset(admin, types.AssetParams{Total: 1_000_000, Decimals: 6})

	pay := h.Pay(admin.Address(), appAddr, SetupFunding)
	call := h.Call(admin.Address(), app, common.Args(MethodSetupAssets, cusd, usdc)...)
	call.ForeignAssets = []uint64{cusd, usdc}
	call.Fee = 3_000
	_, err := h.Send([]*types.Transaction{pay, call}, []*crypto.PrivateKey{admin, admin})
	expectRejected(t, err, "freeze and clawback must be the application")

	short := h.Pay(admin.Address(), appAddr, SetupFunding-1)
	call = h.Call(admin.Address(), app, common.Args(MethodSetupAssets, cusd, usdc)...)
	call.ForeignAssets = []uint64{cusd, usdc}
	call.Fee = 3_000
	_, err = h.Send([]*types.Transaction{short, call}, []*crypto.PrivateKey{admin, admin})
	expectRejected(t, err, "funding payment")
}

func TestFreezeRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice := f.user()
	bob := f.user()
	f.h.OptInApp(alice, f.app)
	f.fundUSDC(alice.Address(), 10_000_000)
	if _, err := f.mint(alice, 10_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	before := DecodeAccountFlags(f.h.Local(alice.Address(), f.app))
	target := []crypto.Address{alice.Address()}
	if _, err := f.adminCall(MethodFreeze, 2_000, target); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if !f.h.Frozen(alice.Address(), f.cusd) {
		t.Fatalf("holding not frozen")
	}
	if !DecodeAccountFlags(f.h.Local(alice.Address(), f.app)).Frozen {
		t.Fatalf("local flag not set")
	}
	if _, err := f.transfer(alice, bob.Address(), 1); err == nil {
		t.Fatalf("transfer from frozen account succeeded")
	}

	if _, err := f.adminCall(MethodUnfreeze, 2_000, target); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if f.h.Frozen(alice.Address(), f.cusd) {
		t.Fatalf("holding still frozen")
	}
	if after := DecodeAccountFlags(f.h.Local(alice.Address(), f.app)); after != before {
		t.Fatalf("local flags %+v, want %+v", after, before)
	}
	if _, err := f.transfer(alice, bob.Address(), 1); err != nil {
		t.Fatalf("transfer after unfreeze: %v", err)
	}
}

func TestVaultCannotBeFrozen(t *testing.T) {
	f := newFixture(t)
	vault := f.user()
	f.h.OptInApp(vault, f.app)
	target := []crypto.Address{vault.Address()}
	info, err := f.adminCall(MethodAddVault, 1_000, target)
	if err != nil {
		t.Fatalf("add_vault: %v", err)
	}
	line, err := events.Parse(info.Logs[0])
	if err != nil || line.Verb != "vault_added" || line.Address == nil || *line.Address != vault.Address() {
		t.Fatalf("unexpected log %q", info.Logs[0])
	}
	_, err = f.adminCall(MethodFreeze, 2_000, target)
	expectRejected(t, err, "vault accounts cannot be frozen")

	if _, err := f.adminCall(MethodRemoveVault, 1_000, target); err != nil {
		t.Fatalf("remove_vault: %v", err)
	}
	if _, err := f.adminCall(MethodFreeze, 2_000, target); err != nil {
		t.Fatalf("freeze after remove: %v", err)
	}
}

func TestTransferRejectsFrozenReceiver(t *testing.T) {
	f := newFixture(t)
	alice := f.user()
	bob := f.user()
	f.fundUSDC(alice.Address(), 5_000_000)
	if _, err := f.mint(alice, 5_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := f.adminCall(MethodFreeze, 2_000, []crypto.Address{bob.Address()}); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if _, err := f.transfer(alice, bob.Address(), 1_000); err == nil {
		t.Fatalf("transfer to frozen receiver succeeded")
	}
	if got := f.h.Holding(alice.Address(), f.cusd); got != 5_000_000 {
		t.Fatalf("alice cUSD changed to %d", got)
	}
}

func TestPauseGating(t *testing.T) {
	f := newFixture(t)
	alice := f.user()
	f.fundUSDC(alice.Address(), 1_000_000)

	outsider := f.h.Account(1_000_000)
	call := f.h.Call(outsider.Address(), f.app, common.Args(MethodPause)...)
	_, err := f.h.Send([]*types.Transaction{call}, []*crypto.PrivateKey{outsider})
	expectRejected(t, err, "unauthorized")

	if _, err := f.adminCall(MethodPause, 1_000, nil); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err = f.mint(alice, 1_000_000)
	expectRejected(t, err, "paused")
	_, err = f.adminCall(MethodPause, 1_000, nil)
	expectRejected(t, err, "paused")

	info, err := f.adminCall(MethodVerifyPolicy, 1_000, nil)
	if err != nil {
		t.Fatalf("verify_policy_target while paused: %v", err)
	}
	if len(info.Logs) != 2 {
		t.Fatalf("policy logs = %d", len(info.Logs))
	}

	if _, err := f.adminCall(MethodUnpause, 1_000, nil); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	_, err = f.adminCall(MethodUnpause, 1_000, nil)
	expectRejected(t, err, "not paused")
	if _, err := f.mint(alice, 1_000_000); err != nil {
		t.Fatalf("mint after unpause: %v", err)
	}
}

func TestAdminMintAndBurn(t *testing.T) {
	f := newFixture(t)
	f.h.OptIn(f.admin, f.cusd)
	accounts := []crypto.Address{f.admin.Address(), f.reserve.Address()}
	if _, err := f.adminCall(MethodMintAdmin, 2_000, accounts, uint64(100_000_000)); err != nil {
		t.Fatalf("mint_admin: %v", err)
	}
	st := f.state()
	if st.TreasuryBackedSupply != 100_000_000 || st.TotalMinted != 100_000_000 {
		t.Fatalf("unexpected counters %+v", st)
	}

	xfer := f.h.Xfer(f.admin.Address(), f.appAddr, f.cusd, 40_000_000)
	call := f.h.Call(f.admin.Address(), f.app, common.Args(MethodBurnAdmin, uint64(40_000_000))...)
	call.Accounts = []crypto.Address{f.reserve.Address()}
	call.ForeignAssets = []uint64{f.cusd}
	call.Fee = 2_000
	if _, err := f.h.Send([]*types.Transaction{xfer, call}, []*crypto.PrivateKey{f.admin, f.admin}); err != nil {
		t.Fatalf("burn_admin: %v", err)
	}
	st = f.state()
	if st.TreasuryBackedSupply != 60_000_000 || st.TotalBurned != 40_000_000 {
		t.Fatalf("unexpected counters %+v", st)
	}
	if st.TotalMinted-st.TotalBurned != st.Circulating() {
		t.Fatalf("minted-burned %d != circulating %d", st.TotalMinted-st.TotalBurned, st.Circulating())
	}
	if got := f.h.Holding(f.admin.Address(), f.cusd); got != 60_000_000 {
		t.Fatalf("admin cUSD = %d", got)
	}
}

func TestUpdateCollateralRatioBounds(t *testing.T) {
	f := newFixture(t)
	_, err := f.adminCall(MethodUpdateRatio, 1_000, nil, MaxRatio+1)
	expectRejected(t, err, "outside")
	_, err = f.adminCall(MethodUpdateRatio, 1_000, nil, RatioScale-1)
	expectRejected(t, err, "outside")
	if _, err := f.adminCall(MethodUpdateRatio, 1_000, nil, uint64(1_500_000)); err != nil {
		t.Fatalf("update ratio: %v", err)
	}
	if got := f.state().CollateralRatio; got != 1_500_000 {
		t.Fatalf("ratio = %d", got)
	}
	_, err = f.adminCall(MethodUpdateAdmin, 1_000, nil, crypto.ZeroAddress)
	expectRejected(t, err, "zero address")
}

func TestSponsoredMint(t *testing.T) {
	f := newFixture(t)
	sponsor := f.h.Account(10_000_000)
	if _, err := f.adminCall(MethodUpdateSponsor, 1_000, nil, sponsor.Address()); err != nil {
		t.Fatalf("update_sponsor: %v", err)
	}
	alice := f.user()
	f.fundUSDC(alice.Address(), 2_000_000)

	pay := f.h.Pay(sponsor.Address(), alice.Address(), 0)
	pay.Fee = 4_000
	xfer := f.h.Xfer(alice.Address(), f.appAddr, f.usdc, 2_000_000)
	xfer.Fee = 0
	call := f.h.Call(sponsor.Address(), f.app, common.Args(MethodMintWithCollateral)...)
	call.Fee = 0
	call.ForeignAssets = []uint64{f.cusd, f.usdc}
	call.Accounts = []crypto.Address{f.reserve.Address()}
	before := f.h.Ledger.AccountInfo(alice.Address()).Amount
	if _, err := f.h.Send([]*types.Transaction{pay, xfer, call}, []*crypto.PrivateKey{sponsor, alice, sponsor}); err != nil {
		t.Fatalf("sponsored mint: %v", err)
	}
	if got := f.h.Holding(alice.Address(), f.cusd); got != 2_000_000 {
		t.Fatalf("alice cUSD = %d", got)
	}
	if got := f.h.Ledger.AccountInfo(alice.Address()).Amount; got != before {
		t.Fatalf("alice paid fees: %d -> %d", before, got)
	}

	outsider := f.h.Account(10_000_000)
	f.fundUSDC(alice.Address(), 1_000_000)
	xfer = f.h.Xfer(alice.Address(), f.appAddr, f.usdc, 1_000_000)
	call = f.h.Call(outsider.Address(), f.app, common.Args(MethodMintWithCollateral)...)
	call.ForeignAssets = []uint64{f.cusd, f.usdc}
	call.Accounts = []crypto.Address{f.reserve.Address()}
	call.Fee = 2_000
	_, err := f.h.Send([]*types.Transaction{xfer, call}, []*crypto.PrivateKey{alice, outsider})
	expectRejected(t, err, "neither depositor nor sponsor")
}

func TestCollateralCoversBackedSupply(t *testing.T) {
	f := newFixture(t)
	users := []*crypto.PrivateKey{f.user(), f.user(), f.user()}
	for _, u := range users {
		f.fundUSDC(u.Address(), 50_000_000)
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 40; i++ {
		u := users[rng.Intn(len(users))]
		amount := uint64(rng.Intn(5_000_000) + 1)
		if rng.Intn(2) == 0 {
			_, _ = f.mint(u, amount)
		} else {
			_, _ = f.burn(u, amount)
		}
		st := f.state()
		if held := f.h.Holding(f.appAddr, f.usdc); held < st.CollateralBackedSupply {
			t.Fatalf("step %d: collateral %d below backed supply %d", i, held, st.CollateralBackedSupply)
		}
		if st.TotalMinted-st.TotalBurned != st.Circulating() {
			t.Fatalf("step %d: counters diverged %+v", i, st)
		}
	}
}

// lifecycle sends an application call with the given completion from key.
func (f *fixture) lifecycle(key *crypto.PrivateKey, oc types.OnCompletion, program string) (types.PendingTxn, error) {
	call := f.h.Call(key.Address(), f.app)
	call.OnCompletion = oc
	call.Program = program
	call.Accounts = []crypto.Address{f.reserve.Address()}
	call.ForeignAssets = []uint64{f.cusd, f.usdc}
	return f.h.Send([]*types.Transaction{call}, []*crypto.PrivateKey{key})
}

// staleReserve overwrites the stored reserve with addr by briefly running a
// different program on the application.
func (f *fixture) staleReserve(t *testing.T, addr crypto.Address) {
	t.Helper()
	const stale = "stablecoin-stale-reserve"
	f.h.Ledger.Register(stale, ledger.ProgramFunc(func(ctx *ledger.Context) error {
		ctx.SetGlobalAddress(keyReserve, addr)
		return nil
	}))
	if _, err := f.lifecycle(f.admin, types.UpdateApplication, stale); err != nil {
		t.Fatalf("update to %s: %v", stale, err)
	}
	if _, err := f.lifecycle(f.admin, types.NoOp, ""); err != nil {
		t.Fatalf("overwrite reserve: %v", err)
	}
	if _, err := f.lifecycle(f.admin, types.UpdateApplication, ProgramName); err != nil {
		t.Fatalf("restore program: %v", err)
	}
	if got := f.state().Reserve; got != addr {
		t.Fatalf("stored reserve = %s", got)
	}
}

func TestReserveMismatchBlocksMintAndBurn(t *testing.T) {
	f := newFixture(t)
	alice := f.user()
	f.fundUSDC(alice.Address(), 100_000_000)
	if _, err := f.mint(alice, 50_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.h.OptIn(f.admin, f.cusd)

	other := f.h.Account(1_000_000)
	f.staleReserve(t, other.Address())
	before := f.state()

	_, err := f.mint(alice, 10_000_000)
	expectRejected(t, err, "reserve mismatch")
	_, err = f.burn(alice, 10_000_000)
	expectRejected(t, err, "reserve mismatch")
	_, err = f.adminCall(MethodMintAdmin, 2_000, []crypto.Address{f.admin.Address(), f.reserve.Address()}, uint64(1_000_000))
	expectRejected(t, err, "reserve mismatch")

	if after := f.state(); after != before {
		t.Fatalf("rejected calls changed state: %+v -> %+v", before, after)
	}
	if got := f.h.Holding(alice.Address(), f.cusd); got != 50_000_000 {
		t.Fatalf("alice cUSD = %d", got)
	}
}

func TestRefreshReserveRepinsForAdminOnly(t *testing.T) {
	f := newFixture(t)
	alice := f.user()
	f.fundUSDC(alice.Address(), 100_000_000)
	other := f.h.Account(1_000_000)
	f.staleReserve(t, other.Address())

	call := f.h.Call(alice.Address(), f.app, common.Args(MethodRefreshReserve)...)
	call.ForeignAssets = []uint64{f.cusd}
	_, err := f.h.Send([]*types.Transaction{call}, []*crypto.PrivateKey{alice})
	expectRejected(t, err, "unauthorized")
	if got := f.state().Reserve; got != other.Address() {
		t.Fatalf("non-admin refresh changed reserve to %s", got)
	}

	info, err := f.adminCall(MethodRefreshReserve, 1_000, nil)
	if err != nil {
		t.Fatalf("refresh_reserve: %v", err)
	}
	if len(info.Logs) != 1 {
		t.Fatalf("refresh logs = %d", len(info.Logs))
	}
	if got := f.state().Reserve; got != f.reserve.Address() {
		t.Fatalf("reserve = %s, want %s", got, f.reserve.Address())
	}
	if _, err := f.mint(alice, 10_000_000); err != nil {
		t.Fatalf("mint after refresh: %v", err)
	}
}

func TestDeleteRefusedWhileSupplyOutstanding(t *testing.T) {
	f := newFixture(t)
	alice := f.user()
	f.fundUSDC(alice.Address(), 100_000_000)
	f.h.OptIn(f.admin, f.cusd)

	if _, err := f.mint(alice, 50_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, err := f.lifecycle(alice, types.DeleteApplication, "")
	expectRejected(t, err, "unauthorized")
	_, err = f.lifecycle(f.admin, types.DeleteApplication, "")
	expectRejected(t, err, "supply counters must be zero")

	accounts := []crypto.Address{f.admin.Address(), f.reserve.Address()}
	if _, err := f.adminCall(MethodMintAdmin, 2_000, accounts, uint64(10_000_000)); err != nil {
		t.Fatalf("mint_admin: %v", err)
	}
	if _, err := f.burn(alice, 50_000_000); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if st := f.state(); st.CollateralBackedSupply != 0 || st.TreasuryBackedSupply != 10_000_000 {
		t.Fatalf("unexpected counters %+v", st)
	}
	_, err = f.lifecycle(f.admin, types.DeleteApplication, "")
	expectRejected(t, err, "supply counters must be zero")

	xfer := f.h.Xfer(f.admin.Address(), f.appAddr, f.cusd, 10_000_000)
	call := f.h.Call(f.admin.Address(), f.app, common.Args(MethodBurnAdmin, uint64(10_000_000))...)
	call.Accounts = []crypto.Address{f.reserve.Address()}
	call.ForeignAssets = []uint64{f.cusd}
	call.Fee = 2_000
	if _, err := f.h.Send([]*types.Transaction{xfer, call}, []*crypto.PrivateKey{f.admin, f.admin}); err != nil {
		t.Fatalf("burn_admin: %v", err)
	}
	if _, err := f.lifecycle(f.admin, types.DeleteApplication, ""); err != nil {
		t.Fatalf("delete with zero supply: %v", err)
	}
	if _, err := f.h.Ledger.AppInfo(f.app); err == nil {
		t.Fatalf("application %d still exists", f.app)
	}
}
