package presale

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"confio/core/ledger"
	"confio/core/ledger/ledgertest"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

type fixture struct {
	h       *ledgertest.Harness
	admin   *crypto.PrivateKey
	issuer  *crypto.PrivateKey
	app     uint64
	appAddr crypto.Address
	confio  uint64
	cusd    uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := ledgertest.New(t, map[string]ledger.Program{ProgramName: New()})
	f := &fixture{h: h, admin: h.Account(100_000_000), issuer: h.Account(10_000_000)}
	f.app = h.CreateApp(f.admin, ProgramName)
	f.appAddr = types.ApplicationAddress(f.app)
	f.confio = h.CreateAsset(f.admin, types.AssetParams{Total: 1_000_000_000_000_000, Decimals: 6, UnitName: "CONFIO"})
	f.cusd = h.CreateAsset(f.issuer, types.AssetParams{Total: 1_000_000_000_000_000, Decimals: 6, UnitName: "cUSD"})
	h.MustSend([]*types.Transaction{h.Pay(f.admin.Address(), f.appAddr, 1_000_000)}, []*crypto.PrivateKey{f.admin})
	_, err := f.call(f.admin, MethodOptInAssets, 3_000, nil, f.confio, f.cusd)
	require.NoError(t, err)
	return f
}

func (f *fixture) call(key *crypto.PrivateKey, method string, fee uint64, accounts []crypto.Address, values ...any) (types.PendingTxn, error) {
	tx := f.h.Call(key.Address(), f.app, common.Args(method, values...)...)
	tx.ForeignAssets = []uint64{f.confio, f.cusd}
	tx.Accounts = accounts
	tx.Fee = fee
	return f.h.Send([]*types.Transaction{tx}, []*crypto.PrivateKey{key})
}

func (f *fixture) stock(amount uint64) {
	f.h.MustSend([]*types.Transaction{f.h.Xfer(f.admin.Address(), f.appAddr, f.confio, amount)}, []*crypto.PrivateKey{f.admin})
}

func (f *fixture) buyer(cusd uint64) *crypto.PrivateKey {
	key := f.h.Account(2_000_000)
	f.h.OptIn(key, f.confio)
	f.h.OptIn(key, f.cusd)
	f.h.OptInApp(key, f.app)
	f.h.MustSend([]*types.Transaction{f.h.Xfer(f.issuer.Address(), key.Address(), f.cusd, cusd)}, []*crypto.PrivateKey{f.issuer})
	return key
}

func (f *fixture) purchase(key *crypto.PrivateKey, amount uint64) (types.PendingTxn, error) {
	xfer := f.h.Xfer(key.Address(), f.appAddr, f.cusd, amount)
	call := f.h.Call(key.Address(), f.app, common.Args(MethodPurchase)...)
	return f.h.Send([]*types.Transaction{xfer, call}, []*crypto.PrivateKey{key, key})
}

func (f *fixture) state() State { return DecodeState(f.h.Global(f.app)) }

func TestPurchaseUnderCap(t *testing.T) {
	f := newFixture(t)
	f.stock(5_000_000_000)
	_, err := f.call(f.admin, MethodStartRound, 1_000, nil, uint64(200_000), uint64(1_000_000_000), uint64(500_000_000))
	require.NoError(t, err)

	alice := f.buyer(1_000_000_000)
	_, err = f.purchase(alice, 300_000_000)
	require.NoError(t, err)

	st := f.state()
	require.Equal(t, uint64(300_000_000), st.RoundRaised)
	require.Equal(t, uint64(1_500_000_000), st.TotalSold)
	buyer := DecodeBuyer(f.h.Local(alice.Address(), f.app))
	require.Equal(t, uint64(1_500_000_000), buyer.Bought)
	require.Equal(t, uint64(1), buyer.RoundID)

	_, err = f.purchase(alice, 300_000_000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "per-address cap exceeded")
	require.Equal(t, uint64(300_000_000), f.state().RoundRaised)
}

func TestPurchaseRespectsRoundCap(t *testing.T) {
	f := newFixture(t)
	f.stock(1_000_000_000)
	_, err := f.call(f.admin, MethodStartRound, 1_000, nil, uint64(1_000_000), uint64(1_000_000_000), uint64(600_000_000))
	require.NoError(t, err)
	alice := f.buyer(600_000_000)
	bob := f.buyer(600_000_000)
	_, err = f.purchase(alice, 600_000_000)
	require.NoError(t, err)
	_, err = f.purchase(bob, 500_000_000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "round cap exceeded")
	_, err = f.purchase(bob, 400_000_000)
	require.NoError(t, err)
}

func TestStartRoundRequiresInventory(t *testing.T) {
	f := newFixture(t)
	f.stock(4_999_999_999)
	_, err := f.call(f.admin, MethodStartRound, 1_000, nil, uint64(200_000), uint64(1_000_000_000), uint64(500_000_000))
	require.Error(t, err)
	require.Contains(t, err.Error(), "insufficient inventory")
	f.stock(1)
	_, err = f.call(f.admin, MethodStartRound, 1_000, nil, uint64(200_000), uint64(1_000_000_000), uint64(500_000_000))
	require.NoError(t, err)
}

func TestClaimLifecycle(t *testing.T) {
	f := newFixture(t)
	f.stock(5_000_000_000)
	_, err := f.call(f.admin, MethodStartRound, 1_000, nil, uint64(200_000), uint64(1_000_000_000), uint64(500_000_000))
	require.NoError(t, err)
	alice := f.buyer(300_000_000)
	_, err = f.purchase(alice, 300_000_000)
	require.NoError(t, err)

	_, err = f.call(alice, MethodClaim, 2_000, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "claims locked")

	f.h.Clock.Advance(time.Hour)
	_, err = f.call(f.admin, MethodPermanentUnlock, 1_000, nil)
	require.NoError(t, err)
	unlocked := f.h.Global(f.app)
	st := DecodeState(unlocked)
	require.False(t, st.Locked)
	require.False(t, st.Active)
	require.NotZero(t, st.UnlockedAt)

	_, err = f.call(f.admin, MethodPermanentUnlock, 1_000, nil)
	require.Error(t, err)
	if !reflect.DeepEqual(unlocked, f.h.Global(f.app)) {
		t.Fatalf("second unlock changed state")
	}

	_, err = f.call(f.admin, MethodStartRound, 1_000, nil, uint64(200_000), uint64(1_000_000), uint64(1_000_000))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no new rounds")

	_, err = f.call(alice, MethodClaim, 2_000, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1_500_000_000), f.h.Holding(alice.Address(), f.confio))
	_, err = f.call(alice, MethodClaim, 2_000, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nothing to claim")
}

func TestWithdrawConfioKeepsEntitlements(t *testing.T) {
	f := newFixture(t)
	f.stock(5_000_000_000)
	_, err := f.call(f.admin, MethodStartRound, 1_000, nil, uint64(200_000), uint64(1_000_000_000), uint64(500_000_000))
	require.NoError(t, err)
	alice := f.buyer(300_000_000)
	_, err = f.purchase(alice, 300_000_000)
	require.NoError(t, err)

	_, err = f.call(f.admin, MethodWithdrawConfio, 2_000, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "active")

	_, err = f.call(f.admin, MethodToggleRound, 1_000, nil)
	require.NoError(t, err)
	require.False(t, f.state().Active)

	_, err = f.call(f.admin, MethodWithdrawConfio, 2_000, nil, uint64(3_500_000_001))
	require.Error(t, err)
	before := f.h.Holding(f.admin.Address(), f.confio)
	_, err = f.call(f.admin, MethodWithdrawConfio, 2_000, nil)
	require.NoError(t, err)
	require.Equal(t, before+3_500_000_000, f.h.Holding(f.admin.Address(), f.confio))
	require.Equal(t, uint64(1_500_000_000), f.h.Holding(f.appAddr, f.confio))

	treasury := f.h.Account(1_000_000)
	f.h.OptIn(treasury, f.cusd)
	_, err = f.call(f.admin, MethodWithdrawCUSD, 2_000, []crypto.Address{treasury.Address()})
	require.NoError(t, err)
	require.Equal(t, uint64(300_000_000), f.h.Holding(treasury.Address(), f.cusd))
}

func TestUpdateParameters(t *testing.T) {
	f := newFixture(t)
	_, err := f.call(f.admin, MethodUpdate, 1_000, nil, ParamPrice, uint64(250_000))
	require.NoError(t, err)
	_, err = f.call(f.admin, MethodUpdate, 1_000, nil, ParamMax, uint64(10_000_000))
	require.NoError(t, err)
	_, err = f.call(f.admin, MethodUpdate, 1_000, nil, ParamMin, uint64(20_000_000))
	require.Error(t, err)
	_, err = f.call(f.admin, MethodUpdate, 1_000, nil, "bogus", uint64(1))
	require.Error(t, err)

	st := f.state()
	require.Equal(t, uint64(250_000), st.Price)
	require.Equal(t, uint64(10_000_000), st.MaxPerAddr)

	stranger := f.h.Account(1_000_000)
	_, err = f.call(stranger, MethodUpdate, 1_000, nil, ParamPrice, uint64(1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unauthorized")
}

func TestEmergencyPause(t *testing.T) {
	f := newFixture(t)
	f.stock(5_000_000_000)
	_, err := f.call(f.admin, MethodStartRound, 1_000, nil, uint64(200_000), uint64(1_000_000_000), uint64(500_000_000))
	require.NoError(t, err)
	alice := f.buyer(100_000_000)

	_, err = f.call(f.admin, MethodEmergencyPause, 1_000, nil)
	require.NoError(t, err)
	_, err = f.purchase(alice, 100_000_000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "paused")

	_, err = f.call(f.admin, MethodUnpause, 1_000, nil)
	require.NoError(t, err)
	_, err = f.purchase(alice, 100_000_000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "round not active")

	_, err = f.call(f.admin, MethodToggleRound, 1_000, nil)
	require.NoError(t, err)
	_, err = f.purchase(alice, 100_000_000)
	require.NoError(t, err)
}

func TestParticipantsCumulativeCountsFirstPurchase(t *testing.T) {
	f := newFixture(t)
	f.stock(3_000_000_000)
	_, err := f.call(f.admin, MethodStartRound, 1_000, nil, uint64(1_000_000), uint64(1_000_000_000), uint64(500_000_000))
	require.NoError(t, err)
	require.Zero(t, f.state().ParticipantsCumulative)

	alice := f.buyer(300_000_000)
	bob := f.buyer(100_000_000)
	_, err = f.purchase(alice, 100_000_000)
	require.NoError(t, err)
	_, err = f.purchase(alice, 100_000_000)
	require.NoError(t, err)
	_, err = f.purchase(bob, 100_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(2), f.state().ParticipantsCumulative)

	_, err = f.call(f.admin, MethodToggleRound, 1_000, nil)
	require.NoError(t, err)
	_, err = f.call(f.admin, MethodStartRound, 1_000, nil, uint64(1_000_000), uint64(1_000_000_000), uint64(500_000_000))
	require.NoError(t, err)

	carol := f.buyer(100_000_000)
	_, err = f.purchase(alice, 100_000_000)
	require.NoError(t, err)
	_, err = f.purchase(carol, 100_000_000)
	require.NoError(t, err)

	st := f.state()
	require.Equal(t, uint64(2), st.RoundID)
	require.Equal(t, uint64(3), st.ParticipantsCumulative)
}

func TestUpdatePriceDuringRoundRequiresInventory(t *testing.T) {
	f := newFixture(t)
	f.stock(5_000_000_000)
	_, err := f.call(f.admin, MethodStartRound, 1_000, nil, uint64(200_000), uint64(1_000_000_000), uint64(500_000_000))
	require.NoError(t, err)

	_, err = f.call(f.admin, MethodUpdate, 1_000, nil, ParamPrice, uint64(100_000))
	require.ErrorContains(t, err, "insufficient inventory")
	require.Equal(t, uint64(200_000), f.state().Price)

	_, err = f.call(f.admin, MethodUpdate, 1_000, nil, ParamPrice, uint64(400_000))
	require.NoError(t, err)
	require.Equal(t, uint64(400_000), f.state().Price)

	_, err = f.call(f.admin, MethodToggleRound, 1_000, nil)
	require.NoError(t, err)
	_, err = f.call(f.admin, MethodUpdate, 1_000, nil, ParamPrice, uint64(100_000))
	require.NoError(t, err)
	_, err = f.call(f.admin, MethodToggleRound, 1_000, nil)
	require.ErrorContains(t, err, "insufficient inventory")
}
