package vesting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"confio/core/ledger"
	"confio/core/ledger/ledgertest"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

func TestVested(t *testing.T) {
	cases := []struct {
		name                  string
		total, start, dur, at uint64
		want                  uint64
	}{
		{"unstarted", 1_000, 0, 100, 50, 0},
		{"before start", 1_000, 100, 100, 90, 0},
		{"linear", 10_000_000_000, 1_000, 300, 1_060, 2_000_000_000},
		{"floor", 10, 1, 3, 2, 3},
		{"complete", 10_000_000_000, 1_000, 300, 5_000, 10_000_000_000},
	}
	for _, tc := range cases {
		got, err := Vested(tc.total, tc.start, tc.dur, tc.at)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, got, tc.name)
	}
}

type env struct {
	h     *ledgertest.Harness
	admin *crypto.PrivateKey
	asset uint64
}

func newEnv(t *testing.T) *env {
	h := ledgertest.New(t, map[string]ledger.Program{
		ProgramName:     NewSingle(),
		PoolProgramName: NewPool(),
	})
	admin := h.Account(100_000_000)
	asset := h.CreateAsset(admin, types.AssetParams{Total: 100_000_000_000_000, Decimals: 6, UnitName: "CONFIO"})
	return &env{h: h, admin: admin, asset: asset}
}

// deploy creates, funds and opts the app into the asset.
func (e *env) deploy(t *testing.T, program string, args ...[]byte) uint64 {
	app := e.h.CreateApp(e.admin, program, args...)
	e.h.MustSend([]*types.Transaction{e.h.Pay(e.admin.Address(), types.ApplicationAddress(app), 2_000_000)},
		[]*crypto.PrivateKey{e.admin})
	_, err := e.call(e.admin, app, 2_000, nil, MethodOptInAsset, e.asset)
	require.NoError(t, err)
	return app
}

func (e *env) call(key *crypto.PrivateKey, app, fee uint64, boxes []types.BoxRef, method string, values ...any) (types.PendingTxn, error) {
	tx := e.h.Call(key.Address(), app, common.Args(method, values...)...)
	tx.ForeignAssets = []uint64{e.asset}
	tx.Boxes = boxes
	tx.Fee = fee
	return e.h.Send([]*types.Transaction{tx}, []*crypto.PrivateKey{key})
}

func (e *env) fund(app, amount uint64) (types.PendingTxn, error) {
	xfer := e.h.Xfer(e.admin.Address(), types.ApplicationAddress(app), e.asset, amount)
	call := e.h.Call(e.admin.Address(), app, common.Args(MethodFund)...)
	return e.h.Send([]*types.Transaction{xfer, call}, []*crypto.PrivateKey{e.admin, e.admin})
}

func (e *env) holder() *crypto.PrivateKey {
	key := e.h.Account(1_000_000)
	e.h.OptIn(key, e.asset)
	return key
}

func TestSingleLinearClaim(t *testing.T) {
	e := newEnv(t)
	bene := e.holder()
	app := e.deploy(t, ProgramName, bene.Address().Bytes(), types.Uint64Bytes(300))

	_, err := e.fund(app, 10_000_000_000)
	require.NoError(t, err)
	_, err = e.call(bene, app, 2_000, nil, MethodClaim)
	require.ErrorContains(t, err, "not started")

	_, err = e.call(e.admin, app, 1_000, nil, MethodStart)
	require.NoError(t, err)
	t0 := DecodeState(e.h.Global(app)).StartTime
	require.NotZero(t, t0)

	e.h.Clock.Advance(60 * time.Second)
	_, err = e.call(bene, app, 2_000, nil, MethodClaim)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000_000), e.h.Holding(bene.Address(), e.asset))

	outsider := e.holder()
	_, err = e.call(outsider, app, 2_000, nil, MethodClaim)
	require.ErrorContains(t, err, "unauthorized")

	e.h.Clock.Advance(240 * time.Second)
	_, err = e.call(bene, app, 2_000, nil, MethodClaim)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000_000), e.h.Holding(bene.Address(), e.asset))
	st := DecodeState(e.h.Global(app))
	require.Equal(t, st.TotalLocked, st.TotalClaimed)

	_, err = e.call(bene, app, 2_000, nil, MethodClaim)
	require.ErrorContains(t, err, "nothing vested")
	_, err = e.call(e.admin, app, 2_000, nil, MethodWithdrawBeforeStart)
	require.ErrorContains(t, err, "already started")
}

func TestSingleWithdrawBeforeStart(t *testing.T) {
	e := newEnv(t)
	bene := e.holder()
	app := e.deploy(t, ProgramName, bene.Address().Bytes(), types.Uint64Bytes(300))
	_, err := e.fund(app, 5_000_000)
	require.NoError(t, err)

	before := e.h.Holding(e.admin.Address(), e.asset)
	_, err = e.call(e.admin, app, 2_000, nil, MethodWithdrawBeforeStart)
	require.NoError(t, err)
	require.Zero(t, e.h.Holding(types.ApplicationAddress(app), e.asset))
	require.Equal(t, before+5_000_000, e.h.Holding(e.admin.Address(), e.asset))
	require.Zero(t, DecodeState(e.h.Global(app)).TotalLocked)

	_, err = e.call(e.admin, app, 1_000, nil, MethodStart)
	require.ErrorContains(t, err, "nothing locked")
}

func TestSingleBeneficiaryIsMutable(t *testing.T) {
	e := newEnv(t)
	bene := e.holder()
	next := e.holder()
	app := e.deploy(t, ProgramName, bene.Address().Bytes(), types.Uint64Bytes(100))
	_, err := e.fund(app, 1_000)
	require.NoError(t, err)
	_, err = e.call(e.admin, app, 1_000, nil, MethodStart)
	require.NoError(t, err)
	_, err = e.call(e.admin, app, 1_000, nil, MethodSetBeneficiary, next.Address())
	require.NoError(t, err)

	e.h.Clock.Advance(100 * time.Second)
	_, err = e.call(bene, app, 2_000, nil, MethodClaim)
	require.Error(t, err)
	_, err = e.call(next, app, 2_000, nil, MethodClaim)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), e.h.Holding(next.Address(), e.asset))
}

func boxFor(keys ...*crypto.PrivateKey) []types.BoxRef {
	refs := make([]types.BoxRef, len(keys))
	for i, k := range keys {
		refs[i] = types.BoxRef{Name: MemberBox(k.Address())}
	}
	return refs
}

func TestPoolMembers(t *testing.T) {
	e := newEnv(t)
	app := e.deploy(t, PoolProgramName, types.Uint64Bytes(100))
	a, b, c := e.holder(), e.holder(), e.holder()

	_, err := e.fund(app, 1_000_000)
	require.NoError(t, err)
	_, err = e.call(e.admin, app, 1_000, boxFor(a), MethodAddMember, a.Address(), uint64(600_000))
	require.NoError(t, err)
	_, err = e.call(e.admin, app, 1_000, boxFor(a), MethodAddMember, a.Address(), uint64(1))
	require.ErrorContains(t, err, "already exists")
	_, err = e.call(e.admin, app, 1_000, boxFor(b), MethodAddMember, b.Address(), uint64(500_000))
	require.ErrorContains(t, err, "exceeds funded")
	_, err = e.call(e.admin, app, 1_000, boxFor(b), MethodAddMember, b.Address(), uint64(300_000))
	require.NoError(t, err)
	_, err = e.call(e.admin, app, 1_000, nil, MethodAddMember, c.Address(), uint64(1))
	require.ErrorContains(t, err, "invalid Box reference")

	before := e.h.Holding(e.admin.Address(), e.asset)
	_, err = e.call(e.admin, app, 2_000, nil, MethodWithdrawBeforeStart)
	require.NoError(t, err)
	require.Equal(t, before+100_000, e.h.Holding(e.admin.Address(), e.asset))
	require.Equal(t, uint64(900_000), e.h.Holding(types.ApplicationAddress(app), e.asset))

	_, err = e.call(e.admin, app, 1_000, nil, MethodStart)
	require.NoError(t, err)
	e.h.Clock.Advance(50 * time.Second)
	_, err = e.call(a, app, 2_000, boxFor(a), MethodClaim)
	require.NoError(t, err)
	require.Equal(t, uint64(300_000), e.h.Holding(a.Address(), e.asset))

	_, err = e.call(e.admin, app, 1_000, boxFor(a), MethodRemoveMember, a.Address())
	require.ErrorContains(t, err, "already claimed")

	_, err = e.call(e.admin, app, 1_000, boxFor(b, c), MethodChangeMember, b.Address(), c.Address())
	require.NoError(t, err)
	_, err = e.call(b, app, 2_000, boxFor(b), MethodClaim)
	require.ErrorContains(t, err, "not a member")

	e.h.Clock.Advance(100 * time.Second)
	_, err = e.call(c, app, 2_000, boxFor(c), MethodClaim)
	require.NoError(t, err)
	require.Equal(t, uint64(300_000), e.h.Holding(c.Address(), e.asset))

	raw, err := e.h.Ledger.Box(app, MemberBox(c.Address()))
	require.NoError(t, err)
	m, err := DecodeMember(raw.Value)
	require.NoError(t, err)
	require.Equal(t, Member{Allocated: 300_000, Claimed: 300_000}, m)
}

func TestPoolRemoveMemberBeforeClaim(t *testing.T) {
	e := newEnv(t)
	app := e.deploy(t, PoolProgramName, types.Uint64Bytes(100))
	a := e.holder()
	_, err := e.fund(app, 1_000)
	require.NoError(t, err)
	_, err = e.call(e.admin, app, 1_000, boxFor(a), MethodAddMember, a.Address(), uint64(1_000))
	require.NoError(t, err)
	_, err = e.call(e.admin, app, 2_000, nil, MethodWithdrawBeforeStart)
	require.ErrorContains(t, err, "no unallocated balance")

	_, err = e.call(e.admin, app, 1_000, boxFor(a), MethodRemoveMember, a.Address())
	require.NoError(t, err)
	st := DecodeState(e.h.Global(app))
	require.Zero(t, st.TotalAllocated)
	require.Zero(t, st.Members)
	require.Empty(t, e.h.Ledger.BoxNames(app))
}
