package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"confio/config"
	"confio/core/ledger/ledgertest"
	"confio/core/types"
	"confio/crypto"
	"confio/native"
	"confio/native/common"
	"confio/native/presale"
	"confio/native/rewards"
	"confio/native/stablecoin"
	"confio/rpc"
	"confio/rpc/nodeclient"
	"confio/services/orchestrator/mirror"
	"confio/services/txc"
)

type keySigner struct{ key *crypto.PrivateKey }

func (k keySigner) Address() crypto.Address { return k.key.Address() }

func (k keySigner) SignTransaction(_ context.Context, tx *types.Transaction) (*types.SignedTxn, error) {
	return types.SignTransaction(tx, k.key, crypto.ZeroAddress)
}

type env struct {
	h       *ledgertest.Harness
	orch    *Orchestrator
	mirror  *mirror.Store
	admin   *crypto.PrivateKey
	sponsor *crypto.PrivateKey
	issuer  *crypto.PrivateKey
	token   uint64
	cusd    uint64
	usdc    uint64
	presale uint64
	stable  uint64
	rewards uint64
	ops     Operator
}

// newEnv deploys the presale, the stablecoin and the rewards vault on a dev
// ledger and stocks the sponsor with sponsorTokens.
func newEnv(t *testing.T, sponsorTokens uint64) *env {
	t.Helper()
	h := ledgertest.New(t, native.Programs())
	srv := httptest.NewServer(rpc.NewServer(h.Ledger, rpc.Config{}).Handler())
	t.Cleanup(srv.Close)
	client, err := nodeclient.New(nodeclient.Config{URL: srv.URL})
	require.NoError(t, err)

	e := &env{
		h:       h,
		admin:   h.Account(1_000_000_000),
		sponsor: h.Account(100_000_000),
		issuer:  h.Account(100_000_000),
		ops:     Operator{Name: "ops", Roles: []string{config.RoleAdmin}},
	}
	reserve := h.Account(10_000_000)
	e.token = h.CreateAsset(e.admin, types.AssetParams{Total: 1_000_000_000_000_000, Decimals: 6, UnitName: "CONFIO"})

	e.stable = h.CreateApp(e.admin, stablecoin.ProgramName)
	stableAddr := types.ApplicationAddress(e.stable)
	e.cusd = h.CreateAsset(reserve, types.AssetParams{
		Total: 1_000_000_000_000_000, Decimals: 6, UnitName: "cUSD",
		Reserve: reserve.Address(), Freeze: stableAddr, Clawback: stableAddr,
	})
	e.usdc = h.CreateAsset(e.issuer, types.AssetParams{
		Total: 1_000_000_000_000_000, Decimals: 6, UnitName: "USDC",
		Manager: e.issuer.Address(), Reserve: e.issuer.Address(),
	})
	setup := h.Call(e.admin.Address(), e.stable, common.Args(stablecoin.MethodSetupAssets, e.cusd, e.usdc)...)
	setup.ForeignAssets = []uint64{e.cusd, e.usdc}
	setup.Fee = 3_000
	h.MustSend([]*types.Transaction{h.Pay(e.admin.Address(), stableAddr, stablecoin.SetupFunding), setup},
		[]*crypto.PrivateKey{e.admin, e.admin})

	e.presale = h.CreateApp(e.admin, presale.ProgramName)
	h.MustSend([]*types.Transaction{h.Pay(e.admin.Address(), types.ApplicationAddress(e.presale), 1_000_000)}, []*crypto.PrivateKey{e.admin})
	optIn := h.Call(e.admin.Address(), e.presale, common.Args(presale.MethodOptInAssets, e.token, e.cusd)...)
	optIn.ForeignAssets = []uint64{e.token, e.cusd}
	optIn.Fee = 3_000
	h.MustSend([]*types.Transaction{optIn}, []*crypto.PrivateKey{e.admin})

	e.rewards = h.CreateApp(e.admin, rewards.ProgramName)
	h.MustSend([]*types.Transaction{h.Pay(e.admin.Address(), types.ApplicationAddress(e.rewards), 1_000_000)}, []*crypto.PrivateKey{e.admin})

	h.OptIn(e.sponsor, e.token)
	if sponsorTokens > 0 {
		h.MustSend([]*types.Transaction{h.Xfer(e.admin.Address(), e.sponsor.Address(), e.token, sponsorTokens)}, []*crypto.PrivateKey{e.admin})
	}

	m, err := mirror.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	e.mirror = m

	policy := config.DefaultAccess()
	policy.Operators = map[string][]string{"ops": {config.RoleAdmin}}
	access := NewAccess(policy, config.Operator{DevName: "ops"})

	cfg := Config{
		Apps:        config.Apps{Stablecoin: e.stable, Presale: e.presale, Rewards: e.rewards},
		Assets:      config.Assets{CUSD: e.cusd, Collateral: e.usdc, Token: e.token},
		Presale:     config.Presale{CapMultiplier: 5, SafetyBufferTokens: 10_000},
		Sponsorship: config.DefaultSponsorship(),
	}
	composer := txc.New(client, txc.WithClock(h.Clock.Now))
	e.orch, err = New(cfg, client, composer, Signers{Admin: keySigner{e.admin}, Sponsor: keySigner{e.sponsor}}, access, WithMirror(m))
	require.NoError(t, err)
	return e
}

func (e *env) presaleState() presale.State { return presale.DecodeState(e.h.Global(e.presale)) }

func requirePreflight(t *testing.T, err error, reason string) *PreflightError {
	t.Helper()
	var pre *PreflightError
	require.ErrorAs(t, err, &pre)
	require.Contains(t, pre.Reason, reason)
	return pre
}

func TestStartRoundTopsUpInventory(t *testing.T) {
	e := newEnv(t, 10_000_000_000)
	ctx := context.Background()

	_, err := e.orch.SetPhase(ctx, e.ops, RoundRequest{Phase: 1, Price: 200_000, DisplayCap: 200_000_000, MaxPerAddr: 100_000_000})
	require.NoError(t, err)

	res, err := e.orch.StartRound(ctx, e.ops, RoundRequest{Phase: 1})
	require.NoError(t, err)
	require.NotEmpty(t, res.TxID)
	require.Len(t, res.Prior, 1)

	// cap 1,000,000,000 µUSD at 0.2 cUSD needs 5,000 tokens plus the buffer
	appAddr := types.ApplicationAddress(e.presale)
	require.Equal(t, uint64(5_000_010_000), e.h.Holding(appAddr, e.token))
	st := e.presaleState()
	require.True(t, st.Active)
	require.Equal(t, uint64(1_000_000_000), st.RoundCap)
	require.Equal(t, uint64(1), st.RoundID)

	phase, err := e.mirror.Phase(1)
	require.NoError(t, err)
	require.True(t, phase.Active)
	require.Equal(t, res.TxID, phase.LastTxID)

	_, err = e.orch.StartRound(ctx, e.ops, RoundRequest{Phase: 1})
	requirePreflight(t, err, "already active")

	res, err = e.orch.EndRound(ctx, e.ops, 1)
	require.NoError(t, err)
	require.NotEmpty(t, res.TxID)
	require.False(t, e.presaleState().Active)
	res, err = e.orch.EndRound(ctx, e.ops, 1)
	require.NoError(t, err)
	require.Empty(t, res.TxID)
	require.Contains(t, res.Message, "not active")

	before := e.h.Holding(e.admin.Address(), e.token)
	_, err = e.orch.WithdrawUnsold(ctx, e.ops, 10_000, crypto.ZeroAddress)
	require.NoError(t, err)
	require.Equal(t, before+10_000, e.h.Holding(e.admin.Address(), e.token))

	res, err = e.orch.ResumeRound(ctx, e.ops, 1)
	require.NoError(t, err)
	require.Empty(t, res.Prior)
	require.True(t, e.presaleState().Active)

	_, err = e.orch.WithdrawUnsold(ctx, e.ops, 1, crypto.ZeroAddress)
	requirePreflight(t, err, "is active")
}

func TestStartRoundSponsorUnderfunded(t *testing.T) {
	e := newEnv(t, 1_000_000)
	_, err := e.orch.StartRound(context.Background(), e.ops, RoundRequest{Price: 200_000, DisplayCap: 200_000_000, MaxPerAddr: 100_000_000})
	pre := requirePreflight(t, err, "sponsor underfunded")
	require.Contains(t, pre.Remedy, "fund sponsor with 4999010000 micro-tokens")
	require.Zero(t, e.presaleState().RoundID)

	_, err = e.orch.StartRound(context.Background(), e.ops, RoundRequest{Phase: 7})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestUnlockClaimsIsFinal(t *testing.T) {
	e := newEnv(t, 10_000_000_000)
	ctx := context.Background()
	_, err := e.orch.StartRound(ctx, e.ops, RoundRequest{Phase: 1, Price: 1_000_000, DisplayCap: 100_000_000, MaxPerAddr: 100_000_000})
	require.NoError(t, err)

	res, err := e.orch.UnlockClaims(ctx, e.ops)
	require.NoError(t, err)
	require.NotEmpty(t, res.TxID)
	st := e.presaleState()
	require.False(t, st.Locked)
	require.False(t, st.Active)

	unlocked, err := e.mirror.Flag(mirror.FlagClaimsUnlocked)
	require.NoError(t, err)
	require.True(t, unlocked)
	phase, err := e.mirror.Phase(1)
	require.NoError(t, err)
	require.False(t, phase.Active)

	_, err = e.orch.StartRound(ctx, e.ops, RoundRequest{Phase: 1})
	requirePreflight(t, err, "permanently unlocked")
	_, err = e.orch.ResumeRound(ctx, e.ops, 1)
	requirePreflight(t, err, "permanently unlocked")

	res, err = e.orch.UnlockClaims(ctx, e.ops)
	require.NoError(t, err)
	require.Empty(t, res.TxID)
	require.Contains(t, res.Message, "already unlocked")

	actions, err := e.mirror.Actions(10)
	require.NoError(t, err)
	outcomes := map[string]int{}
	for _, a := range actions {
		outcomes[a.Action+"/"+a.Outcome]++
	}
	require.Equal(t, 1, outcomes["presale.unlock-claims/confirmed"])
	require.Equal(t, 1, outcomes["presale.unlock-claims/reported"])
	require.Equal(t, 1, outcomes["presale.start-round/preflight"])
}

func TestStablecoinOperations(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	res, err := e.orch.Pause(ctx, e.ops)
	require.NoError(t, err)
	require.NotEmpty(t, res.TxID)
	require.True(t, stablecoin.DecodeState(e.h.Global(e.stable)).Paused)
	res, err = e.orch.Pause(ctx, e.ops)
	require.NoError(t, err)
	require.Empty(t, res.TxID)
	_, err = e.orch.Unpause(ctx, e.ops)
	require.NoError(t, err)

	user := e.h.Account(2_000_000)
	_, err = e.orch.Freeze(ctx, e.ops, user.Address())
	requirePreflight(t, err, "not opted in")

	e.h.OptIn(user, e.cusd)
	_, err = e.orch.Freeze(ctx, e.ops, user.Address())
	require.NoError(t, err)
	require.True(t, e.h.Frozen(user.Address(), e.cusd))
	res, err = e.orch.Freeze(ctx, e.ops, user.Address())
	require.NoError(t, err)
	require.Contains(t, res.Message, "already frozen")
	_, err = e.orch.Unfreeze(ctx, e.ops, user.Address())
	require.NoError(t, err)
	require.False(t, e.h.Frozen(user.Address(), e.cusd))

	stableAddr := types.ApplicationAddress(e.stable)
	e.h.MustSend([]*types.Transaction{e.h.Xfer(e.issuer.Address(), stableAddr, e.usdc, 1_000_000)}, []*crypto.PrivateKey{e.issuer})
	_, err = e.orch.WithdrawUSDC(ctx, e.ops, 2_000_000, e.admin.Address())
	requirePreflight(t, err, "exceeds collateral held")
	_, err = e.orch.WithdrawUSDC(ctx, e.ops, 1_000_000, e.admin.Address())
	requirePreflight(t, err, "not opted in")

	e.h.OptIn(e.admin, e.usdc)
	_, err = e.orch.WithdrawUSDC(ctx, e.ops, 1_000_000, e.admin.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), e.h.Holding(e.admin.Address(), e.usdc))

	res, err = e.orch.TransferAdmin(ctx, e.ops, e.admin.Address())
	require.NoError(t, err)
	require.Empty(t, res.TxID)
	_, err = e.orch.UpdateSponsor(ctx, e.ops, e.sponsor.Address())
	require.NoError(t, err)
	require.Equal(t, e.sponsor.Address(), stablecoin.DecodeState(e.h.Global(e.stable)).Sponsor)
}

func TestRewardsLifecycle(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	res, err := e.orch.BootstrapAndFund(ctx, e.ops, 1_000_000_000)
	require.NoError(t, err)
	require.Len(t, res.Prior, 1)
	require.Equal(t, e.token, rewards.DecodeState(e.h.Global(e.rewards)).AssetID)
	res, err = e.orch.BootstrapAndFund(ctx, e.ops, 500_000_000)
	require.NoError(t, err)
	require.Empty(t, res.Prior)

	user := e.h.Account(2_000_000)
	e.h.OptIn(user, e.cusd)
	mark := e.h.Call(e.admin.Address(), e.rewards, common.Args(rewards.MethodMarkEligible, uint64(400_000_000))...)
	mark.Accounts = []crypto.Address{user.Address()}
	mark.ForeignAssets = []uint64{e.token}
	mark.Boxes = []types.BoxRef{{Name: rewards.UserBox(user.Address())}}
	e.h.MustSend([]*types.Transaction{mark}, []*crypto.PrivateKey{e.admin})

	res, err = e.orch.WithdrawRewards(ctx, e.ops, 0, true)
	require.NoError(t, err)
	require.Empty(t, res.TxID)
	require.Equal(t, "held 1500.000000, owed 400.000000, withdrawable 1100.000000", res.Message)
	_, err = e.orch.WithdrawRewards(ctx, e.ops, 1_100_000_001, false)
	requirePreflight(t, err, "exceeds withdrawable")
	_, err = e.orch.WithdrawRewards(ctx, e.ops, 100_000_000, false)
	require.NoError(t, err)

	_, err = e.orch.RevokeReward(ctx, e.ops, e.h.Account(1_000_000).Address(), false)
	requirePreflight(t, err, "no reward record")

	res, err = e.orch.RevokeReward(ctx, e.ops, user.Address(), true)
	require.NoError(t, err)
	require.Len(t, res.Prior, 1)
	require.True(t, e.h.Frozen(user.Address(), e.cusd))
	require.Equal(t, uint64(400_000_000), rewards.DecodeState(e.h.Global(e.rewards)).TotalRevoked)
	flag, err := e.mirror.RewardFlag(user.Address().String())
	require.NoError(t, err)
	require.True(t, flag.Revoked)
	require.True(t, flag.Frozen)

	res, err = e.orch.RevokeReward(ctx, e.ops, user.Address(), true)
	require.NoError(t, err)
	require.Empty(t, res.TxID)
	require.Contains(t, res.Message, "already revoked")
}

func TestActionsRequireRoles(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	_, err := e.orch.Pause(ctx, Operator{})
	require.True(t, errors.Is(err, ErrUnauthenticated))

	watcher := Operator{Name: "rita", Roles: []string{config.RoleRewards}}
	_, err = e.orch.WithdrawRewards(ctx, watcher, 0, true)
	var denied *AccessError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "rewards.withdraw", denied.Action)

	// revoking with a freeze needs the security side too
	_, err = e.orch.RevokeReward(ctx, watcher, e.admin.Address(), true)
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "stablecoin.freeze", denied.Action)
	require.False(t, stablecoin.DecodeState(e.h.Global(e.stable)).Paused)
}
