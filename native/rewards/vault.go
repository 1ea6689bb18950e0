// Package rewards implements the referral rewards vault: the admin marks users
// eligible for an amount of the reward asset and users claim it themselves.
package rewards

import (
	"fmt"

	"confio/core/events"
	"confio/core/ledger"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

const ProgramName = "rewards"

const (
	MethodBootstrap     = "bootstrap"
	MethodFund          = "fund"
	MethodMarkEligible  = "mark_eligible"
	MethodClaim         = "claim"
	MethodRevoke        = "revoke"
	MethodWithdraw      = "withdraw"
	MethodPause         = "pause"
	MethodUnpause       = "unpause"
	MethodUpdateAdmin   = "update_admin"
	MethodUpdateSponsor = "update_sponsor"
)

const (
	keyAdmin          = "admin"
	keySponsor        = "sponsor"
	keyAsset          = "asset_id"
	keyPaused         = "is_paused"
	keyTotalAllocated = "total_allocated"
	keyTotalClaimed   = "total_claimed"
	keyTotalRevoked   = "total_revoked"
	keyUsers          = "user_count"
)

// UserRecordSize is allocated(8)||claimed(8)||revoked(8).
const UserRecordSize = 24

// User is the sub-record of one eligible account. Revoked holds the amount
// forfeited; a revoked user can never be marked eligible again.
type User struct {
	Allocated uint64
	Claimed   uint64
	Revoked   uint64
}

func (u User) Claimable() uint64 {
	if u.Revoked != 0 {
		return 0
	}
	return u.Allocated - u.Claimed
}

func (u User) Encode() []byte {
	out := make([]byte, UserRecordSize)
	common.PutUint64(out, 0, u.Allocated)
	common.PutUint64(out, 8, u.Claimed)
	common.PutUint64(out, 16, u.Revoked)
	return out
}

func DecodeUser(raw []byte) (User, error) {
	if len(raw) != UserRecordSize {
		return User{}, fmt.Errorf("user record is %d bytes, want %d", len(raw), UserRecordSize)
	}
	return User{
		Allocated: common.GetUint64(raw, 0),
		Claimed:   common.GetUint64(raw, 8),
		Revoked:   common.GetUint64(raw, 16),
	}, nil
}

func UserBox(addr crypto.Address) []byte { return append([]byte{'u'}, addr.Bytes()...) }

// State is the decoded global state of a vault.
type State struct {
	Admin          crypto.Address
	Sponsor        crypto.Address
	AssetID        uint64
	Paused         bool
	TotalAllocated uint64
	TotalClaimed   uint64
	TotalRevoked   uint64
	Users          uint64
}

// Outstanding is what the vault owes eligible users.
func (s State) Outstanding() uint64 { return s.TotalAllocated - s.TotalClaimed }

func DecodeState(m types.StateMap) State {
	return State{
		Admin:          m.Address(keyAdmin),
		Sponsor:        m.Address(keySponsor),
		AssetID:        m.Uint(keyAsset),
		Paused:         m.Uint(keyPaused) != 0,
		TotalAllocated: m.Uint(keyTotalAllocated),
		TotalClaimed:   m.Uint(keyTotalClaimed),
		TotalRevoked:   m.Uint(keyTotalRevoked),
		Users:          m.Uint(keyUsers),
	}
}

type Vault struct{}

func New() *Vault { return &Vault{} }

// Execute implements ledger.Program.
func (v *Vault) Execute(ctx *ledger.Context) error {
	if ctx.IsCreate() {
		ctx.SetGlobalAddress(keyAdmin, ctx.Sender())
		ctx.SetGlobalAddress(keySponsor, crypto.ZeroAddress)
		for _, key := range []string{keyAsset, keyPaused, keyTotalAllocated, keyTotalClaimed, keyTotalRevoked, keyUsers} {
			ctx.SetGlobalUint(key, 0)
		}
		return nil
	}
	switch ctx.OnCompletion() {
	case types.NoOp:
	case types.UpdateApplication, types.DeleteApplication:
		return common.RequireAdmin(ctx, ctx.OnCompletion().String())
	default:
		return common.Fail("rewards", "%s not supported", ctx.OnCompletion())
	}

	method := common.Method(ctx)
	switch method {
	case MethodUnpause:
		return v.setPaused(ctx, false)
	case MethodUpdateAdmin, MethodUpdateSponsor:
		return v.updateRole(ctx, method)
	}
	if err := common.Guard(ctx, keyPaused, method); err != nil {
		return err
	}
	switch method {
	case MethodBootstrap:
		return v.bootstrap(ctx)
	case MethodFund:
		return v.fund(ctx)
	case MethodMarkEligible:
		return v.markEligible(ctx)
	case MethodClaim:
		return v.claim(ctx)
	case MethodRevoke:
		return v.revoke(ctx)
	case MethodWithdraw:
		return v.withdraw(ctx)
	case MethodPause:
		return v.setPaused(ctx, true)
	default:
		return common.Fail("dispatch", "unknown method %q", method)
	}
}

func (v *Vault) bootstrap(ctx *ledger.Context) error {
	const op = "bootstrap"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if ctx.GlobalUint(keyAsset) != 0 {
		return common.Fail(op, "asset already configured")
	}
	asset, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	if asset == 0 {
		return common.Fail(op, "asset id required")
	}
	ctx.SetGlobalUint(keyAsset, asset)
	if err := common.OptInAsset(ctx, asset); err != nil {
		return common.Fail(op, "%v", err)
	}
	return nil
}

// fund accepts [xfer, call] or a sponsored [pay, xfer, call] from the admin
// or the sponsor.
func (v *Vault) fund(ctx *ledger.Context) error {
	const op = "fund"
	deposit, err := common.SponsoredDeposit(ctx, op, ctx.GlobalUint(keyAsset), ctx.GlobalAddress(keySponsor))
	if err != nil {
		return err
	}
	if deposit.Sender != ctx.GlobalAddress(keyAdmin) && deposit.Sender != ctx.GlobalAddress(keySponsor) {
		return common.Fail(op, "unauthorized: funding must come from admin or sponsor")
	}
	return ctx.Log(events.Line(op, deposit.Amount, deposit.Sender))
}

func (v *Vault) available(ctx *ledger.Context, op string) (uint64, error) {
	held, err := common.AppAssetBalance(ctx, ctx.GlobalUint(keyAsset))
	if err != nil {
		return 0, common.Fail(op, "%v", err)
	}
	owed := ctx.GlobalUint(keyTotalAllocated) - ctx.GlobalUint(keyTotalClaimed)
	if held <= owed {
		return 0, nil
	}
	return held - owed, nil
}

func (v *Vault) user(ctx *ledger.Context, op string, addr crypto.Address) (User, bool, error) {
	raw, ok, err := ctx.BoxGet(UserBox(addr))
	if err != nil {
		return User{}, false, common.Fail(op, "%v", err)
	}
	if !ok {
		return User{}, false, nil
	}
	u, err := DecodeUser(raw)
	if err != nil {
		return User{}, false, common.Fail(op, "%v", err)
	}
	return u, true, nil
}

// markEligible adds amount to the entitlement of accounts[0]. The vault must
// hold enough unallocated balance to cover it.
func (v *Vault) markEligible(ctx *ledger.Context) error {
	const op = "mark_eligible"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	addr, err := ctx.Account(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	amount, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	if amount == 0 {
		return common.Fail(op, "amount must be positive")
	}
	available, err := v.available(ctx, op)
	if err != nil {
		return err
	}
	if amount > available {
		return common.Fail(op, "amount %d exceeds unallocated balance %d", amount, available)
	}
	u, exists, err := v.user(ctx, op, addr)
	if err != nil {
		return err
	}
	if u.Revoked != 0 {
		return common.Fail(op, "%s was revoked", addr)
	}
	u.Allocated += amount
	if exists {
		err = ctx.BoxPut(UserBox(addr), u.Encode())
	} else {
		err = ctx.BoxCreate(UserBox(addr), u.Encode())
		ctx.SetGlobalUint(keyUsers, ctx.GlobalUint(keyUsers)+1)
	}
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	ctx.SetGlobalUint(keyTotalAllocated, ctx.GlobalUint(keyTotalAllocated)+amount)
	return ctx.Log(events.Line("eligible", amount, addr))
}

func (v *Vault) claim(ctx *ledger.Context) error {
	const op = "claim"
	addr := ctx.Sender()
	u, exists, err := v.user(ctx, op, addr)
	if err != nil {
		return err
	}
	if !exists {
		return common.Fail(op, "%s is not eligible", addr)
	}
	if u.Revoked != 0 {
		return common.Fail(op, "%s was revoked", addr)
	}
	amount := u.Claimable()
	if amount == 0 {
		return common.Fail(op, "nothing to claim")
	}
	u.Claimed = u.Allocated
	if err := ctx.BoxPut(UserBox(addr), u.Encode()); err != nil {
		return common.Fail(op, "%v", err)
	}
	ctx.SetGlobalUint(keyTotalClaimed, ctx.GlobalUint(keyTotalClaimed)+amount)
	if err := common.SendAsset(ctx, ctx.GlobalUint(keyAsset), addr, amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, amount, addr))
}

// revoke forfeits the unclaimed entitlement of accounts[0] back to the
// unallocated balance.
func (v *Vault) revoke(ctx *ledger.Context) error {
	const op = "revoke"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	addr, err := ctx.Account(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	u, exists, err := v.user(ctx, op, addr)
	if err != nil {
		return err
	}
	if !exists {
		return common.Fail(op, "%s is not eligible", addr)
	}
	if u.Revoked != 0 {
		return common.Fail(op, "%s already revoked", addr)
	}
	forfeited := u.Allocated - u.Claimed
	// a fully claimed user still carries the revoked mark
	u.Revoked = forfeited
	if forfeited == 0 {
		u.Revoked = 1
	}
	u.Allocated = u.Claimed
	if err := ctx.BoxPut(UserBox(addr), u.Encode()); err != nil {
		return common.Fail(op, "%v", err)
	}
	ctx.SetGlobalUint(keyTotalAllocated, ctx.GlobalUint(keyTotalAllocated)-forfeited)
	ctx.SetGlobalUint(keyTotalRevoked, ctx.GlobalUint(keyTotalRevoked)+forfeited)
	return ctx.Log(events.Line(op, forfeited, addr))
}

func (v *Vault) withdraw(ctx *ledger.Context) error {
	const op = "withdraw"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	amount, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	available, err := v.available(ctx, op)
	if err != nil {
		return err
	}
	if amount == 0 || amount > available {
		return common.Fail(op, "amount %d outside unallocated balance %d", amount, available)
	}
	to := ctx.Sender()
	if addr, err := ctx.Account(0); err == nil {
		to = addr
	}
	if err := common.SendAsset(ctx, ctx.GlobalUint(keyAsset), to, amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, amount, to))
}

func (v *Vault) setPaused(ctx *ledger.Context, paused bool) error {
	op := MethodUnpause
	value := uint64(0)
	if paused {
		op, value = MethodPause, 1
	}
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if !paused && ctx.GlobalUint(keyPaused) == 0 {
		return common.Fail(op, "not paused")
	}
	ctx.SetGlobalUint(keyPaused, value)
	return ctx.Log(events.Format(op, []uint64{value}, nil))
}

func (v *Vault) updateRole(ctx *ledger.Context, method string) error {
	if err := common.RequireAdmin(ctx, method); err != nil {
		return err
	}
	addr, err := common.Address(ctx, method, 1)
	if err != nil {
		return err
	}
	key, verb := keySponsor, "sponsor"
	if method == MethodUpdateAdmin {
		if addr.IsZero() {
			return common.Fail(method, "zero address")
		}
		key, verb = keyAdmin, "admin"
	}
	ctx.SetGlobalAddress(key, addr)
	return ctx.Log(events.Format(verb, nil, &addr))
}
