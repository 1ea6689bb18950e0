package vesting

import (
	"confio/core/events"
	"confio/core/ledger"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

// Single releases a locked balance to one beneficiary over a fixed
// duration measured from start.
type Single struct{}

func NewSingle() *Single { return &Single{} }

// Execute implements ledger.Program. Creation takes the beneficiary and the
// duration in seconds.
func (s *Single) Execute(ctx *ledger.Context) error {
	if ctx.IsCreate() {
		return s.create(ctx)
	}
	switch ctx.OnCompletion() {
	case types.NoOp:
	case types.UpdateApplication, types.DeleteApplication:
		return common.RequireAdmin(ctx, ctx.OnCompletion().String())
	default:
		return common.Fail("vesting", "%s not supported", ctx.OnCompletion())
	}

	switch method := common.Method(ctx); method {
	case MethodOptInAsset:
		return optInAsset(ctx)
	case MethodFund:
		return fund(ctx)
	case MethodStart:
		return start(ctx)
	case MethodClaim:
		return s.claim(ctx)
	case MethodWithdrawBeforeStart:
		return s.withdrawBeforeStart(ctx)
	case MethodSetBeneficiary:
		return s.setBeneficiary(ctx)
	case MethodUpdateAdmin:
		return updateAdmin(ctx)
	default:
		return common.Fail("dispatch", "unknown method %q", method)
	}
}

func (s *Single) create(ctx *ledger.Context) error {
	const op = "create"
	beneficiary, err := common.Address(ctx, op, 0)
	if err != nil {
		return err
	}
	if beneficiary.IsZero() {
		return common.Fail(op, "beneficiary is the zero address")
	}
	duration, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	if duration == 0 {
		return common.Fail(op, "duration must be positive")
	}
	initGlobals(ctx, duration)
	ctx.SetGlobalAddress(keyBeneficiary, beneficiary)
	return nil
}

func (s *Single) claim(ctx *ledger.Context) error {
	const op = "claim"
	beneficiary := ctx.GlobalAddress(keyBeneficiary)
	if ctx.Sender() != beneficiary {
		return common.Fail(op, "unauthorized: sender is not beneficiary")
	}
	startTime := ctx.GlobalUint(keyStartTime)
	if startTime == 0 {
		return common.Fail(op, "not started")
	}
	vested, err := Vested(ctx.GlobalUint(keyTotalLocked), startTime, ctx.GlobalUint(keyDuration), ctx.Timestamp())
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	claimed := ctx.GlobalUint(keyTotalClaimed)
	if vested <= claimed {
		return common.Fail(op, "nothing vested")
	}
	amount := vested - claimed
	ctx.SetGlobalUint(keyTotalClaimed, vested)
	if err := common.SendAsset(ctx, ctx.GlobalUint(keyAsset), beneficiary, amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, amount, beneficiary))
}

// withdrawBeforeStart returns the full app balance to the admin while the
// schedule has not started.
func (s *Single) withdrawBeforeStart(ctx *ledger.Context) error {
	const op = "withdraw_before_start"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if ctx.GlobalUint(keyStartTime) != 0 {
		return common.Fail(op, "already started")
	}
	asset := ctx.GlobalUint(keyAsset)
	held, err := common.AppAssetBalance(ctx, asset)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if held == 0 {
		return common.Fail(op, "nothing to withdraw")
	}
	ctx.SetGlobalUint(keyTotalLocked, 0)
	admin := ctx.Sender()
	if err := common.SendAsset(ctx, asset, admin, held); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line("withdraw", held, admin))
}

func (s *Single) setBeneficiary(ctx *ledger.Context) error {
	const op = "set_beneficiary"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	addr, err := common.Address(ctx, op, 1)
	if err != nil {
		return err
	}
	if addr.IsZero() {
		return common.Fail(op, "zero address")
	}
	ctx.SetGlobalAddress(keyBeneficiary, addr)
	return ctx.Log(events.Format("beneficiary", nil, &addr))
}

// --- shared by Single and Pool ---

func initGlobals(ctx *ledger.Context, duration uint64) {
	ctx.SetGlobalAddress(keyAdmin, ctx.Sender())
	for _, key := range []string{keyAsset, keyTotalLocked, keyTotalClaimed, keyStartTime} {
		ctx.SetGlobalUint(key, 0)
	}
	ctx.SetGlobalUint(keyDuration, duration)
}

func optInAsset(ctx *ledger.Context) error {
	const op = "opt_in_asset"
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

// fund records an admin deposit grouped as [xfer, call].
func fund(ctx *ledger.Context) error {
	const op = "fund"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if ctx.GlobalUint(keyStartTime) != 0 {
		return common.Fail(op, "already started")
	}
	if ctx.GroupIndex() == 0 {
		return common.Fail(op, "deposit must precede the call")
	}
	deposit, err := common.AssetDeposit(ctx, op, ctx.GroupIndex()-1, ctx.GlobalUint(keyAsset))
	if err != nil {
		return err
	}
	if deposit.Sender != ctx.Sender() {
		return common.Fail(op, "deposit must come from the admin")
	}
	total, err := common.Add(ctx.GlobalUint(keyTotalLocked), deposit.Amount)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	ctx.SetGlobalUint(keyTotalLocked, total)
	return ctx.Log(events.Format(op, []uint64{deposit.Amount, total}, nil))
}

func start(ctx *ledger.Context) error {
	const op = "start"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if ctx.GlobalUint(keyStartTime) != 0 {
		return common.Fail(op, "already started")
	}
	if ctx.GlobalUint(keyTotalLocked) == 0 {
		return common.Fail(op, "nothing locked")
	}
	ctx.SetGlobalUint(keyStartTime, ctx.Timestamp())
	return ctx.Log(events.Format(op, []uint64{ctx.Timestamp()}, nil))
}

func updateAdmin(ctx *ledger.Context) error {
	const op = "update_admin"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	addr, err := common.Address(ctx, op, 1)
	if err != nil {
		return err
	}
	if addr == crypto.ZeroAddress {
		return common.Fail(op, "zero address")
	}
	ctx.SetGlobalAddress(keyAdmin, addr)
	return ctx.Log(events.Format("admin", nil, &addr))
}
