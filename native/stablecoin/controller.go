package stablecoin

import (
	"confio/core/events"
	"confio/core/ledger"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

// Controller issues cUSD 1:1 against collateral deposits and against
// off-ledger treasury reserves. The stablecoin asset is minted and burned by
// clawback against a pinned reserve account.
type Controller struct{}

// New returns the controller program.
func New() *Controller { return &Controller{} }

type handler func(*ledger.Context) error

// methods allowed while paused.
var pauseExempt = map[string]bool{
	MethodUnpause:      true,
	MethodUpdateAdmin:  true,
	MethodVerifyPolicy: true,
}

// Execute implements ledger.Program.
func (c *Controller) Execute(ctx *ledger.Context) error {
	if ctx.IsCreate() {
		return c.create(ctx)
	}
	switch ctx.OnCompletion() {
	case types.OptIn:
		return c.optIn(ctx)
	case types.CloseOut:
		return c.closeOut(ctx)
	case types.UpdateApplication:
		return common.RequireAdmin(ctx, "update")
	case types.DeleteApplication:
		return c.deleteGuard(ctx)
	}

	method := common.Method(ctx)
	handlers := map[string]handler{
		MethodSetupAssets:        c.setupAssets,
		MethodPause:              c.pause,
		MethodUnpause:            c.unpause,
		MethodAddVault:           func(ctx *ledger.Context) error { return c.setVault(ctx, true) },
		MethodRemoveVault:        func(ctx *ledger.Context) error { return c.setVault(ctx, false) },
		MethodFreeze:             func(ctx *ledger.Context) error { return c.setFrozen(ctx, true) },
		MethodUnfreeze:           func(ctx *ledger.Context) error { return c.setFrozen(ctx, false) },
		MethodMintAdmin:          c.mintAdmin,
		MethodBurnAdmin:          c.burnAdmin,
		MethodMintWithCollateral: c.mintWithCollateral,
		MethodBurnForCollateral:  c.burnForCollateral,
		MethodTransferCUSD:       c.transferCUSD,
		MethodWithdrawUSDC:       c.withdrawUSDC,
		MethodUpdateAdmin:        c.updateAdmin,
		MethodUpdateSponsor:      c.updateSponsor,
		MethodUpdateRatio:        c.updateRatio,
		MethodRefreshReserve:     c.refreshReserve,
		MethodVerifyPolicy:       c.verifyPolicy,
	}
	h, ok := handlers[method]
	if !ok {
		return common.Fail("dispatch", "unknown method %q", method)
	}
	if !pauseExempt[method] {
		if err := common.Guard(ctx, keyPaused, method); err != nil {
			return err
		}
	}
	return h(ctx)
}

func (c *Controller) create(ctx *ledger.Context) error {
	ctx.SetGlobalAddress(keyAdmin, ctx.Sender())
	sponsor := crypto.ZeroAddress
	if ctx.NumArgs() > 0 {
		addr, err := common.Address(ctx, "create", 0)
		if err != nil {
			return err
		}
		sponsor = addr
	}
	ctx.SetGlobalAddress(keySponsor, sponsor)
	ctx.SetGlobalAddress(keyReserve, crypto.ZeroAddress)
	for _, key := range []string{keyCUSD, keyCollateral, keyPaused, keyCollateralLocked, keyCollateralBacked,
		keyTreasuryBacked, keyTotalMinted, keyTotalBurned} {
		ctx.SetGlobalUint(key, 0)
	}
	ctx.SetGlobalUint(keyRatio, RatioScale)
	return nil
}

func (c *Controller) optIn(ctx *ledger.Context) error {
	if err := ctx.SetLocalUint(ctx.Sender(), localFrozen, 0); err != nil {
		return err
	}
	return ctx.SetLocalUint(ctx.Sender(), localVault, 0)
}

func (c *Controller) closeOut(ctx *ledger.Context) error {
	frozen, err := ctx.LocalUint(ctx.Sender(), localFrozen)
	if err != nil {
		return err
	}
	if frozen != 0 {
		return common.Fail("closeout", "account frozen")
	}
	return nil
}

func (c *Controller) setupAssets(ctx *ledger.Context) error {
	const op = "setup"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if ctx.GlobalUint(keyCUSD) != 0 || ctx.GlobalUint(keyCollateral) != 0 {
		return common.Fail(op, "assets already configured")
	}
	if err := common.RequireGroupSize(ctx, op, 2); err != nil {
		return err
	}
	if ctx.GroupIndex() != 1 {
		return common.Fail(op, "call must be at group index 1")
	}
	pay, err := common.Payment(ctx, op, 0)
	if err != nil {
		return err
	}
	if pay.Receiver != ctx.AppAddress() || pay.Amount < SetupFunding {
		return common.Fail(op, "funding payment must send at least %d to the application", SetupFunding)
	}
	cusdID, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	usdcID, err := common.Uint(ctx, op, 2)
	if err != nil {
		return err
	}
	if cusdID == 0 || usdcID == 0 || cusdID == usdcID {
		return common.Fail(op, "invalid asset ids %d/%d", cusdID, usdcID)
	}
	cusd, err := ctx.AssetParams(cusdID)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	usdc, err := ctx.AssetParams(usdcID)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if cusd.Decimals != AssetDecimals || usdc.Decimals != AssetDecimals {
		return common.Fail(op, "both assets must use %d decimals", AssetDecimals)
	}
	if !cusd.Manager.IsZero() {
		return common.Fail(op, "stablecoin manager must be the zero address")
	}
	if cusd.Freeze != ctx.AppAddress() || cusd.Clawback != ctx.AppAddress() {
		return common.Fail(op, "stablecoin freeze and clawback must be the application")
	}
	if cusd.Reserve.IsZero() {
		return common.Fail(op, "stablecoin reserve must be set")
	}
	ctx.SetGlobalUint(keyCUSD, cusdID)
	ctx.SetGlobalUint(keyCollateral, usdcID)
	ctx.SetGlobalAddress(keyReserve, cusd.Reserve)
	if err := common.OptInAsset(ctx, cusdID); err != nil {
		return common.Fail(op, "%v", err)
	}
	if err := common.OptInAsset(ctx, usdcID); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Format("setup", []uint64{cusdID, usdcID}, nil))
}

func (c *Controller) pause(ctx *ledger.Context) error {
	if err := common.RequireAdmin(ctx, "pause"); err != nil {
		return err
	}
	ctx.SetGlobalUint(keyPaused, 1)
	return ctx.Log(events.Format("pause", []uint64{1}, nil))
}

func (c *Controller) unpause(ctx *ledger.Context) error {
	if err := common.RequireAdmin(ctx, "unpause"); err != nil {
		return err
	}
	if ctx.GlobalUint(keyPaused) == 0 {
		return common.Fail("unpause", "not paused")
	}
	ctx.SetGlobalUint(keyPaused, 0)
	return ctx.Log(events.Format("unpause", []uint64{0}, nil))
}

func (c *Controller) cusdParams(ctx *ledger.Context, op string) (types.AssetParams, error) {
	id := ctx.GlobalUint(keyCUSD)
	if id == 0 {
		return types.AssetParams{}, common.Fail(op, "assets not configured")
	}
	params, err := ctx.AssetParams(id)
	if err != nil {
		return types.AssetParams{}, common.Fail(op, "%v", err)
	}
	return params, nil
}

// pinnedReserve re-checks that the asset's reserve still matches the stored
// one.
func (c *Controller) pinnedReserve(ctx *ledger.Context, op string) (crypto.Address, error) {
	params, err := c.cusdParams(ctx, op)
	if err != nil {
		return crypto.ZeroAddress, err
	}
	stored := ctx.GlobalAddress(keyReserve)
	if params.Reserve != stored {
		return crypto.ZeroAddress, common.Fail(op, "reserve mismatch: asset reserve %s, stored %s", params.Reserve, stored)
	}
	return stored, nil
}

func (c *Controller) setVault(ctx *ledger.Context, vault bool) error {
	op := "vault"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	params, err := c.cusdParams(ctx, op)
	if err != nil {
		return err
	}
	if !params.Manager.IsZero() {
		return common.Fail(op, "stablecoin manager must be locked to zero")
	}
	target, err := ctx.Account(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	flags, err := c.flags(ctx, target)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	verb := "vault_removed"
	value := uint64(0)
	if vault {
		if flags.Frozen {
			return common.Fail(op, "cannot mark a frozen account as vault")
		}
		verb, value = "vault_added", 1
	}
	if err := ctx.SetLocalUint(target, localVault, value); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Format(verb, nil, &target))
}

func (c *Controller) flags(ctx *ledger.Context, addr crypto.Address) (AccountFlags, error) {
	opted, err := ctx.OptedIn(addr)
	if err != nil || !opted {
		return AccountFlags{}, err
	}
	frozen, err := ctx.LocalUint(addr, localFrozen)
	if err != nil {
		return AccountFlags{}, err
	}
	vault, err := ctx.LocalUint(addr, localVault)
	if err != nil {
		return AccountFlags{}, err
	}
	return AccountFlags{Frozen: frozen != 0, Vault: vault != 0}, nil
}

// frozen reports the local flag or the on-ledger freeze of the stablecoin
// holding.
func (c *Controller) frozen(ctx *ledger.Context, addr crypto.Address) (bool, error) {
	flags, err := c.flags(ctx, addr)
	if err != nil {
		return false, err
	}
	if flags.Frozen {
		return true, nil
	}
	holding, ok, err := ctx.AssetHolding(addr, ctx.GlobalUint(keyCUSD))
	if err != nil {
		return false, err
	}
	return ok && holding.Frozen, nil
}

func (c *Controller) requireNotFrozen(ctx *ledger.Context, op string, addrs ...crypto.Address) error {
	for _, addr := range addrs {
		frozen, err := c.frozen(ctx, addr)
		if err != nil {
			return common.Fail(op, "%v", err)
		}
		if frozen {
			return common.Fail(op, "account %s is frozen", addr)
		}
	}
	return nil
}

func (c *Controller) setFrozen(ctx *ledger.Context, frozen bool) error {
	op := "freeze"
	if !frozen {
		op = "unfreeze"
	}
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	params, err := c.cusdParams(ctx, op)
	if err != nil {
		return err
	}
	if params.Freeze != ctx.AppAddress() {
		return common.Fail(op, "freeze authority is no longer the application")
	}
	target, err := ctx.Account(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	flags, err := c.flags(ctx, target)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if frozen && flags.Vault {
		return common.Fail(op, "vault accounts cannot be frozen")
	}
	if err := common.SetFrozen(ctx, ctx.GlobalUint(keyCUSD), target, frozen); err != nil {
		return common.Fail(op, "%v", err)
	}
	if opted, _ := ctx.OptedIn(target); opted {
		value := uint64(0)
		if frozen {
			value = 1
		}
		if err := ctx.SetLocalUint(target, localFrozen, value); err != nil {
			return common.Fail(op, "%v", err)
		}
	}
	return ctx.Log(events.Format(op, nil, &target))
}

func (c *Controller) mintAdmin(ctx *ledger.Context) error {
	const op = "admin_mint"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	amount, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	if amount == 0 {
		return common.Fail(op, "amount must be positive")
	}
	recipient, err := ctx.Account(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if err := c.requireNotFrozen(ctx, op, recipient); err != nil {
		return err
	}
	reserve, err := c.pinnedReserve(ctx, op)
	if err != nil {
		return err
	}
	if err := c.bump(ctx, op, keyTreasuryBacked, amount); err != nil {
		return err
	}
	if err := c.bump(ctx, op, keyTotalMinted, amount); err != nil {
		return err
	}
	if err := common.Clawback(ctx, ctx.GlobalUint(keyCUSD), reserve, recipient, amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, amount, recipient))
}

func (c *Controller) burnAdmin(ctx *ledger.Context) error {
	const op = "admin_burn"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	amount, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	if err := common.RequireGroupSize(ctx, op, 2); err != nil {
		return err
	}
	if ctx.GroupIndex() != 1 {
		return common.Fail(op, "call must be at group index 1")
	}
	deposit, err := common.AssetDeposit(ctx, op, 0, ctx.GlobalUint(keyCUSD))
	if err != nil {
		return err
	}
	if deposit.Amount != amount {
		return common.Fail(op, "deposit %d does not match amount %d", deposit.Amount, amount)
	}
	if treasury := ctx.GlobalUint(keyTreasuryBacked); amount > treasury {
		return common.Fail(op, "amount %d exceeds treasury backed supply %d", amount, treasury)
	}
	reserve, err := c.pinnedReserve(ctx, op)
	if err != nil {
		return err
	}
	ctx.SetGlobalUint(keyTreasuryBacked, ctx.GlobalUint(keyTreasuryBacked)-amount)
	if err := c.bump(ctx, op, keyTotalBurned, amount); err != nil {
		return err
	}
	if err := common.SendAsset(ctx, ctx.GlobalUint(keyCUSD), reserve, amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, amount, deposit.Sender))
}

// collateralGroup validates the deposit shape and rejects frozen depositors.
func (c *Controller) collateralGroup(ctx *ledger.Context, op string, asset uint64) (common.Deposit, error) {
	deposit, err := common.SponsoredDeposit(ctx, op, asset, ctx.GlobalAddress(keySponsor))
	if err != nil {
		return common.Deposit{}, err
	}
	if err := c.requireNotFrozen(ctx, op, deposit.Sender); err != nil {
		return common.Deposit{}, err
	}
	return deposit, nil
}

func (c *Controller) mintWithCollateral(ctx *ledger.Context) error {
	const op = "mint"
	usdc := ctx.GlobalUint(keyCollateral)
	if usdc == 0 {
		return common.Fail(op, "assets not configured")
	}
	deposit, err := c.collateralGroup(ctx, op, usdc)
	if err != nil {
		return err
	}
	reserve, err := c.pinnedReserve(ctx, op)
	if err != nil {
		return err
	}
	for _, key := range []string{keyCollateralBacked, keyCollateralLocked, keyTotalMinted} {
		if err := c.bump(ctx, op, key, deposit.Amount); err != nil {
			return err
		}
	}
	if err := common.Clawback(ctx, ctx.GlobalUint(keyCUSD), reserve, deposit.Sender, deposit.Amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, deposit.Amount, deposit.Sender))
}

func (c *Controller) burnForCollateral(ctx *ledger.Context) error {
	const op = "burn"
	cusdID := ctx.GlobalUint(keyCUSD)
	if cusdID == 0 {
		return common.Fail(op, "assets not configured")
	}
	deposit, err := c.collateralGroup(ctx, op, cusdID)
	if err != nil {
		return err
	}
	backed := ctx.GlobalUint(keyCollateralBacked)
	if deposit.Amount > backed {
		return common.Fail(op, "amount %d exceeds collateral backed supply %d", deposit.Amount, backed)
	}
	usdc := ctx.GlobalUint(keyCollateral)
	held, err := common.AppAssetBalance(ctx, usdc)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if held < deposit.Amount {
		return common.Fail(op, "under collateralized: holds %d, owes %d", held, deposit.Amount)
	}
	reserve, err := c.pinnedReserve(ctx, op)
	if err != nil {
		return err
	}
	ctx.SetGlobalUint(keyCollateralBacked, backed-deposit.Amount)
	locked := ctx.GlobalUint(keyCollateralLocked)
	if locked > deposit.Amount {
		locked -= deposit.Amount
	} else {
		locked = 0
	}
	ctx.SetGlobalUint(keyCollateralLocked, locked)
	if err := c.bump(ctx, op, keyTotalBurned, deposit.Amount); err != nil {
		return err
	}
	if err := common.SendAsset(ctx, cusdID, reserve, deposit.Amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	if err := common.SendAsset(ctx, usdc, deposit.Sender, deposit.Amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, deposit.Amount, deposit.Sender))
}

func (c *Controller) transferCUSD(ctx *ledger.Context) error {
	const op = "transfer"
	cusdID := ctx.GlobalUint(keyCUSD)
	if cusdID == 0 {
		return common.Fail(op, "assets not configured")
	}
	if err := common.RequireGroupSize(ctx, op, 2); err != nil {
		return err
	}
	if ctx.GroupIndex() != 1 {
		return common.Fail(op, "call must be at group index 1")
	}
	xfer, err := ctx.GroupTxn(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if xfer.Type != types.AssetTransferTx || xfer.XferAsset != cusdID {
		return common.Fail(op, "transaction 0 must transfer asset %d", cusdID)
	}
	if xfer.AssetAmount == 0 {
		return common.Fail(op, "amount must be positive")
	}
	if !xfer.RekeyTo.IsZero() || !xfer.AssetCloseTo.IsZero() || !xfer.AssetSender.IsZero() {
		return common.Fail(op, "rekey, close_to and clawback are not allowed")
	}
	if err := common.RequireNoRekey(ctx, op); err != nil {
		return err
	}
	if xfer.Sender != ctx.Sender() {
		return common.Fail(op, "unauthorized: call sender must be the transfer sender")
	}
	recipient, err := ctx.Account(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if recipient != xfer.AssetReceiver {
		return common.Fail(op, "recipient does not match transfer receiver")
	}
	if err := c.requireNotFrozen(ctx, op, xfer.Sender, recipient); err != nil {
		return err
	}
	return ctx.Log(events.Line(op, xfer.AssetAmount, recipient))
}

func (c *Controller) withdrawUSDC(ctx *ledger.Context) error {
	const op = "withdraw"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	amount, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	if amount == 0 {
		return common.Fail(op, "amount must be positive")
	}
	recipient, err := ctx.Account(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	usdc := ctx.GlobalUint(keyCollateral)
	held, err := common.AppAssetBalance(ctx, usdc)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if amount > held {
		return common.Fail(op, "amount %d exceeds collateral held %d", amount, held)
	}
	after := held - amount
	backed := ctx.GlobalUint(keyCollateralBacked)
	if after < backed {
		return common.Fail(op, "under collateralized: %d left, %d collateral backed", after, backed)
	}
	circulating := backed + ctx.GlobalUint(keyTreasuryBacked)
	floor, err := common.MulDivCeil(circulating, LiquidityFloorBps, 10_000)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if after < floor {
		return common.Fail(op, "under collateralized: %d left, liquidity floor %d", after, floor)
	}
	if locked := ctx.GlobalUint(keyCollateralLocked); locked > after {
		ctx.SetGlobalUint(keyCollateralLocked, after)
	}
	if err := common.SendAsset(ctx, usdc, recipient, amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, amount, recipient))
}

func (c *Controller) updateAdmin(ctx *ledger.Context) error {
	const op = "update_admin"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	next, err := common.Address(ctx, op, 1)
	if err != nil {
		return err
	}
	if next.IsZero() {
		return common.Fail(op, "zero address")
	}
	ctx.SetGlobalAddress(keyAdmin, next)
	return ctx.Log(events.Format("admin", nil, &next))
}

func (c *Controller) updateSponsor(ctx *ledger.Context) error {
	const op = "update_sponsor"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	next, err := common.Address(ctx, op, 1)
	if err != nil {
		return err
	}
	ctx.SetGlobalAddress(keySponsor, next)
	return ctx.Log(events.Format("sponsor", nil, &next))
}

func (c *Controller) updateRatio(ctx *ledger.Context) error {
	const op = "ratio"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	ratio, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	if ratio < RatioScale || ratio > MaxRatio {
		return common.Fail(op, "collateral ratio %d outside [%d, %d]", ratio, RatioScale, MaxRatio)
	}
	ctx.SetGlobalUint(keyRatio, ratio)
	return ctx.Log(events.Format(op, []uint64{ratio}, nil))
}

func (c *Controller) refreshReserve(ctx *ledger.Context) error {
	const op = "reserve"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	params, err := c.cusdParams(ctx, op)
	if err != nil {
		return err
	}
	if params.Reserve.IsZero() {
		return common.Fail(op, "asset reserve is the zero address")
	}
	ctx.SetGlobalAddress(keyReserve, params.Reserve)
	reserve := params.Reserve
	return ctx.Log(events.Format(op, nil, &reserve))
}

// verifyPolicy reports whether collateral covers the weighted policy target.
// It never rejects.
func (c *Controller) verifyPolicy(ctx *ledger.Context) error {
	const op = "policy"
	usdc := ctx.GlobalUint(keyCollateral)
	if usdc == 0 {
		return common.Fail(op, "assets not configured")
	}
	held, err := common.AppAssetBalance(ctx, usdc)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	required, err := common.MulDivCeil(ctx.GlobalUint(keyCollateralBacked), ctx.GlobalUint(keyRatio), RatioScale)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	covered := uint64(0)
	if held >= required {
		covered = 1
	}
	if err := ctx.Log(events.Format(op, []uint64{held, required}, nil)); err != nil {
		return err
	}
	return ctx.Log(events.Format("coverage", []uint64{covered}, nil))
}

func (c *Controller) deleteGuard(ctx *ledger.Context) error {
	const op = "delete"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if ctx.GlobalUint(keyCollateralBacked) != 0 || ctx.GlobalUint(keyTreasuryBacked) != 0 {
		return common.Fail(op, "supply counters must be zero")
	}
	cusdID := ctx.GlobalUint(keyCUSD)
	if cusdID == 0 {
		return nil
	}
	params, err := ctx.AssetParams(cusdID)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if !params.Manager.IsZero() {
		return common.Fail(op, "stablecoin manager must be zero")
	}
	held, err := common.AppAssetBalance(ctx, cusdID)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if held != 0 {
		return common.Fail(op, "application still holds %d stablecoin", held)
	}
	reserve, ok, err := ctx.AssetHolding(params.Reserve, cusdID)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if !ok || reserve.Amount != params.Total {
		return common.Fail(op, "reserve must hold the full issued total")
	}
	return nil
}

func (c *Controller) bump(ctx *ledger.Context, op, key string, amount uint64) error {
	next, err := common.Add(ctx.GlobalUint(key), amount)
	if err != nil {
		return common.Fail(op, "%s: %v", key, err)
	}
	ctx.SetGlobalUint(key, next)
	return nil
}
