package presale

import (
	"confio/core/events"
	"confio/core/ledger"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

// Controller sells a fixed-supply token against cUSD in capped rounds.
// Purchased tokens accrue as a claimable entitlement until the sale is
// permanently unlocked.
type Controller struct{}

func New() *Controller { return &Controller{} }

// Execute implements ledger.Program.
func (c *Controller) Execute(ctx *ledger.Context) error {
	if ctx.IsCreate() {
		return c.create(ctx)
	}
	switch ctx.OnCompletion() {
	case types.OptIn:
		for _, key := range []string{localBought, localClaimed, localRoundID, localRoundBought} {
			if err := ctx.SetLocalUint(ctx.Sender(), key, 0); err != nil {
				return err
			}
		}
		return nil
	case types.CloseOut:
		buyer, err := c.buyer(ctx, ctx.Sender())
		if err != nil {
			return err
		}
		if buyer.Claimable() != 0 {
			return common.Fail("closeout", "%d tokens still claimable", buyer.Claimable())
		}
		return nil
	case types.UpdateApplication, types.DeleteApplication:
		return common.RequireAdmin(ctx, ctx.OnCompletion().String())
	}

	method := common.Method(ctx)
	switch method {
	case MethodUnpause:
		return c.unpause(ctx)
	case MethodUpdateAdmin:
		return c.updateAdmin(ctx)
	}
	if err := common.Guard(ctx, keyPaused, method); err != nil {
		return err
	}
	switch method {
	case MethodOptInAssets:
		return c.optInAssets(ctx)
	case MethodStartRound:
		return c.startRound(ctx)
	case MethodToggleRound:
		return c.toggleRound(ctx)
	case MethodUpdate:
		return c.update(ctx)
	case MethodPurchase:
		return c.purchase(ctx)
	case MethodClaim:
		return c.claim(ctx)
	case MethodPermanentUnlock:
		return c.permanentUnlock(ctx)
	case MethodWithdrawConfio:
		return c.withdrawConfio(ctx)
	case MethodWithdrawCUSD:
		return c.withdrawCUSD(ctx)
	case MethodUpdateSponsor:
		return c.updateSponsor(ctx)
	case MethodEmergencyPause:
		return c.emergencyPause(ctx)
	default:
		return common.Fail("dispatch", "unknown method %q", method)
	}
}

func (c *Controller) create(ctx *ledger.Context) error {
	ctx.SetGlobalAddress(keyAdmin, ctx.Sender())
	ctx.SetGlobalAddress(keySponsor, crypto.ZeroAddress)
	for _, key := range []string{keyConfio, keyCUSD, keyPrice, keyRoundCap, keyMinBuy, keyMaxPerAddr, keyRoundID,
		keyRoundRaised, keyActive, keyUnlockedAt, keyPaused, keyTotalSold, keyTotalClaimed, keyTotalRaised, keyParticipants} {
		ctx.SetGlobalUint(key, 0)
	}
	ctx.SetGlobalUint(keyLocked, 1)
	return nil
}

func (c *Controller) state(ctx *ledger.Context) State {
	return State{
		ConfioID:     ctx.GlobalUint(keyConfio),
		CUSDID:       ctx.GlobalUint(keyCUSD),
		Price:        ctx.GlobalUint(keyPrice),
		RoundCap:     ctx.GlobalUint(keyRoundCap),
		MinBuy:       ctx.GlobalUint(keyMinBuy),
		MaxPerAddr:   ctx.GlobalUint(keyMaxPerAddr),
		RoundID:      ctx.GlobalUint(keyRoundID),
		RoundRaised:  ctx.GlobalUint(keyRoundRaised),
		Active:       ctx.GlobalUint(keyActive) != 0,
		Locked:       ctx.GlobalUint(keyLocked) != 0,
		TotalSold:    ctx.GlobalUint(keyTotalSold),
		TotalClaimed: ctx.GlobalUint(keyTotalClaimed),
	}
}

func (c *Controller) buyer(ctx *ledger.Context, addr crypto.Address) (Buyer, error) {
	var b Buyer
	var err error
	for key, dst := range map[string]*uint64{
		localBought:      &b.Bought,
		localClaimed:     &b.Claimed,
		localRoundID:     &b.RoundID,
		localRoundBought: &b.RoundBought,
	} {
		if *dst, err = ctx.LocalUint(addr, key); err != nil {
			return Buyer{}, err
		}
	}
	return b, nil
}

func (c *Controller) optInAssets(ctx *ledger.Context) error {
	const op = "opt_in_assets"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if ctx.GlobalUint(keyConfio) != 0 {
		return common.Fail(op, "assets already configured")
	}
	confio, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	cusd, err := common.Uint(ctx, op, 2)
	if err != nil {
		return err
	}
	if confio == 0 || cusd == 0 || confio == cusd {
		return common.Fail(op, "invalid asset ids %d/%d", confio, cusd)
	}
	ctx.SetGlobalUint(keyConfio, confio)
	ctx.SetGlobalUint(keyCUSD, cusd)
	for _, id := range []uint64{confio, cusd} {
		if err := common.OptInAsset(ctx, id); err != nil {
			return common.Fail(op, "%v", err)
		}
	}
	return nil
}

// checkInventory asserts the app holds enough tokens for every unclaimed
// entitlement plus a full round at the current price.
func (c *Controller) checkInventory(ctx *ledger.Context, op string, st State) error {
	need, err := st.RequiredInventory(st.RoundCap, st.Price)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	held, err := common.AppAssetBalance(ctx, st.ConfioID)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if held < need {
		return common.Fail(op, "insufficient inventory: holds %d, needs %d", held, need)
	}
	return nil
}

func (c *Controller) startRound(ctx *ledger.Context) error {
	const op = "start_round"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	st := c.state(ctx)
	if st.ConfioID == 0 {
		return common.Fail(op, "assets not configured")
	}
	if !st.Locked {
		return common.Fail(op, "claims are unlocked; no new rounds")
	}
	if st.Active {
		return common.Fail(op, "round %d already active", st.RoundID)
	}
	price, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	roundCap, err := common.Uint(ctx, op, 2)
	if err != nil {
		return err
	}
	maxPerAddr, err := common.Uint(ctx, op, 3)
	if err != nil {
		return err
	}
	if price == 0 || roundCap == 0 || maxPerAddr == 0 {
		return common.Fail(op, "price, cap and max must be positive")
	}
	if maxPerAddr > roundCap {
		return common.Fail(op, "max per address %d exceeds round cap %d", maxPerAddr, roundCap)
	}
	st.Price, st.RoundCap = price, roundCap
	if err := c.checkInventory(ctx, op, st); err != nil {
		return err
	}
	round := st.RoundID + 1
	ctx.SetGlobalUint(keyPrice, price)
	ctx.SetGlobalUint(keyRoundCap, roundCap)
	ctx.SetGlobalUint(keyMaxPerAddr, maxPerAddr)
	ctx.SetGlobalUint(keyRoundID, round)
	ctx.SetGlobalUint(keyRoundRaised, 0)
	ctx.SetGlobalUint(keyActive, 1)
	return ctx.Log(events.Format("round", []uint64{round, price, roundCap}, nil))
}

func (c *Controller) toggleRound(ctx *ledger.Context) error {
	const op = "toggle_round"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	st := c.state(ctx)
	if st.RoundID == 0 {
		return common.Fail(op, "no round started")
	}
	next := uint64(0)
	if !st.Active {
		if !st.Locked {
			return common.Fail(op, "claims are unlocked; no new rounds")
		}
		if err := c.checkInventory(ctx, op, st); err != nil {
			return err
		}
		next = 1
	}
	ctx.SetGlobalUint(keyActive, next)
	return ctx.Log(events.Format("active", []uint64{st.RoundID, next}, nil))
}

func (c *Controller) update(ctx *ledger.Context) error {
	const op = "update"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	name := string(ctx.Arg(1))
	value, err := common.Uint(ctx, op, 2)
	if err != nil {
		return err
	}
	st := c.state(ctx)
	switch name {
	case ParamPrice:
		if value == 0 {
			return common.Fail(op, "price must be positive")
		}
		if st.Active {
			st.Price = value
			if err := c.checkInventory(ctx, op, st); err != nil {
				return err
			}
		}
		ctx.SetGlobalUint(keyPrice, value)
	case ParamCap:
		if value < st.RoundRaised {
			return common.Fail(op, "cap %d below raised %d", value, st.RoundRaised)
		}
		ctx.SetGlobalUint(keyRoundCap, value)
	case ParamMin:
		if st.MaxPerAddr != 0 && value > st.MaxPerAddr {
			return common.Fail(op, "min %d exceeds max %d", value, st.MaxPerAddr)
		}
		ctx.SetGlobalUint(keyMinBuy, value)
	case ParamMax:
		if value == 0 || value < st.MinBuy {
			return common.Fail(op, "max %d below min %d", value, st.MinBuy)
		}
		ctx.SetGlobalUint(keyMaxPerAddr, value)
	default:
		return common.Fail(op, "unknown parameter %q", name)
	}
	return ctx.Log(events.Format("update_"+name, []uint64{value}, nil))
}

func (c *Controller) purchase(ctx *ledger.Context) error {
	const op = "purchase"
	st := c.state(ctx)
	if !st.Active {
		return common.Fail(op, "round not active")
	}
	deposit, err := common.SponsoredDeposit(ctx, op, st.CUSDID, ctx.GlobalAddress(keySponsor))
	if err != nil {
		return err
	}
	amount := deposit.Amount
	if amount < st.MinBuy {
		return common.Fail(op, "amount %d below minimum %d", amount, st.MinBuy)
	}
	tokens, err := common.MulDiv(amount, TokenScale, st.Price)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if tokens == 0 {
		return common.Fail(op, "amount %d buys zero tokens at price %d", amount, st.Price)
	}
	raised, err := common.Add(st.RoundRaised, amount)
	if err != nil || raised > st.RoundCap {
		return common.Fail(op, "round cap exceeded: raised %d + %d > %d", st.RoundRaised, amount, st.RoundCap)
	}

	buyer, err := c.buyer(ctx, deposit.Sender)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if buyer.RoundID != st.RoundID {
		buyer.RoundID, buyer.RoundBought = st.RoundID, 0
	}
	limit, err := common.MulDiv(st.MaxPerAddr, TokenScale, st.Price)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	roundBought, err := common.Add(buyer.RoundBought, tokens)
	if err != nil || roundBought > limit {
		return common.Fail(op, "per-address cap exceeded: %d + %d > %d tokens", buyer.RoundBought, tokens, limit)
	}
	bought, err := common.Add(buyer.Bought, tokens)
	if err != nil {
		return common.Fail(op, "%v", err)
	}

	for key, v := range map[string]uint64{
		localBought:      bought,
		localRoundID:     buyer.RoundID,
		localRoundBought: roundBought,
	} {
		if err := ctx.SetLocalUint(deposit.Sender, key, v); err != nil {
			return common.Fail(op, "%v", err)
		}
	}
	ctx.SetGlobalUint(keyRoundRaised, raised)
	ctx.SetGlobalUint(keyTotalRaised, ctx.GlobalUint(keyTotalRaised)+amount)
	ctx.SetGlobalUint(keyTotalSold, st.TotalSold+tokens)
	if buyer.Bought == 0 {
		ctx.SetGlobalUint(keyParticipants, ctx.GlobalUint(keyParticipants)+1)
	}
	return ctx.Log(events.Format(op, []uint64{amount, tokens}, &deposit.Sender))
}

func (c *Controller) claim(ctx *ledger.Context) error {
	const op = "claim"
	if ctx.GlobalUint(keyLocked) != 0 {
		return common.Fail(op, "claims locked")
	}
	buyer, err := c.buyer(ctx, ctx.Sender())
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	amount := buyer.Claimable()
	if amount == 0 {
		return common.Fail(op, "nothing to claim")
	}
	if err := ctx.SetLocalUint(ctx.Sender(), localClaimed, buyer.Bought); err != nil {
		return common.Fail(op, "%v", err)
	}
	ctx.SetGlobalUint(keyTotalClaimed, ctx.GlobalUint(keyTotalClaimed)+amount)
	if err := common.SendAsset(ctx, ctx.GlobalUint(keyConfio), ctx.Sender(), amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, amount, ctx.Sender()))
}

func (c *Controller) permanentUnlock(ctx *ledger.Context) error {
	const op = "permanent_unlock"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if ctx.GlobalUint(keyLocked) == 0 {
		return common.Fail(op, "already unlocked")
	}
	ctx.SetGlobalUint(keyLocked, 0)
	ctx.SetGlobalUint(keyActive, 0)
	ctx.SetGlobalUint(keyUnlockedAt, ctx.Timestamp())
	return ctx.Log(events.Format("unlock", []uint64{ctx.Timestamp()}, nil))
}

// receiver returns accounts[0] when supplied, otherwise the admin.
func (c *Controller) receiver(ctx *ledger.Context) crypto.Address {
	if addr, err := ctx.Account(0); err == nil {
		return addr
	}
	return ctx.GlobalAddress(keyAdmin)
}

func (c *Controller) withdrawConfio(ctx *ledger.Context) error {
	const op = "withdraw_confio"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	st := c.state(ctx)
	if st.Active {
		return common.Fail(op, "round %d active", st.RoundID)
	}
	held, err := common.AppAssetBalance(ctx, st.ConfioID)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	available := uint64(0)
	if held > st.Outstanding() {
		available = held - st.Outstanding()
	}
	amount := available
	if ctx.NumArgs() > 1 {
		if amount, err = common.Uint(ctx, op, 1); err != nil {
			return err
		}
	}
	if amount == 0 || amount > available {
		return common.Fail(op, "amount %d outside available %d", amount, available)
	}
	to := c.receiver(ctx)
	if err := common.SendAsset(ctx, st.ConfioID, to, amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, amount, to))
}

func (c *Controller) withdrawCUSD(ctx *ledger.Context) error {
	const op = "withdraw_cusd"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	cusd := ctx.GlobalUint(keyCUSD)
	held, err := common.AppAssetBalance(ctx, cusd)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if held == 0 {
		return common.Fail(op, "nothing to withdraw")
	}
	to := c.receiver(ctx)
	if err := common.SendAsset(ctx, cusd, to, held); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, held, to))
}

func (c *Controller) updateSponsor(ctx *ledger.Context) error {
	const op = "update_sponsor"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	addr, err := common.Address(ctx, op, 1)
	if err != nil {
		return err
	}
	ctx.SetGlobalAddress(keySponsor, addr)
	return ctx.Log(events.Format("sponsor", nil, &addr))
}

func (c *Controller) updateAdmin(ctx *ledger.Context) error {
	const op = "update_admin"
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
	ctx.SetGlobalAddress(keyAdmin, addr)
	return ctx.Log(events.Format("admin", nil, &addr))
}

func (c *Controller) emergencyPause(ctx *ledger.Context) error {
	const op = "emergency_pause"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	ctx.SetGlobalUint(keyPaused, 1)
	ctx.SetGlobalUint(keyActive, 0)
	return ctx.Log(events.Format("pause", []uint64{1}, nil))
}

func (c *Controller) unpause(ctx *ledger.Context) error {
	const op = "unpause"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	if ctx.GlobalUint(keyPaused) == 0 {
		return common.Fail(op, "not paused")
	}
	ctx.SetGlobalUint(keyPaused, 0)
	return ctx.Log(events.Format("unpause", []uint64{0}, nil))
}
