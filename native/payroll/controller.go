package payroll

import (
	"confio/core/events"
	"confio/core/ledger"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

type Escrow struct{}

func New() *Escrow { return &Escrow{} }

// Execute implements ledger.Program.
func (p *Escrow) Execute(ctx *ledger.Context) error {
	if ctx.IsCreate() {
		ctx.SetGlobalAddress(keyAdmin, ctx.Sender())
		ctx.SetGlobalAddress(keyFeeRecipient, ctx.Sender())
		ctx.SetGlobalUint(keyAsset, 0)
		ctx.SetGlobalUint(keyPaused, 0)
		ctx.SetGlobalUint(keyFeeBps, FeeBps)
		ctx.SetGlobalUint(keyTotalPaid, 0)
		ctx.SetGlobalUint(keyTotalFees, 0)
		return nil
	}
	switch ctx.OnCompletion() {
	case types.NoOp:
	case types.UpdateApplication, types.DeleteApplication:
		return common.RequireAdmin(ctx, ctx.OnCompletion().String())
	default:
		return common.Fail("payroll", "%s not supported", ctx.OnCompletion())
	}

	method := common.Method(ctx)
	switch method {
	case MethodUnpause:
		return p.unpause(ctx)
	case MethodUpdateAdmin:
		return p.updateAdmin(ctx)
	}
	if err := common.Guard(ctx, keyPaused, method); err != nil {
		return err
	}
	switch method {
	case MethodSetupAsset:
		return p.setupAsset(ctx)
	case MethodSetFeeRecipient:
		return p.setFeeRecipient(ctx)
	case MethodPause:
		return p.pause(ctx)
	case MethodDeposit:
		return p.deposit(ctx)
	case MethodSetDelegates:
		return p.setDelegates(ctx)
	case MethodPayout:
		return p.payout(ctx)
	case MethodWithdrawVault:
		return p.withdrawVault(ctx)
	default:
		return common.Fail("dispatch", "unknown method %q", method)
	}
}

func (p *Escrow) setupAsset(ctx *ledger.Context) error {
	const op = "setup_asset"
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

func (p *Escrow) setFeeRecipient(ctx *ledger.Context) error {
	const op = "set_fee_recipient"
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
	ctx.SetGlobalAddress(keyFeeRecipient, addr)
	return ctx.Log(events.Format("fee_recipient", nil, &addr))
}

func (p *Escrow) vault(ctx *ledger.Context, op string, business crypto.Address) (uint64, bool, error) {
	raw, ok, err := ctx.BoxGet(VaultBox(business))
	if err != nil {
		return 0, false, common.Fail(op, "%v", err)
	}
	if !ok {
		return 0, false, nil
	}
	return common.GetUint64(raw, 0), true, nil
}

// deposit credits the sender's vault with a grouped [xfer, call] transfer.
func (p *Escrow) deposit(ctx *ledger.Context) error {
	const op = "deposit"
	if ctx.GroupIndex() == 0 {
		return common.Fail(op, "deposit must precede the call")
	}
	dep, err := common.AssetDeposit(ctx, op, ctx.GroupIndex()-1, ctx.GlobalUint(keyAsset))
	if err != nil {
		return err
	}
	if dep.Sender != ctx.Sender() {
		return common.Fail(op, "deposit sender must be the caller")
	}
	balance, exists, err := p.vault(ctx, op, dep.Sender)
	if err != nil {
		return err
	}
	next, err := common.Add(balance, dep.Amount)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	value := types.Uint64Bytes(next)
	if exists {
		err = ctx.BoxPut(VaultBox(dep.Sender), value)
	} else {
		err = ctx.BoxCreate(VaultBox(dep.Sender), value)
	}
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, dep.Amount, dep.Sender))
}

// setDelegates applies concatenated 32-byte address lists: args[1] adds and
// args[2] removes. The business is accounts[0].
func (p *Escrow) setDelegates(ctx *ledger.Context) error {
	const op = "set_business_delegates"
	business, err := ctx.Account(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if ctx.Sender() != business && ctx.Sender() != ctx.GlobalAddress(keyAdmin) {
		return common.Fail(op, "unauthorized: sender is neither admin nor business")
	}
	adds, err := splitAddresses(ctx.Arg(1))
	if err != nil {
		return common.Fail(op, "adds: %v", err)
	}
	removes, err := splitAddresses(ctx.Arg(2))
	if err != nil {
		return common.Fail(op, "removes: %v", err)
	}
	for _, d := range adds {
		name := DelegateBox(business, d)
		_, ok, err := ctx.BoxGet(name)
		if err != nil {
			return common.Fail(op, "%v", err)
		}
		if ok {
			continue
		}
		if err := ctx.BoxCreate(name, []byte{1}); err != nil {
			return common.Fail(op, "%v", err)
		}
	}
	for _, d := range removes {
		name := DelegateBox(business, d)
		_, ok, err := ctx.BoxGet(name)
		if err != nil {
			return common.Fail(op, "%v", err)
		}
		if !ok {
			continue
		}
		if err := ctx.BoxDelete(name); err != nil {
			return common.Fail(op, "%v", err)
		}
	}
	return ctx.Log(events.Format("delegates", []uint64{uint64(len(adds)), uint64(len(removes))}, &business))
}

func splitAddresses(raw []byte) ([]crypto.Address, error) {
	if len(raw)%crypto.AddressLength != 0 {
		return nil, common.Fail("addresses", "length %d is not a multiple of %d", len(raw), crypto.AddressLength)
	}
	out := make([]crypto.Address, 0, len(raw)/crypto.AddressLength)
	for off := 0; off < len(raw); off += crypto.AddressLength {
		addr, err := crypto.AddressFromBytes(raw[off : off+crypto.AddressLength])
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// payout pays net to accounts[1] out of the vault of accounts[0] and records
// a receipt under the caller-supplied id. Reusing an id fails because the
// receipt already exists.
func (p *Escrow) payout(ctx *ledger.Context) error {
	const op = "payout"
	net, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	id := string(ctx.Arg(2))
	if net == 0 {
		return common.Fail(op, "net must be positive")
	}
	if id == "" || len(id) > MaxPayoutID {
		return common.Fail(op, "payout id must be 1..%d bytes", MaxPayoutID)
	}
	business, err := ctx.Account(0)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	recipient, err := ctx.Account(1)
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	_, allowed, err := ctx.BoxGet(DelegateBox(business, ctx.Sender()))
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if !allowed {
		return common.Fail(op, "unauthorized: %s is not a delegate of %s", ctx.Sender(), business)
	}
	gross, fee, err := Gross(net, ctx.GlobalUint(keyFeeBps))
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	balance, exists, err := p.vault(ctx, op, business)
	if err != nil {
		return err
	}
	if !exists || balance < gross {
		return common.Fail(op, "vault balance %d below gross %d", balance, gross)
	}
	if err := ctx.BoxPut(VaultBox(business), types.Uint64Bytes(balance-gross)); err != nil {
		return common.Fail(op, "%v", err)
	}
	receipt := Receipt{
		Recipient: recipient,
		Net:       net,
		Fee:       fee,
		Gross:     gross,
		Sender:    ctx.Sender(),
		Timestamp: ctx.Timestamp(),
	}
	if err := ctx.BoxCreate(ReceiptBox(id), receipt.Encode()); err != nil {
		return common.Fail(op, "receipt %q: %v", id, err)
	}

	asset := ctx.GlobalUint(keyAsset)
	if err := common.SendAsset(ctx, asset, recipient, net); err != nil {
		return common.Fail(op, "%v", err)
	}
	if fee > 0 {
		if err := common.SendAsset(ctx, asset, ctx.GlobalAddress(keyFeeRecipient), fee); err != nil {
			return common.Fail(op, "%v", err)
		}
	}
	ctx.SetGlobalUint(keyTotalPaid, ctx.GlobalUint(keyTotalPaid)+net)
	ctx.SetGlobalUint(keyTotalFees, ctx.GlobalUint(keyTotalFees)+fee)
	return ctx.Log(events.Format(op, []uint64{net, fee, gross}, &recipient))
}

// withdrawVault returns part of a business's own balance to it.
func (p *Escrow) withdrawVault(ctx *ledger.Context) error {
	const op = "withdraw_vault"
	amount, err := common.Uint(ctx, op, 1)
	if err != nil {
		return err
	}
	business := ctx.Sender()
	balance, exists, err := p.vault(ctx, op, business)
	if err != nil {
		return err
	}
	if !exists || amount == 0 || amount > balance {
		return common.Fail(op, "amount %d outside vault balance %d", amount, balance)
	}
	if err := ctx.BoxPut(VaultBox(business), types.Uint64Bytes(balance-amount)); err != nil {
		return common.Fail(op, "%v", err)
	}
	if err := common.SendAsset(ctx, ctx.GlobalUint(keyAsset), business, amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line("withdraw", amount, business))
}

func (p *Escrow) pause(ctx *ledger.Context) error {
	if err := common.RequireAdmin(ctx, "pause"); err != nil {
		return err
	}
	ctx.SetGlobalUint(keyPaused, 1)
	return ctx.Log(events.Format("pause", []uint64{1}, nil))
}

func (p *Escrow) unpause(ctx *ledger.Context) error {
	if err := common.RequireAdmin(ctx, "unpause"); err != nil {
		return err
	}
	if ctx.GlobalUint(keyPaused) == 0 {
		return common.Fail("unpause", "not paused")
	}
	ctx.SetGlobalUint(keyPaused, 0)
	return ctx.Log(events.Format("unpause", []uint64{0}, nil))
}

func (p *Escrow) updateAdmin(ctx *ledger.Context) error {
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
