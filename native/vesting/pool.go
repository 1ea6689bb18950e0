package vesting

import (
	"confio/core/events"
	"confio/core/ledger"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

// Pool vests one funded balance across many members, each with its own
// allocation stored in a sub-record keyed by the member address.
type Pool struct{}

func NewPool() *Pool { return &Pool{} }

// Execute implements ledger.Program. Creation takes the duration in seconds.
func (p *Pool) Execute(ctx *ledger.Context) error {
	if ctx.IsCreate() {
		duration, err := common.Uint(ctx, "create", 0)
		if err != nil {
			return err
		}
		if duration == 0 {
			return common.Fail("create", "duration must be positive")
		}
		initGlobals(ctx, duration)
		ctx.SetGlobalUint(keyTotalAllocated, 0)
		ctx.SetGlobalUint(keyMembers, 0)
		return nil
	}
	switch ctx.OnCompletion() {
	case types.NoOp:
	case types.UpdateApplication, types.DeleteApplication:
		return common.RequireAdmin(ctx, ctx.OnCompletion().String())
	default:
		return common.Fail("vesting_pool", "%s not supported", ctx.OnCompletion())
	}

	switch method := common.Method(ctx); method {
	case MethodOptInAsset:
		return optInAsset(ctx)
	case MethodFund:
		return fund(ctx)
	case MethodStart:
		return start(ctx)
	case MethodAddMember:
		return p.addMember(ctx)
	case MethodRemoveMember:
		return p.removeMember(ctx)
	case MethodChangeMember:
		return p.changeMember(ctx)
	case MethodClaim:
		return p.claim(ctx)
	case MethodWithdrawBeforeStart:
		return p.withdrawBeforeStart(ctx)
	case MethodUpdateAdmin:
		return updateAdmin(ctx)
	default:
		return common.Fail("dispatch", "unknown method %q", method)
	}
}

func (p *Pool) member(ctx *ledger.Context, op string, addr crypto.Address) (Member, error) {
	raw, ok, err := ctx.BoxGet(MemberBox(addr))
	if err != nil {
		return Member{}, common.Fail(op, "%v", err)
	}
	if !ok {
		return Member{}, common.Fail(op, "%s is not a member", addr)
	}
	m, err := DecodeMember(raw)
	if err != nil {
		return Member{}, common.Fail(op, "%v", err)
	}
	return m, nil
}

func (p *Pool) addMember(ctx *ledger.Context) error {
	const op = "add_member"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	addr, err := common.Address(ctx, op, 1)
	if err != nil {
		return err
	}
	allocated, err := common.Uint(ctx, op, 2)
	if err != nil {
		return err
	}
	if addr.IsZero() || allocated == 0 {
		return common.Fail(op, "member and allocation required")
	}
	total, err := common.Add(ctx.GlobalUint(keyTotalAllocated), allocated)
	if err != nil || total > ctx.GlobalUint(keyTotalLocked) {
		return common.Fail(op, "allocation exceeds funded balance %d", ctx.GlobalUint(keyTotalLocked))
	}
	if err := ctx.BoxCreate(MemberBox(addr), Member{Allocated: allocated}.Encode()); err != nil {
		return common.Fail(op, "%v", err)
	}
	ctx.SetGlobalUint(keyTotalAllocated, total)
	ctx.SetGlobalUint(keyMembers, ctx.GlobalUint(keyMembers)+1)
	return ctx.Log(events.Line("member_added", allocated, addr))
}

// removeMember releases an allocation that has never been claimed against.
func (p *Pool) removeMember(ctx *ledger.Context) error {
	const op = "remove_member"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	addr, err := common.Address(ctx, op, 1)
	if err != nil {
		return err
	}
	m, err := p.member(ctx, op, addr)
	if err != nil {
		return err
	}
	if m.Claimed != 0 {
		return common.Fail(op, "member has already claimed %d", m.Claimed)
	}
	if err := ctx.BoxDelete(MemberBox(addr)); err != nil {
		return common.Fail(op, "%v", err)
	}
	ctx.SetGlobalUint(keyTotalAllocated, ctx.GlobalUint(keyTotalAllocated)-m.Allocated)
	ctx.SetGlobalUint(keyMembers, ctx.GlobalUint(keyMembers)-1)
	return ctx.Log(events.Line("member_removed", m.Allocated, addr))
}

func (p *Pool) changeMember(ctx *ledger.Context) error {
	const op = "change_member"
	if err := common.RequireAdmin(ctx, op); err != nil {
		return err
	}
	from, err := common.Address(ctx, op, 1)
	if err != nil {
		return err
	}
	to, err := common.Address(ctx, op, 2)
	if err != nil {
		return err
	}
	if to.IsZero() || to == from {
		return common.Fail(op, "invalid replacement address")
	}
	m, err := p.member(ctx, op, from)
	if err != nil {
		return err
	}
	if err := ctx.BoxCreate(MemberBox(to), m.Encode()); err != nil {
		return common.Fail(op, "%v", err)
	}
	if err := ctx.BoxDelete(MemberBox(from)); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line("member_changed", m.Allocated, to))
}

func (p *Pool) claim(ctx *ledger.Context) error {
	const op = "claim"
	startTime := ctx.GlobalUint(keyStartTime)
	if startTime == 0 {
		return common.Fail(op, "not started")
	}
	m, err := p.member(ctx, op, ctx.Sender())
	if err != nil {
		return err
	}
	vested, err := Vested(m.Allocated, startTime, ctx.GlobalUint(keyDuration), ctx.Timestamp())
	if err != nil {
		return common.Fail(op, "%v", err)
	}
	if vested <= m.Claimed {
		return common.Fail(op, "nothing vested")
	}
	amount := vested - m.Claimed
	m.Claimed = vested
	if err := ctx.BoxPut(MemberBox(ctx.Sender()), m.Encode()); err != nil {
		return common.Fail(op, "%v", err)
	}
	ctx.SetGlobalUint(keyTotalClaimed, ctx.GlobalUint(keyTotalClaimed)+amount)
	if err := common.SendAsset(ctx, ctx.GlobalUint(keyAsset), ctx.Sender(), amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line(op, amount, ctx.Sender()))
}

// withdrawBeforeStart returns only the balance no member has been allocated.
func (p *Pool) withdrawBeforeStart(ctx *ledger.Context) error {
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
	allocated := ctx.GlobalUint(keyTotalAllocated)
	if held <= allocated {
		return common.Fail(op, "no unallocated balance")
	}
	amount := held - allocated
	locked := ctx.GlobalUint(keyTotalLocked)
	if locked > amount {
		locked -= amount
	} else {
		locked = 0
	}
	if locked < allocated {
		locked = allocated
	}
	ctx.SetGlobalUint(keyTotalLocked, locked)
	admin := ctx.Sender()
	if err := common.SendAsset(ctx, asset, admin, amount); err != nil {
		return common.Fail(op, "%v", err)
	}
	return ctx.Log(events.Line("withdraw", amount, admin))
}
