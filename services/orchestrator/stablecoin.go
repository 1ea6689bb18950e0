package orchestrator

import (
	"context"
	"fmt"

	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
	"confio/native/stablecoin"
	"confio/services/txc"
)

func (o *Orchestrator) stablecoinView(ctx context.Context, action string, addrs ...crypto.Address) (*view, stablecoin.State, error) {
	v, err := o.read(ctx, action, o.cfg.Apps.Stablecoin, addrs...)
	if err != nil {
		return nil, stablecoin.State{}, err
	}
	st := stablecoin.DecodeState(v.App.GlobalState)
	if st.CUSDAssetID == 0 {
		return nil, st, preflight(action, "run setup_assets on the controller", "stablecoin assets are not configured")
	}
	return v, st, nil
}

func (o *Orchestrator) stablecoinCall(method string, args ...any) txc.Call {
	return txc.Call{
		Program: stablecoin.ProgramName,
		Method:  method,
		App:     o.cfg.Apps.Stablecoin,
		Args:    args,
	}
}

// TransferAdmin hands the controller to next.
func (o *Orchestrator) TransferAdmin(ctx context.Context, op Operator, next crypto.Address) (*Result, error) {
	const action = "stablecoin.transfer-admin"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		if next.IsZero() {
			return nil, invalid("new admin required")
		}
		_, st, err := o.stablecoinView(ctx, action)
		if err != nil {
			return nil, err
		}
		if st.Admin == next {
			return &Result{Message: fmt.Sprintf("%s is already admin", next)}, nil
		}
		if st.Admin != o.signers.Admin.Address() {
			return nil, preflight(action, "sign with the current admin key",
				"signer %s is not the controller admin %s", o.signers.Admin.Address(), st.Admin)
		}
		return o.submit(ctx, op, o.stablecoinCall(stablecoin.MethodUpdateAdmin, next))
	})
}

// UpdateSponsor changes the fee sponsor the controller accepts.
func (o *Orchestrator) UpdateSponsor(ctx context.Context, op Operator, next crypto.Address) (*Result, error) {
	const action = "stablecoin.update-sponsor"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		if next.IsZero() {
			return nil, invalid("new sponsor required")
		}
		_, st, err := o.stablecoinView(ctx, action)
		if err != nil {
			return nil, err
		}
		if st.Sponsor == next {
			return &Result{Message: fmt.Sprintf("%s is already sponsor", next)}, nil
		}
		return o.submit(ctx, op, o.stablecoinCall(stablecoin.MethodUpdateSponsor, next))
	})
}

// WithdrawUSDC moves excess collateral to receiver. The peg floor and the
// liquidity floor are checked against fresh reads before anything is
// signed.
func (o *Orchestrator) WithdrawUSDC(ctx context.Context, op Operator, amount uint64, receiver crypto.Address) (*Result, error) {
	const action = "stablecoin.withdraw-usdc"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		if amount == 0 {
			return nil, invalid("amount must be positive")
		}
		if receiver.IsZero() {
			receiver = o.signers.Admin.Address()
		}
		v, st, err := o.stablecoinView(ctx, action, receiver)
		if err != nil {
			return nil, err
		}
		h, _ := v.holding(types.ApplicationAddress(o.cfg.Apps.Stablecoin), st.CollateralAssetID)
		if amount > h.Amount {
			return nil, preflight(action, "", "amount %d exceeds collateral held %d", amount, h.Amount)
		}
		left := h.Amount - amount
		if left < st.CollateralBackedSupply {
			return nil, preflight(action, fmt.Sprintf("withdraw at most %d", h.Amount-st.CollateralBackedSupply),
				"under collateralized: %d left, %d collateral backed", left, st.CollateralBackedSupply)
		}
		floor, err := common.MulDivCeil(st.Circulating(), stablecoin.LiquidityFloorBps, 10_000)
		if err != nil {
			return nil, invalid("liquidity floor: %v", err)
		}
		if left < floor {
			return nil, preflight(action, "", "under collateralized: %d left, liquidity floor %d", left, floor)
		}
		if _, ok := v.holding(receiver, st.CollateralAssetID); !ok {
			return nil, preflight(action, fmt.Sprintf("opt %s in to asset %d", receiver, st.CollateralAssetID),
				"receiver %s is not opted in to asset %d", receiver, st.CollateralAssetID)
		}
		call := o.stablecoinCall(stablecoin.MethodWithdrawUSDC, amount)
		call.Accounts = []crypto.Address{receiver}
		call.Assets = []uint64{st.CollateralAssetID}
		return o.submit(ctx, op, call)
	})
}

// Freeze blocks target from moving cUSD.
func (o *Orchestrator) Freeze(ctx context.Context, op Operator, target crypto.Address) (*Result, error) {
	return o.run(ctx, op, "stablecoin.freeze", func(ctx context.Context) (*Result, error) {
		return o.setFrozen(ctx, op, "stablecoin.freeze", target, true)
	})
}

func (o *Orchestrator) Unfreeze(ctx context.Context, op Operator, target crypto.Address) (*Result, error) {
	return o.run(ctx, op, "stablecoin.unfreeze", func(ctx context.Context) (*Result, error) {
		return o.setFrozen(ctx, op, "stablecoin.unfreeze", target, false)
	})
}

func (o *Orchestrator) setFrozen(ctx context.Context, op Operator, action string, target crypto.Address, frozen bool) (*Result, error) {
	if target.IsZero() {
		return nil, invalid("target address required")
	}
	v, st, err := o.stablecoinView(ctx, action, target)
	if err != nil {
		return nil, err
	}
	h, ok := v.holding(target, st.CUSDAssetID)
	if !ok {
		return nil, preflight(action, "", "%s is not opted in to cUSD %d", target, st.CUSDAssetID)
	}
	if h.Frozen == frozen {
		state := "unfrozen"
		if frozen {
			state = "frozen"
		}
		return &Result{Message: fmt.Sprintf("%s is already %s", target, state)}, nil
	}
	info := v.account(target)
	if local, ok := info.LocalState(o.cfg.Apps.Stablecoin); ok && frozen && stablecoin.DecodeAccountFlags(local).Vault {
		return nil, preflight(action, "remove the vault flag first", "%s is a vault account and cannot be frozen", target)
	}
	method := stablecoin.MethodUnfreeze
	if frozen {
		method = stablecoin.MethodFreeze
	}
	call := o.stablecoinCall(method)
	call.Accounts = []crypto.Address{target}
	call.Assets = []uint64{st.CUSDAssetID}
	return o.submit(ctx, op, call)
}

// Pause halts every user operation on the controller.
func (o *Orchestrator) Pause(ctx context.Context, op Operator) (*Result, error) {
	return o.run(ctx, op, "stablecoin.pause", func(ctx context.Context) (*Result, error) {
		return o.setPaused(ctx, op, "stablecoin.pause", true)
	})
}

func (o *Orchestrator) Unpause(ctx context.Context, op Operator) (*Result, error) {
	return o.run(ctx, op, "stablecoin.unpause", func(ctx context.Context) (*Result, error) {
		return o.setPaused(ctx, op, "stablecoin.unpause", false)
	})
}

func (o *Orchestrator) setPaused(ctx context.Context, op Operator, action string, paused bool) (*Result, error) {
	_, st, err := o.stablecoinView(ctx, action)
	if err != nil {
		return nil, err
	}
	if st.Paused == paused {
		if paused {
			return &Result{Message: "controller is already paused"}, nil
		}
		return &Result{Message: "controller is not paused"}, nil
	}
	method := stablecoin.MethodUnpause
	if paused {
		method = stablecoin.MethodPause
	}
	return o.submit(ctx, op, o.stablecoinCall(method))
}
