package orchestrator

import (
	"context"
	"fmt"

	"confio/core/state"
	"confio/core/types"
	"confio/crypto"
	"confio/native/rewards"
	"confio/rpc/nodeclient"
	"confio/services/orchestrator/mirror"
	"confio/services/txc"
)

func (o *Orchestrator) rewardsCall(method string, args ...any) txc.Call {
	return txc.Call{
		Program: rewards.ProgramName,
		Method:  method,
		App:     o.cfg.Apps.Rewards,
		Args:    args,
	}
}

// BootstrapAndFund configures the vault asset when needed and deposits
// amount from the admin.
func (o *Orchestrator) BootstrapAndFund(ctx context.Context, op Operator, amount uint64) (*Result, error) {
	const action = "rewards.bootstrap-and-fund"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		if amount == 0 {
			return nil, invalid("amount must be positive")
		}
		asset := o.cfg.Assets.Token
		if asset == 0 {
			return nil, invalid("ASSET_ID_TOKEN is not configured")
		}
		admin := o.signers.Admin.Address()
		v, err := o.read(ctx, action, o.cfg.Apps.Rewards, admin)
		if err != nil {
			return nil, err
		}
		st := rewards.DecodeState(v.App.GlobalState)
		if st.AssetID != 0 && st.AssetID != asset {
			return nil, preflight(action, "", "vault is bound to asset %d, not %d", st.AssetID, asset)
		}
		if h, ok := v.holding(admin, asset); !ok || h.Amount < amount {
			return nil, preflight(action, fmt.Sprintf("fund admin %s with %d micro-tokens", admin, amount-h.Amount),
				"admin holds %d, deposit needs %d", h.Amount, amount)
		}

		var prior []string
		if st.AssetID == 0 {
			appAcct := v.account(types.ApplicationAddress(o.cfg.Apps.Rewards))
			need := appAcct.MinBalance + state.DefaultRequirements.HoldingCost
			if appAcct.Amount < need {
				return nil, preflight(action, fmt.Sprintf("fund app with %d micro-units from sponsor", need-appAcct.Amount),
					"vault holds %d, asset opt-in needs %d", appAcct.Amount, need)
			}
			call := o.rewardsCall(rewards.MethodBootstrap, asset)
			call.Assets = []uint64{asset}
			boot, err := o.submit(ctx, op, call)
			if err != nil {
				return nil, fmt.Errorf("bootstrap: %w", err)
			}
			prior = append(prior, boot.TxID)
		}

		call := o.rewardsCall(rewards.MethodFund)
		call.Assets = []uint64{asset}
		call.Transfer = &txc.AssetTransfer{From: o.signers.Admin, Asset: asset, Amount: amount}
		call.Sponsor = o.sponsorFor(rewards.ProgramName, rewards.MethodFund)
		res, err := o.submit(ctx, op, call)
		if err != nil {
			return nil, err
		}
		res.Prior = prior
		return res, nil
	})
}

// RewardsBalance is the vault position withdraw works against.
type RewardsBalance struct {
	Held         uint64
	Owed         uint64
	Withdrawable uint64
}

func (o *Orchestrator) rewardsBalance(ctx context.Context, action string) (rewards.State, RewardsBalance, error) {
	v, err := o.read(ctx, action, o.cfg.Apps.Rewards)
	if err != nil {
		return rewards.State{}, RewardsBalance{}, err
	}
	st := rewards.DecodeState(v.App.GlobalState)
	if st.AssetID == 0 {
		return st, RewardsBalance{}, preflight(action, "run rewards bootstrap-and-fund", "vault asset is not configured")
	}
	h, _ := v.holding(types.ApplicationAddress(o.cfg.Apps.Rewards), st.AssetID)
	bal := RewardsBalance{Held: h.Amount, Owed: st.Outstanding()}
	if bal.Held > bal.Owed {
		bal.Withdrawable = bal.Held - bal.Owed
	}
	return st, bal, nil
}

// WithdrawRewards returns unallocated tokens to the admin. With statusOnly
// the balance is reported and nothing is submitted.
func (o *Orchestrator) WithdrawRewards(ctx context.Context, op Operator, amount uint64, statusOnly bool) (*Result, error) {
	const action = "rewards.withdraw"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		st, bal, err := o.rewardsBalance(ctx, action)
		if err != nil {
			return nil, err
		}
		status := fmt.Sprintf("held %s, owed %s, withdrawable %s",
			FormatAmount(bal.Held), FormatAmount(bal.Owed), FormatAmount(bal.Withdrawable))
		if statusOnly {
			return &Result{Message: status}, nil
		}
		if amount == 0 {
			return nil, invalid("amount must be positive")
		}
		if amount > bal.Withdrawable {
			return nil, preflight(action, "", "amount %d exceeds withdrawable balance (%s)", amount, status)
		}
		call := o.rewardsCall(rewards.MethodWithdraw, amount)
		call.Assets = []uint64{st.AssetID}
		return o.submit(ctx, op, call)
	})
}

// RevokeReward forfeits user's unclaimed rewards. With freeze the user's
// cUSD is frozen as well, which also requires the freeze permission.
func (o *Orchestrator) RevokeReward(ctx context.Context, op Operator, user crypto.Address, freeze bool) (*Result, error) {
	const action = "rewards.revoke"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		if user.IsZero() {
			return nil, invalid("user address required")
		}
		if freeze {
			if err := o.access.Authorize(op, "stablecoin.freeze"); err != nil {
				return nil, err
			}
		}
		box, err := o.node.Box(ctx, o.cfg.Apps.Rewards, rewards.UserBox(user))
		if nodeclient.IsNotFound(err) {
			return nil, preflight(action, "", "%s has no reward record", user)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: read reward record: %w", action, err)
		}
		rec, err := rewards.DecodeUser(box.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", action, err)
		}

		var res *Result
		if rec.Revoked != 0 {
			res = &Result{Message: fmt.Sprintf("%s already revoked", user)}
		} else {
			call := o.rewardsCall(rewards.MethodRevoke)
			call.Accounts = []crypto.Address{user}
			call.Boxes = [][]byte{rewards.UserBox(user)}
			if res, err = o.submit(ctx, op, call); err != nil {
				return nil, err
			}
		}
		frozen := false
		if freeze {
			fr, err := o.setFrozen(ctx, op, "stablecoin.freeze", user, true)
			if err != nil {
				return nil, fmt.Errorf("revoked but not frozen: %w", err)
			}
			frozen = true
			if fr.TxID != "" {
				if res.TxID != "" {
					res.Prior = append(res.Prior, res.TxID)
				}
				res.TxID, res.Round, res.ActionID = fr.TxID, fr.Round, fr.ActionID
			}
			res.Message = appendMessage(res.Message, fr.Message)
		}
		if res.TxID != "" {
			o.syncMirror(res, func(m *mirror.Store) error {
				return m.MarkRevoked(user.String(), frozen, res.TxID)
			})
		}
		return res, nil
	})
}
