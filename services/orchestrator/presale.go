package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"confio/core/types"
	"confio/crypto"
	"confio/native/presale"
	"confio/services/orchestrator/mirror"
	"confio/services/txc"
)

// RoundRequest selects the parameters of a round. Zero overrides fall back
// to the mirrored phase configuration.
type RoundRequest struct {
	Phase uint64
	// Price is micro-cUSD per whole token.
	Price uint64
	// DisplayCap is the published cap; the on-ledger cap is inflated by
	// the configured multiplier.
	DisplayCap uint64
	MaxPerAddr uint64
}

type roundParams struct {
	price, cap, max uint64
}

func (o *Orchestrator) capMultiplier() uint64 {
	if o.cfg.Presale.CapMultiplier < 1 {
		return 1
	}
	return o.cfg.Presale.CapMultiplier
}

func (o *Orchestrator) roundParams(req RoundRequest) (roundParams, error) {
	p := RoundRequest{Phase: req.Phase}
	if o.mirror != nil && req.Phase > 0 {
		row, err := o.mirror.Phase(req.Phase)
		switch {
		case err == nil:
			p.Price, p.DisplayCap, p.MaxPerAddr = row.Price, row.DisplayCap, row.MaxPerAddr
		case !errors.Is(err, mirror.ErrNotFound):
			return roundParams{}, err
		}
	}
	if req.Price > 0 {
		p.Price = req.Price
	}
	if req.DisplayCap > 0 {
		p.DisplayCap = req.DisplayCap
	}
	if req.MaxPerAddr > 0 {
		p.MaxPerAddr = req.MaxPerAddr
	}
	if p.Price == 0 || p.DisplayCap == 0 || p.MaxPerAddr == 0 {
		return roundParams{}, invalid("phase %d is not configured; run presale set-phase or pass price, cap and max", req.Phase)
	}
	roundCap := p.DisplayCap * o.capMultiplier()
	if roundCap/o.capMultiplier() != p.DisplayCap {
		return roundParams{}, invalid("cap %d overflows with multiplier %d", p.DisplayCap, o.capMultiplier())
	}
	if p.MaxPerAddr > roundCap {
		return roundParams{}, invalid("max per address %d exceeds round cap %d", p.MaxPerAddr, roundCap)
	}
	return roundParams{price: p.Price, cap: roundCap, max: p.MaxPerAddr}, nil
}

func (o *Orchestrator) presaleView(ctx context.Context, action string, addrs ...crypto.Address) (*view, presale.State, error) {
	v, err := o.read(ctx, action, o.cfg.Apps.Presale, addrs...)
	if err != nil {
		return nil, presale.State{}, err
	}
	st := presale.DecodeState(v.App.GlobalState)
	if st.ConfioID == 0 {
		return nil, st, preflight(action, "run opt_in_assets on the presale", "presale assets are not configured")
	}
	return v, st, nil
}

// inventoryGap is the top-up needed for a round of roundCap at price, buffer
// included, or zero when the app already holds enough.
func (o *Orchestrator) inventoryGap(action string, v *view, st presale.State, roundCap, price uint64) (uint64, error) {
	need, err := st.RequiredInventory(roundCap, price)
	if err != nil {
		return 0, invalid("inventory for cap %d at price %d: %v", roundCap, price, err)
	}
	h, _ := v.holding(types.ApplicationAddress(o.cfg.Apps.Presale), st.ConfioID)
	if h.Amount >= need {
		return 0, nil
	}
	return need - h.Amount + o.cfg.Presale.SafetyBufferTokens, nil
}

// topUp moves amount tokens from the sponsor to the presale.
func (o *Orchestrator) topUp(ctx context.Context, op Operator, action string, v *view, asset, amount uint64) (string, error) {
	remedy := fmt.Sprintf("fund app with %d micro-tokens from sponsor", amount)
	if o.signers.Sponsor == nil {
		return "", preflight(action, remedy, "presale inventory short by %d and no sponsor is configured", amount)
	}
	if h, ok := v.holding(o.sponsorAddress(), asset); !ok || h.Amount < amount {
		return "", preflight(action, fmt.Sprintf("fund sponsor with %d micro-tokens", amount-h.Amount),
			"sponsor underfunded: holds %d, top-up needs %d", h.Amount, amount)
	}
	g, err := o.submitter.BuildTransfer(ctx, action, txc.AssetTransfer{
		From:   o.signers.Sponsor,
		To:     types.ApplicationAddress(o.cfg.Apps.Presale),
		Asset:  asset,
		Amount: amount,
	}, op.Name)
	if err != nil {
		return "", err
	}
	conf, err := o.submitter.Run(ctx, g)
	if err != nil {
		return "", fmt.Errorf("inventory top-up: %w", err)
	}
	o.logger.Info("presale inventory topped up", "amount", amount, "txid", conf.TxID.String())
	return conf.TxID.String(), nil
}

// ensureInventory tops the presale up so that a round of roundCap at price
// passes the on-ledger inventory check.
func (o *Orchestrator) ensureInventory(ctx context.Context, op Operator, action string, v *view, st presale.State, roundCap, price uint64) ([]string, error) {
	gap, err := o.inventoryGap(action, v, st, roundCap, price)
	if err != nil || gap == 0 {
		return nil, err
	}
	txid, err := o.topUp(ctx, op, action, v, st.ConfioID, gap)
	if err != nil {
		return nil, err
	}
	return []string{txid}, nil
}

// StartRound opens a new round with the phase parameters, topping the
// inventory up first when it is short.
func (o *Orchestrator) StartRound(ctx context.Context, op Operator, req RoundRequest) (*Result, error) {
	const action = "presale.start-round"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		params, err := o.roundParams(req)
		if err != nil {
			return nil, err
		}
		v, st, err := o.presaleView(ctx, action, o.sponsorAddress())
		if err != nil {
			return nil, err
		}
		if !st.Locked {
			return nil, preflight(action, "", "claims were permanently unlocked; no new rounds can start")
		}
		if st.Active {
			return nil, preflight(action, "end the active round first", "round %d is already active", st.RoundID)
		}
		prior, err := o.ensureInventory(ctx, op, action, v, st, params.cap, params.price)
		if err != nil {
			return nil, err
		}
		res, err := o.submit(ctx, op, txc.Call{
			Program: presale.ProgramName,
			Method:  presale.MethodStartRound,
			App:     o.cfg.Apps.Presale,
			Args:    []any{params.price, params.cap, params.max},
			Assets:  []uint64{st.ConfioID},
		})
		if err != nil {
			return nil, err
		}
		res.Prior = prior
		if req.Phase > 0 {
			o.syncMirror(res, func(m *mirror.Store) error {
				if err := m.SavePhase(mirror.PresalePhase{
					Phase: req.Phase, Price: params.price, DisplayCap: params.cap / o.capMultiplier(), MaxPerAddr: params.max,
				}); err != nil {
					return err
				}
				return m.MarkPhase(req.Phase, true, st.RoundID+1, res.TxID)
			})
		}
		return res, nil
	})
}

// EndRound pauses the active round. An inactive round is reported.
func (o *Orchestrator) EndRound(ctx context.Context, op Operator, phase uint64) (*Result, error) {
	const action = "presale.end-round"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		_, st, err := o.presaleView(ctx, action)
		if err != nil {
			return nil, err
		}
		if !st.Active {
			return &Result{Message: fmt.Sprintf("round %d is not active", st.RoundID)}, nil
		}
		res, err := o.submit(ctx, op, txc.Call{
			Program: presale.ProgramName,
			Method:  presale.MethodToggleRound,
			App:     o.cfg.Apps.Presale,
			Assets:  []uint64{st.ConfioID},
		})
		if err != nil {
			return nil, err
		}
		if phase > 0 {
			o.syncMirror(res, func(m *mirror.Store) error {
				return m.MarkPhase(phase, false, st.RoundID, res.TxID)
			})
		}
		return res, nil
	})
}

// ResumeRound re-activates the current round after restoring inventory.
func (o *Orchestrator) ResumeRound(ctx context.Context, op Operator, phase uint64) (*Result, error) {
	const action = "presale.resume-round"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		v, st, err := o.presaleView(ctx, action, o.sponsorAddress())
		if err != nil {
			return nil, err
		}
		if st.RoundID == 0 {
			return nil, preflight(action, "start a round first", "no round was ever started")
		}
		if !st.Locked {
			return nil, preflight(action, "", "claims were permanently unlocked; rounds cannot resume")
		}
		if st.Active {
			return &Result{Message: fmt.Sprintf("round %d is already active", st.RoundID)}, nil
		}
		prior, err := o.ensureInventory(ctx, op, action, v, st, st.RoundCap, st.Price)
		if err != nil {
			return nil, err
		}
		res, err := o.submit(ctx, op, txc.Call{
			Program: presale.ProgramName,
			Method:  presale.MethodToggleRound,
			App:     o.cfg.Apps.Presale,
			Assets:  []uint64{st.ConfioID},
		})
		if err != nil {
			return nil, err
		}
		res.Prior = prior
		if phase > 0 {
			o.syncMirror(res, func(m *mirror.Store) error {
				return m.MarkPhase(phase, true, st.RoundID, res.TxID)
			})
		}
		return res, nil
	})
}

// WithdrawUnsold returns tokens not owed to buyers. A zero receiver means
// the admin.
func (o *Orchestrator) WithdrawUnsold(ctx context.Context, op Operator, amount uint64, receiver crypto.Address) (*Result, error) {
	const action = "presale.withdraw-unsold"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		if amount == 0 {
			return nil, invalid("amount must be positive")
		}
		to := receiver
		if to.IsZero() {
			to = o.signers.Admin.Address()
		}
		v, st, err := o.presaleView(ctx, action, to)
		if err != nil {
			return nil, err
		}
		if st.Active {
			return nil, preflight(action, "end the round first", "round %d is active", st.RoundID)
		}
		h, _ := v.holding(types.ApplicationAddress(o.cfg.Apps.Presale), st.ConfioID)
		var available uint64
		if h.Amount > st.Outstanding() {
			available = h.Amount - st.Outstanding()
		}
		if amount > available {
			return nil, preflight(action, "", "amount %d exceeds available %d (holds %d, owed to buyers %d)",
				amount, available, h.Amount, st.Outstanding())
		}
		if _, ok := v.holding(to, st.ConfioID); !ok {
			return nil, preflight(action, fmt.Sprintf("opt %s in to asset %d", to, st.ConfioID),
				"receiver %s is not opted in to asset %d", to, st.ConfioID)
		}
		return o.submit(ctx, op, txc.Call{
			Program:  presale.ProgramName,
			Method:   presale.MethodWithdrawConfio,
			App:      o.cfg.Apps.Presale,
			Args:     []any{amount},
			Accounts: []crypto.Address{to},
			Assets:   []uint64{st.ConfioID},
		})
	})
}

// FundAppFromSponsor moves tokens from the sponsor to the presale. A zero
// amount tops up exactly what the current round parameters require.
func (o *Orchestrator) FundAppFromSponsor(ctx context.Context, op Operator, amount uint64) (*Result, error) {
	const action = "presale.fund-app-from-sponsor"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		v, st, err := o.presaleView(ctx, action, o.sponsorAddress())
		if err != nil {
			return nil, err
		}
		if amount == 0 {
			if st.Price == 0 || st.RoundCap == 0 {
				return nil, invalid("amount required: no round parameters on the ledger yet")
			}
			if amount, err = o.inventoryGap(action, v, st, st.RoundCap, st.Price); err != nil {
				return nil, err
			}
			if amount == 0 {
				return &Result{Message: "inventory already covers the current round"}, nil
			}
		}
		txid, err := o.topUp(ctx, op, action, v, st.ConfioID, amount)
		if err != nil {
			return nil, err
		}
		return &Result{TxID: txid, Message: fmt.Sprintf("funded %s tokens", FormatAmount(amount))}, nil
	})
}

// UnlockClaims permanently unlocks claims. It can never be undone.
func (o *Orchestrator) UnlockClaims(ctx context.Context, op Operator) (*Result, error) {
	const action = "presale.unlock-claims"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		_, st, err := o.presaleView(ctx, action)
		if err != nil {
			return nil, err
		}
		if !st.Locked {
			res := &Result{Message: fmt.Sprintf("claims already unlocked at %d", st.UnlockedAt)}
			o.syncMirror(res, func(m *mirror.Store) error {
				return m.SetFlag(mirror.FlagClaimsUnlocked, true, "")
			})
			return res, nil
		}
		res, err := o.submit(ctx, op, txc.Call{
			Program: presale.ProgramName,
			Method:  presale.MethodPermanentUnlock,
			App:     o.cfg.Apps.Presale,
		})
		if err != nil {
			return nil, err
		}
		o.syncMirror(res, func(m *mirror.Store) error {
			if err := m.SetFlag(mirror.FlagClaimsUnlocked, true, res.TxID); err != nil {
				return err
			}
			return m.DeactivatePhases(res.TxID)
		})
		return res, nil
	})
}

// SetPhase stores a phase configuration in the mirror. Nothing is
// submitted; start-round reads it.
func (o *Orchestrator) SetPhase(ctx context.Context, op Operator, req RoundRequest) (*Result, error) {
	const action = "presale.set-phase"
	return o.run(ctx, op, action, func(ctx context.Context) (*Result, error) {
		if o.mirror == nil {
			return nil, invalid("phase configuration needs a mirror database")
		}
		if req.Phase == 0 {
			return nil, invalid("phase must be positive")
		}
		if req.MaxPerAddr > req.DisplayCap*o.capMultiplier() {
			return nil, invalid("max per address %d exceeds round cap %d", req.MaxPerAddr, req.DisplayCap*o.capMultiplier())
		}
		err := o.mirror.SavePhase(mirror.PresalePhase{
			Phase: req.Phase, Price: req.Price, DisplayCap: req.DisplayCap, MaxPerAddr: req.MaxPerAddr,
		})
		if err != nil {
			return nil, invalid("%v", err)
		}
		return &Result{Message: fmt.Sprintf("phase %d saved", req.Phase)}, nil
	})
}

// PresaleStatus is a read-only snapshot of the presale.
type PresaleStatus struct {
	State     presale.State
	Held      uint64
	Available uint64
	Unlocked  bool
	Phases    []mirror.PresalePhase
}

// PresaleStatus reads the presale without submitting anything.
func (o *Orchestrator) PresaleStatus(ctx context.Context, op Operator) (*PresaleStatus, error) {
	const action = "presale.status"
	if err := o.access.Authorize(op, action); err != nil {
		return nil, err
	}
	v, st, err := o.presaleView(ctx, action)
	if err != nil {
		return nil, err
	}
	h, _ := v.holding(types.ApplicationAddress(o.cfg.Apps.Presale), st.ConfioID)
	out := &PresaleStatus{State: st, Held: h.Amount, Unlocked: !st.Locked}
	if h.Amount > st.Outstanding() {
		out.Available = h.Amount - st.Outstanding()
	}
	if o.mirror != nil {
		if out.Phases, err = o.mirror.Phases(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
