package state

import (
	"sort"

	"confio/core/types"
	"confio/crypto"
)

// Requirements holds the minimum balance schedule applied to accounts.
type Requirements struct {
	BaseMinBalance uint64
	HoldingCost    uint64
	AppOptInCost   uint64
	CreatedAppCost uint64
	BoxFlatCost    uint64
	BoxPerByteCost uint64
}

// DefaultRequirements mirrors the public network schedule.
var DefaultRequirements = Requirements{
	BaseMinBalance: 100_000,
	HoldingCost:    100_000,
	AppOptInCost:   100_000,
	CreatedAppCost: 100_000,
	BoxFlatCost:    2_500,
	BoxPerByteCost: 400,
}

// BoxCost is the reserve an application account locks for one sub-record.
func (r Requirements) BoxCost(nameLen, valueLen int) uint64 {
	return r.BoxFlatCost + r.BoxPerByteCost*uint64(nameLen+valueLen)
}

// Holding is an account's position in one asset.
type Holding struct {
	Amount uint64
	Frozen bool
}

// Account is the mutable ledger record for an address.
type Account struct {
	Balance       uint64
	AuthAddr      crypto.Address
	Holdings      map[uint64]Holding
	Locals        map[uint64]types.StateMap
	CreatedApps   []uint64
	CreatedAssets []uint64
	// BoxReserve accumulates the sub-record cost of an application account.
	BoxReserve uint64
}

func newAccount() *Account {
	return &Account{Holdings: map[uint64]Holding{}, Locals: map[uint64]types.StateMap{}}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	out := newAccount()
	if a == nil {
		return out
	}
	out.Balance = a.Balance
	out.AuthAddr = a.AuthAddr
	out.BoxReserve = a.BoxReserve
	for id, h := range a.Holdings {
		out.Holdings[id] = h
	}
	for id, local := range a.Locals {
		out.Locals[id] = cloneStateMap(local)
	}
	out.CreatedApps = append([]uint64(nil), a.CreatedApps...)
	out.CreatedAssets = append([]uint64(nil), a.CreatedAssets...)
	return out
}

// Empty reports whether the account carries no state worth persisting.
func (a *Account) Empty() bool {
	return a == nil || (a.Balance == 0 && a.AuthAddr.IsZero() && len(a.Holdings) == 0 &&
		len(a.Locals) == 0 && len(a.CreatedApps) == 0 && len(a.CreatedAssets) == 0 && a.BoxReserve == 0)
}

// MinBalance computes the balance the account must keep.
func (a *Account) MinBalance(req Requirements) uint64 {
	if a == nil {
		return req.BaseMinBalance
	}
	return req.BaseMinBalance +
		req.HoldingCost*uint64(len(a.Holdings)) +
		req.AppOptInCost*uint64(len(a.Locals)) +
		req.CreatedAppCost*uint64(len(a.CreatedApps)) +
		a.BoxReserve
}

// Info renders the account for the node API.
func (a *Account) Info(addr crypto.Address, req Requirements, round uint64) types.AccountInfo {
	info := types.AccountInfo{
		Address:        addr,
		MinBalance:     req.BaseMinBalance,
		Assets:         []types.AssetHolding{},
		AppsLocalState: []types.AppLocalState{},
		CreatedApps:    []uint64{},
		CreatedAssets:  []uint64{},
		Round:          round,
	}
	if a == nil {
		return info
	}
	info.Amount = a.Balance
	info.MinBalance = a.MinBalance(req)
	info.AuthAddr = a.AuthAddr
	for _, id := range sortedKeys(a.Holdings) {
		h := a.Holdings[id]
		info.Assets = append(info.Assets, types.AssetHolding{AssetID: id, Amount: h.Amount, Frozen: h.Frozen})
	}
	for _, id := range sortedKeys(a.Locals) {
		info.AppsLocalState = append(info.AppsLocalState, types.AppLocalState{AppID: id, KeyValues: cloneStateMap(a.Locals[id])})
	}
	info.CreatedApps = append(info.CreatedApps, a.CreatedApps...)
	info.CreatedAssets = append(info.CreatedAssets, a.CreatedAssets...)
	return info
}

// Asset is the ledger record of an asset.
type Asset struct {
	ID      uint64
	Creator crypto.Address
	Params  types.AssetParams
}

// Clone returns a copy of the asset.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// App is the ledger record of an application.
type App struct {
	ID      uint64
	Creator crypto.Address
	Program string
	Global  types.StateMap
}

// Clone returns a deep copy of the application.
func (a *App) Clone() *App {
	if a == nil {
		return nil
	}
	out := *a
	out.Global = cloneStateMap(a.Global)
	return &out
}

// Info renders the application for the node API.
func (a *App) Info() types.AppInfo {
	return types.AppInfo{
		ID:          a.ID,
		Creator:     a.Creator,
		Program:     a.Program,
		Address:     types.ApplicationAddress(a.ID),
		GlobalState: cloneStateMap(a.Global),
	}
}

func cloneStateMap(m types.StateMap) types.StateMap {
	out := make(types.StateMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
