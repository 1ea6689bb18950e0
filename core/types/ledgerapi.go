package types

import "confio/crypto"

// AssetHolding is an account's balance of a single asset.
type AssetHolding struct {
	AssetID uint64 `json:"asset-id"`
	Amount  uint64 `json:"amount"`
	Frozen  bool   `json:"is-frozen"`
}

// AppLocalState is the local state an account holds for one application.
type AppLocalState struct {
	AppID     uint64   `json:"id"`
	KeyValues StateMap `json:"key-value"`
}

// AccountInfo is the node view of an account.
type AccountInfo struct {
	Address        crypto.Address  `json:"address"`
	Amount         uint64          `json:"amount"`
	MinBalance     uint64          `json:"min-balance"`
	AuthAddr       crypto.Address  `json:"auth-addr"`
	Assets         []AssetHolding  `json:"assets"`
	AppsLocalState []AppLocalState `json:"apps-local-state"`
	CreatedApps    []uint64        `json:"created-apps"`
	CreatedAssets  []uint64        `json:"created-assets"`
	Round          uint64          `json:"round"`
}

// Holding returns the account's holding of asset id.
func (a *AccountInfo) Holding(id uint64) (AssetHolding, bool) {
	if a == nil {
		return AssetHolding{}, false
	}
	for _, h := range a.Assets {
		if h.AssetID == id {
			return h, true
		}
	}
	return AssetHolding{}, false
}

// LocalState returns the account's local state for app id.
func (a *AccountInfo) LocalState(id uint64) (StateMap, bool) {
	if a == nil {
		return nil, false
	}
	for _, ls := range a.AppsLocalState {
		if ls.AppID == id {
			return ls.KeyValues, true
		}
	}
	return nil, false
}

// AssetInfo is the node view of an asset.
type AssetInfo struct {
	ID      uint64         `json:"index"`
	Creator crypto.Address `json:"creator"`
	Params  AssetParams    `json:"params"`
}

// AppInfo is the node view of an application.
type AppInfo struct {
	ID          uint64         `json:"id"`
	Creator     crypto.Address `json:"creator"`
	Program     string         `json:"program"`
	Address     crypto.Address `json:"address"`
	GlobalState StateMap       `json:"global-state"`
}

// BoxInfo is a single application sub-record.
type BoxInfo struct {
	AppID uint64 `json:"app"`
	Name  []byte `json:"name"`
	Value []byte `json:"value"`
}

// NodeStatus summarises the ledger tip.
type NodeStatus struct {
	LastRound     uint64 `json:"last-round"`
	LastTimestamp int64  `json:"last-timestamp"`
	GenesisID     string `json:"genesis-id"`
	PendingGroups int    `json:"pending-groups"`
}

// SuggestedParams carries the values a client needs to build a transaction.
type SuggestedParams struct {
	MinFee     uint64 `json:"min-fee"`
	FirstValid uint64 `json:"first-valid"`
	LastValid  uint64 `json:"last-valid"`
	GenesisID  string `json:"genesis-id"`
}

// PendingTxn reports what the node knows about a submitted transaction.
type PendingTxn struct {
	TxID             TxID          `json:"txid"`
	ConfirmedRound   uint64        `json:"confirmed-round,omitempty"`
	PoolError        string        `json:"pool-error,omitempty"`
	Logs             [][]byte      `json:"logs,omitempty"`
	InnerTxns        []Transaction `json:"inner-txns,omitempty"`
	ApplicationIndex uint64        `json:"application-index,omitempty"`
	AssetIndex       uint64        `json:"asset-index,omitempty"`
}

// Confirmed reports whether the transaction landed in a round.
func (p *PendingTxn) Confirmed() bool { return p != nil && p.ConfirmedRound > 0 }

// SimulatedTxn is the outcome of one outer transaction during simulation.
type SimulatedTxn struct {
	TxID             TxID     `json:"txid"`
	Logs             [][]byte `json:"logs,omitempty"`
	InnerCount       int      `json:"inner-count,omitempty"`
	ApplicationIndex uint64   `json:"application-index,omitempty"`
	AssetIndex       uint64   `json:"asset-index,omitempty"`
}

// SimulateResult is the outcome of simulating a group. FailedAt is -1 when
// the whole group would succeed.
type SimulateResult struct {
	Round          uint64         `json:"round"`
	TxnResults     []SimulatedTxn `json:"txn-results"`
	FailedAt       int            `json:"failed-at"`
	FailureMessage string         `json:"failure-message,omitempty"`
}

// Failed reports whether the simulated group would be rejected.
func (r *SimulateResult) Failed() bool { return r != nil && r.FailedAt >= 0 }
