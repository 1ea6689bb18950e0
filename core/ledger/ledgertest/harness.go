// Package ledgertest wires an in-memory ledger for program tests.
package ledgertest

import (
	"sync"
	"testing"
	"time"

	"confio/core/ledger"
	"confio/core/state"
	"confio/core/types"
	"confio/crypto"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Harness is a dev-mode ledger with helpers for funding, asset creation and
// group submission.
type Harness struct {
	t      testing.TB
	Ledger *ledger.Ledger
	Clock  *Clock
}

// Genesis is the clock origin used by New.
var Genesis = time.Unix(1_700_000_000, 0).UTC()

// New returns a harness with programs registered.
func New(t testing.TB, programs map[string]ledger.Program) *Harness {
	t.Helper()
	store, err := state.Open(nil)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	clock := NewClock(Genesis)
	l := ledger.New(store, ledger.DefaultConfig(), ledger.WithClock(clock.Now))
	for name, p := range programs {
		l.Register(name, p)
	}
	return &Harness{t: t, Ledger: l, Clock: clock}
}

// Account creates a funded key.
func (h *Harness) Account(funds uint64) *crypto.PrivateKey {
	h.t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		h.t.Fatalf("generate key: %v", err)
	}
	if funds > 0 {
		if err := h.Ledger.Fund(key.Address(), funds); err != nil {
			h.t.Fatalf("fund: %v", err)
		}
	}
	return key
}

// Base returns a transaction skeleton with a valid window and the minimum fee.
func (h *Harness) Base(kind types.TxType, sender crypto.Address) *types.Transaction {
	sp := h.Ledger.SuggestedParams()
	return &types.Transaction{
		Type:       kind,
		Sender:     sender,
		Fee:        sp.MinFee,
		FirstValid: sp.FirstValid,
		LastValid:  sp.LastValid,
		GenesisID:  sp.GenesisID,
	}
}

// Pay builds a payment.
func (h *Harness) Pay(from, to crypto.Address, amount uint64) *types.Transaction {
	tx := h.Base(types.PaymentTx, from)
	tx.Receiver = to
	tx.Amount = amount
	return tx
}

// Xfer builds an asset transfer.
func (h *Harness) Xfer(from, to crypto.Address, asset, amount uint64) *types.Transaction {
	tx := h.Base(types.AssetTransferTx, from)
	tx.XferAsset = asset
	tx.AssetReceiver = to
	tx.AssetAmount = amount
	return tx
}

// Call builds an application call with string-keyed method selector.
func (h *Harness) Call(from crypto.Address, app uint64, args ...[]byte) *types.Transaction {
	tx := h.Base(types.ApplicationCallTx, from)
	tx.ApplicationID = app
	tx.ApplicationArgs = args
	return tx
}

// Sign assigns a group id and signs txns with keys (index aligned).
func (h *Harness) Sign(txns []*types.Transaction, keys []*crypto.PrivateKey) []types.SignedTxn {
	h.t.Helper()
	if len(txns) != len(keys) {
		h.t.Fatalf("sign: %d transactions but %d keys", len(txns), len(keys))
	}
	if _, err := types.AssignGroupID(txns); err != nil {
		h.t.Fatalf("group: %v", err)
	}
	group := make([]types.SignedTxn, len(txns))
	for i, tx := range txns {
		stx, err := types.SignTransaction(tx, keys[i], crypto.ZeroAddress)
		if err != nil {
			h.t.Fatalf("sign %d: %v", i, err)
		}
		group[i] = *stx
	}
	return group
}

// Send signs txns with keys and submits them as one group.
func (h *Harness) Send(txns []*types.Transaction, keys []*crypto.PrivateKey) (types.PendingTxn, error) {
	h.t.Helper()
	id, err := h.Ledger.Submit(h.Sign(txns, keys))
	if err != nil {
		return types.PendingTxn{}, err
	}
	info, err := h.Ledger.PendingInfo(id)
	if err != nil {
		h.t.Fatalf("pending info: %v", err)
	}
	return info, nil
}

// MustSend is Send that fails the test on rejection.
func (h *Harness) MustSend(txns []*types.Transaction, keys []*crypto.PrivateKey) types.PendingTxn {
	h.t.Helper()
	info, err := h.Send(txns, keys)
	if err != nil {
		h.t.Fatalf("submit: %v", err)
	}
	return info
}

// CreateAsset creates an asset owned by creator and returns its id.
func (h *Harness) CreateAsset(creator *crypto.PrivateKey, params types.AssetParams) uint64 {
	h.t.Helper()
	tx := h.Base(types.AssetConfigTx, creator.Address())
	tx.AssetParams = params
	info := h.MustSend([]*types.Transaction{tx}, []*crypto.PrivateKey{creator})
	if info.AssetIndex == 0 {
		h.t.Fatalf("asset not created")
	}
	return info.AssetIndex
}

// CreateApp creates an application running program and returns its id.
func (h *Harness) CreateApp(creator *crypto.PrivateKey, program string, args ...[]byte) uint64 {
	h.t.Helper()
	tx := h.Call(creator.Address(), 0, args...)
	tx.Program = program
	info := h.MustSend([]*types.Transaction{tx}, []*crypto.PrivateKey{creator})
	if info.ApplicationIndex == 0 {
		h.t.Fatalf("application not created")
	}
	return info.ApplicationIndex
}

// OptInApp opts key into the local state of app.
func (h *Harness) OptInApp(key *crypto.PrivateKey, app uint64) {
	h.t.Helper()
	tx := h.Call(key.Address(), app)
	tx.OnCompletion = types.OptIn
	h.MustSend([]*types.Transaction{tx}, []*crypto.PrivateKey{key})
}

// OptIn opts key into asset.
func (h *Harness) OptIn(key *crypto.PrivateKey, asset uint64) {
	h.t.Helper()
	h.MustSend([]*types.Transaction{h.Xfer(key.Address(), key.Address(), asset, 0)}, []*crypto.PrivateKey{key})
}

// Holding returns the asset amount held by addr.
func (h *Harness) Holding(addr crypto.Address, asset uint64) uint64 {
	info := h.Ledger.AccountInfo(addr)
	holding, _ := info.Holding(asset)
	return holding.Amount
}

// Frozen reports whether addr's holding of asset is frozen.
func (h *Harness) Frozen(addr crypto.Address, asset uint64) bool {
	info := h.Ledger.AccountInfo(addr)
	holding, _ := info.Holding(asset)
	return holding.Frozen
}

// Global returns the global state of app.
func (h *Harness) Global(app uint64) types.StateMap {
	h.t.Helper()
	info, err := h.Ledger.AppInfo(app)
	if err != nil {
		h.t.Fatalf("app info: %v", err)
	}
	return info.GlobalState
}

// Local returns addr's local state for app.
func (h *Harness) Local(addr crypto.Address, app uint64) types.StateMap {
	info := h.Ledger.AccountInfo(addr)
	local, _ := info.LocalState(app)
	return local
}
