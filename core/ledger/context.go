package ledger

import (
	"fmt"

	"confio/core/state"
	"confio/core/types"
	"confio/crypto"
)

// Program is the native implementation behind an application. Execute runs
// once per application call; returning an error rejects the whole group.
type Program interface {
	Execute(ctx *Context) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx *Context) error

// Execute implements Program.
func (f ProgramFunc) Execute(ctx *Context) error { return f(ctx) }

// Context is the view an application has of the ledger while it executes.
// Account, asset and sub-record access is limited to what the group
// references.
type Context struct {
	e      *evaluator
	index  int
	tx     *types.Transaction
	app    *state.App
	create bool
}

// Txn returns the application call being executed.
func (c *Context) Txn() *types.Transaction { return c.tx }

// Sender is the caller of the application.
func (c *Context) Sender() crypto.Address { return c.tx.Sender }

// GroupIndex is the position of the call within its group.
func (c *Context) GroupIndex() int { return c.index }

// GroupSize is the number of outer transactions in the group.
func (c *Context) GroupSize() int { return len(c.e.txns) }

// GroupTxn returns the outer transaction at index i.
func (c *Context) GroupTxn(i int) (*types.Transaction, error) {
	if i < 0 || i >= len(c.e.txns) {
		return nil, fmt.Errorf("group index %d out of range (size %d)", i, len(c.e.txns))
	}
	return c.e.txns[i], nil
}

// AppID is the identifier of the executing application.
func (c *Context) AppID() uint64 { return c.app.ID }

// AppAddress is the escrow address of the executing application.
func (c *Context) AppAddress() crypto.Address { return types.ApplicationAddress(c.app.ID) }

// Creator is the account that created the application.
func (c *Context) Creator() crypto.Address { return c.app.Creator }

// IsCreate reports whether this call creates the application.
func (c *Context) IsCreate() bool { return c.create }

// OnCompletion is the lifecycle action of the call.
func (c *Context) OnCompletion() types.OnCompletion { return c.tx.OnCompletion }

// Round is the round the group is evaluated in.
func (c *Context) Round() uint64 { return c.e.opts.round }

// Timestamp is the unix time of the round, in seconds.
func (c *Context) Timestamp() uint64 { return c.e.opts.timestamp }

// NumArgs returns the number of application arguments.
func (c *Context) NumArgs() int { return len(c.tx.ApplicationArgs) }

// Arg returns application argument i, or nil when absent.
func (c *Context) Arg(i int) []byte {
	if i < 0 || i >= len(c.tx.ApplicationArgs) {
		return nil
	}
	return c.tx.ApplicationArgs[i]
}

// Account returns entry i of the call's accounts array.
func (c *Context) Account(i int) (crypto.Address, error) {
	if i < 0 || i >= len(c.tx.Accounts) {
		return crypto.ZeroAddress, fmt.Errorf("accounts slot %d not provided", i)
	}
	return c.tx.Accounts[i], nil
}

// --- global state ---

// GlobalGet reads a global state cell.
func (c *Context) GlobalGet(key string) (types.StateValue, bool) {
	v, ok := c.app.Global[key]
	return v, ok
}

// GlobalUint reads an integer global, zero when unset.
func (c *Context) GlobalUint(key string) uint64 { return c.app.Global.Uint(key) }

// GlobalBytes reads a byte string global, nil when unset.
func (c *Context) GlobalBytes(key string) []byte { return c.app.Global.Bytes(key) }

// GlobalAddress reads an address global, zero when unset.
func (c *Context) GlobalAddress(key string) crypto.Address { return c.app.Global.Address(key) }

// GlobalPut writes a global state cell.
func (c *Context) GlobalPut(key string, v types.StateValue) {
	c.app.Global[key] = v.Clone()
}

// SetGlobalUint writes an integer global.
func (c *Context) SetGlobalUint(key string, v uint64) { c.GlobalPut(key, types.UintValue(v)) }

// SetGlobalAddress writes an address global.
func (c *Context) SetGlobalAddress(key string, addr crypto.Address) {
	c.GlobalPut(key, types.AddressValue(addr))
}

// GlobalDelete removes a global state cell.
func (c *Context) GlobalDelete(key string) { delete(c.app.Global, key) }

// --- local state ---

func (c *Context) local(addr crypto.Address) (types.StateMap, error) {
	if !c.e.accountAvailable(addr) {
		return nil, fmt.Errorf("unavailable Account %s", addr)
	}
	local, ok := c.e.ov.Account(addr).Locals[c.app.ID]
	if !ok {
		return nil, fmt.Errorf("account %s is not opted in to app %d", addr, c.app.ID)
	}
	return local, nil
}

// OptedIn reports whether addr holds local state for the application.
func (c *Context) OptedIn(addr crypto.Address) (bool, error) {
	if !c.e.accountAvailable(addr) {
		return false, fmt.Errorf("unavailable Account %s", addr)
	}
	_, ok := c.e.ov.Account(addr).Locals[c.app.ID]
	return ok, nil
}

// LocalGet reads a local state cell of addr.
func (c *Context) LocalGet(addr crypto.Address, key string) (types.StateValue, bool, error) {
	local, err := c.local(addr)
	if err != nil {
		return types.StateValue{}, false, err
	}
	v, ok := local[key]
	return v, ok, nil
}

// LocalUint reads an integer local, zero when unset.
func (c *Context) LocalUint(addr crypto.Address, key string) (uint64, error) {
	local, err := c.local(addr)
	if err != nil {
		return 0, err
	}
	return local.Uint(key), nil
}

// LocalPut writes a local state cell of addr.
func (c *Context) LocalPut(addr crypto.Address, key string, v types.StateValue) error {
	local, err := c.local(addr)
	if err != nil {
		return err
	}
	local[key] = v.Clone()
	return nil
}

// SetLocalUint writes an integer local.
func (c *Context) SetLocalUint(addr crypto.Address, key string, v uint64) error {
	return c.LocalPut(addr, key, types.UintValue(v))
}

// --- sub-records ---

func (c *Context) checkBox(name []byte) error {
	if len(name) == 0 || len(name) > c.e.cfg.MaxBoxName {
		return fmt.Errorf("box name length %d outside 1..%d", len(name), c.e.cfg.MaxBoxName)
	}
	if !c.e.boxAvailable(c.app.ID, name, c.index, c.app.ID) {
		return fmt.Errorf("invalid Box reference %x", name)
	}
	return nil
}

// BoxGet reads a sub-record of the application.
func (c *Context) BoxGet(name []byte) ([]byte, bool, error) {
	if err := c.checkBox(name); err != nil {
		return nil, false, err
	}
	v, ok := c.e.ov.Box(c.app.ID, name)
	return v, ok, nil
}

// BoxCreate creates a sub-record. Creating an existing name fails.
func (c *Context) BoxCreate(name, value []byte) error {
	if err := c.checkBox(name); err != nil {
		return err
	}
	if len(value) > c.e.cfg.MaxBoxSize {
		return fmt.Errorf("box size %d exceeds %d", len(value), c.e.cfg.MaxBoxSize)
	}
	if _, ok := c.e.ov.Box(c.app.ID, name); ok {
		return fmt.Errorf("box %x already exists", name)
	}
	c.e.ov.PutBox(c.app.ID, name, value)
	acct := c.e.ov.Account(c.AppAddress())
	acct.BoxReserve += c.e.cfg.Requirements.BoxCost(len(name), len(value))
	return nil
}

// BoxPut replaces the value of an existing sub-record. The size is fixed at
// creation.
func (c *Context) BoxPut(name, value []byte) error {
	if err := c.checkBox(name); err != nil {
		return err
	}
	current, ok := c.e.ov.Box(c.app.ID, name)
	if !ok {
		return fmt.Errorf("box %x does not exist", name)
	}
	if len(current) != len(value) {
		return fmt.Errorf("box %x size %d cannot change to %d", name, len(current), len(value))
	}
	c.e.ov.PutBox(c.app.ID, name, value)
	return nil
}

// BoxDelete removes a sub-record and releases its reserve.
func (c *Context) BoxDelete(name []byte) error {
	if err := c.checkBox(name); err != nil {
		return err
	}
	current, ok := c.e.ov.Box(c.app.ID, name)
	if !ok {
		return fmt.Errorf("box %x does not exist", name)
	}
	c.e.ov.DeleteBox(c.app.ID, name)
	acct := c.e.ov.Account(c.AppAddress())
	cost := c.e.cfg.Requirements.BoxCost(len(name), len(current))
	if acct.BoxReserve < cost {
		acct.BoxReserve = 0
	} else {
		acct.BoxReserve -= cost
	}
	return nil
}

// --- accounts and assets ---

// AssetParams returns the parameters of a referenced asset.
func (c *Context) AssetParams(id uint64) (types.AssetParams, error) {
	if !c.e.assetAvailable(id) {
		return types.AssetParams{}, fmt.Errorf("unavailable Asset %d", id)
	}
	asset := c.e.ov.Asset(id)
	if asset == nil {
		return types.AssetParams{}, fmt.Errorf("asset %d does not exist", id)
	}
	return asset.Params, nil
}

// AssetHolding returns addr's holding of asset id; ok is false when addr
// has not opted in.
func (c *Context) AssetHolding(addr crypto.Address, id uint64) (state.Holding, bool, error) {
	if !c.e.accountAvailable(addr) {
		return state.Holding{}, false, fmt.Errorf("unavailable Account %s", addr)
	}
	if !c.e.assetAvailable(id) {
		return state.Holding{}, false, fmt.Errorf("unavailable Asset %d", id)
	}
	h, ok := c.e.ov.Account(addr).Holdings[id]
	return h, ok, nil
}

// Balance returns the native balance of addr.
func (c *Context) Balance(addr crypto.Address) (uint64, error) {
	if !c.e.accountAvailable(addr) {
		return 0, fmt.Errorf("unavailable Account %s", addr)
	}
	return c.e.ov.Account(addr).Balance, nil
}

// MinBalance returns the minimum balance addr must keep.
func (c *Context) MinBalance(addr crypto.Address) (uint64, error) {
	if !c.e.accountAvailable(addr) {
		return 0, fmt.Errorf("unavailable Account %s", addr)
	}
	return c.e.ov.Account(addr).MinBalance(c.e.cfg.Requirements), nil
}

// Submit executes an inner transaction with the application address as
// sender. Its fee is drawn from the group's pooled fee credit.
func (c *Context) Submit(inner *types.Transaction) error {
	if inner == nil {
		return fmt.Errorf("inner transaction required")
	}
	return c.e.submitInner(c.index, c.AppAddress(), inner)
}

// Log appends a log line to the call's output.
func (c *Context) Log(line []byte) error {
	res := &c.e.results[c.index]
	if len(res.Logs) >= c.e.cfg.MaxLogs {
		return fmt.Errorf("too many log calls (limit %d)", c.e.cfg.MaxLogs)
	}
	size := len(line)
	for _, l := range res.Logs {
		size += len(l)
	}
	if size > c.e.cfg.MaxLogBytes {
		return fmt.Errorf("total log size %d exceeds %d bytes", size, c.e.cfg.MaxLogBytes)
	}
	res.Logs = append(res.Logs, append([]byte(nil), line...))
	return nil
}
