package ledger

import (
	"errors"
	"fmt"

	"confio/core/state"
	"confio/core/types"
	"confio/crypto"
)

type evalOptions struct {
	round          uint64
	timestamp      uint64
	allowEmptySigs bool
}

// evaluator applies one atomic group to an overlay.
type evaluator struct {
	l    *Ledger
	cfg  Config
	ov   *state.Overlay
	opts evalOptions

	group []types.SignedTxn
	txns  []*types.Transaction
	ids   []types.TxID

	feeCredit  uint64
	innerTotal int

	accounts map[crypto.Address]struct{}
	assets   map[uint64]struct{}
	apps     map[uint64]struct{}

	results  []types.SimulatedTxn
	inners   [][]types.Transaction
	programs []string
}

func (l *Ledger) newEvaluator(ov *state.Overlay, group []types.SignedTxn, opts evalOptions) *evaluator {
	e := &evaluator{
		l:        l,
		cfg:      l.cfg,
		ov:       ov,
		opts:     opts,
		group:    group,
		accounts: make(map[crypto.Address]struct{}),
		assets:   make(map[uint64]struct{}),
		apps:     make(map[uint64]struct{}),
	}
	e.txns = make([]*types.Transaction, len(group))
	e.ids = make([]types.TxID, len(group))
	e.results = make([]types.SimulatedTxn, len(group))
	e.inners = make([][]types.Transaction, len(group))
	e.programs = make([]string, len(group))
	for i := range group {
		e.txns[i] = group[i].Txn.Clone()
		e.ids[i] = e.txns[i].MustID()
		e.results[i].TxID = e.ids[i]
	}
	return e
}

func (e *evaluator) fail(index int, err error) *EvalError {
	var id types.TxID
	if index >= 0 && index < len(e.ids) {
		id = e.ids[index]
	}
	evalErr := &EvalError{GroupIndex: index, TxID: id, Message: err.Error()}
	if index >= 0 && index < len(e.results) {
		evalErr.Logs = e.results[index].Logs
	}
	return evalErr
}

// run evaluates the whole group. The overlay holds the group's writes when it
// returns nil.
func (e *evaluator) run() error {
	if len(e.group) == 0 {
		return ErrEmptyGroup
	}
	if len(e.group) > types.MaxGroupSize {
		return e.fail(0, fmt.Errorf("group size %d exceeds limit %d", len(e.group), types.MaxGroupSize))
	}
	if err := e.checkGroupID(); err != nil {
		return err
	}
	var total uint64
	for i, tx := range e.txns {
		if err := e.checkWellFormed(tx); err != nil {
			return e.fail(i, err)
		}
		if total+tx.Fee < total {
			return e.fail(i, fmt.Errorf("fee overflow"))
		}
		total += tx.Fee
	}
	required := e.cfg.MinFee * uint64(len(e.txns))
	if total < required {
		return e.fail(0, fmt.Errorf("fee too small: group pays %d, requires %d", total, required))
	}
	e.feeCredit = total - required
	e.collectReferences()

	for i := range e.txns {
		if err := e.applyOuter(i); err != nil {
			return e.fail(i, err)
		}
	}
	// Minimum balances hold at group boundaries only.
	if err := e.checkMinBalances(); err != nil {
		return e.fail(len(e.txns)-1, err)
	}
	return nil
}

func (e *evaluator) checkGroupID() error {
	gid, err := types.ComputeGroupID(e.txns)
	if err != nil {
		return e.fail(0, err)
	}
	for i, tx := range e.txns {
		if len(e.txns) == 1 && tx.Group == ([32]byte{}) {
			continue
		}
		if tx.Group != gid {
			return e.fail(i, fmt.Errorf("incomplete group: group id does not match transactions"))
		}
	}
	return nil
}

func (e *evaluator) checkWellFormed(tx *types.Transaction) error {
	switch tx.Type {
	case types.PaymentTx, types.AssetTransferTx, types.AssetFreezeTx, types.AssetConfigTx, types.ApplicationCallTx:
	default:
		return fmt.Errorf("unknown transaction type %q", tx.Type)
	}
	if tx.Sender.IsZero() {
		return fmt.Errorf("transaction has zero sender")
	}
	if tx.GenesisID != "" && tx.GenesisID != e.cfg.GenesisID {
		return fmt.Errorf("genesis id mismatch: %q", tx.GenesisID)
	}
	if tx.LastValid < tx.FirstValid {
		return fmt.Errorf("transaction invalid range (%d--%d)", tx.FirstValid, tx.LastValid)
	}
	if tx.LastValid-tx.FirstValid > e.cfg.MaxTxnLife {
		return fmt.Errorf("transaction window size %d exceeds max lifetime %d", tx.LastValid-tx.FirstValid, e.cfg.MaxTxnLife)
	}
	if e.opts.round < tx.FirstValid {
		return fmt.Errorf("txn not yet valid: round %d before first valid %d", e.opts.round, tx.FirstValid)
	}
	if e.opts.round > tx.LastValid {
		return fmt.Errorf("txn dead: round %d outside of %d--%d", e.opts.round, tx.FirstValid, tx.LastValid)
	}
	return nil
}

// collectReferences pools the resources every application call in the group
// may touch.
func (e *evaluator) collectReferences() {
	for _, tx := range e.txns {
		for _, addr := range []crypto.Address{tx.Sender, tx.Receiver, tx.CloseRemainderTo, tx.AssetSender,
			tx.AssetReceiver, tx.AssetCloseTo, tx.FreezeAccount, tx.RekeyTo} {
			e.addAccount(addr)
		}
		for _, addr := range tx.Accounts {
			e.addAccount(addr)
		}
		for _, id := range []uint64{tx.XferAsset, tx.FreezeAsset, tx.ConfigAsset} {
			if id != 0 {
				e.assets[id] = struct{}{}
			}
		}
		for _, id := range tx.ForeignAssets {
			e.assets[id] = struct{}{}
		}
		if tx.ApplicationID != 0 {
			e.addApp(tx.ApplicationID)
		}
		for _, id := range tx.ForeignApps {
			e.addApp(id)
		}
	}
}

func (e *evaluator) addAccount(addr crypto.Address) {
	if !addr.IsZero() {
		e.accounts[addr] = struct{}{}
	}
}

func (e *evaluator) addApp(id uint64) {
	e.apps[id] = struct{}{}
	e.accounts[types.ApplicationAddress(id)] = struct{}{}
}

func (e *evaluator) accountAvailable(addr crypto.Address) bool {
	_, ok := e.accounts[addr]
	return ok
}

func (e *evaluator) assetAvailable(id uint64) bool {
	_, ok := e.assets[id]
	return ok
}

func (e *evaluator) appAvailable(id uint64) bool {
	_, ok := e.apps[id]
	return ok
}

// boxAvailable reports whether any transaction in the group references the
// named sub-record of app. A zero app in a reference means the calling app.
func (e *evaluator) boxAvailable(app uint64, name []byte, current int, currentApp uint64) bool {
	for i, tx := range e.txns {
		owner := tx.ApplicationID
		if i == current {
			owner = currentApp
		}
		for _, ref := range tx.Boxes {
			target := ref.App
			if target == 0 {
				target = owner
			}
			if target == app && string(ref.Name) == string(name) {
				return true
			}
		}
	}
	return false
}

func (e *evaluator) checkAuth(i int) error {
	stx := &e.group[i]
	tx := e.txns[i]
	acct := e.ov.Account(tx.Sender)
	expected := tx.Sender
	if !acct.AuthAddr.IsZero() {
		expected = acct.AuthAddr
	}
	signer := tx.Sender
	if !stx.AuthAddr.IsZero() {
		signer = stx.AuthAddr
	}
	if signer != expected {
		return fmt.Errorf("should have been authorized by %s but was actually authorized by %s", expected, signer)
	}
	if len(stx.Sig) == 0 && e.opts.allowEmptySigs {
		return nil
	}
	msg, err := tx.SignBytes()
	if err != nil {
		return err
	}
	if !crypto.Verify(signer, msg, stx.Sig) {
		return fmt.Errorf("signature validation failed for %s", signer)
	}
	return nil
}

func (e *evaluator) applyOuter(i int) error {
	tx := e.txns[i]
	if err := e.checkAuth(i); err != nil {
		return err
	}
	sender := e.ov.Account(tx.Sender)
	if sender.Balance < tx.Fee {
		return fmt.Errorf("overspend (account %s, balance %d, fee %d)", tx.Sender, sender.Balance, tx.Fee)
	}
	sender.Balance -= tx.Fee

	var err error
	switch tx.Type {
	case types.ApplicationCallTx:
		err = e.applyAppCall(i, tx)
	default:
		err = e.applyTxn(i, tx)
	}
	if err != nil {
		return err
	}
	if !tx.RekeyTo.IsZero() {
		acct := e.ov.Account(tx.Sender)
		if tx.RekeyTo == tx.Sender {
			acct.AuthAddr = crypto.ZeroAddress
		} else {
			acct.AuthAddr = tx.RekeyTo
		}
	}
	return nil
}

func (e *evaluator) applyTxn(i int, tx *types.Transaction) error {
	switch tx.Type {
	case types.PaymentTx:
		return e.applyPayment(tx)
	case types.AssetTransferTx:
		return e.applyAssetTransfer(tx)
	case types.AssetFreezeTx:
		return e.applyAssetFreeze(tx)
	case types.AssetConfigTx:
		return e.applyAssetConfig(i, tx)
	default:
		return fmt.Errorf("unsupported transaction type %q", tx.Type)
	}
}

func (e *evaluator) checkMinBalances() error {
	for _, addr := range e.ov.Touched() {
		acct := e.ov.Account(addr)
		if acct.Empty() {
			continue
		}
		if min := acct.MinBalance(e.cfg.Requirements); acct.Balance < min {
			return fmt.Errorf("account %s balance %d below min %d", addr, acct.Balance, min)
		}
	}
	return nil
}

func credit(acct *state.Account, amount uint64) error {
	if acct.Balance+amount < acct.Balance {
		return errors.New("balance overflow")
	}
	acct.Balance += amount
	return nil
}

func (e *evaluator) applyPayment(tx *types.Transaction) error {
	sender := e.ov.Account(tx.Sender)
	if sender.Balance < tx.Amount {
		return fmt.Errorf("overspend (account %s, balance %d, amount %d)", tx.Sender, sender.Balance, tx.Amount)
	}
	sender.Balance -= tx.Amount
	if err := credit(e.ov.Account(tx.Receiver), tx.Amount); err != nil {
		return err
	}
	if tx.CloseRemainderTo.IsZero() {
		return nil
	}
	if len(sender.Holdings) > 0 || len(sender.Locals) > 0 || len(sender.CreatedApps) > 0 || sender.BoxReserve > 0 {
		return fmt.Errorf("cannot close account %s with active holdings or applications", tx.Sender)
	}
	rest := sender.Balance
	sender.Balance = 0
	sender.AuthAddr = crypto.ZeroAddress
	return credit(e.ov.Account(tx.CloseRemainderTo), rest)
}

func (e *evaluator) applyAssetTransfer(tx *types.Transaction) error {
	id := tx.XferAsset
	asset := e.ov.Asset(id)
	if asset == nil {
		return fmt.Errorf("asset %d does not exist", id)
	}
	if tx.AssetSender.IsZero() && tx.AssetReceiver == tx.Sender && tx.AssetAmount == 0 && tx.AssetCloseTo.IsZero() {
		acct := e.ov.Account(tx.Sender)
		if _, ok := acct.Holdings[id]; !ok {
			acct.Holdings[id] = state.Holding{Frozen: asset.Params.DefaultFrozen}
		}
		return nil
	}

	from := tx.Sender
	clawback := false
	if !tx.AssetSender.IsZero() {
		if asset.Params.Clawback.IsZero() || tx.Sender != asset.Params.Clawback {
			return fmt.Errorf("clawback not allowed: sender %s is not the clawback address of asset %d", tx.Sender, id)
		}
		if !tx.AssetCloseTo.IsZero() {
			return fmt.Errorf("clawback cannot close out holdings")
		}
		from = tx.AssetSender
		clawback = true
	}

	src := e.ov.Account(from)
	srcHolding, ok := src.Holdings[id]
	if !ok {
		return fmt.Errorf("asset %d missing from %s", id, from)
	}
	dst := e.ov.Account(tx.AssetReceiver)
	dstHolding, ok := dst.Holdings[id]
	if !ok {
		return fmt.Errorf("asset %d missing from %s", id, tx.AssetReceiver)
	}
	if !clawback {
		if srcHolding.Frozen {
			return fmt.Errorf("asset %d frozen in %s", id, from)
		}
		if dstHolding.Frozen {
			return fmt.Errorf("asset %d frozen in %s", id, tx.AssetReceiver)
		}
	}
	if srcHolding.Amount < tx.AssetAmount {
		return fmt.Errorf("underflow on subtracting %d from sender amount %d", tx.AssetAmount, srcHolding.Amount)
	}
	srcHolding.Amount -= tx.AssetAmount
	src.Holdings[id] = srcHolding
	dstHolding = dst.Holdings[id]
	if dstHolding.Amount+tx.AssetAmount < dstHolding.Amount {
		return fmt.Errorf("overflow on adding %d to receiver amount", tx.AssetAmount)
	}
	dstHolding.Amount += tx.AssetAmount
	dst.Holdings[id] = dstHolding

	if clawback || tx.AssetCloseTo.IsZero() {
		return nil
	}
	if from == asset.Creator {
		return fmt.Errorf("cannot close asset %d holding of its creator", id)
	}
	closeTo := e.ov.Account(tx.AssetCloseTo)
	closeHolding, ok := closeTo.Holdings[id]
	if !ok {
		return fmt.Errorf("asset %d missing from %s", id, tx.AssetCloseTo)
	}
	if closeHolding.Frozen {
		return fmt.Errorf("asset %d frozen in %s", id, tx.AssetCloseTo)
	}
	rest := src.Holdings[id].Amount
	delete(src.Holdings, id)
	closeHolding = closeTo.Holdings[id]
	closeHolding.Amount += rest
	closeTo.Holdings[id] = closeHolding
	return nil
}

func (e *evaluator) applyAssetFreeze(tx *types.Transaction) error {
	id := tx.FreezeAsset
	asset := e.ov.Asset(id)
	if asset == nil {
		return fmt.Errorf("asset %d does not exist", id)
	}
	if asset.Params.Freeze.IsZero() || tx.Sender != asset.Params.Freeze {
		return fmt.Errorf("freeze not allowed: sender %s is not the freeze address of asset %d", tx.Sender, id)
	}
	acct := e.ov.Account(tx.FreezeAccount)
	holding, ok := acct.Holdings[id]
	if !ok {
		return fmt.Errorf("asset %d missing from %s", id, tx.FreezeAccount)
	}
	holding.Frozen = tx.AssetFrozen
	acct.Holdings[id] = holding
	return nil
}

func (e *evaluator) applyAssetConfig(i int, tx *types.Transaction) error {
	params := tx.AssetParams
	if tx.ConfigAsset == 0 {
		if params.Decimals > 19 {
			return fmt.Errorf("asset decimals %d exceed 19", params.Decimals)
		}
		if len(params.UnitName) > 8 || len(params.AssetName) > 32 {
			return fmt.Errorf("asset unit or name too long")
		}
		id := e.ov.AllocateID()
		e.ov.CreateAsset(&state.Asset{ID: id, Creator: tx.Sender, Params: params})
		creator := e.ov.Account(tx.Sender)
		creator.Holdings[id] = state.Holding{Amount: params.Total}
		creator.CreatedAssets = append(creator.CreatedAssets, id)
		e.assets[id] = struct{}{}
		if i >= 0 {
			e.results[i].AssetIndex = id
		}
		return nil
	}

	asset := e.ov.Asset(tx.ConfigAsset)
	if asset == nil {
		return fmt.Errorf("asset %d does not exist", tx.ConfigAsset)
	}
	if asset.Params.Manager.IsZero() {
		return fmt.Errorf("asset %d is not reconfigurable: manager cleared", asset.ID)
	}
	if tx.Sender != asset.Params.Manager {
		return fmt.Errorf("this transaction should be issued by the manager %s", asset.Params.Manager)
	}
	if params == (types.AssetParams{}) {
		creator := e.ov.Account(asset.Creator)
		holding := creator.Holdings[asset.ID]
		if holding.Amount != asset.Params.Total {
			return fmt.Errorf("cannot destroy asset %d: creator holds %d of %d", asset.ID, holding.Amount, asset.Params.Total)
		}
		delete(creator.Holdings, asset.ID)
		creator.CreatedAssets = removeID(creator.CreatedAssets, asset.ID)
		e.ov.DeleteAsset(asset.ID)
		return nil
	}
	update := func(field string, current *crypto.Address, next crypto.Address) error {
		if current.IsZero() && !next.IsZero() {
			return fmt.Errorf("cannot change %s of asset %d: field was cleared", field, asset.ID)
		}
		*current = next
		return nil
	}
	if err := update("manager", &asset.Params.Manager, params.Manager); err != nil {
		return err
	}
	if err := update("reserve", &asset.Params.Reserve, params.Reserve); err != nil {
		return err
	}
	if err := update("freeze", &asset.Params.Freeze, params.Freeze); err != nil {
		return err
	}
	return update("clawback", &asset.Params.Clawback, params.Clawback)
}

func (e *evaluator) applyAppCall(i int, tx *types.Transaction) error {
	var app *state.App
	create := tx.ApplicationID == 0
	if create {
		if _, ok := e.l.programs[tx.Program]; !ok {
			return fmt.Errorf("unknown program %q", tx.Program)
		}
		id := e.ov.AllocateID()
		app = &state.App{ID: id, Creator: tx.Sender, Program: tx.Program, Global: types.StateMap{}}
		e.ov.CreateApp(app)
		creator := e.ov.Account(tx.Sender)
		creator.CreatedApps = append(creator.CreatedApps, id)
		e.addApp(id)
		e.results[i].ApplicationIndex = id
	} else {
		app = e.ov.App(tx.ApplicationID)
		if app == nil {
			return fmt.Errorf("application %d does not exist", tx.ApplicationID)
		}
	}
	program, ok := e.l.programs[app.Program]
	if !ok {
		return fmt.Errorf("program %q is not registered", app.Program)
	}
	e.programs[i] = app.Program

	sender := e.ov.Account(tx.Sender)
	_, optedIn := sender.Locals[app.ID]
	switch tx.OnCompletion {
	case types.OptIn:
		if optedIn {
			return fmt.Errorf("account %s already opted in to app %d", tx.Sender, app.ID)
		}
		sender.Locals[app.ID] = types.StateMap{}
	case types.ClearState:
		if !optedIn {
			return fmt.Errorf("account %s is not opted in to app %d", tx.Sender, app.ID)
		}
		delete(sender.Locals, app.ID)
		return nil
	case types.CloseOut:
		if !optedIn {
			return fmt.Errorf("account %s is not opted in to app %d", tx.Sender, app.ID)
		}
	}

	ctx := &Context{e: e, index: i, tx: tx, app: app, create: create}
	if err := program.Execute(ctx); err != nil {
		return &programError{err: err}
	}

	switch tx.OnCompletion {
	case types.CloseOut:
		delete(e.ov.Account(tx.Sender).Locals, app.ID)
	case types.UpdateApplication:
		if tx.Program != "" {
			if _, ok := e.l.programs[tx.Program]; !ok {
				return fmt.Errorf("unknown program %q", tx.Program)
			}
			app.Program = tx.Program
		}
	case types.DeleteApplication:
		creator := e.ov.Account(app.Creator)
		creator.CreatedApps = removeID(creator.CreatedApps, app.ID)
		e.ov.DeleteApp(app.ID)
	}
	return nil
}

// submitInner executes a transaction issued by the application of outer
// transaction i.
func (e *evaluator) submitInner(i int, appAddr crypto.Address, inner *types.Transaction) error {
	switch inner.Type {
	case types.PaymentTx, types.AssetTransferTx, types.AssetFreezeTx:
	default:
		return fmt.Errorf("inner transaction type %q not allowed", inner.Type)
	}
	if e.innerTotal >= e.cfg.MaxInnerTxns {
		return fmt.Errorf("too many inner transactions (limit %d)", e.cfg.MaxInnerTxns)
	}
	if e.feeCredit < e.cfg.MinFee {
		return fmt.Errorf("fee too small: inner transaction needs %d of pooled fee credit, %d left", e.cfg.MinFee, e.feeCredit)
	}
	tx := inner.Clone()
	tx.Sender = appAddr
	tx.Fee = 0
	tx.Group = [32]byte{}
	if !tx.RekeyTo.IsZero() {
		return fmt.Errorf("inner transactions may not rekey")
	}
	for _, addr := range []crypto.Address{tx.Receiver, tx.CloseRemainderTo, tx.AssetSender, tx.AssetReceiver,
		tx.AssetCloseTo, tx.FreezeAccount} {
		if !addr.IsZero() && !e.accountAvailable(addr) {
			return fmt.Errorf("unavailable Account %s", addr)
		}
	}
	for _, id := range []uint64{tx.XferAsset, tx.FreezeAsset} {
		if id != 0 && !e.assetAvailable(id) {
			return fmt.Errorf("unavailable Asset %d", id)
		}
	}
	e.feeCredit -= e.cfg.MinFee
	e.innerTotal++
	if err := e.applyTxn(-1, tx); err != nil {
		return fmt.Errorf("inner tx %d failed: %w", len(e.inners[i]), err)
	}
	e.inners[i] = append(e.inners[i], *tx)
	e.results[i].InnerCount++
	return nil
}

func removeID(ids []uint64, id uint64) []uint64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
