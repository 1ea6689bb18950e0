package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"confio/core/events"
	"confio/core/state"
	"confio/core/types"
	"confio/crypto"
	"confio/observability"
)

type poolEntry struct {
	group []types.SignedTxn
	ids   []types.TxID
}

// Ledger is a deterministic single-process ledger hosting native programs.
// All methods are safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	cfg      Config
	store    *state.Store
	programs map[string]Program
	pool     []poolEntry
	txns     map[types.TxID]*types.PendingTxn
	newRound chan struct{}

	now     func() time.Time
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock injects the time source used for round timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithEmitter forwards committed contract logs to e.
func WithEmitter(e events.Emitter) Option {
	return func(l *Ledger) {
		if e != nil {
			l.emitter = e
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics attaches the Prometheus registry.
func WithMetrics(m *observability.LedgerMetrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New constructs a ledger over store.
func New(store *state.Store, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:      cfg.withDefaults(),
		store:    store,
		programs: make(map[string]Program),
		txns:     make(map[types.TxID]*types.PendingTxn),
		newRound: make(chan struct{}),
		now:      time.Now,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the ledger parameters.
func (l *Ledger) Config() Config { return l.cfg }

// Register installs a program under name. Applications created with that
// program name dispatch to it.
func (l *Ledger) Register(name string, p Program) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.programs[name] = p
}

// Fund credits addr out of thin air. It exists for genesis allocation on
// development networks.
func (l *Ledger) Fund(addr crypto.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ov := l.store.NewOverlay()
	if err := credit(ov.Account(addr), amount); err != nil {
		return err
	}
	return ov.Commit()
}

func (l *Ledger) timestamp() uint64 {
	ts := uint64(l.now().Unix())
	if last := l.store.Meta().Timestamp; ts < last {
		ts = last
	}
	return ts
}

func groupIDs(group []types.SignedTxn) ([]types.TxID, error) {
	ids := make([]types.TxID, len(group))
	for i := range group {
		id, err := group[i].Txn.ID()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// Submit validates a signed group against the current state and adds it to
// the pool. In dev mode the pool is committed immediately. It returns the id
// of the first transaction.
func (l *Ledger) Submit(group []types.SignedTxn) (types.TxID, error) {
	if len(group) == 0 {
		return types.TxID{}, ErrEmptyGroup
	}
	ids, err := groupIDs(group)
	if err != nil {
		return types.TxID{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		if known, ok := l.txns[id]; ok && known.PoolError == "" {
			return types.TxID{}, fmt.Errorf("%w: %s", ErrAlreadyInLedger, id)
		}
	}
	e := l.newEvaluator(l.store.NewOverlay(), group, evalOptions{
		round:     l.store.Meta().Round + 1,
		timestamp: l.timestamp(),
	})
	err = e.run()
	l.metrics.RecordGroup("submit", err, 0)
	if err != nil {
		return types.TxID{}, err
	}
	l.pool = append(l.pool, poolEntry{group: group, ids: ids})
	for _, id := range ids {
		l.txns[id] = &types.PendingTxn{TxID: id}
	}
	if l.cfg.DevMode {
		if _, err := l.produceLocked(); err != nil {
			return types.TxID{}, err
		}
	}
	return ids[0], nil
}

// ProduceBlock commits every pending group into a new round. Groups that no
// longer apply are dropped with a pool error.
func (l *Ledger) ProduceBlock() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.produceLocked()
}

func (l *Ledger) produceLocked() (uint64, error) {
	round := l.store.Meta().Round + 1
	ts := l.timestamp()
	for _, entry := range l.pool {
		ov := l.store.NewOverlay()
		e := l.newEvaluator(ov, entry.group, evalOptions{round: round, timestamp: ts})
		err := e.run()
		inner := 0
		for _, r := range e.results {
			inner += r.InnerCount
		}
		l.metrics.RecordGroup("commit", err, inner)
		if err != nil {
			for _, id := range entry.ids {
				l.txns[id].PoolError = err.Error()
			}
			l.logger.Warn("dropping pending group", slog.Uint64("round", round), slog.String("error", err.Error()))
			continue
		}
		if err := ov.Commit(); err != nil {
			return 0, fmt.Errorf("ledger: commit round %d: %w", round, err)
		}
		for i, id := range entry.ids {
			res := e.results[i]
			l.txns[id] = &types.PendingTxn{
				TxID:             id,
				ConfirmedRound:   round,
				Logs:             res.Logs,
				InnerTxns:        e.inners[i],
				ApplicationIndex: res.ApplicationIndex,
				AssetIndex:       res.AssetIndex,
			}
			l.emitLogs(round, id, e.txns[i], e.programs[i], res)
		}
	}
	l.pool = nil
	if err := l.store.AdvanceRound(ts); err != nil {
		return 0, fmt.Errorf("ledger: advance round: %w", err)
	}
	l.metrics.SetRound(round, 0)
	close(l.newRound)
	l.newRound = make(chan struct{})
	return round, nil
}

func (l *Ledger) emitLogs(round uint64, id types.TxID, tx *types.Transaction, program string, res types.SimulatedTxn) {
	appID := tx.ApplicationID
	if appID == 0 {
		appID = res.ApplicationIndex
	}
	for _, raw := range res.Logs {
		line, err := events.Parse(raw)
		if err != nil {
			continue
		}
		observability.Events().RecordLog(program, line.Verb)
		l.emitter.Emit(events.Committed{Round: round, TxID: id, AppID: appID, Line: line})
	}
}

// SimulateOptions tunes Simulate.
type SimulateOptions struct {
	// AllowEmptySignatures skips signature checks for unsigned transactions.
	AllowEmptySignatures bool
}

// Simulate evaluates a group against the current state without committing
// it.
func (l *Ledger) Simulate(group []types.SignedTxn, opts SimulateOptions) (*types.SimulateResult, error) {
	if len(group) == 0 {
		return nil, ErrEmptyGroup
	}
	if _, err := groupIDs(group); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	round := l.store.Meta().Round + 1
	e := l.newEvaluator(l.store.NewOverlay(), group, evalOptions{
		round:          round,
		timestamp:      l.timestamp(),
		allowEmptySigs: opts.AllowEmptySignatures,
	})
	err := e.run()
	l.metrics.RecordGroup("simulate", err, 0)
	result := &types.SimulateResult{Round: round, TxnResults: e.results, FailedAt: -1}
	if err != nil {
		var evalErr *EvalError
		if !errors.As(err, &evalErr) {
			return nil, err
		}
		result.FailedAt = evalErr.GroupIndex
		result.FailureMessage = evalErr.Message
	}
	return result, nil
}

// PendingInfo reports the status of a submitted transaction.
func (l *Ledger) PendingInfo(id types.TxID) (types.PendingTxn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.txns[id]
	if !ok {
		return types.PendingTxn{}, fmt.Errorf("%w: %s", ErrTxNotFound, id)
	}
	return *p, nil
}

// Status returns the ledger tip.
func (l *Ledger) Status() types.NodeStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Ledger) statusLocked() types.NodeStatus {
	meta := l.store.Meta()
	return types.NodeStatus{
		LastRound:     meta.Round,
		LastTimestamp: int64(meta.Timestamp),
		GenesisID:     l.cfg.GenesisID,
		PendingGroups: len(l.pool),
	}
}

// WaitForRoundAfter blocks until a round later than round is committed or
// ctx ends. It always returns the latest status.
func (l *Ledger) WaitForRoundAfter(ctx context.Context, round uint64) (types.NodeStatus, error) {
	for {
		l.mu.Lock()
		status := l.statusLocked()
		ch := l.newRound
		l.mu.Unlock()
		if status.LastRound > round {
			return status, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return status, ctx.Err()
		}
	}
}

// SuggestedParams returns the fee and validity window for new transactions.
func (l *Ledger) SuggestedParams() types.SuggestedParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	round := l.store.Meta().Round
	return types.SuggestedParams{
		MinFee:     l.cfg.MinFee,
		FirstValid: round,
		LastValid:  round + l.cfg.MaxTxnLife,
		GenesisID:  l.cfg.GenesisID,
	}
}

// AccountInfo returns the committed view of addr. Unknown addresses report a
// zero balance.
func (l *Ledger) AccountInfo(addr crypto.Address) types.AccountInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Account(addr).Info(addr, l.cfg.Requirements, l.store.Meta().Round)
}

// AssetInfo returns an asset's parameters.
func (l *Ledger) AssetInfo(id uint64) (types.AssetInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	asset := l.store.Asset(id)
	if asset == nil {
		return types.AssetInfo{}, fmt.Errorf("%w: %d", ErrAssetNotFound, id)
	}
	return types.AssetInfo{ID: asset.ID, Creator: asset.Creator, Params: asset.Params}, nil
}

// AppInfo returns an application's global state.
func (l *Ledger) AppInfo(id uint64) (types.AppInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	app := l.store.App(id)
	if app == nil {
		return types.AppInfo{}, fmt.Errorf("%w: %d", ErrAppNotFound, id)
	}
	return app.Info(), nil
}

// Box returns one sub-record of an application.
func (l *Ledger) Box(app uint64, name []byte) (types.BoxInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.store.Box(app, name)
	if !ok {
		return types.BoxInfo{}, fmt.Errorf("%w: app %d name %x", ErrBoxNotFound, app, name)
	}
	return types.BoxInfo{AppID: app, Name: append([]byte(nil), name...), Value: v}, nil
}

// BoxNames lists the sub-records of an application.
func (l *Ledger) BoxNames(app uint64) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.BoxNames(app)
}
