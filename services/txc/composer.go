// Package txc composes the atomic groups the asset control programs expect,
// applies the fee policy, signs, submits and waits for confirmation.
package txc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"confio/config"
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
	"confio/observability"
	"confio/observability/otel"
	"confio/rpc/nodeclient"
)

// Signer signs transactions for one ledger address.
type Signer interface {
	Address() crypto.Address
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.SignedTxn, error)
}

// Node is the slice of the ledger API the composer uses.
type Node interface {
	Status(ctx context.Context) (types.NodeStatus, error)
	WaitForBlockAfter(ctx context.Context, round uint64) (types.NodeStatus, error)
	SuggestedParams(ctx context.Context) (types.SuggestedParams, error)
	SendGroup(ctx context.Context, group []types.SignedTxn) (types.TxID, error)
	Simulate(ctx context.Context, group []types.SignedTxn, allowEmptySigs bool) (*types.SimulateResult, error)
	PendingInfo(ctx context.Context, id types.TxID) (types.PendingTxn, error)
}

var _ Node = (*nodeclient.Client)(nil)

// Payment is a payment sibling. A zero To pays the application.
type Payment struct {
	From   Signer
	To     crypto.Address
	Amount uint64
}

// AssetTransfer is an asset transfer sibling. A zero To sends to the
// application.
type AssetTransfer struct {
	From   Signer
	To     crypto.Address
	Asset  uint64
	Amount uint64
}

// Call describes one application call and the siblings it travels with.
type Call struct {
	Program string
	Method  string
	App     uint64
	// Args follow the method selector; uint64, string, []byte and
	// crypto.Address are accepted.
	Args     []any
	Accounts []crypto.Address
	Assets   []uint64
	Apps     []uint64
	Boxes    [][]byte
	Sender   Signer
	Payment  *Payment
	Transfer *AssetTransfer
	// Sponsor, when set, pays the fees of every transaction it does not
	// send through a zero-amount payment at the head of the group.
	Sponsor Signer
	Note    []byte
	// Actor is recorded in the journal.
	Actor string
}

// Action is the "<program>.<method>" name of the call.
func (c Call) Action() string { return action(c.Program, c.Method) }

// Group is a composed group ready to be signed. Its transactions carry the
// group id.
type Group struct {
	Operation string
	Mode      config.FeeMode
	ID        [32]byte
	Txns      []*types.Transaction
	Actor     string
	callIndex int
	signers   []Signer
}

// TxIDs returns the ids of the group's transactions in order.
func (g *Group) TxIDs() []types.TxID {
	out := make([]types.TxID, len(g.Txns))
	for i, tx := range g.Txns {
		out[i] = tx.MustID()
	}
	return out
}

// Confirmation reports a confirmed group.
type Confirmation struct {
	ActionID string
	TxID     types.TxID
	Round    uint64
	// Logs are the lines emitted by the group's application call.
	Logs [][]byte
	// ApplicationIndex and AssetIndex are set by creation calls.
	ApplicationIndex uint64
	AssetIndex       uint64
}

// Option customises a Composer.
type Option func(*Composer)

// WithJournal records every submission in j.
func WithJournal(j *Journal) Option {
	return func(c *Composer) { c.journal = j }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithWaitRounds sets the default confirmation budget of Run.
func WithWaitRounds(rounds uint64) Option {
	return func(c *Composer) {
		if rounds > 0 {
			c.waitRounds = rounds
		}
	}
}

// WithoutPreflight skips simulation before signing.
func WithoutPreflight() Option {
	return func(c *Composer) { c.preflight = false }
}

// Composer is safe for concurrent use.
type Composer struct {
	node       Node
	journal    *Journal
	logger     *slog.Logger
	now        func() time.Time
	waitRounds uint64
	preflight  bool
}

func New(node Node, opts ...Option) *Composer {
	c := &Composer{
		node:       node,
		logger:     slog.Default(),
		now:        time.Now,
		waitRounds: config.DefaultWaitRounds,
		preflight:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sponsorship resolves the fee capability of one call: sponsor when policy
// sponsors the action and its shape allows a sponsor payment, nil otherwise.
func Sponsorship(policy config.SponsorshipPolicy, sponsor Signer, program, method string) Signer {
	if sponsor == nil || policy.Mode(action(program, method)) != config.FeeSponsored {
		return nil
	}
	if shape, ok := ShapeOf(program, method); !ok || !shape.Sponsorable {
		return nil
	}
	return sponsor
}

func encodeArgs(op, method string, values []any) ([][]byte, error) {
	for i, v := range values {
		switch v.(type) {
		case uint64, string, []byte, crypto.Address:
		default:
			return nil, composeErr(op, "argument %d has unsupported type %T", i+1, v)
		}
	}
	return common.Args(method, values...), nil
}

func (c *Composer) validate(op string, call Call, shape Shape) error {
	if call.App == 0 {
		return composeErr(op, "application id required")
	}
	if call.Sender == nil {
		return composeErr(op, "sender required")
	}
	if call.Sponsor != nil && !shape.Sponsorable {
		return composeErr(op, "method pins its group size and cannot carry a sponsor payment")
	}
	appAddr := types.ApplicationAddress(call.App)
	switch {
	case shape.Payment && call.Payment == nil:
		return composeErr(op, "a payment must precede the call")
	case !shape.Payment && call.Payment != nil:
		return composeErr(op, "method takes no payment")
	case call.Payment != nil && (call.Payment.From == nil || call.Payment.Amount == 0):
		return composeErr(op, "payment needs a sender and a positive amount")
	}
	switch {
	case shape.Transfer && call.Transfer == nil:
		return composeErr(op, "an asset transfer must precede the call")
	case !shape.Transfer && call.Transfer != nil:
		return composeErr(op, "method takes no asset transfer")
	}
	if t := call.Transfer; t != nil {
		if t.From == nil || t.Asset == 0 || t.Amount == 0 {
			return composeErr(op, "asset transfer needs a sender, an asset and a positive amount")
		}
		if shape.TransferToApp && !t.To.IsZero() && t.To != appAddr {
			return composeErr(op, "asset transfer must be addressed to the application")
		}
		if !shape.TransferToApp && t.To.IsZero() {
			return composeErr(op, "asset transfer receiver required")
		}
		if shape.Assets > 0 && !containsAsset(call.Assets, t.Asset) {
			return composeErr(op, "foreign assets %v must include transferred asset %d", call.Assets, t.Asset)
		}
	}
	if len(call.Accounts) < shape.Accounts {
		return composeErr(op, "needs %d account references, got %d", shape.Accounts, len(call.Accounts))
	}
	if len(call.Assets) < shape.Assets {
		return composeErr(op, "needs %d foreign asset references, got %d", shape.Assets, len(call.Assets))
	}
	seen := make(map[uint64]bool, len(call.Assets))
	for _, id := range call.Assets {
		if id == 0 || seen[id] {
			return composeErr(op, "invalid foreign asset reference %d", id)
		}
		seen[id] = true
	}
	if len(call.Boxes) < shape.Boxes {
		return composeErr(op, "needs %d box references, got %d", shape.Boxes, len(call.Boxes))
	}
	for _, addr := range call.Accounts {
		if addr.IsZero() {
			return composeErr(op, "zero address in account references")
		}
	}
	return nil
}

func containsAsset(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func base(kind types.TxType, sender crypto.Address, params types.SuggestedParams) *types.Transaction {
	return &types.Transaction{
		Type:       kind,
		Sender:     sender,
		FirstValid: params.FirstValid,
		LastValid:  params.LastValid,
		GenesisID:  params.GenesisID,
	}
}

// Build composes the group for call without signing it.
func (c *Composer) Build(ctx context.Context, call Call) (*Group, error) {
	op := call.Action()
	shape, ok := ShapeOf(call.Program, call.Method)
	if !ok {
		return nil, composeErr(op, "unknown contract method")
	}
	if err := c.validate(op, call, shape); err != nil {
		return nil, err
	}
	args, err := encodeArgs(op, call.Method, call.Args)
	if err != nil {
		return nil, err
	}
	params, err := c.node.SuggestedParams(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: suggested params: %w", op, err)
	}
	appAddr := types.ApplicationAddress(call.App)

	g := &Group{Operation: op, Mode: config.FeeSelf, Actor: call.Actor}
	// shares[i] is the fee transaction i owes under self payment
	var shares []uint64
	add := func(tx *types.Transaction, s Signer, share uint64) {
		g.Txns = append(g.Txns, tx)
		g.signers = append(g.signers, s)
		shares = append(shares, share)
	}
	if call.Sponsor != nil {
		bump := base(types.PaymentTx, call.Sponsor.Address(), params)
		bump.Receiver = appAddr
		g.Mode = config.FeeSponsored
		add(bump, call.Sponsor, params.MinFee)
	}
	if p := call.Payment; p != nil {
		tx := base(types.PaymentTx, p.From.Address(), params)
		tx.Receiver, tx.Amount = p.To, p.Amount
		if tx.Receiver.IsZero() {
			tx.Receiver = appAddr
		}
		add(tx, p.From, params.MinFee)
	}
	if t := call.Transfer; t != nil {
		tx := base(types.AssetTransferTx, t.From.Address(), params)
		tx.XferAsset, tx.AssetAmount, tx.AssetReceiver = t.Asset, t.Amount, t.To
		if tx.AssetReceiver.IsZero() {
			tx.AssetReceiver = appAddr
		}
		add(tx, t.From, params.MinFee)
	}
	appl := base(types.ApplicationCallTx, call.Sender.Address(), params)
	appl.ApplicationID = call.App
	appl.ApplicationArgs = args
	appl.Accounts = append([]crypto.Address(nil), call.Accounts...)
	appl.ForeignAssets = append([]uint64(nil), call.Assets...)
	appl.ForeignApps = append([]uint64(nil), call.Apps...)
	appl.Note = append([]byte(nil), call.Note...)
	for _, name := range call.Boxes {
		appl.Boxes = append(appl.Boxes, types.BoxRef{Name: append([]byte(nil), name...)})
	}
	g.callIndex = len(g.Txns)
	add(appl, call.Sender, params.MinFee*uint64(1+shape.Inner))

	if len(g.Txns) > types.MaxGroupSize {
		return nil, composeErr(op, "group of %d exceeds %d transactions", len(g.Txns), types.MaxGroupSize)
	}
	assignFees(g, shares)
	if g.ID, err = types.AssignGroupID(g.Txns); err != nil {
		return nil, composeErr(op, "%v", err)
	}
	observability.Composer().RecordFeeMode(string(g.Mode))
	return g, nil
}

// assignFees applies the fee policy. Self-paid transactions carry their own
// share. In a sponsored group the head payment carries the share of every
// transaction the sponsor does not send, which then pay nothing.
func assignFees(g *Group, shares []uint64) {
	if g.Mode != config.FeeSponsored {
		for i, tx := range g.Txns {
			tx.Fee = shares[i]
		}
		return
	}
	sponsor := g.Txns[0].Sender
	g.Txns[0].Fee = shares[0]
	for i := 1; i < len(g.Txns); i++ {
		if g.Txns[i].Sender == sponsor {
			g.Txns[i].Fee = shares[i]
			continue
		}
		g.Txns[i].Fee = 0
		g.Txns[0].Fee += shares[i]
	}
}

// BuildTransfer composes a standalone self-paid asset transfer, as used for
// inventory top-ups.
func (c *Composer) BuildTransfer(ctx context.Context, op string, t AssetTransfer, actor string) (*Group, error) {
	if t.From == nil || t.Asset == 0 || t.Amount == 0 || t.To.IsZero() {
		return nil, composeErr(op, "transfer needs a sender, receiver, asset and positive amount")
	}
	params, err := c.node.SuggestedParams(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: suggested params: %w", op, err)
	}
	tx := base(types.AssetTransferTx, t.From.Address(), params)
	tx.Fee = params.MinFee
	tx.XferAsset, tx.AssetAmount, tx.AssetReceiver = t.Asset, t.Amount, t.To
	observability.Composer().RecordFeeMode(string(config.FeeSelf))
	return &Group{
		Operation: op,
		Mode:      config.FeeSelf,
		Txns:      []*types.Transaction{tx},
		Actor:     actor,
		signers:   []Signer{t.From},
	}, nil
}

// Sign signs every transaction of g with its signer. Signers run in
// parallel; the first failure cancels the rest.
func (c *Composer) Sign(ctx context.Context, g *Group) ([]types.SignedTxn, error) {
	signed := make([]types.SignedTxn, len(g.Txns))
	eg, egctx := errgroup.WithContext(ctx)
	for i := range g.Txns {
		eg.Go(func() error {
			stx, err := g.signers[i].SignTransaction(egctx, g.Txns[i])
			if err != nil {
				return fmt.Errorf("%s: sign transaction %d: %w", g.Operation, i, err)
			}
			signed[i] = *stx
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return signed, nil
}

// Simulate evaluates g unsigned. A group the ledger would reject returns a
// LedgerError.
func (c *Composer) Simulate(ctx context.Context, g *Group) (*types.SimulateResult, error) {
	unsigned := make([]types.SignedTxn, len(g.Txns))
	for i, tx := range g.Txns {
		unsigned[i] = types.SignedTxn{Txn: *tx.Clone()}
	}
	res, err := c.node.Simulate(ctx, unsigned, true)
	if err != nil {
		if le := rejection(g.Operation, err, true); le != nil {
			return nil, le
		}
		return nil, fmt.Errorf("%s: simulate: %w", g.Operation, err)
	}
	if res.Failed() {
		var logs [][]byte
		txid := ""
		if res.FailedAt < len(res.TxnResults) {
			logs = res.TxnResults[res.FailedAt].Logs
			txid = res.TxnResults[res.FailedAt].TxID.String()
		}
		return res, newLedgerError(g.Operation, res.FailureMessage, txid, res.FailedAt, logs, true)
	}
	return res, nil
}

// rejection converts a node reply describing a rejected group into a
// LedgerError.
func rejection(op string, err error, simulated bool) *LedgerError {
	var apiErr *nodeclient.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Data == nil {
		return nil
	}
	return newLedgerError(op, apiErr.Message, apiErr.Data.TxID, apiErr.Data.GroupIndex, apiErr.Data.Logs, simulated)
}

// Submit sends a signed group and returns the id of its first transaction.
func (c *Composer) Submit(ctx context.Context, op string, signed []types.SignedTxn) (types.TxID, error) {
	id, err := c.node.SendGroup(ctx, signed)
	if err != nil {
		if le := rejection(op, err, false); le != nil {
			return types.TxID{}, le
		}
		return types.TxID{}, fmt.Errorf("%s: submit: %w", op, err)
	}
	return id, nil
}

// SubmitAndWait submits signed and polls until any of its transactions is
// confirmed or rounds rounds have passed.
func (c *Composer) SubmitAndWait(ctx context.Context, g *Group, signed []types.SignedTxn, rounds uint64) (*Confirmation, error) {
	status, err := c.node.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: status: %w", g.Operation, err)
	}
	first, err := c.Submit(ctx, g.Operation, signed)
	if err != nil {
		return nil, err
	}
	return c.wait(ctx, g, first, status.LastRound, rounds)
}

func (c *Composer) wait(ctx context.Context, g *Group, first types.TxID, from, rounds uint64) (*Confirmation, error) {
	ids := g.TxIDs()
	last := from
	for {
		for _, id := range ids {
			p, err := c.node.PendingInfo(ctx, id)
			if nodeclient.IsNotFound(err) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil, &ConfirmationTimeout{Operation: g.Operation, TxID: first, Rounds: rounds, LastRound: last}
				}
				return nil, fmt.Errorf("%s: pending %s: %w", g.Operation, id, err)
			}
			if p.PoolError != "" {
				return nil, newLedgerError(g.Operation, p.PoolError, id.String(), -1, nil, false)
			}
			if p.Confirmed() {
				return c.confirmation(ctx, g, first, ids, p), nil
			}
		}
		if last >= from+rounds {
			return nil, &ConfirmationTimeout{Operation: g.Operation, TxID: first, Rounds: rounds, LastRound: last}
		}
		status, err := c.node.WaitForBlockAfter(ctx, last)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &ConfirmationTimeout{Operation: g.Operation, TxID: first, Rounds: rounds, LastRound: last}
			}
			return nil, fmt.Errorf("%s: wait for round %d: %w", g.Operation, last+1, err)
		}
		if status.LastRound > last {
			last = status.LastRound
		} else {
			last++
		}
	}
}

func (c *Composer) confirmation(ctx context.Context, g *Group, first types.TxID, ids []types.TxID, p types.PendingTxn) *Confirmation {
	conf := &Confirmation{TxID: first, Round: p.ConfirmedRound}
	call := p
	if p.TxID != ids[g.callIndex] {
		if info, err := c.node.PendingInfo(ctx, ids[g.callIndex]); err == nil {
			call = info
		}
	}
	conf.Logs = call.Logs
	conf.ApplicationIndex = call.ApplicationIndex
	conf.AssetIndex = call.AssetIndex
	return conf
}

// Execute builds call and runs it.
func (c *Composer) Execute(ctx context.Context, call Call) (*Confirmation, error) {
	g, err := c.Build(ctx, call)
	if err != nil {
		observability.Composer().RecordFailure(call.Action(), "composition")
		return nil, err
	}
	return c.Run(ctx, g)
}

// Run preflights, signs, journals and submits g and waits for its
// confirmation within the composer's round budget.
func (c *Composer) Run(ctx context.Context, g *Group) (conf *Confirmation, err error) {
	start := c.now()
	ctx, span := otel.Tracer().Start(ctx, "txc.run", trace.WithAttributes(
		attribute.String("operation", g.Operation),
		attribute.String("fee_mode", string(g.Mode)),
		attribute.Int("group_size", len(g.Txns)),
	))
	defer func() {
		outcome := outcomeOf(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		observability.Composer().RecordSubmission(g.Operation, outcome, c.now().Sub(start))
		if kind := KindOf(err); kind != "" {
			observability.Composer().RecordFailure(g.Operation, string(kind))
		}
	}()

	if c.preflight {
		if _, err := c.Simulate(ctx, g); err != nil {
			return nil, err
		}
	}
	signed, err := c.Sign(ctx, g)
	if err != nil {
		return nil, err
	}
	status, err := c.node.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: status: %w", g.Operation, err)
	}
	ids := g.TxIDs()
	actionID := uuid.NewString()
	c.record(actionID, g, ids)

	first, err := c.Submit(ctx, g.Operation, signed)
	if err != nil {
		c.settle(actionID, nil, err)
		return nil, err
	}
	conf, err = c.wait(ctx, g, first, status.LastRound, c.waitRounds)
	c.settle(actionID, conf, err)
	if err != nil {
		return nil, err
	}
	conf.ActionID = actionID
	span.SetAttributes(attribute.String("txid", conf.TxID.String()), attribute.Int64("round", int64(conf.Round)))
	c.logger.Info("group confirmed",
		slog.String("operation", g.Operation),
		slog.String("txid", conf.TxID.String()),
		slog.Uint64("round", conf.Round),
		slog.String("action_id", actionID))
	return conf, nil
}

func outcomeOf(err error) string {
	var timeout *ConfirmationTimeout
	var le *LedgerError
	var ce *CompositionError
	switch {
	case err == nil:
		return "confirmed"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &le):
		return "rejected"
	case errors.As(err, &ce):
		return "composition"
	default:
		return "error"
	}
}

func (c *Composer) record(actionID string, g *Group, ids []types.TxID) {
	if c.journal == nil {
		return
	}
	entry := Entry{
		ActionID:  actionID,
		Operation: g.Operation,
		Actor:     g.Actor,
		State:     StatePending,
		CreatedAt: c.now().UTC(),
	}
	if g.ID != ([32]byte{}) {
		entry.GroupID = fmt.Sprintf("%x", g.ID)
	}
	for _, id := range ids {
		entry.TxIDs = append(entry.TxIDs, id.String())
	}
	entry.UpdatedAt = entry.CreatedAt
	if err := c.journal.Record(entry); err != nil {
		c.logger.Warn("journal record failed", slog.String("action_id", actionID), slog.Any("error", err))
	}
}

func (c *Composer) settle(actionID string, conf *Confirmation, err error) {
	if c.journal == nil {
		return
	}
	_, jerr := c.journal.Mutate(actionID, func(e *Entry) error {
		e.UpdatedAt = c.now().UTC()
		switch outcomeOf(err) {
		case "confirmed":
			e.State, e.Round = StateConfirmed, conf.Round
		case "timeout":
			e.State = StateTimeout
		case "rejected":
			e.State, e.Error = StateRejected, err.Error()
		default:
			e.State, e.Error = StateUnknown, err.Error()
		}
		return nil
	})
	if jerr != nil {
		c.logger.Warn("journal update failed", slog.String("action_id", actionID), slog.Any("error", jerr))
	}
}

// TxStatus is what the node and the journal know about one transaction.
type TxStatus struct {
	TxID      types.TxID
	State     State
	Round     uint64
	PoolError string
	Logs      [][]byte
	// Entry is the journalled submission, when there is one.
	Entry *Entry
}

// Status reports the ledger state of txid and reconciles a pending or timed
// out journal entry with it.
func (c *Composer) Status(ctx context.Context, txid types.TxID) (*TxStatus, error) {
	out := &TxStatus{TxID: txid, State: StateUnknown}
	p, err := c.node.PendingInfo(ctx, txid)
	switch {
	case nodeclient.IsNotFound(err):
	case err != nil:
		return nil, fmt.Errorf("tx status %s: %w", txid, err)
	case p.PoolError != "":
		out.State, out.PoolError, out.Logs = StateRejected, p.PoolError, p.Logs
	case p.Confirmed():
		out.State, out.Round, out.Logs = StateConfirmed, p.ConfirmedRound, p.Logs
	default:
		out.State = StatePending
	}
	if c.journal == nil {
		return out, nil
	}
	entry, err := c.journal.ByTxID(txid.String())
	if errors.Is(err, ErrEntryNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if (entry.State == StatePending || entry.State == StateTimeout) && (out.State == StateConfirmed || out.State == StateRejected) {
		entry, err = c.journal.Mutate(entry.ActionID, func(e *Entry) error {
			e.State, e.Round, e.Error = out.State, out.Round, out.PoolError
			e.UpdatedAt = c.now().UTC()
			return nil
		})
		if err != nil {
			return nil, err
		}
		c.logger.Info("journal reconciled",
			slog.String("action_id", entry.ActionID),
			slog.String("state", string(entry.State)))
	}
	out.Entry = &entry
	return out, nil
}
