// Package orchestrator drives the asset control contracts through their
// operational life cycle. Every action authorizes the operator, re-reads the
// ledger, and only then composes and submits; the off-ledger mirror is
// touched after confirmation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"confio/config"
	"confio/core/types"
	"confio/crypto"
	"confio/observability/otel"
	"confio/services/orchestrator/mirror"
	"confio/services/txc"
)

// Node is the read side of the ledger API.
type Node interface {
	AccountInfo(ctx context.Context, addr crypto.Address) (types.AccountInfo, error)
	AppInfo(ctx context.Context, id uint64) (types.AppInfo, error)
	Box(ctx context.Context, app uint64, name []byte) (types.BoxInfo, error)
}

// Submitter composes and submits groups.
type Submitter interface {
	Execute(ctx context.Context, call txc.Call) (*txc.Confirmation, error)
	BuildTransfer(ctx context.Context, op string, t txc.AssetTransfer, actor string) (*txc.Group, error)
	Run(ctx context.Context, g *txc.Group) (*txc.Confirmation, error)
}

var _ Submitter = (*txc.Composer)(nil)

// Config is the slice of process configuration the orchestrator needs.
type Config struct {
	Apps        config.Apps
	Assets      config.Assets
	Presale     config.Presale
	Sponsorship config.SponsorshipPolicy
}

// FromConfig extracts the orchestrator settings.
func FromConfig(cfg *config.Config, sponsorship config.SponsorshipPolicy) Config {
	return Config{Apps: cfg.Apps, Assets: cfg.Assets, Presale: cfg.Presale, Sponsorship: sponsorship}
}

// Signers are the custody handles actions sign with. Sponsor may be nil
// when no fee sponsor is configured.
type Signers struct {
	Admin   txc.Signer
	Sponsor txc.Signer
}

// Result reports a finished action. TxID is empty when the ledger already
// was in the requested state and nothing was submitted.
type Result struct {
	Action   string
	TxID     string
	Round    uint64
	ActionID string
	// Prior lists preparatory groups, such as inventory top-ups, in
	// submission order.
	Prior   []string
	Message string
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithMirror updates mirror after confirmed actions and records the audit.
func WithMirror(m *mirror.Store) Option {
	return func(o *Orchestrator) { o.mirror = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type Orchestrator struct {
	cfg       Config
	node      Node
	submitter Submitter
	signers   Signers
	access    *Access
	mirror    *mirror.Store
	logger    *slog.Logger
}

func New(cfg Config, node Node, submitter Submitter, signers Signers, access *Access, opts ...Option) (*Orchestrator, error) {
	if node == nil || submitter == nil {
		return nil, errors.New("orchestrator: node and submitter required")
	}
	if signers.Admin == nil {
		return nil, errors.New("orchestrator: admin signer required")
	}
	if access == nil {
		return nil, errors.New("orchestrator: access layer required")
	}
	o := &Orchestrator{
		cfg:       cfg,
		node:      node,
		submitter: submitter,
		signers:   signers,
		access:    access,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run authorizes op for action, traces fn and audits its outcome.
func (o *Orchestrator) run(ctx context.Context, op Operator, action string, fn func(context.Context) (*Result, error)) (*Result, error) {
	if err := o.access.Authorize(op, action); err != nil {
		o.logger.Warn("operator action denied", slog.String("operator", op.Name), slog.String("action", action))
		return nil, err
	}
	ctx, span := otel.Tracer().Start(ctx, "orchestrator."+action, trace.WithAttributes(
		attribute.String("operator", op.Name),
	))
	defer span.End()

	res, err := fn(ctx)
	outcome := outcomeOf(res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	o.audit(op, action, outcome, res, err)
	if err != nil {
		return nil, err
	}
	res.Action = action
	return res, nil
}

func outcomeOf(res *Result, err error) string {
	var pre *PreflightError
	var le *txc.LedgerError
	var timeout *txc.ConfirmationTimeout
	switch {
	case err == nil && res != nil && res.TxID == "":
		return "reported"
	case err == nil:
		return "confirmed"
	case errors.As(err, &pre):
		return "preflight"
	case errors.As(err, &le):
		return "rejected"
	case errors.As(err, &timeout):
		return "timeout"
	default:
		return "error"
	}
}

func (o *Orchestrator) audit(op Operator, action, outcome string, res *Result, err error) {
	attrs := []any{
		slog.String("operator", op.Name),
		slog.String("action", action),
		slog.String("outcome", outcome),
	}
	row := mirror.Action{Operator: op.Name, Action: action, Outcome: outcome}
	if res != nil {
		row.TxID, row.Round, row.Detail = res.TxID, res.Round, res.Message
		attrs = append(attrs, slog.String("txid", res.TxID))
	}
	var timeout *txc.ConfirmationTimeout
	if errors.As(err, &timeout) {
		row.TxID = timeout.TxID.String()
	}
	if err != nil {
		row.Detail = truncate(err.Error(), 512)
		attrs = append(attrs, slog.String("error", err.Error()))
		o.logger.Warn("operator action failed", attrs...)
	} else {
		o.logger.Info("operator action", attrs...)
	}
	if o.mirror != nil {
		if mErr := o.mirror.RecordAction(row); mErr != nil {
			o.logger.Warn("audit row not recorded", slog.String("action", action), slog.Any("error", mErr))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// syncMirror applies a mirror update after a confirmed ledger write. A
// failure is reported on the result; the ledger stays the source of truth.
func (o *Orchestrator) syncMirror(res *Result, update func(*mirror.Store) error) {
	if o.mirror == nil {
		return
	}
	if err := update(o.mirror); err != nil {
		o.logger.Warn("mirror not updated", slog.String("txid", res.TxID), slog.Any("error", err))
		res.Message = appendMessage(res.Message, fmt.Sprintf("mirror not updated: %v", err))
	}
}

func appendMessage(msg, more string) string {
	if msg == "" {
		return more
	}
	return msg + "; " + more
}

// submit executes call on behalf of op.
func (o *Orchestrator) submit(ctx context.Context, op Operator, call txc.Call) (*Result, error) {
	call.Actor = op.Name
	if call.Sender == nil {
		call.Sender = o.signers.Admin
	}
	conf, err := o.submitter.Execute(ctx, call)
	if err != nil {
		return nil, err
	}
	return &Result{TxID: conf.TxID.String(), Round: conf.Round, ActionID: conf.ActionID}, nil
}

func (o *Orchestrator) sponsorFor(program, method string) txc.Signer {
	return txc.Sponsorship(o.cfg.Sponsorship, o.signers.Sponsor, program, method)
}

func (o *Orchestrator) sponsorAddress() crypto.Address {
	if o.signers.Sponsor == nil {
		return crypto.ZeroAddress
	}
	return o.signers.Sponsor.Address()
}

// view is a fresh snapshot of one application and a set of accounts.
type view struct {
	App      types.AppInfo
	accounts map[crypto.Address]types.AccountInfo
	readAt   time.Time
}

func (v *view) account(addr crypto.Address) types.AccountInfo {
	return v.accounts[addr]
}

// holding returns addr's balance of asset and whether addr is opted in.
func (v *view) holding(addr crypto.Address, asset uint64) (types.AssetHolding, bool) {
	info, ok := v.accounts[addr]
	if !ok {
		return types.AssetHolding{}, false
	}
	return info.Holding(asset)
}

// read fetches app, its account and every non-zero address in parallel.
func (o *Orchestrator) read(ctx context.Context, action string, app uint64, addrs ...crypto.Address) (*view, error) {
	if app == 0 {
		return nil, &config.Error{Var: appVar(action), Err: config.ErrMissing}
	}
	targets := []crypto.Address{types.ApplicationAddress(app)}
	seen := map[crypto.Address]bool{targets[0]: true}
	for _, a := range addrs {
		if !a.IsZero() && !seen[a] {
			seen[a] = true
			targets = append(targets, a)
		}
	}
	v := &view{accounts: make(map[crypto.Address]types.AccountInfo, len(targets)), readAt: time.Now()}
	infos := make([]types.AccountInfo, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := o.node.AppInfo(gctx, app)
		if err != nil {
			return fmt.Errorf("%s: read application %d: %w", action, app, err)
		}
		v.App = info
		return nil
	})
	for i, addr := range targets {
		g.Go(func() error {
			info, err := o.node.AccountInfo(gctx, addr)
			if err != nil {
				return fmt.Errorf("%s: read account %s: %w", action, addr, err)
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, addr := range targets {
		v.accounts[addr] = infos[i]
	}
	return v, nil
}

func appVar(action string) string {
	switch {
	case strings.HasPrefix(action, "presale."):
		return "APP_ID_PRESALE"
	case strings.HasPrefix(action, "rewards."):
		return "APP_ID_REWARDS"
	default:
		return "APP_ID_STABLECOIN"
	}
}
