package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"confio/config"
	"confio/observability/logging"
	"confio/observability/otel"
	"confio/rpc/nodeclient"
	"confio/services/kcs"
	"confio/services/orchestrator"
	"confio/services/orchestrator/mirror"
	"confio/services/txc"
)

// newCustody connects the custody backends. Tests replace it with the
// in-memory ones.
var newCustody = func(ctx context.Context, region string) (kcs.KeyManager, kcs.ParameterStore, error) {
	keys, params, err := kcs.NewAWS(ctx, region)
	if err != nil {
		return nil, nil, err
	}
	return keys, params, nil
}

// session holds what one command invocation builds from configuration.
type session struct {
	action   string
	cfg      *config.Config
	logger   *slog.Logger
	stdout   io.Writer
	stderr   io.Writer
	lookup   func(string) (string, bool)
	shutdown func(context.Context) error
	closers  []func() error
}

func newSession(ctx context.Context, action string, stdout, stderr io.Writer, lookup func(string) (string, bool)) (*session, error) {
	cfg, err := config.FromEnv(lookup)
	if err != nil {
		return nil, err
	}
	// a mismatched sponsor is refused before any network I/O
	if err := cfg.CheckSponsor(); err != nil {
		return nil, err
	}
	logger := logging.Setup("confioctl", cfg.Env,
		logging.WithOutput(stderr),
		logging.WithAuditFile(cfg.Storage.AuditLog),
		logging.WithLevel(slog.LevelWarn))
	shutdown, err := otel.Init(ctx, otel.FromTelemetry("confioctl", cfg.Env, cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return &session{
		action:   action,
		cfg:      cfg,
		logger:   logger,
		stdout:   stdout,
		stderr:   stderr,
		lookup:   lookup,
		shutdown: shutdown,
	}, nil
}

func (s *session) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close failed", slog.Any("error", err))
		}
	}
	if s.shutdown != nil {
		_ = s.shutdown(ctx)
	}
}

// operator identifies the caller and checks the command's own action.
func (s *session) operator() (*orchestrator.Access, orchestrator.Operator, error) {
	policy, err := config.LoadAccess(s.cfg.Operator.PolicyFile)
	if err != nil {
		return nil, orchestrator.Operator{}, err
	}
	access := orchestrator.NewAccess(policy, s.cfg.Operator)
	op, err := access.Identify(s.cfg.Operator.Token)
	if err != nil {
		return nil, orchestrator.Operator{}, err
	}
	if err := access.Authorize(op, s.action); err != nil {
		return nil, orchestrator.Operator{}, err
	}
	return access, op, nil
}

func (s *session) custody(ctx context.Context) (*kcs.Service, error) {
	if s.cfg.KMS.Region == "" {
		return nil, &config.Error{Var: "KMS_REGION", Err: config.ErrMissing}
	}
	keys, params, err := newCustody(ctx, s.cfg.KMS.Region)
	if err != nil {
		return nil, err
	}
	return kcs.New(kcs.FromConfig(s.cfg), keys, params, kcs.WithLogger(s.logger), kcs.WithWarnings(s.stderr))
}

// signer resolves the configured alias, locally in development and through
// the KMS otherwise. The sponsor check deferred at startup runs here.
func (s *session) signer(ctx context.Context) (txc.Signer, error) {
	alias := s.cfg.KMS.KeyAlias
	var signer txc.Signer
	if s.cfg.Signing.Local() {
		phrase, err := s.cfg.Mnemonic()
		if err != nil {
			return nil, err
		}
		local, err := kcs.NewLocalSigner(alias, phrase)
		if err != nil {
			return nil, err
		}
		signer = local
	} else {
		svc, err := s.custody(ctx)
		if err != nil {
			return nil, err
		}
		remote, err := svc.Signer(ctx, alias)
		if err != nil {
			return nil, err
		}
		signer = remote
	}
	if err := s.cfg.MatchSponsor(signer.Address()); err != nil {
		return nil, err
	}
	return signer, nil
}

func (s *session) node() (*nodeclient.Client, error) {
	if err := s.cfg.Require(config.NeedNode); err != nil {
		return nil, err
	}
	return nodeclient.New(nodeclient.FromNode(s.cfg.Node))
}

func (s *session) composer(node *nodeclient.Client) (*txc.Composer, error) {
	opts := []txc.Option{txc.WithLogger(s.logger), txc.WithWaitRounds(s.cfg.WaitRounds)}
	if s.cfg.Storage.JournalPath != "" {
		journal, err := txc.OpenJournal(s.cfg.Storage.JournalPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, journal.Close)
		opts = append(opts, txc.WithJournal(journal))
	}
	return txc.New(node, opts...), nil
}

// orchestrator wires the full stack for a workflow command. reqs name the
// settings the workflow cannot run without.
func (s *session) orchestrator(ctx context.Context, reqs ...config.Requirement) (*orchestrator.Orchestrator, orchestrator.Operator, error) {
	if err := s.cfg.Require(append([]config.Requirement{config.NeedNode, config.NeedSigner}, reqs...)...); err != nil {
		return nil, orchestrator.Operator{}, err
	}
	access, op, err := s.operator()
	if err != nil {
		return nil, op, err
	}
	sponsorship, err := config.LoadSponsorship(s.cfg.SponsorshipPolicy)
	if err != nil {
		return nil, op, err
	}
	node, err := s.node()
	if err != nil {
		return nil, op, err
	}
	composer, err := s.composer(node)
	if err != nil {
		return nil, op, err
	}
	signer, err := s.signer(ctx)
	if err != nil {
		return nil, op, err
	}
	signers := orchestrator.Signers{Admin: signer}
	if s.cfg.SponsorAddress != "" {
		signers.Sponsor = signer
	}
	opts := []orchestrator.Option{orchestrator.WithLogger(s.logger)}
	if s.cfg.Storage.MirrorDSN != "" {
		m, err := mirror.Open(s.cfg.Storage.MirrorDSN)
		if err != nil {
			return nil, op, err
		}
		s.closers = append(s.closers, m.Close)
		opts = append(opts, orchestrator.WithMirror(m))
	}
	orch, err := orchestrator.New(orchestrator.FromConfig(s.cfg, sponsorship), node, composer, signers, access, opts...)
	if err != nil {
		return nil, op, err
	}
	return orch, op, nil
}
