package main

import (
	"context"

	"confio/config"
	"confio/crypto"
	"confio/services/orchestrator"
)

type addressAction func(o *orchestrator.Orchestrator, ctx context.Context, op orchestrator.Operator, addr crypto.Address) (*orchestrator.Result, error)

// addressCommand builds a stablecoin command taking a single required
// address flag.
func addressCommand(name, flagName, usage string, do addressAction) command {
	return func(ctx context.Context, s *session, args []string) int {
		fs := newFlagSet(name, s.stderr)
		var addr addressFlag
		fs.Var(&addr, flagName, usage)
		if err := parse(fs, args); err != nil {
			return exitInput
		}
		if !addr.set {
			return usageError(s.stderr, "--%s is required", flagName)
		}
		orch, op, err := s.orchestrator(ctx, config.NeedStablecoin)
		if err != nil {
			return fail(s.stderr, err)
		}
		return s.finish(do(orch, ctx, op, addr.addr))
	}
}

var (
	stablecoinTransferAdmin = addressCommand("stablecoin transfer-admin", "to", "new admin address",
		(*orchestrator.Orchestrator).TransferAdmin)
	stablecoinUpdateSponsor = addressCommand("stablecoin update-sponsor", "to", "new sponsor address",
		(*orchestrator.Orchestrator).UpdateSponsor)
	stablecoinFreeze = addressCommand("stablecoin freeze", "account", "account whose cUSD is frozen",
		(*orchestrator.Orchestrator).Freeze)
	stablecoinUnfreeze = addressCommand("stablecoin unfreeze", "account", "account whose cUSD is unfrozen",
		(*orchestrator.Orchestrator).Unfreeze)
)

func stablecoinWithdrawUSDC(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("stablecoin withdraw-usdc", s.stderr)
	var (
		amount amountFlag
		to     addressFlag
	)
	fs.Var(&amount, "amount", "collateral to withdraw")
	fs.Var(&to, "to", "receiver address (defaults to the admin)")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if !amount.set {
		return usageError(s.stderr, "--amount is required")
	}
	orch, op, err := s.orchestrator(ctx, config.NeedStablecoin)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.WithdrawUSDC(ctx, op, amount.micro, to.addr))
}

func stablecoinPause(ctx context.Context, s *session, args []string) int {
	return pauseCommand(ctx, s, args, "stablecoin pause", (*orchestrator.Orchestrator).Pause)
}

func stablecoinUnpause(ctx context.Context, s *session, args []string) int {
	return pauseCommand(ctx, s, args, "stablecoin unpause", (*orchestrator.Orchestrator).Unpause)
}

func pauseCommand(ctx context.Context, s *session, args []string, name string,
	do func(*orchestrator.Orchestrator, context.Context, orchestrator.Operator) (*orchestrator.Result, error)) int {
	fs := newFlagSet(name, s.stderr)
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	orch, op, err := s.orchestrator(ctx, config.NeedStablecoin)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(do(orch, ctx, op))
}
