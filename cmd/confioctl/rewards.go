package main

import (
	"context"

	"confio/config"
)

func rewardsBootstrapAndFund(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("rewards bootstrap-and-fund", s.stderr)
	var amount amountFlag
	fs.Var(&amount, "amount", "tokens to deposit from the admin")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if !amount.set {
		return usageError(s.stderr, "--amount is required")
	}
	orch, op, err := s.orchestrator(ctx, config.NeedRewards, config.NeedToken)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.BootstrapAndFund(ctx, op, amount.micro))
}

func rewardsWithdraw(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("rewards withdraw", s.stderr)
	var amount amountFlag
	fs.Var(&amount, "amount", "unallocated tokens to withdraw")
	status := fs.Bool("status", false, "only report the vault balance")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if !*status && !amount.set {
		return usageError(s.stderr, "--amount or --status is required")
	}
	orch, op, err := s.orchestrator(ctx, config.NeedRewards)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.WithdrawRewards(ctx, op, amount.micro, *status))
}

func rewardsRevoke(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("rewards revoke", s.stderr)
	var user addressFlag
	fs.Var(&user, "user", "user whose unclaimed rewards are forfeited")
	freeze := fs.Bool("freeze", false, "also freeze the user's cUSD")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if !user.set {
		return usageError(s.stderr, "--user is required")
	}
	reqs := []config.Requirement{config.NeedRewards}
	if *freeze {
		reqs = append(reqs, config.NeedStablecoin)
	}
	orch, op, err := s.orchestrator(ctx, reqs...)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.RevokeReward(ctx, op, user.addr, *freeze))
}
