package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"confio/config"
	"confio/services/orchestrator"
)

type roundFlags struct {
	fs    *flag.FlagSet
	phase uint64
	price amountFlag
	cap   amountFlag
	max   amountFlag
}

func newRoundFlags(name string, stderr io.Writer) *roundFlags {
	r := &roundFlags{fs: newFlagSet(name, stderr)}
	r.fs.Uint64Var(&r.phase, "phase", 0, "presale phase number")
	r.fs.Var(&r.price, "price", "price in cUSD per whole token (e.g. 0.25)")
	r.fs.Var(&r.cap, "cap", "published round cap in cUSD; the on-ledger cap applies the multiplier")
	r.fs.Var(&r.max, "max", "maximum cUSD per address")
	return r
}

func (r *roundFlags) request() orchestrator.RoundRequest {
	return orchestrator.RoundRequest{
		Phase:      r.phase,
		Price:      r.price.micro,
		DisplayCap: r.cap.micro,
		MaxPerAddr: r.max.micro,
	}
}

func presaleSetPhase(ctx context.Context, s *session, args []string) int {
	r := newRoundFlags("presale set-phase", s.stderr)
	if err := parse(r.fs, args); err != nil {
		return exitInput
	}
	if r.phase == 0 || !r.price.set || !r.cap.set || !r.max.set {
		return usageError(s.stderr, "--phase, --price, --cap and --max are required")
	}
	orch, op, err := s.orchestrator(ctx, config.NeedMirror)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.SetPhase(ctx, op, r.request()))
}

func presaleStartRound(ctx context.Context, s *session, args []string) int {
	r := newRoundFlags("presale start-round", s.stderr)
	if err := parse(r.fs, args); err != nil {
		return exitInput
	}
	if r.phase == 0 && (!r.price.set || !r.cap.set || !r.max.set) {
		return usageError(s.stderr, "--phase or all of --price, --cap and --max are required")
	}
	orch, op, err := s.orchestrator(ctx, config.NeedPresale)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.StartRound(ctx, op, r.request()))
}

func presaleEndRound(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("presale end-round", s.stderr)
	phase := fs.Uint64("phase", 0, "phase to mark inactive in the mirror")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	orch, op, err := s.orchestrator(ctx, config.NeedPresale)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.EndRound(ctx, op, *phase))
}

func presaleResumeRound(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("presale resume-round", s.stderr)
	phase := fs.Uint64("phase", 0, "phase to mark active in the mirror")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	orch, op, err := s.orchestrator(ctx, config.NeedPresale)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.ResumeRound(ctx, op, *phase))
}

func presaleWithdrawUnsold(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("presale withdraw-unsold", s.stderr)
	var (
		amount amountFlag
		to     addressFlag
	)
	fs.Var(&amount, "amount", "tokens to withdraw")
	fs.Var(&to, "to", "receiver address (defaults to the admin)")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if !amount.set {
		return usageError(s.stderr, "--amount is required")
	}
	orch, op, err := s.orchestrator(ctx, config.NeedPresale)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.WithdrawUnsold(ctx, op, amount.micro, to.addr))
}

func presaleFundApp(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("presale fund-app-from-sponsor", s.stderr)
	var amount amountFlag
	fs.Var(&amount, "amount", "tokens to send (default: what the current round needs)")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	orch, op, err := s.orchestrator(ctx, config.NeedPresale, config.NeedSponsor)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.FundAppFromSponsor(ctx, op, amount.micro))
}

func presaleUnlockClaims(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("presale unlock-claims", s.stderr)
	confirm := fs.Bool("confirm", false, "acknowledge that unlocking is permanent")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if !*confirm {
		return usageError(s.stderr, "unlocking claims is permanent; pass --confirm")
	}
	orch, op, err := s.orchestrator(ctx, config.NeedPresale)
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.finish(orch.UnlockClaims(ctx, op))
}

func presaleStatus(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("presale status", s.stderr)
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	orch, op, err := s.orchestrator(ctx, config.NeedPresale)
	if err != nil {
		return fail(s.stderr, err)
	}
	st, err := orch.PresaleStatus(ctx, op)
	if err != nil {
		return fail(s.stderr, err)
	}
	w := tabwriter.NewWriter(s.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "round\t%d\n", st.State.RoundID)
	fmt.Fprintf(w, "active\t%t\n", st.State.Active)
	fmt.Fprintf(w, "claims unlocked\t%t\n", st.Unlocked)
	fmt.Fprintf(w, "price\t%s cUSD\n", orchestrator.FormatAmount(st.State.Price))
	fmt.Fprintf(w, "round cap\t%s cUSD\n", orchestrator.FormatAmount(st.State.RoundCap))
	fmt.Fprintf(w, "round raised\t%s cUSD\n", orchestrator.FormatAmount(st.State.RoundRaised))
	fmt.Fprintf(w, "sold\t%s\n", orchestrator.FormatAmount(st.State.TotalSold))
	fmt.Fprintf(w, "claimed\t%s\n", orchestrator.FormatAmount(st.State.TotalClaimed))
	fmt.Fprintf(w, "held\t%s\n", orchestrator.FormatAmount(st.Held))
	fmt.Fprintf(w, "withdrawable\t%s\n", orchestrator.FormatAmount(st.Available))
	for _, p := range st.Phases {
		fmt.Fprintf(w, "phase %d\tprice %s cap %s max %s active %t\n", p.Phase,
			orchestrator.FormatAmount(p.Price), orchestrator.FormatAmount(p.DisplayCap),
			orchestrator.FormatAmount(p.MaxPerAddr), p.Active)
	}
	if err := w.Flush(); err != nil {
		return fail(s.stderr, err)
	}
	return exitOK
}
