// Command confioctl runs the Confío operator workflows:
//
//	confioctl <noun> <verb> [flags]
//
// Configuration comes from the environment (and CONFIO_CONFIG). On success
// the transaction id is printed as a single line on stdout.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv)
	stop()
	os.Exit(code)
}

type command func(ctx context.Context, s *session, args []string) int

var nouns = map[string]map[string]command{
	"presale": {
		"set-phase":             presaleSetPhase,
		"start-round":           presaleStartRound,
		"end-round":             presaleEndRound,
		"resume-round":          presaleResumeRound,
		"withdraw-unsold":       presaleWithdrawUnsold,
		"fund-app-from-sponsor": presaleFundApp,
		"unlock-claims":         presaleUnlockClaims,
		"status":                presaleStatus,
	},
	"stablecoin": {
		"transfer-admin": stablecoinTransferAdmin,
		"update-sponsor": stablecoinUpdateSponsor,
		"withdraw-usdc":  stablecoinWithdrawUSDC,
		"freeze":         stablecoinFreeze,
		"unfreeze":       stablecoinUnfreeze,
		"pause":          stablecoinPause,
		"unpause":        stablecoinUnpause,
	},
	"rewards": {
		"bootstrap-and-fund": rewardsBootstrapAndFund,
		"withdraw":           rewardsWithdraw,
		"revoke":             rewardsRevoke,
	},
	"keys": {
		"create":  keysCreate,
		"import":  keysImport,
		"delete":  keysDelete,
		"address": keysAddress,
		"list":    keysList,
	},
	"tx": {
		"status": txStatus,
	},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookup func(string) (string, bool)) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, usage())
		return exitInput
	}
	verbs, ok := nouns[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n%s\n", args[0], usage())
		return exitInput
	}
	cmd, ok := verbs[args[1]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown %s subcommand: %s\n%s\n", args[0], args[1], usage())
		return exitInput
	}
	s, err := newSession(ctx, args[0]+"."+args[1], stdout, stderr, lookup)
	if err != nil {
		return fail(stderr, err)
	}
	defer s.close(ctx)
	return cmd(ctx, s, args[2:])
}

func usage() string {
	return `Usage: confioctl <noun> <verb> [flags]

  presale     set-phase | start-round | end-round | resume-round |
              withdraw-unsold | fund-app-from-sponsor | unlock-claims | status
  stablecoin  transfer-admin | update-sponsor | withdraw-usdc |
              freeze | unfreeze | pause | unpause
  rewards     bootstrap-and-fund | withdraw | revoke
  keys        create | import | delete | address | list
  tx          status

Exit codes: 0 ok, 2 input or configuration, 3 preflight, 4 rejected on ledger,
5 key access, 6 confirmation timeout.`
}
