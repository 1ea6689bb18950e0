package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"confio/crypto"
	"confio/services/orchestrator"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// amountFlag parses a decimal amount with six fractional digits into
// micro-units.
type amountFlag struct {
	micro uint64
	set   bool
}

func (a *amountFlag) String() string {
	if a == nil || !a.set {
		return ""
	}
	return orchestrator.FormatAmount(a.micro)
}

func (a *amountFlag) Set(raw string) error {
	v, err := orchestrator.ParseAmount(raw)
	if err != nil {
		return err
	}
	a.micro, a.set = v, true
	return nil
}

type addressFlag struct {
	addr crypto.Address
	set  bool
}

func (a *addressFlag) String() string {
	if a == nil || !a.set {
		return ""
	}
	return a.addr.String()
}

func (a *addressFlag) Set(raw string) error {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", raw, err)
	}
	a.addr, a.set = addr, true
	return nil
}

// parse runs fs over args and refuses positional leftovers.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}

// report prints the transaction id on stdout and everything else on stderr
// so scripts can capture the id alone.
func (s *session) report(res *orchestrator.Result) int {
	for _, txid := range res.Prior {
		fmt.Fprintf(s.stderr, "submitted %s\n", txid)
	}
	if res.Message != "" {
		fmt.Fprintln(s.stderr, res.Message)
	}
	if res.TxID != "" {
		fmt.Fprintln(s.stdout, res.TxID)
	}
	return exitOK
}

// finish reports res, or maps err to its exit status.
func (s *session) finish(res *orchestrator.Result, err error) int {
	if err != nil {
		return fail(s.stderr, err)
	}
	return s.report(res)
}
