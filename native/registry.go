// Package native wires the asset control programs into a ledger.
package native

import (
	"sort"

	"confio/core/ledger"
	"confio/native/payroll"
	"confio/native/presale"
	"confio/native/rewards"
	"confio/native/stablecoin"
	"confio/native/vesting"
)

// Programs returns a fresh instance of every program keyed by the name
// application creates reference.
func Programs() map[string]ledger.Program {
	return map[string]ledger.Program{
		stablecoin.ProgramName:  stablecoin.New(),
		presale.ProgramName:     presale.New(),
		vesting.ProgramName:     vesting.NewSingle(),
		vesting.PoolProgramName: vesting.NewPool(),
		payroll.ProgramName:     payroll.New(),
		rewards.ProgramName:     rewards.New(),
	}
}

// Names lists the registered program names in sorted order.
func Names() []string {
	programs := Programs()
	out := make([]string, 0, len(programs))
	for name := range programs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Register installs every program on l.
func Register(l *ledger.Ledger) {
	for name, p := range Programs() {
		l.Register(name, p)
	}
}
