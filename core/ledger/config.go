package ledger

import "confio/core/state"

// Config holds the consensus parameters of a ledger instance.
type Config struct {
	GenesisID    string
	MinFee       uint64
	MaxTxnLife   uint64
	MaxInnerTxns int
	MaxLogs      int
	MaxLogBytes  int
	MaxBoxName   int
	MaxBoxSize   int
	Requirements state.Requirements
	// DevMode commits a round for every accepted submission.
	DevMode bool
}

// DefaultConfig returns the parameters used by the devnet.
func DefaultConfig() Config {
	return Config{
		GenesisID:    "confio-devnet-v1",
		MinFee:       1_000,
		MaxTxnLife:   1_000,
		MaxInnerTxns: 256,
		MaxLogs:      32,
		MaxLogBytes:  1_024,
		MaxBoxName:   64,
		MaxBoxSize:   4_096,
		Requirements: state.DefaultRequirements,
		DevMode:      true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.GenesisID == "" {
		c.GenesisID = def.GenesisID
	}
	if c.MinFee == 0 {
		c.MinFee = def.MinFee
	}
	if c.MaxTxnLife == 0 {
		c.MaxTxnLife = def.MaxTxnLife
	}
	if c.MaxInnerTxns <= 0 {
		c.MaxInnerTxns = def.MaxInnerTxns
	}
	if c.MaxLogs <= 0 {
		c.MaxLogs = def.MaxLogs
	}
	if c.MaxLogBytes <= 0 {
		c.MaxLogBytes = def.MaxLogBytes
	}
	if c.MaxBoxName <= 0 {
		c.MaxBoxName = def.MaxBoxName
	}
	if c.MaxBoxSize <= 0 {
		c.MaxBoxSize = def.MaxBoxSize
	}
	if c.Requirements == (state.Requirements{}) {
		c.Requirements = def.Requirements
	}
	return c
}
