package config

import "confio/crypto"

// Node locates the ledger RPC endpoint.
type Node struct {
	URL        string `toml:"URL"`
	Token      string `toml:"Token"`
	IndexerURL string `toml:"IndexerURL"`
	// RequestsPerSecond throttles the node client; zero disables throttling.
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
}

// Apps holds the deployed application ids.
type Apps struct {
	Stablecoin  uint64 `toml:"Stablecoin"`
	Presale     uint64 `toml:"Presale"`
	Payroll     uint64 `toml:"Payroll"`
	Vesting     uint64 `toml:"Vesting"`
	VestingPool uint64 `toml:"VestingPool"`
	Rewards     uint64 `toml:"Rewards"`
}

// Assets holds the asset ids the contracts are bound to.
type Assets struct {
	CUSD       uint64 `toml:"CUSD"`
	Collateral uint64 `toml:"Collateral"`
	Token      uint64 `toml:"Token"`
}

// KMS locates the cloud key custody backend.
type KMS struct {
	Region            string `toml:"Region"`
	KeyAlias          string `toml:"KeyAlias"`
	Project           string `toml:"Project"`
	AccountID         string `toml:"AccountID"`
	OperatorPrincipal string `toml:"OperatorPrincipal"`
	// Addresses declares the ledger address behind each alias so the sponsor
	// can be checked without contacting the KMS.
	Addresses map[string]string `toml:"Addresses"`
}

// Signing selects between KMS custody and the local development signer.
type Signing struct {
	UseKMS       bool   `toml:"UseKMS"`
	Mnemonic     string `toml:"-"`
	MnemonicFile string `toml:"MnemonicFile"`
}

// Local reports whether transactions are signed with the development
// mnemonic instead of the KMS.
func (s Signing) Local() bool {
	return !s.UseKMS && (s.Mnemonic != "" || s.MnemonicFile != "")
}

// Presale carries the operator-side presale knobs.
type Presale struct {
	CapMultiplier      uint64 `toml:"CapMultiplier"`
	SafetyBufferTokens uint64 `toml:"SafetyBufferTokens"`
}

// Operator configures the access layer in front of the orchestrator.
type Operator struct {
	Token      string `toml:"-"`
	JWTSecret  string `toml:"-"`
	JWTIssuer  string `toml:"JWTIssuer"`
	DevName    string `toml:"DevName"`
	PolicyFile string `toml:"PolicyFile"`
}

// Storage points at the off-ledger stores.
type Storage struct {
	MirrorDSN   string `toml:"MirrorDSN"`
	JournalPath string `toml:"JournalPath"`
	AuditLog    string `toml:"AuditLog"`
}

// Telemetry configures the OpenTelemetry exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
}

// Sponsor returns the configured sponsor address, or the zero address when
// none is set.
func (c *Config) Sponsor() crypto.Address {
	if c == nil || c.SponsorAddress == "" {
		return crypto.ZeroAddress
	}
	addr, err := crypto.DecodeAddress(c.SponsorAddress)
	if err != nil {
		return crypto.ZeroAddress
	}
	return addr
}
