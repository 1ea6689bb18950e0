package config

import (
	"fmt"
	"os"
	"strings"

	"confio/crypto"
)

// Requirement names a setting a command cannot run without.
type Requirement int

const (
	NeedNode Requirement = iota
	NeedSigner
	NeedSponsor
	NeedStablecoin
	NeedPresale
	NeedRewards
	NeedPayroll
	NeedCUSD
	NeedCollateral
	NeedToken
	NeedMirror
)

// Validate checks the values that are independent of the command being run.
func (c *Config) Validate() error {
	if c.Presale.CapMultiplier < 1 {
		return &Error{Var: "PRESALE_ONCHAIN_CAP_MULTIPLIER", Reason: "must be at least 1"}
	}
	if c.WaitRounds == 0 {
		return &Error{Var: "CONFIO_WAIT_ROUNDS", Reason: "must be positive"}
	}
	if c.SponsorAddress != "" {
		if _, err := crypto.DecodeAddress(c.SponsorAddress); err != nil {
			return &Error{Var: "SPONSOR_ADDRESS", Reason: "not a ledger address", Err: err}
		}
	}
	for alias, addr := range c.KMS.Addresses {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return &Error{Var: "KMS_ALIAS_ADDRESSES", Reason: fmt.Sprintf("alias %q", alias), Err: err}
		}
	}
	if c.Signing.UseKMS && strings.TrimSpace(c.KMS.Region) == "" {
		return &Error{Var: "KMS_REGION", Reason: "required when USE_KMS_SIGNING is set", Err: ErrMissing}
	}
	return nil
}

// Require reports every missing setting among reqs in one error.
func (c *Config) Require(reqs ...Requirement) error {
	var missing []string
	for _, req := range reqs {
		switch req {
		case NeedNode:
			if c.Node.URL == "" {
				missing = append(missing, "LEDGER_NODE_URL")
			}
		case NeedSigner:
			if c.KMS.KeyAlias == "" {
				missing = append(missing, "KMS_KEY_ALIAS")
			}
			if !c.Signing.UseKMS && !c.Signing.Local() {
				missing = append(missing, "USE_KMS_SIGNING or SIGNER_MNEMONIC")
			}
		case NeedSponsor:
			if c.SponsorAddress == "" {
				missing = append(missing, "SPONSOR_ADDRESS")
			}
		case NeedStablecoin:
			if c.Apps.Stablecoin == 0 {
				missing = append(missing, "APP_ID_STABLECOIN")
			}
		case NeedPresale:
			if c.Apps.Presale == 0 {
				missing = append(missing, "APP_ID_PRESALE")
			}
		case NeedRewards:
			if c.Apps.Rewards == 0 {
				missing = append(missing, "APP_ID_REWARDS")
			}
		case NeedPayroll:
			if c.Apps.Payroll == 0 {
				missing = append(missing, "APP_ID_PAYROLL")
			}
		case NeedCUSD:
			if c.Assets.CUSD == 0 {
				missing = append(missing, "ASSET_ID_CUSD")
			}
		case NeedCollateral:
			if c.Assets.Collateral == 0 {
				missing = append(missing, "ASSET_ID_COLLATERAL")
			}
		case NeedToken:
			if c.Assets.Token == 0 {
				missing = append(missing, "ASSET_ID_TOKEN")
			}
		case NeedMirror:
			if c.Storage.MirrorDSN == "" {
				missing = append(missing, "MIRROR_DSN")
			}
		}
	}
	if len(missing) > 0 {
		return &Error{Reason: strings.Join(missing, ", "), Err: ErrMissing}
	}
	return nil
}

// Mnemonic returns the development recovery phrase from the environment
// value or the secret file.
func (c *Config) Mnemonic() (string, error) {
	if phrase := strings.TrimSpace(c.Signing.Mnemonic); phrase != "" {
		return phrase, nil
	}
	if c.Signing.MnemonicFile == "" {
		return "", &Error{Var: "SIGNER_MNEMONIC", Err: ErrMissing}
	}
	raw, err := os.ReadFile(c.Signing.MnemonicFile)
	if err != nil {
		return "", &Error{Var: "SIGNER_MNEMONIC_FILE", Reason: "read secret", Err: err}
	}
	return strings.TrimSpace(string(raw)), nil
}

// AliasAddress resolves the address behind alias without any network I/O:
// from the local mnemonic in development, otherwise from the declared alias
// addresses. known is false when the address can only be read from the KMS.
func (c *Config) AliasAddress(alias string) (addr crypto.Address, known bool, err error) {
	if c.Signing.Local() {
		phrase, err := c.Mnemonic()
		if err != nil {
			return crypto.ZeroAddress, false, err
		}
		key, err := crypto.PrivateKeyFromMnemonic(phrase)
		if err != nil {
			return crypto.ZeroAddress, false, &Error{Var: "SIGNER_MNEMONIC", Reason: "invalid recovery phrase", Err: err}
		}
		defer key.Wipe()
		return key.Address(), true, nil
	}
	raw, ok := c.KMS.Addresses[alias]
	if !ok {
		return crypto.ZeroAddress, false, nil
	}
	addr, err = crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.ZeroAddress, false, &Error{Var: "KMS_ALIAS_ADDRESSES", Reason: fmt.Sprintf("alias %q", alias), Err: err}
	}
	return addr, true, nil
}

// CheckSponsor refuses a sponsor address that differs from the address of
// the signing alias.
func (c *Config) CheckSponsor() error {
	if c.SponsorAddress == "" || c.KMS.KeyAlias == "" {
		return nil
	}
	addr, known, err := c.AliasAddress(c.KMS.KeyAlias)
	if err != nil || !known {
		return err
	}
	return c.MatchSponsor(addr)
}

// MatchSponsor compares the configured sponsor with an address resolved for
// the signing alias.
func (c *Config) MatchSponsor(addr crypto.Address) error {
	if c.SponsorAddress == "" {
		return nil
	}
	if sponsor := c.Sponsor(); sponsor != addr {
		return &Error{
			Var:    "SPONSOR_ADDRESS",
			Reason: fmt.Sprintf("%s does not match %s held by key alias %q", c.SponsorAddress, addr, c.KMS.KeyAlias),
		}
	}
	return nil
}
