package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FeeMode selects who pays a group's fees.
type FeeMode string

const (
	FeeSelf      FeeMode = "self"
	FeeSponsored FeeMode = "sponsored"
)

// SponsorshipPolicy decides, per action, whether the sponsor pays the fees.
// Actions are "<contract>.<method>" names; a "<contract>.*" entry covers
// every method of a contract.
type SponsorshipPolicy struct {
	Default   FeeMode  `yaml:"default"`
	Sponsored []string `yaml:"sponsored"`
	SelfPaid  []string `yaml:"self_paid"`
}

// DefaultSponsorship sponsors the user-facing calls that must feel gasless.
func DefaultSponsorship() SponsorshipPolicy {
	return SponsorshipPolicy{
		Default: FeeSelf,
		Sponsored: []string{
			"stablecoin.mint_with_collateral",
			"stablecoin.burn_for_collateral",
			"presale.purchase",
			"presale.claim",
			"rewards.claim",
			"payroll.payout",
		},
	}
}

// Mode returns the fee mode for action. Explicit self-paid entries win over
// sponsored ones.
func (p SponsorshipPolicy) Mode(action string) FeeMode {
	if matchAction(p.SelfPaid, action) {
		return FeeSelf
	}
	if matchAction(p.Sponsored, action) {
		return FeeSponsored
	}
	if p.Default == FeeSponsored {
		return FeeSponsored
	}
	return FeeSelf
}

func matchAction(patterns []string, action string) bool {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == action {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, ".*"); ok && strings.HasPrefix(action, prefix+".") {
			return true
		}
	}
	return false
}

func (p SponsorshipPolicy) validate() error {
	switch p.Default {
	case "", FeeSelf, FeeSponsored:
		return nil
	default:
		return fmt.Errorf("unknown default fee mode %q", p.Default)
	}
}

// AccessPolicy maps operator actions to the roles allowed to run them, and
// optionally local operator names to roles for development.
type AccessPolicy struct {
	Actions   map[string][]string `yaml:"actions"`
	Operators map[string][]string `yaml:"operators"`
}

// Roles understood by the access layer.
const (
	RoleAdmin    = "admin"
	RoleTreasury = "treasury"
	RolePresale  = "presale"
	RoleRewards  = "rewards"
	RoleSecurity = "security"
)

// DefaultAccess returns the built-in role matrix. The admin role may run
// everything.
func DefaultAccess() AccessPolicy {
	return AccessPolicy{
		Actions: map[string][]string{
			"presale.start-round":           {RolePresale},
			"presale.end-round":             {RolePresale},
			"presale.resume-round":          {RolePresale},
			"presale.withdraw-unsold":       {RoleTreasury},
			"presale.fund-app-from-sponsor": {RoleTreasury, RolePresale},
			"presale.unlock-claims":         {RolePresale},
			"presale.set-phase":             {RolePresale},
			"presale.status":                {RolePresale, RoleTreasury},
			"stablecoin.transfer-admin":     {},
			"stablecoin.update-sponsor":     {RoleTreasury},
			"stablecoin.withdraw-usdc":      {RoleTreasury},
			"stablecoin.freeze":             {RoleSecurity},
			"stablecoin.unfreeze":           {RoleSecurity},
			"stablecoin.pause":              {RoleSecurity},
			"stablecoin.unpause":            {RoleSecurity},
			"rewards.bootstrap-and-fund":    {RoleRewards, RoleTreasury},
			"rewards.withdraw":              {RoleTreasury},
			"rewards.revoke":                {RoleRewards, RoleSecurity},
			"keys.create":                   {},
			"keys.import":                   {},
			"keys.delete":                   {},
			"keys.address":                  {RoleTreasury, RoleSecurity},
			"keys.list":                     {RoleSecurity},
			"tx.status":                     {RoleTreasury, RolePresale, RoleRewards, RoleSecurity},
		},
	}
}

// Allowed reports whether any of roles may run action. Unknown actions are
// admin-only.
func (p AccessPolicy) Allowed(action string, roles []string) bool {
	allowed := p.Actions[action]
	for _, role := range roles {
		if role == RoleAdmin {
			return true
		}
		for _, want := range allowed {
			if role == want {
				return true
			}
		}
	}
	return false
}

// ActionNames lists the actions the policy knows in sorted order.
func (p AccessPolicy) ActionNames() []string {
	out := make([]string, 0, len(p.Actions))
	for name := range p.Actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadSponsorship reads a YAML sponsorship policy. An empty path yields the
// default policy.
func LoadSponsorship(path string) (SponsorshipPolicy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSponsorship(), nil
	}
	var p SponsorshipPolicy
	if err := decodeYAML(path, &p); err != nil {
		return p, &Error{Var: "SPONSORSHIP_POLICY_FILE", Err: err}
	}
	if err := p.validate(); err != nil {
		return p, &Error{Var: "SPONSORSHIP_POLICY_FILE", Err: err}
	}
	return p, nil
}

// LoadAccess reads a YAML access policy. Actions missing from the file keep
// their default roles.
func LoadAccess(path string) (AccessPolicy, error) {
	p := DefaultAccess()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	var file AccessPolicy
	if err := decodeYAML(path, &file); err != nil {
		return p, &Error{Var: "ACCESS_POLICY_FILE", Err: err}
	}
	for action, roles := range file.Actions {
		p.Actions[action] = roles
	}
	p.Operators = file.Operators
	return p, nil
}

func decodeYAML(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
