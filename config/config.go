package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultCapMultiplier      = 5
	DefaultSafetyBufferTokens = 10_000
	DefaultWaitRounds         = 10
	DefaultProject            = "confio"
	DefaultEnv                = "dev"
)

// Config is the process configuration. It is built once at startup and
// passed down; nothing reads the environment afterwards.
type Config struct {
	Env            string    `toml:"Env"`
	Node           Node      `toml:"node"`
	Apps           Apps      `toml:"apps"`
	Assets         Assets    `toml:"assets"`
	KMS            KMS       `toml:"kms"`
	Signing        Signing   `toml:"signing"`
	SponsorAddress string    `toml:"SponsorAddress"`
	Presale        Presale   `toml:"presale"`
	Operator       Operator  `toml:"operator"`
	Storage        Storage   `toml:"storage"`
	Telemetry      Telemetry `toml:"telemetry"`
	// SponsorshipPolicy is the path of the YAML fee sponsorship policy.
	SponsorshipPolicy string `toml:"SponsorshipPolicy"`
	WaitRounds        uint64 `toml:"WaitRounds"`
}

// Default returns the configuration before any file or environment is
// applied.
func Default() *Config {
	return &Config{
		Env:        DefaultEnv,
		KMS:        KMS{Project: DefaultProject, Addresses: map[string]string{}},
		Presale:    Presale{CapMultiplier: DefaultCapMultiplier, SafetyBufferTokens: DefaultSafetyBufferTokens},
		WaitRounds: DefaultWaitRounds,
	}
}

// Load decodes a TOML overlay on top of cfg. Unknown keys are rejected so a
// misspelt setting cannot silently fall back to its default.
func Load(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return &Error{Var: "CONFIO_CONFIG", Reason: fmt.Sprintf("decode %s", path), Err: err}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return &Error{Var: "CONFIO_CONFIG", Reason: fmt.Sprintf("unknown keys in %s: %s", path, strings.Join(keys, ", "))}
	}
	if cfg.KMS.Addresses == nil {
		cfg.KMS.Addresses = map[string]string{}
	}
	return nil
}

// LookupFunc resolves one environment variable.
type LookupFunc func(string) (string, bool)

// FromEnv builds the configuration from defaults, the optional TOML file
// named by CONFIO_CONFIG, and then the environment. The result is validated.
func FromEnv(lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := Default()
	if path, ok := lookup("CONFIO_CONFIG"); ok && strings.TrimSpace(path) != "" {
		if err := Load(strings.TrimSpace(path), cfg); err != nil {
			return nil, err
		}
	}
	r := reader{lookup: lookup}

	r.setString("CONFIO_ENV", &cfg.Env)
	r.setString("LEDGER_NODE_URL", &cfg.Node.URL)
	r.setString("LEDGER_NODE_TOKEN", &cfg.Node.Token)
	r.setString("LEDGER_INDEXER_URL", &cfg.Node.IndexerURL)
	r.setFloat("LEDGER_NODE_RPS", &cfg.Node.RequestsPerSecond)

	r.setUint("APP_ID_STABLECOIN", &cfg.Apps.Stablecoin)
	r.setUint("APP_ID_PRESALE", &cfg.Apps.Presale)
	r.setUint("APP_ID_PAYROLL", &cfg.Apps.Payroll)
	r.setUint("APP_ID_VESTING", &cfg.Apps.Vesting)
	r.setUint("APP_ID_VESTING_POOL", &cfg.Apps.VestingPool)
	r.setUint("APP_ID_REWARDS", &cfg.Apps.Rewards)

	r.setUint("ASSET_ID_CUSD", &cfg.Assets.CUSD)
	r.setUint("ASSET_ID_COLLATERAL", &cfg.Assets.Collateral)
	r.setUint("ASSET_ID_TOKEN", &cfg.Assets.Token)

	r.setString("KMS_REGION", &cfg.KMS.Region)
	r.setString("KMS_KEY_ALIAS", &cfg.KMS.KeyAlias)
	r.setString("KMS_PROJECT", &cfg.KMS.Project)
	r.setString("KMS_ACCOUNT_ID", &cfg.KMS.AccountID)
	r.setString("KMS_OPERATOR_PRINCIPAL", &cfg.KMS.OperatorPrincipal)
	r.setPairs("KMS_ALIAS_ADDRESSES", cfg.KMS.Addresses)

	r.setBool("USE_KMS_SIGNING", &cfg.Signing.UseKMS)
	r.setString("SIGNER_MNEMONIC", &cfg.Signing.Mnemonic)
	r.setString("SIGNER_MNEMONIC_FILE", &cfg.Signing.MnemonicFile)

	r.setString("SPONSOR_ADDRESS", &cfg.SponsorAddress)
	r.setString("SPONSORSHIP_POLICY_FILE", &cfg.SponsorshipPolicy)
	r.setUint("PRESALE_ONCHAIN_CAP_MULTIPLIER", &cfg.Presale.CapMultiplier)
	r.setUint("PRESALE_FUND_SAFETY_BUFFER_TOKEN", &cfg.Presale.SafetyBufferTokens)

	r.setString("OPERATOR_TOKEN", &cfg.Operator.Token)
	r.setString("OPERATOR_JWT_SECRET", &cfg.Operator.JWTSecret)
	r.setString("OPERATOR_JWT_ISSUER", &cfg.Operator.JWTIssuer)
	r.setString("CONFIO_OPERATOR", &cfg.Operator.DevName)
	r.setString("ACCESS_POLICY_FILE", &cfg.Operator.PolicyFile)

	r.setString("MIRROR_DSN", &cfg.Storage.MirrorDSN)
	r.setString("CONFIO_JOURNAL", &cfg.Storage.JournalPath)
	r.setString("CONFIO_AUDIT_LOG", &cfg.Storage.AuditLog)

	r.setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	r.setBool("OTEL_EXPORTER_OTLP_INSECURE", &cfg.Telemetry.Insecure)
	r.setString("OTEL_EXPORTER_OTLP_HEADERS", &cfg.Telemetry.Headers)
	r.setUint("CONFIO_WAIT_ROUNDS", &cfg.WaitRounds)

	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// reader applies environment values and keeps the first parse failure.
type reader struct {
	lookup LookupFunc
	err    error
}

func (r *reader) get(name string) (string, bool) {
	v, ok := r.lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) fail(name, raw string, err error) {
	if r.err == nil {
		r.err = &Error{Var: name, Reason: fmt.Sprintf("invalid value %q", raw), Err: err}
	}
}

func (r *reader) setString(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *reader) setUint(name string, dst *uint64) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = n
}

func (r *reader) setFloat(name string, dst *float64) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		r.fail(name, v, err)
		return
	}
	*dst = f
}

func (r *reader) setBool(name string, dst *bool) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(name, v, err)
		return
	}
	*dst = b
}

// setPairs reads "k=v,k2=v2".
func (r *reader) setPairs(name string, dst map[string]string) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			r.fail(name, v, errors.New("expected alias=address pairs"))
			return
		}
		dst[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
}

// AuthHeader returns the header that carries the node token. Hosts whose
// name contains "nodely" expect X-API-Key; everything else takes a bearer
// token. An empty token yields no header.
func (n Node) AuthHeader() (name, value string) {
	token := strings.TrimSpace(n.Token)
	if token == "" {
		return "", ""
	}
	host := n.URL
	if u, err := url.Parse(n.URL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	if strings.Contains(strings.ToLower(host), "nodely") {
		return "X-API-Key", token
	}
	return "Authorization", "Bearer " + token
}
