// Package kcs keeps ledger signing keys in a cloud KMS plus an encrypted
// parameter store and hands out signers bound to a single address.
package kcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"confio/config"
	"confio/crypto"
	"confio/observability"
	"confio/observability/otel"
)

// Tag keys attached to KMS keys and parameters.
const (
	TagProject = "project"
	TagPurpose = "purpose"
	TagAddress = "address"
)

const (
	MinDeletionDays = 7
	MaxDeletionDays = 30

	defaultPurpose = "ledger-signer"
	backendKMS     = "kms"
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// KeySpec describes a KMS key to create.
type KeySpec struct {
	Description string
	Tags        map[string]string
	// Policy is a JSON key policy; empty keeps the account default.
	Policy string
}

// AliasEntry is one alias known to the key manager.
type AliasEntry struct {
	Alias string
	KeyID string
}

// KeyManager is the subset of a cloud KMS the service needs. Implementations
// return errors wrapping ErrNotFound or ErrAccessDenied where they apply.
type KeyManager interface {
	CreateKey(ctx context.Context, spec KeySpec) (string, error)
	// PointAlias creates alias or moves it to keyID.
	PointAlias(ctx context.Context, alias, keyID string) error
	DeleteAlias(ctx context.Context, alias string) error
	ResolveAlias(ctx context.Context, alias string) (string, error)
	KeyTags(ctx context.Context, keyID string) (map[string]string, error)
	ScheduleDeletion(ctx context.Context, keyID string, days int) error
	CancelDeletion(ctx context.Context, keyID string) error
	ListAliases(ctx context.Context) ([]AliasEntry, error)
}

// ParameterStore keeps secure strings encrypted under a KMS key.
type ParameterStore interface {
	PutSecure(ctx context.Context, name, value, keyID string, tags map[string]string) error
	GetDecrypted(ctx context.Context, name string) (string, error)
	Delete(ctx context.Context, name string) error
}

// Config carries the custody settings.
type Config struct {
	Project           string
	AccountID         string
	OperatorPrincipal string
}

// FromConfig extracts the custody settings from process configuration.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Project:           cfg.KMS.Project,
		AccountID:         cfg.KMS.AccountID,
		OperatorPrincipal: cfg.KMS.OperatorPrincipal,
	}
}

// Service implements the custody flows.
type Service struct {
	cfg      Config
	keys     KeyManager
	params   ParameterStore
	logger   *slog.Logger
	warnings io.Writer
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWarnings redirects the recovery phrase banner, which goes to stderr by
// default.
func WithWarnings(w io.Writer) Option {
	return func(s *Service) {
		if w != nil {
			s.warnings = w
		}
	}
}

// New builds a Service over the given backends.
func New(cfg Config, keys KeyManager, params ParameterStore, opts ...Option) (*Service, error) {
	if keys == nil || params == nil {
		return nil, fmt.Errorf("kcs: key manager and parameter store required")
	}
	if strings.TrimSpace(cfg.Project) == "" {
		cfg.Project = config.DefaultProject
	}
	s := &Service{
		cfg:      cfg,
		keys:     keys,
		params:   params,
		logger:   slog.Default(),
		warnings: os.Stderr,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ParameterName returns the parameter holding the secret for alias.
func (s *Service) ParameterName(alias string) string {
	return fmt.Sprintf("/%s/keys/%s", s.cfg.Project, alias)
}

func (s *Service) tags(addr crypto.Address) map[string]string {
	return map[string]string{
		TagProject: s.cfg.Project,
		TagPurpose: defaultPurpose,
		TagAddress: addr.String(),
	}
}

func validateAlias(alias string) error {
	if !aliasPattern.MatchString(alias) {
		return ErrInvalidAlias
	}
	return nil
}

// instrument opens a span and returns a closure recording its outcome.
func (s *Service) instrument(ctx context.Context, op, alias string) (context.Context, func(error)) {
	start := s.now()
	ctx, span := otel.Tracer().Start(ctx, "kcs."+op, trace.WithAttributes(attribute.String("alias", alias)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "custody operation failed")
		}
		span.End()
		observability.Signer().Observe(op, backendKMS, s.now().Sub(start), err)
	}
}

// CreatedKey is the result of CreateKey and ImportKey. Phrase is only set by
// CreateKey and is shown to the operator exactly once.
type CreatedKey struct {
	Alias   string
	KeyID   string
	Address crypto.Address
	Phrase  string
}

// CreateKey generates a key pair, creates its KMS key and alias and stores
// the recovery phrase encrypted under the new key.
func (s *Service) CreateKey(ctx context.Context, alias, description string) (created *CreatedKey, err error) {
	ctx, done := s.instrument(ctx, "create", alias)
	defer func() { done(err) }()
	if err := validateAlias(alias); err != nil {
		return nil, err
	}
	key, phrase, err := crypto.NewMnemonic()
	if err != nil {
		return nil, accessErr("create", alias, err)
	}
	addr := key.Address()
	key.Wipe()

	keyID, err := s.provision(ctx, "create", alias, description, "", addr, phrase)
	if err != nil {
		return nil, err
	}
	s.warnRecoveryPhrase(alias, addr)
	s.logger.Warn("signing key created; recovery phrase shown once",
		slog.String("alias", alias),
		slog.String("address", addr.String()))
	return &CreatedKey{Alias: alias, KeyID: keyID, Address: addr, Phrase: phrase}, nil
}

// ImportKey stores an existing recovery phrase under alias. The KMS key gets
// a policy allowing the account root and the operator principal to use it.
func (s *Service) ImportKey(ctx context.Context, alias, phrase string) (created *CreatedKey, err error) {
	ctx, done := s.instrument(ctx, "import", alias)
	defer func() { done(err) }()
	if err := validateAlias(alias); err != nil {
		return nil, err
	}
	policy, err := s.importPolicy()
	if err != nil {
		return nil, err
	}
	key, err := crypto.PrivateKeyFromMnemonic(phrase)
	if err != nil {
		return nil, accessErr("import", alias, err)
	}
	addr := key.Address()
	key.Wipe()

	keyID, err := s.provision(ctx, "import", alias, "imported ledger signer "+alias, policy, addr, phrase)
	if err != nil {
		return nil, err
	}
	s.logger.Info("signing key imported", slog.String("alias", alias), slog.String("address", addr.String()))
	return &CreatedKey{Alias: alias, KeyID: keyID, Address: addr}, nil
}

// provision runs the shared create/import steps and undoes the completed
// ones when a later step fails.
func (s *Service) provision(ctx context.Context, op, alias, description, policy string, addr crypto.Address, secret string) (string, error) {
	previous, err := s.keys.ResolveAlias(ctx, alias)
	if err != nil && !isNotFound(err) {
		return "", accessErr(op, alias, err)
	}
	tags := s.tags(addr)
	keyID, err := s.keys.CreateKey(ctx, KeySpec{Description: description, Tags: tags, Policy: policy})
	if err != nil {
		return "", accessErr(op, alias, err)
	}
	if err := s.keys.PointAlias(ctx, alias, keyID); err != nil {
		s.rollbackKey(ctx, alias, keyID)
		return "", accessErr(op, alias, err)
	}
	if err := s.params.PutSecure(ctx, s.ParameterName(alias), secret, keyID, tags); err != nil {
		s.rollbackAlias(ctx, alias, previous)
		s.rollbackKey(ctx, alias, keyID)
		return "", accessErr(op, alias, err)
	}
	return keyID, nil
}

func (s *Service) rollbackKey(ctx context.Context, alias, keyID string) {
	if err := s.keys.ScheduleDeletion(ctx, keyID, MinDeletionDays); err != nil {
		s.logger.Error("rollback: schedule key deletion failed",
			slog.String("alias", alias), slog.String("key_id", keyID), slog.String("error", err.Error()))
	}
}

func (s *Service) rollbackAlias(ctx context.Context, alias, previous string) {
	var err error
	if previous != "" {
		err = s.keys.PointAlias(ctx, alias, previous)
	} else {
		err = s.keys.DeleteAlias(ctx, alias)
	}
	if err != nil {
		s.logger.Error("rollback: restore alias failed", slog.String("alias", alias), slog.String("error", err.Error()))
	}
}

func (s *Service) warnRecoveryPhrase(alias string, addr crypto.Address) {
	bar := strings.Repeat("!", 72)
	fmt.Fprintf(s.warnings, "%s\n!!! RECOVERY PHRASE FOR %q (%s)\n!!! IS SHOWN EXACTLY ONCE. WRITE IT DOWN OFFLINE NOW.\n!!! IT IS THE ONLY WAY TO RECOVER THIS KEY OUTSIDE KMS.\n%s\n", bar, alias, addr, bar)
}

type policyStatement struct {
	Sid       string            `json:"Sid"`
	Effect    string            `json:"Effect"`
	Principal map[string]any    `json:"Principal"`
	Action    []string          `json:"Action"`
	Resource  string            `json:"Resource"`
	Condition map[string]string `json:"Condition,omitempty"`
}

type keyPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

func (s *Service) importPolicy() (string, error) {
	if strings.TrimSpace(s.cfg.AccountID) == "" {
		return "", &config.Error{Var: "KMS_ACCOUNT_ID", Reason: "required to import keys", Err: config.ErrMissing}
	}
	if strings.TrimSpace(s.cfg.OperatorPrincipal) == "" {
		return "", &config.Error{Var: "KMS_OPERATOR_PRINCIPAL", Reason: "required to import keys", Err: config.ErrMissing}
	}
	doc := keyPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{
			{
				Sid:       "AccountRoot",
				Effect:    "Allow",
				Principal: map[string]any{"AWS": fmt.Sprintf("arn:aws:iam::%s:root", s.cfg.AccountID)},
				Action:    []string{"kms:*"},
				Resource:  "*",
			},
			{
				Sid:       "OperatorUse",
				Effect:    "Allow",
				Principal: map[string]any{"AWS": s.cfg.OperatorPrincipal},
				Action:    []string{"kms:Encrypt", "kms:Decrypt", "kms:DescribeKey", "kms:ListResourceTags"},
				Resource:  "*",
			},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DeleteKey schedules the alias's KMS key for deletion after days and removes
// its parameter immediately.
func (s *Service) DeleteKey(ctx context.Context, alias string, days int) (err error) {
	ctx, done := s.instrument(ctx, "delete", alias)
	defer func() { done(err) }()
	if err := validateAlias(alias); err != nil {
		return err
	}
	if days < MinDeletionDays || days > MaxDeletionDays {
		return ErrInvalidWindow
	}
	keyID, err := s.keys.ResolveAlias(ctx, alias)
	if err != nil {
		return accessErr("delete", alias, err)
	}
	if err := s.keys.ScheduleDeletion(ctx, keyID, days); err != nil {
		return accessErr("delete", alias, err)
	}
	if err := s.params.Delete(ctx, s.ParameterName(alias)); err != nil && !isNotFound(err) {
		if cerr := s.keys.CancelDeletion(ctx, keyID); cerr != nil {
			s.logger.Error("rollback: cancel key deletion failed",
				slog.String("alias", alias), slog.String("key_id", keyID), slog.String("error", cerr.Error()))
		}
		return accessErr("delete", alias, err)
	}
	if err := s.keys.DeleteAlias(ctx, alias); err != nil {
		s.logger.Warn("alias left pointing at key pending deletion",
			slog.String("alias", alias), slog.String("error", err.Error()))
	}
	s.logger.Info("signing key scheduled for deletion",
		slog.String("alias", alias), slog.String("key_id", keyID), slog.Int("window_days", days))
	return nil
}

// KeyInfo describes a managed key.
type KeyInfo struct {
	Alias   string
	KeyID   string
	Address string
	Purpose string
}

// ListKeys returns the keys tagged with the configured project, sorted by
// alias.
func (s *Service) ListKeys(ctx context.Context) (keys []KeyInfo, err error) {
	ctx, done := s.instrument(ctx, "list", "")
	defer func() { done(err) }()
	entries, err := s.keys.ListAliases(ctx)
	if err != nil {
		return nil, accessErr("list", "", err)
	}
	for _, entry := range entries {
		if entry.KeyID == "" {
			continue
		}
		tags, err := s.keys.KeyTags(ctx, entry.KeyID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, accessErr("list", entry.Alias, err)
		}
		if tags[TagProject] != s.cfg.Project {
			continue
		}
		keys = append(keys, KeyInfo{Alias: entry.Alias, KeyID: entry.KeyID, Address: tags[TagAddress], Purpose: tags[TagPurpose]})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Alias < keys[j].Alias })
	return keys, nil
}
