package kcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"confio/core/types"
	"confio/crypto"
	"confio/observability"
	"confio/observability/otel"
)

const backendLocal = "local"

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// KMSSigner signs for the address behind one alias. The secret is fetched
// and decrypted on every call and dropped before the call returns.
type KMSSigner struct {
	svc   *Service
	alias string
	keyID string
	addr  crypto.Address
}

// Signer resolves alias. The address comes from the key's address tag; the
// secret is only fetched when the tag is missing.
func (s *Service) Signer(ctx context.Context, alias string) (signer *KMSSigner, err error) {
	ctx, done := s.instrument(ctx, "resolve", alias)
	defer func() { done(err) }()
	if err := validateAlias(alias); err != nil {
		return nil, err
	}
	keyID, err := s.keys.ResolveAlias(ctx, alias)
	if err != nil {
		return nil, accessErr("resolve", alias, err)
	}
	tags, err := s.keys.KeyTags(ctx, keyID)
	if err != nil {
		return nil, accessErr("resolve", alias, err)
	}
	signer = &KMSSigner{svc: s, alias: alias, keyID: keyID}
	if tagged := tags[TagAddress]; tagged != "" {
		addr, err := crypto.DecodeAddress(tagged)
		if err != nil {
			return nil, accessErr("resolve", alias, fmt.Errorf("address tag: %w", err))
		}
		signer.addr = addr
		return signer, nil
	}
	s.logger.Warn("address tag missing; deriving from stored key", slog.String("alias", alias))
	key, err := signer.fetch(ctx)
	if err != nil {
		return nil, err
	}
	signer.addr = key.Address()
	key.Wipe()
	return signer, nil
}

func (k *KMSSigner) Alias() string { return k.alias }

func (k *KMSSigner) Address() crypto.Address { return k.addr }

func (k *KMSSigner) fetch(ctx context.Context) (*crypto.PrivateKey, error) {
	phrase, err := k.svc.params.GetDecrypted(ctx, k.svc.ParameterName(k.alias))
	if err != nil {
		return nil, accessErr("sign", k.alias, err)
	}
	key, err := crypto.PrivateKeyFromMnemonic(phrase)
	if err != nil {
		return nil, accessErr("sign", k.alias, errors.New("stored secret is not a valid recovery phrase"))
	}
	return key, nil
}

// SignTransaction signs tx. When the signer's address differs from the
// sender, the transaction is signed as the sender's auth address.
func (k *KMSSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (stx *types.SignedTxn, err error) {
	ctx, done := k.svc.instrument(ctx, "sign", k.alias)
	defer func() { done(err) }()
	key, err := k.fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	if key.Address() != k.addr {
		return nil, accessErr("sign", k.alias, fmt.Errorf("stored key controls %s, alias is tagged %s", key.Address(), k.addr))
	}
	return signWith(k.alias, key, tx)
}

func signWith(alias string, key *crypto.PrivateKey, tx *types.Transaction) (*types.SignedTxn, error) {
	auth := crypto.ZeroAddress
	if key.Address() != tx.Sender {
		auth = key.Address()
	}
	stx, err := types.SignTransaction(tx, key, auth)
	if err != nil {
		return nil, accessErr("sign", alias, err)
	}
	return stx, nil
}

// LocalSigner signs with a recovery phrase held by the process. It exists
// for development networks only.
type LocalSigner struct {
	alias  string
	phrase string
	addr   crypto.Address
}

// NewLocalSigner validates phrase and derives its address.
func NewLocalSigner(alias, phrase string) (*LocalSigner, error) {
	key, err := crypto.PrivateKeyFromMnemonic(phrase)
	if err != nil {
		return nil, accessErr("local", alias, err)
	}
	defer key.Wipe()
	return &LocalSigner{alias: alias, phrase: phrase, addr: key.Address()}, nil
}

func (l *LocalSigner) Alias() string { return l.alias }

func (l *LocalSigner) Address() crypto.Address { return l.addr }

// SignTransaction derives the key, signs and wipes it.
func (l *LocalSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (stx *types.SignedTxn, err error) {
	start := time.Now()
	_, span := otel.Tracer().Start(ctx, "kcs.sign")
	defer func() {
		span.End()
		observability.Signer().Observe("sign", backendLocal, time.Since(start), err)
	}()
	key, err := crypto.PrivateKeyFromMnemonic(l.phrase)
	if err != nil {
		return nil, accessErr("sign", l.alias, err)
	}
	defer key.Wipe()
	return signWith(l.alias, key, tx)
}
