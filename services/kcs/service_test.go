package kcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"confio/config"
	"confio/core/types"
	"confio/crypto"
)

type fixture struct {
	svc      *Service
	kms      *MemoryKMS
	params   *MemoryParameters
	warnings *bytes.Buffer
	logs     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{kms: NewMemoryKMS(), params: NewMemoryParameters(), warnings: &bytes.Buffer{}, logs: &bytes.Buffer{}}
	svc, err := New(Config{Project: "confio", AccountID: "123456789012", OperatorPrincipal: "arn:aws:iam::123456789012:role/ops"},
		f.kms, f.params,
		WithWarnings(f.warnings),
		WithLogger(slog.New(slog.NewJSONHandler(f.logs, nil))))
	require.NoError(t, err)
	f.svc = svc
	return f
}

func payment(sender crypto.Address) *types.Transaction {
	return &types.Transaction{Type: types.PaymentTx, Sender: sender, Fee: 1_000, FirstValid: 1, LastValid: 100, Receiver: sender}
}

func TestCreateKeyAndSign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateKey(ctx, "sponsor", "fee sponsor")
	require.NoError(t, err)
	require.Len(t, strings.Fields(created.Phrase), 24)
	require.Contains(t, f.warnings.String(), "SHOWN EXACTLY ONCE")
	require.NotContains(t, f.warnings.String(), created.Phrase)
	require.NotContains(t, f.logs.String(), created.Phrase)

	tags, err := f.kms.KeyTags(ctx, created.KeyID)
	require.NoError(t, err)
	require.Equal(t, "confio", tags[TagProject])
	require.Equal(t, created.Address.String(), tags[TagAddress])
	require.Equal(t, created.KeyID, f.params.EncryptionKey("/confio/keys/sponsor"))

	recovered, err := crypto.PrivateKeyFromMnemonic(created.Phrase)
	require.NoError(t, err)
	require.Equal(t, created.Address, recovered.Address())

	signer, err := f.svc.Signer(ctx, "sponsor")
	require.NoError(t, err)
	require.Equal(t, created.Address, signer.Address())

	tx := payment(created.Address)
	stx, err := signer.SignTransaction(ctx, tx)
	require.NoError(t, err)
	msg, err := tx.SignBytes()
	require.NoError(t, err)
	require.True(t, crypto.Verify(created.Address, msg, stx.Sig))
	require.True(t, stx.AuthAddr.IsZero())
}

func TestAddressFallsBackToDerivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateKey(ctx, "treasury", "")
	require.NoError(t, err)
	f.kms.SetTags(created.KeyID, map[string]string{TagProject: "confio"})

	signer, err := f.svc.Signer(ctx, "treasury")
	require.NoError(t, err)
	require.Equal(t, created.Address, signer.Address())
}

func TestCreateRollsBackOnParameterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.params.Fail["PutSecure"] = ErrAccessDenied

	_, err := f.svc.CreateKey(ctx, "admin", "")
	require.True(t, IsKeyAccessError(err))
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.kms.ResolveAlias(ctx, "admin")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, MinDeletionDays, f.kms.PendingDeletion("key-0001"))
}

func TestRollbackRestoresPreviousAlias(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateKey(ctx, "admin", "")
	require.NoError(t, err)

	f.params.Fail["PutSecure"] = errors.New("throttled")
	_, err = f.svc.CreateKey(ctx, "admin", "")
	require.Error(t, err)

	id, err := f.kms.ResolveAlias(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, first.KeyID, id)
}

func TestImportInstallsPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key, phrase, err := crypto.NewMnemonic()
	require.NoError(t, err)

	imported, err := f.svc.ImportKey(ctx, "rewards", phrase)
	require.NoError(t, err)
	require.Equal(t, key.Address(), imported.Address)
	require.Empty(t, imported.Phrase)

	var policy keyPolicy
	require.NoError(t, json.Unmarshal([]byte(f.kms.Policy(imported.KeyID)), &policy))
	require.Len(t, policy.Statement, 2)
	require.Equal(t, "arn:aws:iam::123456789012:root", policy.Statement[0].Principal["AWS"])
	require.Equal(t, "arn:aws:iam::123456789012:role/ops", policy.Statement[1].Principal["AWS"])
	require.Contains(t, policy.Statement[1].Action, "kms:Decrypt")

	_, err = f.svc.ImportKey(ctx, "bad", "not a phrase")
	require.True(t, IsKeyAccessError(err))
}

func TestImportRequiresPrincipals(t *testing.T) {
	svc, err := New(Config{Project: "confio"}, NewMemoryKMS(), NewMemoryParameters(), WithWarnings(&bytes.Buffer{}))
	require.NoError(t, err)
	_, phrase, err := crypto.NewMnemonic()
	require.NoError(t, err)
	_, err = svc.ImportKey(context.Background(), "ops", phrase)
	require.True(t, config.IsConfigError(err))
}

func TestDeleteKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateKey(ctx, "old", "")
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.DeleteKey(ctx, "old", 6), ErrInvalidWindow)
	require.ErrorIs(t, f.svc.DeleteKey(ctx, "old", 31), ErrInvalidWindow)

	require.NoError(t, f.svc.DeleteKey(ctx, "old", 14))
	require.Equal(t, 14, f.kms.PendingDeletion(created.KeyID))
	require.False(t, f.params.Has("/confio/keys/old"))

	_, err = f.svc.Signer(ctx, "old")
	require.True(t, IsKeyAccessError(err))
}

func TestDeleteCancelsScheduleWhenParameterRemains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateKey(ctx, "keep", "")
	require.NoError(t, err)
	f.params.Fail["Delete"] = ErrAccessDenied

	err = f.svc.DeleteKey(ctx, "keep", 7)
	require.True(t, IsKeyAccessError(err))
	require.Zero(t, f.kms.PendingDeletion(created.KeyID))
	require.True(t, f.params.Has("/confio/keys/keep"))
}

func TestSignerFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signer(ctx, "missing")
	var kae *KeyAccessError
	require.True(t, errors.As(err, &kae))
	require.Equal(t, "missing", kae.Alias)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Signer(ctx, "bad alias!")
	require.ErrorIs(t, err, ErrInvalidAlias)

	created, err := f.svc.CreateKey(ctx, "ops", "")
	require.NoError(t, err)
	signer, err := f.svc.Signer(ctx, "ops")
	require.NoError(t, err)
	f.params.Fail["GetDecrypted"] = ErrAccessDenied
	_, err = signer.SignTransaction(ctx, payment(created.Address))
	require.True(t, IsKeyAccessError(err))
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestListKeysFiltersProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateKey(ctx, "b-key", "")
	require.NoError(t, err)
	_, err = f.svc.CreateKey(ctx, "a-key", "")
	require.NoError(t, err)
	foreign, err := f.kms.CreateKey(ctx, KeySpec{Tags: map[string]string{TagProject: "other"}})
	require.NoError(t, err)
	require.NoError(t, f.kms.PointAlias(ctx, "foreign", foreign))

	keys, err := f.svc.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, "a-key", keys[0].Alias)
	require.Equal(t, "ledger-signer", keys[0].Purpose)
}

func TestConcurrentSigning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateKey(ctx, "sponsor", "")
	require.NoError(t, err)
	signer, err := f.svc.Signer(ctx, "sponsor")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := payment(created.Address)
			tx.Amount = uint64(i)
			_, err := signer.SignTransaction(ctx, tx)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestLocalSignerSignsAsAuthAddress(t *testing.T) {
	key, phrase, err := crypto.NewMnemonic()
	require.NoError(t, err)
	signer, err := NewLocalSigner("dev", phrase)
	require.NoError(t, err)
	require.Equal(t, key.Address(), signer.Address())

	other, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	stx, err := signer.SignTransaction(context.Background(), payment(other.Address()))
	require.NoError(t, err)
	require.Equal(t, key.Address(), stx.AuthAddr)

	_, err = NewLocalSigner("dev", "abandon abandon")
	require.True(t, IsKeyAccessError(err))
}
