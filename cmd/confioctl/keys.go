package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"confio/cmd/internal/passphrase"
	"confio/services/kcs"
)

// importPhraseEnv supplies the phrase for keys import in automation; without
// it the operator is prompted.
const importPhraseEnv = "CONFIO_IMPORT_PHRASE"

func (s *session) aliasFlag(value string) string {
	if value != "" {
		return value
	}
	return s.cfg.KMS.KeyAlias
}

func keysCreate(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("keys create", s.stderr)
	alias := fs.String("alias", "", "key alias (defaults to KMS_KEY_ALIAS)")
	desc := fs.String("description", "", "key description")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if _, _, err := s.operator(); err != nil {
		return fail(s.stderr, err)
	}
	svc, err := s.custody(ctx)
	if err != nil {
		return fail(s.stderr, err)
	}
	name := s.aliasFlag(*alias)
	if *desc == "" {
		*desc = "ledger signer " + name
	}
	created, err := svc.CreateKey(ctx, name, *desc)
	if err != nil {
		return fail(s.stderr, err)
	}
	fmt.Fprintf(s.stderr, "%s\n\n", created.Phrase)
	fmt.Fprintln(s.stdout, created.Address)
	return exitOK
}

func keysImport(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("keys import", s.stderr)
	alias := fs.String("alias", "", "key alias (defaults to KMS_KEY_ALIAS)")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if _, _, err := s.operator(); err != nil {
		return fail(s.stderr, err)
	}
	phrase, err := passphrase.NewSource(importPhraseEnv, "recovery phrase", s.lookup, s.stderr).Get()
	if err != nil {
		return usageError(s.stderr, "%v", err)
	}
	svc, err := s.custody(ctx)
	if err != nil {
		return fail(s.stderr, err)
	}
	created, err := svc.ImportKey(ctx, s.aliasFlag(*alias), phrase)
	if err != nil {
		return fail(s.stderr, err)
	}
	fmt.Fprintln(s.stdout, created.Address)
	return exitOK
}

func keysDelete(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("keys delete", s.stderr)
	alias := fs.String("alias", "", "key alias (defaults to KMS_KEY_ALIAS)")
	days := fs.Int("days", kcs.MaxDeletionDays, "deletion window in days")
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if _, _, err := s.operator(); err != nil {
		return fail(s.stderr, err)
	}
	svc, err := s.custody(ctx)
	if err != nil {
		return fail(s.stderr, err)
	}
	name := s.aliasFlag(*alias)
	if err := svc.DeleteKey(ctx, name, *days); err != nil {
		return fail(s.stderr, err)
	}
	fmt.Fprintf(s.stderr, "key %s scheduled for deletion in %d days\n", name, *days)
	return exitOK
}

// keysAddress prints the ledger address of the configured signer, resolved
// the same way workflows resolve it.
func keysAddress(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("keys address", s.stderr)
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if _, _, err := s.operator(); err != nil {
		return fail(s.stderr, err)
	}
	signer, err := s.signer(ctx)
	if err != nil {
		return fail(s.stderr, err)
	}
	fmt.Fprintln(s.stdout, signer.Address())
	return exitOK
}

func keysList(ctx context.Context, s *session, args []string) int {
	fs := newFlagSet("keys list", s.stderr)
	if err := parse(fs, args); err != nil {
		return exitInput
	}
	if _, _, err := s.operator(); err != nil {
		return fail(s.stderr, err)
	}
	svc, err := s.custody(ctx)
	if err != nil {
		return fail(s.stderr, err)
	}
	keys, err := svc.ListKeys(ctx)
	if err != nil {
		return fail(s.stderr, err)
	}
	w := tabwriter.NewWriter(s.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tADDRESS\tPURPOSE\tKEY")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.Alias, k.Address, k.Purpose, k.KeyID)
	}
	if err := w.Flush(); err != nil {
		return fail(s.stderr, err)
	}
	return exitOK
}
