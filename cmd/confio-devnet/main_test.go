package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"confio/core/events"
	"confio/core/types"
	"confio/crypto"
)

func TestParseFunding(t *testing.T) {
	a, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	b, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	got, err := parseFunding(" " + a.Address().String() + "=1000000, ," + b.Address().String() + "=5 ")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, a.Address(), got[0].addr)
	require.Equal(t, uint64(5), got[1].amount)

	empty, err := parseFunding("")
	require.NoError(t, err)
	require.Empty(t, empty)

	for _, bad := range []string{"nope", a.Address().String() + "=0", a.Address().String() + "=-1", "x=10"} {
		if _, err := parseFunding(bad); err == nil {
			t.Fatalf("parseFunding(%q) succeeded", bad)
		}
	}
}

func TestLedgerFromMemoryStore(t *testing.T) {
	store, closeStore, err := openStore("")
	require.NoError(t, err)
	defer closeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := newLedger(store, logger)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, l.Fund(key.Address(), 2_000_000))
	require.Equal(t, uint64(2_000_000), l.AccountInfo(key.Address()).Amount)

	round, err := l.ProduceBlock()
	require.NoError(t, err)
	require.Equal(t, round, l.Status().LastRound)

	// lines without an address are logged as well
	logCommitted(logger).Emit(events.Committed{Round: round, TxID: types.TxID{1}, AppID: 9,
		Line: events.LogLine{Verb: "mint", Values: []uint64{1}}})
}

func TestLevelDBStore(t *testing.T) {
	store, closeStore, err := openStore(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, store)
	closeStore()
}
