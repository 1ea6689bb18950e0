package nodeclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"confio/config"
	"confio/core/ledger/ledgertest"
	"confio/core/types"
	"confio/crypto"
	"confio/rpc"
)

func newNode(t *testing.T, token string) (*ledgertest.Harness, *httptest.Server) {
	t.Helper()
	h := ledgertest.New(t, nil)
	srv := httptest.NewServer(rpc.NewServer(h.Ledger, rpc.Config{Token: token}).Handler())
	t.Cleanup(srv.Close)
	return h, srv
}

func TestSendGroupAndPending(t *testing.T) {
	h, srv := newNode(t, "secret")
	client, err := New(Config{URL: srv.URL, HeaderName: "X-API-Key", HeaderValue: "secret"})
	require.NoError(t, err)
	ctx := context.Background()

	alice := h.Account(10_000_000)
	bob := h.Account(0)
	group := h.Sign([]*types.Transaction{h.Pay(alice.Address(), bob.Address(), 250_000)}, []*crypto.PrivateKey{alice})

	id, err := client.SendGroup(ctx, group)
	require.NoError(t, err)
	require.Equal(t, group[0].Txn.MustID(), id)

	pending, err := client.PendingInfo(ctx, id)
	require.NoError(t, err)
	require.True(t, pending.Confirmed())

	// a resubmission is reported as a duplicate and treated as accepted
	again, err := client.SendGroup(ctx, group)
	require.NoError(t, err)
	require.Equal(t, id, again)

	info, err := client.AccountInfo(ctx, bob.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(250_000), info.Amount)
}

func TestRejectedGroupCarriesData(t *testing.T) {
	h, srv := newNode(t, "")
	client, err := New(Config{URL: srv.URL})
	require.NoError(t, err)

	poor := h.Account(200_000)
	group := h.Sign([]*types.Transaction{h.Pay(poor.Address(), crypto.ZeroAddress, 1_000_000)}, []*crypto.PrivateKey{poor})
	_, err = client.SendGroup(context.Background(), group)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.NotNil(t, apiErr.Data)
	require.Equal(t, 0, apiErr.Data.GroupIndex)
}

func TestReadsAndNotFound(t *testing.T) {
	h, srv := newNode(t, "")
	client, err := New(Config{URL: srv.URL, RequestsPerSecond: 50})
	require.NoError(t, err)
	ctx := context.Background()

	creator := h.Account(10_000_000)
	asset := h.CreateAsset(creator, types.AssetParams{Total: 1_000, Decimals: 6, UnitName: "cUSD"})

	got, err := client.AssetInfo(ctx, asset)
	require.NoError(t, err)
	require.Equal(t, "cUSD", got.Params.UnitName)

	_, err = client.AppInfo(ctx, 999)
	require.True(t, IsNotFound(err))
	_, err = client.Box(ctx, 999, []byte("missing"))
	require.True(t, IsNotFound(err))

	status, err := client.Status(ctx)
	require.NoError(t, err)
	params, err := client.SuggestedParams(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), params.MinFee)
	require.Equal(t, status.GenesisID, params.GenesisID)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	after, err := client.WaitForBlockAfter(waitCtx, status.LastRound-1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, after.LastRound, status.LastRound)
}

func TestSimulateReportsFailure(t *testing.T) {
	h, srv := newNode(t, "")
	client, err := New(Config{URL: srv.URL})
	require.NoError(t, err)

	alice := h.Account(1_000_000)
	tx := h.Pay(alice.Address(), crypto.ZeroAddress, 5_000_000)
	group := []types.SignedTxn{{Txn: *tx}}
	res, err := client.Simulate(context.Background(), group, true)
	require.NoError(t, err)
	require.True(t, res.Failed())
	require.Equal(t, 0, res.FailedAt)
}

func TestAuthHeaderIsSent(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"last-round":7}`))
	}))
	defer srv.Close()

	node := config.Node{URL: strings.Replace(srv.URL, "127.0.0.1", "localhost", 1), Token: "k"}
	cfg := FromNode(node)
	// only nodely hosts use the API key header
	require.Equal(t, "Authorization", cfg.HeaderName)
	cfg.HeaderName, cfg.HeaderValue = "X-API-Key", "k"
	client, err := New(cfg)
	require.NoError(t, err)
	status, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7), status.LastRound)
	require.Equal(t, "k", seen)

	_, err = New(Config{})
	require.Error(t, err)
}
