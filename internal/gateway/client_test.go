package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/yvault/pkg/api"
)

func TestClientAgainstServer(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	ctx := context.Background()

	c := NewClient(ts.URL, testToken, 5*time.Second, 0)
	hb, err := c.Heartbeat(ctx)
	require.NoError(t, err)
	require.Equal(t, "test", hb.Version)

	op, err := c.Instantiate(ctx, api.InstantiateRequest{Sender: "owner", Label: "v", SupportedAsset: "USDC"})
	require.NoError(t, err)

	_, err = c.Deposit(ctx, op.Vault, api.DepositRequest{Sender: "alice", Amount: "10"})
	require.NoError(t, err)
	supply, err := c.TotalSupply(ctx, op.Vault)
	require.NoError(t, err)
	require.Equal(t, "10", supply.Amount)

	share, err := c.ShareToken(ctx, op.Vault)
	require.NoError(t, err)
	require.NotEmpty(t, share.Token)

	_, err = c.RunStrategy(ctx, op.Vault, api.SenderRequest{Sender: "owner"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "ConfigurationError", apiErr.Body.Kind)

	unauth := NewClient(ts.URL, "", 5*time.Second, 0)
	_, err = unauth.Deposit(ctx, op.Vault, api.DepositRequest{Sender: "alice", Amount: "10"})
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClientRetriesIdempotentRequests(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, api.HeartbeatResponse{Version: "flaky"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "", time.Second, 0)
	c.retry.InitialDelay = time.Millisecond
	hb, err := c.Heartbeat(context.Background())
	require.NoError(t, err)
	require.Equal(t, "flaky", hb.Version)
	require.Equal(t, int32(3), hits.Load())

	hits.Store(0)
	_, err = c.Deposit(context.Background(), "v", api.DepositRequest{})
	require.Error(t, err)
	require.Equal(t, int32(1), hits.Load(), "writes are never retried")
}

func TestRateLimiterHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Wait(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, rl.Wait(ctx), context.Canceled)
}
