package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/ledger"
	"github.com/3cpo-dev/yvault/internal/localchain"
	"github.com/3cpo-dev/yvault/internal/vault"
	"github.com/3cpo-dev/yvault/pkg/api"
)

const testToken = "t0ken"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	chain := localchain.New(ledger.NewMemStore())
	_, err := chain.ApplyGenesis(context.Background(), localchain.Genesis{
		Tokens: []localchain.GenesisToken{
			{Name: "USD Coin", Symbol: "USDC", Decimals: 6, Balances: map[string]string{"alice": "1000", "owner": "50"}},
			{Name: "Dai", Symbol: "DAI", Decimals: 18, Balances: map[string]string{"alice": "1000"}},
		},
		Strategies: []string{"lending"},
		Registries: []string{"factory"},
	})
	require.NoError(t, err)
	return New(chain, Options{Version: "test", Token: testToken})
}

func call(t *testing.T, s *Server, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func instantiate(t *testing.T, s *Server) string {
	t.Helper()
	rr := call(t, s, http.MethodPost, "/v0/vaults", api.InstantiateRequest{
		Sender:         "owner",
		Label:          "usdc-vault",
		SupportedAsset: "USDC",
		Strategy:       "lending",
		Registry:       "factory",
	}, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	op := decodeBody[api.OperationResponse](t, rr)
	require.NotEmpty(t, op.Vault)
	require.Len(t, op.Calls, 1)
	require.Equal(t, "create_share", op.Calls[0].Kind)
	require.Len(t, op.Deliveries, 2)
	require.Equal(t, "register_vault", op.Deliveries[1].Action)
	require.Empty(t, op.Deliveries[1].ExecError)
	return op.Vault
}

func TestHeartbeat(t *testing.T) {
	s := newTestServer(t)
	rr := call(t, s, http.MethodGet, "/v0/heartbeat", nil, false)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, rr.Header().Get(HeaderOperationID))
	resp := decodeBody[api.HeartbeatResponse](t, rr)
	require.Equal(t, "test", resp.Version)
}

func TestWritesRequireToken(t *testing.T) {
	s := newTestServer(t)
	rr := call(t, s, http.MethodPost, "/v0/vaults", api.InstantiateRequest{Sender: "owner", Label: "x", SupportedAsset: "USDC"}, false)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	body := decodeBody[api.ErrorResponse](t, rr)
	require.Equal(t, "UnauthorizedError", body.Kind)
	require.Equal(t, rr.Header().Get(HeaderOperationID), body.OperationID)
}

func TestDepositWithdrawOverHTTP(t *testing.T) {
	s := newTestServer(t)
	v := instantiate(t, s)

	rr := call(t, s, http.MethodPost, "/v0/vaults/"+v+"/deposit", api.DepositRequest{Sender: "alice", Amount: "400"}, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	op := decodeBody[api.OperationResponse](t, rr)
	require.Len(t, op.Deliveries, 1)
	require.Equal(t, "mint", op.Deliveries[0].Action)
	require.Empty(t, op.Deliveries[0].HandlerError)

	rr = call(t, s, http.MethodGet, "/v0/vaults/"+v+"/supply", nil, false)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "400", decodeBody[api.AmountResponse](t, rr).Amount)

	rr = call(t, s, http.MethodPost, "/v0/vaults/"+v+"/strategy", api.SenderRequest{Sender: "owner"}, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = call(t, s, http.MethodGet, "/v0/vaults/"+v+"/balance", nil, false)
	require.Equal(t, "400", decodeBody[api.AmountResponse](t, rr).Amount)

	rr = call(t, s, http.MethodPost, "/v0/vaults/"+v+"/withdraw", api.WithdrawRequest{Sender: "alice", Shares: "100"}, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	op = decodeBody[api.OperationResponse](t, rr)
	require.Len(t, op.Calls, 3)
	require.Equal(t, []string{"strategy_withdraw", "redeem_transfer", "burn"}, []string{op.Calls[0].Kind, op.Calls[1].Kind, op.Calls[2].Kind})

	rr = call(t, s, http.MethodGet, "/v0/tokens/USDC/balances/alice", nil, false)
	require.Equal(t, "700", decodeBody[api.BalanceResponse](t, rr).Amount)

	rr = call(t, s, http.MethodGet, "/v0/vaults/"+v+"/pending", nil, false)
	require.Empty(t, decodeBody[api.PendingResponse](t, rr).Operations)

	rr = call(t, s, http.MethodGet, "/v0/vaults", nil, false)
	vaults := decodeBody[api.VaultsResponse](t, rr).Vaults
	require.Len(t, vaults, 1)
	require.Equal(t, "active", vaults[0].Phase)
	require.Equal(t, "300", vaults[0].TotalSupply)

	rr = call(t, s, http.MethodGet, "/v0/registries/factory/vaults", nil, false)
	records := decodeBody[api.RegistryResponse](t, rr).Vaults
	require.Len(t, records, 1)
	require.Equal(t, "VUSDC", records[0].Symbol)
	require.Equal(t, v, records[0].VaultAddress)
}

func TestErrorBodies(t *testing.T) {
	s := newTestServer(t)
	v := instantiate(t, s)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"wrong asset", http.MethodPost, "/v0/vaults/" + v + "/deposit", api.DepositRequest{Sender: "alice", Amount: "5", Token: "DAI"}, http.StatusBadRequest, "UnsupportedAssetError"},
		{"bad amount", http.MethodPost, "/v0/vaults/" + v + "/deposit", api.DepositRequest{Sender: "alice", Amount: "-5"}, http.StatusBadRequest, "InvalidAmountError"},
		{"zero amount", http.MethodPost, "/v0/vaults/" + v + "/deposit", api.DepositRequest{Sender: "alice", Amount: "0"}, http.StatusBadRequest, "InvalidAmountError"},
		{"not enough funds", http.MethodPost, "/v0/vaults/" + v + "/deposit", api.DepositRequest{Sender: "bob", Amount: "5"}, http.StatusBadRequest, "InsufficientFundsError"},
		{"not owner", http.MethodPost, "/v0/vaults/" + v + "/strategy", api.SenderRequest{Sender: "alice"}, http.StatusForbidden, "UnauthorizedError"},
		{"unknown vault", http.MethodGet, "/v0/vaults/nowhere/balance", nil, http.StatusNotFound, "UnknownContractError"},
		{"unknown field", http.MethodPost, "/v0/vaults/" + v + "/strategy", map[string]string{"who": "owner"}, http.StatusBadRequest, "BadRequest"},
		{"no such burn", http.MethodPost, "/v0/vaults/" + v + "/pending/263/resolve", api.SenderRequest{Sender: "owner"}, http.StatusConflict, "OrchestrationError"},
		{"bad id", http.MethodPost, "/v0/vaults/" + v + "/pending/abc/resolve", api.SenderRequest{Sender: "owner"}, http.StatusBadRequest, "BadRequest"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := call(t, s, tc.method, tc.path, tc.body, true)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			body := decodeBody[api.ErrorResponse](t, rr)
			require.Equal(t, tc.kind, body.Kind)
			require.NotEmpty(t, body.Error)
		})
	}

	rr := call(t, s, http.MethodGet, "/v0/tokens/USDC/balances/alice", nil, false)
	require.Equal(t, "1000", decodeBody[api.BalanceResponse](t, rr).Amount, "rejected deposits must not move funds")
}

func TestNotInitializedVault(t *testing.T) {
	s := newTestServer(t)
	rr := call(t, s, http.MethodPost, "/v0/vaults", api.InstantiateRequest{Sender: "owner", Label: "bad", SupportedAsset: "nothing"}, true)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "ConfigurationError", decodeBody[api.ErrorResponse](t, rr).Kind)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0", TLSConfig{}) }()
	cancel()
	require.NoError(t, <-done)
}

func TestFailedCompletionIsAnError(t *testing.T) {
	s := newTestServer(t)
	v := instantiate(t, s)
	ctx := context.Background()
	addr := vault.Address(v)

	rr := call(t, s, http.MethodPost, "/v0/vaults/"+v+"/deposit", api.DepositRequest{Sender: "alice", Amount: "400"}, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	vt, err := s.chain.Vault(ctx, addr)
	require.NoError(t, err)
	share, err := vt.ShareToken(ctx)
	require.NoError(t, err)

	// Queue a withdrawal, then move the shares out of the vault before its burn runs.
	_, err = s.chain.Send(ctx, share, "alice", addr, accounting.NewAmount(100), vault.ActionWithdraw)
	require.NoError(t, err)
	require.NoError(t, s.chain.Transfer(ctx, share, addr, "alice", accounting.NewAmount(100)))

	rr = call(t, s, http.MethodPost, "/v0/vaults/"+v+"/deposit", api.DepositRequest{Sender: "alice", Amount: "10"}, true)
	require.Equal(t, http.StatusBadGateway, rr.Code, rr.Body.String())
	body := decodeBody[api.ErrorResponse](t, rr)
	require.Equal(t, "BurnFailedError", body.Kind)
	require.Equal(t, rr.Header().Get(HeaderOperationID), body.OperationID)

	var burn *api.Delivery
	for i := range body.Deliveries {
		if body.Deliveries[i].Kind == "burn" {
			burn = &body.Deliveries[i]
		}
	}
	require.NotNil(t, burn, rr.Body.String())
	require.NotEmpty(t, burn.ExecError)
	require.NotEmpty(t, burn.HandlerError)
	require.Equal(t, "mint", body.Deliveries[len(body.Deliveries)-1].Action)

	rr = call(t, s, http.MethodGet, "/v0/vaults/"+v+"/pending", nil, false)
	ops := decodeBody[api.PendingResponse](t, rr).Operations
	require.Len(t, ops, 1)
	require.Equal(t, "burn", ops[0].Kind)
}

func TestInstantiateRejectsTokenAsStrategy(t *testing.T) {
	s := newTestServer(t)
	rr := call(t, s, http.MethodPost, "/v0/vaults", api.InstantiateRequest{
		Sender: "owner", Label: "dai-strategy", SupportedAsset: "USDC", Strategy: "DAI",
	}, true)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	require.Equal(t, "ConfigurationError", decodeBody[api.ErrorResponse](t, rr).Kind)

	rr = call(t, s, http.MethodGet, "/v0/vaults", nil, false)
	require.Empty(t, decodeBody[api.VaultsResponse](t, rr).Vaults)
}
