package localchain

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/ledger"
	"github.com/3cpo-dev/yvault/internal/vault"
)

const (
	owner vault.Address = "owner"
	alice vault.Address = "alice"
	bob   vault.Address = "bob"
	carol vault.Address = "carol"
)

func amt(s string) vault.Amount { return accounting.MustParseAmount(s) }

func testGenesis() Genesis {
	return Genesis{
		Tokens: []GenesisToken{
			{Name: "USD Coin", Symbol: "USDC", Decimals: 6, Balances: map[string]string{"alice": "1000", "bob": "1000", "carol": "1000"}},
			{Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18, Balances: map[string]string{"alice": "10"}},
		},
		Strategies: []string{"lending"},
		Registries: []string{"factory"},
	}
}

type env struct {
	ctx      context.Context
	chain    *Chain
	usdc     vault.Address
	weth     vault.Address
	strategy vault.Address
	factory  vault.Address
}

func newEnv(t *testing.T, store ledger.Store, opts ...Option) *env {
	t.Helper()
	ctx := context.Background()
	c := New(store, opts...)
	applied, err := c.ApplyGenesis(ctx, testGenesis())
	require.NoError(t, err)
	require.True(t, applied)

	e := &env{ctx: ctx, chain: c}
	for name, dst := range map[string]*vault.Address{"USDC": &e.usdc, "WETH": &e.weth, "lending": &e.strategy, "factory": &e.factory} {
		addr, err := c.Resolve(ctx, name)
		require.NoError(t, err)
		require.NotEqual(t, vault.Address(name), addr)
		*dst = addr
	}
	return e
}

func (e *env) deployVault(t *testing.T, label string, msg vault.InitMsg) vault.Address {
	t.Helper()
	if msg.SupportedAsset == "" {
		msg.SupportedAsset = e.usdc
	}
	addr, _, err := e.chain.InstantiateVault(e.ctx, owner, label, msg)
	require.NoError(t, err)
	e.drain(t)
	return addr
}

func (e *env) drain(t *testing.T) Report {
	t.Helper()
	rep, err := e.chain.Drain(e.ctx)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	require.Empty(t, e.chain.Outstanding())
	return rep
}

func (e *env) balance(t *testing.T, token, holder vault.Address) string {
	t.Helper()
	b, err := e.chain.Balance(e.ctx, token, holder)
	require.NoError(t, err)
	return b.String()
}

func TestVaultLifecycle(t *testing.T) {
	e := newEnv(t, ledger.NewMemStore())
	addr := e.deployVault(t, "usdc-vault", vault.InitMsg{Strategy: e.strategy, Registry: e.factory})

	v, err := e.chain.Vault(e.ctx, addr)
	require.NoError(t, err)
	phase, err := v.Phase(e.ctx)
	require.NoError(t, err)
	require.Equal(t, vault.PhaseActive, phase)

	share, err := v.ShareToken(e.ctx)
	require.NoError(t, err)
	info, err := e.chain.TokenInfo(e.ctx, share)
	require.NoError(t, err)
	require.Equal(t, "vUSD Coin", info.Name)
	require.Equal(t, "VUSDC", info.Symbol)
	require.Equal(t, uint8(18), info.Decimals)

	reg, err := e.chain.Registry(e.ctx, e.factory)
	require.NoError(t, err)
	records, err := reg.ListVaults(e.ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "1", records[0].VaultID)
	require.Equal(t, string(addr), records[0].VaultAddress)
	require.Equal(t, string(owner), records[0].VaultOwner)

	_, err = e.chain.Send(e.ctx, e.usdc, alice, addr, amt("500"), vault.ActionDeposit)
	require.NoError(t, err)
	e.drain(t)
	_, err = e.chain.Send(e.ctx, e.usdc, bob, addr, amt("500"), vault.ActionDeposit)
	require.NoError(t, err)
	e.drain(t)
	require.Equal(t, "500", e.balance(t, share, alice))
	require.Equal(t, "500", e.balance(t, share, bob))

	_, err = e.chain.RunStrategy(e.ctx, owner, addr)
	require.NoError(t, err)
	e.drain(t)
	require.Equal(t, "0", e.balance(t, e.usdc, addr))
	pos, err := e.chain.StrategyPosition(e.ctx, e.strategy, addr, e.usdc)
	require.NoError(t, err)
	require.Equal(t, "1000", pos.String())

	require.NoError(t, e.chain.AddYield(e.ctx, e.strategy, addr, e.usdc, carol, amt("1000")))
	total, err := v.TotalBalance(e.ctx)
	require.NoError(t, err)
	require.Equal(t, "2000", total.String())

	_, err = e.chain.Send(e.ctx, share, alice, addr, amt("250"), vault.ActionWithdraw)
	require.NoError(t, err)
	rep := e.drain(t)
	require.Len(t, rep.Deliveries, 3)
	require.Equal(t, "strategy_withdraw", rep.Deliveries[0].Action)
	require.Equal(t, "transfer", rep.Deliveries[1].Action)
	require.Equal(t, "burn", rep.Deliveries[2].Action)

	require.Equal(t, "1000", e.balance(t, e.usdc, alice))
	require.Equal(t, "250", e.balance(t, share, alice))
	require.Equal(t, "1500", e.balance(t, e.usdc, addr))
	supply, err := v.TotalSupply(e.ctx)
	require.NoError(t, err)
	require.Equal(t, "750", supply.String())

	pending, err := v.PendingOperations(e.ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRejectedHookRevertsTransfer(t *testing.T) {
	e := newEnv(t, ledger.NewMemStore())
	addr := e.deployVault(t, "usdc-vault", vault.InitMsg{})

	_, err := e.chain.Send(e.ctx, e.weth, alice, addr, amt("5"), vault.ActionDeposit)
	require.ErrorIs(t, err, vault.ErrUnsupportedAsset)
	require.Equal(t, "10", e.balance(t, e.weth, alice))
	require.Equal(t, "0", e.balance(t, e.weth, addr))

	_, err = e.chain.Send(e.ctx, e.usdc, alice, addr, amt("5"), "Stake")
	require.ErrorIs(t, err, vault.ErrOrchestration)
	require.Equal(t, "1000", e.balance(t, e.usdc, alice))

	_, err = e.chain.Send(e.ctx, e.usdc, alice, addr, amt("5000"), vault.ActionDeposit)
	require.ErrorIs(t, err, ErrInsufficient)
	require.Empty(t, e.chain.Outstanding())
}

func TestFailedInstantiationLeavesNoContract(t *testing.T) {
	e := newEnv(t, ledger.NewMemStore())
	_, _, err := e.chain.InstantiateVault(e.ctx, owner, "broken", vault.InitMsg{SupportedAsset: "nowhere"})
	require.ErrorIs(t, err, vault.ErrConfiguration)

	vaults, err := e.chain.Contracts(e.ctx, ContractVault)
	require.NoError(t, err)
	require.Empty(t, vaults)
}

func TestDuplicateRegistrationDoesNotBlockVault(t *testing.T) {
	e := newEnv(t, ledger.NewMemStore())
	e.deployVault(t, "first", vault.InitMsg{Registry: e.factory})

	second, _, err := e.chain.InstantiateVault(e.ctx, owner, "second", vault.InitMsg{SupportedAsset: e.usdc, Registry: e.factory})
	require.NoError(t, err)
	rep := e.drain(t)
	require.Len(t, rep.Deliveries, 2)
	require.Equal(t, "register_vault", rep.Deliveries[1].Action)
	require.Contains(t, rep.Deliveries[1].ExecError, "already exists")
	require.True(t, rep.Deliveries[1].Delivered)

	v, err := e.chain.Vault(e.ctx, second)
	require.NoError(t, err)
	phase, err := v.Phase(e.ctx)
	require.NoError(t, err)
	require.Equal(t, vault.PhaseActive, phase)
}

func TestShuffledDeliverySettles(t *testing.T) {
	e := newEnv(t, ledger.NewMemStore(), WithShuffle(7))
	addr := e.deployVault(t, "usdc-vault", vault.InitMsg{})
	v, err := e.chain.Vault(e.ctx, addr)
	require.NoError(t, err)
	share, err := v.ShareToken(e.ctx)
	require.NoError(t, err)

	_, err = e.chain.Send(e.ctx, e.usdc, alice, addr, amt("400"), vault.ActionDeposit)
	require.NoError(t, err)
	e.drain(t)
	_, err = e.chain.Send(e.ctx, e.usdc, bob, addr, amt("600"), vault.ActionDeposit)
	require.NoError(t, err)
	e.drain(t)

	// Two withdrawals in flight at once.
	_, err = e.chain.Send(e.ctx, share, alice, addr, amt("100"), vault.ActionWithdraw)
	require.NoError(t, err)
	_, err = e.chain.Send(e.ctx, share, bob, addr, amt("300"), vault.ActionWithdraw)
	require.NoError(t, err)
	require.Len(t, e.chain.Outstanding(), 4)
	e.drain(t)

	require.Equal(t, "700", e.balance(t, e.usdc, alice))
	require.Equal(t, "700", e.balance(t, e.usdc, bob))
	require.Equal(t, "600", e.balance(t, e.usdc, addr))
	supply, err := v.TotalSupply(e.ctx)
	require.NoError(t, err)
	require.Equal(t, "600", supply.String())
}

func TestStatsAcrossVaults(t *testing.T) {
	e := newEnv(t, ledger.NewMemStore())
	first := e.deployVault(t, "usdc-vault", vault.InitMsg{})
	second := e.deployVault(t, "weth-vault", vault.InitMsg{SupportedAsset: e.weth})

	_, err := e.chain.Send(e.ctx, e.weth, alice, second, amt("4"), vault.ActionDeposit)
	require.NoError(t, err)
	e.drain(t)

	stats, err := e.chain.AllStats(e.ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byAddr := map[vault.Address]VaultStats{}
	for _, s := range stats {
		byAddr[s.Address] = s
	}
	require.Equal(t, vault.PhaseActive, byAddr[first].Phase)
	require.Equal(t, "0", byAddr[first].TotalSupply.String())
	require.Equal(t, e.weth, byAddr[second].SupportedAsset)
	require.Equal(t, "4", byAddr[second].TotalBalance.String())
	require.Equal(t, "4", byAddr[second].TotalSupply.String())
	require.Zero(t, byAddr[second].Pending)
}

func TestChainStatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.db")
	store, err := ledger.OpenSQLite(path)
	require.NoError(t, err)
	e := newEnv(t, store)
	addr := e.deployVault(t, "usdc-vault", vault.InitMsg{})
	_, err = e.chain.Send(e.ctx, e.usdc, alice, addr, amt("10"), vault.ActionDeposit)
	require.NoError(t, err)
	e.drain(t)
	require.NoError(t, store.Close())

	store, err = ledger.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	c := New(store)

	applied, err := c.ApplyGenesis(e.ctx, testGenesis())
	require.NoError(t, err)
	require.False(t, applied)

	v, err := c.Vault(e.ctx, addr)
	require.NoError(t, err)
	supply, err := v.TotalSupply(e.ctx)
	require.NoError(t, err)
	require.Equal(t, "10", supply.String())
}

func TestDeriveAddressIsDeterministic(t *testing.T) {
	a := DeriveAddress(ContractToken, "USDC", 1)
	require.Equal(t, a, DeriveAddress(ContractToken, "USDC", 1))
	require.NotEqual(t, a, DeriveAddress(ContractToken, "USDC", 2))
	require.NotEqual(t, a, DeriveAddress(ContractStrategy, "USDC", 1))
	require.Len(t, string(a), len(AddressPrefix)+40)
}

func TestTokenRules(t *testing.T) {
	e := newEnv(t, ledger.NewMemStore())

	require.ErrorIs(t, e.chain.Transfer(e.ctx, e.usdc, alice, bob, amt("1001")), ErrInsufficient)
	require.NoError(t, e.chain.Transfer(e.ctx, e.usdc, alice, bob, amt("1")))
	require.Equal(t, "1001", e.balance(t, e.usdc, bob))

	_, err := e.chain.execToken(e.ctx, e.usdc, alice, vault.Mint{Recipient: alice, Amount: amt("1")})
	require.ErrorIs(t, err, ErrUnauthorized, "genesis tokens have no minter")

	_, err = e.chain.exec(e.ctx, e.strategy, alice, vault.Mint{Recipient: alice, Amount: amt("1")})
	require.ErrorIs(t, err, ErrUnsupportedMsg)

	_, err = e.chain.Balance(e.ctx, e.strategy, alice)
	require.ErrorIs(t, err, ErrUnknownContract)
}

func TestShuffledWithdrawalsUnwindBeforeTransfer(t *testing.T) {
	for seed := int64(1); seed <= 8; seed++ {
		e := newEnv(t, ledger.NewMemStore(), WithShuffle(seed))
		addr := e.deployVault(t, "usdc-vault", vault.InitMsg{Strategy: e.strategy})
		v, err := e.chain.Vault(e.ctx, addr)
		require.NoError(t, err)
		share, err := v.ShareToken(e.ctx)
		require.NoError(t, err)

		for _, who := range []vault.Address{alice, bob} {
			_, err = e.chain.Send(e.ctx, e.usdc, who, addr, amt("500"), vault.ActionDeposit)
			require.NoError(t, err)
			e.drain(t)
		}
		_, err = e.chain.RunStrategy(e.ctx, owner, addr)
		require.NoError(t, err)
		e.drain(t)
		require.Equal(t, "0", e.balance(t, e.usdc, addr))

		_, err = e.chain.Send(e.ctx, share, alice, addr, amt("250"), vault.ActionWithdraw)
		require.NoError(t, err)
		_, err = e.chain.Send(e.ctx, share, bob, addr, amt("100"), vault.ActionWithdraw)
		require.NoError(t, err)
		require.Len(t, e.chain.Outstanding(), 6)
		rep := e.drain(t)

		byTrace := map[string][]string{}
		for _, d := range rep.Deliveries {
			require.Empty(t, d.ExecError, "seed %d: %s", seed, d.Action)
			byTrace[d.TraceID] = append(byTrace[d.TraceID], d.Action)
		}
		require.Len(t, byTrace, 2)
		for _, actions := range byTrace {
			require.Equal(t, []string{"strategy_withdraw", "transfer", "burn"}, actions, "seed %d", seed)
		}

		require.Equal(t, "750", e.balance(t, e.usdc, alice))
		require.Equal(t, "600", e.balance(t, e.usdc, bob))
		supply, err := v.TotalSupply(e.ctx)
		require.NoError(t, err)
		require.Equal(t, "650", supply.String())
	}
}
