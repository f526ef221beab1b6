package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/yvault/internal/ledger"
)

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	r := New(ledger.NewMemStore(), "")

	vaults, err := r.ListVaults(ctx)
	require.NoError(t, err)
	require.Empty(t, vaults)

	for i, v := range []struct{ name, symbol, addr string }{
		{"vusdc", "VUSDC", "yv1aaa"},
		{"vatom", "VATOM", "yv1bbb"},
		{"vosmo", "VOSMO", "yv1ccc"},
	} {
		id, err := r.Register(ctx, v.name, v.symbol, v.addr, "owner")
		require.NoError(t, err)
		require.Equal(t, []string{"1", "2", "3"}[i], id)
	}

	vaults, err = r.ListVaults(ctx)
	require.NoError(t, err)
	require.Len(t, vaults, 3)
	require.Equal(t, VaultRecord{Name: "vatom", Symbol: "VATOM", VaultID: "2", VaultAddress: "yv1bbb", VaultOwner: "owner"}, vaults[1])

	rec, err := r.Get(ctx, "3")
	require.NoError(t, err)
	require.Equal(t, "vosmo", rec.Name)

	_, err = r.Get(ctx, "9")
	require.ErrorIs(t, err, ErrVaultNotFound)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	r := New(ledger.NewMemStore(), "")

	_, err := r.Register(ctx, "usdc", "USDC", "A", "owner")
	require.NoError(t, err)

	_, err = r.Register(ctx, "usdc", "USDC", "A", "owner")
	require.ErrorIs(t, err, ErrDuplicateVault)

	for _, c := range []struct{ name, symbol, addr string }{
		{"usdc", "OTHER", "B"},
		{"other", "USDC", "B"},
		{"other", "OTHER", "A"},
	} {
		_, err := r.Register(ctx, c.name, c.symbol, c.addr, "owner")
		require.ErrorIs(t, err, ErrDuplicateVault, "%+v", c)
	}

	vaults, err := r.ListVaults(ctx)
	require.NoError(t, err)
	require.Len(t, vaults, 1)
}

func TestRegisterValidatesInput(t *testing.T) {
	r := New(ledger.NewMemStore(), "")
	_, err := r.Register(context.Background(), " ", "S", "A", "o")
	require.ErrorIs(t, err, ErrInvalidRecord)
	_, err = r.Register(context.Background(), "n", "", "A", "o")
	require.ErrorIs(t, err, ErrInvalidRecord)
	_, err = r.Register(context.Background(), "n", "S", "", "o")
	require.ErrorIs(t, err, ErrInvalidRecord)
}

type failingStore struct{ ledger.Store }

func (failingStore) Save(context.Context, string, []byte) error {
	return errors.Join(ledger.ErrStorage, errors.New("disk full"))
}

func TestRegisterSurfacesStorageErrors(t *testing.T) {
	r := New(failingStore{ledger.NewMemStore()}, "")
	_, err := r.Register(context.Background(), "n", "S", "A", "o")
	require.ErrorIs(t, err, ledger.ErrStorage)
}

func TestCollectionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemStore()
	a := New(store, "factory-a")
	b := New(store, "factory-b")

	_, err := a.Register(ctx, "usdc", "USDC", "A", "o")
	require.NoError(t, err)
	id, err := b.Register(ctx, "usdc", "USDC", "A", "o")
	require.NoError(t, err)
	require.Equal(t, "1", id)
}
