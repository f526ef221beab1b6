package localchain

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/3cpo-dev/yvault/internal/telemetry"
	"github.com/3cpo-dev/yvault/internal/vault"
)

// statsConcurrency caps the vaults queried at once.
const statsConcurrency = 8

// VaultStats is a point-in-time summary of one vault.
type VaultStats struct {
	Address        vault.Address `json:"address" yaml:"address"`
	Phase          vault.Phase   `json:"phase" yaml:"phase"`
	SupportedAsset vault.Address `json:"supported_asset,omitempty" yaml:"supported_asset,omitempty"`
	ShareToken     vault.Address `json:"share_token,omitempty" yaml:"share_token,omitempty"`
	TotalBalance   vault.Amount  `json:"total_balance" yaml:"total_balance"`
	TotalSupply    vault.Amount  `json:"total_supply" yaml:"total_supply"`
	Pending        int           `json:"pending" yaml:"pending"`
}

// Stats summarizes every listed vault concurrently. Results keep the order of addrs.
func (c *Chain) Stats(ctx context.Context, addrs []vault.Address) ([]VaultStats, error) {
	out := make([]VaultStats, len(addrs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statsConcurrency)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			s, err := c.stats(ctx, addr)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chain) stats(ctx context.Context, addr vault.Address) (VaultStats, error) {
	s := VaultStats{Address: addr}
	v, err := c.Vault(ctx, addr)
	if err != nil {
		return s, err
	}
	if s.Phase, err = v.Phase(ctx); err != nil {
		return s, err
	}
	if s.Phase == vault.PhaseUninitialized {
		return s, nil
	}
	if s.SupportedAsset, err = v.SupportedToken(ctx); err != nil {
		return s, err
	}
	if s.TotalBalance, err = v.TotalBalance(ctx); err != nil {
		return s, err
	}
	pending, err := v.PendingOperations(ctx)
	if err != nil {
		return s, err
	}
	s.Pending = len(pending)
	telemetry.GaugeGlobal("yvault_pending_operations", float64(s.Pending), map[string]string{"vault": string(addr)})
	if s.Phase != vault.PhaseActive {
		return s, nil
	}
	if s.ShareToken, err = v.ShareToken(ctx); err != nil {
		return s, err
	}
	if s.TotalSupply, err = v.TotalSupply(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// AllStats summarizes every deployed vault.
func (c *Chain) AllStats(ctx context.Context) ([]VaultStats, error) {
	contracts, err := c.Contracts(ctx, ContractVault)
	if err != nil {
		return nil, err
	}
	addrs := make([]vault.Address, 0, len(contracts))
	for _, ct := range contracts {
		addrs = append(addrs, ct.Address)
	}
	return c.Stats(ctx, addrs)
}
