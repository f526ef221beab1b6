package localchain

import (
	"context"
	"fmt"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/ledger"
	"github.com/3cpo-dev/yvault/internal/vault"
)

// GenesisToken is a token created at genesis. Balances maps account to a base-10 amount.
type GenesisToken struct {
	Name     string            `yaml:"name" toml:"name" json:"name"`
	Symbol   string            `yaml:"symbol" toml:"symbol" json:"symbol"`
	Decimals uint8             `yaml:"decimals" toml:"decimals" json:"decimals"`
	Balances map[string]string `yaml:"balances" toml:"balances" json:"balances"`
}

// Genesis is the initial chain state. Every created contract is aliased by its
// token symbol or label.
type Genesis struct {
	Tokens     []GenesisToken `yaml:"tokens" toml:"tokens" json:"tokens"`
	Strategies []string       `yaml:"strategies" toml:"strategies" json:"strategies"`
	Registries []string       `yaml:"registries" toml:"registries" json:"registries"`
}

var genesisSlot = ledger.NewItem[bool]("genesis")

// ApplyGenesis creates the genesis contracts once. It reports false when the
// store already carries a genesis.
func (c *Chain) ApplyGenesis(ctx context.Context, g Genesis) (bool, error) {
	c.tx.Lock()
	defer c.tx.Unlock()

	if _, ok, err := genesisSlot.MayLoad(ctx, c.store); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}

	for _, gt := range g.Tokens {
		initial := make(map[vault.Address]vault.Amount, len(gt.Balances))
		for holder, raw := range gt.Balances {
			amt, err := accounting.ParseAmount(raw)
			if err != nil {
				return false, fmt.Errorf("genesis token %s balance of %s: %w", gt.Symbol, holder, err)
			}
			initial[vault.Address(holder)] = amt
		}
		addr, err := c.createToken(ctx, vault.CreateToken{Name: gt.Name, Symbol: gt.Symbol, Decimals: gt.Decimals}, initial)
		if err != nil {
			return false, fmt.Errorf("genesis token %s: %w", gt.Symbol, err)
		}
		if err := c.SetAlias(ctx, gt.Symbol, addr); err != nil {
			return false, err
		}
	}
	for _, label := range g.Strategies {
		addr, err := c.deploy(ctx, ContractStrategy, label)
		if err != nil {
			return false, err
		}
		if err := c.SetAlias(ctx, label, addr); err != nil {
			return false, err
		}
	}
	for _, label := range g.Registries {
		addr, err := c.deploy(ctx, ContractRegistry, label)
		if err != nil {
			return false, err
		}
		if err := c.SetAlias(ctx, label, addr); err != nil {
			return false, err
		}
	}

	if err := genesisSlot.Save(ctx, c.store, true); err != nil {
		return false, err
	}
	c.logger.Info().Int("tokens", len(g.Tokens)).Int("strategies", len(g.Strategies)).Int("registries", len(g.Registries)).Msg("genesis applied")
	return true, nil
}
