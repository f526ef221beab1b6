package localchain

import (
	"context"
	"fmt"

	"github.com/3cpo-dev/yvault/internal/registry"
	"github.com/3cpo-dev/yvault/internal/vault"
)

// CreateRegistry deploys a vault registry contract.
func (c *Chain) CreateRegistry(ctx context.Context, label string) (vault.Address, error) {
	c.tx.Lock()
	defer c.tx.Unlock()
	return c.deploy(ctx, ContractRegistry, label)
}

// Registry opens the registry deployed at addr.
func (c *Chain) Registry(ctx context.Context, addr vault.Address) (*registry.Registry, error) {
	ct, err := c.Contract(ctx, addr)
	if err != nil {
		return nil, err
	}
	if ct.Kind != ContractRegistry {
		return nil, fmt.Errorf("%w: %s is a %s, not a registry", ErrUnknownContract, addr, ct.Kind)
	}
	return registry.New(c.namespace(ContractRegistry, addr), registry.DefaultCollection), nil
}

func (c *Chain) execRegistry(ctx context.Context, target, sender vault.Address, msg vault.Msg) ([]byte, error) {
	reg, err := c.Registry(ctx, target)
	if err != nil {
		return nil, err
	}
	m, ok := msg.(vault.RegisterVault)
	if !ok {
		return nil, fmt.Errorf("%w: registry cannot handle %s", ErrUnsupportedMsg, msg.Action())
	}
	// Only a vault may register itself.
	if sender != m.VaultAddress {
		return nil, fmt.Errorf("%w: %s cannot register %s", ErrUnauthorized, sender, m.VaultAddress)
	}
	id, err := reg.Register(ctx, m.Name, m.Symbol, string(m.VaultAddress), string(m.Owner))
	if err != nil {
		return nil, err
	}
	return vault.EncodeResult(vault.RegisterResult{VaultID: id}), nil
}
