package localchain

import (
	"context"
	"fmt"

	"github.com/3cpo-dev/yvault/internal/ledger"
	"github.com/3cpo-dev/yvault/internal/vault"
)

// positionSlot is keyed by holder + "/" + denom.
var positionSlot = ledger.NewMap[vault.Amount]("position/")

func positionKey(holder, denom vault.Address) string {
	return string(holder) + "/" + string(denom)
}

// CreateStrategy deploys a yield strategy. Deposits are held by the strategy
// address in the token ledger and tracked per depositor as positions.
func (c *Chain) CreateStrategy(ctx context.Context, label string) (vault.Address, error) {
	c.tx.Lock()
	defer c.tx.Unlock()
	return c.deploy(ctx, ContractStrategy, label)
}

func (c *Chain) strategyStore(ctx context.Context, addr vault.Address) (ledger.Store, error) {
	ct, err := c.Contract(ctx, addr)
	if err != nil {
		return nil, err
	}
	if ct.Kind != ContractStrategy {
		return nil, fmt.Errorf("%w: %s is a %s, not a strategy", ErrUnknownContract, addr, ct.Kind)
	}
	return c.namespace(ContractStrategy, addr), nil
}

// StrategyPosition reports what strategy holds in denom on behalf of holder.
func (c *Chain) StrategyPosition(ctx context.Context, strategy, holder, denom vault.Address) (vault.Amount, error) {
	store, err := c.strategyStore(ctx, strategy)
	if err != nil {
		return vault.Amount{}, err
	}
	amt, _, err := positionSlot.MayLoad(ctx, store, positionKey(holder, denom))
	return amt, err
}

// AddYield moves amt of denom from sponsor into strategy and credits it to
// holder's position, as if the strategy had earned it.
func (c *Chain) AddYield(ctx context.Context, strategy, holder, denom, sponsor vault.Address, amt vault.Amount) error {
	c.tx.Lock()
	defer c.tx.Unlock()
	store, err := c.strategyStore(ctx, strategy)
	if err != nil {
		return err
	}
	t, err := c.token(ctx, denom)
	if err != nil {
		return err
	}
	if err := t.transfer(ctx, sponsor, strategy, amt); err != nil {
		return err
	}
	key := positionKey(holder, denom)
	pos, _, err := positionSlot.MayLoad(ctx, store, key)
	if err != nil {
		return err
	}
	return positionSlot.Save(ctx, store, key, pos.Add(amt))
}

func (c *Chain) execStrategy(ctx context.Context, target, sender vault.Address, msg vault.Msg) ([]byte, error) {
	store, err := c.strategyStore(ctx, target)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case vault.StrategyDeposit:
		t, err := c.token(ctx, m.Denom)
		if err != nil {
			return nil, err
		}
		if err := t.transfer(ctx, sender, target, m.Amount); err != nil {
			return nil, err
		}
		key := positionKey(m.OnBehalfOf, m.Denom)
		pos, _, err := positionSlot.MayLoad(ctx, store, key)
		if err != nil {
			return nil, err
		}
		return nil, positionSlot.Save(ctx, store, key, pos.Add(m.Amount))
	case vault.StrategyWithdraw:
		key := positionKey(sender, m.Denom)
		pos, _, err := positionSlot.MayLoad(ctx, store, key)
		if err != nil {
			return nil, err
		}
		amt := pos
		if m.Amount != nil {
			amt = *m.Amount
		}
		if amt.IsZero() {
			return nil, nil
		}
		left, err := pos.Sub(amt)
		if err != nil {
			return nil, fmt.Errorf("%w: position %s below %s", ErrInsufficient, pos, amt)
		}
		t, err := c.token(ctx, m.Denom)
		if err != nil {
			return nil, err
		}
		recipient := m.Recipient
		if recipient == "" {
			recipient = sender
		}
		if err := t.transfer(ctx, target, recipient, amt); err != nil {
			return nil, err
		}
		if left.IsZero() {
			return nil, positionSlot.Remove(ctx, store, key)
		}
		return nil, positionSlot.Save(ctx, store, key, left)
	default:
		return nil, fmt.Errorf("%w: strategy cannot handle %s", ErrUnsupportedMsg, msg.Action())
	}
}
