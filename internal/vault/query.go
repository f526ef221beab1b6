package vault

import (
	"context"
	"fmt"
	"strconv"
)

// Phase reports where the vault is in its lifecycle.
func (v *Vault) Phase(ctx context.Context) (Phase, error) {
	if _, ok, err := configSlot.MayLoad(ctx, v.store); err != nil {
		return "", err
	} else if !ok {
		return PhaseUninitialized, nil
	}
	if _, ok, err := shareSlot.MayLoad(ctx, v.store); err != nil {
		return "", err
	} else if !ok {
		return PhaseInitializing, nil
	}
	return PhaseActive, nil
}

func (v *Vault) Config(ctx context.Context) (Config, error) {
	return v.loadConfig(ctx)
}

// TotalBalance is the pool balance: supported asset held directly plus the strategy position.
func (v *Vault) TotalBalance(ctx context.Context) (Amount, error) {
	cfg, err := v.loadConfig(ctx)
	if err != nil {
		return Amount{}, err
	}
	return v.poolBalance(ctx, cfg)
}

// TotalSupply is the outstanding share supply.
func (v *Vault) TotalSupply(ctx context.Context) (Amount, error) {
	share, err := v.loadShareToken(ctx)
	if err != nil {
		return Amount{}, err
	}
	return v.shareSupply(ctx, share)
}

func (v *Vault) SupportedToken(ctx context.Context) (Address, error) {
	cfg, err := v.loadConfig(ctx)
	if err != nil {
		return "", err
	}
	return cfg.SupportedAsset, nil
}

func (v *Vault) ShareToken(ctx context.Context) (Address, error) {
	return v.loadShareToken(ctx)
}

// PendingOperations lists every issued call still awaiting completion, in issue order,
// including burns whose failure is waiting on an operator.
func (v *Vault) PendingOperations(ctx context.Context) ([]PendingOp, error) {
	pairs, err := pendingSlot.Range(ctx, v.store)
	if err != nil {
		return nil, err
	}
	out := make([]PendingOp, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Value)
	}
	return out, nil
}

// ParseCorrelationID accepts the raw decimal form of an identifier.
func ParseCorrelationID(s string) (CorrelationID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse correlation id %q: %w", s, err)
	}
	return CorrelationID(n), nil
}
