// Package registry tracks every vault created by the factory.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/yvault/internal/ledger"
)

var (
	ErrDuplicateVault = errors.New("registry: vault already exists")
	ErrInvalidRecord  = errors.New("registry: invalid vault record")
	ErrVaultNotFound  = errors.New("registry: vault not found")
)

// DefaultCollection is the store key holding the record list.
const DefaultCollection = "vaults"

// VaultRecord describes one registered vault. Records are never mutated or removed.
type VaultRecord struct {
	Name         string `json:"name" yaml:"name"`
	Symbol       string `json:"symbol" yaml:"symbol"`
	VaultID      string `json:"vault_id" yaml:"vault_id"`
	VaultAddress string `json:"vault_address" yaml:"vault_address"`
	VaultOwner   string `json:"vault_owner" yaml:"vault_owner"`
}

// Registry is the factory's vault list, kept as one record list under a collection key.
type Registry struct {
	store ledger.Store
	list  ledger.Item[[]VaultRecord]
}

// New returns a registry persisting its list under collection in store.
func New(store ledger.Store, collection string) *Registry {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Registry{store: store, list: ledger.NewItem[[]VaultRecord](collection)}
}

// Register appends a vault and returns its id, len(existing)+1. Name, symbol and
// address must each be unused by every existing record.
func (r *Registry) Register(ctx context.Context, name, symbol, vaultAddress, owner string) (string, error) {
	name, symbol, vaultAddress = strings.TrimSpace(name), strings.TrimSpace(symbol), strings.TrimSpace(vaultAddress)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: missing name", ErrInvalidRecord)
	case symbol == "":
		return "", fmt.Errorf("%w: missing symbol", ErrInvalidRecord)
	case vaultAddress == "":
		return "", fmt.Errorf("%w: missing vault address", ErrInvalidRecord)
	}

	existing, _, err := r.list.MayLoad(ctx, r.store)
	if err != nil {
		return "", err
	}
	for _, rec := range existing {
		if rec.Name == name || rec.Symbol == symbol || rec.VaultAddress == vaultAddress {
			return "", fmt.Errorf("%w: conflicts with vault %s (%s/%s at %s)",
				ErrDuplicateVault, rec.VaultID, rec.Name, rec.Symbol, rec.VaultAddress)
		}
	}

	rec := VaultRecord{
		Name:         name,
		Symbol:       symbol,
		VaultID:      strconv.Itoa(len(existing) + 1),
		VaultAddress: vaultAddress,
		VaultOwner:   owner,
	}
	if err := r.list.Save(ctx, r.store, append(existing, rec)); err != nil {
		return "", err
	}
	log.Info().
		Str("component", "registry").
		Str("vault_id", rec.VaultID).
		Str("name", name).
		Str("symbol", symbol).
		Str("vault_address", vaultAddress).
		Msg("vault registered")
	return rec.VaultID, nil
}

// ListVaults returns every record in registration order; empty when none exist.
func (r *Registry) ListVaults(ctx context.Context) ([]VaultRecord, error) {
	records, _, err := r.list.MayLoad(ctx, r.store)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []VaultRecord{}
	}
	return records, nil
}

// Get returns the record with the given id.
func (r *Registry) Get(ctx context.Context, vaultID string) (VaultRecord, error) {
	records, err := r.ListVaults(ctx)
	if err != nil {
		return VaultRecord{}, err
	}
	for _, rec := range records {
		if rec.VaultID == vaultID {
			return rec, nil
		}
	}
	return VaultRecord{}, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultID)
}
