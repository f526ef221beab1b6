package vault

import (
	"context"
	"fmt"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/ledger"
)

const configVersion = 1

// Config is the persisted vault configuration. It holds only real fields and a
// schema version; nothing is reconstructed from defaults on load.
type Config struct {
	Version        int                     `json:"version"`
	Owner          Address                 `json:"owner"`
	SupportedAsset Address                 `json:"supported_asset"`
	Strategy       Address                 `json:"strategy,omitempty"`
	Registry       Address                 `json:"registry,omitempty"`
	RedeemPolicy   accounting.RedeemPolicy `json:"redeem_policy"`
	ShareName      string                  `json:"share_name"`
	ShareSymbol    string                  `json:"share_symbol"`
	ShareDecimals  uint8                   `json:"share_decimals"`
}

// ShareToken is the reference to the vault's share token, written once when creation completes.
type ShareToken struct {
	Address Address `json:"address"`
}

// PendingOp is one issued call awaiting its completion. For KindBurn the record is
// the pending burn amount and survives a failed burn until an operator resolves it.
type PendingOp struct {
	ID      CorrelationID `json:"id"`
	Kind    Kind          `json:"kind"`
	Account Address       `json:"account,omitempty"`
	Amount  Amount        `json:"amount"`
}

// Phase is the lifecycle stage of a vault.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseActive        Phase = "active"
)

var (
	configSlot  = ledger.NewItem[Config]("config")
	shareSlot   = ledger.NewItem[ShareToken]("share_token")
	seqSlot     = ledger.NewItem[uint64]("seq")
	pendingSlot = ledger.NewMap[PendingOp]("pending/")
)

// TokenInfo is the metadata the token service reports for a token.
type TokenInfo struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply Amount `json:"total_supply"`
}

// Querier answers side-effect-free reads against external services within one invocation.
type Querier interface {
	TokenInfo(ctx context.Context, token Address) (TokenInfo, error)
	Balance(ctx context.Context, token, holder Address) (Amount, error)
	// StrategyPosition reports the amount of denom the strategy holds on behalf of holder.
	StrategyPosition(ctx context.Context, strategy, holder, denom Address) (Amount, error)
}

func (v *Vault) loadConfig(ctx context.Context) (Config, error) {
	cfg, ok, err := configSlot.MayLoad(ctx, v.store)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, fmt.Errorf("%w: no configuration", ErrNotInitialized)
	}
	if cfg.Version != configVersion {
		return Config{}, fmt.Errorf("%w: unsupported config version %d", ledger.ErrStorage, cfg.Version)
	}
	return cfg, nil
}

func (v *Vault) loadShareToken(ctx context.Context) (Address, error) {
	st, ok, err := shareSlot.MayLoad(ctx, v.store)
	if err != nil {
		return "", err
	}
	if !ok || st.Address == "" {
		return "", fmt.Errorf("%w: share token not created yet", ErrNotInitialized)
	}
	return st.Address, nil
}

// ids hands out correlation identifiers for one invocation. Nothing is persisted
// until commit, so a failed invocation leaves the sequence untouched.
type ids struct {
	next    uint64
	pending []PendingOp
}

func (v *Vault) newIDs(ctx context.Context) (*ids, error) {
	seq, _, err := seqSlot.MayLoad(ctx, v.store)
	if err != nil {
		return nil, err
	}
	return &ids{next: seq}, nil
}

func (a *ids) issue(k Kind, account Address, amount Amount) CorrelationID {
	a.next++
	id := NewCorrelationID(a.next, k)
	a.pending = append(a.pending, PendingOp{ID: id, Kind: k, Account: account, Amount: amount})
	return id
}

// commit persists the sequence before the pending records so a partial write
// can only leave a gap, never a reused identifier.
func (v *Vault) commit(ctx context.Context, a *ids) error {
	if len(a.pending) == 0 {
		return nil
	}
	if err := seqSlot.Save(ctx, v.store, a.next); err != nil {
		return err
	}
	for _, op := range a.pending {
		if err := pendingSlot.Save(ctx, v.store, op.ID.key(), op); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vault) loadPending(ctx context.Context, id CorrelationID) (PendingOp, bool, error) {
	return pendingSlot.MayLoad(ctx, v.store, id.key())
}

func (v *Vault) removePending(ctx context.Context, id CorrelationID) error {
	return pendingSlot.Remove(ctx, v.store, id.key())
}
