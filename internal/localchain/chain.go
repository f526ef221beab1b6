// Package localchain is an in-process host for vaults. It runs the token,
// strategy and registry services a vault calls out to, queues the calls a vault
// issues and delivers each completion back to the issuing vault exactly once.
package localchain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/sha3"

	"github.com/3cpo-dev/yvault/internal/ledger"
	"github.com/3cpo-dev/yvault/internal/vault"
)

var (
	ErrUnknownContract = errors.New("localchain: unknown contract")
	ErrUnsupportedMsg  = errors.New("localchain: unsupported message")
	ErrUnauthorized    = errors.New("localchain: unauthorized")
	ErrInsufficient    = errors.New("localchain: insufficient funds")
)

// AddressPrefix starts every derived contract address.
const AddressPrefix = "yv1"

// ContractKind names the code a contract address runs.
type ContractKind string

const (
	ContractToken    ContractKind = "token"
	ContractStrategy ContractKind = "strategy"
	ContractRegistry ContractKind = "registry"
	ContractVault    ContractKind = "vault"
)

// Contract is the directory entry of a deployed contract.
type Contract struct {
	Address vault.Address `json:"address" yaml:"address"`
	Kind    ContractKind  `json:"kind" yaml:"kind"`
	Label   string        `json:"label" yaml:"label"`
}

var (
	nonceSlot     = ledger.NewItem[uint64]("nonce")
	contractsSlot = ledger.NewMap[Contract]("contracts/")
	aliasSlot     = ledger.NewMap[vault.Address]("aliases/")
)

// Option configures a Chain.
type Option func(*Chain)

// WithShuffle interleaves queued operations in a seeded random order instead of FIFO.
// Calls that share a trace are still delivered in the order they were issued, so a
// withdrawal's strategy unwind always runs before its redemption transfer. Calls
// of different operations may interleave: one operation's strategy deposit can land
// between another's unwind and transfer.
func WithShuffle(seed int64) Option {
	return func(c *Chain) { c.rng = rand.New(rand.NewSource(seed)) }
}

// WithLogger overrides the chain logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

// Chain is the host. Transactions (genesis, sends, strategy runs, draining) are
// serialized; queries may run concurrently with them.
type Chain struct {
	store  ledger.Store
	logger zerolog.Logger
	rng    *rand.Rand

	tx sync.Mutex

	mu     sync.Mutex
	queue  []envelope
	issued map[replyKey]bool
	vaults map[vault.Address]*vault.Vault
}

// New opens a chain over store. All chain and vault state lives in store.
func New(store ledger.Store, opts ...Option) *Chain {
	c := &Chain{
		store:  store,
		logger: log.With().Str("component", "localchain").Logger(),
		issued: map[replyKey]bool{},
		vaults: map[vault.Address]*vault.Vault{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeriveAddress hashes kind, label and nonce into a contract address.
func DeriveAddress(kind ContractKind, label string, nonce uint64) vault.Address {
	sum := sha3.Sum256([]byte(string(kind) + "/" + label + "/" + strconv.FormatUint(nonce, 10)))
	return vault.Address(AddressPrefix + hex.EncodeToString(sum[:20]))
}

// deploy allocates an address for a new contract and records it in the directory.
func (c *Chain) deploy(ctx context.Context, kind ContractKind, label string) (vault.Address, error) {
	nonce, _, err := nonceSlot.MayLoad(ctx, c.store)
	if err != nil {
		return "", err
	}
	nonce++
	addr := DeriveAddress(kind, label, nonce)
	if err := nonceSlot.Save(ctx, c.store, nonce); err != nil {
		return "", err
	}
	if err := contractsSlot.Save(ctx, c.store, string(addr), Contract{Address: addr, Kind: kind, Label: label}); err != nil {
		return "", err
	}
	c.logger.Debug().Str("kind", string(kind)).Str("label", label).Str("address", string(addr)).Msg("contract deployed")
	return addr, nil
}

// Contract looks up a deployed contract.
func (c *Chain) Contract(ctx context.Context, addr vault.Address) (Contract, error) {
	ct, ok, err := contractsSlot.MayLoad(ctx, c.store, string(addr))
	if err != nil {
		return Contract{}, err
	}
	if !ok {
		return Contract{}, fmt.Errorf("%w: %s", ErrUnknownContract, addr)
	}
	return ct, nil
}

// Contracts lists deployed contracts of kind, or all of them when kind is empty.
func (c *Chain) Contracts(ctx context.Context, kind ContractKind) ([]Contract, error) {
	pairs, err := contractsSlot.Range(ctx, c.store)
	if err != nil {
		return nil, err
	}
	out := make([]Contract, 0, len(pairs))
	for _, p := range pairs {
		if kind == "" || p.Value.Kind == kind {
			out = append(out, p.Value)
		}
	}
	return out, nil
}

// SetAlias binds a human name to an address.
func (c *Chain) SetAlias(ctx context.Context, name string, addr vault.Address) error {
	return aliasSlot.Save(ctx, c.store, name, addr)
}

// Resolve maps an alias to its address. Anything else is returned as an address unchanged.
func (c *Chain) Resolve(ctx context.Context, nameOrAddr string) (vault.Address, error) {
	addr, ok, err := aliasSlot.MayLoad(ctx, c.store, nameOrAddr)
	if err != nil {
		return "", err
	}
	if ok {
		return addr, nil
	}
	return vault.Address(nameOrAddr), nil
}

// Aliases returns every alias, ordered by name.
func (c *Chain) Aliases(ctx context.Context) (map[string]vault.Address, error) {
	pairs, err := aliasSlot.Range(ctx, c.store)
	if err != nil {
		return nil, err
	}
	out := make(map[string]vault.Address, len(pairs))
	for _, p := range pairs {
		out[p.Key] = p.Value
	}
	return out, nil
}

func (c *Chain) namespace(kind ContractKind, addr vault.Address) ledger.Store {
	return ledger.Prefixed(c.store, string(kind)+"/"+string(addr)+"/")
}
