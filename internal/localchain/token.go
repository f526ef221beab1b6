package localchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/ledger"
	"github.com/3cpo-dev/yvault/internal/vault"
)

type tokenState struct {
	Name        string        `json:"name"`
	Symbol      string        `json:"symbol"`
	Decimals    uint8         `json:"decimals"`
	Minter      vault.Address `json:"minter,omitempty"`
	TotalSupply vault.Amount  `json:"total_supply"`
}

var (
	tokenInfoSlot = ledger.NewItem[tokenState]("info")
	balanceSlot   = ledger.NewMap[vault.Amount]("balance/")
)

// token is a fungible token contract bound to its namespace.
type token struct {
	addr  vault.Address
	store ledger.Store
}

func (c *Chain) token(ctx context.Context, addr vault.Address) (*token, error) {
	ct, err := c.Contract(ctx, addr)
	if err != nil {
		return nil, err
	}
	if ct.Kind != ContractToken {
		return nil, fmt.Errorf("%w: %s is a %s, not a token", ErrUnknownContract, addr, ct.Kind)
	}
	return &token{addr: addr, store: c.namespace(ContractToken, addr)}, nil
}

// CreateToken deploys a token and credits its initial balances to supply.
func (c *Chain) CreateToken(ctx context.Context, msg vault.CreateToken, initial map[vault.Address]vault.Amount) (vault.Address, error) {
	c.tx.Lock()
	defer c.tx.Unlock()
	return c.createToken(ctx, msg, initial)
}

func (c *Chain) createToken(ctx context.Context, msg vault.CreateToken, initial map[vault.Address]vault.Amount) (vault.Address, error) {
	if strings.TrimSpace(msg.Name) == "" || strings.TrimSpace(msg.Symbol) == "" {
		return "", fmt.Errorf("%w: token name and symbol are required", ErrUnsupportedMsg)
	}
	addr, err := c.deploy(ctx, ContractToken, msg.Symbol)
	if err != nil {
		return "", err
	}
	t := &token{addr: addr, store: c.namespace(ContractToken, addr)}
	st := tokenState{Name: msg.Name, Symbol: msg.Symbol, Decimals: msg.Decimals, Minter: msg.Minter}
	for holder, amt := range initial {
		if err := balanceSlot.Save(ctx, t.store, string(holder), amt); err != nil {
			return "", err
		}
		st.TotalSupply = st.TotalSupply.Add(amt)
	}
	if err := tokenInfoSlot.Save(ctx, t.store, st); err != nil {
		return "", err
	}
	return addr, nil
}

func (t *token) info(ctx context.Context) (tokenState, error) {
	return tokenInfoSlot.Load(ctx, t.store)
}

func (t *token) balance(ctx context.Context, holder vault.Address) (vault.Amount, error) {
	amt, _, err := balanceSlot.MayLoad(ctx, t.store, string(holder))
	return amt, err
}

func (t *token) setBalance(ctx context.Context, holder vault.Address, amt vault.Amount) error {
	if amt.IsZero() {
		return balanceSlot.Remove(ctx, t.store, string(holder))
	}
	return balanceSlot.Save(ctx, t.store, string(holder), amt)
}

func (t *token) transfer(ctx context.Context, from, to vault.Address, amt vault.Amount) error {
	if amt.IsZero() {
		return fmt.Errorf("%w: invalid zero amount", ErrUnsupportedMsg)
	}
	fromBal, err := t.balance(ctx, from)
	if err != nil {
		return err
	}
	left, err := fromBal.Sub(amt)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficient, from, fromBal, t.addr, amt)
	}
	if from == to {
		return nil
	}
	toBal, err := t.balance(ctx, to)
	if err != nil {
		return err
	}
	if err := t.setBalance(ctx, from, left); err != nil {
		return err
	}
	return t.setBalance(ctx, to, toBal.Add(amt))
}

func (t *token) mint(ctx context.Context, sender, to vault.Address, amt vault.Amount) error {
	st, err := t.info(ctx)
	if err != nil {
		return err
	}
	if st.Minter == "" || st.Minter != sender {
		return fmt.Errorf("%w: %s is not the minter of %s", ErrUnauthorized, sender, t.addr)
	}
	if amt.IsZero() {
		return fmt.Errorf("%w: invalid zero amount", ErrUnsupportedMsg)
	}
	bal, err := t.balance(ctx, to)
	if err != nil {
		return err
	}
	if err := t.setBalance(ctx, to, bal.Add(amt)); err != nil {
		return err
	}
	st.TotalSupply = st.TotalSupply.Add(amt)
	return tokenInfoSlot.Save(ctx, t.store, st)
}

func (t *token) burn(ctx context.Context, sender vault.Address, amt vault.Amount) error {
	if amt.IsZero() {
		return fmt.Errorf("%w: invalid zero amount", ErrUnsupportedMsg)
	}
	st, err := t.info(ctx)
	if err != nil {
		return err
	}
	bal, err := t.balance(ctx, sender)
	if err != nil {
		return err
	}
	left, err := bal.Sub(amt)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s shares, burning %s", ErrInsufficient, sender, bal, amt)
	}
	supply, err := st.TotalSupply.Sub(amt)
	if err != nil {
		return fmt.Errorf("%w: supply %s below burn %s", accounting.ErrArithmetic, st.TotalSupply, amt)
	}
	if err := t.setBalance(ctx, sender, left); err != nil {
		return err
	}
	st.TotalSupply = supply
	return tokenInfoSlot.Save(ctx, t.store, st)
}

// execToken runs msg against the token at target on behalf of sender.
func (c *Chain) execToken(ctx context.Context, target, sender vault.Address, msg vault.Msg) ([]byte, error) {
	t, err := c.token(ctx, target)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case vault.CreateToken:
		addr, err := c.createToken(ctx, m, nil)
		if err != nil {
			return nil, err
		}
		return vault.EncodeResult(vault.CreateTokenResult{ContractAddress: addr}), nil
	case vault.Mint:
		return nil, t.mint(ctx, sender, m.Recipient, m.Amount)
	case vault.Burn:
		return nil, t.burn(ctx, sender, m.Amount)
	case vault.Transfer:
		return nil, t.transfer(ctx, sender, m.Recipient, m.Amount)
	default:
		return nil, fmt.Errorf("%w: token cannot handle %s", ErrUnsupportedMsg, msg.Action())
	}
}
