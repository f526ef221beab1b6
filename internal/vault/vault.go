// Package vault implements a pooled-fund vault as an asynchronous orchestration
// state machine.
//
// Every operation runs to completion within one invocation and returns a Response
// listing the external calls the host must issue. Completions come back later
// through HandleReply, correlated by CorrelationID. State written before a call is
// issued is durable and visible to later invocations even if that call fails.
package vault

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/ledger"
	"github.com/3cpo-dev/yvault/internal/telemetry"
)

const (
	defaultShareDecimals = 18

	ActionDeposit  = "Deposit"
	ActionWithdraw = "Withdraw"
)

// Vault is one vault instance bound to its own ledger namespace.
type Vault struct {
	self    Address
	store   ledger.Store
	querier Querier
	logger  zerolog.Logger
}

// New binds a vault at address self to store and querier. The store must be
// exclusive to this vault.
func New(self Address, store ledger.Store, querier Querier) *Vault {
	return &Vault{
		self:    self,
		store:   store,
		querier: querier,
		logger:  log.With().Str("component", "vault").Str("vault", string(self)).Logger(),
	}
}

func (v *Vault) Address() Address { return v.self }

// InitMsg configures a new vault.
type InitMsg struct {
	// Owner defaults to the sender when empty.
	Owner          Address                 `json:"owner,omitempty"`
	SupportedAsset Address                 `json:"supported_asset"`
	Strategy       Address                 `json:"strategy,omitempty"`
	Registry       Address                 `json:"registry,omitempty"`
	RedeemPolicy   accounting.RedeemPolicy `json:"redeem_policy,omitempty"`
	ShareDecimals  uint8                   `json:"share_decimals,omitempty"`
}

// Initialize persists the configuration and requests creation of the share token,
// with the vault as its minter. The vault is usable only after that call completes.
func (v *Vault) Initialize(ctx context.Context, sender Address, msg InitMsg) (Response, error) {
	if _, ok, err := configSlot.MayLoad(ctx, v.store); err != nil {
		return Response{}, err
	} else if ok {
		return Response{}, ErrAlreadyInitialized
	}
	if msg.SupportedAsset == "" {
		return Response{}, fmt.Errorf("%w: supported asset is required", ErrConfiguration)
	}
	owner := msg.Owner
	if owner == "" {
		owner = sender
	}
	if owner == "" {
		return Response{}, fmt.Errorf("%w: owner is required", ErrConfiguration)
	}
	policy, err := accounting.ParseRedeemPolicy(string(msg.RedeemPolicy))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	asset, err := v.querier.TokenInfo(ctx, msg.SupportedAsset)
	if err != nil {
		return Response{}, fmt.Errorf("%w: fetch metadata for %s: %v", ErrConfiguration, msg.SupportedAsset, err)
	}
	// The registry is not checked: a failed registration is logged and the vault stays usable.
	if msg.Strategy != "" {
		if _, err := v.querier.StrategyPosition(ctx, msg.Strategy, v.self, msg.SupportedAsset); err != nil {
			return Response{}, fmt.Errorf("%w: strategy %s is unreachable: %v", ErrConfiguration, msg.Strategy, err)
		}
	}

	decimals := msg.ShareDecimals
	if decimals == 0 {
		decimals = defaultShareDecimals
	}
	cfg := Config{
		Version:        configVersion,
		Owner:          owner,
		SupportedAsset: msg.SupportedAsset,
		Strategy:       msg.Strategy,
		Registry:       msg.Registry,
		RedeemPolicy:   policy,
		ShareName:      "v" + asset.Name,
		ShareSymbol:    "V" + asset.Symbol,
		ShareDecimals:  decimals,
	}

	a, err := v.newIDs(ctx)
	if err != nil {
		return Response{}, err
	}
	id := a.issue(KindCreateShare, "", accounting.Zero)

	if err := configSlot.Save(ctx, v.store, cfg); err != nil {
		return Response{}, err
	}
	if err := v.commit(ctx, a); err != nil {
		return Response{}, err
	}

	v.logger.Info().
		Str("op", "initialize").
		Str("owner", string(owner)).
		Str("asset", string(cfg.SupportedAsset)).
		Str("correlation_id", id.String()).
		Msg("vault configured, share token requested")

	resp := newResponse("instantiate").
		attr("owner", string(owner)).
		call(Call{
			ID:      id,
			Target:  cfg.SupportedAsset,
			ReplyOn: ReplyAlways,
			Msg: CreateToken{
				Name:     cfg.ShareName,
				Symbol:   cfg.ShareSymbol,
				Decimals: cfg.ShareDecimals,
				Minter:   v.self,
			},
		})
	return *resp, nil
}

// ReceiveMsg is the payload a token service forwards when a holder sends tokens to the vault.
type ReceiveMsg struct {
	Sender Address `json:"sender"`
	Amount Amount  `json:"amount"`
	Action string  `json:"action"`
}

// Receive routes a token receive hook. token is the service that invoked the hook
// and is the authoritative reference of what was sent.
func (v *Vault) Receive(ctx context.Context, token Address, msg ReceiveMsg) (Response, error) {
	switch msg.Action {
	case ActionDeposit:
		return v.Deposit(ctx, msg.Sender, msg.Amount, token)
	case ActionWithdraw:
		return v.Withdraw(ctx, msg.Sender, msg.Amount, token)
	default:
		return Response{}, fmt.Errorf("%w: invalid request %q", ErrOrchestration, msg.Action)
	}
}

// Deposit mints shares for amount of the supported asset, which has already landed
// in the vault's balance.
func (v *Vault) Deposit(ctx context.Context, depositor Address, amount Amount, senderAsset Address) (Response, error) {
	cfg, err := v.loadConfig(ctx)
	if err != nil {
		return Response{}, err
	}
	if senderAsset != cfg.SupportedAsset {
		return Response{}, fmt.Errorf("%w: got %s, vault supports %s", ErrUnsupportedAsset, senderAsset, cfg.SupportedAsset)
	}
	if amount.IsZero() {
		return Response{}, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	share, err := v.loadShareToken(ctx)
	if err != nil {
		return Response{}, err
	}

	supply, err := v.shareSupply(ctx, share)
	if err != nil {
		return Response{}, err
	}
	balance, err := v.poolBalance(ctx, cfg)
	if err != nil {
		return Response{}, err
	}
	minted, err := accounting.ComputeMintAmount(supply, balance, amount)
	if err != nil {
		return Response{}, err
	}
	if minted.IsZero() {
		return Response{}, fmt.Errorf("%w: deposit %s is too small to mint a share", accounting.ErrArithmetic, amount)
	}

	a, err := v.newIDs(ctx)
	if err != nil {
		return Response{}, err
	}
	id := a.issue(KindMint, depositor, minted)
	if err := v.commit(ctx, a); err != nil {
		return Response{}, err
	}

	v.logger.Info().
		Str("op", "deposit").
		Str("depositor", string(depositor)).
		Stringer("amount", amount).
		Stringer("supply", supply).
		Stringer("balance", balance).
		Stringer("shares", minted).
		Str("correlation_id", id.String()).
		Msg("minting shares")
	telemetry.CounterGlobal("yvault_deposits", 1, map[string]string{"vault": string(v.self)})

	resp := newResponse("deposit").
		attr("depositor", string(depositor)).
		attr("amount", amount.String()).
		attr("shares", minted.String()).
		call(Call{ID: id, Target: share, ReplyOn: ReplyAlways, Msg: Mint{Recipient: depositor, Amount: minted}})
	return *resp, nil
}

// Withdraw redeems shares the depositor has already sent to the vault. It first asks the
// strategy to return funds without waiting on it, then transfers the redeemed asset
// and burns the shares. The transfer relies on the host executing the unwind first.
func (v *Vault) Withdraw(ctx context.Context, depositor Address, shares Amount, senderShare Address) (Response, error) {
	cfg, err := v.loadConfig(ctx)
	if err != nil {
		return Response{}, err
	}
	share, err := v.loadShareToken(ctx)
	if err != nil {
		return Response{}, err
	}
	if senderShare != share {
		return Response{}, fmt.Errorf("%w: got %s, vault share token is %s", ErrInvalidShareToken, senderShare, share)
	}
	if shares.IsZero() {
		return Response{}, fmt.Errorf("%w: withdrawal must be positive", ErrInvalidAmount)
	}

	supply, err := v.shareSupply(ctx, share)
	if err != nil {
		return Response{}, err
	}
	balance, err := v.poolBalance(ctx, cfg)
	if err != nil {
		return Response{}, err
	}
	redeemed, err := accounting.ComputeRedeemAmount(cfg.RedeemPolicy, supply, balance, shares)
	if err != nil {
		return Response{}, err
	}
	if redeemed.IsZero() {
		return Response{}, fmt.Errorf("%w: %s shares redeem to nothing", accounting.ErrArithmetic, shares)
	}

	a, err := v.newIDs(ctx)
	if err != nil {
		return Response{}, err
	}
	resp := newResponse("withdraw").
		attr("depositor", string(depositor)).
		attr("shares", shares.String()).
		attr("amount", redeemed.String())
	if cfg.Strategy != "" {
		unwind := a.issue(KindStrategyWithdraw, v.self, accounting.Zero)
		resp.call(Call{
			ID:      unwind,
			Target:  cfg.Strategy,
			ReplyOn: ReplyAlways,
			Msg:     StrategyWithdraw{Denom: cfg.SupportedAsset, Recipient: v.self},
		})
	}
	transfer := a.issue(KindRedeemTransfer, depositor, redeemed)
	burn := a.issue(KindBurn, depositor, shares)
	if err := v.commit(ctx, a); err != nil {
		return Response{}, err
	}
	resp.call(Call{ID: transfer, Target: cfg.SupportedAsset, ReplyOn: ReplyAlways, Msg: Transfer{Recipient: depositor, Amount: redeemed}}).
		call(Call{ID: burn, Target: share, ReplyOn: ReplyAlways, Msg: Burn{Amount: shares}})

	v.logger.Info().
		Str("op", "withdraw").
		Str("depositor", string(depositor)).
		Stringer("shares", shares).
		Stringer("supply", supply).
		Stringer("balance", balance).
		Stringer("amount", redeemed).
		Str("transfer_id", transfer.String()).
		Str("burn_id", burn.String()).
		Msg("redeeming shares")
	telemetry.CounterGlobal("yvault_withdrawals", 1, map[string]string{"vault": string(v.self)})
	return *resp, nil
}

// RunStrategy deposits the vault's whole idle balance into the yield strategy. Owner only.
func (v *Vault) RunStrategy(ctx context.Context, sender Address) (Response, error) {
	cfg, err := v.loadConfig(ctx)
	if err != nil {
		return Response{}, err
	}
	if sender != cfg.Owner {
		return Response{}, fmt.Errorf("%w: %s is not the vault owner", ErrUnauthorized, sender)
	}
	if cfg.Strategy == "" {
		return Response{}, fmt.Errorf("%w: no strategy configured", ErrConfiguration)
	}
	idle, err := v.querier.Balance(ctx, cfg.SupportedAsset, v.self)
	if err != nil {
		return Response{}, fmt.Errorf("%w: fetch balance: %v", ErrConfiguration, err)
	}
	resp := newResponse("strategies")
	if idle.IsZero() {
		v.logger.Debug().Str("op", "run_strategy").Msg("no idle balance to route")
		return *resp.attr("skipped", "no idle balance"), nil
	}

	a, err := v.newIDs(ctx)
	if err != nil {
		return Response{}, err
	}
	id := a.issue(KindStrategyDeposit, v.self, idle)
	if err := v.commit(ctx, a); err != nil {
		return Response{}, err
	}
	v.logger.Info().
		Str("op", "run_strategy").
		Stringer("amount", idle).
		Str("strategy", string(cfg.Strategy)).
		Str("correlation_id", id.String()).
		Msg("routing idle balance to strategy")
	resp.attr("amount", idle.String()).
		call(Call{
			ID:      id,
			Target:  cfg.Strategy,
			ReplyOn: ReplyAlways,
			Msg:     StrategyDeposit{OnBehalfOf: v.self, Denom: cfg.SupportedAsset, Amount: idle},
		})
	return *resp, nil
}

// ResolvePendingBurn drops a pending burn left behind by a failed burn, once the
// owner has reconciled it by hand.
func (v *Vault) ResolvePendingBurn(ctx context.Context, sender Address, id CorrelationID) error {
	cfg, err := v.loadConfig(ctx)
	if err != nil {
		return err
	}
	if sender != cfg.Owner {
		return fmt.Errorf("%w: %s is not the vault owner", ErrUnauthorized, sender)
	}
	op, ok, err := v.loadPending(ctx, id)
	if err != nil {
		return err
	}
	if !ok || op.Kind != KindBurn {
		return fmt.Errorf("%w: no pending burn %s", ErrOrchestration, id)
	}
	if err := v.removePending(ctx, id); err != nil {
		return err
	}
	v.logger.Warn().Str("op", "resolve_burn").Str("correlation_id", id.String()).Stringer("amount", op.Amount).Msg("pending burn resolved by owner")
	return nil
}

func (v *Vault) shareSupply(ctx context.Context, share Address) (Amount, error) {
	info, err := v.querier.TokenInfo(ctx, share)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: fetch share supply: %v", ErrConfiguration, err)
	}
	return info.TotalSupply, nil
}

// poolBalance is the supported asset held directly plus the strategy position.
func (v *Vault) poolBalance(ctx context.Context, cfg Config) (Amount, error) {
	direct, err := v.querier.Balance(ctx, cfg.SupportedAsset, v.self)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: fetch balance: %v", ErrConfiguration, err)
	}
	if cfg.Strategy == "" {
		return direct, nil
	}
	invested, err := v.querier.StrategyPosition(ctx, cfg.Strategy, v.self, cfg.SupportedAsset)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: fetch strategy position: %v", ErrConfiguration, err)
	}
	return direct.Add(invested), nil
}
