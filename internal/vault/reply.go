package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/3cpo-dev/yvault/internal/telemetry"
)

type continuation struct {
	handle func(v *Vault, ctx context.Context, op PendingOp, r Reply) (Response, error)
	// keepOnFailure leaves the pending record in place when the call failed.
	keepOnFailure bool
}

var continuations = map[Kind]continuation{
	KindCreateShare:      {handle: (*Vault).onShareCreated},
	KindMint:             {handle: (*Vault).onMinted},
	KindRedeemTransfer:   {handle: (*Vault).onRedeemTransferred},
	KindStrategyWithdraw: {handle: (*Vault).onStrategyWithdrawn},
	KindRegister:         {handle: (*Vault).onRegistered},
	KindStrategyDeposit:  {handle: (*Vault).onStrategyDeposited},
	KindBurn:             {handle: (*Vault).onBurned, keepOnFailure: true},
}

// HandleReply dispatches a completion to its continuation. A completion whose
// identifier has an unknown kind, or was never issued by this vault, or was already
// consumed, is rejected with ErrOrchestration.
func (v *Vault) HandleReply(ctx context.Context, r Reply) (Response, error) {
	kind := r.ID.Kind()
	cont, ok := continuations[kind]
	if !ok {
		return Response{}, fmt.Errorf("%w: id %d has no handler", ErrOrchestration, uint64(r.ID))
	}
	op, ok, err := v.loadPending(ctx, r.ID)
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{}, fmt.Errorf("%w: reply %s was never issued or already completed", ErrOrchestration, r.ID)
	}

	labels := map[string]string{"vault": string(v.self), "kind": kind.String()}
	telemetry.CounterGlobal("yvault_callbacks", 1, labels)
	if r.Failed() {
		telemetry.CounterGlobal("yvault_callback_failures", 1, labels)
	}

	if !(r.Failed() && cont.keepOnFailure) {
		if err := v.removePending(ctx, r.ID); err != nil {
			return Response{}, err
		}
	}
	return cont.handle(v, ctx, op, r)
}

func (v *Vault) onShareCreated(ctx context.Context, op PendingOp, r Reply) (Response, error) {
	if r.Failed() {
		return Response{}, fmt.Errorf("%w: share token creation failed: %s", ErrOrchestration, r.Err)
	}
	var res CreateTokenResult
	if err := json.Unmarshal(r.Data, &res); err != nil || res.ContractAddress == "" {
		return Response{}, fmt.Errorf("%w: unable to parse share token address from reply %s", ErrOrchestration, r.ID)
	}
	if _, ok, err := shareSlot.MayLoad(ctx, v.store); err != nil {
		return Response{}, err
	} else if ok {
		return Response{}, fmt.Errorf("%w: share token already set", ErrOrchestration)
	}
	cfg, err := v.loadConfig(ctx)
	if err != nil {
		return Response{}, err
	}
	if err := shareSlot.Save(ctx, v.store, ShareToken{Address: res.ContractAddress}); err != nil {
		return Response{}, err
	}
	v.logger.Info().Str("op", "share_created").Str("share_token", string(res.ContractAddress)).Msg("vault active")

	resp := newResponse("handle_share_instantiate").attr("share_token", string(res.ContractAddress))
	if cfg.Registry == "" {
		return *resp, nil
	}

	a, err := v.newIDs(ctx)
	if err != nil {
		return Response{}, err
	}
	id := a.issue(KindRegister, cfg.Owner, Amount{})
	if err := v.commit(ctx, a); err != nil {
		return Response{}, err
	}
	resp.call(Call{
		ID:      id,
		Target:  cfg.Registry,
		ReplyOn: ReplyAlways,
		Msg: RegisterVault{
			Name:         cfg.ShareName,
			Symbol:       cfg.ShareSymbol,
			VaultAddress: v.self,
			Owner:        cfg.Owner,
		},
	})
	return *resp, nil
}

func (v *Vault) onMinted(_ context.Context, op PendingOp, r Reply) (Response, error) {
	if r.Failed() {
		v.logger.Error().Str("op", "mint").Str("correlation_id", op.ID.String()).Str("depositor", string(op.Account)).Str("error", r.Err).Msg("mint failed, deposit kept without shares")
		return Response{}, fmt.Errorf("%w: %s shares for %s: %s", ErrMintFailed, op.Amount, op.Account, r.Err)
	}
	v.logger.Debug().Str("op", "mint").Str("correlation_id", op.ID.String()).Msg("mint confirmed")
	return *newResponse("handle_mint").attr("shares", op.Amount.String()), nil
}

func (v *Vault) onRedeemTransferred(_ context.Context, op PendingOp, r Reply) (Response, error) {
	if r.Failed() {
		v.logger.Error().Str("op", "redeem_transfer").Str("correlation_id", op.ID.String()).Str("recipient", string(op.Account)).Str("error", r.Err).Msg("redemption transfer failed")
		return Response{}, fmt.Errorf("%w: %s to %s: %s", ErrTransferFailed, op.Amount, op.Account, r.Err)
	}
	return *newResponse("handle_transfer").attr("amount", op.Amount.String()), nil
}

func (v *Vault) onBurned(_ context.Context, op PendingOp, r Reply) (Response, error) {
	if r.Failed() {
		v.logger.Error().Str("op", "burn").Str("correlation_id", op.ID.String()).Stringer("amount", op.Amount).Str("error", r.Err).Msg("burn failed, pending burn left for reconciliation")
		return Response{}, fmt.Errorf("%w: %s shares (%s): %s", ErrBurnFailed, op.Amount, op.ID, r.Err)
	}
	return *newResponse("handle_burn").attr("shares", op.Amount.String()), nil
}

func (v *Vault) onStrategyWithdrawn(_ context.Context, op PendingOp, r Reply) (Response, error) {
	if r.Failed() {
		v.logger.Warn().Str("op", "strategy_withdraw").Str("correlation_id", op.ID.String()).Str("error", r.Err).Msg("strategy unwind failed")
	}
	return *newResponse("handle_strategy_withdraw"), nil
}

func (v *Vault) onStrategyDeposited(_ context.Context, op PendingOp, r Reply) (Response, error) {
	if r.Failed() {
		return Response{}, fmt.Errorf("%w: deposit of %s: %s", ErrStrategyFailed, op.Amount, r.Err)
	}
	return *newResponse("handle_strategy_deposit").attr("amount", op.Amount.String()), nil
}

func (v *Vault) onRegistered(_ context.Context, op PendingOp, r Reply) (Response, error) {
	if r.Failed() {
		v.logger.Warn().Str("op", "register").Str("correlation_id", op.ID.String()).Str("error", r.Err).Msg("registry registration failed")
		return *newResponse("handle_register"), nil
	}
	var res RegisterResult
	if err := json.Unmarshal(r.Data, &res); err != nil {
		v.logger.Warn().Err(err).Str("op", "register").Str("correlation_id", op.ID.String()).Msg("unable to decode registration result")
		return *newResponse("handle_register"), nil
	}
	v.logger.Info().Str("op", "register").Str("vault_id", res.VaultID).Msg("vault registered")
	return *newResponse("handle_register").attr("vault_id", res.VaultID), nil
}
