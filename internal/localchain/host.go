package localchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/3cpo-dev/yvault/internal/vault"
)

// maxSteps bounds one Drain so a vault that keeps issuing calls cannot spin forever.
const maxSteps = 10_000

var ErrRunaway = errors.New("localchain: drain did not settle")

type envelope struct {
	trace  xid.ID
	origin vault.Address
	call   vault.Call
}

type replyKey struct {
	origin vault.Address
	id     vault.CorrelationID
}

// Outstanding is a call that was issued and has not completed yet.
type Outstanding struct {
	Origin vault.Address       `json:"origin" yaml:"origin"`
	ID     vault.CorrelationID `json:"id" yaml:"id"`
}

// Delivery records what happened to one queued call.
type Delivery struct {
	TraceID      string              `json:"trace_id" yaml:"trace_id"`
	Origin       vault.Address       `json:"origin" yaml:"origin"`
	Target       vault.Address       `json:"target" yaml:"target"`
	ID           vault.CorrelationID `json:"id" yaml:"id"`
	Action       string              `json:"action" yaml:"action"`
	ExecError    string              `json:"exec_error,omitempty" yaml:"exec_error,omitempty"`
	Delivered    bool                `json:"delivered" yaml:"delivered"`
	HandlerError string              `json:"handler_error,omitempty" yaml:"handler_error,omitempty"`

	handlerErr error
}

// Report lists the calls one Drain processed, in processing order.
type Report struct {
	Deliveries []Delivery `json:"deliveries" yaml:"deliveries"`
}

// Err joins every error a vault returned while handling a completion.
func (r Report) Err() error {
	var errs []error
	for _, d := range r.Deliveries {
		if d.handlerErr != nil {
			errs = append(errs, d.handlerErr)
		}
	}
	return errors.Join(errs...)
}

// Vault returns the vault deployed at addr.
func (c *Chain) Vault(ctx context.Context, addr vault.Address) (*vault.Vault, error) {
	c.mu.Lock()
	v, ok := c.vaults[addr]
	c.mu.Unlock()
	if ok {
		return v, nil
	}
	ct, err := c.Contract(ctx, addr)
	if err != nil {
		return nil, err
	}
	if ct.Kind != ContractVault {
		return nil, fmt.Errorf("%w: %s is a %s, not a vault", ErrUnknownContract, addr, ct.Kind)
	}
	v = vault.New(addr, c.namespace(ContractVault, addr), c)
	c.mu.Lock()
	c.vaults[addr] = v
	c.mu.Unlock()
	return v, nil
}

// InstantiateVault deploys a vault under label and runs its initialization. The
// share token is created once the queue is drained.
func (c *Chain) InstantiateVault(ctx context.Context, sender vault.Address, label string, msg vault.InitMsg) (vault.Address, vault.Response, error) {
	c.tx.Lock()
	defer c.tx.Unlock()

	addr, err := c.deploy(ctx, ContractVault, label)
	if err != nil {
		return "", vault.Response{}, err
	}
	v, err := c.Vault(ctx, addr)
	if err != nil {
		return "", vault.Response{}, err
	}
	resp, err := v.Initialize(ctx, sender, msg)
	if err != nil {
		c.undeploy(ctx, addr)
		return "", vault.Response{}, err
	}
	if err := c.enqueue(xid.New(), addr, resp.Calls); err != nil {
		return "", vault.Response{}, err
	}
	return addr, resp, nil
}

func (c *Chain) undeploy(ctx context.Context, addr vault.Address) {
	c.mu.Lock()
	delete(c.vaults, addr)
	c.mu.Unlock()
	if err := contractsSlot.Remove(ctx, c.store, string(addr)); err != nil {
		c.logger.Error().Err(err).Str("address", string(addr)).Msg("failed to roll back deployment")
	}
}

// Transfer moves amt of token between two accounts.
func (c *Chain) Transfer(ctx context.Context, tokenAddr, from, to vault.Address, amt vault.Amount) error {
	c.tx.Lock()
	defer c.tx.Unlock()
	t, err := c.token(ctx, tokenAddr)
	if err != nil {
		return err
	}
	return t.transfer(ctx, from, to, amt)
}

// Send transfers amt of token from sender to the vault and invokes the vault's
// receive hook with action. A rejected hook reverts the transfer.
func (c *Chain) Send(ctx context.Context, tokenAddr, sender, vaultAddr vault.Address, amt vault.Amount, action string) (vault.Response, error) {
	c.tx.Lock()
	defer c.tx.Unlock()

	v, err := c.Vault(ctx, vaultAddr)
	if err != nil {
		return vault.Response{}, err
	}
	t, err := c.token(ctx, tokenAddr)
	if err != nil {
		return vault.Response{}, err
	}
	if err := t.transfer(ctx, sender, vaultAddr, amt); err != nil {
		return vault.Response{}, err
	}
	resp, err := v.Receive(ctx, tokenAddr, vault.ReceiveMsg{Sender: sender, Amount: amt, Action: action})
	if err != nil {
		if rerr := t.transfer(ctx, vaultAddr, sender, amt); rerr != nil {
			c.logger.Error().Err(rerr).Str("token", string(tokenAddr)).Str("sender", string(sender)).Msg("failed to revert transfer")
			return vault.Response{}, errors.Join(err, rerr)
		}
		return vault.Response{}, err
	}
	if err := c.enqueue(xid.New(), vaultAddr, resp.Calls); err != nil {
		return vault.Response{}, err
	}
	return resp, nil
}

// RunStrategy asks the vault to route its idle balance to its strategy.
func (c *Chain) RunStrategy(ctx context.Context, sender, vaultAddr vault.Address) (vault.Response, error) {
	c.tx.Lock()
	defer c.tx.Unlock()

	v, err := c.Vault(ctx, vaultAddr)
	if err != nil {
		return vault.Response{}, err
	}
	resp, err := v.RunStrategy(ctx, sender)
	if err != nil {
		return vault.Response{}, err
	}
	if err := c.enqueue(xid.New(), vaultAddr, resp.Calls); err != nil {
		return vault.Response{}, err
	}
	return resp, nil
}

// ResolvePendingBurn clears a failed burn on the vault's pending table.
func (c *Chain) ResolvePendingBurn(ctx context.Context, sender, vaultAddr vault.Address, id vault.CorrelationID) error {
	c.tx.Lock()
	defer c.tx.Unlock()

	v, err := c.Vault(ctx, vaultAddr)
	if err != nil {
		return err
	}
	return v.ResolvePendingBurn(ctx, sender, id)
}

func (c *Chain) enqueue(trace xid.ID, origin vault.Address, calls []vault.Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range calls {
		key := replyKey{origin: origin, id: call.ID}
		if c.issued[key] {
			return fmt.Errorf("%w: %s reissued outstanding call %s", vault.ErrOrchestration, origin, call.ID)
		}
		c.issued[key] = true
		c.queue = append(c.queue, envelope{trace: trace, origin: origin, call: call})
		c.logger.Debug().
			Str("trace_id", trace.String()).
			Str("vault", string(origin)).
			Str("correlation_id", call.ID.String()).
			Str("target", string(call.Target)).
			Str("action", call.Msg.Action()).
			Msg("call queued")
	}
	return nil
}

func (c *Chain) next() (envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return envelope{}, false
	}
	i := 0
	if c.rng != nil {
		// Pick an operation at random, then its oldest queued call.
		trace := c.queue[c.rng.Intn(len(c.queue))].trace
		for c.queue[i].trace != trace {
			i++
		}
	}
	env := c.queue[i]
	c.queue = append(c.queue[:i], c.queue[i+1:]...)
	return env, true
}

// Outstanding lists issued calls whose completion has not been delivered, in queue order.
func (c *Chain) Outstanding() []Outstanding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outstanding, 0, len(c.queue))
	for _, env := range c.queue {
		out = append(out, Outstanding{Origin: env.origin, ID: env.call.ID})
	}
	return out
}

// Drain executes queued calls, including those issued by completion handlers,
// until the queue is empty. Each completion is delivered at most once.
func (c *Chain) Drain(ctx context.Context) (Report, error) {
	c.tx.Lock()
	defer c.tx.Unlock()

	var rep Report
	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if steps >= maxSteps {
			return rep, fmt.Errorf("%w after %d calls", ErrRunaway, steps)
		}
		env, ok := c.next()
		if !ok {
			return rep, nil
		}
		d, err := c.process(ctx, env)
		rep.Deliveries = append(rep.Deliveries, d)
		if err != nil {
			return rep, err
		}
	}
}

func (c *Chain) process(ctx context.Context, env envelope) (Delivery, error) {
	call := env.call
	d := Delivery{
		TraceID: env.trace.String(),
		Origin:  env.origin,
		Target:  call.Target,
		ID:      call.ID,
		Action:  call.Msg.Action(),
	}
	logger := c.logger.With().
		Str("trace_id", d.TraceID).
		Str("vault", string(env.origin)).
		Str("correlation_id", call.ID.String()).
		Str("kind", call.ID.Kind().String()).
		Logger()

	reply := vault.Reply{ID: call.ID}
	data, err := c.exec(ctx, call.Target, env.origin, call.Msg)
	if err != nil {
		reply.Err = err.Error()
		d.ExecError = reply.Err
		logger.Info().Err(err).Str("action", d.Action).Msg("call failed")
	} else {
		reply.Data = data
	}

	c.mu.Lock()
	delete(c.issued, replyKey{origin: env.origin, id: call.ID})
	c.mu.Unlock()

	if !wantsReply(call.ReplyOn, reply.Failed()) {
		return d, nil
	}
	v, err := c.Vault(ctx, env.origin)
	if err != nil {
		return d, err
	}
	d.Delivered = true
	resp, err := v.HandleReply(ctx, reply)
	if err != nil {
		d.handlerErr = err
		d.HandlerError = err.Error()
		logger.Warn().Err(err).Str("error_kind", vault.ErrorKind(err)).Msg("completion rejected")
		return d, nil
	}
	return d, c.enqueue(env.trace, env.origin, resp.Calls)
}

func wantsReply(on vault.ReplyOn, failed bool) bool {
	switch on {
	case vault.ReplyAlways:
		return true
	case vault.ReplySuccess:
		return !failed
	case vault.ReplyError:
		return failed
	default:
		return false
	}
}

func (c *Chain) exec(ctx context.Context, target, sender vault.Address, msg vault.Msg) ([]byte, error) {
	ct, err := c.Contract(ctx, target)
	if err != nil {
		return nil, err
	}
	switch ct.Kind {
	case ContractToken:
		return c.execToken(ctx, target, sender, msg)
	case ContractStrategy:
		return c.execStrategy(ctx, target, sender, msg)
	case ContractRegistry:
		return c.execRegistry(ctx, target, sender, msg)
	default:
		return nil, fmt.Errorf("%w: %s contracts accept no calls", ErrUnsupportedMsg, ct.Kind)
	}
}

// TokenInfo implements vault.Querier.
func (c *Chain) TokenInfo(ctx context.Context, tokenAddr vault.Address) (vault.TokenInfo, error) {
	t, err := c.token(ctx, tokenAddr)
	if err != nil {
		return vault.TokenInfo{}, err
	}
	st, err := t.info(ctx)
	if err != nil {
		return vault.TokenInfo{}, err
	}
	return vault.TokenInfo{Name: st.Name, Symbol: st.Symbol, Decimals: st.Decimals, TotalSupply: st.TotalSupply}, nil
}

// Balance implements vault.Querier.
func (c *Chain) Balance(ctx context.Context, tokenAddr, holder vault.Address) (vault.Amount, error) {
	t, err := c.token(ctx, tokenAddr)
	if err != nil {
		return vault.Amount{}, err
	}
	return t.balance(ctx, holder)
}

var _ vault.Querier = (*Chain)(nil)
