package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/localchain"
	"github.com/3cpo-dev/yvault/internal/vault"
	"github.com/3cpo-dev/yvault/pkg/api"
)

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode request: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) resolve(r *http.Request, name string) (vault.Address, error) {
	return s.chain.Resolve(r.Context(), mux.Vars(r)[name])
}

func (s *Server) openVault(r *http.Request) (*vault.Vault, error) {
	addr, err := s.resolve(r, "vault")
	if err != nil {
		return nil, err
	}
	return s.chain.Vault(r.Context(), addr)
}

func parseAmount(raw string) (vault.Amount, error) {
	amt, err := accounting.ParseAmount(raw)
	if err != nil {
		return vault.Amount{}, fmt.Errorf("%w: %v", vault.ErrInvalidAmount, err)
	}
	if amt.IsZero() {
		return vault.Amount{}, fmt.Errorf("%w: amount must be positive", vault.ErrInvalidAmount)
	}
	return amt, nil
}

// finish drains the host queue and reports the accepted operation. A completion
// the vault rejected, or a call left undelivered, turns the reply into an error
// that still lists every delivery.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, addr vault.Address, resp vault.Response) {
	rep, err := s.chain.Drain(r.Context())
	deliveries := toDeliveries(rep)
	if err == nil {
		err = rep.Err()
	}
	if err == nil {
		if left := s.chain.Outstanding(); len(left) > 0 {
			err = fmt.Errorf("%w: %d calls left undelivered", vault.ErrOrchestration, len(left))
		}
	}
	if err != nil {
		s.writeErrorWith(w, r, err, deliveries)
		return
	}
	out := api.OperationResponse{
		OperationID: OperationID(r.Context()),
		Vault:       string(addr),
		Attributes:  make([]api.Attribute, 0, len(resp.Attributes)),
		Calls:       make([]api.Call, 0, len(resp.Calls)),
		Deliveries:  deliveries,
	}
	for _, a := range resp.Attributes {
		out.Attributes = append(out.Attributes, api.Attribute{Key: a.Key, Value: a.Value})
	}
	for _, c := range resp.Calls {
		out.Calls = append(out.Calls, api.Call{ID: uint64(c.ID), Kind: c.ID.Kind().String(), Target: string(c.Target), Action: c.Msg.Action()})
	}
	writeJSON(w, http.StatusOK, out)
}

func toDeliveries(rep localchain.Report) []api.Delivery {
	out := make([]api.Delivery, 0, len(rep.Deliveries))
	for _, d := range rep.Deliveries {
		out = append(out, api.Delivery{
			TraceID:      d.TraceID,
			ID:           uint64(d.ID),
			Kind:         d.ID.Kind().String(),
			Target:       string(d.Target),
			Action:       d.Action,
			ExecError:    d.ExecError,
			HandlerError: d.HandlerError,
		})
	}
	return out
}

func (s *Server) instantiate(w http.ResponseWriter, r *http.Request) {
	var req api.InstantiateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Sender == "" || req.Label == "" {
		s.writeError(w, r, fmt.Errorf("%w: sender and label are required", errBadRequest))
		return
	}
	ctx := r.Context()
	msg := vault.InitMsg{
		Owner:         vault.Address(req.Owner),
		RedeemPolicy:  accounting.RedeemPolicy(req.RedeemPolicy),
		ShareDecimals: req.ShareDecimals,
	}
	for _, ref := range []struct {
		raw string
		dst *vault.Address
	}{
		{req.SupportedAsset, &msg.SupportedAsset},
		{req.Strategy, &msg.Strategy},
		{req.Registry, &msg.Registry},
	} {
		if ref.raw == "" {
			continue
		}
		addr, err := s.chain.Resolve(ctx, ref.raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		*ref.dst = addr
	}
	addr, resp, err := s.chain.InstantiateVault(ctx, vault.Address(req.Sender), req.Label, msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.chain.SetAlias(ctx, req.Label, addr); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finish(w, r, addr, resp)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req api.DepositRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.send(w, r, req.Sender, req.Amount, req.Token, vault.ActionDeposit)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req api.WithdrawRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.send(w, r, req.Sender, req.Shares, req.Token, vault.ActionWithdraw)
}

// send moves tokens into the vault with a receive hook. Without an explicit token,
// deposits send the supported asset and withdrawals the share token.
func (s *Server) send(w http.ResponseWriter, r *http.Request, sender, rawAmount, rawToken, action string) {
	ctx := r.Context()
	v, err := s.openVault(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var token vault.Address
	switch {
	case rawToken != "":
		token, err = s.chain.Resolve(ctx, rawToken)
	case action == vault.ActionDeposit:
		token, err = v.SupportedToken(ctx)
	default:
		token, err = v.ShareToken(ctx)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.chain.Send(ctx, token, vault.Address(sender), v.Address(), amount, action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finish(w, r, v.Address(), resp)
}

func (s *Server) runStrategy(w http.ResponseWriter, r *http.Request) {
	var req api.SenderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := s.resolve(r, "vault")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.chain.RunStrategy(r.Context(), vault.Address(req.Sender), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finish(w, r, addr, resp)
}

func (s *Server) resolveBurn(w http.ResponseWriter, r *http.Request) {
	var req api.SenderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := s.resolve(r, "vault")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := vault.ParseCorrelationID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.chain.ResolvePendingBurn(r.Context(), vault.Address(req.Sender), addr, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := vault.Response{Attributes: []vault.Attribute{{Key: "method", Value: "resolve_burn"}, {Key: "id", Value: id.String()}}}
	s.finish(w, r, addr, resp)
}

func (s *Server) totalBalance(w http.ResponseWriter, r *http.Request) {
	v, err := s.openVault(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amt, err := v.TotalBalance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AmountResponse{Vault: string(v.Address()), Amount: amt.String()})
}

func (s *Server) totalSupply(w http.ResponseWriter, r *http.Request) {
	v, err := s.openVault(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amt, err := v.TotalSupply(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AmountResponse{Vault: string(v.Address()), Amount: amt.String()})
}

func (s *Server) supportedToken(w http.ResponseWriter, r *http.Request) {
	v, err := s.openVault(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := v.SupportedToken(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TokenResponse{Vault: string(v.Address()), Token: string(token)})
}

func (s *Server) shareToken(w http.ResponseWriter, r *http.Request) {
	v, err := s.openVault(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := v.ShareToken(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TokenResponse{Vault: string(v.Address()), Token: string(token)})
}

func (s *Server) pending(w http.ResponseWriter, r *http.Request) {
	v, err := s.openVault(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ops, err := v.PendingOperations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := api.PendingResponse{Vault: string(v.Address()), Operations: make([]api.PendingOperation, 0, len(ops))}
	for _, op := range ops {
		out.Operations = append(out.Operations, api.PendingOperation{
			ID:      uint64(op.ID),
			Ref:     op.ID.String(),
			Kind:    op.Kind.String(),
			Account: string(op.Account),
			Amount:  op.Amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listVaults(w http.ResponseWriter, r *http.Request) {
	stats, err := s.chain.AllStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.VaultsResponse{Vaults: Summaries(stats)})
}

// Summaries converts host stats to their wire form.
func Summaries(stats []localchain.VaultStats) []api.VaultSummary {
	out := make([]api.VaultSummary, 0, len(stats))
	for _, st := range stats {
		out = append(out, api.VaultSummary{
			Address:        string(st.Address),
			Phase:          string(st.Phase),
			SupportedAsset: string(st.SupportedAsset),
			ShareToken:     string(st.ShareToken),
			TotalBalance:   st.TotalBalance.String(),
			TotalSupply:    st.TotalSupply.String(),
			Pending:        st.Pending,
		})
	}
	return out
}

func (s *Server) registryVaults(w http.ResponseWriter, r *http.Request) {
	addr, err := s.resolve(r, "registry")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reg, err := s.chain.Registry(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := reg.ListVaults(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := api.RegistryResponse{Registry: string(addr), Vaults: make([]api.VaultRecord, 0, len(records))}
	for _, rec := range records {
		out.Vaults = append(out.Vaults, api.VaultRecord{
			VaultID:      rec.VaultID,
			Name:         rec.Name,
			Symbol:       rec.Symbol,
			VaultAddress: rec.VaultAddress,
			VaultOwner:   rec.VaultOwner,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) tokenBalance(w http.ResponseWriter, r *http.Request) {
	token, err := s.resolve(r, "token")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	holder, err := s.resolve(r, "holder")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amt, err := s.chain.Balance(r.Context(), token, holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BalanceResponse{Token: string(token), Holder: string(holder), Amount: amt.String()})
}
