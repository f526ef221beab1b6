// Package api holds the request and response bodies of the yvault gateway.
// Amounts are base-10 strings so values beyond 2^53 survive JSON clients.
package api

import "time"

type HeartbeatResponse struct {
	Time    time.Time `json:"time"`
	Host    string    `json:"host"`
	Version string    `json:"version"`
}

// InstantiateRequest deploys a new vault. Owner defaults to Sender.
type InstantiateRequest struct {
	Sender         string `json:"sender" yaml:"sender"`
	Label          string `json:"label" yaml:"label"`
	Owner          string `json:"owner,omitempty" yaml:"owner,omitempty"`
	SupportedAsset string `json:"supported_asset" yaml:"supported_asset"`
	Strategy       string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Registry       string `json:"registry,omitempty" yaml:"registry,omitempty"`
	RedeemPolicy   string `json:"redeem_policy,omitempty" yaml:"redeem_policy,omitempty"`
	ShareDecimals  uint8  `json:"share_decimals,omitempty" yaml:"share_decimals,omitempty"`
}

// DepositRequest sends Amount of the vault's supported asset from Sender.
// Token overrides the asset sent; the vault rejects anything but its own asset.
type DepositRequest struct {
	Sender string `json:"sender" yaml:"sender"`
	Amount string `json:"amount" yaml:"amount"`
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`
}

// WithdrawRequest sends Shares of the vault's share token from Sender.
type WithdrawRequest struct {
	Sender string `json:"sender" yaml:"sender"`
	Shares string `json:"shares" yaml:"shares"`
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`
}

// SenderRequest carries only the caller, for owner-only operations.
type SenderRequest struct {
	Sender string `json:"sender" yaml:"sender"`
}

type Attribute struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

type Call struct {
	ID     uint64 `json:"id" yaml:"id"`
	Kind   string `json:"kind" yaml:"kind"`
	Target string `json:"target" yaml:"target"`
	Action string `json:"action" yaml:"action"`
}

type Delivery struct {
	TraceID      string `json:"trace_id" yaml:"trace_id"`
	ID           uint64 `json:"id" yaml:"id"`
	Kind         string `json:"kind" yaml:"kind"`
	Target       string `json:"target" yaml:"target"`
	Action       string `json:"action" yaml:"action"`
	ExecError    string `json:"exec_error,omitempty" yaml:"exec_error,omitempty"`
	HandlerError string `json:"handler_error,omitempty" yaml:"handler_error,omitempty"`
}

// OperationResponse reports an accepted operation, the calls it issued and
// what happened to every call processed before the response was written.
type OperationResponse struct {
	OperationID string      `json:"operation_id" yaml:"operation_id"`
	Vault       string      `json:"vault" yaml:"vault"`
	Attributes  []Attribute `json:"attributes" yaml:"attributes"`
	Calls       []Call      `json:"calls" yaml:"calls"`
	Deliveries  []Delivery  `json:"deliveries" yaml:"deliveries"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	OperationID string `json:"operation_id,omitempty"`
	// Deliveries is set when the operation was accepted but a completion failed.
	Deliveries []Delivery `json:"deliveries,omitempty"`
}

type AmountResponse struct {
	Vault  string `json:"vault" yaml:"vault"`
	Amount string `json:"amount" yaml:"amount"`
}

type TokenResponse struct {
	Vault string `json:"vault" yaml:"vault"`
	Token string `json:"token" yaml:"token"`
}

type PendingOperation struct {
	ID      uint64 `json:"id" yaml:"id"`
	Ref     string `json:"ref" yaml:"ref"`
	Kind    string `json:"kind" yaml:"kind"`
	Account string `json:"account,omitempty" yaml:"account,omitempty"`
	Amount  string `json:"amount" yaml:"amount"`
}

type PendingResponse struct {
	Vault      string             `json:"vault" yaml:"vault"`
	Operations []PendingOperation `json:"operations" yaml:"operations"`
}

type VaultSummary struct {
	Address        string `json:"address" yaml:"address"`
	Phase          string `json:"phase" yaml:"phase"`
	SupportedAsset string `json:"supported_asset,omitempty" yaml:"supported_asset,omitempty"`
	ShareToken     string `json:"share_token,omitempty" yaml:"share_token,omitempty"`
	TotalBalance   string `json:"total_balance" yaml:"total_balance"`
	TotalSupply    string `json:"total_supply" yaml:"total_supply"`
	Pending        int    `json:"pending" yaml:"pending"`
}

type VaultsResponse struct {
	Vaults []VaultSummary `json:"vaults" yaml:"vaults"`
}

type VaultRecord struct {
	VaultID      string `json:"vault_id" yaml:"vault_id"`
	Name         string `json:"name" yaml:"name"`
	Symbol       string `json:"symbol" yaml:"symbol"`
	VaultAddress string `json:"vault_address" yaml:"vault_address"`
	VaultOwner   string `json:"vault_owner" yaml:"vault_owner"`
}

type RegistryResponse struct {
	Registry string        `json:"registry" yaml:"registry"`
	Vaults   []VaultRecord `json:"vaults" yaml:"vaults"`
}

type BalanceResponse struct {
	Token  string `json:"token" yaml:"token"`
	Holder string `json:"holder" yaml:"holder"`
	Amount string `json:"amount" yaml:"amount"`
}
