package vault

import (
	"encoding/json"
	"fmt"

	"github.com/3cpo-dev/yvault/internal/accounting"
)

// Address references an external service or account on the host.
type Address string

// Amount is re-exported for callers that only deal with the vault surface.
type Amount = accounting.Amount

// ReplyOn selects when the host delivers a completion for a call.
type ReplyOn int

const (
	ReplyAlways ReplyOn = iota
	ReplySuccess
	ReplyError
	ReplyNever
)

func (r ReplyOn) String() string {
	switch r {
	case ReplyAlways:
		return "always"
	case ReplySuccess:
		return "success"
	case ReplyError:
		return "error"
	default:
		return "never"
	}
}

// Msg is a request sent to an external service.
type Msg interface {
	Action() string
}

// CreateToken asks the token service to create a new fungible token.
type CreateToken struct {
	Name     string  `json:"name"`
	Symbol   string  `json:"symbol"`
	Decimals uint8   `json:"decimals"`
	Minter   Address `json:"minter"`
}

type Mint struct {
	Recipient Address `json:"recipient"`
	Amount    Amount  `json:"amount"`
}

// Burn destroys Amount of the caller's own balance.
type Burn struct {
	Amount Amount `json:"amount"`
}

type Transfer struct {
	Recipient Address `json:"recipient"`
	Amount    Amount  `json:"amount"`
}

// StrategyDeposit moves Amount of Denom from the caller into the strategy, credited to OnBehalfOf.
type StrategyDeposit struct {
	OnBehalfOf Address `json:"on_behalf_of"`
	Denom      Address `json:"denom"`
	Amount     Amount  `json:"amount"`
}

// StrategyWithdraw returns funds to Recipient. A nil Amount withdraws the whole position.
type StrategyWithdraw struct {
	Denom     Address `json:"denom"`
	Amount    *Amount `json:"amount,omitempty"`
	Recipient Address `json:"recipient"`
}

type RegisterVault struct {
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	VaultAddress Address `json:"vault_address"`
	Owner        Address `json:"owner"`
}

func (CreateToken) Action() string      { return "create_token" }
func (Mint) Action() string             { return "mint" }
func (Burn) Action() string             { return "burn" }
func (Transfer) Action() string         { return "transfer" }
func (StrategyDeposit) Action() string  { return "strategy_deposit" }
func (StrategyWithdraw) Action() string { return "strategy_withdraw" }
func (RegisterVault) Action() string    { return "register_vault" }

// Call is one asynchronous external call issued by the vault.
type Call struct {
	ID      CorrelationID
	Target  Address
	ReplyOn ReplyOn
	Msg     Msg
}

func (c Call) String() string {
	return fmt.Sprintf("%s -> %s (%s)", c.ID, c.Target, c.Msg.Action())
}

// Reply is the completion the host delivers for a Call.
type Reply struct {
	ID CorrelationID
	// Err is empty on success.
	Err  string
	Data []byte
}

func (r Reply) Failed() bool { return r.Err != "" }

// CreateTokenResult is the success payload of a CreateToken call.
type CreateTokenResult struct {
	ContractAddress Address `json:"contract_address"`
}

// RegisterResult is the success payload of a RegisterVault call.
type RegisterResult struct {
	VaultID string `json:"vault_id"`
}

// EncodeResult marshals a reply payload. Hosts use it to build Reply.Data.
func EncodeResult(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode reply payload: %v", err))
	}
	return raw
}

// Attribute is a key/value annotation on a Response, surfaced to the caller as an event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the result of one vault invocation: annotations plus the calls
// the host must issue. The vault never waits on those calls.
type Response struct {
	Attributes []Attribute
	Calls      []Call
}

func newResponse(method string) *Response {
	return &Response{Attributes: []Attribute{{Key: "method", Value: method}}}
}

func (r *Response) attr(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

func (r *Response) call(c Call) *Response {
	r.Calls = append(r.Calls, c)
	return r
}

// Attr returns the first attribute value for key.
func (r Response) Attr(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
