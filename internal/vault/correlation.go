package vault

import (
	"fmt"
	"strconv"
)

// Kind is the reserved tag identifying which continuation handles a completion.
type Kind uint8

const (
	KindCreateShare      Kind = 1
	KindMint             Kind = 2
	KindRedeemTransfer   Kind = 3
	KindStrategyWithdraw Kind = 4
	KindRegister         Kind = 5
	KindStrategyDeposit  Kind = 6
	KindBurn             Kind = 7
)

var kindNames = map[Kind]string{
	KindCreateShare:      "create_share",
	KindMint:             "mint",
	KindRedeemTransfer:   "redeem_transfer",
	KindStrategyWithdraw: "strategy_withdraw",
	KindRegister:         "register",
	KindStrategyDeposit:  "strategy_deposit",
	KindBurn:             "burn",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// CorrelationID tags an issued external call. The low byte is the Kind and the
// remaining bits a per-vault sequence number, so two outstanding calls of the
// same kind never share an identifier.
type CorrelationID uint64

func NewCorrelationID(seq uint64, k Kind) CorrelationID {
	return CorrelationID(seq<<8 | uint64(k))
}

func (id CorrelationID) Kind() Kind  { return Kind(id & 0xff) }
func (id CorrelationID) Seq() uint64 { return uint64(id) >> 8 }

func (id CorrelationID) String() string {
	return fmt.Sprintf("%d/%s", id.Seq(), id.Kind())
}

// key is the ledger key of the pending record; fixed width keeps List in issue order.
func (id CorrelationID) key() string {
	return fmt.Sprintf("%016x", uint64(id))
}
