package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TakerAny is the wildcard taker sentinel: an order with this taker may be
// filled by anyone.
var TakerAny = common.Address{}

// Order is a maker's intent to trade a signed quantity of a derivative at a
// price, expiring at a given instant. Values are immutable once built;
// RemainingQty is a point-in-time read and is excluded from the order's
// identity.
type Order struct {
	ContractAddress common.Address
	Maker           common.Address
	Taker           common.Address
	FeeRecipient    common.Address
	MakerFee        *big.Int
	TakerFee        *big.Int
	// Qty is signed: positive is a buy, negative is a sell.
	Qty   *big.Int
	Price *big.Int
	// Salt guarantees uniqueness for otherwise-identical orders.
	Salt *big.Int
	// Expiration is a unix timestamp in seconds.
	Expiration *big.Int
	// RemainingQty is the unfilled quantity at the time the order was read.
	RemainingQty *big.Int
}

// ExpirationTime returns the expiration instant as wall-clock time.
func (o *Order) ExpirationTime() time.Time {
	if o.Expiration == nil {
		return time.Time{}
	}
	return time.Unix(o.Expiration.Int64(), 0)
}

// IsBuy reports whether the order's signed quantity is a buy.
func (o *Order) IsBuy() bool {
	return o.Qty != nil && o.Qty.Sign() > 0
}

// Signature is the elliptic-curve signature triple over an order hash.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// SignedOrder is an Order plus the maker's signature over its hash.
type SignedOrder struct {
	Order     Order
	Signature Signature
}

// OutcomeStatus tags a TransactionOutcome.
type OutcomeStatus string

const (
	OutcomeFilled    OutcomeStatus = "filled"
	OutcomeCancelled OutcomeStatus = "cancelled"
	OutcomeFailed    OutcomeStatus = "failed"
)

// TransactionOutcome is the terminal result of one submitted transaction,
// correlated to exactly one transaction hash and one order.
type TransactionOutcome struct {
	Status    OutcomeStatus
	Qty       *big.Int
	ErrorKind string
	TxHash    common.Hash
}
