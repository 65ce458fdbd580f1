package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderEventKind selects between the contract's filled and cancelled streams.
type OrderEventKind int

const (
	EventFilled OrderEventKind = iota
	EventCancelled
)

func (k OrderEventKind) String() string {
	if k == EventCancelled {
		return "cancelled"
	}
	return "filled"
}

// OrderEvent is one filled or cancelled log entry. TxHash is the correlation
// key back to the submission that produced it.
type OrderEvent struct {
	TxHash common.Hash
	Block  uint64
	Maker  common.Address
	// Qty is the filled or cancelled quantity carried by the event.
	Qty *big.Int
}

// ErrorEvent is one entry from the contract's error stream.
type ErrorEvent struct {
	TxHash common.Hash
	Block  uint64
	Code   uint8
}

// BalanceEvent is one collateral-pool balance update.
type BalanceEvent struct {
	TxHash  common.Hash
	Block   uint64
	User    common.Address
	Balance *big.Int
}

// Subscription is a live event stream handle. Unsubscribe is idempotent and
// must release the underlying listener; transport failures drain via Err.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}
