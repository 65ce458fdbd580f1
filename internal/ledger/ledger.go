// Package ledger defines the contracts this coordinator requires from the
// on-chain layer. Implementations live in ethledger; tests substitute fakes.
package ledger

import (
	"context"
	"math/big"

	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// TxResult identifies a mined submission.
type TxResult struct {
	Hash  common.Hash
	Block uint64
}

// MarketContract is the main derivative contract for one instrument.
type MarketContract interface {
	Address() common.Address

	ContractName(ctx context.Context) (string, error)
	PriceFloor(ctx context.Context) (*big.Int, error)
	PriceCap(ctx context.Context) (*big.Int, error)
	QtyMultiplier(ctx context.Context) (*big.Int, error)
	Expiration(ctx context.Context) (*big.Int, error)
	IsSettled(ctx context.Context) (bool, error)
	CollateralPoolAddress(ctx context.Context) (common.Address, error)
	CollateralTokenAddress(ctx context.Context) (common.Address, error)
	IsUserEnabled(ctx context.Context, user common.Address) (bool, error)
	QtyFilledOrCancelled(ctx context.Context, orderHash common.Hash) (*big.Int, error)

	// OrderHash asks the on-chain library for the canonical hash of the
	// order's identity fields (RemainingQty excluded).
	OrderHash(ctx context.Context, order *model.Order) (common.Hash, error)
	// IsValidSignature verifies sig over hash against maker on-chain.
	IsValidSignature(ctx context.Context, maker common.Address, hash common.Hash, sig model.Signature) (bool, error)

	SubmitTrade(ctx context.Context, signed *model.SignedOrder, fillQty *big.Int) (*TxResult, error)
	SubmitCancel(ctx context.Context, order *model.Order, cancelQty *big.Int) (*TxResult, error)

	// FilterOrderEvents returns historical filled/cancelled events for the
	// maker over [fromBlock, toBlock]; a nil toBlock means latest.
	FilterOrderEvents(ctx context.Context, kind OrderEventKind, maker common.Address, fromBlock uint64, toBlock *uint64) ([]OrderEvent, error)
	// WatchOrderEvents streams new filled/cancelled events for the maker
	// into sink until the subscription is torn down.
	WatchOrderEvents(ctx context.Context, kind OrderEventKind, maker common.Address, fromBlock uint64, sink chan<- OrderEvent) (Subscription, error)
	// WatchErrors streams the contract's error events into sink.
	WatchErrors(ctx context.Context, fromBlock uint64, sink chan<- ErrorEvent) (Subscription, error)
}

// CollateralPool escrows per-position collateral for one market contract.
type CollateralPool interface {
	Address() common.Address

	UserBalance(ctx context.Context, user common.Address) (*big.Int, error)
	Deposit(ctx context.Context, amount *big.Int) (*TxResult, error)
	Withdraw(ctx context.Context, amount *big.Int) (*TxResult, error)
	SettleAndClose(ctx context.Context) (*TxResult, error)

	WatchBalanceUpdates(ctx context.Context, user common.Address, fromBlock uint64, sink chan<- BalanceEvent) (Subscription, error)
}

// CollateralToken is the ERC20 used for fees and pool collateral.
type CollateralToken interface {
	Address() common.Address

	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*TxResult, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*TxResult, error)
}

// Provider constructs remote bindings for the three contract roles. The
// binding cache is its only caller.
type Provider interface {
	BindMarket(ctx context.Context, addr common.Address) (MarketContract, error)
	BindPool(ctx context.Context, addr common.Address) (CollateralPool, error)
	BindToken(ctx context.Context, addr common.Address) (CollateralToken, error)
}

// Wallet signs order hashes for the local trading account.
type Wallet interface {
	Address() common.Address
	SignHash(hash common.Hash) (model.Signature, error)
}
