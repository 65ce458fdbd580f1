// Package resolver determines the true outcome of a submitted transaction by
// correlating the ledger's event streams.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/apperrors"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/logger"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/metrics"
	"github.com/ethereum/go-ethereum/common"
)

// ErrAccessorReused is returned when FilledQuantity or CancelledQuantity is
// invoked a second time on the same resolver.
var ErrAccessorReused = errors.New("resolver: accessor already used")

const resubscribeDelay = 200 * time.Millisecond

// Resolver is bound to exactly one transaction hash and one order. Each
// accessor races a replay-then-subscribe branch for its event kind against
// the contract's error stream; the first branch to settle wins and every
// live subscription is torn down before the accessor returns.
type Resolver struct {
	market    ledger.MarketContract
	maker     common.Address
	txHash    common.Hash
	fromBlock uint64
	buffer    int

	filledUsed    atomic.Bool
	cancelledUsed atomic.Bool
}

// New binds a resolver to the transaction submitted for the order's owner.
// fromBlock bounds the historical query and both live subscriptions; the
// same range is reused by both accessors.
func New(market ledger.MarketContract, maker common.Address, txHash common.Hash, fromBlock uint64) *Resolver {
	return &Resolver{
		market:    market,
		maker:     maker,
		txHash:    txHash,
		fromBlock: fromBlock,
		buffer:    64,
	}
}

// TxHash returns the transaction this resolver is bound to.
func (r *Resolver) TxHash() common.Hash { return r.txHash }

// Block returns the block the bound transaction was mined in.
func (r *Resolver) Block() uint64 { return r.fromBlock }

// FilledQuantity resolves to the quantity filled by the transaction, or
// fails with the ErrorKind carried by the contract's error event. Usable
// once.
func (r *Resolver) FilledQuantity(ctx context.Context) (*big.Int, error) {
	if !r.filledUsed.CompareAndSwap(false, true) {
		return nil, ErrAccessorReused
	}
	return r.resolve(ctx, ledger.EventFilled)
}

// CancelledQuantity resolves to the quantity cancelled by the transaction.
// Usable once; races independently of FilledQuantity.
func (r *Resolver) CancelledQuantity(ctx context.Context) (*big.Int, error) {
	if !r.cancelledUsed.CompareAndSwap(false, true) {
		return nil, ErrAccessorReused
	}
	return r.resolve(ctx, ledger.EventCancelled)
}

func (r *Resolver) resolve(ctx context.Context, kind ledger.OrderEventKind) (*big.Int, error) {
	log := logger.With("tx", r.txHash.Hex(), "kind", kind.String())

	// Replay first: if the event is already on chain there is nothing to
	// watch and no subscription is ever opened.
	past, err := r.market.FilterOrderEvents(ctx, kind, r.maker, r.fromBlock, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("historical event query failed, falling through to live watch", "error", err)
	}
	for _, ev := range past {
		if ev.TxHash == r.txHash {
			metrics.ResolverOutcomes.WithLabelValues(kind.String()).Inc()
			return ev.Qty, nil
		}
	}

	events := make(chan ledger.OrderEvent, r.buffer)
	errEvents := make(chan ledger.ErrorEvent, r.buffer)

	orderSub, err := r.market.WatchOrderEvents(ctx, kind, r.maker, r.fromBlock, events)
	if err != nil {
		log.Warn("event watch failed to open", "error", err)
	}
	errorSub, err := r.market.WatchErrors(ctx, r.fromBlock, errEvents)
	if err != nil {
		log.Warn("error watch failed to open", "error", err)
	}
	// Both subscriptions are released on every exit path; a teardown
	// failure drains through Err() and never masks the result.
	defer func() {
		if orderSub != nil {
			orderSub.Unsubscribe()
		}
		if errorSub != nil {
			errorSub.Unsubscribe()
		}
	}()

	for {
		select {
		case ev := <-events:
			if ev.TxHash != r.txHash {
				continue
			}
			metrics.ResolverOutcomes.WithLabelValues(kind.String()).Inc()
			return ev.Qty, nil

		case ev := <-errEvents:
			if ev.TxHash != r.txHash {
				continue
			}
			errKind := apperrors.KindFromErrorCode(ev.Code)
			metrics.ResolverOutcomes.WithLabelValues("failed").Inc()
			return nil, apperrors.New(errKind,
				fmt.Sprintf("transaction %s rejected by ledger, error code %d", r.txHash.Hex(), ev.Code), nil)

		case werr := <-subErr(orderSub):
			// Transport trouble does not terminate the resolver.
			log.Warn("event subscription dropped, reopening", "error", werr)
			orderSub.Unsubscribe()
			orderSub = r.rewatch(ctx, func() (ledger.Subscription, error) {
				return r.market.WatchOrderEvents(ctx, kind, r.maker, r.fromBlock, events)
			})

		case werr := <-subErr(errorSub):
			log.Warn("error subscription dropped, reopening", "error", werr)
			errorSub.Unsubscribe()
			errorSub = r.rewatch(ctx, func() (ledger.Subscription, error) {
				return r.market.WatchErrors(ctx, r.fromBlock, errEvents)
			})

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// rewatch retries the open once after a short delay; a nil return parks the
// branch until the other one settles or the context ends.
func (r *Resolver) rewatch(ctx context.Context, open func() (ledger.Subscription, error)) ledger.Subscription {
	select {
	case <-time.After(resubscribeDelay):
	case <-ctx.Done():
		return nil
	}
	sub, err := open()
	if err != nil {
		logger.Warn("resubscribe failed", "tx", r.txHash.Hex(), "error", err)
		return nil
	}
	return sub
}

// subErr adapts a possibly-nil subscription for select; a nil subscription
// yields a nil channel that never fires.
func subErr(s ledger.Subscription) <-chan error {
	if s == nil {
		return nil
	}
	return s.Err()
}
