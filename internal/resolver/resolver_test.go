package resolver

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/GoMarketProtocol/marketgate/internal/ledger/ledgertest"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	maker  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	txHash = common.HexToHash("0xabc1")
)

type result struct {
	qty *big.Int
	err error
}

func await(t *testing.T, ch <-chan result, timeout time.Duration) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(timeout):
		t.Fatal("resolver did not settle in time")
		return result{}
	}
}

func TestHistoricalHitResolvesWithoutSubscribing(t *testing.T) {
	market := ledgertest.NewFakeMarket(common.HexToAddress("0xmkt"))
	market.History = map[ledger.OrderEventKind][]ledger.OrderEvent{
		ledger.EventFilled: {
			{TxHash: common.HexToHash("0xother"), Block: 5, Maker: maker, Qty: big.NewInt(1)},
			{TxHash: txHash, Block: 7, Maker: maker, Qty: big.NewInt(42)},
		},
	}

	r := New(market, maker, txHash, 0)
	qty, err := r.FilledQuantity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), qty)

	assert.EqualValues(t, 0, atomic.LoadInt32(&market.WatchCalls))
	assert.EqualValues(t, 0, atomic.LoadInt32(&market.OpenSubs))
}

func TestHistoricalQueryRespectsBlockRange(t *testing.T) {
	market := ledgertest.NewFakeMarket(common.HexToAddress("0xmkt"))
	market.History = map[ledger.OrderEventKind][]ledger.OrderEvent{
		ledger.EventFilled: {
			// Below the resolver's from-block, must be ignored.
			{TxHash: txHash, Block: 3, Maker: maker, Qty: big.NewInt(9)},
		},
	}

	r := New(market, maker, txHash, 10)
	ch := make(chan result, 1)
	go func() {
		qty, err := r.FilledQuantity(context.Background())
		ch <- result{qty, err}
	}()

	require.True(t, market.WaitForWatchers(2, time.Second))
	market.EmitOrderEvent(ledger.EventFilled, ledger.OrderEvent{TxHash: txHash, Block: 12, Maker: maker, Qty: big.NewInt(11)})

	got := await(t, ch, time.Second)
	require.NoError(t, got.err)
	assert.Equal(t, big.NewInt(11), got.qty)
}

func TestLiveFillResolvesAndTearsDown(t *testing.T) {
	market := ledgertest.NewFakeMarket(common.HexToAddress("0xmkt"))
	r := New(market, maker, txHash, 0)

	ch := make(chan result, 1)
	go func() {
		qty, err := r.FilledQuantity(context.Background())
		ch <- result{qty, err}
	}()

	require.True(t, market.WaitForWatchers(2, time.Second))

	// Unrelated events must not settle the race.
	market.EmitOrderEvent(ledger.EventFilled, ledger.OrderEvent{TxHash: common.HexToHash("0xnope"), Maker: maker, Qty: big.NewInt(1)})
	market.EmitError(ledger.ErrorEvent{TxHash: common.HexToHash("0xnope"), Code: 0})

	market.EmitOrderEvent(ledger.EventFilled, ledger.OrderEvent{TxHash: txHash, Maker: maker, Qty: big.NewInt(7)})

	got := await(t, ch, time.Second)
	require.NoError(t, got.err)
	assert.Equal(t, big.NewInt(7), got.qty)

	// Both live subscriptions released before the accessor returned.
	assert.EqualValues(t, 0, atomic.LoadInt32(&market.OpenSubs))
}

func TestErrorEventBeatsLaterFill(t *testing.T) {
	market := ledgertest.NewFakeMarket(common.HexToAddress("0xmkt"))
	r := New(market, maker, txHash, 0)

	ch := make(chan result, 1)
	go func() {
		qty, err := r.FilledQuantity(context.Background())
		ch <- result{qty, err}
	}()

	require.True(t, market.WaitForWatchers(2, time.Second))
	market.EmitError(ledger.ErrorEvent{TxHash: txHash, Code: 0})

	got := await(t, ch, time.Second)
	require.Error(t, got.err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, got.err, &appErr)
	assert.Equal(t, apperrors.KindOrderExpired, appErr.Kind)

	// A fill arriving after settlement changes nothing.
	market.EmitOrderEvent(ledger.EventFilled, ledger.OrderEvent{TxHash: txHash, Maker: maker, Qty: big.NewInt(3)})
	assert.EqualValues(t, 0, atomic.LoadInt32(&market.OpenSubs))
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		code uint8
		kind apperrors.Kind
	}{
		{0, apperrors.KindOrderExpired},
		{1, apperrors.KindOrderDead},
		{9, apperrors.KindUnknownOrderError},
	}
	for _, tc := range cases {
		market := ledgertest.NewFakeMarket(common.HexToAddress("0xmkt"))
		r := New(market, maker, txHash, 0)

		ch := make(chan result, 1)
		go func() {
			qty, err := r.CancelledQuantity(context.Background())
			ch <- result{qty, err}
		}()

		require.True(t, market.WaitForWatchers(2, time.Second))
		market.EmitError(ledger.ErrorEvent{TxHash: txHash, Code: tc.code})

		got := await(t, ch, time.Second)
		var appErr *apperrors.AppError
		require.ErrorAs(t, got.err, &appErr, "code %d", tc.code)
		assert.Equal(t, tc.kind, appErr.Kind, "code %d", tc.code)
	}
}

func TestCancelledQuantityLiveEvent(t *testing.T) {
	market := ledgertest.NewFakeMarket(common.HexToAddress("0xmkt"))
	r := New(market, maker, txHash, 0)

	ch := make(chan result, 1)
	go func() {
		qty, err := r.CancelledQuantity(context.Background())
		ch <- result{qty, err}
	}()

	require.True(t, market.WaitForWatchers(2, time.Second))
	market.EmitOrderEvent(ledger.EventCancelled, ledger.OrderEvent{TxHash: txHash, Maker: maker, Qty: big.NewInt(25)})

	got := await(t, ch, time.Second)
	require.NoError(t, got.err)
	assert.Equal(t, big.NewInt(25), got.qty)
	assert.EqualValues(t, 0, atomic.LoadInt32(&market.OpenSubs))
}

func TestAccessorsAreSingleUse(t *testing.T) {
	market := ledgertest.NewFakeMarket(common.HexToAddress("0xmkt"))
	market.History = map[ledger.OrderEventKind][]ledger.OrderEvent{
		ledger.EventFilled: {{TxHash: txHash, Maker: maker, Qty: big.NewInt(1)}},
	}
	r := New(market, maker, txHash, 0)

	_, err := r.FilledQuantity(context.Background())
	require.NoError(t, err)

	_, err = r.FilledQuantity(context.Background())
	assert.ErrorIs(t, err, ErrAccessorReused)
}

func TestContextCancellationReleasesSubscriptions(t *testing.T) {
	market := ledgertest.NewFakeMarket(common.HexToAddress("0xmkt"))
	r := New(market, maker, txHash, 0)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan result, 1)
	go func() {
		qty, err := r.FilledQuantity(ctx)
		ch <- result{qty, err}
	}()

	require.True(t, market.WaitForWatchers(2, time.Second))
	cancel()

	got := await(t, ch, time.Second)
	assert.ErrorIs(t, got.err, context.Canceled)
	assert.EqualValues(t, 0, atomic.LoadInt32(&market.OpenSubs))
}

func TestTransportErrorReopensSubscription(t *testing.T) {
	market := ledgertest.NewFakeMarket(common.HexToAddress("0xmkt"))
	r := New(market, maker, txHash, 0)

	ch := make(chan result, 1)
	go func() {
		qty, err := r.FilledQuantity(context.Background())
		ch <- result{qty, err}
	}()

	require.True(t, market.WaitForWatchers(2, time.Second))
	before := atomic.LoadInt32(&market.WatchCalls)
	market.FailOrderWatchers(errors.New("websocket closed"))

	// The resolver reopens the dropped watch and keeps racing.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&market.WatchCalls) > before
	}, 2*time.Second, 10*time.Millisecond)

	market.EmitOrderEvent(ledger.EventFilled, ledger.OrderEvent{TxHash: txHash, Maker: maker, Qty: big.NewInt(5)})
	got := await(t, ch, time.Second)
	require.NoError(t, got.err)
	assert.Equal(t, big.NewInt(5), got.qty)
}
