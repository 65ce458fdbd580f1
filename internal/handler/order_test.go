package handler

import (
	"math/big"
	"testing"

	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTradeRequest() model.TradeRequest {
	return model.TradeRequest{
		Contract:   "0xAaAa000000000000000000000000000000000001",
		Maker:      "0x1000000000000000000000000000000000000001",
		Qty:        "100",
		Price:      "100000",
		Salt:       "42",
		Expiration: 1900000000,
		FillQty:    "2",
		Signature:  "0x00",
	}
}

func TestOrderFromTradeRequestDefaults(t *testing.T) {
	req := validTradeRequest()
	order, err := orderFromTradeRequest(&req)
	require.NoError(t, err)

	// Omitted taker means anyone may fill.
	assert.Equal(t, model.TakerAny, order.Taker)
	// Omitted fees default to zero, omitted remaining to the full quantity.
	assert.Equal(t, big.NewInt(0), order.MakerFee)
	assert.Equal(t, big.NewInt(0), order.TakerFee)
	assert.Equal(t, big.NewInt(100), order.RemainingQty)
	assert.Equal(t, int64(1900000000), order.Expiration.Int64())
}

func TestOrderFromTradeRequestRemainingQty(t *testing.T) {
	req := validTradeRequest()
	req.RemainingQty = "37"
	order, err := orderFromTradeRequest(&req)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(37), order.RemainingQty)
}

func TestOrderFromTradeRequestRejectsBadAddress(t *testing.T) {
	req := validTradeRequest()
	req.Maker = "not-an-address"
	_, err := orderFromTradeRequest(&req)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindInvalidRequest, appErr.Kind)
}

func TestOrderFromTradeRequestRejectsBadNumbers(t *testing.T) {
	for _, mutate := range []func(*model.TradeRequest){
		func(r *model.TradeRequest) { r.Qty = "12.5" },
		func(r *model.TradeRequest) { r.Price = "" },
		func(r *model.TradeRequest) { r.Salt = "0x2a" },
	} {
		req := validTradeRequest()
		mutate(&req)
		_, err := orderFromTradeRequest(&req)

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperrors.KindInvalidRequest, appErr.Kind)
	}
}

func TestHubNotifyNeverBlocks(t *testing.T) {
	hub := NewHub()
	// No clients connected; a burst of events must not block or panic.
	for i := 0; i < 100; i++ {
		hub.Notify(model.LifecycleEvent{OrderHash: "0xabc", Status: "submitted"})
	}
	assert.Equal(t, 0, hub.ClientCount())
}
