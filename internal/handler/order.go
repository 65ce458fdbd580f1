package handler

import (
	"context"
	"math/big"
	"net/http"

	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/apperrors"
	"github.com/GoMarketProtocol/marketgate/internal/service"
	"github.com/GoMarketProtocol/marketgate/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type OrderHandler struct {
	orch *service.Orchestrator
	// sender is the gateway wallet; it takes the other side of every fill.
	sender common.Address
}

func NewOrderHandler(orch *service.Orchestrator, sender common.Address) *OrderHandler {
	return &OrderHandler{orch: orch, sender: sender}
}

func (h *OrderHandler) Trade(c *gin.Context) {
	var req model.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.KindInvalidRequest, err.Error(), err))
		return
	}

	order, err := orderFromTradeRequest(&req)
	if err != nil {
		c.Error(err)
		return
	}
	sig, err := signer.SignatureFromHex(req.Signature)
	if err != nil {
		c.Error(apperrors.New(apperrors.KindInvalidRequest, err.Error(), err))
		return
	}
	fillQty, err := parseBig("fill_qty", req.FillQty)
	if err != nil {
		c.Error(err)
		return
	}

	signed := &model.SignedOrder{Order: *order, Signature: sig}
	res, err := h.orch.TradeOrder(c.Request.Context(), signed, fillQty, h.sender)
	if err != nil {
		c.Error(err)
		return
	}

	hash, err := h.orch.OrderHash(c.Request.Context(), order)
	if err != nil {
		c.Error(err)
		return
	}
	go h.orch.AwaitOutcome(context.Background(), res, hash, "trade")

	c.JSON(http.StatusAccepted, model.SubmitResponse{
		RequestID: uuid.NewString(),
		OrderHash: hash.Hex(),
		TxHash:    res.TxHash().Hex(),
		Block:     res.Block(),
	})
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	var req model.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.KindInvalidRequest, err.Error(), err))
		return
	}

	order, err := orderFromCancelRequest(&req)
	if err != nil {
		c.Error(err)
		return
	}
	cancelQty, err := parseBig("cancel_qty", req.CancelQty)
	if err != nil {
		c.Error(err)
		return
	}

	res, err := h.orch.CancelOrder(c.Request.Context(), order, cancelQty, h.sender)
	if err != nil {
		c.Error(err)
		return
	}

	hash, err := h.orch.OrderHash(c.Request.Context(), order)
	if err != nil {
		c.Error(err)
		return
	}
	go h.orch.AwaitOutcome(context.Background(), res, hash, "cancel")

	c.JSON(http.StatusAccepted, model.SubmitResponse{
		RequestID: uuid.NewString(),
		OrderHash: hash.Hex(),
		TxHash:    res.TxHash().Hex(),
		Block:     res.Block(),
	})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderHash := c.Param("hash")
	if orderHash == "" {
		c.Error(apperrors.Reject(apperrors.KindInvalidRequest, "order hash is required"))
		return
	}

	state, err := h.orch.Store().GetState(c.Request.Context(), orderHash)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	if state == nil {
		c.Error(apperrors.Reject(apperrors.KindNotFound, "no state for order %s", orderHash))
		return
	}
	c.JSON(http.StatusOK, state)
}

func orderFromTradeRequest(req *model.TradeRequest) (*model.Order, error) {
	order, err := orderFromFields(req.Contract, req.Maker, req.Taker, req.FeeRecipient,
		req.MakerFee, req.TakerFee, req.Qty, req.Price, req.Salt, req.Expiration)
	if err != nil {
		return nil, err
	}
	if req.RemainingQty != "" {
		remaining, err := parseBig("remaining_qty", req.RemainingQty)
		if err != nil {
			return nil, err
		}
		order.RemainingQty = remaining
	} else {
		order.RemainingQty = new(big.Int).Set(order.Qty)
	}
	return order, nil
}

func orderFromCancelRequest(req *model.CancelRequest) (*model.Order, error) {
	return orderFromFields(req.Contract, req.Maker, req.Taker, req.FeeRecipient,
		req.MakerFee, req.TakerFee, req.Qty, req.Price, req.Salt, req.Expiration)
}

func orderFromFields(contract, maker, taker, feeRecipient, makerFee, takerFee, qty, price, salt string, expiration int64) (*model.Order, error) {
	for field, addr := range map[string]string{"contract": contract, "maker": maker} {
		if !common.IsHexAddress(addr) {
			return nil, apperrors.Reject(apperrors.KindInvalidRequest, "%s is not a valid address", field)
		}
	}

	order := &model.Order{
		ContractAddress: common.HexToAddress(contract),
		Maker:           common.HexToAddress(maker),
		Taker:           model.TakerAny,
		Expiration:      big.NewInt(expiration),
	}
	if taker != "" {
		if !common.IsHexAddress(taker) {
			return nil, apperrors.Reject(apperrors.KindInvalidRequest, "taker is not a valid address")
		}
		order.Taker = common.HexToAddress(taker)
	}
	if feeRecipient != "" {
		if !common.IsHexAddress(feeRecipient) {
			return nil, apperrors.Reject(apperrors.KindInvalidRequest, "fee_recipient is not a valid address")
		}
		order.FeeRecipient = common.HexToAddress(feeRecipient)
	}

	var err error
	if order.MakerFee, err = parseBigOrZero("maker_fee", makerFee); err != nil {
		return nil, err
	}
	if order.TakerFee, err = parseBigOrZero("taker_fee", takerFee); err != nil {
		return nil, err
	}
	if order.Qty, err = parseBig("qty", qty); err != nil {
		return nil, err
	}
	if order.Price, err = parseBig("price", price); err != nil {
		return nil, err
	}
	if order.Salt, err = parseBig("salt", salt); err != nil {
		return nil, err
	}
	return order, nil
}

func parseBig(field, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, apperrors.Reject(apperrors.KindInvalidRequest, "%s is not a valid integer", field)
	}
	return v, nil
}

func parseBigOrZero(field, raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	return parseBig(field, raw)
}
