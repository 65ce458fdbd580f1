package handler

import (
	"math/big"
	"net/http"

	"github.com/GoMarketProtocol/marketgate/internal/binding"
	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/apperrors"
	"github.com/GoMarketProtocol/marketgate/internal/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CollateralHandler struct {
	orch     *service.Orchestrator
	bindings *binding.Cache
	sender   common.Address
}

func NewCollateralHandler(orch *service.Orchestrator, bindings *binding.Cache, sender common.Address) *CollateralHandler {
	return &CollateralHandler{orch: orch, bindings: bindings, sender: sender}
}

func (h *CollateralHandler) Deposit(c *gin.Context) {
	contract, amount, ok := h.bindAmount(c)
	if !ok {
		return
	}
	tx, err := h.orch.DepositCollateral(c.Request.Context(), contract, h.sender, amount)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, model.SubmitResponse{
		RequestID: uuid.NewString(),
		TxHash:    tx.Hash.Hex(),
		Block:     tx.Block,
	})
}

func (h *CollateralHandler) Withdraw(c *gin.Context) {
	contract, amount, ok := h.bindAmount(c)
	if !ok {
		return
	}
	tx, err := h.orch.WithdrawCollateral(c.Request.Context(), contract, h.sender, amount)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, model.SubmitResponse{
		RequestID: uuid.NewString(),
		TxHash:    tx.Hash.Hex(),
		Block:     tx.Block,
	})
}

// Needed prices the collateral a position would lock, without touching funds.
func (h *CollateralHandler) Needed(c *gin.Context) {
	contract := c.Param("contract")
	if !common.IsHexAddress(contract) {
		c.Error(apperrors.Reject(apperrors.KindInvalidRequest, "contract is not a valid address"))
		return
	}
	qty, err := parseBig("qty", c.Query("qty"))
	if err != nil {
		c.Error(err)
		return
	}
	price, err := parseBig("price", c.Query("price"))
	if err != nil {
		c.Error(err)
		return
	}

	needed, err := h.orch.NeededCollateral(c.Request.Context(), common.HexToAddress(contract), qty, price)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"needed": needed.String()})
}

func (h *CollateralHandler) Balance(c *gin.Context) {
	contract := c.Param("contract")
	if !common.IsHexAddress(contract) {
		c.Error(apperrors.Reject(apperrors.KindInvalidRequest, "contract is not a valid address"))
		return
	}

	b, err := h.bindings.BindingFor(c.Request.Context(), common.HexToAddress(contract))
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	bal, err := b.Pool.UserBalance(c.Request.Context(), h.sender)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"contract": b.MarketAddress.Hex(),
		"pool":     b.PoolAddress.Hex(),
		"balance":  bal.String(),
	})
}

// bindAmount parses the request and scales the human-unit amount into the
// collateral token's base units.
func (h *CollateralHandler) bindAmount(c *gin.Context) (common.Address, *big.Int, bool) {
	var req model.CollateralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.KindInvalidRequest, err.Error(), err))
		return common.Address{}, nil, false
	}
	if !common.IsHexAddress(req.Contract) {
		c.Error(apperrors.Reject(apperrors.KindInvalidRequest, "contract is not a valid address"))
		return common.Address{}, nil, false
	}
	contract := common.HexToAddress(req.Contract)

	human, err := decimal.NewFromString(req.Amount)
	if err != nil || human.Sign() <= 0 {
		c.Error(apperrors.Reject(apperrors.KindInvalidRequest, "amount must be a positive decimal"))
		return common.Address{}, nil, false
	}

	b, err := h.bindings.BindingFor(c.Request.Context(), contract)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return common.Address{}, nil, false
	}
	decimals, err := b.Token.Decimals(c.Request.Context())
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return common.Address{}, nil, false
	}

	scaled := human.Shift(int32(decimals))
	if !scaled.IsInteger() {
		c.Error(apperrors.Reject(apperrors.KindInvalidRequest,
			"amount has more precision than the token's %d decimals", decimals))
		return common.Address{}, nil, false
	}
	return contract, scaled.BigInt(), true
}
