package model

import "time"

// TradeRequest is the gateway payload for filling a signed order.
type TradeRequest struct {
	Contract     string `json:"contract" binding:"required"`
	Maker        string `json:"maker" binding:"required"`
	Taker        string `json:"taker"`
	FeeRecipient string `json:"fee_recipient"`
	MakerFee     string `json:"maker_fee"`
	TakerFee     string `json:"taker_fee"`
	Qty          string `json:"qty" binding:"required"`
	Price        string `json:"price" binding:"required"`
	Salt         string `json:"salt" binding:"required"`
	Expiration   int64  `json:"expiration" binding:"required"`
	RemainingQty string `json:"remaining_qty"`

	FillQty   string `json:"fill_qty" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// CancelRequest is the gateway payload for cancelling an open order.
type CancelRequest struct {
	Contract     string `json:"contract" binding:"required"`
	Maker        string `json:"maker" binding:"required"`
	Taker        string `json:"taker"`
	FeeRecipient string `json:"fee_recipient"`
	MakerFee     string `json:"maker_fee"`
	TakerFee     string `json:"taker_fee"`
	Qty          string `json:"qty" binding:"required"`
	Price        string `json:"price" binding:"required"`
	Salt         string `json:"salt" binding:"required"`
	Expiration   int64  `json:"expiration" binding:"required"`

	CancelQty string `json:"cancel_qty" binding:"required"`
}

// CollateralRequest moves funds between the caller and a contract's pool.
// Amount is a human-unit decimal string, scaled by the collateral token's
// decimals before submission.
type CollateralRequest struct {
	Contract string `json:"contract" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// SubmitResponse acknowledges a submission before its outcome is known.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	OrderHash string `json:"order_hash,omitempty"`
	TxHash    string `json:"tx_hash"`
	Block     uint64 `json:"block"`
}

// OrderState is the persisted lifecycle record for one order hash.
type OrderState struct {
	OrderHash    string    `json:"order_hash"`
	Contract     string    `json:"contract"`
	Maker        string    `json:"maker"`
	Status       string    `json:"status"`
	FilledQty    string    `json:"filled_qty,omitempty"`
	CancelledQty string    `json:"cancelled_qty,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LifecycleEvent is pushed to websocket subscribers as orders move through
// submitted/filled/cancelled/failed/expired states.
type LifecycleEvent struct {
	OrderHash string    `json:"order_hash"`
	Status    string    `json:"status"`
	Qty       string    `json:"qty,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	At        time.Time `json:"at"`
}
