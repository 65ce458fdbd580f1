package ethledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type marketContract struct {
	provider *Provider
	addr     common.Address
}

var _ ledger.MarketContract = (*marketContract)(nil)

func (m *marketContract) Address() common.Address { return m.addr }

func (m *marketContract) ContractName(ctx context.Context) (string, error) {
	out, err := m.provider.call(ctx, m.addr, marketABI, "contractName")
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

func (m *marketContract) PriceFloor(ctx context.Context) (*big.Int, error) {
	return m.bigView(ctx, "priceFloor")
}

func (m *marketContract) PriceCap(ctx context.Context) (*big.Int, error) {
	return m.bigView(ctx, "priceCap")
}

func (m *marketContract) QtyMultiplier(ctx context.Context) (*big.Int, error) {
	return m.bigView(ctx, "qtyMultiplier")
}

func (m *marketContract) Expiration(ctx context.Context) (*big.Int, error) {
	return m.bigView(ctx, "expiration")
}

func (m *marketContract) IsSettled(ctx context.Context) (bool, error) {
	out, err := m.provider.call(ctx, m.addr, marketABI, "isSettled")
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (m *marketContract) CollateralPoolAddress(ctx context.Context) (common.Address, error) {
	return m.addrView(ctx, "collateralPoolAddress")
}

func (m *marketContract) CollateralTokenAddress(ctx context.Context) (common.Address, error) {
	return m.addrView(ctx, "collateralTokenAddress")
}

func (m *marketContract) IsUserEnabled(ctx context.Context, user common.Address) (bool, error) {
	out, err := m.provider.call(ctx, m.addr, marketABI, "isUserEnabled", user)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (m *marketContract) QtyFilledOrCancelled(ctx context.Context, orderHash common.Hash) (*big.Int, error) {
	out, err := m.provider.call(ctx, m.addr, marketABI, "qtyFilledOrCancelled", [32]byte(orderHash))
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (m *marketContract) OrderHash(ctx context.Context, order *model.Order) (common.Hash, error) {
	out, err := m.provider.call(ctx, m.addr, marketABI, "orderHash", toEthOrder(order))
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(out[0].([32]byte)), nil
}

func (m *marketContract) IsValidSignature(ctx context.Context, maker common.Address, hash common.Hash, sig model.Signature) (bool, error) {
	out, err := m.provider.call(ctx, m.addr, marketABI, "isValidSignature",
		maker, [32]byte(hash), sig.V, sig.R, sig.S)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (m *marketContract) SubmitTrade(ctx context.Context, signed *model.SignedOrder, fillQty *big.Int) (*ledger.TxResult, error) {
	return m.provider.transact(ctx, m.addr, marketABI, "tradeOrder",
		toEthOrder(&signed.Order), fillQty, signed.Signature.V, signed.Signature.R, signed.Signature.S)
}

func (m *marketContract) SubmitCancel(ctx context.Context, order *model.Order, cancelQty *big.Int) (*ledger.TxResult, error) {
	return m.provider.transact(ctx, m.addr, marketABI, "cancelOrder", toEthOrder(order), cancelQty)
}

func (m *marketContract) FilterOrderEvents(ctx context.Context, kind ledger.OrderEventKind, maker common.Address, fromBlock uint64, toBlock *uint64) ([]ledger.OrderEvent, error) {
	query := m.orderEventQuery(kind, maker, fromBlock)
	if toBlock != nil {
		query.ToBlock = new(big.Int).SetUint64(*toBlock)
	}

	client, err := m.provider.getClient(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("order event filter failed: %w", err)
	}

	events := make([]ledger.OrderEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := m.parseOrderEvent(kind, l)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (m *marketContract) WatchOrderEvents(ctx context.Context, kind ledger.OrderEventKind, maker common.Address, fromBlock uint64, sink chan<- ledger.OrderEvent) (ledger.Subscription, error) {
	query := m.orderEventQuery(kind, maker, fromBlock)
	return m.provider.watchLogs(ctx, query, func(l types.Log) {
		ev, err := m.parseOrderEvent(kind, l)
		if err != nil {
			return
		}
		select {
		case sink <- ev:
		default:
		}
	})
}

func (m *marketContract) WatchErrors(ctx context.Context, fromBlock uint64, sink chan<- ledger.ErrorEvent) (ledger.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{m.addr},
		Topics:    [][]common.Hash{{errorEventID}},
		FromBlock: new(big.Int).SetUint64(fromBlock),
	}
	return m.provider.watchLogs(ctx, query, func(l types.Log) {
		out, err := marketABI.Unpack("Error", l.Data)
		if err != nil || len(out) < 1 {
			return
		}
		ev := ledger.ErrorEvent{
			TxHash: l.TxHash,
			Block:  l.BlockNumber,
			Code:   out[0].(uint8),
		}
		select {
		case sink <- ev:
		default:
		}
	})
}

func (m *marketContract) orderEventQuery(kind ledger.OrderEventKind, maker common.Address, fromBlock uint64) ethereum.FilterQuery {
	eventID := orderFilledID
	if kind == ledger.EventCancelled {
		eventID = orderCancelledID
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{m.addr},
		Topics: [][]common.Hash{
			{eventID},
			{common.BytesToHash(maker.Bytes())},
		},
		FromBlock: new(big.Int).SetUint64(fromBlock),
	}
}

func (m *marketContract) parseOrderEvent(kind ledger.OrderEventKind, l types.Log) (ledger.OrderEvent, error) {
	name := "OrderFilled"
	if kind == ledger.EventCancelled {
		name = "OrderCancelled"
	}
	out, err := marketABI.Unpack(name, l.Data)
	if err != nil || len(out) < 1 {
		return ledger.OrderEvent{}, fmt.Errorf("malformed %s log in tx %s", name, l.TxHash.Hex())
	}
	if len(l.Topics) < 2 {
		return ledger.OrderEvent{}, fmt.Errorf("missing maker topic in tx %s", l.TxHash.Hex())
	}
	return ledger.OrderEvent{
		TxHash: l.TxHash,
		Block:  l.BlockNumber,
		Maker:  common.BytesToAddress(l.Topics[1].Bytes()),
		Qty:    out[0].(*big.Int),
	}, nil
}

func (m *marketContract) bigView(ctx context.Context, method string) (*big.Int, error) {
	out, err := m.provider.call(ctx, m.addr, marketABI, method)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (m *marketContract) addrView(ctx context.Context, method string) (common.Address, error) {
	out, err := m.provider.call(ctx, m.addr, marketABI, method)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}
