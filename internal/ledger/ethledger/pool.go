package ethledger

import (
	"context"
	"math/big"

	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type collateralPool struct {
	provider *Provider
	addr     common.Address
}

var _ ledger.CollateralPool = (*collateralPool)(nil)

func (p *collateralPool) Address() common.Address { return p.addr }

func (p *collateralPool) UserBalance(ctx context.Context, user common.Address) (*big.Int, error) {
	out, err := p.provider.call(ctx, p.addr, poolABI, "unallocatedBalanceOf", user)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (p *collateralPool) Deposit(ctx context.Context, amount *big.Int) (*ledger.TxResult, error) {
	return p.provider.transact(ctx, p.addr, poolABI, "depositTokensForTrading", amount)
}

func (p *collateralPool) Withdraw(ctx context.Context, amount *big.Int) (*ledger.TxResult, error) {
	return p.provider.transact(ctx, p.addr, poolABI, "withdrawTokens", amount)
}

func (p *collateralPool) SettleAndClose(ctx context.Context) (*ledger.TxResult, error) {
	return p.provider.transact(ctx, p.addr, poolABI, "settleAndClose")
}

func (p *collateralPool) WatchBalanceUpdates(ctx context.Context, user common.Address, fromBlock uint64, sink chan<- ledger.BalanceEvent) (ledger.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{p.addr},
		Topics: [][]common.Hash{
			{balanceEventID},
			{common.BytesToHash(user.Bytes())},
		},
		FromBlock: new(big.Int).SetUint64(fromBlock),
	}
	return p.provider.watchLogs(ctx, query, func(l types.Log) {
		out, err := poolABI.Unpack("UpdatedUserBalance", l.Data)
		if err != nil || len(out) < 1 || len(l.Topics) < 2 {
			return
		}
		ev := ledger.BalanceEvent{
			TxHash:  l.TxHash,
			Block:   l.BlockNumber,
			User:    common.BytesToAddress(l.Topics[1].Bytes()),
			Balance: out[0].(*big.Int),
		}
		select {
		case sink <- ev:
		default:
		}
	})
}
