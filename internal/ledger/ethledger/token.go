package ethledger

import (
	"context"
	"math/big"

	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

type collateralToken struct {
	provider *Provider
	addr     common.Address
}

var _ ledger.CollateralToken = (*collateralToken)(nil)

func (t *collateralToken) Address() common.Address { return t.addr }

func (t *collateralToken) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.provider.call(ctx, t.addr, tokenABI, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

func (t *collateralToken) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := t.provider.call(ctx, t.addr, tokenABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (t *collateralToken) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := t.provider.call(ctx, t.addr, tokenABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (t *collateralToken) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*ledger.TxResult, error) {
	return t.provider.transact(ctx, t.addr, tokenABI, "approve", spender, amount)
}

func (t *collateralToken) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*ledger.TxResult, error) {
	return t.provider.transact(ctx, t.addr, tokenABI, "transfer", to, amount)
}
