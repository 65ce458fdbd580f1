package ethledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// transact signs, sends and waits for a state-changing call, returning the
// mined transaction's hash and block.
func (p *Provider) transact(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) (*ledger.TxResult, error) {
	if p.key == nil {
		return nil, fmt.Errorf("no signing key configured")
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(p.key.PublicKey)

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("gas estimation failed for %s: %w", method, err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, client, signed)
	if err != nil {
		return nil, fmt.Errorf("transaction %s not mined: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}

	return &ledger.TxResult{Hash: signed.Hash(), Block: receipt.BlockNumber.Uint64()}, nil
}

// logSubscription adapts a raw log subscription plus its conversion
// goroutine to the ledger.Subscription shape.
type logSubscription struct {
	sub  ethereum.Subscription
	quit chan struct{}
	once sync.Once
}

func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.sub.Unsubscribe()
		close(s.quit)
	})
}

func (s *logSubscription) Err() <-chan error { return s.sub.Err() }

// watchLogs opens a websocket log subscription and pumps each raw log
// through convert; reorged-out logs are dropped.
func (p *Provider) watchLogs(ctx context.Context, query ethereum.FilterQuery, convert func(types.Log)) (ledger.Subscription, error) {
	client, err := p.getWSClient(ctx)
	if err != nil {
		return nil, err
	}

	logs := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("log subscription failed: %w", err)
	}

	wrapped := &logSubscription{sub: sub, quit: make(chan struct{})}
	go func() {
		for {
			select {
			case <-wrapped.quit:
				return
			case l := <-logs:
				if l.Removed {
					continue
				}
				convert(l)
			}
		}
	}()
	return wrapped, nil
}
