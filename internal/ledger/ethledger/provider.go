// Package ethledger backs the ledger interfaces with a deployed contract
// suite reachable over JSON-RPC. View calls go through the HTTP endpoint,
// event subscriptions through the websocket one.
package ethledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/config"
	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

type Provider struct {
	rpcURL      string
	wsURL       string
	chainID     *big.Int
	callTimeout time.Duration
	key         *ecdsa.PrivateKey

	mu       sync.Mutex
	client   *ethclient.Client
	wsClient *ethclient.Client
}

var _ ledger.Provider = (*Provider)(nil)

// NewProvider prepares a lazily-dialed provider. key signs outgoing
// transactions; a nil key makes every mutating call fail.
func NewProvider(cfg *config.Config, key *ecdsa.PrivateKey) (*Provider, error) {
	rpcURL := strings.TrimSpace(cfg.Chain.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("chain rpc url is required")
	}
	wsURL := strings.TrimSpace(cfg.Chain.WSURL)
	if wsURL == "" {
		wsURL = rpcURL
	}

	timeout := time.Duration(cfg.Chain.CallTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Provider{
		rpcURL:      rpcURL,
		wsURL:       wsURL,
		chainID:     big.NewInt(cfg.Chain.ChainID),
		callTimeout: timeout,
		key:         key,
	}, nil
}

func (p *Provider) BindMarket(ctx context.Context, addr common.Address) (ledger.MarketContract, error) {
	m := &marketContract{provider: p, addr: addr}
	// A name probe proves there is a market behind the address before the
	// binding is cached.
	if _, err := m.ContractName(ctx); err != nil {
		return nil, fmt.Errorf("no market contract at %s: %w", addr.Hex(), err)
	}
	return m, nil
}

func (p *Provider) BindPool(_ context.Context, addr common.Address) (ledger.CollateralPool, error) {
	return &collateralPool{provider: p, addr: addr}, nil
}

func (p *Provider) BindToken(_ context.Context, addr common.Address) (ledger.CollateralToken, error) {
	return &collateralToken{provider: p, addr: addr}, nil
}

func (p *Provider) getClient(ctx context.Context) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := ethclient.DialContext(ctx, p.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect rpc: %w", err)
	}
	p.client = client
	return p.client, nil
}

func (p *Provider) getWSClient(ctx context.Context) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wsClient != nil {
		return p.wsClient, nil
	}
	client, err := ethclient.DialContext(ctx, p.wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect ws rpc: %w", err)
	}
	p.wsClient = client
	return p.wsClient, nil
}

// Close releases both RPC connections.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	if p.wsClient != nil {
		p.wsClient.Close()
		p.wsClient = nil
	}
}

// call packs a view-method invocation, executes it with the provider's call
// timeout and unpacks the outputs.
func (p *Provider) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	client, err := p.getClient(callCtx)
	if err != nil {
		return nil, err
	}
	output, err := client.CallContract(callCtx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	out, err := parsed.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s output: %w", method, err)
	}
	return out, nil
}

func toEthOrder(order *model.Order) ethOrder {
	return ethOrder{
		ContractAddress: order.ContractAddress,
		Maker:           order.Maker,
		Taker:           order.Taker,
		FeeRecipient:    order.FeeRecipient,
		MakerFee:        orZero(order.MakerFee),
		TakerFee:        orZero(order.TakerFee),
		Price:           orZero(order.Price),
		Qty:             orZero(order.Qty),
		Expiration:      orZero(order.Expiration),
		Salt:            orZero(order.Salt),
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
