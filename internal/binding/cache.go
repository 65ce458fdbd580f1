// Package binding memoizes the (market, pool, token) contract triple per
// ledger address for the lifetime of the process.
package binding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// Binding is the resolved contract triple for one market address. Once
// constructed it is never rebuilt; a second cache key under the pool's
// address points at the same triple.
type Binding struct {
	Market ledger.MarketContract
	Pool   ledger.CollateralPool
	Token  ledger.CollateralToken

	MarketAddress common.Address
	PoolAddress   common.Address
	TokenAddress  common.Address
}

// Cache lazily resolves bindings. Concurrent first accesses for the same
// address share a single remote construction; the entry map is append-only.
type Cache struct {
	provider ledger.Provider

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]*Binding
}

func NewCache(provider ledger.Provider) *Cache {
	return &Cache{
		provider: provider,
		entries:  make(map[string]*Binding),
	}
}

// BindingFor returns the triple for a market contract address, constructing
// it on first reference. The address may also be a pool address previously
// registered by a construction.
func (c *Cache) BindingFor(ctx context.Context, addr common.Address) (*Binding, error) {
	key := normalize(addr)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent construction may have
		// registered this key as a pool alias.
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return entry, nil
		}
		return c.construct(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Binding), nil
}

// Lookup returns a cached binding without constructing one.
func (c *Cache) Lookup(addr common.Address) (*Binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[normalize(addr)]
	return entry, ok
}

func (c *Cache) construct(ctx context.Context, addr common.Address) (*Binding, error) {
	market, err := c.provider.BindMarket(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind market %s: %w", addr.Hex(), err)
	}

	poolAddr, err := market.CollateralPoolAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool address: %w", err)
	}
	tokenAddr, err := market.CollateralTokenAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token address: %w", err)
	}

	pool, err := c.provider.BindPool(ctx, poolAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind pool %s: %w", poolAddr.Hex(), err)
	}
	token, err := c.provider.BindToken(ctx, tokenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind token %s: %w", tokenAddr.Hex(), err)
	}

	entry := &Binding{
		Market:        market,
		Pool:          pool,
		Token:         token,
		MarketAddress: addr,
		PoolAddress:   poolAddr,
		TokenAddress:  tokenAddr,
	}

	c.mu.Lock()
	// Reverse index: the pool address resolves to the same triple.
	c.entries[normalize(addr)] = entry
	c.entries[normalize(poolAddr)] = entry
	c.mu.Unlock()

	return entry, nil
}

func normalize(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
