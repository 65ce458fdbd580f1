package binding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/ledger/ledgertest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	marketAddr = common.HexToAddress("0xAaAa000000000000000000000000000000000001")
	poolAddr   = common.HexToAddress("0xBbBb000000000000000000000000000000000002")
	tokenAddr  = common.HexToAddress("0xCcCc000000000000000000000000000000000003")
)

func newProvider() *ledgertest.FakeProvider {
	provider := ledgertest.NewFakeProvider()
	provider.Register(
		ledgertest.NewFakeMarket(marketAddr),
		ledgertest.NewFakePool(poolAddr),
		ledgertest.NewFakeToken(tokenAddr),
	)
	return provider
}

func TestBindingForResolvesTriple(t *testing.T) {
	cache := NewCache(newProvider())

	b, err := cache.BindingFor(context.Background(), marketAddr)
	require.NoError(t, err)
	assert.Equal(t, marketAddr, b.MarketAddress)
	assert.Equal(t, poolAddr, b.PoolAddress)
	assert.Equal(t, tokenAddr, b.TokenAddress)
	assert.NotNil(t, b.Market)
	assert.NotNil(t, b.Pool)
	assert.NotNil(t, b.Token)
}

func TestBindingForCachesByMainAndPoolAddress(t *testing.T) {
	provider := newProvider()
	cache := NewCache(provider)

	first, err := cache.BindingFor(context.Background(), marketAddr)
	require.NoError(t, err)

	// Same triple under the pool's address, no second construction.
	viaPool, err := cache.BindingFor(context.Background(), poolAddr)
	require.NoError(t, err)
	assert.Same(t, first, viaPool)
	assert.EqualValues(t, 1, provider.BindMarketCalls)

	again, err := cache.BindingFor(context.Background(), marketAddr)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.EqualValues(t, 1, provider.BindMarketCalls)
}

func TestBindingForDeduplicatesConcurrentMisses(t *testing.T) {
	provider := newProvider()
	provider.ConstructDelay = 20 * time.Millisecond
	cache := NewCache(provider)

	const n = 16
	results := make([]*Binding, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := cache.BindingFor(context.Background(), marketAddr)
			require.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, provider.BindMarketCalls)
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestBindingForUnknownAddress(t *testing.T) {
	cache := NewCache(newProvider())

	_, err := cache.BindingFor(context.Background(), common.HexToAddress("0xdead"))
	assert.Error(t, err)

	_, ok := cache.Lookup(common.HexToAddress("0xdead"))
	assert.False(t, ok)
}

func TestLookupDoesNotConstruct(t *testing.T) {
	provider := newProvider()
	cache := NewCache(provider)

	_, ok := cache.Lookup(marketAddr)
	assert.False(t, ok)
	assert.EqualValues(t, 0, provider.BindMarketCalls)
}
