// Package ledgertest provides in-memory ledger fakes for package tests.
package ledgertest

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/GoMarketProtocol/marketgate/internal/signer"
	"github.com/ethereum/go-ethereum/common"
)

// FakeSubscription counts down on the market's live-subscription gauge when
// released.
type FakeSubscription struct {
	once    sync.Once
	errs    chan error
	onClose func()
}

func (s *FakeSubscription) Unsubscribe() {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *FakeSubscription) Err() <-chan error { return s.errs }

// Fail injects a transport error into the subscription's error channel.
func (s *FakeSubscription) Fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

type orderWatcher struct {
	kind ledger.OrderEventKind
	sink chan<- ledger.OrderEvent
	sub  *FakeSubscription
}

type errorWatcher struct {
	sink chan<- ledger.ErrorEvent
	sub  *FakeSubscription
}

// FakeMarket is a scriptable MarketContract.
type FakeMarket struct {
	Addr      common.Address
	Name      string
	Floor     *big.Int
	Cap       *big.Int
	Mult      *big.Int
	Expiry    *big.Int
	Settled   bool
	PoolAddr  common.Address
	TokenAddr common.Address

	// EnabledUsers nil means everyone is enabled.
	EnabledUsers map[common.Address]bool
	Filled       map[common.Hash]*big.Int

	// SigValid overrides on-chain signature verification; nil falls back to
	// the client-side mirror.
	SigValid func(maker common.Address, hash common.Hash, sig model.Signature) bool

	TradeResult  *ledger.TxResult
	TradeErr     error
	CancelResult *ledger.TxResult
	CancelErr    error

	// Historical events returned by FilterOrderEvents.
	History map[ledger.OrderEventKind][]ledger.OrderEvent

	mu            sync.Mutex
	orderWatchers []*orderWatcher
	errWatchers   []*errorWatcher

	FilterCalls int32
	WatchCalls  int32
	OpenSubs    int32

	TradeCalls  int32
	CancelCalls int32
}

var _ ledger.MarketContract = (*FakeMarket)(nil)

func NewFakeMarket(addr common.Address) *FakeMarket {
	return &FakeMarket{
		Addr:   addr,
		Name:   "FAKE_CONTRACT",
		Floor:  big.NewInt(0),
		Cap:    big.NewInt(200000),
		Mult:   big.NewInt(1),
		Expiry: big.NewInt(time.Now().Add(24 * time.Hour).Unix()),
		Filled: make(map[common.Hash]*big.Int),
	}
}

func (m *FakeMarket) Address() common.Address { return m.Addr }

func (m *FakeMarket) ContractName(context.Context) (string, error)   { return m.Name, nil }
func (m *FakeMarket) PriceFloor(context.Context) (*big.Int, error)   { return m.Floor, nil }
func (m *FakeMarket) PriceCap(context.Context) (*big.Int, error)     { return m.Cap, nil }
func (m *FakeMarket) QtyMultiplier(context.Context) (*big.Int, error) { return m.Mult, nil }
func (m *FakeMarket) Expiration(context.Context) (*big.Int, error)   { return m.Expiry, nil }
func (m *FakeMarket) IsSettled(context.Context) (bool, error)        { return m.Settled, nil }

func (m *FakeMarket) CollateralPoolAddress(context.Context) (common.Address, error) {
	return m.PoolAddr, nil
}

func (m *FakeMarket) CollateralTokenAddress(context.Context) (common.Address, error) {
	return m.TokenAddr, nil
}

func (m *FakeMarket) IsUserEnabled(_ context.Context, user common.Address) (bool, error) {
	if m.EnabledUsers == nil {
		return true, nil
	}
	return m.EnabledUsers[user], nil
}

func (m *FakeMarket) QtyFilledOrCancelled(_ context.Context, orderHash common.Hash) (*big.Int, error) {
	if qty, ok := m.Filled[orderHash]; ok {
		return qty, nil
	}
	return big.NewInt(0), nil
}

func (m *FakeMarket) OrderHash(_ context.Context, order *model.Order) (common.Hash, error) {
	return signer.HashOrder(order), nil
}

func (m *FakeMarket) IsValidSignature(_ context.Context, maker common.Address, hash common.Hash, sig model.Signature) (bool, error) {
	if m.SigValid != nil {
		return m.SigValid(maker, hash, sig), nil
	}
	return signer.VerifySignature(maker, hash, sig), nil
}

func (m *FakeMarket) SubmitTrade(context.Context, *model.SignedOrder, *big.Int) (*ledger.TxResult, error) {
	atomic.AddInt32(&m.TradeCalls, 1)
	if m.TradeErr != nil {
		return nil, m.TradeErr
	}
	if m.TradeResult != nil {
		return m.TradeResult, nil
	}
	return &ledger.TxResult{Hash: common.HexToHash("0xfeed"), Block: 1}, nil
}

func (m *FakeMarket) SubmitCancel(context.Context, *model.Order, *big.Int) (*ledger.TxResult, error) {
	atomic.AddInt32(&m.CancelCalls, 1)
	if m.CancelErr != nil {
		return nil, m.CancelErr
	}
	if m.CancelResult != nil {
		return m.CancelResult, nil
	}
	return &ledger.TxResult{Hash: common.HexToHash("0xfeed"), Block: 1}, nil
}

func (m *FakeMarket) FilterOrderEvents(_ context.Context, kind ledger.OrderEventKind, maker common.Address, fromBlock uint64, _ *uint64) ([]ledger.OrderEvent, error) {
	atomic.AddInt32(&m.FilterCalls, 1)
	var out []ledger.OrderEvent
	for _, ev := range m.History[kind] {
		if ev.Maker == maker && ev.Block >= fromBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *FakeMarket) WatchOrderEvents(_ context.Context, kind ledger.OrderEventKind, _ common.Address, _ uint64, sink chan<- ledger.OrderEvent) (ledger.Subscription, error) {
	atomic.AddInt32(&m.WatchCalls, 1)
	atomic.AddInt32(&m.OpenSubs, 1)
	sub := &FakeSubscription{errs: make(chan error, 1), onClose: func() { atomic.AddInt32(&m.OpenSubs, -1) }}
	w := &orderWatcher{kind: kind, sink: sink, sub: sub}
	m.mu.Lock()
	m.orderWatchers = append(m.orderWatchers, w)
	m.mu.Unlock()
	return sub, nil
}

func (m *FakeMarket) WatchErrors(_ context.Context, _ uint64, sink chan<- ledger.ErrorEvent) (ledger.Subscription, error) {
	atomic.AddInt32(&m.WatchCalls, 1)
	atomic.AddInt32(&m.OpenSubs, 1)
	sub := &FakeSubscription{errs: make(chan error, 1), onClose: func() { atomic.AddInt32(&m.OpenSubs, -1) }}
	m.mu.Lock()
	m.errWatchers = append(m.errWatchers, &errorWatcher{sink: sink, sub: sub})
	m.mu.Unlock()
	return sub, nil
}

// EmitOrderEvent pushes an event to every live watcher of the given kind.
func (m *FakeMarket) EmitOrderEvent(kind ledger.OrderEventKind, ev ledger.OrderEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.orderWatchers {
		if w.kind == kind {
			select {
			case w.sink <- ev:
			default:
			}
		}
	}
}

// EmitError pushes an error event to every live error watcher.
func (m *FakeMarket) EmitError(ev ledger.ErrorEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.errWatchers {
		select {
		case w.sink <- ev:
		default:
		}
	}
}

// WaitForWatchers blocks until at least n live order/error watchers exist.
func (m *FakeMarket) WaitForWatchers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		total := len(m.orderWatchers) + len(m.errWatchers)
		m.mu.Unlock()
		if total >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// FailOrderWatchers injects a transport error into every live order-event
// subscription.
func (m *FakeMarket) FailOrderWatchers(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.orderWatchers {
		w.sub.Fail(err)
	}
}

// FakePool is a scriptable CollateralPool.
type FakePool struct {
	Addr     common.Address
	Balances map[common.Address]*big.Int

	DepositResult  *ledger.TxResult
	WithdrawResult *ledger.TxResult

	DepositCalls  int32
	WithdrawCalls int32
	SettleCalls   int32
}

var _ ledger.CollateralPool = (*FakePool)(nil)

func NewFakePool(addr common.Address) *FakePool {
	return &FakePool{Addr: addr, Balances: make(map[common.Address]*big.Int)}
}

func (p *FakePool) Address() common.Address { return p.Addr }

func (p *FakePool) UserBalance(_ context.Context, user common.Address) (*big.Int, error) {
	if bal, ok := p.Balances[user]; ok {
		return bal, nil
	}
	return big.NewInt(0), nil
}

func (p *FakePool) Deposit(context.Context, *big.Int) (*ledger.TxResult, error) {
	atomic.AddInt32(&p.DepositCalls, 1)
	if p.DepositResult != nil {
		return p.DepositResult, nil
	}
	return &ledger.TxResult{Hash: common.HexToHash("0xd0"), Block: 1}, nil
}

func (p *FakePool) Withdraw(context.Context, *big.Int) (*ledger.TxResult, error) {
	atomic.AddInt32(&p.WithdrawCalls, 1)
	if p.WithdrawResult != nil {
		return p.WithdrawResult, nil
	}
	return &ledger.TxResult{Hash: common.HexToHash("0xd1"), Block: 1}, nil
}

func (p *FakePool) SettleAndClose(context.Context) (*ledger.TxResult, error) {
	atomic.AddInt32(&p.SettleCalls, 1)
	return &ledger.TxResult{Hash: common.HexToHash("0xd2"), Block: 1}, nil
}

func (p *FakePool) WatchBalanceUpdates(_ context.Context, _ common.Address, _ uint64, _ chan<- ledger.BalanceEvent) (ledger.Subscription, error) {
	return &FakeSubscription{errs: make(chan error, 1)}, nil
}

// FakeToken is a scriptable CollateralToken.
type FakeToken struct {
	Addr       common.Address
	Dec        uint8
	Balances   map[common.Address]*big.Int
	Allowances map[common.Address]map[common.Address]*big.Int
}

var _ ledger.CollateralToken = (*FakeToken)(nil)

func NewFakeToken(addr common.Address) *FakeToken {
	return &FakeToken{
		Addr:       addr,
		Dec:        18,
		Balances:   make(map[common.Address]*big.Int),
		Allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *FakeToken) Address() common.Address             { return t.Addr }
func (t *FakeToken) Decimals(context.Context) (uint8, error) { return t.Dec, nil }

func (t *FakeToken) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	if bal, ok := t.Balances[owner]; ok {
		return bal, nil
	}
	return big.NewInt(0), nil
}

func (t *FakeToken) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	if m, ok := t.Allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a, nil
		}
	}
	return big.NewInt(0), nil
}

// SetAllowance scripts owner's approval of spender.
func (t *FakeToken) SetAllowance(owner, spender common.Address, amount *big.Int) {
	if t.Allowances[owner] == nil {
		t.Allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.Allowances[owner][spender] = amount
}

func (t *FakeToken) Approve(context.Context, common.Address, *big.Int) (*ledger.TxResult, error) {
	return &ledger.TxResult{Hash: common.HexToHash("0xa0"), Block: 1}, nil
}

func (t *FakeToken) Transfer(context.Context, common.Address, *big.Int) (*ledger.TxResult, error) {
	return &ledger.TxResult{Hash: common.HexToHash("0xa1"), Block: 1}, nil
}

// FakeProvider hands out pre-registered fakes and counts constructions.
type FakeProvider struct {
	mu      sync.Mutex
	markets map[common.Address]*FakeMarket
	pools   map[common.Address]*FakePool
	tokens  map[common.Address]*FakeToken

	BindMarketCalls int32
	// ConstructDelay slows BindMarket down to widen race windows in tests.
	ConstructDelay time.Duration
}

var _ ledger.Provider = (*FakeProvider)(nil)

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		markets: make(map[common.Address]*FakeMarket),
		pools:   make(map[common.Address]*FakePool),
		tokens:  make(map[common.Address]*FakeToken),
	}
}

// Register wires a complete market/pool/token triple into the provider.
func (p *FakeProvider) Register(market *FakeMarket, pool *FakePool, token *FakeToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	market.PoolAddr = pool.Addr
	market.TokenAddr = token.Addr
	p.markets[market.Addr] = market
	p.pools[pool.Addr] = pool
	p.tokens[token.Addr] = token
}

func (p *FakeProvider) BindMarket(_ context.Context, addr common.Address) (ledger.MarketContract, error) {
	atomic.AddInt32(&p.BindMarketCalls, 1)
	if p.ConstructDelay > 0 {
		time.Sleep(p.ConstructDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.markets[addr]; ok {
		return m, nil
	}
	return nil, ErrUnknownContract
}

func (p *FakeProvider) BindPool(_ context.Context, addr common.Address) (ledger.CollateralPool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pool, ok := p.pools[addr]; ok {
		return pool, nil
	}
	return nil, ErrUnknownContract
}

func (p *FakeProvider) BindToken(_ context.Context, addr common.Address) (ledger.CollateralToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tokens[addr]; ok {
		return t, nil
	}
	return nil, ErrUnknownContract
}
