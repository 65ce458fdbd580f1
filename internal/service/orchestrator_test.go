package service

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/binding"
	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/GoMarketProtocol/marketgate/internal/ledger/ledgertest"
	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/apperrors"
	"github.com/GoMarketProtocol/marketgate/internal/scheduler"
	"github.com/GoMarketProtocol/marketgate/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contractAddr = common.HexToAddress("0xAaAa000000000000000000000000000000000001")
	poolAddr     = common.HexToAddress("0xBbBb000000000000000000000000000000000002")
	tokenAddr    = common.HexToAddress("0xCcCc000000000000000000000000000000000003")
	takerAddr    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	feeAddr      = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (n *fakeNotifier) Notify(ev model.LifecycleEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *fakeNotifier) statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Status
	}
	return out
}

type env struct {
	market   *ledgertest.FakeMarket
	pool     *ledgertest.FakePool
	token    *ledgertest.FakeToken
	wallet   *signer.Wallet
	sched    *scheduler.ExpirationScheduler
	notifier *fakeNotifier
	orch     *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet, err := signer.NewWallet(common.Bytes2Hex(crypto.FromECDSA(key)))
	require.NoError(t, err)

	market := ledgertest.NewFakeMarket(contractAddr)
	pool := ledgertest.NewFakePool(poolAddr)
	token := ledgertest.NewFakeToken(tokenAddr)

	provider := ledgertest.NewFakeProvider()
	provider.Register(market, pool, token)

	sched := scheduler.New()
	t.Cleanup(sched.Unsubscribe)
	notifier := &fakeNotifier{}

	orch := NewOrchestrator(binding.NewCache(provider), wallet, nil, nil, sched, notifier)
	return &env{
		market:   market,
		pool:     pool,
		token:    token,
		wallet:   wallet,
		sched:    sched,
		notifier: notifier,
		orch:     orch,
	}
}

// signedOrder builds a fully funded buy order for 100 at 100000 and funds
// both parties' pools for a 2-unit fill (needed collateral 200000 each).
func (e *env) signedOrder(t *testing.T) *model.SignedOrder {
	t.Helper()
	order := &model.Order{
		ContractAddress: contractAddr,
		Maker:           e.wallet.Address(),
		Taker:           model.TakerAny,
		FeeRecipient:    feeAddr,
		MakerFee:        big.NewInt(0),
		TakerFee:        big.NewInt(0),
		Qty:             big.NewInt(100),
		Price:           big.NewInt(100000),
		Salt:            big.NewInt(42),
		Expiration:      big.NewInt(time.Now().Add(time.Hour).Unix()),
		RemainingQty:    big.NewInt(100),
	}

	e.pool.Balances[order.Maker] = big.NewInt(200000)
	e.pool.Balances[takerAddr] = big.NewInt(200000)

	signed, err := e.orch.SignOrder(context.Background(), order)
	require.NoError(t, err)
	return signed
}

func requireKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, kind, appErr.Kind)
}

func TestTradeOrderHappyPath(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)

	res, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.EqualValues(t, 1, atomic.LoadInt32(&e.market.TradeCalls))

	// Submission registered with the expiration scheduler and persisted.
	assert.Equal(t, 1, e.sched.Pending())
	hash := signer.HashOrder(&signed.Order)
	state, err := e.orch.Store().GetState(context.Background(), hash.Hex())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "submitted", state.Status)
	assert.Equal(t, []string{"submitted"}, e.notifier.statuses())
}

func TestTradeOrderRejectsSettledContract(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	e.market.Settled = true

	_, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	requireKind(t, err, apperrors.KindContractAlreadySettled)
	assert.EqualValues(t, 0, atomic.LoadInt32(&e.market.TradeCalls))
}

func TestTradeOrderRejectsWrongTaker(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	signed.Order.Taker = common.HexToAddress("0x9999999999999999999999999999999999999999")

	_, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	requireKind(t, err, apperrors.KindInvalidTaker)
}

func TestTradeOrderRejectsExpired(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	signed.Order.Expiration = big.NewInt(time.Now().Add(-time.Minute).Unix())

	_, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	requireKind(t, err, apperrors.KindOrderExpired)
}

func TestTradeOrderRejectsFullyFilled(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	signed.Order.RemainingQty = big.NewInt(0)

	_, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	requireKind(t, err, apperrors.KindOrderFilledOrCancelled)
	// Fails before the signature check; no hash or verify calls needed.
	assert.EqualValues(t, 0, atomic.LoadInt32(&e.market.TradeCalls))
}

func TestTradeOrderRejectsSideMismatch(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)

	_, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(-2), takerAddr)
	requireKind(t, err, apperrors.KindBuySellMismatch)

	_, err = e.orch.TradeOrder(context.Background(), signed, big.NewInt(0), takerAddr)
	requireKind(t, err, apperrors.KindBuySellMismatch)
}

func TestTradeOrderRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	signed.Signature.R[0] ^= 0xff

	_, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	requireKind(t, err, apperrors.KindInvalidSignature)
}

func TestTradeOrderRejectsDisabledUser(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	e.market.EnabledUsers = map[common.Address]bool{signed.Order.Maker: true}

	_, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	requireKind(t, err, apperrors.KindUserNotEnabledForContract)
}

func TestTradeOrderRejectsUnderfundedFees(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	signed.Order.MakerFee = big.NewInt(10)
	// Re-sign after changing identity fields.
	resigned, err := e.orch.SignOrder(context.Background(), &signed.Order)
	require.NoError(t, err)

	_, err = e.orch.TradeOrder(context.Background(), resigned, big.NewInt(2), takerAddr)
	requireKind(t, err, apperrors.KindInsufficientBalanceForTransfer)

	e.token.Balances[signed.Order.Maker] = big.NewInt(10)
	_, err = e.orch.TradeOrder(context.Background(), resigned, big.NewInt(2), takerAddr)
	requireKind(t, err, apperrors.KindInsufficientAllowanceForTransfer)

	e.token.SetAllowance(signed.Order.Maker, feeAddr, big.NewInt(10))
	_, err = e.orch.TradeOrder(context.Background(), resigned, big.NewInt(2), takerAddr)
	require.NoError(t, err)
}

func TestTradeOrderRejectsUnderfundedCollateral(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	// Maker one unit short of the 200000 needed for a 2-unit fill.
	e.pool.Balances[signed.Order.Maker] = big.NewInt(199999)

	_, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	requireKind(t, err, apperrors.KindInsufficientCollateralBalance)

	e.pool.Balances[signed.Order.Maker] = big.NewInt(200000)
	_, err = e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	require.NoError(t, err)
}

func TestCancelOrderSubmitsWithoutPipeline(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	// Even a stale order cancels; the ledger enforces its own rules.
	signed.Order.RemainingQty = big.NewInt(0)

	res, err := e.orch.CancelOrder(context.Background(), &signed.Order, big.NewInt(100), signed.Order.Maker)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.EqualValues(t, 1, atomic.LoadInt32(&e.market.CancelCalls))
}

func TestAwaitOutcomeRecordsFill(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	hash := signer.HashOrder(&signed.Order)

	txHash := common.HexToHash("0xfeed")
	e.market.TradeResult = &ledger.TxResult{Hash: txHash, Block: 10}
	e.market.History = map[ledger.OrderEventKind][]ledger.OrderEvent{
		ledger.EventFilled: {{TxHash: txHash, Block: 10, Maker: signed.Order.Maker, Qty: big.NewInt(2)}},
	}

	res, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	require.NoError(t, err)

	outcome := e.orch.AwaitOutcome(context.Background(), res, hash, "trade")
	assert.Equal(t, model.OutcomeFilled, outcome.Status)
	assert.Equal(t, big.NewInt(2), outcome.Qty)

	state, err := e.orch.Store().GetState(context.Background(), hash.Hex())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "filled", state.Status)
	assert.Equal(t, "2", state.FilledQty)
	assert.Equal(t, []string{"submitted", "filled"}, e.notifier.statuses())
}

func TestDepositCollateralPreChecks(t *testing.T) {
	e := newEnv(t)
	sender := e.wallet.Address()

	_, err := e.orch.DepositCollateral(context.Background(), contractAddr, sender, big.NewInt(500))
	requireKind(t, err, apperrors.KindInsufficientBalanceForTransfer)

	e.token.Balances[sender] = big.NewInt(500)
	_, err = e.orch.DepositCollateral(context.Background(), contractAddr, sender, big.NewInt(500))
	requireKind(t, err, apperrors.KindInsufficientAllowanceForTransfer)

	e.token.SetAllowance(sender, poolAddr, big.NewInt(500))
	tx, err := e.orch.DepositCollateral(context.Background(), contractAddr, sender, big.NewInt(500))
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.EqualValues(t, 1, atomic.LoadInt32(&e.pool.DepositCalls))
}

func TestWithdrawCollateralPreChecks(t *testing.T) {
	e := newEnv(t)
	sender := e.wallet.Address()

	_, err := e.orch.WithdrawCollateral(context.Background(), contractAddr, sender, big.NewInt(100))
	requireKind(t, err, apperrors.KindUserHasNoAssociatedPositions)

	e.pool.Balances[sender] = big.NewInt(50)
	_, err = e.orch.WithdrawCollateral(context.Background(), contractAddr, sender, big.NewInt(100))
	requireKind(t, err, apperrors.KindInsufficientCollateralBalance)

	e.pool.Balances[sender] = big.NewInt(100)
	tx, err := e.orch.WithdrawCollateral(context.Background(), contractAddr, sender, big.NewInt(100))
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.EqualValues(t, 1, atomic.LoadInt32(&e.pool.WithdrawCalls))
}

func TestNeededCollateralEndToEndFigures(t *testing.T) {
	e := newEnv(t)

	// Taker side of a 2-unit fill at 100000 inside [0, 200000].
	short, err := e.orch.NeededCollateral(context.Background(), contractAddr, big.NewInt(-2), big.NewInt(100000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200000), short)

	long, err := e.orch.NeededCollateral(context.Background(), contractAddr, big.NewInt(2), big.NewInt(100000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200000), long)
}

func TestOnOrderExpiredMarksState(t *testing.T) {
	e := newEnv(t)
	signed := e.signedOrder(t)
	hash := signer.HashOrder(&signed.Order)

	_, err := e.orch.TradeOrder(context.Background(), signed, big.NewInt(2), takerAddr)
	require.NoError(t, err)

	e.orch.OnOrderExpired(hash.Hex())

	state, err := e.orch.Store().GetState(context.Background(), hash.Hex())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "expired", state.Status)
	assert.Contains(t, e.notifier.statuses(), "expired")
}
