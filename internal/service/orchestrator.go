package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/binding"
	"github.com/GoMarketProtocol/marketgate/internal/collateral"
	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/apperrors"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/logger"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/metrics"
	"github.com/GoMarketProtocol/marketgate/internal/resolver"
	"github.com/GoMarketProtocol/marketgate/internal/scheduler"
	"github.com/GoMarketProtocol/marketgate/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Orchestrator runs the pre-submission validation pipeline, submits trades
// and cancels, and hands back a resolver for each submitted transaction.
type Orchestrator struct {
	bindings *binding.Cache
	wallet   ledger.Wallet
	store    OrderStore
	audit    SubmissionAudit
	sched    *scheduler.ExpirationScheduler
	notifier Notifier

	now func() time.Time
}

// NewOrchestrator wires the orchestrator. store, audit, sched and notifier
// may be nil; wallet may be nil when the gateway only relays pre-signed
// orders.
func NewOrchestrator(bindings *binding.Cache, wallet ledger.Wallet, store OrderStore, audit SubmissionAudit, sched *scheduler.ExpirationScheduler, notifier Notifier) *Orchestrator {
	if store == nil {
		store = NewMemoryOrderStore()
	}
	return &Orchestrator{
		bindings: bindings,
		wallet:   wallet,
		store:    store,
		audit:    audit,
		sched:    sched,
		notifier: notifier,
		now:      time.Now,
	}
}

// Store exposes the lifecycle store for the HTTP surface.
func (o *Orchestrator) Store() OrderStore {
	return o.store
}

// SignOrder hashes the order via the ledger's own library, cross-checks the
// client-side mirror, and signs with the local wallet.
func (o *Orchestrator) SignOrder(ctx context.Context, order *model.Order) (*model.SignedOrder, error) {
	if o.wallet == nil {
		return nil, apperrors.New(apperrors.KindInternal, "no wallet configured", nil)
	}
	b, err := o.bindings.BindingFor(ctx, order.ContractAddress)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}

	hash, err := b.Market.OrderHash(ctx, order)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if local := signer.HashOrder(order); local != hash {
		// The local hash must replicate the chain's; a mismatch means the
		// signing payload cannot be trusted.
		return nil, apperrors.New(apperrors.KindInternal,
			fmt.Sprintf("order hash mismatch: ledger %s, local %s", hash.Hex(), local.Hex()), nil)
	}

	sig, err := o.wallet.SignHash(hash)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	return &model.SignedOrder{Order: *order, Signature: sig}, nil
}

// OrderHash returns the canonical hash for an order.
func (o *Orchestrator) OrderHash(ctx context.Context, order *model.Order) (common.Hash, error) {
	b, err := o.bindings.BindingFor(ctx, order.ContractAddress)
	if err != nil {
		return common.Hash{}, apperrors.Wrap(err)
	}
	return b.Market.OrderHash(ctx, order)
}

// TradeOrder validates the signed order against the fill and submits it.
// The pipeline is ordered and fail-fast: the first failing check's kind is
// returned, later checks never run, and nothing is submitted. On success the
// returned resolver is bound to the mined transaction.
func (o *Orchestrator) TradeOrder(ctx context.Context, signed *model.SignedOrder, fillQty *big.Int, sender common.Address) (*resolver.Resolver, error) {
	order := &signed.Order
	b, err := o.bindings.BindingFor(ctx, order.ContractAddress)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}

	// 1. Contract still trading.
	settled, err := b.Market.IsSettled(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if settled {
		return nil, o.reject(apperrors.KindContractAlreadySettled,
			"contract %s is settled", order.ContractAddress.Hex())
	}

	// 2. Sender allowed to take.
	if order.Taker != model.TakerAny && order.Taker != sender {
		return nil, o.reject(apperrors.KindInvalidTaker,
			"order reserved for taker %s", order.Taker.Hex())
	}

	// 3. Order not expired.
	if !o.now().Before(order.ExpirationTime()) {
		return nil, o.reject(apperrors.KindOrderExpired,
			"order expired at %s", order.ExpirationTime().UTC().Format(time.RFC3339))
	}

	// 4. Quantity left to fill. RemainingQty is the caller's most recent
	// read; no remote call is made here.
	if order.RemainingQty == nil || order.RemainingQty.Sign() == 0 {
		return nil, o.reject(apperrors.KindOrderFilledOrCancelled,
			"order has no remaining quantity")
	}

	// 5. Fill on the same side as the order.
	if fillQty == nil || fillQty.Sign() == 0 || fillQty.Sign() != order.Qty.Sign() {
		return nil, o.reject(apperrors.KindBuySellMismatch,
			"fill quantity side does not match order side")
	}

	// 6. Signature verifies against the maker.
	hash, err := b.Market.OrderHash(ctx, order)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	sigOK, err := b.Market.IsValidSignature(ctx, order.Maker, hash, signed.Signature)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if !sigOK {
		return nil, o.reject(apperrors.KindInvalidSignature,
			"signature does not recover maker %s", order.Maker.Hex())
	}

	// 7. Both parties enabled for this contract.
	for _, user := range []common.Address{order.Maker, sender} {
		enabled, err := b.Market.IsUserEnabled(ctx, user)
		if err != nil {
			return nil, apperrors.Wrap(err)
		}
		if !enabled {
			return nil, o.reject(apperrors.KindUserNotEnabledForContract,
				"user %s not enabled for contract", user.Hex())
		}
	}

	// 8. Fee funding: balance and allowance to the fee recipient.
	if err := o.checkFee(ctx, b, order.Maker, order.FeeRecipient, order.MakerFee); err != nil {
		return nil, err
	}
	if err := o.checkFee(ctx, b, sender, order.FeeRecipient, order.TakerFee); err != nil {
		return nil, err
	}

	// 9. Collateral funding, opposite signs for the two parties.
	if err := o.checkCollateral(ctx, b, order, fillQty, sender); err != nil {
		return nil, err
	}

	// 10. Submit.
	tx, err := b.Market.SubmitTrade(ctx, signed, fillQty)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	metrics.SubmissionsTotal.WithLabelValues("trade").Inc()
	o.recordSubmission(ctx, "trade", order, hash, fillQty, sender, tx)
	o.trackExpiration(hash, order)

	return resolver.New(b.Market, order.Maker, tx.Hash, tx.Block), nil
}

// CancelOrder submits a cancel directly; the ledger enforces its own checks.
func (o *Orchestrator) CancelOrder(ctx context.Context, order *model.Order, cancelQty *big.Int, sender common.Address) (*resolver.Resolver, error) {
	b, err := o.bindings.BindingFor(ctx, order.ContractAddress)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}

	hash, err := b.Market.OrderHash(ctx, order)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}

	tx, err := b.Market.SubmitCancel(ctx, order, cancelQty)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	metrics.SubmissionsTotal.WithLabelValues("cancel").Inc()
	o.recordSubmission(ctx, "cancel", order, hash, cancelQty, sender, tx)

	return resolver.New(b.Market, order.Maker, tx.Hash, tx.Block), nil
}

// DepositCollateral moves collateral token into the contract's pool after
// verifying the sender can actually fund the transfer.
func (o *Orchestrator) DepositCollateral(ctx context.Context, contract, sender common.Address, amount *big.Int) (*ledger.TxResult, error) {
	b, err := o.bindings.BindingFor(ctx, contract)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}

	bal, err := b.Token.BalanceOf(ctx, sender)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if bal.Cmp(amount) < 0 {
		return nil, o.reject(apperrors.KindInsufficientBalanceForTransfer,
			"token balance %s below deposit %s", bal, amount)
	}
	allowance, err := b.Token.Allowance(ctx, sender, b.PoolAddress)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if allowance.Cmp(amount) < 0 {
		return nil, o.reject(apperrors.KindInsufficientAllowanceForTransfer,
			"pool allowance %s below deposit %s", allowance, amount)
	}

	tx, err := b.Pool.Deposit(ctx, amount)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	metrics.SubmissionsTotal.WithLabelValues("deposit").Inc()
	return tx, nil
}

// WithdrawCollateral pulls unlocked collateral back out of the pool.
func (o *Orchestrator) WithdrawCollateral(ctx context.Context, contract, sender common.Address, amount *big.Int) (*ledger.TxResult, error) {
	b, err := o.bindings.BindingFor(ctx, contract)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}

	bal, err := b.Pool.UserBalance(ctx, sender)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if bal.Sign() == 0 {
		return nil, o.reject(apperrors.KindUserHasNoAssociatedPositions,
			"no pool balance for %s", sender.Hex())
	}
	if bal.Cmp(amount) < 0 {
		return nil, o.reject(apperrors.KindInsufficientCollateralBalance,
			"pool balance %s below withdrawal %s", bal, amount)
	}

	tx, err := b.Pool.Withdraw(ctx, amount)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	metrics.SubmissionsTotal.WithLabelValues("withdraw").Inc()
	return tx, nil
}

// NeededCollateral prices the collateral requirement for a prospective
// position against the contract's bounds.
func (o *Orchestrator) NeededCollateral(ctx context.Context, contract common.Address, qty, price *big.Int) (*big.Int, error) {
	b, err := o.bindings.BindingFor(ctx, contract)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	floor, cp, mult, err := o.contractBounds(ctx, b)
	if err != nil {
		return nil, err
	}
	return collateral.Needed(floor, cp, mult, qty, price), nil
}

// AwaitOutcome blocks on the resolver branch matching the operation and
// persists the terminal outcome. Runs on its own goroutine per submission.
func (o *Orchestrator) AwaitOutcome(ctx context.Context, res *resolver.Resolver, orderHash common.Hash, op string) model.TransactionOutcome {
	var (
		qty *big.Int
		err error
	)
	if op == "cancel" {
		qty, err = res.CancelledQuantity(ctx)
	} else {
		qty, err = res.FilledQuantity(ctx)
	}

	outcome := model.TransactionOutcome{}
	switch {
	case err == nil && op == "cancel":
		outcome.Status = model.OutcomeCancelled
		outcome.Qty = qty
	case err == nil:
		outcome.Status = model.OutcomeFilled
		outcome.Qty = qty
	default:
		if ctx.Err() != nil {
			logger.Warn("outcome resolution abandoned", "order_hash", orderHash.Hex(), "error", err)
			return outcome
		}
		outcome.Status = model.OutcomeFailed
		outcome.ErrorKind = string(apperrors.Wrap(err).Kind)
	}

	o.saveOutcome(ctx, orderHash, outcome)
	return outcome
}

// OnOrderExpired is the expiration scheduler's observer.
func (o *Orchestrator) OnOrderExpired(orderHash string) {
	metrics.ExpirationsFired.Inc()
	logger.Info("order expired", "order_hash", orderHash)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := o.store.GetState(ctx, orderHash)
	if err != nil {
		logger.Warn("failed to load state for expired order", "order_hash", orderHash, "error", err)
	}
	if state == nil {
		state = &model.OrderState{OrderHash: orderHash}
	}
	state.Status = "expired"
	state.UpdatedAt = o.now().UTC()
	if err := o.store.SaveState(ctx, state); err != nil {
		logger.Warn("failed to persist expired state", "order_hash", orderHash, "error", err)
	}
	o.notify(model.LifecycleEvent{OrderHash: orderHash, Status: "expired", At: state.UpdatedAt})
}

func (o *Orchestrator) checkFee(ctx context.Context, b *binding.Binding, payer, recipient common.Address, fee *big.Int) error {
	if fee == nil || fee.Sign() == 0 {
		return nil
	}
	bal, err := b.Token.BalanceOf(ctx, payer)
	if err != nil {
		return apperrors.Wrap(err)
	}
	if bal.Cmp(fee) < 0 {
		return o.reject(apperrors.KindInsufficientBalanceForTransfer,
			"fee-token balance %s of %s below fee %s", bal, payer.Hex(), fee)
	}
	allowance, err := b.Token.Allowance(ctx, payer, recipient)
	if err != nil {
		return apperrors.Wrap(err)
	}
	if allowance.Cmp(fee) < 0 {
		return o.reject(apperrors.KindInsufficientAllowanceForTransfer,
			"fee allowance %s of %s below fee %s", allowance, payer.Hex(), fee)
	}
	return nil
}

func (o *Orchestrator) checkCollateral(ctx context.Context, b *binding.Binding, order *model.Order, fillQty *big.Int, sender common.Address) error {
	floor, cp, mult, err := o.contractBounds(ctx, b)
	if err != nil {
		return err
	}

	// The maker holds the order's side of the fill, the taker the opposite.
	neededMaker := collateral.Needed(floor, cp, mult, fillQty, order.Price)
	neededTaker := collateral.Needed(floor, cp, mult, new(big.Int).Neg(fillQty), order.Price)

	for _, check := range []struct {
		user   common.Address
		needed *big.Int
	}{
		{order.Maker, neededMaker},
		{sender, neededTaker},
	} {
		bal, err := b.Pool.UserBalance(ctx, check.user)
		if err != nil {
			return apperrors.Wrap(err)
		}
		if bal.Cmp(check.needed) < 0 {
			return o.reject(apperrors.KindInsufficientCollateralBalance,
				"pool balance %s of %s below needed collateral %s", bal, check.user.Hex(), check.needed)
		}
	}
	return nil
}

func (o *Orchestrator) contractBounds(ctx context.Context, b *binding.Binding) (floor, cp, mult *big.Int, err error) {
	if floor, err = b.Market.PriceFloor(ctx); err != nil {
		return nil, nil, nil, apperrors.Wrap(err)
	}
	if cp, err = b.Market.PriceCap(ctx); err != nil {
		return nil, nil, nil, apperrors.Wrap(err)
	}
	if mult, err = b.Market.QtyMultiplier(ctx); err != nil {
		return nil, nil, nil, apperrors.Wrap(err)
	}
	return floor, cp, mult, nil
}

func (o *Orchestrator) reject(kind apperrors.Kind, format string, args ...any) *apperrors.AppError {
	metrics.ValidationRejects.WithLabelValues(string(kind)).Inc()
	err := apperrors.Reject(kind, format, args...)
	logger.Debug("validation reject", "kind", string(kind), "reason", err.Message)
	return err
}

func (o *Orchestrator) recordSubmission(ctx context.Context, op string, order *model.Order, hash common.Hash, qty *big.Int, sender common.Address, tx *ledger.TxResult) {
	now := o.now().UTC()

	state := &model.OrderState{
		OrderHash: hash.Hex(),
		Contract:  order.ContractAddress.Hex(),
		Maker:     order.Maker.Hex(),
		Status:    "submitted",
		TxHash:    tx.Hash.Hex(),
		UpdatedAt: now,
	}
	if err := o.store.SaveState(ctx, state); err != nil {
		logger.Warn("failed to persist submission state", "order_hash", state.OrderHash, "error", err)
	}

	if o.audit != nil {
		rec := &model.SubmissionRecord{
			ID:        uuid.NewString(),
			Op:        op,
			OrderHash: hash.Hex(),
			Contract:  order.ContractAddress.Hex(),
			Maker:     order.Maker.Hex(),
			Sender:    sender.Hex(),
			Qty:       qty.String(),
			TxHash:    tx.Hash.Hex(),
			Block:     tx.Block,
			CreatedAt: now,
		}
		if err := o.audit.Insert(ctx, rec); err != nil {
			logger.Warn("failed to audit submission", "order_hash", rec.OrderHash, "error", err)
		}
	}

	o.notify(model.LifecycleEvent{
		OrderHash: hash.Hex(),
		Status:    "submitted",
		Qty:       qty.String(),
		TxHash:    tx.Hash.Hex(),
		At:        now,
	})
}

func (o *Orchestrator) trackExpiration(hash common.Hash, order *model.Order) {
	if o.sched == nil || order.Expiration == nil {
		return
	}
	o.sched.AddOrder(hash.Hex(), order.Expiration.Int64()*1000)
}

func (o *Orchestrator) saveOutcome(ctx context.Context, orderHash common.Hash, outcome model.TransactionOutcome) {
	state, err := o.store.GetState(ctx, orderHash.Hex())
	if err != nil || state == nil {
		state = &model.OrderState{OrderHash: orderHash.Hex()}
	}
	state.Status = string(outcome.Status)
	state.ErrorKind = outcome.ErrorKind
	state.UpdatedAt = o.now().UTC()

	qtyStr := ""
	if outcome.Qty != nil {
		qtyStr = outcome.Qty.String()
	}
	switch outcome.Status {
	case model.OutcomeFilled:
		state.FilledQty = qtyStr
	case model.OutcomeCancelled:
		state.CancelledQty = qtyStr
	}
	if err := o.store.SaveState(ctx, state); err != nil {
		logger.Warn("failed to persist outcome", "order_hash", state.OrderHash, "error", err)
	}

	// A terminal outcome means the expiration watch is moot.
	if o.sched != nil && outcome.Status != model.OutcomeFilled {
		o.sched.RemoveOrder(orderHash.Hex())
	}

	o.notify(model.LifecycleEvent{
		OrderHash: orderHash.Hex(),
		Status:    string(outcome.Status),
		Qty:       qtyStr,
		ErrorKind: outcome.ErrorKind,
		At:        state.UpdatedAt,
	})
}

func (o *Orchestrator) notify(ev model.LifecycleEvent) {
	if o.notifier != nil {
		o.notifier.Notify(ev)
	}
}
