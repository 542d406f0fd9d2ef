// Package validator implements per-order validation: static field checks,
// canonical hashing, broker resolution, signature and dual-authorization
// verification, the batched cutoff/cancellation check, and the spendable
// reservation ledger shared by the matching engine.
package validator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/broker"
	"github.com/alanyoungcy/ringsim/internal/crypto"
	"github.com/alanyoungcy/ringsim/internal/domain"
)

// OrderValidator runs the fixed validation pipeline over orders of one run.
// Every stage ANDs its result into the order's Valid flag; a cleared flag is
// never set back.
type OrderValidator struct {
	state      domain.StateReader
	run        *domain.RunContext
	brokers    *broker.Resolver
	spendables *SpendableLedger
}

// New returns a validator for one simulation run.
func New(state domain.StateReader, run *domain.RunContext) *OrderValidator {
	return &OrderValidator{
		state:      state,
		run:        run,
		brokers:    broker.NewResolver(state),
		spendables: NewSpendableLedger(state, run),
	}
}

// Spendables exposes the run's reservation ledger.
func (v *OrderValidator) Spendables() *SpendableLedger {
	return v.spendables
}

// Normalize fills caller-omitted defaults before any hashing: the fee token
// defaults to the run's fee token, nil amounts to zero.
func (v *OrderValidator) Normalize(o *domain.Order) {
	if o.FeeToken == (common.Address{}) {
		o.FeeToken = v.run.FeeTokenAddr
	}
	if o.AmountS == nil {
		o.AmountS = new(big.Int)
	}
	if o.AmountB == nil {
		o.AmountB = new(big.Int)
	}
	if o.FeeAmount == nil {
		o.FeeAmount = new(big.Int)
	}
}

// ValidateStatic checks the order's own fields against the run timestamp.
func (v *OrderValidator) ValidateStatic(o *domain.Order) {
	base := int32(v.run.FeePercentageBase)

	o.Require(o.Owner != (common.Address{}), "invalid order owner")
	o.Require(o.TokenS != (common.Address{}), "invalid order tokenS")
	o.Require(o.TokenB != (common.Address{}), "invalid order tokenB")
	o.Require(o.AmountS.Sign() != 0, "invalid order amountS")
	o.Require(o.AmountB.Sign() != 0, "invalid order amountB")
	o.Require(int32(o.FeePercentage) < base, "invalid fee percentage")
	o.Require(o.WaiveFeePercentage <= base, "invalid waive percentage")
	o.Require(o.WaiveFeePercentage >= -base, "invalid waive percentage")
	o.Require(int32(o.TokenSFeePercentage) < base, "invalid tokenS percentage")
	o.Require(int32(o.TokenBFeePercentage) < base, "invalid tokenB percentage")
	o.Require(o.WalletSplitPercentage <= 100, "invalid wallet split percentage")
	o.Require(o.ValidSince <= v.run.BlockTimestamp, "order is too early to match")
	o.Require(o.ValidUntil == 0 || o.ValidUntil > v.run.BlockTimestamp, "order is expired")
}

// ComputeHash derives the canonical order digest: a keccak256 over the packed
// field tuple. This is the value signed by the broker and the value checked
// against on-chain cancellation state, so the packing must never change.
func (v *OrderValidator) ComputeHash(o *domain.Order) {
	var p crypto.Packer
	p.AddUint256(o.AmountS).
		AddUint256(o.AmountB).
		AddUint256(o.FeeAmount).
		AddUint64(o.ValidSince).
		AddUint64(o.ValidUntil).
		AddAddress(o.Owner).
		AddAddress(o.TokenS).
		AddAddress(o.TokenB).
		AddAddress(o.DualAuthAddr).
		AddAddress(o.Broker).
		AddAddress(o.OrderInterceptor).
		AddAddress(o.WalletAddr).
		AddAddress(o.Recipient()).
		AddAddress(o.FeeToken).
		AddUint16(o.WalletSplitPercentage).
		AddUint16(o.FeePercentage).
		AddUint16(o.TokenSFeePercentage).
		AddUint16(o.TokenBFeePercentage).
		AddBool(o.AllOrNone)
	o.Hash = p.Keccak()
}

// ResolveBroker defaults the broker to the owner or resolves the delegated
// broker against the order broker registry. An unregistered broker
// invalidates the order; a resolved interceptor is recorded for spendable
// capping.
func (v *OrderValidator) ResolveBroker(ctx context.Context, o *domain.Order) error {
	if o.Broker == (common.Address{}) {
		return nil
	}
	registered, interceptor, err := v.brokers.Resolve(ctx, domain.OrderBrokerRegistry, o.Owner, o.Broker)
	if err != nil {
		return err
	}
	if !o.Require(registered, "order broker is not registered") {
		return nil
	}
	o.BrokerInterceptor = interceptor
	return nil
}

// LoadFilledAmount fetches the order's prior cumulative fill from the ledger.
func (v *OrderValidator) LoadFilledAmount(ctx context.Context, o *domain.Order) error {
	filled, err := v.state.GetFilledAmountS(ctx, o.Hash)
	if err != nil {
		return fmt.Errorf("validator: filled amount of %s: %w", o.Hash.Hex(), err)
	}
	o.FilledAmountS = filled
	return nil
}

// CheckSignature verifies the order's authorization. Orders with a nonzero
// prior fill were proven before and are never re-checked. Unsigned orders
// must be pre-registered by the broker or submitted to the on-chain order
// book; signed orders must carry a valid broker signature over the order
// hash.
func (v *OrderValidator) CheckSignature(ctx context.Context, o *domain.Order) error {
	if o.FilledAmountS != nil && o.FilledAmountS.Sign() > 0 {
		return nil
	}
	if len(o.Sig) == 0 {
		registered, err := v.state.IsOrderHashRegistered(ctx, o.EffectiveBroker(), o.Hash)
		if err != nil {
			return fmt.Errorf("validator: order registry lookup: %w", err)
		}
		onchain, err := v.state.IsOrderSubmittedOnchain(ctx, o.Hash)
		if err != nil {
			return fmt.Errorf("validator: order book lookup: %w", err)
		}
		o.Require(registered || onchain, "order is not authorized")
		return nil
	}
	o.Require(crypto.VerifySignature(o.EffectiveBroker(), o.Hash, o.Sig), "invalid order signature")
	return nil
}

// CheckDualAuthSignature verifies the optional dual-authorization signature
// against the mining digest, binding the order to one specific batch.
func (v *OrderValidator) CheckDualAuthSignature(o *domain.Order, miningHash common.Hash) {
	if len(o.DualAuthSig) == 0 {
		return
	}
	o.Require(crypto.VerifySignature(o.DualAuthAddr, miningHash, o.DualAuthSig),
		"invalid order dual auth signature")
}

// CheckP2P flags the order peer-to-peer when it carries an in-kind fee rate.
func (v *OrderValidator) CheckP2P(o *domain.Order) {
	o.P2P = o.TokenSFeePercentage > 0 || o.TokenBFeePercentage > 0
}

// CheckCutoffs submits one batched query for every order of the run and
// clears the orders whose bit comes back unset (cancelled or under an owner-
// or pair-scoped cutoff).
func (v *OrderValidator) CheckCutoffs(ctx context.Context, orders []*domain.Order) error {
	entries := make([]domain.CutoffEntry, len(orders))
	for i, o := range orders {
		entries[i] = domain.CutoffEntry{
			Owner:           o.Owner,
			OrderHash:       o.Hash,
			ValidSince:      o.ValidSince,
			PairFingerprint: domain.PairFingerprint(o.TokenS, o.TokenB),
		}
	}
	bits, err := v.state.BatchCheckCutoffsAndCancelled(ctx, entries)
	if err != nil {
		return fmt.Errorf("validator: cutoff check: %w", err)
	}
	for i, o := range orders {
		o.Require(bits.Bit(i) == 1, "order is cancelled or cut off")
	}
	return nil
}

// SpendableS returns how much of the sell token the order can still commit.
func (v *OrderValidator) SpendableS(ctx context.Context, o *domain.Order) (*big.Int, error) {
	return v.spendables.Spendable(ctx, o.TokenS, o.Owner, o.EffectiveBroker(), o.BrokerInterceptor)
}

// SpendableFee returns how much of the fee token the order can still commit.
func (v *OrderValidator) SpendableFee(ctx context.Context, o *domain.Order) (*big.Int, error) {
	return v.spendables.Spendable(ctx, o.FeeToken, o.Owner, o.EffectiveBroker(), o.BrokerInterceptor)
}

// ReserveAmountS commits part of the order's sell-token spendable to a fill.
func (v *OrderValidator) ReserveAmountS(ctx context.Context, o *domain.Order, amount *big.Int) error {
	return v.spendables.Reserve(ctx, o.TokenS, o.Owner, o.EffectiveBroker(), o.BrokerInterceptor, amount)
}

// ReserveAmountFee commits part of the order's fee-token spendable.
func (v *OrderValidator) ReserveAmountFee(ctx context.Context, o *domain.Order, amount *big.Int) error {
	return v.spendables.Reserve(ctx, o.FeeToken, o.Owner, o.EffectiveBroker(), o.BrokerInterceptor, amount)
}
