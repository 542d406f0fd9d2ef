// Package engine implements ring matching: fill-amount resolution over the
// order cycle, fee/tax/margin computation, and settlement transfer
// generation. All arithmetic is exact big-integer math mirroring on-chain
// fixed-point behavior; no floating point is allowed anywhere in this
// package.
package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
	"github.com/alanyoungcy/ringsim/internal/validator"
)

// Engine settles validated rings one at a time against the run's shared
// spendable reservations.
type Engine struct {
	run    *domain.RunContext
	state  domain.StateReader
	tax    domain.TaxOracle
	orders *validator.OrderValidator
}

// New returns an engine bound to one simulation run.
func New(run *domain.RunContext, state domain.StateReader, tax domain.TaxOracle, orders *validator.OrderValidator) *Engine {
	return &Engine{run: run, state: state, tax: tax, orders: orders}
}

// Settlement is the outcome of one ring: the transfer legs it produces and
// the fee/tax/margin credits accrued per recipient. A ring that fails any
// check settles nothing and reports Mined false with the reason.
type Settlement struct {
	Mined      bool
	Reason     string
	Transfers  []domain.TransferItem
	FeeCredits domain.BalanceSheet
}

// member carries one order's per-ring fill and fee state. Fill amounts start
// at the order's maximum and are only ever scaled down.
type member struct {
	o     *domain.Order
	fillS *big.Int
	fillB *big.Int

	// Chosen fee amounts. In standard mode exactly one of fee/feeB is
	// charged; in P2P mode feeS/feeB are in-kind.
	fee    *big.Int
	feeS   *big.Int
	feeB   *big.Int
	taxFee *big.Int
	taxS   *big.Int
	taxB   *big.Int
}

// SettleRing validates the ring's shape, resolves fill amounts over the
// cycle, applies the fee model, and emits the transfer legs. Ring-local
// failures are reported in the Settlement; a returned error is batch-fatal.
func (e *Engine) SettleRing(ctx context.Context, ring *domain.Ring, all []*domain.Order, feeRecipient common.Address) (*Settlement, error) {
	members := make([]*member, 0, len(ring.Orders))
	for _, idx := range ring.Orders {
		members = append(members, &member{o: all[idx]})
	}

	e.checkShape(ring, members)
	if err := e.checkTokensRegistered(ctx, ring, members); err != nil {
		return nil, err
	}
	p2p := e.checkP2P(members)

	if !ring.Valid {
		return &Settlement{Mined: false, Reason: ring.InvalidReason}, nil
	}

	if err := e.resolveFills(ctx, ring, members, p2p); err != nil {
		return nil, err
	}
	if !ring.Valid {
		return &Settlement{Mined: false, Reason: ring.InvalidReason}, nil
	}

	if err := e.computeFees(ctx, members, p2p); err != nil {
		return nil, err
	}

	s := &Settlement{Mined: true, FeeCredits: make(domain.BalanceSheet)}
	e.generateTransfers(s, members, p2p, feeRecipient)

	for _, m := range members {
		m.o.FillAmountS.Add(m.o.FillAmountS, m.fillS)
		m.o.FillAmountB.Add(m.o.FillAmountB, m.fillB)
		if m.fee != nil {
			m.o.FillAmountFee.Add(m.o.FillAmountFee, m.fee)
		}
	}
	return s, nil
}

// checkShape enforces the structural ring invariants: at least two valid
// members, a closed token cycle, and no strict sub-cycle hidden among the
// members. A duplicate sell token means a subset of the members already forms
// a shorter closed token path.
func (e *Engine) checkShape(ring *domain.Ring, members []*member) {
	ring.Require(len(members) >= 2, "ring has fewer than two orders")
	for _, m := range members {
		ring.Require(m.o.Valid, "ring contains an invalid order")
	}
	if !ring.Valid {
		return
	}

	n := len(members)
	for i, m := range members {
		next := members[(i+1)%n]
		ring.Require(m.o.TokenB == next.o.TokenS, "orders do not form a token cycle")
	}

	seen := make(map[common.Address]bool, n)
	for _, m := range members {
		ring.Require(!seen[m.o.TokenS], "ring contains a sub-ring")
		seen[m.o.TokenS] = true
	}
}

// checkTokensRegistered verifies every touched token against the token
// registry. Registry lookups that fail are batch-fatal.
func (e *Engine) checkTokensRegistered(ctx context.Context, ring *domain.Ring, members []*member) error {
	if !ring.Valid {
		return nil
	}
	checked := make(map[common.Address]bool)
	for _, m := range members {
		for _, token := range []common.Address{m.o.TokenS, m.o.TokenB} {
			if checked[token] {
				continue
			}
			checked[token] = true
			registered, err := e.state.IsTokenRegistered(ctx, token)
			if err != nil {
				return fmt.Errorf("engine: token registry lookup for %s: %w", token.Hex(), err)
			}
			if !ring.Require(registered, "ring touches an unregistered token") {
				return nil
			}
		}
	}
	return nil
}

// checkP2P reports whether the ring settles peer-to-peer: one member with an
// in-kind fee rate switches the fee model for every member uniformly.
func (e *Engine) checkP2P(members []*member) bool {
	for _, m := range members {
		if m.o.TokenSFeePercentage > 0 || m.o.TokenBFeePercentage > 0 {
			return true
		}
	}
	return false
}

// resolveFills computes the settled amount per member. Each order starts at
// its own capacity (remaining amount capped by spendable balance); two resize
// passes scale orders down until every member buys no more than its cycle
// neighbor sells, the surplus at each edge being ring margin. The binding
// order ends up fully filled and the rest scale proportionally at their own
// posted rates.
func (e *Engine) resolveFills(ctx context.Context, ring *domain.Ring, members []*member, p2p bool) error {
	base := new(big.Int).SetUint64(uint64(e.run.FeePercentageBase))

	for _, m := range members {
		spendable, err := e.orders.SpendableS(ctx, m.o)
		if err != nil {
			return err
		}
		if p2p && m.o.WalletAddr != (common.Address{}) && m.o.TokenSFeePercentage > 0 {
			// The in-kind sell fee is grossed up on top of the fill, so
			// only base/(base+rate-grossed) of the balance can go to the
			// fill itself.
			net := new(big.Int).Sub(base, new(big.Int).SetUint64(uint64(m.o.TokenSFeePercentage)))
			spendable = mulDiv(spendable, net, base)
		}

		m.fillS = m.o.RemainingAmountS()
		if spendable.Cmp(m.fillS) < 0 {
			m.fillS = new(big.Int).Set(spendable)
		}
		m.fillB = mulDiv(m.fillS, m.o.AmountB, m.o.AmountS)
	}

	n := len(members)
	smallest := 0
	for i := 0; i < n; i++ {
		smallest = e.resize(members, i, smallest)
	}
	for i := 0; i < smallest; i++ {
		e.resize(members, i, smallest)
	}

	for i, m := range members {
		next := members[(i+1)%n]
		if !ring.Require(m.fillB.Cmp(next.fillS) <= 0, "ring cannot be settled") {
			return nil
		}
	}

	for _, m := range members {
		if m.o.AllOrNone {
			full := m.o.RemainingAmountS()
			ok := m.fillS.Sign() == 0 || m.fillS.Cmp(full) == 0
			if !ring.Require(ok, "allOrNone order cannot be filled completely") {
				return nil
			}
		}
	}

	// A miner may only give away the fees that exist: the negative waivers
	// across the ring must not sum past full coverage.
	waived := int64(0)
	for _, m := range members {
		if m.o.WaiveFeePercentage < 0 {
			waived += int64(m.o.WaiveFeePercentage)
		}
	}
	if !ring.Require(waived >= -int64(e.run.FeePercentageBase), "miner waives more fees than the ring can pay") {
		return nil
	}

	for _, m := range members {
		if err := e.orders.ReserveAmountS(ctx, m.o, m.fillS); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}
	return nil
}

// resize scales member i down when it tries to buy more than its successor
// sells, keeping i at its own posted rate. Returns the index of the binding
// member found so far.
func (e *Engine) resize(members []*member, i, smallest int) int {
	m := members[i]
	next := members[(i+1)%len(members)]
	if m.fillB.Cmp(next.fillS) > 0 {
		m.fillB.Set(next.fillS)
		m.fillS = mulDiv(m.fillB, m.o.AmountS, m.o.AmountB)
		return i
	}
	return smallest
}

// mulDiv returns floor(a*b/c); zero when c is zero.
func mulDiv(a, b, c *big.Int) *big.Int {
	if c.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Div(out, c)
}
