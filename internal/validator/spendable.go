package validator

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// spendableKey identifies one reservation cell. Broker is the zero address
// for the base (token, owner) cell; broker-interceptor caps live in separate
// cells keyed by the broker as well.
type spendableKey struct {
	token  common.Address
	owner  common.Address
	broker common.Address
}

type spendableCell struct {
	amount      *big.Int // balance capped by allowance (or interceptor cap)
	reserved    *big.Int // committed to fills so far this run
	initialized bool
}

// SpendableLedger memoizes, for one run, how much each (token, owner) pair
// can spend and how much of it is already reserved by earlier fills. Rings
// sharing an order deduct from the same cells, so all mutation happens behind
// one mutex. This is the single shared-mutable boundary of a run.
type SpendableLedger struct {
	mu    sync.Mutex
	state domain.StateReader
	run   *domain.RunContext
	cells map[spendableKey]*spendableCell
}

// NewSpendableLedger returns an empty ledger bound to the run's state
// snapshot.
func NewSpendableLedger(state domain.StateReader, run *domain.RunContext) *SpendableLedger {
	return &SpendableLedger{
		state: state,
		run:   run,
		cells: make(map[spendableKey]*spendableCell),
	}
}

// Spendable returns the effective spendable amount of token for owner:
// min(balance, allowance), further capped by the broker interceptor's
// reported allowance when one applies, minus in-run reservations. Balance and
// allowance are fetched at most once per run per key.
func (l *SpendableLedger) Spendable(ctx context.Context, token, owner, broker, interceptor common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spendableLocked(ctx, token, owner, broker, interceptor)
}

func (l *SpendableLedger) spendableLocked(ctx context.Context, token, owner, broker, interceptor common.Address) (*big.Int, error) {
	base, err := l.baseCell(ctx, token, owner)
	if err != nil {
		return nil, err
	}

	spendable := new(big.Int).Set(base.amount)
	if interceptor != (common.Address{}) {
		capCell, err := l.brokerCell(ctx, token, owner, broker, interceptor)
		if err != nil {
			return nil, err
		}
		if capCell.amount.Cmp(spendable) < 0 {
			spendable.Set(capCell.amount)
		}
	}

	spendable.Sub(spendable, base.reserved)
	if spendable.Sign() < 0 {
		spendable.SetInt64(0)
	}
	return spendable, nil
}

func (l *SpendableLedger) baseCell(ctx context.Context, token, owner common.Address) (*spendableCell, error) {
	key := spendableKey{token: token, owner: owner}
	cell, ok := l.cells[key]
	if !ok {
		cell = &spendableCell{amount: new(big.Int), reserved: new(big.Int)}
		l.cells[key] = cell
	}
	if !cell.initialized {
		balance, err := l.state.GetBalance(ctx, token, owner)
		if err != nil {
			return nil, fmt.Errorf("validator: balance of %s: %w", owner.Hex(), err)
		}
		allowance, err := l.state.GetAllowance(ctx, token, owner, l.run.Spender)
		if err != nil {
			return nil, fmt.Errorf("validator: allowance of %s: %w", owner.Hex(), err)
		}
		cell.amount.Set(balance)
		if allowance.Cmp(cell.amount) < 0 {
			cell.amount.Set(allowance)
		}
		cell.initialized = true
	}
	return cell, nil
}

func (l *SpendableLedger) brokerCell(ctx context.Context, token, owner, broker, interceptor common.Address) (*spendableCell, error) {
	key := spendableKey{token: token, owner: owner, broker: broker}
	cell, ok := l.cells[key]
	if !ok {
		cell = &spendableCell{amount: new(big.Int), reserved: new(big.Int)}
		l.cells[key] = cell
	}
	if !cell.initialized {
		// An interceptor that errors means zero broker allowance, not a
		// fatal run error.
		allowance, err := l.state.GetBrokerAllowance(ctx, interceptor, owner, broker, token)
		if err != nil || allowance == nil {
			allowance = new(big.Int)
		}
		cell.amount.Set(allowance)
		cell.initialized = true
	}
	return cell, nil
}

// Reserve commits amount of the pair's spendable to a fill. It fails when the
// request exceeds what is currently available; a successful reservation never
// drives effective spendable negative.
func (l *SpendableLedger) Reserve(ctx context.Context, token, owner, broker, interceptor common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	available, err := l.spendableLocked(ctx, token, owner, broker, interceptor)
	if err != nil {
		return err
	}
	if amount.Cmp(available) > 0 {
		return fmt.Errorf("validator: reserve %s of %s for %s exceeds spendable %s",
			amount, token.Hex(), owner.Hex(), available)
	}

	base := l.cells[spendableKey{token: token, owner: owner}]
	base.reserved.Add(base.reserved, amount)
	return nil
}

// ResetReservations zeroes every reservation while keeping the memoized
// amounts, so a fresh matching attempt can reuse the fetched state.
func (l *SpendableLedger) ResetReservations() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cell := range l.cells {
		cell.reserved.SetInt64(0)
	}
}
