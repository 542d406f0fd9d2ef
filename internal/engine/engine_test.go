package engine

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
	"github.com/alanyoungcy/ringsim/internal/ledger"
	"github.com/alanyoungcy/ringsim/internal/validator"
)

var (
	tokenX   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenY   = common.HexToAddress("0x1000000000000000000000000000000000000002")
	tokenZ   = common.HexToAddress("0x1000000000000000000000000000000000000003")
	feeToken = common.HexToAddress("0x1000000000000000000000000000000000000004")
	weth     = common.HexToAddress("0x1000000000000000000000000000000000000005")

	spender      = common.HexToAddress("0x2000000000000000000000000000000000000001")
	feeHolder    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	feeRecipient = common.HexToAddress("0x2000000000000000000000000000000000000003")
	wallet       = common.HexToAddress("0x2000000000000000000000000000000000000004")

	alice = common.HexToAddress("0x3000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x3000000000000000000000000000000000000002")
	carol = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func testRun() *domain.RunContext {
	return &domain.RunContext{
		BlockTimestamp:    1_700_000_000,
		FeePercentageBase: 1000,
		Spender:           spender,
		FeeHolder:         feeHolder,
		FeeTokenAddr:      feeToken,
	}
}

func newState() *ledger.MemoryLedger {
	l := ledger.NewMemoryLedger()
	for _, token := range []common.Address{tokenX, tokenY, tokenZ, feeToken, weth} {
		l.RegisterToken(token)
	}
	return l
}

func fund(l *ledger.MemoryLedger, token, owner common.Address, amount int64) {
	l.SetBalance(token, owner, big.NewInt(amount))
	l.SetAllowance(token, owner, spender, big.NewInt(amount))
}

func order(owner, tokenS, tokenB common.Address, amountS, amountB int64) *domain.Order {
	return &domain.Order{
		Owner:      owner,
		TokenS:     tokenS,
		TokenB:     tokenB,
		AmountS:    big.NewInt(amountS),
		AmountB:    big.NewInt(amountB),
		ValidSince: 1_600_000_000,
	}
}

// settle runs one ring over the given orders, member order following the
// slice order.
func settle(t *testing.T, state *ledger.MemoryLedger, orders []*domain.Order) *Settlement {
	t.Helper()
	run := testRun()
	v := validator.New(state, run)
	for _, o := range orders {
		o.Reset()
		v.Normalize(o)
	}
	ring := &domain.Ring{Orders: make([]int, len(orders))}
	for i := range orders {
		ring.Orders[i] = i
	}
	ring.Reset()

	tax := ledger.NewTaxTable(feeToken, weth, run.FeePercentageBase, ledger.DefaultTaxRates())
	eng := New(run, state, tax, v)
	s, err := eng.SettleRing(context.Background(), ring, orders, feeRecipient)
	if err != nil {
		t.Fatalf("settle ring: %v", err)
	}
	return s
}

// findTransfer returns the single transfer matching the coordinates, failing
// the test when it is absent or duplicated.
func findTransfer(t *testing.T, s *Settlement, token, from, to common.Address) *big.Int {
	t.Helper()
	var found *big.Int
	for _, tr := range s.Transfers {
		if tr.Token == token && tr.From == from && tr.To == to {
			if found != nil {
				found.Add(found, tr.Amount)
				continue
			}
			found = new(big.Int).Set(tr.Amount)
		}
	}
	if found == nil {
		t.Fatalf("no transfer of %s from %s to %s", token.Hex(), from.Hex(), to.Hex())
	}
	return found
}

func hasTransfer(s *Settlement, token, from, to common.Address) bool {
	for _, tr := range s.Transfers {
		if tr.Token == token && tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

func TestExactMatchRing(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 10)

	a := order(alice, tokenX, tokenY, 100, 10)
	b := order(bob, tokenY, tokenX, 10, 100)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if len(s.Transfers) != 2 {
		t.Fatalf("transfers = %d, want 2", len(s.Transfers))
	}
	if got := findTransfer(t, s, tokenX, alice, bob); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("X leg = %s, want 100", got)
	}
	if got := findTransfer(t, s, tokenY, bob, alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("Y leg = %s, want 10", got)
	}
	if a.FillAmountS.Cmp(big.NewInt(100)) != 0 || b.FillAmountS.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("fills = %s/%s, want 100/10", a.FillAmountS, b.FillAmountS)
	}
}

func TestPriceGapMarginGoesToFeeRecipient(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 10)

	// Alice asks 10 Y per 100 X; Bob would accept 50 X for his 10 Y. The 50 X
	// surplus is ring margin.
	a := order(alice, tokenX, tokenY, 100, 10)
	b := order(bob, tokenY, tokenX, 10, 50)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if got := findTransfer(t, s, tokenX, alice, bob); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("net X leg = %s, want 50", got)
	}
	if got := findTransfer(t, s, tokenX, alice, feeRecipient); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("margin = %s, want 50", got)
	}
	if got := findTransfer(t, s, tokenY, bob, alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("Y leg = %s, want 10", got)
	}
	if got := s.FeeCredits.Get(tokenX, feeRecipient); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("margin fee credit = %s, want 50", got)
	}
}

func TestThreeOrderRing(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 10)
	fund(state, tokenY, bob, 100)
	fund(state, tokenZ, carol, 5)

	a := order(alice, tokenX, tokenY, 10, 100)
	b := order(bob, tokenY, tokenZ, 100, 5)
	c := order(carol, tokenZ, tokenX, 5, 10)
	s := settle(t, state, []*domain.Order{a, b, c})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if len(s.Transfers) != 3 {
		t.Fatalf("transfers = %d, want 3", len(s.Transfers))
	}
	if got := findTransfer(t, s, tokenX, alice, carol); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("X leg = %s, want 10", got)
	}
	if got := findTransfer(t, s, tokenY, bob, alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("Y leg = %s, want 100", got)
	}
	if got := findTransfer(t, s, tokenZ, carol, bob); got.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("Z leg = %s, want 5", got)
	}
}

func TestScalingRingBindsOnSmallestOrder(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 1000)
	fund(state, tokenY, bob, 5)

	// Bob's 5 Y only buys half of Alice's posted size; Alice scales down at
	// her own rate.
	a := order(alice, tokenX, tokenY, 1000, 10)
	b := order(bob, tokenY, tokenX, 5, 500)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if a.FillAmountS.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("alice fill = %s, want 500", a.FillAmountS)
	}
	if b.FillAmountS.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("bob fill = %s, want 5", b.FillAmountS)
	}
	if got := findTransfer(t, s, tokenX, alice, bob); got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("X leg = %s, want 500", got)
	}
}

// e18 scales n by 10^18, the unit scale of on-chain token amounts.
func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func orderBig(owner, tokenS, tokenB common.Address, amountS, amountB *big.Int) *domain.Order {
	return &domain.Order{
		Owner:      owner,
		TokenS:     tokenS,
		TokenB:     tokenB,
		AmountS:    amountS,
		AmountB:    amountB,
		ValidSince: 1_600_000_000,
	}
}

func fundBig(l *ledger.MemoryLedger, token, owner common.Address, amount *big.Int) {
	l.SetBalance(token, owner, amount)
	l.SetAllowance(token, owner, spender, amount)
}

// TestTokenScaleFillResolution pins the fill fractions at full 1e18 token
// scale, where integer flooring actually bites.
func TestTokenScaleFillResolution(t *testing.T) {
	t.Run("two order price gap", func(t *testing.T) {
		state := newState()
		fundBig(state, tokenX, alice, e18(100))
		fundBig(state, tokenY, bob, e18(5))

		// Bob's 5 Y buys half of Alice's posted 100 X and leaves a 5 X
		// surplus over his ask of 45 X; fractions settle at 1/2 and 1.
		a := orderBig(alice, tokenX, tokenY, e18(100), e18(10))
		b := orderBig(bob, tokenY, tokenX, e18(5), e18(45))
		s := settle(t, state, []*domain.Order{a, b})

		if !s.Mined {
			t.Fatalf("ring not mined: %s", s.Reason)
		}
		if a.FillAmountS.Cmp(e18(50)) != 0 {
			t.Errorf("alice fill = %s, want 50e18", a.FillAmountS)
		}
		if b.FillAmountS.Cmp(e18(5)) != 0 {
			t.Errorf("bob fill = %s, want 5e18", b.FillAmountS)
		}
		if got := findTransfer(t, s, tokenX, alice, bob); got.Cmp(e18(45)) != 0 {
			t.Errorf("net X leg = %s, want 45e18", got)
		}
		if got := findTransfer(t, s, tokenX, alice, feeRecipient); got.Cmp(e18(5)) != 0 {
			t.Errorf("margin = %s, want 5e18", got)
		}
	})

	t.Run("three order price gap chain", func(t *testing.T) {
		state := newState()
		fundBig(state, tokenX, alice, e18(100))
		fundBig(state, tokenY, bob, e18(5))
		fundBig(state, tokenZ, carol, e18(3))

		// Carol's 3 Z binds the chain; Bob scales to 1/15, Alice to 1/30,
		// the floor landing one base unit under an exact thirtieth.
		a := orderBig(alice, tokenX, tokenY, e18(100), e18(10))
		b := orderBig(bob, tokenY, tokenZ, e18(5), e18(45))
		c := orderBig(carol, tokenZ, tokenX, e18(3), e18(2))
		s := settle(t, state, []*domain.Order{a, b, c})

		if !s.Mined {
			t.Fatalf("ring not mined: %s", s.Reason)
		}
		fillA, _ := new(big.Int).SetString("3333333333333333330", 10)
		fillB, _ := new(big.Int).SetString("333333333333333333", 10)
		if a.FillAmountS.Cmp(fillA) != 0 {
			t.Errorf("alice fill = %s, want %s", a.FillAmountS, fillA)
		}
		if b.FillAmountS.Cmp(fillB) != 0 {
			t.Errorf("bob fill = %s, want %s", b.FillAmountS, fillB)
		}
		if c.FillAmountS.Cmp(e18(3)) != 0 {
			t.Errorf("carol fill = %s, want 3e18", c.FillAmountS)
		}

		if got := findTransfer(t, s, tokenX, alice, carol); got.Cmp(e18(2)) != 0 {
			t.Errorf("net X leg = %s, want 2e18", got)
		}
		margin := new(big.Int).Sub(fillA, e18(2))
		if got := findTransfer(t, s, tokenX, alice, feeRecipient); got.Cmp(margin) != 0 {
			t.Errorf("margin = %s, want %s", got, margin)
		}
		if got := findTransfer(t, s, tokenY, bob, alice); got.Cmp(fillB) != 0 {
			t.Errorf("Y leg = %s, want %s", got, fillB)
		}
		if got := findTransfer(t, s, tokenZ, carol, bob); got.Cmp(e18(3)) != 0 {
			t.Errorf("Z leg = %s, want 3e18", got)
		}
	})
}

func TestRingShapeRejection(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 10)

	t.Run("single member", func(t *testing.T) {
		s := settle(t, state, []*domain.Order{order(alice, tokenX, tokenY, 100, 10)})
		if s.Mined || s.Reason != "ring has fewer than two orders" {
			t.Errorf("mined=%v reason=%q", s.Mined, s.Reason)
		}
	})

	t.Run("broken cycle", func(t *testing.T) {
		a := order(alice, tokenX, tokenY, 100, 10)
		b := order(bob, tokenY, tokenZ, 10, 5)
		s := settle(t, state, []*domain.Order{a, b})
		if s.Mined || s.Reason != "orders do not form a token cycle" {
			t.Errorf("mined=%v reason=%q", s.Mined, s.Reason)
		}
	})

	t.Run("sub ring", func(t *testing.T) {
		a := order(alice, tokenX, tokenY, 100, 10)
		b := order(bob, tokenY, tokenX, 10, 100)
		c := order(carol, tokenX, tokenY, 100, 10)
		d := order(bob, tokenY, tokenX, 10, 100)
		s := settle(t, state, []*domain.Order{a, b, c, d})
		if s.Mined || s.Reason != "ring contains a sub-ring" {
			t.Errorf("mined=%v reason=%q", s.Mined, s.Reason)
		}
	})

	t.Run("invalid member", func(t *testing.T) {
		a := order(alice, tokenX, tokenY, 100, 10)
		b := order(bob, tokenY, tokenX, 10, 100)
		run := testRun()
		v := validator.New(state, run)
		for _, o := range []*domain.Order{a, b} {
			o.Reset()
			v.Normalize(o)
		}
		b.Require(false, "invalid order signature")

		ring := &domain.Ring{Orders: []int{0, 1}}
		ring.Reset()
		tax := ledger.NewTaxTable(feeToken, weth, run.FeePercentageBase, ledger.DefaultTaxRates())
		s, err := New(run, state, tax, v).SettleRing(context.Background(), ring, []*domain.Order{a, b}, feeRecipient)
		if err != nil {
			t.Fatalf("settle ring: %v", err)
		}
		if s.Mined || s.Reason != "ring contains an invalid order" {
			t.Errorf("mined=%v reason=%q", s.Mined, s.Reason)
		}
	})
}

func TestUnregisteredTokenRejectsRing(t *testing.T) {
	state := newState()
	other := common.HexToAddress("0x1000000000000000000000000000000000000099")
	fund(state, tokenX, alice, 100)
	fund(state, other, bob, 10)

	a := order(alice, tokenX, other, 100, 10)
	b := order(bob, other, tokenX, 10, 100)
	s := settle(t, state, []*domain.Order{a, b})
	if s.Mined || s.Reason != "ring touches an unregistered token" {
		t.Errorf("mined=%v reason=%q", s.Mined, s.Reason)
	}
}

func TestAllOrNone(t *testing.T) {
	t.Run("partial fill rejected", func(t *testing.T) {
		state := newState()
		fund(state, tokenX, alice, 100)
		fund(state, tokenY, bob, 5)

		a := order(alice, tokenX, tokenY, 100, 10)
		a.AllOrNone = true
		b := order(bob, tokenY, tokenX, 5, 50)
		s := settle(t, state, []*domain.Order{a, b})
		if s.Mined || s.Reason != "allOrNone order cannot be filled completely" {
			t.Errorf("mined=%v reason=%q", s.Mined, s.Reason)
		}
	})

	t.Run("full fill settles", func(t *testing.T) {
		state := newState()
		fund(state, tokenX, alice, 100)
		fund(state, tokenY, bob, 10)

		a := order(alice, tokenX, tokenY, 100, 10)
		a.AllOrNone = true
		b := order(bob, tokenY, tokenX, 10, 100)
		s := settle(t, state, []*domain.Order{a, b})
		if !s.Mined {
			t.Fatalf("ring not mined: %s", s.Reason)
		}
	})
}

func TestWaiverSumLimit(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 10)

	a := order(alice, tokenX, tokenY, 100, 10)
	a.WaiveFeePercentage = -600
	b := order(bob, tokenY, tokenX, 10, 100)
	b.WaiveFeePercentage = -600
	s := settle(t, state, []*domain.Order{a, b})
	if s.Mined || s.Reason != "miner waives more fees than the ring can pay" {
		t.Errorf("mined=%v reason=%q", s.Mined, s.Reason)
	}

	// Exactly at the limit is fine.
	a.WaiveFeePercentage = -500
	b.WaiveFeePercentage = -500
	s = settle(t, state, []*domain.Order{a, b})
	if !s.Mined {
		t.Errorf("ring at waiver limit not mined: %s", s.Reason)
	}
}

func TestZeroBalanceSettlesEmpty(t *testing.T) {
	state := newState()
	fund(state, tokenY, bob, 10)
	// Alice holds nothing; every fill scales to zero but the ring still mines.

	a := order(alice, tokenX, tokenY, 100, 10)
	b := order(bob, tokenY, tokenX, 10, 100)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if len(s.Transfers) != 0 {
		t.Errorf("transfers = %d, want 0", len(s.Transfers))
	}
	if a.FillAmountS.Sign() != 0 || b.FillAmountS.Sign() != 0 {
		t.Errorf("fills = %s/%s, want 0/0", a.FillAmountS, b.FillAmountS)
	}
}

func TestStandardFeeChargedInFeeToken(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 10)
	fund(state, feeToken, alice, 2000)

	a := order(alice, tokenX, tokenY, 100, 10)
	a.FeeAmount = big.NewInt(1000)
	b := order(bob, tokenY, tokenX, 10, 100)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	// Full fill charges the full flat fee plus 1% fee-token tax.
	if got := findTransfer(t, s, feeToken, alice, feeRecipient); got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("fee leg = %s, want 1000", got)
	}
	if got := findTransfer(t, s, feeToken, alice, feeHolder); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("tax leg = %s, want 10", got)
	}
	if a.FillAmountFee.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("fill fee = %s, want 1000", a.FillAmountFee)
	}
}

func TestStandardFeeScalesWithFill(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 1000)
	fund(state, tokenY, bob, 5)
	fund(state, feeToken, alice, 2000)

	// Only half of Alice's order fills, so only half the flat fee is owed.
	a := order(alice, tokenX, tokenY, 1000, 10)
	a.FeeAmount = big.NewInt(1000)
	b := order(bob, tokenY, tokenX, 5, 500)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if got := findTransfer(t, s, feeToken, alice, feeRecipient); got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("fee leg = %s, want 500", got)
	}
}

func TestFeeFallbackToBoughtToken(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 1000)
	// No fee-token balance for Alice: the percentage fallback applies.

	a := order(alice, tokenX, tokenY, 100, 1000)
	a.FeeAmount = big.NewInt(1000)
	a.FeePercentage = 50 // 5% of the bought amount
	b := order(bob, tokenY, tokenX, 1000, 100)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	// feeB = 1000 * 50/1000 = 50 Y, taxB = 50 * 100/1000 = 5 Y ("other"
	// consumer rate), both debited from Bob's payment leg.
	if got := findTransfer(t, s, tokenY, bob, alice); got.Cmp(big.NewInt(945)) != 0 {
		t.Errorf("net Y leg = %s, want 945", got)
	}
	if got := findTransfer(t, s, tokenY, bob, feeRecipient); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("feeB leg = %s, want 50", got)
	}
	if got := findTransfer(t, s, tokenY, bob, feeHolder); got.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("taxB leg = %s, want 5", got)
	}
	if hasTransfer(s, feeToken, alice, feeRecipient) {
		t.Error("unexpected fee-token leg despite empty fee-token balance")
	}
}

func TestWalletSplit(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 10)
	fund(state, feeToken, alice, 2000)

	a := order(alice, tokenX, tokenY, 100, 10)
	a.FeeAmount = big.NewInt(1000)
	a.WalletAddr = wallet
	a.WalletSplitPercentage = 40
	s := settle(t, state, []*domain.Order{a, order(bob, tokenY, tokenX, 10, 100)})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if got := findTransfer(t, s, feeToken, alice, wallet); got.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("wallet share = %s, want 400", got)
	}
	if got := findTransfer(t, s, feeToken, alice, feeRecipient); got.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("miner share = %s, want 600", got)
	}
}

func TestFeeWaivers(t *testing.T) {
	t.Run("positive waiver scales down", func(t *testing.T) {
		state := newState()
		fund(state, tokenX, alice, 100)
		fund(state, tokenY, bob, 10)
		fund(state, feeToken, alice, 2000)

		a := order(alice, tokenX, tokenY, 100, 10)
		a.FeeAmount = big.NewInt(1000)
		a.WaiveFeePercentage = 500
		s := settle(t, state, []*domain.Order{a, order(bob, tokenY, tokenX, 10, 100)})
		if !s.Mined {
			t.Fatalf("ring not mined: %s", s.Reason)
		}
		if got := findTransfer(t, s, feeToken, alice, feeRecipient); got.Cmp(big.NewInt(500)) != 0 {
			t.Errorf("waived fee = %s, want 500", got)
		}
	})

	t.Run("negative waiver absorbs the fee", func(t *testing.T) {
		state := newState()
		fund(state, tokenX, alice, 100)
		fund(state, tokenY, bob, 10)
		fund(state, feeToken, alice, 2000)

		a := order(alice, tokenX, tokenY, 100, 10)
		a.FeeAmount = big.NewInt(1000)
		a.WaiveFeePercentage = -600
		s := settle(t, state, []*domain.Order{a, order(bob, tokenY, tokenX, 10, 100)})
		if !s.Mined {
			t.Fatalf("ring not mined: %s", s.Reason)
		}
		if hasTransfer(s, feeToken, alice, feeRecipient) {
			t.Error("fee charged despite full negative waiver")
		}
	})
}

func TestSharedFeeBalanceFallsBack(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, alice, 10)
	fund(state, feeToken, alice, 1500)

	// Alice trades with herself; the fee-token balance covers the first
	// order's fee plus tax but not the second, which falls back to its
	// bought token (and charges nothing at a zero percentage).
	a := order(alice, tokenX, tokenY, 100, 10)
	a.FeeAmount = big.NewInt(1000)
	b := order(alice, tokenY, tokenX, 10, 100)
	b.FeeAmount = big.NewInt(1000)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if got := findTransfer(t, s, feeToken, alice, feeRecipient); got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("fee legs total = %s, want 1000 (one order only)", got)
	}
	if got := findTransfer(t, s, feeToken, alice, feeHolder); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("fee tax total = %s, want 10", got)
	}
}

func TestP2PWithoutWalletChargesNoFees(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 10)

	a := order(alice, tokenX, tokenY, 100, 10)
	a.TokenSFeePercentage = 20
	b := order(bob, tokenY, tokenX, 10, 100)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if len(s.Transfers) != 2 {
		t.Fatalf("transfers = %d, want 2 (fills only)", len(s.Transfers))
	}
	if got := findTransfer(t, s, tokenX, alice, bob); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("X leg = %s, want 100", got)
	}
}

func TestP2PFees(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 10210)
	fund(state, tokenY, bob, 10)

	walletB := common.HexToAddress("0x2000000000000000000000000000000000000005")

	// Alice pays a 2% in-kind sell fee grossed up on top of her fill; Bob
	// pays a 10% fee on the tokens he buys.
	a := order(alice, tokenX, tokenY, 9800, 10)
	a.TokenSFeePercentage = 20
	a.WalletAddr = wallet
	a.WalletSplitPercentage = 50
	b := order(bob, tokenY, tokenX, 10, 9800)
	b.TokenBFeePercentage = 100
	b.WalletAddr = walletB
	b.WalletSplitPercentage = 50
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}

	// Alice's sell fee: gross 10000 - fill 9800 = 200 X, split evenly, plus
	// 5% P2P consumer tax on the fee (10 X).
	if got := findTransfer(t, s, tokenX, alice, wallet); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("alice wallet fee = %s, want 100", got)
	}
	// Bob's buy fee: 9800 * 10% = 980 X split evenly, tax 49 X; his net
	// receipt shrinks accordingly.
	if got := findTransfer(t, s, tokenX, alice, walletB); got.Cmp(big.NewInt(490)) != 0 {
		t.Errorf("bob wallet fee = %s, want 490", got)
	}
	if got := findTransfer(t, s, tokenX, alice, bob); got.Cmp(big.NewInt(8771)) != 0 {
		t.Errorf("net X leg = %s, want 8771", got)
	}
	if got := findTransfer(t, s, tokenX, alice, feeHolder); got.Cmp(big.NewInt(59)) != 0 {
		t.Errorf("tax total = %s, want 59 (49 + 10)", got)
	}
	if got := findTransfer(t, s, tokenY, bob, alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("Y leg = %s, want 10", got)
	}
}

func TestP2PUnaffordableSellFeeGoesUnpaid(t *testing.T) {
	state := newState()
	// Balance covers the fill but not the grossed-up fee on top.
	fund(state, tokenX, alice, 10005)
	fund(state, tokenY, bob, 10)

	a := order(alice, tokenX, tokenY, 9800, 10)
	a.TokenSFeePercentage = 20
	a.WalletAddr = wallet
	b := order(bob, tokenY, tokenX, 10, 9800)
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if hasTransfer(s, tokenX, alice, wallet) {
		t.Error("sell fee charged despite unaffordable gross-up")
	}
	if got := findTransfer(t, s, tokenX, alice, bob); got.Cmp(big.NewInt(9800)) != 0 {
		t.Errorf("net X leg = %s, want 9800", got)
	}
}

func TestTokenRecipientRouting(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 10)

	recipient := common.HexToAddress("0x3000000000000000000000000000000000000009")
	a := order(alice, tokenX, tokenY, 100, 10)
	b := order(bob, tokenY, tokenX, 10, 100)
	b.TokenRecipient = recipient
	s := settle(t, state, []*domain.Order{a, b})

	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if got := findTransfer(t, s, tokenX, alice, recipient); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("routed X leg = %s, want 100", got)
	}
	if hasTransfer(s, tokenX, alice, bob) {
		t.Error("X leg sent to owner instead of the token recipient")
	}
}

func TestPriorFillReducesCapacity(t *testing.T) {
	state := newState()
	fund(state, tokenX, alice, 100)
	fund(state, tokenY, bob, 10)

	a := order(alice, tokenX, tokenY, 100, 10)
	b := order(bob, tokenY, tokenX, 10, 100)

	run := testRun()
	v := validator.New(state, run)
	for _, o := range []*domain.Order{a, b} {
		o.Reset()
		v.Normalize(o)
	}
	a.FilledAmountS = big.NewInt(50)

	ring := &domain.Ring{Orders: []int{0, 1}}
	ring.Reset()
	tax := ledger.NewTaxTable(feeToken, weth, run.FeePercentageBase, ledger.DefaultTaxRates())
	s, err := New(run, state, tax, v).SettleRing(context.Background(), ring, []*domain.Order{a, b}, feeRecipient)
	if err != nil {
		t.Fatalf("settle ring: %v", err)
	}
	if !s.Mined {
		t.Fatalf("ring not mined: %s", s.Reason)
	}
	if a.FillAmountS.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("alice fill = %s, want remaining 50", a.FillAmountS)
	}
	if b.FillAmountS.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("bob fill = %s, want scaled 5", b.FillAmountS)
	}
}
