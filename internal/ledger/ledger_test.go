package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

var (
	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x1000000000000000000000000000000000000002")
	lrc    = common.HexToAddress("0x1000000000000000000000000000000000000003")
	weth   = common.HexToAddress("0x1000000000000000000000000000000000000004")
	owner  = common.HexToAddress("0x3000000000000000000000000000000000000001")
	broker = common.HexToAddress("0x3000000000000000000000000000000000000002")
)

func TestMemoryLedgerDefaults(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	if b, err := l.GetBalance(ctx, tokenA, owner); err != nil || b.Sign() != 0 {
		t.Errorf("balance = %v, %v; want 0, nil", b, err)
	}
	if a, err := l.GetAllowance(ctx, tokenA, owner, broker); err != nil || a.Sign() != 0 {
		t.Errorf("allowance = %v, %v; want 0, nil", a, err)
	}
	if ok, err := l.IsTokenRegistered(ctx, tokenA); err != nil || ok {
		t.Errorf("registered = %v, %v; want false, nil", ok, err)
	}
	if f, err := l.GetFilledAmountS(ctx, common.Hash{1}); err != nil || f.Sign() != 0 {
		t.Errorf("filled = %v, %v; want 0, nil", f, err)
	}
}

func TestMemoryLedgerIsolation(t *testing.T) {
	l := NewMemoryLedger()
	in := big.NewInt(100)
	l.SetBalance(tokenA, owner, in)
	in.SetInt64(999)

	got, err := l.GetBalance(context.Background(), tokenA, owner)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("balance = %s, want copy of 100", got)
	}
	got.SetInt64(0)
	again, _ := l.GetBalance(context.Background(), tokenA, owner)
	if again.Cmp(big.NewInt(100)) != 0 {
		t.Error("returned balance aliases internal storage")
	}
}

func TestBatchCheckCutoffsAndCancelled(t *testing.T) {
	l := NewMemoryLedger()
	other := common.HexToAddress("0x3000000000000000000000000000000000000003")

	l.CancelOrderHash(common.Hash{2})
	l.SetOwnerCutoff(owner, 1_000)
	l.SetPairCutoff(other, domain.PairFingerprint(tokenA, tokenB), 2_000)

	// Entries: above the owner cutoff, cancelled, at the owner cutoff, under
	// the pair cutoff, and on an uncut pair.
	entries := []domain.CutoffEntry{
		{Owner: owner, OrderHash: common.Hash{1}, ValidSince: 1_001},
		{Owner: owner, OrderHash: common.Hash{2}, ValidSince: 1_001},
		{Owner: owner, OrderHash: common.Hash{3}, ValidSince: 1_000},
		{Owner: other, OrderHash: common.Hash{4}, ValidSince: 1_500, PairFingerprint: domain.PairFingerprint(tokenA, tokenB)},
		{Owner: other, OrderHash: common.Hash{5}, ValidSince: 1_500, PairFingerprint: domain.PairFingerprint(tokenA, lrc)},
	}
	bits, err := l.BatchCheckCutoffsAndCancelled(context.Background(), entries)
	if err != nil {
		t.Fatalf("batch check: %v", err)
	}

	want := []uint{1, 0, 0, 0, 1}
	for i, w := range want {
		if got := bits.Bit(i); got != w {
			t.Errorf("entry %d: bit = %d, want %d", i, got, w)
		}
	}
}

func TestPairFingerprintSymmetry(t *testing.T) {
	if domain.PairFingerprint(tokenA, tokenB) != domain.PairFingerprint(tokenB, tokenA) {
		t.Error("pair fingerprint depends on token order")
	}
	if domain.PairFingerprint(tokenA, tokenB) == domain.PairFingerprint(tokenA, lrc) {
		t.Error("distinct pairs share a fingerprint")
	}
}

func TestAmountUnmarshal(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want *big.Int
		err  bool
	}{
		{"decimal", `"1000000000000000000"`, big.NewInt(1_000_000_000_000_000_000), false},
		{"hex", `"0xff"`, big.NewInt(255), false},
		{"uppercase hex", `"0XFF"`, big.NewInt(255), false},
		{"bare number", `42`, nil, true},
		{"garbage", `"12z"`, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var a Amount
			err := json.Unmarshal([]byte(tc.in), &a)
			if tc.err {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if a.Int().Cmp(tc.want) != 0 {
				t.Errorf("amount = %s, want %s", a.Int(), tc.want)
			}
		})
	}
}

func TestFixtureBuild(t *testing.T) {
	raw := `{
		"tokens": ["` + tokenA.Hex() + `", "` + tokenB.Hex() + `"],
		"balances": [
			{"token": "` + tokenA.Hex() + `", "owner": "` + owner.Hex() + `", "amount": "1000"}
		],
		"allowances": [
			{"token": "` + tokenA.Hex() + `", "owner": "` + owner.Hex() + `", "spender": "` + broker.Hex() + `", "amount": "0x64"}
		],
		"brokers": [
			{"registry": "order", "principal": "` + owner.Hex() + `", "broker": "` + broker.Hex() + `"}
		],
		"onchainOrders": ["0x0101010101010101010101010101010101010101010101010101010101010101"],
		"ownerCutoffs": [{"owner": "` + owner.Hex() + `", "cutoff": 500}],
		"filledAmounts": [
			{"hash": "0x0202020202020202020202020202020202020202020202020202020202020202", "amount": "7"}
		]
	}`

	var f Fixture
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	l, err := f.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ctx := context.Background()

	if ok, _ := l.IsTokenRegistered(ctx, tokenB); !ok {
		t.Error("tokenB not registered")
	}
	if b, _ := l.GetBalance(ctx, tokenA, owner); b.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("balance = %s, want 1000", b)
	}
	if a, _ := l.GetAllowance(ctx, tokenA, owner, broker); a.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("allowance = %s, want 100 (0x64)", a)
	}
	if ok, _, _ := l.GetBrokerRegistration(ctx, domain.OrderBrokerRegistry, owner, broker); !ok {
		t.Error("broker not registered")
	}
	if ok, _ := l.IsOrderSubmittedOnchain(ctx, common.HexToHash("0x0101010101010101010101010101010101010101010101010101010101010101")); !ok {
		t.Error("onchain order not recorded")
	}
	if f, _ := l.GetFilledAmountS(ctx, common.HexToHash("0x0202020202020202020202020202020202020202020202020202020202020202")); f.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("filled = %s, want 7", f)
	}
}

func TestFixtureBuildRejectsUnknownRegistry(t *testing.T) {
	var f Fixture
	if err := json.Unmarshal([]byte(`{"brokers": [{"registry": "bogus"}]}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := f.Build(); err == nil {
		t.Error("expected error for unknown broker registry")
	}
}

func TestTaxTableRates(t *testing.T) {
	table := NewTaxTable(lrc, weth, 1000, DefaultTaxRates())
	amount := big.NewInt(1000)

	cases := []struct {
		name     string
		token    common.Address
		p2p      bool
		consumer bool
		want     int64
	}{
		{"matching consumer fee token", lrc, false, true, 10},
		{"matching consumer weth", weth, false, true, 50},
		{"matching consumer other", tokenA, false, true, 100},
		{"matching income other", tokenA, false, false, 200},
		{"p2p consumer fee token", lrc, true, true, 5},
		{"p2p consumer other", tokenA, true, true, 50},
		{"p2p income weth", weth, true, false, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := table.CalculateTax(tc.token, tc.p2p, tc.consumer, amount)
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Errorf("tax = %s, want %d", got, tc.want)
			}
		})
	}
}

func TestTaxTableFloorsAndZero(t *testing.T) {
	table := NewTaxTable(lrc, weth, 1000, DefaultTaxRates())

	// 99 * 100 / 1000 = 9.9 floors to 9.
	if got := table.CalculateTax(tokenA, false, true, big.NewInt(99)); got.Cmp(big.NewInt(9)) != 0 {
		t.Errorf("tax = %s, want 9", got)
	}
	if got := table.CalculateTax(tokenA, false, true, new(big.Int)); got.Sign() != 0 {
		t.Errorf("tax on zero = %s, want 0", got)
	}
	if got := table.CalculateTax(tokenA, false, true, nil); got.Sign() != 0 {
		t.Errorf("tax on nil = %s, want 0", got)
	}
}

// fakeCache is an in-memory RegistryCache for exercising the read-through
// path. TTLs are ignored.
type fakeCache struct {
	tokens  map[string]bool
	brokers map[string]string
	fail    bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{tokens: make(map[string]bool), brokers: make(map[string]string)}
}

func (c *fakeCache) GetTokenRegistered(_ context.Context, token string) (bool, bool, error) {
	if c.fail {
		return false, false, errors.New("cache down")
	}
	v, ok := c.tokens[token]
	return v, ok, nil
}

func (c *fakeCache) SetTokenRegistered(_ context.Context, token string, registered bool, _ time.Duration) error {
	if c.fail {
		return errors.New("cache down")
	}
	c.tokens[token] = registered
	return nil
}

func (c *fakeCache) GetBrokerRegistration(_ context.Context, key string) (string, bool, error) {
	if c.fail {
		return "", false, errors.New("cache down")
	}
	v, ok := c.brokers[key]
	return v, ok, nil
}

func (c *fakeCache) SetBrokerRegistration(_ context.Context, key, interceptor string, _ time.Duration) error {
	if c.fail {
		return errors.New("cache down")
	}
	c.brokers[key] = interceptor
	return nil
}

func TestCachedReaderTokenLookup(t *testing.T) {
	backing := NewMemoryLedger()
	backing.RegisterToken(tokenA)
	cache := newFakeCache()
	r := NewCachedReader(backing, cache, time.Minute)
	ctx := context.Background()

	ok, err := r.IsTokenRegistered(ctx, tokenA)
	if err != nil || !ok {
		t.Fatalf("first lookup = %v, %v; want true, nil", ok, err)
	}

	// The second lookup must come from the cache, surviving backend changes.
	mutated := NewMemoryLedger()
	r.StateReader = mutated
	ok, err = r.IsTokenRegistered(ctx, tokenA)
	if err != nil || !ok {
		t.Errorf("cached lookup = %v, %v; want true, nil", ok, err)
	}

	// Negative results are cached too.
	if ok, _ := r.IsTokenRegistered(ctx, tokenB); ok {
		t.Error("unregistered token reported registered")
	}
	r.StateReader = backing
	backing.RegisterToken(tokenB)
	if ok, _ := r.IsTokenRegistered(ctx, tokenB); ok {
		t.Error("negative cache entry not honored")
	}
}

func TestCachedReaderBrokerLookup(t *testing.T) {
	interceptor := common.HexToAddress("0x3000000000000000000000000000000000000009")
	backing := NewMemoryLedger()
	backing.RegisterBroker(domain.OrderBrokerRegistry, owner, broker, interceptor)
	cache := newFakeCache()
	r := NewCachedReader(backing, cache, time.Minute)
	ctx := context.Background()

	ok, got, err := r.GetBrokerRegistration(ctx, domain.OrderBrokerRegistry, owner, broker)
	if err != nil || !ok || got != interceptor {
		t.Fatalf("lookup = %v, %s, %v", ok, got.Hex(), err)
	}

	// Served from cache afterwards.
	r.StateReader = NewMemoryLedger()
	ok, got, err = r.GetBrokerRegistration(ctx, domain.OrderBrokerRegistry, owner, broker)
	if err != nil || !ok || got != interceptor {
		t.Errorf("cached lookup = %v, %s, %v", ok, got.Hex(), err)
	}

	// An unregistered pair round-trips through the negative marker.
	ok, _, err = r.GetBrokerRegistration(ctx, domain.MinerBrokerRegistry, owner, broker)
	if err != nil || ok {
		t.Errorf("unregistered lookup = %v, %v; want false, nil", ok, err)
	}
	if cache.brokers[`1:`+owner.Hex()+`:`+broker.Hex()] != unregisteredMark {
		t.Error("negative result not cached with the unregistered marker")
	}
}

func TestCachedReaderFallsThroughOnCacheFailure(t *testing.T) {
	backing := NewMemoryLedger()
	backing.RegisterToken(tokenA)
	cache := newFakeCache()
	cache.fail = true
	r := NewCachedReader(backing, cache, time.Minute)

	ok, err := r.IsTokenRegistered(context.Background(), tokenA)
	if err != nil || !ok {
		t.Errorf("lookup with failing cache = %v, %v; want true, nil", ok, err)
	}
}
