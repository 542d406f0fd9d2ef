package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// Amount is a big integer that unmarshals from a JSON string, decimal or
// 0x-prefixed hex. Plain JSON numbers lose precision at token scale.
type Amount big.Int

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("ledger: amount must be a string: %w", err)
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return fmt.Errorf("ledger: malformed amount %q", s)
	}
	*a = Amount(*v)
	return nil
}

func (a *Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal((*big.Int)(a).String())
}

// Int returns the amount as a big.Int, zero when nil.
func (a *Amount) Int() *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return (*big.Int)(a)
}

// Fixture is the JSON shape of a ledger snapshot. Everything is optional;
// absent sections leave the ledger empty for that concern.
type Fixture struct {
	Tokens   []common.Address `json:"tokens"`
	Balances []struct {
		Token  common.Address `json:"token"`
		Owner  common.Address `json:"owner"`
		Amount *Amount        `json:"amount"`
	} `json:"balances"`
	Allowances []struct {
		Token   common.Address `json:"token"`
		Owner   common.Address `json:"owner"`
		Spender common.Address `json:"spender"`
		Amount  *Amount        `json:"amount"`
	} `json:"allowances"`
	Brokers []struct {
		Registry    string         `json:"registry"` // "order" or "miner"
		Principal   common.Address `json:"principal"`
		Broker      common.Address `json:"broker"`
		Interceptor common.Address `json:"interceptor"`
	} `json:"brokers"`
	BrokerAllowances []struct {
		Interceptor common.Address `json:"interceptor"`
		Owner       common.Address `json:"owner"`
		Broker      common.Address `json:"broker"`
		Token       common.Address `json:"token"`
		Amount      *Amount        `json:"amount"`
	} `json:"brokerAllowances"`
	RegisteredOrderHashes []struct {
		Broker common.Address `json:"broker"`
		Hash   common.Hash    `json:"hash"`
	} `json:"registeredOrderHashes"`
	OnchainOrders   []common.Hash `json:"onchainOrders"`
	CancelledOrders []common.Hash `json:"cancelledOrders"`
	OwnerCutoffs    []struct {
		Owner  common.Address `json:"owner"`
		Cutoff uint64         `json:"cutoff"`
	} `json:"ownerCutoffs"`
	PairCutoffs []struct {
		Owner  common.Address `json:"owner"`
		TokenA common.Address `json:"tokenA"`
		TokenB common.Address `json:"tokenB"`
		Cutoff uint64         `json:"cutoff"`
	} `json:"pairCutoffs"`
	FilledAmounts []struct {
		Hash   common.Hash `json:"hash"`
		Amount *Amount     `json:"amount"`
	} `json:"filledAmounts"`
}

// Build materializes the fixture into a fresh ledger.
func (f *Fixture) Build() (*MemoryLedger, error) {
	l := NewMemoryLedger()
	for _, t := range f.Tokens {
		l.RegisterToken(t)
	}
	for _, b := range f.Balances {
		l.SetBalance(b.Token, b.Owner, b.Amount.Int())
	}
	for _, a := range f.Allowances {
		l.SetAllowance(a.Token, a.Owner, a.Spender, a.Amount.Int())
	}
	for _, b := range f.Brokers {
		var kind domain.RegistryKind
		switch b.Registry {
		case "order":
			kind = domain.OrderBrokerRegistry
		case "miner":
			kind = domain.MinerBrokerRegistry
		default:
			return nil, fmt.Errorf("ledger: unknown broker registry %q", b.Registry)
		}
		l.RegisterBroker(kind, b.Principal, b.Broker, b.Interceptor)
	}
	for _, a := range f.BrokerAllowances {
		l.SetBrokerAllowance(a.Interceptor, a.Owner, a.Broker, a.Token, a.Amount.Int())
	}
	for _, r := range f.RegisteredOrderHashes {
		l.RegisterOrderHash(r.Broker, r.Hash)
	}
	for _, h := range f.OnchainOrders {
		l.SubmitOrderOnchain(h)
	}
	for _, h := range f.CancelledOrders {
		l.CancelOrderHash(h)
	}
	for _, c := range f.OwnerCutoffs {
		l.SetOwnerCutoff(c.Owner, c.Cutoff)
	}
	for _, c := range f.PairCutoffs {
		l.SetPairCutoff(c.Owner, domain.PairFingerprint(c.TokenA, c.TokenB), c.Cutoff)
	}
	for _, fa := range f.FilledAmounts {
		l.SetFilledAmountS(fa.Hash, fa.Amount.Int())
	}
	return l, nil
}
