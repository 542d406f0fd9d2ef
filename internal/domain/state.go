package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RegistryKind selects one of the two broker registries. They share a contract
// shape but are logically distinct.
type RegistryKind int

const (
	OrderBrokerRegistry RegistryKind = iota
	MinerBrokerRegistry
)

// CutoffEntry is one row of the batched cutoff/cancellation query. The pair
// fingerprint is tokenS XOR tokenB, used for trading-pair-scoped cutoffs.
type CutoffEntry struct {
	Owner           common.Address
	OrderHash       common.Hash
	ValidSince      uint64
	PairFingerprint common.Address
}

// PairFingerprint XORs the two token addresses into the compact pair key used
// by cutoff scoping.
func PairFingerprint(tokenS, tokenB common.Address) common.Address {
	var fp common.Address
	for i := range fp {
		fp[i] = tokenS[i] ^ tokenB[i]
	}
	return fp
}

// StateReader exposes exactly the external ledger queries the simulator
// consumes. All reads are pure for the duration of a run and are memoized by
// the caller; implementations never see the same key twice per run. A failed
// query is fatal to the run except where the method's own contract says
// otherwise.
type StateReader interface {
	// GetBalance returns owner's balance of token.
	GetBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// GetAllowance returns the amount of token that spender may move on
	// behalf of owner.
	GetAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)

	// GetBrokerRegistration reports whether broker is registered for
	// principal in the given registry, and the spend-interceptor override
	// if any (zero address means none).
	GetBrokerRegistration(ctx context.Context, kind RegistryKind, principal, broker common.Address) (bool, common.Address, error)

	// GetBrokerAllowance asks a broker interceptor how much of token the
	// broker may still spend for owner. Callers treat any failure as zero,
	// not as a fatal error.
	GetBrokerAllowance(ctx context.Context, interceptor, owner, broker, token common.Address) (*big.Int, error)

	// IsOrderHashRegistered reports whether the broker pre-registered the
	// order hash on-chain in place of a signature.
	IsOrderHashRegistered(ctx context.Context, broker common.Address, orderHash common.Hash) (bool, error)

	// IsOrderSubmittedOnchain reports whether the order was submitted to the
	// on-chain order book.
	IsOrderSubmittedOnchain(ctx context.Context, orderHash common.Hash) (bool, error)

	// BatchCheckCutoffsAndCancelled answers one bit per entry: bit i set
	// means entry i is still live (not cancelled, not under a cutoff).
	BatchCheckCutoffsAndCancelled(ctx context.Context, entries []CutoffEntry) (*big.Int, error)

	// IsTokenRegistered reports whether token is listed in the token
	// registry.
	IsTokenRegistered(ctx context.Context, token common.Address) (bool, error)

	// GetFilledAmountS returns the cumulative amount of tokenS already
	// settled for the order hash in prior batches.
	GetFilledAmountS(ctx context.Context, orderHash common.Hash) (*big.Int, error)
}

// TaxOracle is the pluggable protocol-tax schedule. The engine treats it as a
// pure percentage lookup keyed by token, fee model and side.
type TaxOracle interface {
	// CalculateTax returns the tax due on amount. consumer selects the
	// paying side's rate; the income side applies to fee recipients.
	CalculateTax(token common.Address, p2p, consumer bool, amount *big.Int) *big.Int
}

// RunContext carries the run-wide constants every component reads: the
// reference timestamp, the fee percentage base, and the protocol addresses.
// It is assembled once per simulation call and never mutated.
type RunContext struct {
	BlockTimestamp    uint64
	FeePercentageBase uint16 // base for all fee/tax/waive percentages

	Spender      common.Address // delegate authorized to move funds
	FeeHolder    common.Address // receives protocol tax
	FeeTokenAddr common.Address // default fee token when an order names none
}
