// Package ledger provides the in-memory external-state backend the simulator
// reads: token balances and allowances, the broker and token registries,
// cutoffs, cancellations and prior fills. A MemoryLedger is populated from a
// fixture or by tests and is safe for concurrent readers.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

type tokenHolderKey struct {
	token  common.Address
	holder common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

type brokerKey struct {
	kind      domain.RegistryKind
	principal common.Address
	broker    common.Address
}

type brokerAllowanceKey struct {
	interceptor common.Address
	owner       common.Address
	broker      common.Address
	token       common.Address
}

type brokerHashKey struct {
	broker common.Address
	hash   common.Hash
}

type pairCutoffKey struct {
	owner common.Address
	pair  common.Address
}

// MemoryLedger implements domain.StateReader over plain maps.
type MemoryLedger struct {
	mu sync.RWMutex

	balances            map[tokenHolderKey]*big.Int
	allowances          map[allowanceKey]*big.Int
	brokers             map[brokerKey]common.Address
	brokerAllowances    map[brokerAllowanceKey]*big.Int
	failingInterceptors map[common.Address]bool
	registeredTokens    map[common.Address]bool
	registeredHashes    map[brokerHashKey]bool
	onchainOrders       map[common.Hash]bool
	cancelledHashes     map[common.Hash]bool
	ownerCutoffs        map[common.Address]uint64
	pairCutoffs         map[pairCutoffKey]uint64
	filled              map[common.Hash]*big.Int
}

// NewMemoryLedger returns an empty ledger. Every token is unregistered and
// every balance zero until set.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:            make(map[tokenHolderKey]*big.Int),
		allowances:          make(map[allowanceKey]*big.Int),
		brokers:             make(map[brokerKey]common.Address),
		brokerAllowances:    make(map[brokerAllowanceKey]*big.Int),
		failingInterceptors: make(map[common.Address]bool),
		registeredTokens:    make(map[common.Address]bool),
		registeredHashes:    make(map[brokerHashKey]bool),
		onchainOrders:       make(map[common.Hash]bool),
		cancelledHashes:     make(map[common.Hash]bool),
		ownerCutoffs:        make(map[common.Address]uint64),
		pairCutoffs:         make(map[pairCutoffKey]uint64),
		filled:              make(map[common.Hash]*big.Int),
	}
}

// SetBalance sets holder's balance of token.
func (l *MemoryLedger) SetBalance(token, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[tokenHolderKey{token, holder}] = new(big.Int).Set(amount)
}

// SetAllowance sets how much of token spender may move for owner.
func (l *MemoryLedger) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
}

// RegisterBroker registers broker for principal in the given registry with an
// optional interceptor (zero means none).
func (l *MemoryLedger) RegisterBroker(kind domain.RegistryKind, principal, broker, interceptor common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.brokers[brokerKey{kind, principal, broker}] = interceptor
}

// SetBrokerAllowance sets what an interceptor reports as the broker's
// remaining spend of token for owner.
func (l *MemoryLedger) SetBrokerAllowance(interceptor, owner, broker, token common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.brokerAllowances[brokerAllowanceKey{interceptor, owner, broker, token}] = new(big.Int).Set(amount)
}

// FailInterceptor makes every allowance query against interceptor error,
// modeling a reverting interceptor contract.
func (l *MemoryLedger) FailInterceptor(interceptor common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failingInterceptors[interceptor] = true
}

// RegisterToken lists token in the token registry.
func (l *MemoryLedger) RegisterToken(token common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registeredTokens[token] = true
}

// RegisterOrderHash records a broker's on-chain pre-registration of an order
// hash.
func (l *MemoryLedger) RegisterOrderHash(broker common.Address, hash common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registeredHashes[brokerHashKey{broker, hash}] = true
}

// SubmitOrderOnchain records an order hash as submitted to the on-chain order
// book.
func (l *MemoryLedger) SubmitOrderOnchain(hash common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onchainOrders[hash] = true
}

// CancelOrderHash marks a single order hash as cancelled.
func (l *MemoryLedger) CancelOrderHash(hash common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelledHashes[hash] = true
}

// SetOwnerCutoff cancels all of owner's orders with ValidSince at or below
// cutoff.
func (l *MemoryLedger) SetOwnerCutoff(owner common.Address, cutoff uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ownerCutoffs[owner] = cutoff
}

// SetPairCutoff cancels owner's orders on one trading pair with ValidSince at
// or below cutoff. The pair key is the XOR fingerprint of the two tokens.
func (l *MemoryLedger) SetPairCutoff(owner, pair common.Address, cutoff uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pairCutoffs[pairCutoffKey{owner, pair}] = cutoff
}

// SetFilledAmountS records a prior cumulative fill for an order hash.
func (l *MemoryLedger) SetFilledAmountS(hash common.Hash, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filled[hash] = new(big.Int).Set(amount)
}

func (l *MemoryLedger) GetBalance(_ context.Context, token, owner common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[tokenHolderKey{token, owner}]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (l *MemoryLedger) GetAllowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[allowanceKey{token, owner, spender}]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (l *MemoryLedger) GetBrokerRegistration(_ context.Context, kind domain.RegistryKind, principal, broker common.Address) (bool, common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	interceptor, ok := l.brokers[brokerKey{kind, principal, broker}]
	return ok, interceptor, nil
}

func (l *MemoryLedger) GetBrokerAllowance(_ context.Context, interceptor, owner, broker, token common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.failingInterceptors[interceptor] {
		return nil, fmt.Errorf("ledger: interceptor %s reverted: %w", interceptor.Hex(), domain.ErrStateQuery)
	}
	if a, ok := l.brokerAllowances[brokerAllowanceKey{interceptor, owner, broker, token}]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (l *MemoryLedger) IsOrderHashRegistered(_ context.Context, broker common.Address, hash common.Hash) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registeredHashes[brokerHashKey{broker, hash}], nil
}

func (l *MemoryLedger) IsOrderSubmittedOnchain(_ context.Context, hash common.Hash) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.onchainOrders[hash], nil
}

// BatchCheckCutoffsAndCancelled answers one bit per entry. A set bit means
// the order is live: not individually cancelled and strictly newer than both
// the owner-wide and the pair-scoped cutoff.
func (l *MemoryLedger) BatchCheckCutoffsAndCancelled(_ context.Context, entries []domain.CutoffEntry) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bits := new(big.Int)
	for i, e := range entries {
		if l.cancelledHashes[e.OrderHash] {
			continue
		}
		if e.ValidSince <= l.ownerCutoffs[e.Owner] {
			continue
		}
		if e.ValidSince <= l.pairCutoffs[pairCutoffKey{e.Owner, e.PairFingerprint}] {
			continue
		}
		bits.SetBit(bits, i, 1)
	}
	return bits, nil
}

func (l *MemoryLedger) IsTokenRegistered(_ context.Context, token common.Address) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registeredTokens[token], nil
}

func (l *MemoryLedger) GetFilledAmountS(_ context.Context, hash common.Hash) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if f, ok := l.filled[hash]; ok {
		return new(big.Int).Set(f), nil
	}
	return new(big.Int), nil
}
