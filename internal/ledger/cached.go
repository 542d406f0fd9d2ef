package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// unregisteredMark encodes a negative broker-registration result in the
// cache; any other value is the interceptor address of a registered broker.
const unregisteredMark = "-"

// CachedReader decorates a StateReader with a registry cache. Only the two
// registry lookups are cached; balances, allowances, fills and cutoffs are
// always read fresh because they change with every settled batch. Cache
// failures fall through to the backing reader.
type CachedReader struct {
	domain.StateReader

	cache domain.RegistryCache
	ttl   time.Duration
}

// NewCachedReader wraps state with cache. Entries live for ttl.
func NewCachedReader(state domain.StateReader, cache domain.RegistryCache, ttl time.Duration) *CachedReader {
	return &CachedReader{StateReader: state, cache: cache, ttl: ttl}
}

func (r *CachedReader) IsTokenRegistered(ctx context.Context, token common.Address) (bool, error) {
	if registered, hit, err := r.cache.GetTokenRegistered(ctx, token.Hex()); err == nil && hit {
		return registered, nil
	}
	registered, err := r.StateReader.IsTokenRegistered(ctx, token)
	if err != nil {
		return false, err
	}
	_ = r.cache.SetTokenRegistered(ctx, token.Hex(), registered, r.ttl)
	return registered, nil
}

func (r *CachedReader) GetBrokerRegistration(ctx context.Context, kind domain.RegistryKind, principal, broker common.Address) (bool, common.Address, error) {
	key := fmt.Sprintf("%d:%s:%s", kind, principal.Hex(), broker.Hex())
	if v, hit, err := r.cache.GetBrokerRegistration(ctx, key); err == nil && hit {
		if v == unregisteredMark {
			return false, common.Address{}, nil
		}
		return true, common.HexToAddress(v), nil
	}
	registered, interceptor, err := r.StateReader.GetBrokerRegistration(ctx, kind, principal, broker)
	if err != nil {
		return false, common.Address{}, err
	}
	v := unregisteredMark
	if registered {
		v = interceptor.Hex()
	}
	_ = r.cache.SetBrokerRegistration(ctx, key, v, r.ttl)
	return registered, interceptor, nil
}

// compile-time interface checks for the state backends.
var (
	_ domain.StateReader = (*MemoryLedger)(nil)
	_ domain.StateReader = (*CachedReader)(nil)
	_ domain.TaxOracle   = (*TaxTable)(nil)
)
