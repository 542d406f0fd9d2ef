// Package broker resolves delegated brokers against the external broker
// registries. Order brokers and miner brokers use two logically distinct
// registries with the same contract shape, so one resolver serves both.
package broker

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// Resolver answers whether a delegated broker is registered for a principal
// and which spend interceptor, if any, overrides the broker's spending.
type Resolver struct {
	state domain.StateReader
}

// NewResolver returns a resolver reading from state.
func NewResolver(state domain.StateReader) *Resolver {
	return &Resolver{state: state}
}

// Resolve queries the registry of the given kind. A zero interceptor address
// means no spend override applies.
func (r *Resolver) Resolve(ctx context.Context, kind domain.RegistryKind, principal, broker common.Address) (bool, common.Address, error) {
	registered, interceptor, err := r.state.GetBrokerRegistration(ctx, kind, principal, broker)
	if err != nil {
		return false, common.Address{}, fmt.Errorf("broker: registration of %s for %s: %w",
			broker.Hex(), principal.Hex(), err)
	}
	if !registered {
		return false, common.Address{}, nil
	}
	return true, interceptor, nil
}
