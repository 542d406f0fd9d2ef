// Package mining derives the batch-level mining digest and verifies that the
// submitting miner is authorized for it.
package mining

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/broker"
	"github.com/alanyoungcy/ringsim/internal/crypto"
	"github.com/alanyoungcy/ringsim/internal/domain"
)

// Authority holds the mining parties of one batch and the digest binding
// them to its rings.
type Authority struct {
	FeeRecipient common.Address
	Miner        common.Address
	Sig          []byte

	Hash        common.Hash
	Interceptor common.Address

	brokers *broker.Resolver
}

// New builds the authority for one batch. A zero miner defaults to the fee
// recipient.
func New(state domain.StateReader, feeRecipient, miner common.Address, sig []byte) *Authority {
	return &Authority{
		FeeRecipient: feeRecipient,
		Miner:        miner,
		Sig:          sig,
		brokers:      broker.NewResolver(state),
	}
}

// UpdateHash folds every ring hash with XOR and digests the result together
// with the fee recipient and miner. Because XOR is associative and
// commutative, any permutation of the same rings yields the same mining
// digest.
func (m *Authority) UpdateHash(rings []*domain.Ring) {
	var folded common.Hash
	for _, r := range rings {
		for i := range folded {
			folded[i] ^= r.Hash[i]
		}
	}
	var p crypto.Packer
	p.AddAddress(m.FeeRecipient).
		AddAddress(m.Miner).
		AddBytes32(folded)
	m.Hash = p.Keccak()
}

// ResolveMinerAndInterceptor defaults the miner to the fee recipient, or
// resolves the delegated miner against the miner broker registry. An
// unregistered miner broker is tolerated without recording an interceptor, so
// a batch never fails on registry absence alone.
func (m *Authority) ResolveMinerAndInterceptor(ctx context.Context) error {
	if m.Miner == (common.Address{}) {
		m.Miner = m.FeeRecipient
		return nil
	}
	registered, interceptor, err := m.brokers.Resolve(ctx, domain.MinerBrokerRegistry, m.FeeRecipient, m.Miner)
	if err != nil {
		return err
	}
	if registered {
		m.Interceptor = interceptor
	}
	return nil
}

// CheckMinerSignature verifies the miner's authorization over the mining
// digest. Without a signature the submitting account itself must be the
// miner. Failure here is fatal for the whole batch.
func (m *Authority) CheckMinerSignature(transactionOrigin common.Address) error {
	if len(m.Sig) == 0 {
		if transactionOrigin != m.Miner {
			return fmt.Errorf("mining: origin %s is not the miner %s: %w",
				transactionOrigin.Hex(), m.Miner.Hex(), domain.ErrMinerUnauthorized)
		}
		return nil
	}
	if !crypto.VerifySignature(m.Miner, m.Hash, m.Sig) {
		return fmt.Errorf("mining: signature check failed for %s: %w",
			m.Miner.Hex(), domain.ErrMinerUnauthorized)
	}
	return nil
}
