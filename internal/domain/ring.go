package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Ring is a cyclic sequence of order references. Membership is by index into
// the batch's flat order slice; the cycle closes because each member's TokenB
// equals the next member's TokenS.
type Ring struct {
	Orders []int `json:"orders"`

	// Run-scoped state.
	Hash          common.Hash `json:"-"` // XOR of the member order hashes
	Valid         bool        `json:"-"`
	InvalidReason string      `json:"-"`
}

// Reset prepares the ring for a fresh run.
func (r *Ring) Reset() {
	r.Hash = common.Hash{}
	r.Valid = true
	r.InvalidReason = ""
}

// Require ANDs ok into the ring's validity, keeping the first failure reason.
func (r *Ring) Require(ok bool, reason string) bool {
	if !ok && r.Valid {
		r.Valid = false
		r.InvalidReason = reason
	}
	return ok
}

// ComputeHash folds the member order hashes with XOR. The combination is
// associative and order-independent, so any permutation of the same members
// yields the same ring hash.
func (r *Ring) ComputeHash(orders []*Order) {
	var h common.Hash
	for _, idx := range r.Orders {
		oh := orders[idx].Hash
		for i := range h {
			h[i] ^= oh[i]
		}
	}
	r.Hash = h
}

// Batch is one candidate submission: a flat order store, rings indexing into
// it, and the mining parties. It is the input of a single simulation run.
type Batch struct {
	Orders []*Order `json:"orders"`
	Rings  []*Ring  `json:"rings"`

	FeeRecipient common.Address `json:"feeRecipient"`
	Miner        common.Address `json:"miner,omitempty"` // defaults to FeeRecipient
	MinerSig     []byte         `json:"minerSig,omitempty"`

	// TransactionOrigin is the account submitting the batch; with no miner
	// signature it must equal the miner.
	TransactionOrigin common.Address `json:"transactionOrigin"`
}
