package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RingMinedEvent records one successfully settled ring. Ring indices are
// sequential over settled rings only, matching the on-chain event stream.
type RingMinedEvent struct {
	RingIndex int         `json:"ringIndex"`
	RingHash  common.Hash `json:"ringHash"`
}

// SettlementReport is the emitted artifact of one simulation run: the exact
// transfers on-chain execution would produce, the resulting cumulative fills,
// and a before/after spendable snapshot for every touched (token, owner).
type SettlementReport struct {
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"timestamp"`

	RingMinedEvents []RingMinedEvent `json:"ringMinedEvents"`
	Transfers       []TransferItem   `json:"transfers"`

	// FilledAmounts maps order hash to the cumulative filled tokenS amount
	// after this run (prior fills included).
	FilledAmounts map[common.Hash]*big.Int `json:"filledAmounts"`

	// FeeBalances accrues every fee, tax and margin credit per recipient.
	FeeBalances BalanceSheet `json:"feeBalances"`

	BalancesBefore BalanceSheet `json:"balancesBefore"`
	BalancesAfter  BalanceSheet `json:"balancesAfter"`
}
