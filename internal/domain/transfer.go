package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferItem is one ledger leg of a settlement.
type TransferItem struct {
	Token  common.Address `json:"token"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

// BalanceSheet maps token -> holder -> amount. Used for the before/after
// snapshots and the accrued fee balances in a report.
type BalanceSheet map[common.Address]map[common.Address]*big.Int

// Add accumulates delta into the (token, holder) cell.
func (b BalanceSheet) Add(token, holder common.Address, delta *big.Int) {
	if delta == nil || delta.Sign() == 0 {
		return
	}
	holders, ok := b[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		b[token] = holders
	}
	cell, ok := holders[holder]
	if !ok {
		cell = new(big.Int)
		holders[holder] = cell
	}
	cell.Add(cell, delta)
}

// Get returns the cell value, zero if absent.
func (b BalanceSheet) Get(token, holder common.Address) *big.Int {
	if holders, ok := b[token]; ok {
		if cell, ok := holders[holder]; ok {
			return cell
		}
	}
	return new(big.Int)
}

// Has reports whether the (token, holder) cell exists.
func (b BalanceSheet) Has(token, holder common.Address) bool {
	holders, ok := b[token]
	if !ok {
		return false
	}
	_, ok = holders[holder]
	return ok
}
