package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TaxRates holds the protocol tax schedule in units of the fee percentage
// base. Tokens fall into three classes: the fee token itself, wrapped ether,
// and everything else; each class has separate rates for the standard and
// peer-to-peer fee models and for the paying (consumer) versus receiving
// (income) side.
type TaxRates struct {
	MatchingConsumerFeeToken uint16 `toml:"matching_consumer_fee_token"`
	MatchingConsumerWETH     uint16 `toml:"matching_consumer_weth"`
	MatchingConsumerOther    uint16 `toml:"matching_consumer_other"`
	MatchingIncomeFeeToken   uint16 `toml:"matching_income_fee_token"`
	MatchingIncomeWETH       uint16 `toml:"matching_income_weth"`
	MatchingIncomeOther      uint16 `toml:"matching_income_other"`
	P2PConsumerFeeToken      uint16 `toml:"p2p_consumer_fee_token"`
	P2PConsumerWETH          uint16 `toml:"p2p_consumer_weth"`
	P2PConsumerOther         uint16 `toml:"p2p_consumer_other"`
	P2PIncomeFeeToken        uint16 `toml:"p2p_income_fee_token"`
	P2PIncomeWETH            uint16 `toml:"p2p_income_weth"`
	P2PIncomeOther           uint16 `toml:"p2p_income_other"`
}

// DefaultTaxRates returns the standard schedule: 1% on fee-token matching
// fees, 5% on wrapped ether, 10% on other tokens, income side doubled, the
// peer-to-peer side halved.
func DefaultTaxRates() TaxRates {
	return TaxRates{
		MatchingConsumerFeeToken: 10,
		MatchingConsumerWETH:     50,
		MatchingConsumerOther:    100,
		MatchingIncomeFeeToken:   10,
		MatchingIncomeWETH:       100,
		MatchingIncomeOther:      200,
		P2PConsumerFeeToken:      5,
		P2PConsumerWETH:          25,
		P2PConsumerOther:         50,
		P2PIncomeFeeToken:        5,
		P2PIncomeWETH:            50,
		P2PIncomeOther:           100,
	}
}

// TaxTable implements domain.TaxOracle as a pure rate lookup.
type TaxTable struct {
	feeToken common.Address
	weth     common.Address
	base     uint16
	rates    TaxRates
}

// NewTaxTable builds the oracle for one run's token classes.
func NewTaxTable(feeToken, weth common.Address, base uint16, rates TaxRates) *TaxTable {
	return &TaxTable{feeToken: feeToken, weth: weth, base: base, rates: rates}
}

// CalculateTax returns floor(amount * rate / base) for the token's class.
func (t *TaxTable) CalculateTax(token common.Address, p2p, consumer bool, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return new(big.Int)
	}
	rate := t.rate(token, p2p, consumer)
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(rate)))
	return out.Div(out, new(big.Int).SetUint64(uint64(t.base)))
}

func (t *TaxTable) rate(token common.Address, p2p, consumer bool) uint16 {
	switch {
	case p2p && consumer:
		return t.classRate(token, t.rates.P2PConsumerFeeToken, t.rates.P2PConsumerWETH, t.rates.P2PConsumerOther)
	case p2p:
		return t.classRate(token, t.rates.P2PIncomeFeeToken, t.rates.P2PIncomeWETH, t.rates.P2PIncomeOther)
	case consumer:
		return t.classRate(token, t.rates.MatchingConsumerFeeToken, t.rates.MatchingConsumerWETH, t.rates.MatchingConsumerOther)
	default:
		return t.classRate(token, t.rates.MatchingIncomeFeeToken, t.rates.MatchingIncomeWETH, t.rates.MatchingIncomeOther)
	}
}

func (t *TaxTable) classRate(token common.Address, feeToken, weth, other uint16) uint16 {
	switch token {
	case t.feeToken:
		return feeToken
	case t.weth:
		return weth
	default:
		return other
	}
}
