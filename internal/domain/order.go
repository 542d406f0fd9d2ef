package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SignScheme identifies the signing scheme encoded in byte 0 of a signature
// blob. The values are part of the wire format and must not be reordered.
type SignScheme byte

const (
	SignSchemeEthereum SignScheme = 0 // personal-message keccak256 + secp256k1
	SignSchemeEIP712   SignScheme = 1 // typed-data signing, defined but not implemented
	SignSchemeNone     SignScheme = 2 // no signature; authorization is pre-registered on-chain
)

// Order is a signed intent to sell AmountS of TokenS for at least AmountB of
// TokenB. Amounts are fixed-point integers with an implicit 1e18 unit scale.
// Percentage fields use FeePercentageBase (see RunContext) except
// WalletSplitPercentage which is out of 100.
type Order struct {
	Owner   common.Address `json:"owner"`
	TokenS  common.Address `json:"tokenS"`
	TokenB  common.Address `json:"tokenB"`
	AmountS *big.Int       `json:"amountS"`
	AmountB *big.Int       `json:"amountB"`

	// Broker defaults to Owner when zero. TokenRecipient defaults to Owner.
	Broker           common.Address `json:"broker,omitempty"`
	OrderInterceptor common.Address `json:"orderInterceptor,omitempty"`
	TokenRecipient   common.Address `json:"tokenRecipient,omitempty"`

	FeeToken            common.Address `json:"feeToken,omitempty"`
	FeeAmount           *big.Int       `json:"feeAmount,omitempty"`
	FeePercentage       uint16         `json:"feePercentage,omitempty"`
	WaiveFeePercentage  int32          `json:"waiveFeePercentage,omitempty"`
	TokenSFeePercentage uint16         `json:"tokenSFeePercentage,omitempty"`
	TokenBFeePercentage uint16         `json:"tokenBFeePercentage,omitempty"`

	WalletAddr            common.Address `json:"walletAddr,omitempty"`
	WalletSplitPercentage uint16         `json:"walletSplitPercentage,omitempty"`

	ValidSince uint64 `json:"validSince"`
	ValidUntil uint64 `json:"validUntil,omitempty"` // zero means open-ended
	AllOrNone  bool   `json:"allOrNone,omitempty"`

	DualAuthAddr common.Address `json:"dualAuthAddr,omitempty"`
	DualAuthSig  []byte         `json:"dualAuthSig,omitempty"`
	Sig          []byte         `json:"sig,omitempty"`
	SignScheme   SignScheme     `json:"signScheme,omitempty"`

	// Run-scoped state, reset at the start of every simulation.
	Valid             bool           `json:"-"`
	InvalidReason     string         `json:"-"`
	Hash              common.Hash    `json:"-"`
	P2P               bool           `json:"-"`
	BrokerInterceptor common.Address `json:"-"`
	FilledAmountS     *big.Int       `json:"-"` // prior cumulative fill from the ledger
	FillAmountS       *big.Int       `json:"-"`
	FillAmountB       *big.Int       `json:"-"`
	FillAmountFee     *big.Int       `json:"-"`
}

// Reset prepares the order for a fresh simulation run. Valid starts true and
// is only ever cleared afterwards.
func (o *Order) Reset() {
	o.Valid = true
	o.InvalidReason = ""
	o.Hash = common.Hash{}
	o.P2P = false
	o.BrokerInterceptor = common.Address{}
	o.FilledAmountS = new(big.Int)
	o.FillAmountS = new(big.Int)
	o.FillAmountB = new(big.Int)
	o.FillAmountFee = new(big.Int)
}

// Require ANDs ok into the order's validity, keeping the first failure reason.
// It never re-sets Valid to true.
func (o *Order) Require(ok bool, reason string) bool {
	if !ok && o.Valid {
		o.Valid = false
		o.InvalidReason = reason
	}
	return ok
}

// EffectiveBroker returns the broker, defaulting to the owner.
func (o *Order) EffectiveBroker() common.Address {
	if o.Broker == (common.Address{}) {
		return o.Owner
	}
	return o.Broker
}

// Recipient returns the token recipient, defaulting to the owner.
func (o *Order) Recipient() common.Address {
	if o.TokenRecipient == (common.Address{}) {
		return o.Owner
	}
	return o.TokenRecipient
}

// RemainingAmountS is the sell amount still open after prior fills.
func (o *Order) RemainingAmountS() *big.Int {
	if o.FilledAmountS == nil || o.FilledAmountS.Sign() <= 0 {
		return new(big.Int).Set(o.AmountS)
	}
	rem := new(big.Int).Sub(o.AmountS, o.FilledAmountS)
	if rem.Sign() < 0 {
		rem.SetInt64(0)
	}
	return rem
}
