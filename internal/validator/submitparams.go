package validator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// OrderBookSubmitParams encodes an order as the bytes32 array the on-chain
// order book's submit call takes. Addresses are left-padded to 32 bytes,
// amounts and timestamps are uint256 words, allOrNone packs as 0 or 1.
func OrderBookSubmitParams(o *domain.Order) []common.Hash {
	addrWord := func(a common.Address) common.Hash {
		return common.BytesToHash(common.LeftPadBytes(a.Bytes(), 32))
	}
	numWord := func(x *big.Int) common.Hash {
		if x == nil {
			x = new(big.Int)
		}
		return common.BytesToHash(common.LeftPadBytes(x.Bytes(), 32))
	}
	uintWord := func(v uint64) common.Hash {
		return numWord(new(big.Int).SetUint64(v))
	}

	allOrNone := uint64(0)
	if o.AllOrNone {
		allOrNone = 1
	}

	return []common.Hash{
		addrWord(o.Owner),
		addrWord(o.TokenS),
		addrWord(o.TokenB),
		numWord(o.AmountS),
		numWord(o.AmountB),
		uintWord(o.ValidSince),
		addrWord(o.Broker),
		addrWord(o.OrderInterceptor),
		addrWord(o.WalletAddr),
		uintWord(o.ValidUntil),
		addrWord(o.FeeToken),
		numWord(o.FeeAmount),
		uintWord(uint64(o.FeePercentage)),
		uintWord(uint64(o.TokenSFeePercentage)),
		uintWord(uint64(o.TokenBFeePercentage)),
		addrWord(o.Recipient()),
		uintWord(uint64(o.WalletSplitPercentage)),
		uintWord(allOrNone),
	}
}
