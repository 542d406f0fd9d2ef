// Package crypto implements the signature authority for ring batches: packed
// keccak256 digests matching on-chain hashing, a self-describing signature
// blob format, and management of the local signing keys.
package crypto

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Packer builds the tightly packed byte string that solidity-style hashing
// operates on: uint256 as 32 big-endian bytes, addresses as 20 bytes, uint16
// as 2 bytes, bool as 1 byte. Field order is significant; it must match the
// on-chain encoding exactly.
type Packer struct {
	buf bytes.Buffer
}

// AddUint256 appends x left-padded to 32 bytes. A nil value packs as zero.
func (p *Packer) AddUint256(x *big.Int) *Packer {
	if x == nil {
		x = new(big.Int)
	}
	p.buf.Write(common.LeftPadBytes(x.Bytes(), 32))
	return p
}

// AddUint64 appends v as a uint256.
func (p *Packer) AddUint64(v uint64) *Packer {
	return p.AddUint256(new(big.Int).SetUint64(v))
}

// AddAddress appends the 20 address bytes.
func (p *Packer) AddAddress(a common.Address) *Packer {
	p.buf.Write(a.Bytes())
	return p
}

// AddUint16 appends v as 2 big-endian bytes.
func (p *Packer) AddUint16(v uint16) *Packer {
	p.buf.Write([]byte{byte(v >> 8), byte(v)})
	return p
}

// AddBool appends 1 for true, 0 for false.
func (p *Packer) AddBool(b bool) *Packer {
	if b {
		p.buf.WriteByte(1)
	} else {
		p.buf.WriteByte(0)
	}
	return p
}

// AddBytes32 appends a 32-byte word verbatim.
func (p *Packer) AddBytes32(h common.Hash) *Packer {
	p.buf.Write(h.Bytes())
	return p
}

// Keccak returns the keccak256 digest of the packed bytes.
func (p *Packer) Keccak() common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(p.buf.Bytes()))
}
