package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// Signature blob layout: byte 0 is the scheme identifier, byte 1 the payload
// length. For the Ethereum scheme the payload is fixed at 65 bytes: one
// recovery byte (27/28) followed by the r and s scalars.
const ethereumPayloadLen = 1 + 32 + 32

var personalMessagePrefix = []byte("\x19Ethereum Signed Message:\n32")

// Authority signs and verifies self-describing signature blobs over 32-byte
// digests. Signing needs the private key of the signer, held in a Keystore;
// verification is keyless and recovers the signer from the blob.
type Authority struct {
	keys *Keystore
}

// NewAuthority returns an Authority signing with keys from ks. A nil keystore
// is fine for verify-only use.
func NewAuthority(ks *Keystore) *Authority {
	return &Authority{keys: ks}
}

// Sign produces a signature blob over digest for the given signer address
// using the requested scheme. SignSchemeNone yields a nil blob: such orders
// authorize through on-chain pre-registration instead. SignSchemeEIP712 is
// part of the wire format but deliberately unimplemented and fails loudly.
func (a *Authority) Sign(scheme domain.SignScheme, digest common.Hash, signer common.Address) ([]byte, error) {
	switch scheme {
	case domain.SignSchemeEthereum:
		return a.signEthereum(digest, signer)
	case domain.SignSchemeEIP712:
		return nil, fmt.Errorf("crypto: EIP-712 signing: %w", domain.ErrSchemeNotSupported)
	case domain.SignSchemeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("crypto: unknown signing scheme %d", scheme)
	}
}

func (a *Authority) signEthereum(digest common.Hash, signer common.Address) ([]byte, error) {
	if a.keys == nil {
		return nil, fmt.Errorf("crypto: no keystore: %w", domain.ErrSigningFailed)
	}
	pk, ok := a.keys.Key(signer)
	if !ok {
		return nil, fmt.Errorf("crypto: no key for %s: %w", signer.Hex(), domain.ErrSigningFailed)
	}

	msgHash := ethcrypto.Keccak256(append(append([]byte{}, personalMessagePrefix...), digest.Bytes()...))
	sig, err := ethcrypto.Sign(msgHash, pk)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w: %v", domain.ErrSigningFailed, err)
	}

	blob := make([]byte, 0, 2+ethereumPayloadLen)
	blob = append(blob, byte(domain.SignSchemeEthereum), ethereumPayloadLen)
	blob = append(blob, sig[64]+27) // recovery byte first, per blob layout
	blob = append(blob, sig[:64]...)
	return blob, nil
}

// Verify reports whether blob is a valid signature by signer over digest.
// It fails closed: malformed blobs, unknown schemes, recovery failures and a
// mismatched recovered address all return false, never an error.
func (a *Authority) Verify(signer common.Address, digest common.Hash, blob []byte) bool {
	return VerifySignature(signer, digest, blob)
}

// VerifySignature is the keyless verification used by every authority check.
func VerifySignature(signer common.Address, digest common.Hash, blob []byte) bool {
	if len(blob) < 2 {
		return false
	}
	scheme := domain.SignScheme(blob[0])
	size := int(blob[1])
	if len(blob) != 2+size {
		return false
	}

	if scheme != domain.SignSchemeEthereum {
		// SignSchemeNone never verifies when actually checked; EIP-712 is
		// unimplemented and therefore also unverifiable.
		return false
	}
	if signer == (common.Address{}) || size != ethereumPayloadLen {
		return false
	}

	v := blob[2]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return false
	}

	sig := make([]byte, 65)
	copy(sig[:64], blob[3:3+64])
	sig[64] = v

	msgHash := ethcrypto.Keccak256(append(append([]byte{}, personalMessagePrefix...), digest.Bytes()...))
	pub, err := ethcrypto.SigToPub(msgHash, sig)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == signer
}
