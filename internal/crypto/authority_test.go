package crypto

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	ks := NewKeystore()
	addr, err := ks.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	a := NewAuthority(ks)

	digest := common.BytesToHash(ethcrypto.Keccak256([]byte("ring digest")))
	blob, err := a.Sign(domain.SignSchemeEthereum, digest, addr)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(blob) != 2+65 {
		t.Fatalf("blob length = %d, want 67", len(blob))
	}
	if blob[0] != byte(domain.SignSchemeEthereum) {
		t.Errorf("scheme byte = %d, want %d", blob[0], domain.SignSchemeEthereum)
	}
	if !a.Verify(addr, digest, blob) {
		t.Error("valid signature did not verify")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	ks := NewKeystore()
	addr, err := ks.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	a := NewAuthority(ks)
	digest := common.BytesToHash(ethcrypto.Keccak256([]byte("payload")))
	blob, err := a.Sign(domain.SignSchemeEthereum, digest, addr)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Flip one payload bit.
	flipped := append([]byte(nil), blob...)
	flipped[10] ^= 0x01
	if VerifySignature(addr, digest, flipped) {
		t.Error("tampered signature verified")
	}

	// Different digest.
	other := common.BytesToHash(ethcrypto.Keccak256([]byte("other")))
	if VerifySignature(addr, other, blob) {
		t.Error("signature verified for the wrong digest")
	}

	// Different signer.
	stranger, err := ks.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if VerifySignature(stranger, digest, blob) {
		t.Error("signature verified for the wrong signer")
	}
}

func TestVerifyRejectsMalformedBlobs(t *testing.T) {
	digest := common.BytesToHash(ethcrypto.Keccak256([]byte("x")))
	signer := common.HexToAddress("0x1111111111111111111111111111111111111111")

	cases := []struct {
		name string
		blob []byte
	}{
		{"nil", nil},
		{"too short", []byte{0}},
		{"length mismatch", []byte{0, 65, 1, 2, 3}},
		{"unknown scheme", append([]byte{99, 3}, 1, 2, 3)},
		{"none scheme", append([]byte{byte(domain.SignSchemeNone), 3}, 1, 2, 3)},
		{"bad recovery byte", append([]byte{0, 65}, bytes.Repeat([]byte{0xff}, 65)...)},
	}
	for _, tc := range cases {
		if VerifySignature(signer, digest, tc.blob) {
			t.Errorf("%s: malformed blob verified", tc.name)
		}
	}
}

func TestVerifyZeroSignerFails(t *testing.T) {
	ks := NewKeystore()
	addr, err := ks.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := common.BytesToHash(ethcrypto.Keccak256([]byte("x")))
	blob, err := NewAuthority(ks).Sign(domain.SignSchemeEthereum, digest, addr)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if VerifySignature(common.Address{}, digest, blob) {
		t.Error("signature verified for the zero address")
	}
}

func TestSignEIP712NotSupported(t *testing.T) {
	ks := NewKeystore()
	addr, err := ks.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_, err = NewAuthority(ks).Sign(domain.SignSchemeEIP712, common.Hash{}, addr)
	if err == nil {
		t.Fatal("expected error for EIP-712 signing")
	}
	if !errors.Is(err, domain.ErrSchemeNotSupported) {
		t.Errorf("error = %v, want ErrSchemeNotSupported", err)
	}
}

func TestSignNoneSchemeYieldsNilBlob(t *testing.T) {
	blob, err := NewAuthority(nil).Sign(domain.SignSchemeNone, common.Hash{}, common.Address{})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if blob != nil {
		t.Errorf("blob = %x, want nil", blob)
	}
}

func TestSignUnknownKeyFails(t *testing.T) {
	a := NewAuthority(NewKeystore())
	_, err := a.Sign(domain.SignSchemeEthereum, common.Hash{}, common.HexToAddress("0x22"))
	if err == nil {
		t.Fatal("expected error signing with a key the keystore does not hold")
	}
	if !errors.Is(err, domain.ErrSigningFailed) {
		t.Errorf("error = %v, want ErrSigningFailed", err)
	}
}

func TestKeystoreAddHexKey(t *testing.T) {
	ks := NewKeystore()
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := common.Bytes2Hex(ethcrypto.FromECDSA(pk))
	addr, err := ks.AddHexKey("0x" + hexKey)
	if err != nil {
		t.Fatalf("add hex key: %v", err)
	}
	if want := ethcrypto.PubkeyToAddress(pk.PublicKey); addr != want {
		t.Errorf("address = %s, want %s", addr.Hex(), want.Hex())
	}
	if _, ok := ks.Key(addr); !ok {
		t.Error("keystore does not hold the imported key")
	}

	if _, err := ks.AddHexKey("not-hex"); err == nil {
		t.Error("expected error for malformed key hex")
	}
}

func TestEncryptDecryptKeyRoundTrip(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := common.Bytes2Hex(ethcrypto.FromECDSA(pk))

	blob, err := EncryptKey(hexKey, "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != hexKey {
		t.Errorf("decrypted key = %s, want %s", got, hexKey)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
	if _, err := EncryptKey(hexKey, ""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestKeystoreLoadEncrypted(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := common.Bytes2Hex(ethcrypto.FromECDSA(pk))
	blob, err := EncryptKey(hexKey, "pass")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	ks := NewKeystore()
	addr, err := ks.LoadEncrypted(path, "pass")
	if err != nil {
		t.Fatalf("load encrypted: %v", err)
	}
	if want := ethcrypto.PubkeyToAddress(pk.PublicKey); addr != want {
		t.Errorf("address = %s, want %s", addr.Hex(), want.Hex())
	}
}

func TestPackerMatchesKnownLayout(t *testing.T) {
	var p Packer
	p.AddUint16(0x0102).AddBool(true).AddBool(false)
	want := ethcrypto.Keccak256([]byte{0x01, 0x02, 1, 0})
	if got := p.Keccak(); !bytes.Equal(got.Bytes(), want) {
		t.Errorf("digest = %x, want %x", got, want)
	}
}
