package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashOrder computes the client-side mirror of the on-chain order hash:
// keccak256 over the abi-encoded identity fields. RemainingQty is excluded;
// two orders differing only in salt hash differently.
func HashOrder(order *model.Order) common.Hash {
	// 10 fields * 32 bytes
	data := make([]byte, 32*10)

	copy(data[12:32], order.ContractAddress.Bytes())
	copy(data[32+12:64], order.Maker.Bytes())
	copy(data[64+12:96], order.Taker.Bytes())
	copy(data[96+12:128], order.FeeRecipient.Bytes())
	copy(data[128:160], u256(order.MakerFee))
	copy(data[160:192], u256(order.TakerFee))
	copy(data[192:224], u256(order.Price))
	// Qty is int256; two's complement for negative (sell) quantities.
	copy(data[224:256], u256(order.Qty))
	copy(data[256:288], u256(order.Expiration))
	copy(data[288:320], u256(order.Salt))

	return crypto.Keccak256Hash(data)
}

// u256 encodes v as a 32-byte big-endian word without mutating it.
func u256(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return math.U256Bytes(new(big.Int).Set(v))
}

// Wallet holds the local trading key and produces (v, r, s) signatures over
// order hashes.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewWallet(privateKeyHex string) (*Wallet, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}

	publicKey, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}

	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(*publicKey),
	}, nil
}

func (w *Wallet) Address() common.Address {
	return w.address
}

// SignHash signs a 32-byte digest and returns the recovery triple with V
// normalized to 27/28, matching what on-chain ecrecover expects.
func (w *Wallet) SignHash(hash common.Hash) (model.Signature, error) {
	raw, err := crypto.Sign(hash.Bytes(), w.key)
	if err != nil {
		return model.Signature{}, err
	}

	var sig model.Signature
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]
	if sig.V < 27 {
		sig.V += 27
	}
	return sig, nil
}

// Key exposes the raw private key for transaction signing.
func (w *Wallet) Key() *ecdsa.PrivateKey {
	return w.key
}

// VerifySignature recovers the signer of hash from sig and compares it to
// the expected address. Used as the local mirror of the on-chain check.
func VerifySignature(expected common.Address, hash common.Hash, sig model.Signature) bool {
	raw := make([]byte, 65)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	v := sig.V
	if v >= 27 {
		v -= 27
	}
	raw[64] = v

	pub, err := crypto.SigToPub(hash.Bytes(), raw)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == expected
}

// SignatureFromHex parses a 65-byte r||s||v hex string from the HTTP surface.
func SignatureFromHex(raw string) (model.Signature, error) {
	b := common.FromHex(raw)
	if len(b) != 65 {
		return model.Signature{}, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	var sig model.Signature
	copy(sig.R[:], b[0:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	if sig.V < 27 {
		sig.V += 27
	}
	return sig, nil
}

// Hex renders sig as 0x-prefixed r||s||v.
func Hex(sig model.Signature) string {
	raw := make([]byte, 65)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = sig.V
	return "0x" + common.Bytes2Hex(raw)
}
