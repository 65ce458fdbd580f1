package signer

import (
	"math/big"
	"testing"

	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(maker common.Address) *model.Order {
	return &model.Order{
		ContractAddress: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Maker:           maker,
		Taker:           model.TakerAny,
		FeeRecipient:    common.HexToAddress("0x2222222222222222222222222222222222222222"),
		MakerFee:        big.NewInt(0),
		TakerFee:        big.NewInt(0),
		Qty:             big.NewInt(100),
		Price:           big.NewInt(100000),
		Salt:            big.NewInt(123),
		Expiration:      big.NewInt(1800000000),
		RemainingQty:    big.NewInt(100),
	}
}

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hexutil.Encode(crypto.FromECDSA(key))[2:]
	w, err := NewWallet(keyHex)
	require.NoError(t, err)
	return w
}

func TestHashOrderExcludesRemainingQty(t *testing.T) {
	w := newTestWallet(t)
	a := testOrder(w.Address())
	b := testOrder(w.Address())
	b.RemainingQty = big.NewInt(1)

	assert.Equal(t, HashOrder(a), HashOrder(b))
}

func TestHashOrderSaltChangesHash(t *testing.T) {
	w := newTestWallet(t)
	a := testOrder(w.Address())
	b := testOrder(w.Address())
	b.Salt = big.NewInt(124)

	assert.NotEqual(t, HashOrder(a), HashOrder(b))
}

func TestHashOrderNegativeQty(t *testing.T) {
	w := newTestWallet(t)
	buy := testOrder(w.Address())
	sell := testOrder(w.Address())
	sell.Qty = big.NewInt(-100)

	assert.NotEqual(t, HashOrder(buy), HashOrder(sell))
	// Hashing must not mutate the order's quantity.
	assert.Equal(t, int64(-100), sell.Qty.Int64())
}

func TestSignAndVerify(t *testing.T) {
	w := newTestWallet(t)
	order := testOrder(w.Address())
	hash := HashOrder(order)

	sig, err := w.SignHash(hash)
	require.NoError(t, err)
	assert.True(t, sig.V == 27 || sig.V == 28)

	assert.True(t, VerifySignature(w.Address(), hash, sig))

	other := newTestWallet(t)
	assert.False(t, VerifySignature(other.Address(), hash, sig))
}

func TestSignatureHexRoundTrip(t *testing.T) {
	w := newTestWallet(t)
	hash := HashOrder(testOrder(w.Address()))
	sig, err := w.SignHash(hash)
	require.NoError(t, err)

	parsed, err := SignatureFromHex(Hex(sig))
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)
}

func TestSignatureFromHexRejectsShortInput(t *testing.T) {
	_, err := SignatureFromHex("0xdead")
	assert.Error(t, err)
}
