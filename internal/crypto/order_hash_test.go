package crypto

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

func samplePayload() OrderPayload {
	return OrderPayload{
		Maker:      "0x1111111111111111111111111111111111111111",
		SellToken:  "0x2222222222222222222222222222222222222222",
		BuyToken:   "0x3333333333333333333333333333333333333333",
		SellAmount: big.NewInt(50),
		BuyAmount:  big.NewInt(100),
		Expires:    big.NewInt(1_900_000_000),
		Nonce:      big.NewInt(7),
	}
}

func word(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

func TestOrderStructHash_MatchesManualEncoding(t *testing.T) {
	p := samplePayload()

	data := concatBytes(
		word(common.HexToAddress(p.Maker).Bytes()),
		word(common.HexToAddress(p.SellToken).Bytes()),
		word(common.HexToAddress(p.BuyToken).Bytes()),
		word(p.SellAmount.Bytes()),
		word(p.BuyAmount.Bytes()),
		word(p.Expires.Bytes()),
		word(p.Nonce.Bytes()),
	)
	want := ethcrypto.Keccak256(concatBytes(
		ethcrypto.Keccak256([]byte(OrderTypeString)),
		ethcrypto.Keccak256(data),
	))

	got, err := OrderStructHash(p)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want), hex.EncodeToString(got.Bytes()))
}

func TestOrderStructHash_Deterministic(t *testing.T) {
	a, err := OrderStructHash(samplePayload())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		b, err := OrderStructHash(samplePayload())
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestOrderStructHash_FieldSensitivity(t *testing.T) {
	base, err := OrderStructHash(samplePayload())
	require.NoError(t, err)

	mutations := map[string]func(*OrderPayload){
		"maker":      func(p *OrderPayload) { p.Maker = "0x4444444444444444444444444444444444444444" },
		"sellToken":  func(p *OrderPayload) { p.SellToken = "0x4444444444444444444444444444444444444444" },
		"buyToken":   func(p *OrderPayload) { p.BuyToken = "0x4444444444444444444444444444444444444444" },
		"sellAmount": func(p *OrderPayload) { p.SellAmount = big.NewInt(51) },
		"buyAmount":  func(p *OrderPayload) { p.BuyAmount = big.NewInt(101) },
		"expires":    func(p *OrderPayload) { p.Expires = big.NewInt(1) },
		"nonce":      func(p *OrderPayload) { p.Nonce = big.NewInt(8) },
		"swapTokens": func(p *OrderPayload) { p.SellToken, p.BuyToken = p.BuyToken, p.SellToken },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := samplePayload()
			mutate(&p)
			h, err := OrderStructHash(p)
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}
}

func TestOrderStructHash_AddressCaseInsensitive(t *testing.T) {
	p := samplePayload()
	p.SellToken = "0xABCDEFabcdefABCDEFabcdefABCDEFabcdefABCD"
	lower := samplePayload()
	lower.SellToken = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"

	a, err := OrderStructHash(p)
	require.NoError(t, err)
	b, err := OrderStructHash(lower)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestOrderStructHash_EncodingErrors(t *testing.T) {
	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)

	cases := map[string]func(*OrderPayload){
		"short address":    func(p *OrderPayload) { p.Maker = "0x1234" },
		"non-hex address":  func(p *OrderPayload) { p.BuyToken = "0xZZ22222222222222222222222222222222222222" },
		"empty address":    func(p *OrderPayload) { p.SellToken = "" },
		"negative amount":  func(p *OrderPayload) { p.SellAmount = big.NewInt(-1) },
		"missing amount":   func(p *OrderPayload) { p.BuyAmount = nil },
		"negative nonce":   func(p *OrderPayload) { p.Nonce = big.NewInt(-5) },
		"overflow expires": func(p *OrderPayload) { p.Expires = tooWide },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := samplePayload()
			mutate(&p)
			_, err := OrderStructHash(p)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrEncoding)
		})
	}
}

func TestPayloadFromOrder_SellIsGive(t *testing.T) {
	o := domain.Order{
		Maker:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TokenGet:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		TokenGive:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		AmountGet:  big.NewInt(100),
		AmountGive: big.NewInt(50),
		Expires:    1_900_000_000,
		Nonce:      7,
	}

	fromOrder, err := OrderHash(o)
	require.NoError(t, err)
	direct, err := OrderStructHash(samplePayload())
	require.NoError(t, err)
	assert.Equal(t, direct, fromOrder)
}

func TestSignOrder_RecoversMaker(t *testing.T) {
	maker, err := GenerateSigner(1)
	require.NoError(t, err)

	o := domain.Order{
		Maker:      maker.Address(),
		TokenGet:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		TokenGive:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		AmountGet:  big.NewInt(100),
		AmountGive: big.NewInt(50),
		Expires:    99,
		Nonce:      1,
	}
	sig, err := maker.SignOrder(PayloadFromOrder(o))
	require.NoError(t, err)
	assert.Contains(t, []uint8{27, 28}, sig.V)

	o.Signature = sig
	require.NoError(t, VerifyOrderSignature(o))

	// Raw 0/1 recovery ids are accepted too.
	o.Signature.V -= 27
	require.NoError(t, VerifyOrderSignature(o))
}

func TestVerifyOrderSignature_Rejects(t *testing.T) {
	maker, err := GenerateSigner(1)
	require.NoError(t, err)
	other, err := GenerateSigner(1)
	require.NoError(t, err)

	o := domain.Order{
		Maker:      maker.Address(),
		TokenGet:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		TokenGive:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		AmountGet:  big.NewInt(100),
		AmountGive: big.NewInt(50),
		Expires:    99,
		Nonce:      1,
	}

	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, VerifyOrderSignature(o), domain.ErrInvalidSignature)
	})

	t.Run("wrong signer", func(t *testing.T) {
		sig, err := other.SignOrder(PayloadFromOrder(o))
		require.NoError(t, err)
		o := o
		o.Signature = sig
		assert.ErrorIs(t, VerifyOrderSignature(o), domain.ErrInvalidSignature)
	})

	t.Run("tampered amount", func(t *testing.T) {
		sig, err := maker.SignOrder(PayloadFromOrder(o))
		require.NoError(t, err)
		o := o
		o.Signature = sig
		o.AmountGive = big.NewInt(500)
		assert.ErrorIs(t, VerifyOrderSignature(o), domain.ErrInvalidSignature)
	})

	t.Run("bad recovery id", func(t *testing.T) {
		sig, err := maker.SignOrder(PayloadFromOrder(o))
		require.NoError(t, err)
		o := o
		o.Signature = sig
		o.Signature.V = 35
		assert.ErrorIs(t, VerifyOrderSignature(o), domain.ErrInvalidSignature)
	})
}

func TestParseSignature(t *testing.T) {
	raw := make([]byte, 65)
	raw[0] = 0xaa
	raw[32] = 0xbb
	raw[64] = 28

	sig, err := ParseSignature("0x" + hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, uint8(28), sig.V)
	assert.Equal(t, byte(0xaa), sig.R[0])
	assert.Equal(t, byte(0xbb), sig.S[0])

	_, err = ParseSignature("0x1234")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}
