package crypto

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// OrderTypeString is the canonical type signature hashed into every order
// identity. It must match the exchange contract byte for byte.
const OrderTypeString = "Order(address maker,address sellToken,address buyToken,uint256 sellAmount,uint256 buyAmount,uint256 expires,uint256 nonce)"

var (
	orderTypeHash = ethcrypto.Keccak256([]byte(OrderTypeString))

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	orderArgs = mustOrderArgs()
)

func mustOrderArgs() abi.Arguments {
	addr, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	u256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "maker", Type: addr},
		{Name: "sellToken", Type: addr},
		{Name: "buyToken", Type: addr},
		{Name: "sellAmount", Type: u256},
		{Name: "buyAmount", Type: u256},
		{Name: "expires", Type: u256},
		{Name: "nonce", Type: u256},
	}
}

// OrderPayload holds the seven identity fields framed from the maker's
// perspective: the maker sells SellAmount of SellToken and buys BuyAmount of
// BuyToken. Addresses stay strings so malformed client input can be
// reported instead of silently truncated.
type OrderPayload struct {
	Maker      string   `json:"maker"`
	SellToken  string   `json:"sellToken"`
	BuyToken   string   `json:"buyToken"`
	SellAmount *big.Int `json:"sellAmount"`
	BuyAmount  *big.Int `json:"buyAmount"`
	Expires    *big.Int `json:"expires"`
	Nonce      *big.Int `json:"nonce"`
}

// PayloadFromOrder maps store naming onto the identity framing:
// sell = give, buy = get.
func PayloadFromOrder(o domain.Order) OrderPayload {
	return OrderPayload{
		Maker:      o.Maker.Hex(),
		SellToken:  o.TokenGive.Hex(),
		BuyToken:   o.TokenGet.Hex(),
		SellAmount: o.AmountGive,
		BuyAmount:  o.AmountGet,
		Expires:    new(big.Int).SetUint64(o.Expires),
		Nonce:      new(big.Int).SetUint64(o.Nonce),
	}
}

// OrderStructHash returns
//
//	keccak256(typeHash || keccak256(abi.encode(maker, sellToken, buyToken,
//	          sellAmount, buyAmount, expires, nonce)))
func OrderStructHash(p OrderPayload) (common.Hash, error) {
	maker, err := parseAddress("maker", p.Maker)
	if err != nil {
		return common.Hash{}, err
	}
	sellToken, err := parseAddress("sellToken", p.SellToken)
	if err != nil {
		return common.Hash{}, err
	}
	buyToken, err := parseAddress("buyToken", p.BuyToken)
	if err != nil {
		return common.Hash{}, err
	}
	for _, f := range []struct {
		name string
		v    *big.Int
	}{
		{"sellAmount", p.SellAmount},
		{"buyAmount", p.BuyAmount},
		{"expires", p.Expires},
		{"nonce", p.Nonce},
	} {
		if err := checkUint256(f.name, f.v); err != nil {
			return common.Hash{}, err
		}
	}

	encoded, err := orderArgs.Pack(maker, sellToken, buyToken, p.SellAmount, p.BuyAmount, p.Expires, p.Nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto/order: abi encode: %w: %v", domain.ErrEncoding, err)
	}

	return common.BytesToHash(ethcrypto.Keccak256(concatBytes(orderTypeHash, ethcrypto.Keccak256(encoded)))), nil
}

// OrderHash is OrderStructHash over a stored order.
func OrderHash(o domain.Order) (common.Hash, error) {
	return OrderStructHash(PayloadFromOrder(o))
}

// RecoverMaker returns the address that produced sig over the order hash.
// Makers sign with personal_sign, so the digest carries the EIP-191 prefix.
// V may be 0/1 or 27/28.
func RecoverMaker(hash common.Hash, sig domain.Signature) (common.Address, error) {
	v := sig.V
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, fmt.Errorf("crypto/order: %w: recovery id %d", domain.ErrInvalidSignature, sig.V)
	}

	raw := make([]byte, 65)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = v

	pub, err := ethcrypto.SigToPub(accounts.TextHash(hash.Bytes()), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/order: %w: %v", domain.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyOrderSignature checks that o carries a signature by its maker over
// its identity hash.
func VerifyOrderSignature(o domain.Order) error {
	if o.Signature.IsZero() {
		return fmt.Errorf("crypto/order: %w: missing signature", domain.ErrInvalidSignature)
	}
	hash, err := OrderHash(o)
	if err != nil {
		return err
	}
	signer, err := RecoverMaker(hash, o.Signature)
	if err != nil {
		return err
	}
	if signer != o.Maker {
		return fmt.Errorf("crypto/order: %w: signed by %s, maker is %s",
			domain.ErrInvalidSignature, signer.Hex(), o.Maker.Hex())
	}
	return nil
}

// ParseSignature splits a 65-byte r||s||v hex signature.
func ParseSignature(s string) (domain.Signature, error) {
	raw, err := decodeHex(s)
	if err != nil || len(raw) != 65 {
		return domain.Signature{}, fmt.Errorf("crypto/order: %w: signature must be 65 hex bytes", domain.ErrInvalidSignature)
	}
	var sig domain.Signature
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]
	return sig, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("crypto/order: %w: %s %q is not a 20-byte hex address", domain.ErrEncoding, field, s)
	}
	return common.HexToAddress(s), nil
}

func checkUint256(field string, v *big.Int) error {
	switch {
	case v == nil:
		return fmt.Errorf("crypto/order: %w: %s is missing", domain.ErrEncoding, field)
	case v.Sign() < 0:
		return fmt.Errorf("crypto/order: %w: %s is negative", domain.ErrEncoding, field)
	case v.Cmp(maxUint256) > 0:
		return fmt.Errorf("crypto/order: %w: %s exceeds uint256", domain.ErrEncoding, field)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
}
