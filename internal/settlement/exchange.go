package settlement

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

//go:embed exchange.abi.json
var exchangeABIJSON []byte

// LoadExchangeABI parses the ABI at path, or the embedded one when path is
// empty. The ABI must expose trade and orderFills.
func LoadExchangeABI(path string) (abi.ABI, error) {
	raw := exchangeABIJSON
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("settlement: read exchange abi: %w", err)
		}
		raw = b
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("settlement: parse exchange abi: %w", err)
	}
	for _, name := range []string{"trade", "orderFills"} {
		if _, ok := parsed.Methods[name]; !ok {
			return abi.ABI{}, fmt.Errorf("settlement: exchange abi lacks %s()", name)
		}
	}
	return parsed, nil
}

// packTrade encodes trade(tokenGet, amountGet, tokenGive, amountGive,
// expires, nonce, user, v, r, s, amount) for the maker order.
func packTrade(exchange abi.ABI, maker domain.Order, amount *big.Int) ([]byte, error) {
	v := maker.Signature.V
	if v < 27 {
		v += 27
	}
	data, err := exchange.Pack("trade",
		maker.TokenGet,
		maker.AmountGet,
		maker.TokenGive,
		maker.AmountGive,
		new(big.Int).SetUint64(maker.Expires),
		new(big.Int).SetUint64(maker.Nonce),
		maker.Maker,
		v,
		maker.Signature.R,
		maker.Signature.S,
		amount,
	)
	if err != nil {
		return nil, fmt.Errorf("settlement: pack trade: %w", err)
	}
	return data, nil
}

func packOrderFills(exchange abi.ABI, user common.Address, orderHash common.Hash) ([]byte, error) {
	data, err := exchange.Pack("orderFills", user, [32]byte(orderHash))
	if err != nil {
		return nil, fmt.Errorf("settlement: pack orderFills: %w", err)
	}
	return data, nil
}
