package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// Signer holds a secp256k1 key. The relayer uses it to sign settlement
// transactions; tests and tooling use it to sign orders as a maker would.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	txSigner   types.Signer
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain ID used for EIP-155 transaction signatures.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return newSigner(pk, chainID), nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner(chainID int64) (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return newSigner(pk, chainID), nil
}

func newSigner(pk *ecdsa.PrivateKey, chainID int64) *Signer {
	id := big.NewInt(chainID)
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    id,
		txSigner:   types.LatestSignerForChainID(id),
	}
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain ID transactions are signed for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignOrder signs the order identity hash the way wallets do with
// personal_sign. The returned V is 27 or 28.
func (s *Signer) SignOrder(p OrderPayload) (domain.Signature, error) {
	hash, err := OrderStructHash(p)
	if err != nil {
		return domain.Signature{}, err
	}
	return s.signDigest(accounts.TextHash(hash.Bytes()))
}

// SignTx signs a transaction for the configured chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.txSigner, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

func (s *Signer) signDigest(digest []byte) (domain.Signature, error) {
	raw, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("crypto/signer: signing: %w", err)
	}

	var sig domain.Signature
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	// go-ethereum returns v in {0,1}; the exchange contract expects {27,28}.
	sig.V = raw[64] + 27
	return sig, nil
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
