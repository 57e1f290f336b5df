// Package crypto derives order identity hashes, verifies maker signatures,
// signs relayer transactions and manages the relayer's key material.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

const (
	// DefaultKDFIterations is the OWASP-recommended minimum for HMAC-SHA256.
	DefaultKDFIterations = 480_000

	saltLen   = 16
	aesKeyLen = 32
	keyFileV1 = 1
)

// sealedKey is the on-disk format for an encrypted relayer key.
type sealedKey struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource describes where the relayer key comes from. A raw key wins over
// an encrypted file.
type KeySource struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// Configured reports whether any key source is set.
func (k KeySource) Configured() bool {
	return k.RawPrivateKey != "" || k.EncryptedKeyPath != ""
}

// SealKey encrypts a hex private key with PBKDF2-HMAC-SHA256 and AES-256-GCM
// and returns the JSON blob written by cmd/keytool. iterations <= 0 selects
// DefaultKDFIterations.
func SealKey(privateKeyHex, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("crypto/keys: password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto/keys: expected 32-byte key, got %d bytes", len(keyBytes))
	}
	pk, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: invalid private key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keys: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keys: generating nonce: %w", err)
	}

	out := sealedKey{
		Version:    keyFileV1,
		Iterations: iterations,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// OpenKey decrypts a blob produced by SealKey and returns the hex private key
// without 0x prefix.
func OpenKey(blob []byte, password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("crypto/keys: password must not be empty")
	}

	var stored sealedKey
	if err := json.Unmarshal(blob, &stored); err != nil {
		return "", fmt.Errorf("crypto/keys: parsing key file: %w", err)
	}
	if stored.Version != keyFileV1 {
		return "", fmt.Errorf("crypto/keys: unsupported version %d", stored.Version)
	}
	if stored.Iterations <= 0 {
		stored.Iterations = DefaultKDFIterations
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto/keys: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto/keys: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto/keys: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt, stored.Iterations)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto/keys: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadRelayerSigner resolves the relayer key and builds a Signer for chainID.
// A missing or unusable key is a configuration error.
func LoadRelayerSigner(src KeySource, chainID int64) (*Signer, error) {
	var keyHex string
	switch {
	case src.RawPrivateKey != "":
		keyHex = src.RawPrivateKey
	case src.EncryptedKeyPath != "":
		blob, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto/keys: %w: reading key file: %v", domain.ErrConfiguration, err)
		}
		keyHex, err = OpenKey(blob, src.KeyPassword)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
	default:
		return nil, fmt.Errorf("crypto/keys: %w: no relayer key configured", domain.ErrConfiguration)
	}

	signer, err := NewSigner(keyHex, chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return signer, nil
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keys: creating GCM: %w", err)
	}
	return gcm, nil
}
