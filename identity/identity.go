// Package identity manages the seed material behind a private identity and
// the public commitment that stands in for its address on chain.
package identity

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ggoodman/hush/errs"
	"github.com/tyler-smith/go-bip39"
)

const (
	// DefaultMnemonicBits is the entropy of a freshly generated seed.
	DefaultMnemonicBits = 128
	// DefaultPath is the HD path of the private identity's spending key.
	DefaultPath = "m/44'/60'/0'/0/0"

	hardenedOffset = uint32(0x80000000)
)

// NewMnemonic returns a fresh BIP-39 mnemonic with bits of entropy.
func NewMnemonic(bits int) (string, error) {
	switch bits {
	case 128, 160, 192, 224, 256:
	default:
		return "", fmt.Errorf("invalid mnemonic bits %d (allowed: 128,160,192,224,256)", bits)
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// Normalize collapses whitespace and lowercases a user-entered mnemonic.
func Normalize(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

// ValidateMnemonic checks word list membership and checksum.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(Normalize(mnemonic)) {
		return errs.New(errs.KindInvalidInput, "invalid seed phrase").
			WithHint("Expected 12 to 24 BIP-39 words")
	}
	return nil
}

// DeriveKey derives the secp256k1 key at path from mnemonic.
func DeriveKey(mnemonic, path string) (*ecdsa.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(Normalize(mnemonic), "")
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, err, "invalid seed phrase")
	}
	indices, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid hd path %q: %w", path, err)
	}

	key, chainCode, err := masterKey(seed)
	if err != nil {
		return nil, err
	}
	for _, index := range indices {
		key, chainCode, err = childKey(key, chainCode, index)
		if err != nil {
			return nil, err
		}
	}
	return crypto.ToECDSA(key)
}

// DeriveAddress returns the address of the key at DefaultPath.
func DeriveAddress(mnemonic string) (common.Address, error) {
	key, err := DeriveKey(mnemonic, DefaultPath)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// OwnerCommitment is keccak256 over the lowercased private address. The
// lending adapter indexes positions by it.
func OwnerCommitment(privateAddress string) common.Hash {
	return crypto.Keccak256Hash([]byte(strings.ToLower(privateAddress)))
}

// SeedHash fingerprints seed material without revealing it.
func SeedHash(mnemonic string) common.Hash {
	return crypto.Keccak256Hash([]byte(Normalize(mnemonic)))
}

func masterKey(seed []byte) ([]byte, []byte, error) {
	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key := append([]byte(nil), sum[:32]...)
	chainCode := append([]byte(nil), sum[32:]...)
	if err := validScalar(key); err != nil {
		return nil, nil, fmt.Errorf("invalid bip32 master key: %w", err)
	}
	return key, chainCode, nil
}

func childKey(parentKey, parentChainCode []byte, index uint32) ([]byte, []byte, error) {
	data := make([]byte, 37)
	if index >= hardenedOffset {
		copy(data[1:33], parentKey)
	} else {
		priv, _ := btcec.PrivKeyFromBytes(parentKey)
		copy(data[:33], priv.PubKey().SerializeCompressed())
	}
	binary.BigEndian.PutUint32(data[33:], index)

	mac := hmac.New(sha512.New, parentChainCode)
	mac.Write(data)
	sum := mac.Sum(nil)

	n := crypto.S256().Params().N
	il := new(big.Int).SetBytes(sum[:32])
	if il.Sign() == 0 || il.Cmp(n) >= 0 {
		return nil, nil, fmt.Errorf("invalid bip32 child scalar at index %d", index)
	}
	child := new(big.Int).Add(il, new(big.Int).SetBytes(parentKey))
	child.Mod(child, n)
	if child.Sign() == 0 {
		return nil, nil, fmt.Errorf("invalid bip32 child key at index %d", index)
	}
	return child.FillBytes(make([]byte, 32)), append([]byte(nil), sum[32:]...), nil
}

func validScalar(key []byte) error {
	v := new(big.Int).SetBytes(key)
	if v.Sign() == 0 || v.Cmp(crypto.S256().Params().N) >= 0 {
		return fmt.Errorf("scalar out of range")
	}
	return nil
}
