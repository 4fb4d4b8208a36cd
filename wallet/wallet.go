// Package wallet is the public-wallet boundary: something that has an
// address, knows its chain and can produce an EIP-191 personal signature.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Signer is a connected public wallet.
type Signer interface {
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	// SignMessage returns a 65-byte personal_sign signature with v in {27,28}.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// ChainSource resolves the current chain id.
type ChainSource func(ctx context.Context) (*big.Int, error)

// FixedChain always reports id.
func FixedChain(id uint64) ChainSource {
	v := new(big.Int).SetUint64(id)
	return func(context.Context) (*big.Int, error) {
		return new(big.Int).Set(v), nil
	}
}

// ClientChain reads the chain id from a connected node.
func ClientChain(c *ethclient.Client) ChainSource {
	return c.ChainID
}

// KeySigner signs with an in-process secp256k1 key.
type KeySigner struct {
	key   *ecdsa.PrivateKey
	addr  common.Address
	chain ChainSource
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner wraps key. chain supplies the chain id on demand.
func NewKeySigner(key *ecdsa.PrivateKey, chain ChainSource) *KeySigner {
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey), chain: chain}
}

// ParseKey decodes a hex private key with or without the 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	return key, nil
}

func (s *KeySigner) Address() common.Address { return s.addr }

func (s *KeySigner) ChainID(ctx context.Context) (*big.Int, error) {
	if s.chain == nil {
		return nil, fmt.Errorf("wallet: no chain source configured")
	}
	return s.chain(ctx)
}

func (s *KeySigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	// Ethereum wallets report v as 27 or 28.
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverAddress returns the address that produced a personal_sign sig.
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	norm := append([]byte(nil), sig...)
	if norm[crypto.RecoveryIDOffset] >= 27 {
		norm[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
