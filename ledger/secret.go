package ledger

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Secret is a one-time authorization preimage.
type Secret [32]byte

// NewSecret draws a secret from the system CSPRNG.
func NewSecret() (Secret, error) {
	var s Secret
	if _, err := io.ReadFull(rand.Reader, s[:]); err != nil {
		return Secret{}, fmt.Errorf("generate authorization secret: %w", err)
	}
	return s, nil
}

// ParseSecret decodes a 0x-prefixed 32-byte hex string.
func ParseSecret(s string) (Secret, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Secret{}, fmt.Errorf("invalid authorization secret: %w", err)
	}
	if len(b) != 32 {
		return Secret{}, fmt.Errorf("invalid authorization secret: want 32 bytes, got %d", len(b))
	}
	var out Secret
	copy(out[:], b)
	return out, nil
}

// Hash is the on-chain commitment for s.
func (s Secret) Hash() common.Hash {
	return crypto.Keccak256Hash(s[:])
}

// Bytes32 returns s as an ABI bytes32 value.
func (s Secret) Bytes32() [32]byte { return s }

func (s Secret) Hex() string { return hexutil.Encode(s[:]) }

func (s Secret) IsZero() bool { return s == Secret{} }

// String redacts the secret so it never lands in logs by accident.
func (s Secret) String() string { return "secret(" + s.Hash().Hex()[:10] + ")" }
