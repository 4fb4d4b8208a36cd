package sessionkey

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/wallet"
	"github.com/stretchr/testify/require"
)

func signer(t *testing.T, hexKey string, chain uint64) *wallet.KeySigner {
	t.Helper()
	key, err := wallet.ParseKey(hexKey)
	require.NoError(t, err)
	return wallet.NewKeySigner(key, wallet.FixedChain(chain))
}

func TestChallengeFormat(t *testing.T) {
	got := Challenge(42161, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	require.Equal(t, "Hush Privacy Session v1\nChain:42161\nAddress:0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", got)
}

func TestDeriveIsDeterministic(t *testing.T) {
	s := signer(t, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 42161)
	a, err := Derive(context.Background(), s)
	require.NoError(t, err)
	b, err := Derive(context.Background(), s)
	require.NoError(t, err)

	require.Equal(t, a.Key, b.Key)
	require.Equal(t, uint64(42161), a.ChainID)
	require.Equal(t, s.Address(), a.Owner)

	sig, err := s.SignMessage(context.Background(), []byte(Challenge(42161, s.Address())))
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256(sig), a.Key[:])
}

func TestDeriveDiffersAcrossChainsAndAccounts(t *testing.T) {
	base, err := Derive(context.Background(), signer(t, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 42161))
	require.NoError(t, err)
	otherChain, err := Derive(context.Background(), signer(t, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 1))
	require.NoError(t, err)
	otherKey, err := Derive(context.Background(), signer(t, "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", 42161))
	require.NoError(t, err)

	require.NotEqual(t, base.Key, otherChain.Key)
	require.NotEqual(t, base.Key, otherKey.Key)
}

type rejectingSigner struct{}

func (rejectingSigner) Address() common.Address { return common.HexToAddress("0x01") }
func (rejectingSigner) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(42161), nil
}
func (rejectingSigner) SignMessage(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("user rejected request")
}

func TestDeriveRejectedSignature(t *testing.T) {
	_, err := Derive(context.Background(), rejectingSigner{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "session not established")
	require.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}
