package identity

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ggoodman/hush/errs"
	"github.com/stretchr/testify/require"
)

const junk = "test test test test test test test test test test test junk"

func TestDeriveKnownVector(t *testing.T) {
	key, err := DeriveKey(junk, DefaultPath)
	require.NoError(t, err)
	require.Equal(t, "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", hexutil.Encode(crypto.FromECDSA(key)))

	addr, err := DeriveAddress(junk)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), addr)
}

func TestDeriveSecondIndex(t *testing.T) {
	key, err := DeriveKey(junk, "m/44'/60'/0'/0/1")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), crypto.PubkeyToAddress(key.PublicKey))
}

func TestNormalizeAcceptsMessyInput(t *testing.T) {
	messy := "  TEST test\ttest test test test test test test test test   junk "
	addr, err := DeriveAddress(messy)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), addr)
}

func TestNewMnemonic(t *testing.T) {
	m, err := NewMnemonic(DefaultMnemonicBits)
	require.NoError(t, err)
	require.Len(t, strings.Fields(m), 12)
	require.NoError(t, ValidateMnemonic(m))

	other, err := NewMnemonic(DefaultMnemonicBits)
	require.NoError(t, err)
	require.NotEqual(t, m, other)

	_, err = NewMnemonic(100)
	require.Error(t, err)
}

func TestValidateMnemonicRejectsUnknownWord(t *testing.T) {
	err := ValidateMnemonic("test test test test test test test test test test test zzzz")
	require.Error(t, err)
	require.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestOwnerCommitmentIsCaseInsensitive(t *testing.T) {
	a := OwnerCommitment("0zkABCdef")
	b := OwnerCommitment("0zkabcDEF")
	require.Equal(t, a, b)
	require.Equal(t, crypto.Keccak256Hash([]byte("0zkabcdef")), a)
}
