package adapter

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ggoodman/hush/engine"
	"github.com/stretchr/testify/require"
)

var (
	adapterAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	executorAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	usdc         = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	weth         = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
)

func TestSupplyOpsDecode(t *testing.T) {
	owner := crypto.Keccak256Hash([]byte("0zkowner"))
	auth := crypto.Keccak256Hash([]byte("secret"))
	ops, err := Supply{Adapter: adapterAddr, Token: usdc, Amount: big.NewInt(1_000_000), Owner: owner, AuthHash: auth}.Ops()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	for _, op := range ops {
		require.False(t, op.InvokeWallet)
	}

	transfer, err := Decode(ops[0])
	require.NoError(t, err)
	require.Equal(t, "transfer", transfer.Name())
	require.Equal(t, usdc, transfer.Transfer.Token)
	require.Equal(t, adapterAddr, transfer.Transfer.To)
	require.Equal(t, int64(1_000_000), transfer.Transfer.Amount.Int64())

	deposit, err := Decode(ops[1])
	require.NoError(t, err)
	require.Equal(t, adapterAddr, deposit.Deposit.Adapter)
	require.Equal(t, usdc, deposit.Deposit.Token)
	require.Equal(t, owner, deposit.Deposit.Owner)
	require.Equal(t, auth, deposit.Deposit.AuthHash)
}

func TestWithdrawOpsRevealAndCommit(t *testing.T) {
	secret := [32]byte{1, 2, 3}
	next := crypto.Keccak256Hash([]byte("next"))
	ops, err := Withdraw{Adapter: adapterAddr, Executor: executorAddr, PositionID: 7, Amount: big.NewInt(5), Secret: secret, NextHash: next}.Ops()
	require.NoError(t, err)
	require.Len(t, ops, 1)

	call, err := Decode(ops[0])
	require.NoError(t, err)
	w := call.Withdraw
	require.NotNil(t, w)
	require.Equal(t, uint64(7), w.PositionID.Uint64())
	require.Equal(t, secret, w.Secret)
	require.Equal(t, next, w.NextHash)
	require.Equal(t, executorAddr, w.Recipient)
}

func TestBorrowAndRepayOps(t *testing.T) {
	secret := [32]byte{9}
	next := crypto.Keccak256Hash([]byte("n"))

	ops, err := Borrow{Adapter: adapterAddr, Executor: executorAddr, DebtToken: weth, PositionID: 3, Amount: big.NewInt(10), Secret: secret, NextHash: next}.Ops()
	require.NoError(t, err)
	call, err := Decode(ops[0])
	require.NoError(t, err)
	require.Equal(t, weth, call.Borrow.DebtToken)
	require.Equal(t, executorAddr, call.Borrow.Recipient)

	ops, err = Repay{Adapter: adapterAddr, DebtToken: weth, PositionID: 3, Amount: big.NewInt(4), Secret: secret, NextHash: next}.Ops()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, weth, ops[0].Contract)
	call, err = Decode(ops[1])
	require.NoError(t, err)
	require.Equal(t, "repayFromPrivate", call.Name())
	require.Equal(t, int64(4), call.Repay.Amount.Int64())
}

func TestDecodeRejectsUnknown(t *testing.T) {
	_, err := Decode(engine.Operation{CallData: []byte{1, 2}})
	require.Error(t, err)
	_, err = Decode(engine.Operation{CallData: []byte{0xde, 0xad, 0xbe, 0xef}})
	require.Error(t, err)

	view, err := Adapter().Pack("supplyToken")
	require.NoError(t, err)
	_, err = Decode(engine.Operation{CallData: view})
	require.Error(t, err)
}

// fakeCaller answers eth_call by dispatching on the method selector.
type fakeCaller struct {
	t       *testing.T
	handler func(name string, args []any) []any
	calls   []string
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m, err := Adapter().MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	require.NoError(f.t, err)
	f.calls = append(f.calls, m.Name)
	out := f.handler(m.Name, args)
	if out == nil {
		return nil, errors.New("execution reverted")
	}
	return m.Outputs.Pack(out...)
}

func TestContractReaderViews(t *testing.T) {
	owner := crypto.Keccak256Hash([]byte("owner"))
	auth := crypto.Keccak256Hash([]byte("auth"))
	fc := &fakeCaller{t: t, handler: func(name string, args []any) []any {
		switch name {
		case "privacyExecutor":
			return []any{executorAddr}
		case "supplyToken":
			return []any{usdc}
		case "isBorrowTokenAllowed":
			return []any{args[0].(common.Address) == weth}
		case "positions":
			return []any{[32]byte(owner), common.HexToAddress("0x01"), usdc, big.NewInt(123), [32]byte(auth)}
		}
		return nil
	}}
	r := NewContractReader(fc)
	ctx := context.Background()

	exec, err := r.PrivacyExecutor(ctx, adapterAddr)
	require.NoError(t, err)
	require.Equal(t, executorAddr, exec)

	tok, err := r.SupplyToken(ctx, adapterAddr)
	require.NoError(t, err)
	require.Equal(t, usdc, tok)

	ok, err := r.IsBorrowTokenAllowed(ctx, adapterAddr, weth)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = r.IsBorrowTokenAllowed(ctx, adapterAddr, usdc)
	require.NoError(t, err)
	require.False(t, ok)

	pos, err := r.Position(ctx, adapterAddr, 4)
	require.NoError(t, err)
	require.True(t, pos.Exists())
	require.Equal(t, uint64(4), pos.ID)
	require.Equal(t, int64(123), pos.Amount.Int64())
	require.Equal(t, auth, pos.AuthHash)
}

func TestOwnerPositionIDsPages(t *testing.T) {
	const total = PageSize + 20
	fc := &fakeCaller{t: t, handler: func(name string, args []any) []any {
		offset := args[1].(*big.Int).Int64()
		limit := args[2].(*big.Int).Int64()
		var page []*big.Int
		for i := offset; i < total && i < offset+limit; i++ {
			page = append(page, big.NewInt(i+1))
		}
		return []any{page, big.NewInt(total)}
	}}

	ids, err := NewContractReader(fc).OwnerPositionIDs(context.Background(), adapterAddr, common.Hash{1})
	require.NoError(t, err)
	require.Len(t, ids, total)
	require.Equal(t, uint64(1), ids[0])
	require.Equal(t, uint64(total), ids[total-1])
	require.Equal(t, []string{"getOwnerPositionIds", "getOwnerPositionIds"}, fc.calls)
}

func TestContractReaderSurfacesRevert(t *testing.T) {
	fc := &fakeCaller{t: t, handler: func(string, []any) []any { return nil }}
	_, err := NewContractReader(fc).SupplyToken(context.Background(), adapterAddr)
	require.Error(t, err)
	require.Contains(t, err.Error(), "supplyToken")
}
