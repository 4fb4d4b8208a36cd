package rpcengine

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ggoodman/hush/adapter"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/engine/enginetest"
	"github.com/ggoodman/hush/identity"
	"github.com/stretchr/testify/require"
)

const seed = "test test test test test test test test test test test junk"

var (
	adapterAddr = common.HexToAddress("0x00000000000000000000000000000000000ada97")
	executor    = common.HexToAddress("0x00000000000000000000000000000000000e8ec0")
	usdc        = common.HexToAddress("0x00000000000000000000000000000000000a5dc0")
	owner       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func setup(t *testing.T) (*Client, *enginetest.Engine, *Service) {
	t.Helper()
	chain := enginetest.NewChain(enginetest.ChainConfig{Adapter: adapterAddr, Executor: executor, SupplyToken: usdc})
	eng := enginetest.NewEngine(chain)
	svc := NewService(eng, nil)
	srv, err := NewServer(svc)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)

	c := New(rpc.DialInProc(srv))
	t.Cleanup(c.Close)
	return c, eng, svc
}

func TestDeriveIdentityOverRPC(t *testing.T) {
	c, eng, _ := setup(t)
	got, err := c.DeriveIdentity(t.Context(), seed)
	require.NoError(t, err)
	want, err := eng.DeriveIdentity(t.Context(), seed)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSessionLifecycle(t *testing.T) {
	c, eng, svc := setup(t)
	ctx := t.Context()

	h, err := c.InitSession(ctx, engine.InitRequest{ChainID: 42161, Owner: owner, Seed: seed})
	require.NoError(t, err)
	require.Equal(t, owner, h.RuntimeSigner())
	require.True(t, h.Capabilities().Shielding)

	eng.Chain().CreditPrivate(h.PrivateAddress(), usdc, 5_000_000)
	bal, err := h.SpendableBalance(ctx, usdc, true)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5_000_000), bal)

	ops, err := adapter.Supply{
		Adapter:  adapterAddr,
		Token:    usdc,
		Amount:   big.NewInt(1_000_000),
		Owner:    identity.OwnerCommitment(h.PrivateAddress()),
		AuthHash: common.HexToHash("0x01"),
	}.Ops()
	require.NoError(t, err)
	r, err := h.Submit(ctx, ops, usdc)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, r.TxHash)
	require.Equal(t, big.NewInt(4_000_000), eng.Chain().PrivateBalance(h.PrivateAddress(), usdc))

	shield, err := h.ShieldContract(ctx)
	require.NoError(t, err)
	require.Equal(t, enginetest.ShieldContract, shield)

	_, err = h.SubAccount(ctx)
	require.NoError(t, err)

	rh := h.(*handle)
	require.True(t, svc.CloseSession(rh.info.Handle))
	_, err = h.SpendableBalance(ctx, usdc, false)
	require.ErrorContains(t, err, "unknown session handle")
}

func TestFeeQuoteOverRPC(t *testing.T) {
	c, eng, _ := setup(t)
	eng.Chain().SetQuote(120_000, 90_000)

	op := engine.Operation{Contract: usdc, CallData: []byte{1, 2, 3, 4}}
	q, err := c.FeeQuote(t.Context(), engine.QuoteRequest{ChainID: 42161, Ops: []engine.Operation{op}, FeeToken: usdc})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(120_000), q.FlatFee)
	require.Equal(t, big.NewInt(90_000), q.Alternate)

	eng.Chain().FailQuotes(errors.New("quote backend down"))
	_, err = c.FeeQuote(t.Context(), engine.QuoteRequest{ChainID: 42161, Ops: []engine.Operation{op}, FeeToken: usdc})
	require.ErrorContains(t, err, "quote backend down")
}

func TestSubmitReasonSurvivesTheWire(t *testing.T) {
	c, eng, _ := setup(t)
	ctx := t.Context()
	h, err := c.InitSession(ctx, engine.InitRequest{ChainID: 42161, Owner: owner, Seed: seed})
	require.NoError(t, err)

	eng.Chain().CreditPrivate(h.PrivateAddress(), usdc, 10)
	ops, err := adapter.Supply{
		Adapter:  adapterAddr,
		Token:    usdc,
		Amount:   big.NewInt(1_000),
		Owner:    identity.OwnerCommitment(h.PrivateAddress()),
		AuthHash: common.HexToHash("0x01"),
	}.Ops()
	require.NoError(t, err)

	_, err = h.Submit(ctx, ops, usdc)
	var se *engine.SubmitError
	require.ErrorAs(t, err, &se)
	require.Equal(t, engine.ReasonInsufficientFunds, se.Reason)
	require.Equal(t, engine.ReasonInsufficientFunds, engine.ReasonOf(err))
}

func TestTextErrorsFallBackToClassification(t *testing.T) {
	c, eng, _ := setup(t)
	ctx := t.Context()
	h, err := c.InitSession(ctx, engine.InitRequest{ChainID: 42161, Owner: owner, Seed: seed})
	require.NoError(t, err)
	eng.Chain().TextErrors(true)

	_, err = h.Unshield(ctx, usdc, big.NewInt(1), owner)
	require.Error(t, err)
	var se *engine.SubmitError
	require.False(t, errors.As(err, &se))
	require.Equal(t, engine.ReasonInsufficientFunds, engine.ReasonOf(err))
}
