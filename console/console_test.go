package console_test

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/console"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/engine/enginetest"
	"github.com/ggoodman/hush/envelope"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/orchestrator"
	"github.com/ggoodman/hush/reconcile"
	"github.com/ggoodman/hush/sessions"
	"github.com/ggoodman/hush/storage/memory"
	"github.com/ggoodman/hush/wallet"
	"github.com/stretchr/testify/require"
)

var (
	adapterAddr = common.HexToAddress("0x00000000000000000000000000000000000ada97")
	executor    = common.HexToAddress("0x00000000000000000000000000000000000e8ec0")
	usdc        = common.HexToAddress("0x00000000000000000000000000000000000a5dc0")
	weth        = common.HexToAddress("0x000000000000000000000000000000000000e7e4")
)

type addresses struct{}

func (addresses) Adapter() (common.Address, error)     { return adapterAddr, nil }
func (addresses) Executor() (common.Address, error)    { return executor, nil }
func (addresses) SupplyToken() (common.Address, error) { return usdc, nil }
func (addresses) BorrowToken() (common.Address, error) { return weth, nil }

type fixture struct {
	con   *console.Console
	chain *enginetest.Chain
	out   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain := enginetest.NewChain(enginetest.ChainConfig{
		Adapter:      adapterAddr,
		Executor:     executor,
		SupplyToken:  usdc,
		BorrowTokens: []common.Address{weth},
	})
	cache, err := engine.NewCache(enginetest.NewEngine(chain), 4)
	require.NoError(t, err)
	backend, err := memory.New(0)
	require.NoError(t, err)
	key, err := wallet.ParseKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)

	f := &fixture{chain: chain, out: &bytes.Buffer{}}
	o, err := orchestrator.New(orchestrator.Deps{
		Signer:    wallet.NewKeySigner(key, wallet.FixedChain(42161)),
		Store:     sessions.NewStore(backend, envelope.AESGCM),
		Engines:   cache,
		Reader:    chain,
		Addresses: addresses{},
	},
		orchestrator.WithReconcileOptions(reconcile.WithSleep(func(context.Context, time.Duration) error { return nil })),
		orchestrator.WithEvents(func(e orchestrator.Event) { f.con.Notify(e) }),
	)
	require.NoError(t, err)
	f.con = console.New(console.Config{
		Actions:  o,
		Out:      f.out,
		Decimals: orchestrator.Decimals{Supply: 6, Borrow: 18},
	})
	return f
}

func (f *fixture) run(t *testing.T, line string) string {
	t.Helper()
	f.out.Reset()
	require.NoError(t, f.con.Execute(t.Context(), line))
	return f.out.String()
}

// privateAddress logs in and returns the printed private address.
func (f *fixture) privateAddress(t *testing.T) string {
	t.Helper()
	out := f.run(t, "login")
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Private address:"); ok {
			return strings.TrimSpace(v)
		}
	}
	t.Fatalf("no private address in login output:\n%s", out)
	return ""
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	err := f.con.Execute(t.Context(), "frobnicate 1")
	require.True(t, errs.Is(err, errs.KindInvalidInput))
	require.EqualError(t, err, "Unknown command: frobnicate. Type 'help' or 'get-started'")
}

func TestBlankLineIsIgnored(t *testing.T) {
	f := newFixture(t)
	require.Empty(t, f.run(t, "   "))
}

func TestHelpListsCommands(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "help")
	for _, name := range []string{"login", "import", "supply", "withdraw", "borrow", "repay", "show-positions", "position-auth", "shield", "unshield", "balance"} {
		require.Contains(t, out, name)
	}
	require.Contains(t, f.run(t, "get-started"), "Getting started")
}

func TestExitAndUsage(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.con.Execute(t.Context(), "exit"), console.ErrExit)
	require.ErrorIs(t, f.con.Execute(t.Context(), "QUIT"), console.ErrExit)

	err := f.con.Execute(t.Context(), "withdraw 1")
	require.True(t, errs.Is(err, errs.KindInvalidInput))
	require.ErrorContains(t, err, "usage: withdraw <positionId> <amount|max> [authSecret]")
}

func TestLoginShowsRecoveryPhraseOnce(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "login")
	require.Contains(t, out, "New private identity created")
	require.Contains(t, out, "Private address: 0zk")

	f.run(t, "logout")
	out = f.run(t, "login")
	require.NotContains(t, out, "recovery phrase")
	require.Contains(t, out, "Private session ready")
}

func TestActionBeforeLogin(t *testing.T) {
	f := newFixture(t)
	err := f.con.Execute(t.Context(), "supply 1")
	require.True(t, errs.Is(err, errs.KindNoSession))
	require.Contains(t, f.run(t, "status"), "Run `login` first")
}

func TestSupplyWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t)
	priv := f.privateAddress(t)
	f.chain.CreditPrivate(priv, usdc, 3_000_000)

	out := f.run(t, "private-supply 1.5")
	require.Contains(t, out, "supply confirmed: 0x")
	require.Contains(t, out, "Amount: 1.5")
	require.Contains(t, out, "New secret for position #1: 0x")
	require.Equal(t, big.NewInt(1_500_000), f.chain.PrivateBalance(priv, usdc))

	out = f.run(t, "show-positions")
	require.Contains(t, out, "1.5")
	require.Contains(t, out, "held")

	out = f.run(t, "withdraw #1 0.5")
	require.Contains(t, out, "New secret for position #1")
	require.Equal(t, big.NewInt(2_000_000), f.chain.PrivateBalance(priv, usdc))

	out = f.run(t, "withdraw 1 max")
	require.Contains(t, out, "Position #1 closed")
	require.Equal(t, big.NewInt(3_000_000), f.chain.PrivateBalance(priv, usdc))
}

func TestRejectsBadArguments(t *testing.T) {
	f := newFixture(t)
	f.run(t, "login")

	for _, line := range []string{
		"supply abc",
		"supply 0",
		"supply 1.0000001",
		"withdraw x 1",
		"withdraw 1 1 0x1234",
		"unshield 1 not-an-address",
	} {
		err := f.con.Execute(t.Context(), line)
		require.Truef(t, errs.Is(err, errs.KindInvalidInput), "%s: %v", line, err)
	}
	require.Empty(t, f.chain.Submissions())
}

func TestPositionAuthRestore(t *testing.T) {
	f := newFixture(t)
	priv := f.privateAddress(t)
	f.chain.CreditPrivate(priv, usdc, 2_000_000)
	out := f.run(t, "supply 1")

	var secret string
	for _, line := range strings.Split(out, "\n") {
		if _, v, ok := strings.Cut(line, "New secret for position #1: "); ok {
			secret = strings.TrimSpace(v)
		}
	}
	require.NotEmpty(t, secret)

	out = f.run(t, "position-auth 1")
	require.Contains(t, out, secret)
	require.Contains(t, out, "Matches the on-chain authorization")

	out = f.run(t, "position-auth 1 "+secret)
	require.Contains(t, out, "Secret for position #1 restored")
}

func TestShieldAndBalance(t *testing.T) {
	f := newFixture(t)
	priv := f.privateAddress(t)
	owner := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	f.chain.CreditPublic(owner, usdc, 5_000_000)

	require.Contains(t, f.run(t, "shield 2"), "shield confirmed")
	require.Equal(t, big.NewInt(2_000_000), f.chain.PrivateBalance(priv, usdc))

	out := f.run(t, "balance")
	require.Contains(t, out, priv)
	require.Contains(t, out, ": 2\n")
}
