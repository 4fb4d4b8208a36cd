package engine_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/engine/enginetest"
	"github.com/ggoodman/hush/errs"
	"github.com/stretchr/testify/require"
)

const seed = "test test test test test test test test test test test junk"

var owner = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newCache(t *testing.T) (*engine.Cache, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.NewEngine(enginetest.NewChain(enginetest.ChainConfig{}))
	c, err := engine.NewCache(eng, 4)
	require.NoError(t, err)
	return c, eng
}

func TestCacheSharesConcurrentInit(t *testing.T) {
	c, eng := newCache(t)
	req := engine.InitRequest{ChainID: 42161, Owner: owner, Seed: seed}

	var wg sync.WaitGroup
	handles := make([]engine.Handle, 16)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.Get(t.Context(), req)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			handles[i] = h
		}()
	}
	wg.Wait()

	require.Equal(t, 1, eng.Inits())
	for _, h := range handles[1:] {
		require.Same(t, handles[0], h)
	}
}

func TestCacheKeysBySeedAndOwner(t *testing.T) {
	c, eng := newCache(t)
	ctx := t.Context()

	_, err := c.Get(ctx, engine.InitRequest{ChainID: 42161, Owner: owner, Seed: seed})
	require.NoError(t, err)
	_, err = c.Get(ctx, engine.InitRequest{ChainID: 42161, Owner: owner, Seed: "  " + seed})
	require.NoError(t, err)
	require.Equal(t, 1, eng.Inits(), "normalized seeds share a handle")

	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	_, err = c.Get(ctx, engine.InitRequest{ChainID: 42161, Owner: other, Seed: seed})
	require.NoError(t, err)
	require.Equal(t, 2, eng.Inits())
	require.Equal(t, 2, c.Len())
}

func TestCacheRebuildsOnceOnSignerMismatch(t *testing.T) {
	c, eng := newCache(t)
	ctx := t.Context()
	req := engine.InitRequest{ChainID: 42161, Owner: owner, Seed: seed}

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	eng.BindRuntimeSigner(stranger)

	_, err := c.Get(ctx, req)
	var mismatch *errs.SignerMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, owner.Hex(), mismatch.Expected)
	require.Equal(t, stranger.Hex(), mismatch.Actual)
	require.Equal(t, 2, eng.Inits())
	require.Equal(t, 0, c.Len())

	eng.BindRuntimeSigner(common.Address{})
	h, err := c.Get(ctx, req)
	require.NoError(t, err)
	require.Equal(t, owner, h.RuntimeSigner())
}

func TestCacheSkipsSignerCheckWithoutCapability(t *testing.T) {
	c, eng := newCache(t)
	eng.SetCapabilities(engine.Capabilities{Balances: true})
	eng.BindRuntimeSigner(common.HexToAddress("0x00000000000000000000000000000000000000c3"))

	_, err := c.Get(t.Context(), engine.InitRequest{ChainID: 42161, Owner: owner, Seed: seed})
	require.NoError(t, err)
	require.Equal(t, 1, eng.Inits())
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	c, eng := newCache(t)
	ctx := t.Context()
	req := engine.InitRequest{ChainID: 42161, Owner: owner, Seed: seed}

	eng.FailInit(errors.New("merkle tree not synced"))
	_, err := c.Get(ctx, req)
	require.True(t, errs.Is(err, errs.KindEngineUnavailable))
	require.ErrorContains(t, err, "merkle tree not synced")

	eng.FailInit(nil)
	_, err = c.Get(ctx, req)
	require.NoError(t, err)
}

func TestCacheInvalidateAndPurge(t *testing.T) {
	c, eng := newCache(t)
	ctx := t.Context()
	req := engine.InitRequest{ChainID: 42161, Owner: owner, Seed: seed}

	first, err := c.Get(ctx, req)
	require.NoError(t, err)
	c.Invalidate(engine.KeyFor(req))
	second, err := c.Get(ctx, req)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, 2, eng.Inits())

	require.NoError(t, c.Purge(ctx))
	require.Equal(t, 0, c.Len())
}

func TestKeyStringHidesSeed(t *testing.T) {
	k := engine.KeyFor(engine.InitRequest{ChainID: 1, Owner: owner, Seed: seed})
	require.NotContains(t, k.String(), "junk")
	require.Contains(t, k.String(), "0x00000000000000000000000000000000000000a1")
}
