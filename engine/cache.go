package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/identity"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Key identifies one engine session.
type Key struct {
	ChainID  uint64
	Owner    common.Address
	SeedHash common.Hash
}

// KeyFor derives the cache key for req. The seed is reduced to a hash.
func KeyFor(req InitRequest) Key {
	return Key{ChainID: req.ChainID, Owner: req.Owner, SeedHash: identity.SeedHash(req.Seed)}
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%s", k.ChainID, strings.ToLower(k.Owner.Hex()), k.SeedHash.Hex())
}

// Cache lazily initializes and shares Handles.
type Cache struct {
	client  Client
	handles *lru.Cache[Key, Handle]
	group   singleflight.Group
	log     *slog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCache returns a cache holding at most size handles.
func NewCache(client Client, size int, opts ...CacheOption) (*Cache, error) {
	if size <= 0 {
		size = 8
	}
	handles, err := lru.New[Key, Handle](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine cache: %w", err)
	}
	c := &Cache{client: client, handles: handles, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Client returns the underlying engine client.
func (c *Cache) Client() Client { return c.client }

// Get returns the Handle for req, initializing it at most once across
// concurrent callers. A handle whose runtime signer disagrees with
// req.Owner is rebuilt once; a second disagreement is a signer mismatch.
func (c *Cache) Get(ctx context.Context, req InitRequest) (Handle, error) {
	key := KeyFor(req)
	h, err := c.get(ctx, key, req)
	if err != nil {
		return nil, err
	}
	if boundTo(h, req.Owner) {
		return h, nil
	}
	c.log.WarnContext(ctx, "engine.cache.signer_mismatch",
		slog.String("expected", req.Owner.Hex()),
		slog.String("actual", h.RuntimeSigner().Hex()),
	)
	c.Invalidate(key)

	h, err = c.get(ctx, key, req)
	if err != nil {
		return nil, err
	}
	if boundTo(h, req.Owner) {
		return h, nil
	}
	c.Invalidate(key)
	return nil, &errs.SignerMismatchError{
		Expected: req.Owner.Hex(),
		Actual:   h.RuntimeSigner().Hex(),
		Source:   "engine",
	}
}

func boundTo(h Handle, owner common.Address) bool {
	return !h.Capabilities().RuntimeSigner || h.RuntimeSigner() == owner
}

func (c *Cache) get(ctx context.Context, key Key, req InitRequest) (Handle, error) {
	if h, ok := c.handles.Get(key); ok {
		return h, nil
	}
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if h, ok := c.handles.Get(key); ok {
			return h, nil
		}
		c.log.DebugContext(ctx, "engine.cache.init", slog.Uint64("chain_id", key.ChainID), slog.String("owner", key.Owner.Hex()))
		h, err := c.client.InitSession(ctx, req)
		if err != nil {
			return nil, Unavailable(err, "initialization")
		}
		c.handles.Add(key, h)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

// Invalidate drops the handle for key so the next Get rebuilds it.
func (c *Cache) Invalidate(key Key) {
	c.handles.Remove(key)
	c.group.Forget(key.String())
}

// Purge drops every handle.
func (c *Cache) Purge(context.Context) error {
	c.handles.Purge()
	return nil
}

// Len reports the number of cached handles.
func (c *Cache) Len() int { return c.handles.Len() }
