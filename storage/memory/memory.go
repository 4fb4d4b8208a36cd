// Package memory provides an in-memory implementation of storage.Storage
// backed by github.com/hashicorp/golang-lru/v2.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/hush/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems bounds the cache when New is given a non-positive size.
const DefaultMaxItems = 4096

// Storage implements storage.Storage in process memory. Values do not
// survive a restart.
type Storage struct {
	mu     sync.RWMutex
	cache  *lru.Cache[string, *storage.Item]
	closed bool
}

var _ storage.Storage = (*Storage)(nil)

// New creates a new in-memory storage holding at most maxItems keys.
func New(maxItems int) (*Storage, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Storage{cache: cache}, nil
}

func (s *Storage) Get(ctx context.Context, key string) (*storage.Item, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrClosed
	}
	item, ok := s.cache.Get(key)
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(key)
		s.mu.Unlock()
		return nil, nil
	}

	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options, err := storage.Apply(opts...)
	if err != nil {
		return err
	}

	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		UpdatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.cache.Add(key, item)
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.cache.Remove(key)
	return nil
}

func (s *Storage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}

	// LRU has no ordered iteration, so every key is inspected.
	n := 0
	for _, key := range s.cache.Keys() {
		if storage.HasPrefix(key, prefix) {
			s.cache.Remove(key)
			n++
		}
	}
	return n, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	s.closed = true
	return nil
}
