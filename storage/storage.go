// Package storage defines the flat key-value persistence contract behind the
// session store and the legacy artifact purge.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Storage is a string-keyed byte store. Backends must be safe for concurrent
// use.
type Storage interface {
	// Get returns nil when the key is absent or expired. An error is returned
	// only for real backend failures.
	Get(ctx context.Context, key string) (*Item, error)

	// Set replaces the value stored at key.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and reports how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Close releases backend resources.
	Close() error
}

// Item is a stored value with its write metadata.
type Item struct {
	Data      []byte
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// IsExpired reports whether the item's TTL has elapsed.
func (i *Item) IsExpired() bool {
	return i.ExpiresAt != nil && time.Now().After(*i.ExpiresAt)
}

// Option configures a Set.
type Option func(*Options)

// Options is the resolved form of a Set's options.
type Options struct {
	TTL *time.Duration
}

// WithTTL expires the value after ttl.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = &ttl
	}
}

// Apply resolves opts. Backends call it from Set.
func Apply(opts ...Option) (*Options, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.TTL != nil && *o.TTL <= 0 {
		return nil, ErrInvalidOptions
	}
	return o, nil
}

// HasPrefix is the prefix predicate every backend must agree on.
func HasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}

var (
	// ErrInvalidOptions is returned for a non-positive TTL.
	ErrInvalidOptions = errors.New("storage: invalid option combination")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("storage: closed")
)
