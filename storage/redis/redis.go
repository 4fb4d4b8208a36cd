// Package redis stores session records in Redis so several hush processes
// can share one session store.
//
// Each record is a hash with a data field and an updated field holding unix
// nanoseconds. TTLs map onto native key expiry.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/hush/storage"
	"github.com/redis/go-redis/v9"
)

const (
	fieldData    = "data"
	fieldUpdated = "updated"

	// DefaultKeyPrefix namespaces hush keys in a shared database.
	DefaultKeyPrefix = "hush:"

	scanBatch = 256
)

type Config struct {
	Client *redis.Client
	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string
}

type Storage struct {
	rdb    *redis.Client
	prefix string
}

var _ storage.Storage = (*Storage)(nil)

func New(cfg Config) (*Storage, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis storage: nil client")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Storage{rdb: cfg.Client, prefix: prefix}, nil
}

func (s *Storage) key(k string) string { return s.prefix + k }

func (s *Storage) Get(ctx context.Context, key string) (*storage.Item, error) {
	k := s.key(key)

	var (
		fields *redis.MapStringStringCmd
		ttl    *redis.DurationCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		fields = p.HGetAll(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", k, err)
	}

	m := fields.Val()
	data, ok := m[fieldData]
	if !ok {
		return nil, nil
	}
	item := &storage.Item{Data: []byte(data)}
	if ns, err := strconv.ParseInt(m[fieldUpdated], 10, 64); err == nil {
		item.UpdatedAt = time.Unix(0, ns)
	}
	// PTTL reports -1 for keys without expiry.
	if d := ttl.Val(); d > 0 {
		exp := time.Now().Add(d)
		item.ExpiresAt = &exp
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o, err := storage.Apply(opts...)
	if err != nil {
		return err
	}

	k := s.key(key)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k, fieldData, data, fieldUpdated, strconv.FormatInt(time.Now().UnixNano(), 10))
		if o.TTL != nil {
			p.PExpire(ctx, k, *o.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Unlink(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", s.key(key), err)
	}
	return nil
}

func (s *Storage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	match := escapeGlob(s.key(prefix)) + "*"

	total := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.rdb.Unlink(ctx, batch...).Result()
		if err != nil {
			return err
		}
		total += int(n)
		batch = batch[:0]
		return nil
	}

	it := s.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	for it.Next(ctx) {
		batch = append(batch, it.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return total, fmt.Errorf("redis delete prefix %s: %w", prefix, err)
			}
		}
	}
	if err := it.Err(); err != nil {
		return total, fmt.Errorf("redis scan %s: %w", match, err)
	}
	if err := flush(); err != nil {
		return total, fmt.Errorf("redis delete prefix %s: %w", prefix, err)
	}
	return total, nil
}

func (s *Storage) Close() error {
	return s.rdb.Close()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes SCAN MATCH metacharacters.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
