// Package leveldb provides a durable storage.Storage on an embedded LevelDB
// database. It is the default backend for the hush CLI.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/hush/storage"
	"github.com/syndtr/goleveldb/leveldb"
	lvlerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Storage implements storage.Storage over a LevelDB handle.
type Storage struct {
	db *leveldb.DB
}

var _ storage.Storage = (*Storage)(nil)

type storedItem struct {
	Data      []byte     `json:"data"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Open opens or creates the database at path, recovering it once if the
// manifest is corrupted.
func Open(path string) (*Storage, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if _, corrupted := err.(*lvlerrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &Storage{db: db}, nil
}

// OpenInMemory returns a LevelDB instance backed by memory storage.
func OpenInMemory() (*Storage, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory leveldb: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Get(ctx context.Context, key string) (*storage.Item, error) {
	raw, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, leveldb.ErrClosed) {
			return nil, storage.ErrClosed
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var stored storedItem
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	item := &storage.Item{Data: stored.Data, UpdatedAt: stored.UpdatedAt, ExpiresAt: stored.ExpiresAt}
	if item.IsExpired() {
		_ = s.db.Delete([]byte(key), nil)
		return nil, nil
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options, err := storage.Apply(opts...)
	if err != nil {
		return err
	}

	now := time.Now()
	stored := storedItem{Data: data, UpdatedAt: now}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		stored.ExpiresAt = &expiresAt
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	if err := s.db.Put([]byte(key), raw, &opt.WriteOptions{Sync: true}); err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return storage.ErrClosed
		}
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return storage.ErrClosed
		}
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *Storage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterate prefix %s: %w", prefix, err)
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return 0, fmt.Errorf("delete prefix %s: %w", prefix, err)
	}
	return batch.Len(), nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}
