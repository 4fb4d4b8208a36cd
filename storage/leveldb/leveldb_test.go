package leveldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ggoodman/hush/storage"
	"github.com/ggoodman/hush/storage/storagetest"
)

func TestLevelDBStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := OpenInMemory()
		if err != nil {
			t.Fatalf("OpenInMemory: %v", err)
		}
		return s
	})
}

func TestSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	item, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil || string(item.Data) != "v" {
		t.Fatalf("expected persisted value, got %+v", item)
	}
}
