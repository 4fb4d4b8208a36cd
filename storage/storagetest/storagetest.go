// Package storagetest is a conformance suite every storage.Storage backend
// runs from its own tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/hush/storage"
)

// Factory creates a fresh, empty Storage for one subtest. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Run runs the complete Storage test suite against the provided factory.
func Run(t *testing.T, factory Factory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetMissingReturnsNil", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("SetOverwrites", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("DeleteIsIdempotent", func(t *testing.T) { testDeleteIdempotent(t, factory) })
	t.Run("DeletePrefix", func(t *testing.T) { testDeletePrefix(t, factory) })
	t.Run("DeletePrefixLiteral", func(t *testing.T) { testDeletePrefixLiteral(t, factory) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory) })
	t.Run("InvalidTTL", func(t *testing.T) { testInvalidTTL(t, factory) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, factory) })
}

func open(t *testing.T, factory Factory) (storage.Storage, context.Context) {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return s, ctx
}

func mustGet(t *testing.T, ctx context.Context, s storage.Storage, key string) *storage.Item {
	t.Helper()
	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return item
}

func testSetAndGet(t *testing.T, factory Factory) {
	s, ctx := open(t, factory)
	data := []byte("sealed record")

	before := time.Now().Add(-time.Second)
	if err := s.Set(ctx, "pb.privacy.session:v1:42161:0xabc", data); err != nil {
		t.Fatalf("Set: %v", err)
	}

	item := mustGet(t, ctx, s, "pb.privacy.session:v1:42161:0xabc")
	if item == nil {
		t.Fatal("expected item, got nil")
	}
	if !bytes.Equal(item.Data, data) {
		t.Fatalf("expected %q, got %q", data, item.Data)
	}
	if item.UpdatedAt.Before(before) {
		t.Fatalf("UpdatedAt %v not stamped", item.UpdatedAt)
	}
	if item.ExpiresAt != nil {
		t.Fatalf("expected no expiry, got %v", item.ExpiresAt)
	}
}

func testGetMissing(t *testing.T, factory Factory) {
	s, ctx := open(t, factory)
	if item := mustGet(t, ctx, s, "absent"); item != nil {
		t.Fatalf("expected nil, got %+v", item)
	}
}

func testOverwrite(t *testing.T, factory Factory) {
	s, ctx := open(t, factory)
	if err := s.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if item := mustGet(t, ctx, s, "k"); item == nil || string(item.Data) != "two" {
		t.Fatalf("expected overwritten value, got %+v", item)
	}
}

func testDeleteIdempotent(t *testing.T, factory Factory) {
	s, ctx := open(t, factory)
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete #%d: %v", i+1, err)
		}
	}
	if item := mustGet(t, ctx, s, "k"); item != nil {
		t.Fatalf("expected nil after delete, got %+v", item)
	}
}

func testDeletePrefix(t *testing.T, factory Factory) {
	s, ctx := open(t, factory)
	keys := []string{"pb.railgun.session:1", "pb.railgun.session:2", "railgun-artifact:v2", "pb.privacy.session:v1:1:0xa"}
	for _, k := range keys {
		if err := s.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	n, err := s.DeletePrefix(ctx, "pb.railgun.session")
	if err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
	for _, k := range keys[:2] {
		if item := mustGet(t, ctx, s, k); item != nil {
			t.Fatalf("expected %q deleted", k)
		}
	}
	for _, k := range keys[2:] {
		if item := mustGet(t, ctx, s, k); item == nil {
			t.Fatalf("expected %q retained", k)
		}
	}

	n, err = s.DeletePrefix(ctx, "pb.railgun.session")
	if err != nil {
		t.Fatalf("second DeletePrefix: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 deletions on second pass, got %d", n)
	}
}

func testDeletePrefixLiteral(t *testing.T, factory Factory) {
	s, ctx := open(t, factory)
	if err := s.Set(ctx, "a*b", []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "axb", []byte("2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	n, err := s.DeletePrefix(ctx, "a*")
	if err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected a literal match only, got %d deletions", n)
	}
	if item := mustGet(t, ctx, s, "axb"); item == nil {
		t.Fatal("wildcard characters in the prefix must not be expanded")
	}
}

func testTTL(t *testing.T, factory Factory) {
	s, ctx := open(t, factory)
	if err := s.Set(ctx, "short", []byte("v"), storage.WithTTL(50*time.Millisecond)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	item := mustGet(t, ctx, s, "short")
	if item == nil || item.ExpiresAt == nil {
		t.Fatalf("expected item with expiry, got %+v", item)
	}
	time.Sleep(1100 * time.Millisecond)
	if item := mustGet(t, ctx, s, "short"); item != nil {
		t.Fatalf("expected expired item to be gone, got %+v", item)
	}
}

func testInvalidTTL(t *testing.T, factory Factory) {
	s, ctx := open(t, factory)
	if err := s.Set(ctx, "k", []byte("v"), storage.WithTTL(0)); err != storage.ErrInvalidOptions {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
}

func testConcurrentWriters(t *testing.T, factory Factory) {
	s, ctx := open(t, factory)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Set(ctx, fmt.Sprintf("w:%02d", i), []byte{byte(i)}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Set: %v", err)
	}
	n, err := s.DeletePrefix(ctx, "w:")
	if err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if n != 16 {
		t.Fatalf("expected 16 keys, got %d", n)
	}
}
