package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v1" {
		t.Fatalf("Get: got (%q, %v, %v)", v, ok, err)
	}

	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, _, _ = s.Get(ctx, "k")
	if v != "v2" {
		t.Fatalf("Get after overwrite: got %q, want v2", v)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("Get after delete: key still present")
	}

	// deleting an absent key is not an error
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return now })

	if err := s.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("key absent before expiry")
	}

	now = now.Add(time.Minute + time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("key readable after expiry")
	}

	// non-positive ttl behaves like Set
	if err := s.SetWithTTL(ctx, "p", "v", 0); err != nil {
		t.Fatal(err)
	}
	now = now.Add(24 * time.Hour)
	if _, ok, _ := s.Get(ctx, "p"); !ok {
		t.Fatal("no-ttl key expired")
	}
}

func TestMemoryStoreIncr(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return now })

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "ctr", 0)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Fatalf("Incr: got %d, want %d", n, want)
		}
	}

	// expired counter restarts from zero
	if _, err := s.Incr(ctx, "ttl-ctr", time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	n, err := s.Incr(ctx, "ttl-ctr", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Incr after expiry: got %d, want 1", n)
	}

	// ttl refreshed on every increment
	now = now.Add(45 * time.Second)
	n, _ = s.Incr(ctx, "ttl-ctr", time.Minute)
	if n != 2 {
		t.Fatalf("Incr within refreshed ttl: got %d, want 2", n)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return now })

	s.Set(ctx, "keep", "v")
	s.SetWithTTL(ctx, "gone1", "v", time.Second)
	s.SetWithTTL(ctx, "gone2", "v", time.Second)
	s.SetWithTTL(ctx, "fresh", "v", time.Hour)

	now = now.Add(time.Minute)
	if removed := s.Sweep(); removed != 2 {
		t.Fatalf("Sweep: removed %d, want 2", removed)
	}
	if s.Size() != 2 {
		t.Fatalf("Size after sweep: got %d, want 2", s.Size())
	}
}
