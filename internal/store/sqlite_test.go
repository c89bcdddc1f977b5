package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := MigrateDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := NewSQLiteStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

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
}

func TestSQLiteStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

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
}

func TestSQLiteStoreIncr(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

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

	// counter with ttl restarts after expiry
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
}

func TestSQLiteStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	now := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return now })

	s.Set(ctx, "keep", "v")
	s.SetWithTTL(ctx, "gone1", "v", time.Second)
	s.SetWithTTL(ctx, "gone2", "v", time.Second)
	s.SetWithTTL(ctx, "fresh", "v", time.Hour)

	now = now.Add(time.Minute)
	removed, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("PurgeExpired: removed %d, want 2", removed)
	}

	if _, ok, _ := s.Get(ctx, "keep"); !ok {
		t.Fatal("unexpired key purged")
	}
	if _, ok, _ := s.Get(ctx, "fresh"); !ok {
		t.Fatal("fresh key purged")
	}
}
