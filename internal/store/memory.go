package store

import (
	"context"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// memEntry is a value with an optional expiry deadline (0 = no expiry).
type memEntry struct {
	value     string
	expiresNs int64
}

func (e memEntry) expired(nowNs int64) bool {
	return e.expiresNs != 0 && e.expiresNs < nowNs
}

// MemoryStore is an in-process Store backed by an xsync map. Used in tests
// and in deployments that accept losing affinity/cursor state on restart.
type MemoryStore struct {
	entries *xsync.Map[string, memEntry]
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: xsync.NewMap[string, memEntry](),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	e, ok := s.entries.Load(key)
	if !ok || e.expired(s.now().UnixNano()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.entries.Store(key, memEntry{value: value})
	return nil
}

func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	var deadline int64
	if ttl > 0 {
		deadline = s.now().Add(ttl).UnixNano()
	}
	s.entries.Store(key, memEntry{value: value, expiresNs: deadline})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.entries.Delete(key)
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	nowNs := s.now().UnixNano()
	var next int64
	s.entries.Compute(key, func(old memEntry, loaded bool) (memEntry, xsync.ComputeOp) {
		var current int64
		if loaded && !old.expired(nowNs) {
			current, _ = strconv.ParseInt(old.value, 10, 64)
		}
		next = current + 1
		e := memEntry{value: strconv.FormatInt(next, 10), expiresNs: old.expiresNs}
		if !loaded || old.expired(nowNs) {
			e.expiresNs = 0
		}
		if ttl > 0 {
			e.expiresNs = nowNs + int64(ttl)
		}
		return e, xsync.UpdateOp
	})
	return next, nil
}

// Sweep removes expired entries. The SQLite store purges on a cron schedule;
// the memory store exposes the same operation for callers that want it.
func (s *MemoryStore) Sweep() int {
	nowNs := s.now().UnixNano()
	removed := 0
	s.entries.Range(func(key string, e memEntry) bool {
		if !e.expired(nowNs) {
			return true
		}
		s.entries.Compute(key, func(cur memEntry, loaded bool) (memEntry, xsync.ComputeOp) {
			if loaded && cur.expired(nowNs) {
				removed++
				return cur, xsync.DeleteOp
			}
			return cur, xsync.CancelOp
		})
		return true
	})
	return removed
}

// Size returns the number of live entries (expired-but-unswept included).
func (s *MemoryStore) Size() int {
	return s.entries.Size()
}
