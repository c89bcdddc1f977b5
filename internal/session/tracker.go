package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/store"
)

const keyPrefix = "sticky"

// DefaultTTL bounds the lifetime of an affinity entry.
const DefaultTTL = time.Hour

// Mapping is the value side of a session-affinity entry.
type Mapping struct {
	AccountID   string       `json:"account_id"`
	AccountType account.Type `json:"account_type"`
}

// Tracker maps session fingerprints to previously selected accounts through
// the durable store. Entries are revalidated by the scheduler on every
// lookup; the tracker itself only stores, reads, and deletes.
type Tracker struct {
	store store.Store
	ttl   time.Duration
}

// NewTracker creates a Tracker writing entries with the given TTL
// (DefaultTTL when non-positive).
func NewTracker(s store.Store, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{store: s, ttl: ttl}
}

func entryKey(fingerprint string) string {
	return keyPrefix + ":" + fingerprint
}

// Lookup returns the mapping for fingerprint, if one is live.
func (t *Tracker) Lookup(ctx context.Context, fingerprint string) (Mapping, bool, error) {
	raw, ok, err := t.store.Get(ctx, entryKey(fingerprint))
	if err != nil {
		return Mapping{}, false, fmt.Errorf("session lookup: %w", err)
	}
	if !ok {
		return Mapping{}, false, nil
	}
	var m Mapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		// Corrupt entry: drop it rather than poisoning future lookups.
		_ = t.store.Delete(ctx, entryKey(fingerprint))
		return Mapping{}, false, nil
	}
	return m, true, nil
}

// Bind writes (or supersedes) the affinity entry for fingerprint.
func (t *Tracker) Bind(ctx context.Context, fingerprint string, m Mapping) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("session bind: %w", err)
	}
	if err := t.store.SetWithTTL(ctx, entryKey(fingerprint), string(raw), t.ttl); err != nil {
		return fmt.Errorf("session bind: %w", err)
	}
	return nil
}

// Invalidate removes the affinity entry for fingerprint. Used when the mapped
// account is found ineligible on revalidation.
func (t *Tracker) Invalidate(ctx context.Context, fingerprint string) error {
	if err := t.store.Delete(ctx, entryKey(fingerprint)); err != nil {
		return fmt.Errorf("session invalidate: %w", err)
	}
	return nil
}
