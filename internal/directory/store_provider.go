package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/store"
)

// DefaultUsageTTL is the cleanup backstop on usage counters and timestamps.
const DefaultUsageTTL = 30 * 24 * time.Hour

// StoreProvider is a Provider whose account records live in process memory
// (seeded at boot, mutated by admin operations) and whose usage statistics
// and rate-limit state live in the durable store, so they survive restarts
// and are shared across replicas.
//
// Store key shapes:
//
//	usage:{type}:{id}     usage counter (TTL backstop)
//	usagets:{type}:{id}   last-used/last-scheduled timestamps, JSON
//	ratelimit:{type}:{id} present while the account is rate-limited
type StoreProvider struct {
	typ      account.Type
	store    store.Store
	accounts *xsync.Map[string, *account.Account]
	usageTTL time.Duration
	now      func() time.Time
}

type usageTimestamps struct {
	LastUsedAtNs      int64 `json:"last_used_at_ns"`
	LastScheduledAtNs int64 `json:"last_scheduled_at_ns"`
}

// NewStoreProvider creates a provider for the given account type.
func NewStoreProvider(typ account.Type, s store.Store, usageTTL time.Duration) *StoreProvider {
	if usageTTL <= 0 {
		usageTTL = DefaultUsageTTL
	}
	return &StoreProvider{
		typ:      typ,
		store:    s,
		accounts: xsync.NewMap[string, *account.Account](),
		usageTTL: usageTTL,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (p *StoreProvider) SetClock(now func() time.Time) { p.now = now }

func (p *StoreProvider) Type() account.Type { return p.typ }

// Upsert installs (or replaces) an account record. The record is cloned so
// later caller mutations cannot leak into the directory.
func (p *StoreProvider) Upsert(a *account.Account) error {
	if a.ID == "" {
		return fmt.Errorf("directory: account ID must not be empty")
	}
	if a.Type != p.typ {
		return fmt.Errorf("directory: account %s has type %q, provider serves %q", a.ID, a.Type, p.typ)
	}
	if err := a.Proxy.Validate(); err != nil {
		return fmt.Errorf("directory: account %s: %w", a.ID, err)
	}
	p.accounts.Store(a.ID, a.Clone())
	return nil
}

// Remove deletes an account record.
func (p *StoreProvider) Remove(id string) {
	p.accounts.Delete(id)
}

func (p *StoreProvider) usageKey(id string) string     { return fmt.Sprintf("usage:%s:%s", p.typ, id) }
func (p *StoreProvider) usageTsKey(id string) string   { return fmt.Sprintf("usagets:%s:%s", p.typ, id) }
func (p *StoreProvider) rateLimitKey(id string) string { return fmt.Sprintf("ratelimit:%s:%s", p.typ, id) }

func (p *StoreProvider) GetAccount(ctx context.Context, id string) (*account.Account, error) {
	rec, ok := p.accounts.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, p.typ, id)
	}
	a := rec.Clone()
	if err := p.overlayUsage(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (p *StoreProvider) ListShared(ctx context.Context) ([]*account.Account, error) {
	var out []*account.Account
	p.accounts.Range(func(_ string, rec *account.Account) bool {
		out = append(out, rec.Clone())
		return true
	})
	// Overlay outside the Range: store reads must not run inside map iteration.
	kept := out[:0]
	for _, a := range out {
		if err := p.overlayUsage(ctx, a); err != nil {
			log.Printf("directory: usage overlay %s/%s: %v", p.typ, a.ID, err)
			continue
		}
		kept = append(kept, a)
	}
	return kept, nil
}

// overlayUsage fills UsageCount and the last-used/last-scheduled timestamps
// from the durable store.
func (p *StoreProvider) overlayUsage(ctx context.Context, a *account.Account) error {
	raw, ok, err := p.store.Get(ctx, p.usageKey(a.ID))
	if err != nil {
		return fmt.Errorf("read usage counter: %w", err)
	}
	if ok {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			a.UsageCount = n
		}
	}

	raw, ok, err = p.store.Get(ctx, p.usageTsKey(a.ID))
	if err != nil {
		return fmt.Errorf("read usage timestamps: %w", err)
	}
	if ok {
		var ts usageTimestamps
		if err := json.Unmarshal([]byte(raw), &ts); err == nil {
			a.LastUsedAtNs = ts.LastUsedAtNs
			a.LastScheduledAtNs = ts.LastScheduledAtNs
		}
	}
	return nil
}

func (p *StoreProvider) IsRateLimited(ctx context.Context, id string) (bool, error) {
	_, ok, err := p.store.Get(ctx, p.rateLimitKey(id))
	if err != nil {
		return false, fmt.Errorf("rate-limit read %s/%s: %w", p.typ, id, err)
	}
	return ok, nil
}

// SetRateLimited marks the account rate-limited for the given duration.
// Called by the relay layer when the upstream returns a limit response.
func (p *StoreProvider) SetRateLimited(ctx context.Context, id string, d time.Duration) error {
	return p.store.SetWithTTL(ctx, p.rateLimitKey(id), strconv.FormatInt(p.now().UnixNano(), 10), d)
}

// ClearRateLimit removes the account's rate-limited state.
func (p *StoreProvider) ClearRateLimit(ctx context.Context, id string) error {
	return p.store.Delete(ctx, p.rateLimitKey(id))
}

func (p *StoreProvider) RecordUsage(ctx context.Context, id string) error {
	if _, ok := p.accounts.Load(id); !ok {
		return fmt.Errorf("%w: %s/%s", ErrAccountNotFound, p.typ, id)
	}
	if _, err := p.store.Incr(ctx, p.usageKey(id), p.usageTTL); err != nil {
		return fmt.Errorf("record usage %s/%s: %w", p.typ, id, err)
	}
	nowNs := p.now().UnixNano()
	ts := usageTimestamps{LastUsedAtNs: nowNs, LastScheduledAtNs: nowNs}
	raw, err := json.Marshal(ts)
	if err != nil {
		return err
	}
	if err := p.store.SetWithTTL(ctx, p.usageTsKey(id), string(raw), p.usageTTL); err != nil {
		return fmt.Errorf("record usage %s/%s: %w", p.typ, id, err)
	}
	return nil
}
