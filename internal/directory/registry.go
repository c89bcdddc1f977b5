package directory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/Await-d/claude-relay-service-sub004/internal/account"
)

// Group names a fixed set of accounts a caller can bind to instead of the
// shared pool. Selection within a group runs the same strategy machinery
// scoped to the members.
type Group struct {
	ID      string
	Name    string
	Members []GroupMember
}

// GroupMember references one account inside a group.
type GroupMember struct {
	Type account.Type
	ID   string
}

// RegistryConfig configures the Registry.
type RegistryConfig struct {
	// RateLimitCheckWindow is how long a rate-limit check result stays
	// valid before the provider is consulted again. Zero uses 30s.
	RateLimitCheckWindow time.Duration
	// RateLimitCacheSize bounds the check cache. Zero uses 4096.
	RateLimitCacheSize int
}

// Registry holds the provider set keyed by account type, the account groups,
// and the cross-provider failure-recovery state. It is the scheduler's single
// entry point into the account directory.
type Registry struct {
	providers *xsync.Map[account.Type, Provider]
	groups    *xsync.Map[string, *Group]
	recovery  *RecoveryTracker
	rlChecks  *rateLimitCache
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	window := cfg.RateLimitCheckWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	size := cfg.RateLimitCacheSize
	if size <= 0 {
		size = 4096
	}
	return &Registry{
		providers: xsync.NewMap[account.Type, Provider](),
		groups:    xsync.NewMap[string, *Group](),
		recovery:  NewRecoveryTracker(),
		rlChecks:  newRateLimitCache(size, window),
	}
}

// Register adds (or replaces) the provider for its account type.
func (r *Registry) Register(p Provider) {
	r.providers.Store(p.Type(), p)
}

// Provider returns the provider for the given account type.
func (r *Registry) Provider(t account.Type) (Provider, bool) {
	return r.providers.Load(t)
}

// RangeProviders iterates the registered providers.
func (r *Registry) RangeProviders(fn func(Provider) bool) {
	r.providers.Range(func(_ account.Type, p Provider) bool {
		return fn(p)
	})
}

// RegisterGroup adds (or replaces) an account group.
func (r *Registry) RegisterGroup(g *Group) {
	r.groups.Store(g.ID, g)
}

// Group returns the group with the given ID.
func (r *Registry) Group(id string) (*Group, bool) {
	return r.groups.Load(id)
}

// Recovery exposes the failure-recovery tracker (relay feedback path).
func (r *Registry) Recovery() *RecoveryTracker {
	return r.recovery
}

// Close releases registry resources.
func (r *Registry) Close() {
	r.rlChecks.close()
}

func recoveryKey(t account.Type, id string) string {
	return string(t) + ":" + id
}

// GetAccount resolves one account through its provider.
func (r *Registry) GetAccount(ctx context.Context, t account.Type, id string) (*account.Account, error) {
	p, ok := r.providers.Load(t)
	if !ok {
		return nil, fmt.Errorf("%w: no provider for type %q", ErrAccountNotFound, t)
	}
	return p.GetAccount(ctx, id)
}

// RecordUsage routes a usage record to the owning provider.
func (r *Registry) RecordUsage(ctx context.Context, t account.Type, id string) error {
	p, ok := r.providers.Load(t)
	if !ok {
		return fmt.Errorf("%w: no provider for type %q", ErrAccountNotFound, t)
	}
	return p.RecordUsage(ctx, id)
}

// RecordResult feeds a relay request outcome back into recovery state.
// Successes close any open hold; failures escalate it. A rate-limit failure
// also invalidates the cached rate-limit check so the next eligibility pass
// sees the provider's current state.
func (r *Registry) RecordResult(t account.Type, id string, success bool, class FailureClass) {
	key := recoveryKey(t, id)
	if success {
		r.recovery.RecordSuccess(key)
		return
	}
	r.recovery.RecordFailure(key, class)
	if class == FailureRateLimit {
		r.rlChecks.invalidate(key)
	}
}

// IsEligible applies every selection predicate to the account: status flags,
// recovery holds, the (cached) provider rate-limit check, and model support.
// Provider or store errors during the check make the account ineligible for
// this pass rather than failing the selection.
func (r *Registry) IsEligible(ctx context.Context, a *account.Account, model string) bool {
	if a == nil || !a.StatusEligible() {
		return false
	}
	key := recoveryKey(a.Type, a.ID)
	if !r.recovery.Allow(key) {
		return false
	}
	if !a.SupportsModel(model) {
		return false
	}

	p, ok := r.providers.Load(a.Type)
	if !ok {
		return false
	}
	limited, err := r.rlChecks.check(ctx, key, func(ctx context.Context) (bool, error) {
		return p.IsRateLimited(ctx, a.ID)
	})
	if err != nil {
		log.Printf("directory: rate-limit check %s/%s: %v", a.Type, a.ID, err)
		return false
	}
	return !limited
}
