package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/directory"
	"github.com/Await-d/claude-relay-service-sub004/internal/session"
	"github.com/Await-d/claude-relay-service-sub004/internal/store"
)

// ErrNoEligibleAccount is returned when selection finds no account to serve
// the request. The wrapped message distinguishes an empty pool from a pool
// with no account supporting the requested model.
var ErrNoEligibleAccount = errors.New("no eligible account")

// CallerConfig is the per-caller scheduling configuration. A bound account
// pins the caller to one account; a group scopes selection to the group's
// members; with neither, selection runs over the shared pool.
type CallerConfig struct {
	BoundAccountID   string
	BoundAccountType account.Type
	GroupID          string
}

// Selection is the outcome of one scheduling pass.
type Selection struct {
	AccountID   string
	AccountType account.Type
}

// Config configures the Engine.
type Config struct {
	// DefaultStrategy applies to accounts without an explicit strategy.
	// Zero value uses account.DefaultStrategy.
	DefaultStrategy account.Strategy
}

// Engine picks the upstream account for a request: binding resolution, then
// session affinity, then eligibility filtering and priority/strategy ranking
// over the candidate pool.
type Engine struct {
	registry *directory.Registry
	sessions *session.Tracker
	store    store.Store
	system   account.Strategy
}

// New creates an Engine.
func New(cfg Config, reg *directory.Registry, sessions *session.Tracker, s store.Store) *Engine {
	system := cfg.DefaultStrategy
	if system == "" {
		system = account.DefaultStrategy
	}
	return &Engine{
		registry: reg,
		sessions: sessions,
		store:    s,
		system:   system,
	}
}

// SelectAccount returns the account that should serve the request. The
// fingerprint and model are optional; an empty fingerprint disables session
// affinity and an empty model disables model filtering. Every successful
// selection records usage on the chosen account so recency and usage-count
// strategies stay correct.
func (e *Engine) SelectAccount(ctx context.Context, caller CallerConfig, fingerprint, model string) (Selection, error) {
	if caller.BoundAccountID != "" {
		return e.selectBound(ctx, caller, model)
	}

	// Group scoping resolves before session affinity: a group caller must
	// only ever see the group's members, so the unscoped affinity lookup
	// below would leak a foreign mapping into the group path.
	if caller.GroupID != "" {
		return e.selectFromGroup(ctx, caller.GroupID, fingerprint, model)
	}

	if sel, ok := e.fromAffinity(ctx, fingerprint, model, nil); ok {
		return e.finish(ctx, sel, "")
	}

	candidates, sawAny := e.listShared(ctx, model)
	return e.pick(ctx, candidates, sawAny, fingerprint, model, "cursor:")
}

// selectBound resolves a caller pinned to one account. A pinned account that
// is missing or ineligible fails the selection; the shared pool is never
// consulted.
func (e *Engine) selectBound(ctx context.Context, caller CallerConfig, model string) (Selection, error) {
	a, err := e.registry.GetAccount(ctx, caller.BoundAccountType, caller.BoundAccountID)
	if err != nil {
		return Selection{}, fmt.Errorf("%w: bound account %s/%s: %v",
			ErrNoEligibleAccount, caller.BoundAccountType, caller.BoundAccountID, err)
	}
	if !e.registry.IsEligible(ctx, a, model) {
		return Selection{}, fmt.Errorf("%w: bound account %s/%s is not currently eligible",
			ErrNoEligibleAccount, caller.BoundAccountType, caller.BoundAccountID)
	}
	return e.finish(ctx, Selection{AccountID: a.ID, AccountType: a.Type}, "")
}

// selectFromGroup runs the same affinity and ranking machinery scoped to the
// group's members. Group rotation cursors are namespaced so groups never
// interfere with the shared pool or each other.
func (e *Engine) selectFromGroup(ctx context.Context, groupID, fingerprint, model string) (Selection, error) {
	g, ok := e.registry.Group(groupID)
	if !ok {
		return Selection{}, fmt.Errorf("%w: unknown group %q", ErrNoEligibleAccount, groupID)
	}

	members := make(map[string]bool, len(g.Members))
	for _, m := range g.Members {
		members[string(m.Type)+":"+m.ID] = true
	}
	if sel, ok := e.fromAffinity(ctx, fingerprint, model, members); ok {
		return e.finish(ctx, sel, "")
	}

	var candidates []*account.Account
	sawAny := false
	for _, m := range g.Members {
		a, err := e.registry.GetAccount(ctx, m.Type, m.ID)
		if err != nil {
			log.Printf("scheduler: group %s member %s/%s: %v", groupID, m.Type, m.ID, err)
			continue
		}
		sawAny = true
		if e.registry.IsEligible(ctx, a, model) {
			candidates = append(candidates, a)
		}
	}
	return e.pick(ctx, candidates, sawAny, fingerprint, model, fmt.Sprintf("cursor:group:%s:", groupID))
}

// fromAffinity resolves a sticky-session hit. The mapped account is
// revalidated against current eligibility (and group membership when scoped);
// a stale mapping is deleted so the caller falls through to a fresh ranking.
func (e *Engine) fromAffinity(ctx context.Context, fingerprint, model string, members map[string]bool) (Selection, bool) {
	if fingerprint == "" {
		return Selection{}, false
	}
	m, ok, err := e.sessions.Lookup(ctx, fingerprint)
	if err != nil {
		log.Printf("scheduler: affinity lookup %s: %v", fingerprint, err)
		return Selection{}, false
	}
	if !ok {
		return Selection{}, false
	}
	if members != nil && !members[string(m.AccountType)+":"+m.AccountID] {
		return Selection{}, false
	}

	a, err := e.registry.GetAccount(ctx, m.AccountType, m.AccountID)
	if err == nil && e.registry.IsEligible(ctx, a, model) {
		return Selection{AccountID: a.ID, AccountType: a.Type}, true
	}
	if err := e.sessions.Invalidate(ctx, fingerprint); err != nil {
		log.Printf("scheduler: affinity invalidate %s: %v", fingerprint, err)
	}
	return Selection{}, false
}

// listShared enumerates the shared pool across all providers and filters it
// down to eligible candidates. sawAny reports whether any account existed at
// all, eligible or not, so the caller can word the empty-set error.
func (e *Engine) listShared(ctx context.Context, model string) (candidates []*account.Account, sawAny bool) {
	e.registry.RangeProviders(func(p directory.Provider) bool {
		accounts, listErr := p.ListShared(ctx)
		if listErr != nil {
			log.Printf("scheduler: list %s accounts: %v", p.Type(), listErr)
			return true
		}
		for _, a := range accounts {
			sawAny = true
			if e.registry.IsEligible(ctx, a, model) {
				candidates = append(candidates, a)
			}
		}
		return true
	})
	return candidates, sawAny
}

// pick ranks the candidates and commits the head: persist affinity, record
// usage. cursorPrefix namespaces the rotation cursors of this candidate
// scope.
func (e *Engine) pick(ctx context.Context, candidates []*account.Account, sawAny bool, fingerprint, model, cursorPrefix string) (Selection, error) {
	if len(candidates) == 0 {
		if sawAny && model != "" {
			return Selection{}, fmt.Errorf("%w: no account supports model %q", ErrNoEligibleAccount, model)
		}
		return Selection{}, fmt.Errorf("%w: no accounts available", ErrNoEligibleAccount)
	}

	tier := lowestTier(candidates)
	ordered := e.orderTier(ctx, tier, cursorPrefix)
	head := ordered[0]

	return e.finish(ctx, Selection{AccountID: head.ID, AccountType: head.Type}, fingerprint)
}

// lowestTier returns the candidates in the best (numerically lowest) priority
// tier, preserving input order.
func lowestTier(candidates []*account.Account) []*account.Account {
	best := candidates[0].EffectivePriority()
	for _, a := range candidates[1:] {
		if p := a.EffectivePriority(); p < best {
			best = p
		}
	}
	tier := candidates[:0:0]
	for _, a := range candidates {
		if a.EffectivePriority() == best {
			tier = append(tier, a)
		}
	}
	return tier
}

// orderTier orders one priority tier. A tier whose candidates agree on a
// strategy applies it once; a mixed tier partitions by strategy, orders each
// partition independently, then interleaves the partitions weighted by size.
// A failing strategy downgrades that tier (or partition) to least_recent.
func (e *Engine) orderTier(ctx context.Context, tier []*account.Account, cursorPrefix string) []*account.Account {
	priority := tier[0].EffectivePriority()

	uniform := true
	first := tier[0].EffectiveStrategy(e.system)
	for _, a := range tier[1:] {
		if a.EffectiveStrategy(e.system) != first {
			uniform = false
			break
		}
	}

	if uniform {
		cursorKey := fmt.Sprintf("%spriority:%d", cursorPrefix, priority)
		e.applyStrategy(ctx, first, cursorKey, tier)
		return tier
	}

	byStrategy := make(map[account.Strategy][]*account.Account)
	for _, a := range tier {
		s := a.EffectiveStrategy(e.system)
		byStrategy[s] = append(byStrategy[s], a)
	}
	partitions := make([][]*account.Account, 0, len(byStrategy))
	strategies := make([]account.Strategy, 0, len(byStrategy))
	for s := range byStrategy {
		strategies = append(strategies, s)
	}
	sort.Slice(strategies, func(i, j int) bool {
		si, sj := strategies[i], strategies[j]
		if len(byStrategy[si]) != len(byStrategy[sj]) {
			return len(byStrategy[si]) > len(byStrategy[sj])
		}
		return si < sj
	})
	for _, s := range strategies {
		part := byStrategy[s]
		// Per-strategy cursor suffix: partitions of a mixed tier must not
		// share a rotation cursor with each other or with a uniform tier.
		cursorKey := fmt.Sprintf("%spriority:%d:%s", cursorPrefix, priority, s)
		e.applyStrategy(ctx, s, cursorKey, part)
		partitions = append(partitions, part)
	}
	return interleavePartitions(partitions)
}

func (e *Engine) applyStrategy(ctx context.Context, s account.Strategy, cursorKey string, candidates []*account.Account) {
	if err := orderByStrategy(ctx, e.store, s, cursorKey, candidates); err != nil {
		log.Printf("scheduler: strategy %s: %v; falling back to %s", s, err, account.StrategyLeastRecent)
		orderLeastRecent(candidates)
	}
}

// finish persists session affinity for the selection and records usage on
// the chosen account. Neither write can fail the selection itself.
func (e *Engine) finish(ctx context.Context, sel Selection, fingerprint string) (Selection, error) {
	if fingerprint != "" {
		m := session.Mapping{AccountID: sel.AccountID, AccountType: sel.AccountType}
		if err := e.sessions.Bind(ctx, fingerprint, m); err != nil {
			log.Printf("scheduler: affinity bind %s: %v", fingerprint, err)
		}
	}
	if err := e.registry.RecordUsage(ctx, sel.AccountType, sel.AccountID); err != nil {
		log.Printf("scheduler: record usage %s/%s: %v", sel.AccountType, sel.AccountID, err)
	}
	return sel, nil
}
