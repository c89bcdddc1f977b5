package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/store"
)

var strategyRNGPool = sync.Pool{
	New: func() any {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	},
}

// orderByStrategy orders the candidates of one priority tier in place
// according to the given strategy. cursorKey is the durable rotation cursor
// for round_robin and sequential; other strategies ignore it. Errors come
// only from cursor I/O and are recovered by the caller, never surfaced to
// the selection's caller.
func orderByStrategy(ctx context.Context, s store.Store, strat account.Strategy, cursorKey string, candidates []*account.Account) error {
	switch strat {
	case account.StrategyLeastRecent:
		orderLeastRecent(candidates)
	case account.StrategyLeastUsed:
		orderLeastUsed(candidates)
	case account.StrategyRoundRobin:
		return rotateByCursor(ctx, s, cursorKey, candidates)
	case account.StrategySequential:
		orderSequential(candidates)
		return rotateByCursor(ctx, s, cursorKey, candidates)
	case account.StrategyRandom:
		orderRandom(candidates)
	case account.StrategyWeightedRandom:
		orderWeightedRandom(candidates)
	default:
		return fmt.Errorf("unknown strategy %q", strat)
	}
	return nil
}

// orderLeastRecent sorts by last-used time ascending; never-used candidates
// come first, ties keep input order.
func orderLeastRecent(candidates []*account.Account) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastUsedAtNs < candidates[j].LastUsedAtNs
	})
}

func orderLeastUsed(candidates []*account.Account) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].UsageCount != candidates[j].UsageCount {
			return candidates[i].UsageCount < candidates[j].UsageCount
		}
		return candidates[i].LastUsedAtNs < candidates[j].LastUsedAtNs
	})
}

func orderSequential(candidates []*account.Account) {
	sort.SliceStable(candidates, func(i, j int) bool {
		oi, oj := candidates[i].SequentialOrder, candidates[j].SequentialOrder
		switch {
		case oi == nil && oj == nil:
			return candidates[i].ID < candidates[j].ID
		case oi == nil:
			return false
		case oj == nil:
			return true
		case *oi != *oj:
			return *oi < *oj
		default:
			return candidates[i].ID < candidates[j].ID
		}
	})
}

// rotateByCursor advances the tier's durable cursor by one and rotates the
// slice so the pre-advance index comes first. The cursor grows without bound;
// the index is taken modulo the current candidate count, so a racing caller
// merely skips one position.
func rotateByCursor(ctx context.Context, s store.Store, cursorKey string, candidates []*account.Account) error {
	if len(candidates) < 2 {
		return nil
	}
	n, err := s.Incr(ctx, cursorKey, 0)
	if err != nil {
		return fmt.Errorf("advance cursor %s: %w", cursorKey, err)
	}
	idx := int((n - 1) % int64(len(candidates)))
	rotated := make([]*account.Account, 0, len(candidates))
	rotated = append(rotated, candidates[idx:]...)
	rotated = append(rotated, candidates[:idx]...)
	copy(candidates, rotated)
	return nil
}

func orderRandom(candidates []*account.Account) {
	rng := strategyRNGPool.Get().(*rand.Rand)
	defer strategyRNGPool.Put(rng)
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
}

// orderWeightedRandom draws candidates without replacement, each draw
// proportional to the remaining candidates' weights. All-equal weights
// degenerate to a uniform shuffle.
func orderWeightedRandom(candidates []*account.Account) {
	rng := strategyRNGPool.Get().(*rand.Rand)
	defer strategyRNGPool.Put(rng)

	remaining := make([]*account.Account, len(candidates))
	copy(remaining, candidates)
	for out := 0; len(remaining) > 1; out++ {
		total := 0.0
		for _, a := range remaining {
			total += a.EffectiveWeight()
		}
		r := rng.Float64() * total
		picked := len(remaining) - 1
		for i, a := range remaining {
			r -= a.EffectiveWeight()
			if r < 0 {
				picked = i
				break
			}
		}
		candidates[out] = remaining[picked]
		remaining = append(remaining[:picked], remaining[picked+1:]...)
	}
	if len(remaining) == 1 {
		candidates[len(candidates)-1] = remaining[0]
	}
}
