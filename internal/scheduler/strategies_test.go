package scheduler

import (
	"context"
	"testing"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/store"
)

func ids(accounts []*account.Account) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.ID
	}
	return out
}

func assertOrder(t *testing.T, got []*account.Account, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("order: got %v, want %v", ids(got), want)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("order: got %v, want %v", ids(got), want)
		}
	}
}

func TestOrderLeastRecent(t *testing.T) {
	candidates := []*account.Account{
		{ID: "a", LastUsedAtNs: 300},
		{ID: "b", LastUsedAtNs: 100},
		{ID: "c"}, // never used
		{ID: "d", LastUsedAtNs: 200},
	}
	orderLeastRecent(candidates)
	assertOrder(t, candidates, "c", "b", "d", "a")
}

func TestOrderLeastUsed(t *testing.T) {
	candidates := []*account.Account{
		{ID: "a", UsageCount: 5, LastUsedAtNs: 100},
		{ID: "b", UsageCount: 2, LastUsedAtNs: 300},
		{ID: "c", UsageCount: 2, LastUsedAtNs: 100},
		{ID: "d"},
	}
	orderLeastUsed(candidates)
	assertOrder(t, candidates, "d", "c", "b", "a")
}

func TestOrderSequential(t *testing.T) {
	o1, o2 := 1, 2
	candidates := []*account.Account{
		{ID: "z"}, // no order: last, ties by ID
		{ID: "b", SequentialOrder: &o2},
		{ID: "a", SequentialOrder: &o1},
		{ID: "m"},
	}
	orderSequential(candidates)
	assertOrder(t, candidates, "a", "b", "m", "z")
}

func TestRotateByCursor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	// three consecutive passes over [a b c] visit each head exactly once
	seen := make(map[string]int)
	for i := 0; i < 3; i++ {
		candidates := []*account.Account{{ID: "a"}, {ID: "b"}, {ID: "c"}}
		if err := rotateByCursor(ctx, s, "cursor:test", candidates); err != nil {
			t.Fatal(err)
		}
		seen[candidates[0].ID]++
	}
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != 1 {
			t.Fatalf("round-robin heads: %v", seen)
		}
	}

	// the fourth pass wraps back to the first
	candidates := []*account.Account{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if err := rotateByCursor(ctx, s, "cursor:test", candidates); err != nil {
		t.Fatal(err)
	}
	if candidates[0].ID != "a" {
		t.Fatalf("wrap-around head: got %s, want a", candidates[0].ID)
	}
}

func TestRotateByCursorSingleCandidate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	candidates := []*account.Account{{ID: "only"}}
	if err := rotateByCursor(ctx, s, "cursor:solo", candidates); err != nil {
		t.Fatal(err)
	}
	// a single candidate must not burn a cursor position
	if _, ok, _ := s.Get(ctx, "cursor:solo"); ok {
		t.Fatal("cursor advanced for a single candidate")
	}
}

func TestOrderRandomPermutes(t *testing.T) {
	candidates := []*account.Account{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	orderRandom(candidates)

	seen := make(map[string]bool)
	for _, a := range candidates {
		seen[a.ID] = true
	}
	if len(seen) != 4 {
		t.Fatalf("shuffle lost candidates: %v", ids(candidates))
	}
}

func TestOrderWeightedRandomConvergence(t *testing.T) {
	// a 9:1 weight split should put the heavy account first in roughly 90%
	// of draws; 32% is far enough from both to make flakes negligible
	const trials = 2000
	heavyFirst := 0
	for i := 0; i < trials; i++ {
		candidates := []*account.Account{
			{ID: "heavy", Weight: 9},
			{ID: "light", Weight: 1},
		}
		orderWeightedRandom(candidates)
		if candidates[0].ID == "heavy" {
			heavyFirst++
		}
	}
	ratio := float64(heavyFirst) / trials
	if ratio < 0.82 || ratio > 0.97 {
		t.Fatalf("heavy-first ratio %.3f outside [0.82, 0.97]", ratio)
	}
}

func TestOrderWeightedRandomKeepsAll(t *testing.T) {
	candidates := []*account.Account{
		{ID: "a", Weight: 1}, {ID: "b", Weight: 2}, {ID: "c", Weight: 3},
	}
	orderWeightedRandom(candidates)
	seen := make(map[string]bool)
	for _, a := range candidates {
		seen[a.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("weighted draw lost candidates: %v", ids(candidates))
	}
}

func TestOrderByStrategyUnknown(t *testing.T) {
	ctx := context.Background()
	err := orderByStrategy(ctx, store.NewMemoryStore(), "fastest", "k", nil)
	if err == nil {
		t.Fatal("unknown strategy accepted")
	}
}
