package directory

import (
	"context"
	"testing"
	"time"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *StoreProvider) {
	t.Helper()
	reg := NewRegistry(RegistryConfig{RateLimitCheckWindow: time.Nanosecond})
	t.Cleanup(reg.Close)
	p := NewStoreProvider(account.TypeClaudeOAuth, store.NewMemoryStore(), 0)
	reg.Register(p)
	return reg, p
}

func TestRegistryIsEligible(t *testing.T) {
	ctx := context.Background()
	reg, p := newTestRegistry(t)

	a := &account.Account{ID: "a1", Type: account.TypeClaudeOAuth, Active: true}
	if err := p.Upsert(a); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		acct  *account.Account
		model string
		want  bool
	}{
		{"active account", a, "", true},
		{"nil account", nil, "", false},
		{"inactive", &account.Account{ID: "a1", Type: account.TypeClaudeOAuth}, "", false},
		{"error state", &account.Account{ID: "a1", Type: account.TypeClaudeOAuth, Active: true, ErrorState: true}, "", false},
		{"blocked", &account.Account{ID: "a1", Type: account.TypeClaudeOAuth, Active: true, Blocked: true}, "", false},
		{
			"opus on free tier",
			&account.Account{ID: "a1", Type: account.TypeClaudeOAuth, Active: true, SubscriptionTier: "free"},
			"claude-opus-4",
			false,
		},
		{
			"no provider for type",
			&account.Account{ID: "x", Type: account.TypeBedrock, Active: true},
			"",
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.IsEligible(ctx, tt.acct, tt.model); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistryIsEligibleRateLimited(t *testing.T) {
	ctx := context.Background()
	reg, p := newTestRegistry(t)

	a := &account.Account{ID: "a1", Type: account.TypeClaudeOAuth, Active: true}
	if err := p.Upsert(a); err != nil {
		t.Fatal(err)
	}
	if err := p.SetRateLimited(ctx, "a1", time.Hour); err != nil {
		t.Fatal(err)
	}
	if reg.IsEligible(ctx, a, "") {
		t.Fatal("rate-limited account eligible")
	}

	if err := p.ClearRateLimit(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if !reg.IsEligible(ctx, a, "") {
		t.Fatal("cleared account still ineligible")
	}
}

func TestRegistryRecordResult(t *testing.T) {
	ctx := context.Background()
	reg, p := newTestRegistry(t)

	a := &account.Account{ID: "a1", Type: account.TypeClaudeOAuth, Active: true}
	if err := p.Upsert(a); err != nil {
		t.Fatal(err)
	}

	reg.RecordResult(account.TypeClaudeOAuth, "a1", false, FailureRateLimit)
	if reg.IsEligible(ctx, a, "") {
		t.Fatal("eligible inside recovery hold")
	}
	if !reg.Recovery().Open("claude-oauth:a1") {
		t.Fatal("recovery hold not open")
	}

	reg.RecordResult(account.TypeClaudeOAuth, "a1", true, FailureGeneric)
	if !reg.IsEligible(ctx, a, "") {
		t.Fatal("ineligible after success closed the hold")
	}
}

func TestRegistryGroups(t *testing.T) {
	reg, _ := newTestRegistry(t)

	g := &Group{
		ID:   "g1",
		Name: "primary",
		Members: []GroupMember{
			{Type: account.TypeClaudeOAuth, ID: "a1"},
			{Type: account.TypeClaudeOAuth, ID: "a2"},
		},
	}
	reg.RegisterGroup(g)

	got, ok := reg.Group("g1")
	if !ok || len(got.Members) != 2 {
		t.Fatalf("Group: ok=%v got=%+v", ok, got)
	}
	if _, ok := reg.Group("nope"); ok {
		t.Fatal("unknown group found")
	}
}
