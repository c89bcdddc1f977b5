// Package directory implements the account directory: per-provider account
// accessors behind a single capability interface, a registry keyed by account
// type, and the per-account failure-recovery state consulted during
// eligibility checks.
package directory

import (
	"context"
	"errors"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
)

// ErrAccountNotFound is returned by GetAccount for unknown account IDs.
var ErrAccountNotFound = errors.New("account not found")

// Provider is the capability set every account provider implements. The
// scheduler is polymorphic over this interface; provider-specific behavior
// (credential refresh, rate-limit bookkeeping) lives behind it.
type Provider interface {
	// Type returns the account type tag this provider serves.
	Type() account.Type

	// GetAccount returns the normalized record for one account,
	// usage statistics overlaid. Returns ErrAccountNotFound for unknown IDs.
	GetAccount(ctx context.Context, id string) (*account.Account, error)

	// ListShared returns every account in this provider's shared pool,
	// usage statistics overlaid. Dedicated (bound-only) accounts are excluded.
	ListShared(ctx context.Context) ([]*account.Account, error)

	// IsRateLimited reports whether the account is in a transient
	// rate-limited state.
	IsRateLimited(ctx context.Context, id string) (bool, error)

	// RecordUsage increments the account's usage counter and stamps its
	// last-used/last-scheduled timestamps. Called once per selection.
	RecordUsage(ctx context.Context, id string) error
}
