// Package dispatcher composes the scheduling engine, the account directory,
// and the connection pool into the single call the relay layer makes per
// inbound request.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/connpool"
	"github.com/Await-d/claude-relay-service-sub004/internal/directory"
	"github.com/Await-d/claude-relay-service-sub004/internal/scheduler"
)

// Dispatch is everything the relay layer needs to forward one request
// upstream: the chosen account, its target, and a pooled transport handle.
type Dispatch struct {
	RequestID   string
	AccountID   string
	AccountType account.Type
	TargetHost  string
	PoolKey     connpool.Key
	Conn        *connpool.Entry
}

// Dispatcher routes one inbound request to an upstream account and its
// pooled connection.
type Dispatcher struct {
	engine   *scheduler.Engine
	registry *directory.Registry
	pool     *connpool.Manager
}

func New(engine *scheduler.Engine, registry *directory.Registry, pool *connpool.Manager) *Dispatcher {
	return &Dispatcher{engine: engine, registry: registry, pool: pool}
}

// Dispatch selects the account for the request and acquires a transport
// handle for its upstream target. Callers see scheduler.ErrNoEligibleAccount
// or connpool.ErrConnectionEstablish; everything else is absorbed below.
func (d *Dispatcher) Dispatch(ctx context.Context, caller scheduler.CallerConfig, fingerprint, model string) (*Dispatch, error) {
	sel, err := d.engine.SelectAccount(ctx, caller, fingerprint, model)
	if err != nil {
		return nil, err
	}

	a, err := d.registry.GetAccount(ctx, sel.AccountType, sel.AccountID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve selected account %s/%s: %w", sel.AccountType, sel.AccountID, err)
	}

	target := a.EffectiveTargetHost()
	conn, err := d.pool.Acquire(ctx, target, a.Proxy, false)
	if err != nil {
		return nil, err
	}

	return &Dispatch{
		RequestID:   uuid.NewString(),
		AccountID:   sel.AccountID,
		AccountType: sel.AccountType,
		TargetHost:  target,
		PoolKey:     conn.Key,
		Conn:        conn,
	}, nil
}

// ReportResult feeds the relay's request outcome back into the directory's
// recovery state and the pool's failure window. class chooses the account
// hold applied on failure.
func (d *Dispatcher) ReportResult(disp *Dispatch, success bool, class directory.FailureClass, cause error) {
	d.registry.RecordResult(disp.AccountType, disp.AccountID, success, class)
	if success {
		d.pool.RecordSuccess(disp.PoolKey)
		return
	}
	if cause != nil {
		d.pool.RecordFailure(disp.PoolKey, cause)
	}
}
