package connpool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/netutil"
	"github.com/Await-d/claude-relay-service-sub004/internal/scanloop"
)

// ErrConnectionEstablish is returned when a handle cannot be built: dial
// timeout, refusal, or a failed proxy reachability probe.
var ErrConnectionEstablish = errors.New("connection establish failed")

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("connection pool closed")

// Config tunes the pool. Zero fields take the defaults below.
type Config struct {
	ConnectTimeout time.Duration // handle construction deadline (default 30s)
	ProbeTimeout   time.Duration // proxy reachability probe deadline (default 10s)

	HealthInterval  time.Duration // health pass cadence (default 30s)
	CleanupInterval time.Duration // cleanup pass cadence (default 1m)
	IdleEvict       time.Duration // entry idle eviction threshold (default 10m)
	StatsEvict      time.Duration // per-key stats pruning threshold (default 30m)

	FailureWindow  time.Duration // failure record sliding window (default 5m)
	MaxFailures    int           // in-window failures before quarantine (default 5)
	RecoveryWindow time.Duration // quarantine duration (default 5m)
	MinErrorSample int           // attempts before error rate applies (default 20)

	MaxConnsPerHost     int // per-key socket ceiling (default 50)
	MaxIdleConnsPerHost int // per-key idle socket cap (default 10)
}

const poolErrorRateThreshold = 0.10

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleEvict <= 0 {
		c.IdleEvict = 10 * time.Minute
	}
	if c.StatsEvict <= 0 {
		c.StatsEvict = 30 * time.Minute
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 5 * time.Minute
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = 5 * time.Minute
	}
	if c.MinErrorSample <= 0 {
		c.MinErrorSample = 20
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 50
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 10
	}
	return c
}

// Manager owns the pooled handle cache, the failure window per key, and the
// recovery set for quarantined keys. Safe for concurrent use.
type Manager struct {
	cfg     Config
	builder DialerBuilder

	entries    *xsync.Map[Key, *Entry]
	failures   *xsync.Map[Key, *failureList]
	recovering *xsync.Map[Key, int64] // key -> quarantine deadline ns

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewManager creates a pool. Start must be called to run the maintenance
// loops; Acquire works without them.
func NewManager(cfg Config, builder DialerBuilder) *Manager {
	return &Manager{
		cfg:        cfg.withDefaults(),
		builder:    builder,
		entries:    xsync.NewMap[Key, *Entry](),
		failures:   xsync.NewMap[Key, *failureList](),
		recovering: xsync.NewMap[Key, int64](),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Start launches the periodic health and cleanup passes.
func (m *Manager) Start() {
	scanloop.Go(&m.wg, m.stopCh, "connpool health", m.cfg.HealthInterval, m.healthPass)
	scanloop.Go(&m.wg, m.stopCh, "connpool cleanup", m.cfg.CleanupInterval, m.cleanupPass)
}

// KeyFor returns the pool key for a target and optional proxy descriptor.
func KeyFor(target string, proxy *account.ProxySpec) Key {
	return NewKey(proxy.Canonical(), netutil.CanonicalHost(target))
}

// Acquire returns a healthy pooled handle for (target, proxy), building one
// when none is cached. A key inside its recovery window always gets a fresh,
// uncached handle; once the window elapses its failure history is cleared and
// caching resumes. forceNew replaces any cached handle.
func (m *Manager) Acquire(ctx context.Context, target string, proxy *account.ProxySpec, forceNew bool) (*Entry, error) {
	if m.closed.Load() {
		// Wrapped so acquire callers only ever handle the establish error
		// class; ErrPoolClosed stays matchable for the shutdown race.
		return nil, fmt.Errorf("%w: %w", ErrConnectionEstablish, ErrPoolClosed)
	}
	host := netutil.CanonicalHost(target)
	if host == "" {
		return nil, fmt.Errorf("%w: empty target host", ErrConnectionEstablish)
	}
	canonical := proxy.Canonical()
	key := NewKey(canonical, host)
	nowNs := m.now().UnixNano()

	if deadline, ok := m.recovering.Load(key); ok {
		if nowNs < deadline {
			// Quarantined: serve a fresh handle, never the cache.
			return m.build(ctx, key, host, canonical, proxy)
		}
		m.recovering.Delete(key)
		m.failures.Delete(key)
		log.Printf("connpool: key %s recovered, history cleared", key)
	}

	if !forceNew {
		if e, ok := m.entries.Load(key); ok {
			e.Touch(nowNs)
			return e, nil
		}
	}

	built, err := m.build(ctx, key, host, canonical, proxy)
	if err != nil {
		return nil, err
	}

	if forceNew {
		if old, ok := m.entries.LoadAndDelete(key); ok {
			old.Close()
		}
		m.entries.Store(key, built)
		return built, nil
	}
	actual, loaded := m.entries.LoadOrStore(key, built)
	if loaded {
		// Lost the build race; discard ours and reuse the winner.
		built.Close()
		actual.Touch(nowNs)
	}
	return actual, nil
}

// build constructs a handle. Proxied handles are reachability-probed before
// they are handed out; a failed probe fails the acquisition rather than
// caching a broken handle.
func (m *Manager) build(ctx context.Context, key Key, host, canonical string, proxy *account.ProxySpec) (*Entry, error) {
	dialer, err := m.builder.Build(proxy)
	if err != nil {
		return nil, fmt.Errorf("%w: %s via %s: %v", ErrConnectionEstablish, host, canonical, err)
	}
	e := newEntry(key, host, canonical, dialer, m.now().UnixNano(), m.cfg.MaxConnsPerHost, m.cfg.MaxIdleConnsPerHost)

	if proxy != nil {
		if err := m.probe(ctx, e); err != nil {
			e.Close()
			m.RecordFailure(key, err)
			return nil, fmt.Errorf("%w: probe %s via %s: %v", ErrConnectionEstablish, host, canonical, err)
		}
	}
	return e, nil
}

// probe issues one lightweight request to the entry's target through its
// transport. Any HTTP response counts as reachable; only transport errors
// fail the probe.
func (m *Manager) probe(ctx context.Context, e *Entry) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://"+e.TargetHost+"/", nil)
	if err != nil {
		return err
	}
	client := &http.Client{
		Transport: e.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// RecordFailure appends a failure record for the key and quarantines it when
// the in-window count exceeds the configured maximum (fast path, without
// waiting for the next health pass). Called by the relay layer on socket
// errors and by build on probe failures.
func (m *Manager) RecordFailure(key Key, cause error) {
	nowNs := m.now().UnixNano()
	if e, ok := m.entries.Load(key); ok {
		e.recordError(cause)
	}

	list, _ := m.failures.LoadOrCompute(key, func() (*failureList, bool) {
		return newFailureList(m.cfg.FailureWindow), false
	})
	code := "error"
	if isTimeout(cause) {
		code = "timeout"
	}
	count := list.append(nowNs, cause.Error(), code)
	if count > m.cfg.MaxFailures {
		m.markUnhealthy(key, nowNs, fmt.Sprintf("%d failures in window", count))
	}
}

// RecordSuccess marks activity on the key's entry.
func (m *Manager) RecordSuccess(key Key) {
	if e, ok := m.entries.Load(key); ok {
		e.Touch(m.now().UnixNano())
	}
}

// Failures returns the key's in-window failure records.
func (m *Manager) Failures(key Key) []FailureRecord {
	list, ok := m.failures.Load(key)
	if !ok {
		return nil
	}
	return list.snapshot(m.now().UnixNano())
}

// markUnhealthy evicts the key's entry and opens its recovery window.
func (m *Manager) markUnhealthy(key Key, nowNs int64, reason string) {
	if e, ok := m.entries.LoadAndDelete(key); ok {
		e.Close()
	}
	if _, loaded := m.recovering.LoadOrStore(key, nowNs+int64(m.cfg.RecoveryWindow)); !loaded {
		log.Printf("connpool: key %s marked unhealthy (%s), recovering for %s", key, reason, m.cfg.RecoveryWindow)
	}
}

// healthPass evaluates every cached entry against the three unhealthy
// conditions: prolonged inactivity, excess error rate over a minimum sample,
// and live sockets beyond the per-key ceiling.
func (m *Manager) healthPass() {
	nowNs := m.now().UnixNano()
	idleLimit := 2 * int64(m.cfg.HealthInterval)
	socketCeiling := int64(float64(m.cfg.MaxConnsPerHost) * 1.2)

	m.entries.Range(func(key Key, e *Entry) bool {
		switch {
		case nowNs-e.LastActivityNs() > idleLimit:
			m.markUnhealthy(key, nowNs, "no activity")
		default:
			if rate, total := e.errorRate(); total >= int64(m.cfg.MinErrorSample) && rate > poolErrorRateThreshold {
				m.markUnhealthy(key, nowNs, fmt.Sprintf("error rate %.0f%%", rate*100))
			} else if e.LiveSockets() > socketCeiling {
				m.markUnhealthy(key, nowNs, "excess live sockets")
			}
		}
		return true
	})
}

// cleanupPass bounds memory growth: long-idle entries are evicted, stale
// failure histories and expired recovery records are dropped.
func (m *Manager) cleanupPass() {
	nowNs := m.now().UnixNano()

	m.entries.Range(func(key Key, e *Entry) bool {
		if nowNs-e.LastActivityNs() > int64(m.cfg.IdleEvict) {
			if cur, ok := m.entries.LoadAndDelete(key); ok {
				cur.Close()
				log.Printf("connpool: evicted idle entry %s (%s)", key, cur.TargetHost)
			}
		}
		return true
	})

	m.failures.Range(func(key Key, list *failureList) bool {
		if last := list.lastAtNs(); last != 0 && nowNs-last > int64(m.cfg.StatsEvict) {
			m.failures.Delete(key)
		}
		return true
	})

	m.recovering.Range(func(key Key, deadline int64) bool {
		if nowNs >= deadline {
			m.recovering.Delete(key)
			m.failures.Delete(key)
		}
		return true
	})
}

// PoolStats aggregates the pool: every entry plus per-base-domain rollups.
type PoolStats struct {
	Entries     []EntryStats           `json:"entries"`
	Domains     map[string]DomainStats `json:"domains"`
	LiveSockets int64                  `json:"live_sockets"`
	Recovering  int                    `json:"recovering"`
}

// DomainStats rolls counters up across all hosts of one upstream domain.
type DomainStats struct {
	Entries     int   `json:"entries"`
	Created     int64 `json:"created"`
	Connected   int64 `json:"connected"`
	Errors      int64 `json:"errors"`
	Timeouts    int64 `json:"timeouts"`
	LiveSockets int64 `json:"live_sockets"`
}

// Stats returns one entry's counters.
func (m *Manager) Stats(key Key) (EntryStats, bool) {
	e, ok := m.entries.Load(key)
	if !ok {
		return EntryStats{}, false
	}
	return e.stats(netutil.BaseDomain(e.TargetHost)), true
}

// StatsAll returns pool-wide statistics.
func (m *Manager) StatsAll() PoolStats {
	out := PoolStats{Domains: make(map[string]DomainStats)}
	m.entries.Range(func(_ Key, e *Entry) bool {
		domain := netutil.BaseDomain(e.TargetHost)
		s := e.stats(domain)
		out.Entries = append(out.Entries, s)
		out.LiveSockets += s.LiveSockets

		d := out.Domains[domain]
		d.Entries++
		d.Created += s.Created
		d.Connected += s.Connected
		d.Errors += s.Errors
		d.Timeouts += s.Timeouts
		d.LiveSockets += s.LiveSockets
		out.Domains[domain] = d
		return true
	})
	out.Recovering = m.recovering.Size()
	return out
}

// Reset tears down one key: entry, failure history, and recovery state.
func (m *Manager) Reset(key Key) {
	if e, ok := m.entries.LoadAndDelete(key); ok {
		e.Close()
	}
	m.failures.Delete(key)
	m.recovering.Delete(key)
}

// Shutdown stops the maintenance loops and releases every pooled handle.
// Idempotent.
func (m *Manager) Shutdown() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.entries.Range(func(key Key, e *Entry) bool {
		if cur, ok := m.entries.LoadAndDelete(key); ok {
			cur.Close()
		}
		return true
	})
}
