package connpool

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Entry is one pooled (proxy, target host) slot: the reusable transport
// handle plus the per-key counters the health model evaluates.
type Entry struct {
	Key            Key
	HandleID       string // unique per built handle, not per key
	TargetHost     string
	ProxyCanonical string

	Transport *http.Transport
	dialer    Dialer

	CreatedAtNs int64

	// Counters, updated by the counting dial wrapper and by the manager's
	// failure feedback path.
	created  atomic.Int64 // dial attempts
	conns    atomic.Int64 // successful dials
	errors   atomic.Int64
	timeouts atomic.Int64
	closed   atomic.Int64

	liveSockets    atomic.Int64
	lastActivityNs atomic.Int64
}

// EntryStats is a point-in-time copy of an entry's counters.
type EntryStats struct {
	Key            string `json:"key"`
	HandleID       string `json:"handle_id"`
	TargetHost     string `json:"target_host"`
	BaseDomain     string `json:"base_domain"`
	ProxyCanonical string `json:"proxy"`
	CreatedAtNs    int64  `json:"created_at_ns"`
	LastActivityNs int64  `json:"last_activity_ns"`
	Created        int64  `json:"created"`
	Connected      int64  `json:"connected"`
	Errors         int64  `json:"errors"`
	Timeouts       int64  `json:"timeouts"`
	Closed         int64  `json:"closed"`
	LiveSockets    int64  `json:"live_sockets"`
}

func newEntry(key Key, targetHost, proxyCanonical string, d Dialer, nowNs int64, maxConns, maxIdle int) *Entry {
	e := &Entry{
		Key:            key,
		HandleID:       uuid.NewString(),
		TargetHost:     targetHost,
		ProxyCanonical: proxyCanonical,
		dialer:         d,
		CreatedAtNs:    nowNs,
	}
	e.lastActivityNs.Store(nowNs)
	e.Transport = &http.Transport{
		DialContext:         e.dial,
		MaxConnsPerHost:     maxConns,
		MaxIdleConnsPerHost: maxIdle,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return e
}

// dial is the transport's DialContext: it routes through the entry's dialer
// and wraps the socket so activity, error, and live-socket counters stay
// accurate for the health pass.
func (e *Entry) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	e.created.Add(1)
	conn, err := e.dialer.DialContext(ctx, network, addr)
	if err != nil {
		e.recordError(err)
		return nil, err
	}
	e.conns.Add(1)
	e.liveSockets.Add(1)
	e.Touch(time.Now().UnixNano())
	return &poolConn{Conn: conn, entry: e}, nil
}

func (e *Entry) recordError(err error) {
	if isTimeout(err) {
		e.timeouts.Add(1)
	} else {
		e.errors.Add(1)
	}
}

// Touch records activity at the given time.
func (e *Entry) Touch(nowNs int64) {
	e.lastActivityNs.Store(nowNs)
}

// LastActivityNs returns the last recorded activity time.
func (e *Entry) LastActivityNs() int64 {
	return e.lastActivityNs.Load()
}

// LiveSockets returns the current number of open sockets.
func (e *Entry) LiveSockets() int64 {
	return e.liveSockets.Load()
}

// errorRate returns (failed attempts / total attempts, total attempts).
func (e *Entry) errorRate() (float64, int64) {
	failed := e.errors.Load() + e.timeouts.Load()
	total := e.created.Load()
	if total == 0 {
		return 0, 0
	}
	return float64(failed) / float64(total), total
}

// Close tears down the transport's idle sockets and releases the dialer.
func (e *Entry) Close() {
	e.Transport.CloseIdleConnections()
	closeDialer(e.dialer)
}

func (e *Entry) stats(baseDomain string) EntryStats {
	return EntryStats{
		Key:            e.Key.String(),
		HandleID:       e.HandleID,
		TargetHost:     e.TargetHost,
		BaseDomain:     baseDomain,
		ProxyCanonical: e.ProxyCanonical,
		CreatedAtNs:    e.CreatedAtNs,
		LastActivityNs: e.lastActivityNs.Load(),
		Created:        e.created.Load(),
		Connected:      e.conns.Load(),
		Errors:         e.errors.Load(),
		Timeouts:       e.timeouts.Load(),
		Closed:         e.closed.Load(),
		LiveSockets:    e.liveSockets.Load(),
	}
}

// poolConn wraps a pooled socket, keeping the owning entry's activity
// timestamp and socket counters current. Close is idempotent.
type poolConn struct {
	net.Conn
	entry     *Entry
	closeOnce atomic.Bool
}

func (c *poolConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.entry.Touch(time.Now().UnixNano())
	}
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		c.entry.recordError(err)
	}
	return n, err
}

func (c *poolConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.entry.Touch(time.Now().UnixNano())
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		c.entry.recordError(err)
	}
	return n, err
}

func (c *poolConn) Close() error {
	if c.closeOnce.CompareAndSwap(false, true) {
		c.entry.liveSockets.Add(-1)
		c.entry.closed.Add(1)
	}
	return c.Conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}
