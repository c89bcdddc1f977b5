package connpool

import (
	"sync"
	"time"
)

// FailureRecord is one socket-level error observed on a pool key.
type FailureRecord struct {
	AtNs    int64  `json:"at_ns"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// failureList holds a pool key's failure records, pruned to a sliding window
// on every append. Its length drives the fast-path unhealthy threshold.
type failureList struct {
	mu      sync.Mutex
	window  time.Duration
	records []FailureRecord
}

func newFailureList(window time.Duration) *failureList {
	return &failureList{window: window}
}

// append adds a record, prunes everything older than the window, and returns
// the resulting in-window count.
func (l *failureList) append(nowNs int64, message, code string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := nowNs - int64(l.window)
	kept := l.records[:0]
	for _, r := range l.records {
		if r.AtNs >= cutoff {
			kept = append(kept, r)
		}
	}
	l.records = append(kept, FailureRecord{AtNs: nowNs, Message: message, Code: code})
	return len(l.records)
}

// snapshot returns the in-window records at the given time.
func (l *failureList) snapshot(nowNs int64) []FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := nowNs - int64(l.window)
	out := make([]FailureRecord, 0, len(l.records))
	for _, r := range l.records {
		if r.AtNs >= cutoff {
			out = append(out, r)
		}
	}
	return out
}

// lastAtNs returns the newest record's timestamp, or 0 when empty.
func (l *failureList) lastAtNs() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return 0
	}
	return l.records[len(l.records)-1].AtNs
}
