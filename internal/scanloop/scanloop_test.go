package scanloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunStops(t *testing.T) {
	stopCh := make(chan struct{})
	done := make(chan struct{})
	var calls atomic.Int64

	go func() {
		Run(stopCh, time.Millisecond, 0, func() { calls.Add(1) })
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("fn not called often enough")
		case <-time.After(time.Millisecond):
		}
	}

	close(stopCh)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestGoRecoversPanics(t *testing.T) {
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	var calls atomic.Int64

	Go(&wg, stopCh, "panicky", time.Millisecond, func() {
		calls.Add(1)
		panic("boom")
	})

	deadline := time.After(2 * time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("panicking pass killed the loop")
		case <-time.After(time.Millisecond):
		}
	}

	close(stopCh)
	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("wg not released after stop")
	}
}
