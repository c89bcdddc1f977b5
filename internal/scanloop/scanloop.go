// Package scanloop runs the pool's background maintenance passes (health,
// cleanup, stats pruning) at a jittered interval so replicas don't sweep in
// lockstep.
package scanloop

import (
	"log"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultJitterFraction is the share of the base interval added as random
// jitter: interval + random([0, interval*fraction)).
const DefaultJitterFraction = 0.25

// Run executes fn at a jittered interval until stopCh is closed.
// The interval is: minInterval + random([0, jitterRange)).
func Run(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}

// Go spawns Run on its own goroutine, tracked by wg, with the default jitter
// fraction and a panic guard: a panicking pass is logged and skipped, never
// allowed to kill the loop.
func Go(wg *sync.WaitGroup, stopCh <-chan struct{}, name string, interval time.Duration, fn func()) {
	jitter := time.Duration(float64(interval) * DefaultJitterFraction)
	wg.Add(1)
	go func() {
		defer wg.Done()
		Run(stopCh, interval, jitter, func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("scanloop: %s pass panicked: %v", name, r)
				}
			}()
			fn()
		})
	}()
}
