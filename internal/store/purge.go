package store

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger runs the expired-key purge on a cron schedule. Purge failures are
// logged and retried on the next tick; they never stop the schedule.
type Purger struct {
	store *SQLiteStore
	cron  *cron.Cron
}

// NewPurger creates a Purger for the given store and standard cron spec
// (e.g. "*/10 * * * *"). The spec must already be validated by config.
func NewPurger(s *SQLiteStore, spec string) (*Purger, error) {
	c := cron.New()
	p := &Purger{store: s, cron: c}
	if _, err := c.AddFunc(spec, p.purgeOnce); err != nil {
		return nil, err
	}
	return p, nil
}

// Start begins the purge schedule.
func (p *Purger) Start() { p.cron.Start() }

// Stop halts the schedule and waits for a running purge to finish.
func (p *Purger) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

func (p *Purger) purgeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := p.store.PurgeExpired(ctx)
	if err != nil {
		log.Printf("store: purge expired keys: %v", err)
		return
	}
	if n > 0 {
		log.Printf("store: purged %d expired keys", n)
	}
}
