package consensus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kropbot/kropbot/internal/session"
)

// DefaultSweepInterval keeps eviction latency well under the session
// timeout.
const DefaultSweepInterval = 500 * time.Millisecond

// Sweeper periodically evicts stale sessions so that clients which simply
// stop sending drop out of the consensus even when nothing else happens.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	now      func() time.Time
	panics   int
}

func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs a single cycle. A panic is recovered and logged so a bad
// cycle only delays eviction until the next tick.
func (s *Sweeper) SweepOnce() (evicted []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics++
			err = fmt.Errorf("sweep panic: %v", r)
			log.Printf("sweeper: recovered from panic (total %d): %v", s.panics, r)
		}
	}()

	evicted = s.engine.Sweep(s.now())
	if len(evicted) > 0 {
		log.Printf("sweeper: evicted %d stale session(s) %v", len(evicted), session.MaskIDs(evicted))
	}
	return evicted, nil
}
