package app

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically deactivates definitions whose close time has
// passed. Pure bookkeeping: attempts are only ever finalized by submit,
// never by the sweep.
type Sweeper struct {
	definitions DefinitionStore
	interval    time.Duration
	clock       func() time.Time
}

func NewSweeper(definitions DefinitionStore, interval time.Duration) *Sweeper {
	return &Sweeper{definitions: definitions, interval: interval, clock: time.Now}
}

// Run blocks until ctx is canceled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.definitions.DeactivateClosed(ctx, s.clock())
	if err != nil {
		log.Printf("sweep: %v", err)
		return
	}
	if n > 0 {
		log.Printf("sweep: deactivated %d closed assessments", n)
	}
}
