package schedule

import (
	"context"
	"log"
	"time"
)

// DefaultInterval is the coarse polling period; minute-granularity
// matching only needs ticks well under a minute.
const DefaultInterval = 30 * time.Second

// Scheduler polls wall-clock time against the store and triggers at
// most one unattended scan per calendar day.
type Scheduler struct {
	Store    *Store
	Interval time.Duration

	// Ready reports whether a scan could start now; a non-nil error
	// is the skip reason (busy, link down, detector missing).
	Ready func() error

	// Trigger runs the shared scan execution path, headless. It is
	// responsible for recording the watered log on success.
	Trigger func()
}

// Run polls until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(time.Now())
		}
	}
}

// Tick evaluates one poll at the given time.
func (s *Scheduler) Tick(now time.Time) {
	minute := now.Format(timeKey)
	due := false
	for _, tm := range s.Store.TimesFor(now) {
		if tm == minute {
			due = true
			break
		}
	}
	if !due {
		return
	}
	if s.Store.WateredOn(now) {
		return
	}
	if err := s.Ready(); err != nil {
		log.Println("scheduler: skipping scheduled scan:", err)
		return
	}

	log.Printf("scheduler: starting scheduled scan for %s", minute)
	s.Trigger()
}
