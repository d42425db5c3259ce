package ospf

import (
	"time"

	"github.com/netlab-emu/agent/internal/timerwheel"
)

// DefaultSPFHold is the coalesce window of spec.md §4.3: "SPF is not
// run per event; it is run at most once per spf-hold ... after any LSDB
// mutation."
const DefaultSPFHold = time.Second

// Scheduler coalesces LSDB mutations into at most one SPF run per
// spf-hold window, and skips the run entirely if the LSDB generation is
// unchanged since the last completed run.
type Scheduler struct {
	db        *LSDB
	wheel     *timerwheel.Wheel
	hold      time.Duration
	lastRunAt Generation
	armed     bool
	run       func()
}

// NewScheduler creates a Scheduler that calls run() no more than once
// per hold, reading db's generation counter to skip no-op runs.
func NewScheduler(db *LSDB, wheel *timerwheel.Wheel, hold time.Duration, run func()) *Scheduler {
	return &Scheduler{db: db, wheel: wheel, hold: hold, run: run}
}

// NotifyMutation is called after every LSDB mutation. It arms (or
// leaves armed) the spf-hold timer; the timer's callback performs the
// actual coalesced run.
func (s *Scheduler) NotifyMutation() {
	if s.armed {
		return
	}
	s.armed = true
	s.wheel.Start(timerwheel.SPFHold, s.hold, s.fire)
}

func (s *Scheduler) fire() {
	s.armed = false
	current := s.db.Generation()
	if current == s.lastRunAt {
		return // LSDB unchanged since last SPF run: skip (spec.md §4.3)
	}
	s.lastRunAt = current
	s.run()
}
