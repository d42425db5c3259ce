package timerwheel

import (
	"time"
)

// FakeClock is a manually-advanced Clock for deterministic FSM tests
// (P3/P5 in spec.md §8 are ordering properties that must not depend on
// wall-clock jitter).
type FakeClock struct {
	now     time.Time
	pending []*fakeEntry
}

type fakeEntry struct {
	fireAt  time.Time
	f       func()
	stopped bool
}

// NewFakeClock creates a FakeClock starting at an arbitrary fixed epoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Unix(0, 0)}
}

func (c *FakeClock) Now() time.Time { return c.now }

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Handle {
	e := &fakeEntry{fireAt: c.now.Add(d), f: f}
	c.pending = append(c.pending, e)
	return fakeHandle{c, e}
}

// Advance moves virtual time forward by d, firing any timers whose
// deadline falls at or before the new time, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	target := c.now.Add(d)
	for {
		due := c.nextDue(target)
		if due == nil {
			break
		}
		c.now = due.fireAt
		due.stopped = true
		due.f()
	}
	c.now = target
}

func (c *FakeClock) nextDue(horizon time.Time) *fakeEntry {
	var best *fakeEntry
	for _, e := range c.pending {
		if e.stopped {
			continue
		}
		if e.fireAt.After(horizon) {
			continue
		}
		if best == nil || e.fireAt.Before(best.fireAt) {
			best = e
		}
	}
	return best
}

type fakeHandle struct {
	c *FakeClock
	e *fakeEntry
}

func (h fakeHandle) Stop() bool {
	wasLive := !h.e.stopped
	h.e.stopped = true
	return wasLive
}

func (h fakeHandle) Reset(d time.Duration) bool {
	wasLive := !h.e.stopped
	h.e.stopped = false
	h.e.fireAt = h.c.now.Add(d)
	return wasLive
}
