// Package timerwheel generalizes the teacher's single-shot timer
// wrapper (timer.Timer) into a named-timer wheel that can drive every
// timer spec.md §2/C3 lists — Hello, Dead, Retransmit, Keepalive, Hold,
// ConnectRetry, MRAI — from one structure per owning FSM, so tests can
// swap in a fake clock instead of sleeping on the wall clock (spec.md §9:
// "makes P3/P4/P5 directly testable on a simulated clock").
package timerwheel

import (
	"sync"
	"time"
)

// Clock abstracts time so tests can drive timers deterministically.
// The real implementation is RealClock; FakeClock (fake.go) advances
// virtual time and fires callbacks synchronously.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Handle
	Now() time.Time
}

// Handle is a running (or stopped) timer instance.
type Handle interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock uses time.AfterFunc.
type RealClock struct{}

func (RealClock) AfterFunc(d time.Duration, f func()) Handle {
	return realHandle{time.AfterFunc(d, f)}
}
func (RealClock) Now() time.Time { return time.Now() }

type realHandle struct{ t *time.Timer }

func (h realHandle) Stop() bool               { return h.t.Stop() }
func (h realHandle) Reset(d time.Duration) bool { return h.t.Reset(d) }

// Wheel owns a named set of timers for a single FSM (one OSPF neighbor,
// one BGP peer). All mutation of the wheel happens on the FSM's owning
// context, so no internal locking is required for Start/Stop/Reset; the
// mutex here only protects the map itself from concurrent Stop-all calls
// made during shutdown from another goroutine (spec.md §5: cancellation
// is cooperative, never mid-mutation).
type Wheel struct {
	clock Clock
	mu    sync.Mutex
	timers map[string]Handle
}

// New creates a Wheel. Pass RealClock{} in production, a fake clock in
// tests.
func New(clock Clock) *Wheel {
	return &Wheel{clock: clock, timers: make(map[string]Handle)}
}

// Start arms (or re-arms) the named timer to fire f after d, canceling
// any previous timer under the same name first.
func (w *Wheel) Start(name string, d time.Duration, f func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.timers[name]; ok {
		h.Stop()
	}
	w.timers[name] = w.clock.AfterFunc(d, f)
}

// Stop cancels the named timer, if running. Safe to call when not armed.
func (w *Wheel) Stop(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.timers[name]; ok {
		h.Stop()
		delete(w.timers, name)
	}
}

// StopAll cancels every timer owned by this wheel (used on FSM teardown
// and process shutdown, spec.md §4.7/§5).
func (w *Wheel) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, h := range w.timers {
		h.Stop()
		delete(w.timers, name)
	}
}

// Reset re-arms the named timer to the given duration without changing
// its callback, if it is currently running; no-op otherwise.
func (w *Wheel) Reset(name string, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.timers[name]; ok {
		h.Reset(d)
	}
}

// Named timer keys shared across OSPF and BGP (spec.md §2 C3).
const (
	Hello        = "hello"
	Dead         = "dead"
	Retransmit   = "retransmit"
	Keepalive    = "keepalive"
	Hold         = "hold"
	ConnectRetry = "connect-retry"
	MRAI         = "mrai"
	SPFHold      = "spf-hold"
	LSRefresh    = "lsrefresh"
	IdleHold     = "idle-hold"
)
