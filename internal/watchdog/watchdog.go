// Package watchdog implements the silence deadline that ends an Active
// session when no audio frame arrives within a fixed interval.
//
// A Watchdog owns exactly one timer. Arm starts the countdown, Reset restarts
// it from the full interval and Disarm cancels it. When the countdown runs out
// a single [Expiry] is delivered on [Watchdog.C]. Because the consumer may
// observe an expiry after it already processed a newer frame, every expiry
// carries the generation it was scheduled for; [Watchdog.Expired] rejects
// expiries that a later Reset or Disarm superseded.
//
// All methods are safe for concurrent use.
package watchdog

import (
	"sync"
	"time"
)

// DefaultInterval is the silence window used when New is given zero.
const DefaultInterval = 5 * time.Second

// Expiry is delivered on [Watchdog.C] when the countdown runs out.
type Expiry struct {
	// At is the deadline that elapsed.
	At time.Time

	gen uint64
}

// Watchdog is a resettable single-deadline timer.
type Watchdog struct {
	interval time.Duration
	c        chan Expiry

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	armed    bool
	fired    bool
	deadline time.Time
}

// New returns a disarmed Watchdog. A non-positive interval selects
// [DefaultInterval].
func New(interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watchdog{
		interval: interval,
		c:        make(chan Expiry, 1),
	}
}

// Interval returns the countdown length.
func (w *Watchdog) Interval() time.Duration { return w.interval }

// C returns the channel on which expiries are delivered. At most one expiry
// is buffered at any time.
func (w *Watchdog) C() <-chan Expiry { return w.c }

// Arm starts the countdown from the full interval. Arming an already armed
// watchdog restarts the countdown like Reset.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = true
	w.restartLocked()
}

// Reset restarts the countdown from the full interval. It reports false and
// does nothing when the watchdog is not armed.
func (w *Watchdog) Reset() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return false
	}
	w.restartLocked()
	return true
}

// Disarm cancels the pending countdown without delivering an expiry. It is a
// no-op when the watchdog is not armed.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return
	}
	w.armed = false
	w.gen++
	w.fired = false
	w.deadline = time.Time{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.drainLocked()
}

// Expired reports whether e is the current expiry. A current expiry leaves
// the watchdog disarmed; a stale one (superseded by Reset, Disarm or Arm) is
// rejected and changes nothing.
func (w *Watchdog) Expired(e Expiry) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed || !w.fired || e.gen != w.gen {
		return false
	}
	w.armed = false
	w.fired = false
	w.deadline = time.Time{}
	return true
}

// Armed reports whether a countdown is pending or an expiry awaits
// confirmation.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Deadline returns the instant at which the current countdown expires. ok is
// false when the watchdog is not armed.
func (w *Watchdog) Deadline() (deadline time.Time, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline, w.armed
}

// restartLocked schedules a fresh countdown under a new generation.
func (w *Watchdog) restartLocked() {
	w.gen++
	w.fired = false
	w.deadline = time.Now().Add(w.interval)
	w.drainLocked()
	if w.timer == nil {
		w.timer = time.AfterFunc(w.interval, w.fire)
		return
	}
	w.timer.Reset(w.interval)
}

// drainLocked discards an expiry still sitting in the channel.
func (w *Watchdog) drainLocked() {
	select {
	case <-w.c:
	default:
	}
}

// fire runs on the timer goroutine. A callback scheduled before the latest
// restart may still run; it is recognised by the deadline not having passed.
func (w *Watchdog) fire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed || w.fired {
		return
	}
	if remaining := time.Until(w.deadline); remaining > 0 {
		w.timer.Reset(remaining)
		return
	}
	w.fired = true
	select {
	case w.c <- Expiry{At: w.deadline, gen: w.gen}:
	default:
	}
}
