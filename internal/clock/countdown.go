// Package clock implements the per-match turn countdown: a cancellable,
// extendable one-shot timer debited against a player's remaining time.
package clock

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var ErrNoActiveClock = errors.New("no active clock is running")

// Countdown is a one-shot countdown. It is ephemeral: one live instance
// exists per time-controlled match while a turn is running, and it is
// lost on crash (restart reconciliation recomputes elapsed time from the
// persisted last-move instant instead of trusting a recovered timer).
type Countdown struct {
	clk clockwork.Clock

	mu        sync.Mutex
	timer     clockwork.Timer
	stop      chan struct{}
	startedAt time.Time
	fireAt    time.Time
	onExpire  func()
	running   bool
}

func NewCountdown(clk clockwork.Clock) *Countdown {
	return &Countdown{clk: clk}
}

// Start begins the countdown; onExpire is invoked exactly once when it
// runs out, from the timer's own goroutine. Starting a running countdown
// restarts it.
func (that *Countdown) Start(duration time.Duration, onExpire func()) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.stopLocked()

	that.startedAt = that.clk.Now()
	that.fireAt = that.startedAt.Add(duration)
	that.onExpire = onExpire
	that.running = true

	that.arm(duration)
}

// Cancel stops the countdown if it has not fired yet. Cancelling an
// already-fired or already-cancelled countdown is a no-op.
func (that *Countdown) Cancel() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.stopLocked()
	that.running = false
}

// Extend reschedules the countdown so that the remaining time becomes
// (scheduled fire time - now) + delta: the portion already elapsed stays
// consumed rather than resetting to the full original duration.
func (that *Countdown) Extend(delta time.Duration) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.running {
		return ErrNoActiveClock
	}

	remaining := that.fireAt.Sub(that.clk.Now()) + delta

	that.stopLocked()
	that.fireAt = that.clk.Now().Add(remaining)
	that.running = true

	that.arm(remaining)

	return nil
}

// Remaining reports the time left, or zero when the countdown is not
// running.
func (that *Countdown) Remaining() time.Duration {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.running {
		return 0
	}

	remaining := that.fireAt.Sub(that.clk.Now())
	if remaining < 0 {
		return 0
	}

	return remaining
}

// arm creates the timer and its waiter goroutine. Callers hold the mutex.
func (that *Countdown) arm(duration time.Duration) {
	timer := that.clk.NewTimer(duration)
	stop := make(chan struct{})

	that.timer = timer
	that.stop = stop

	go that.wait(timer, stop)
}

func (that *Countdown) wait(timer clockwork.Timer, stop chan struct{}) {
	select {
	case <-timer.Chan():
		that.mu.Lock()
		// The countdown may have been cancelled or rescheduled between the
		// tick and acquiring the mutex; only the current, still-running
		// timer is allowed to expire.
		if !that.running || that.timer != timer {
			that.mu.Unlock()
			return
		}
		that.running = false
		onExpire := that.onExpire
		that.mu.Unlock()

		if onExpire != nil {
			onExpire()
		}
	case <-stop:
		stopAndDrainTimer(timer)
	}
}

// stopLocked detaches the current waiter, if any. Callers hold the mutex.
func (that *Countdown) stopLocked() {
	if that.stop != nil {
		close(that.stop)
		that.stop = nil
		that.timer = nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel so the waiter
// goroutine never leaks, per the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
