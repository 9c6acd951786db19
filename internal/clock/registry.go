package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Registry owns the live countdowns, keyed by match id. It is created at
// process start, injected into the engine, and torn down at shutdown;
// there is no ambient process-wide timer state.
type Registry struct {
	clk clockwork.Clock

	mu         sync.Mutex
	countdowns map[int64]*Countdown
}

func NewRegistry(clk clockwork.Clock) *Registry {
	return &Registry{
		clk:        clk,
		countdowns: make(map[int64]*Countdown),
	}
}

// Replace cancels any countdown running for the match and starts a fresh
// one.
func (that *Registry) Replace(matchID int64, duration time.Duration, onExpire func()) *Countdown {
	that.mu.Lock()
	defer that.mu.Unlock()

	if existing, ok := that.countdowns[matchID]; ok {
		existing.Cancel()
	}

	countdown := NewCountdown(that.clk)
	countdown.Start(duration, onExpire)
	that.countdowns[matchID] = countdown

	return countdown
}

// Cancel stops and discards the match's countdown; a missing countdown is
// a no-op.
func (that *Registry) Cancel(matchID int64) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if countdown, ok := that.countdowns[matchID]; ok {
		countdown.Cancel()
		delete(that.countdowns, matchID)
	}
}

// Get returns the match's live countdown, if one is running.
func (that *Registry) Get(matchID int64) (*Countdown, bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	countdown, ok := that.countdowns[matchID]

	return countdown, ok
}

// Extend grows the match's running countdown by delta; ErrNoActiveClock
// when none is running.
func (that *Registry) Extend(matchID int64, delta time.Duration) error {
	that.mu.Lock()
	countdown, ok := that.countdowns[matchID]
	that.mu.Unlock()

	if !ok {
		return ErrNoActiveClock
	}

	return countdown.Extend(delta)
}

// Shutdown cancels every live countdown.
func (that *Registry) Shutdown() {
	that.mu.Lock()
	defer that.mu.Unlock()

	for matchID, countdown := range that.countdowns {
		countdown.Cancel()
		delete(that.countdowns, matchID)
	}
}
