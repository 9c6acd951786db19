// Package broadcast fans match state snapshots out to subscribers.
package broadcast

import (
	"github.com/ninebox/ninebox-backend/internal/entity"
)

// Notifier receives a snapshot on every externally visible state change
// of a match.
type Notifier interface {
	Broadcast(matchID int64, state *entity.State)
}

// Multi chains notifiers; every one of them sees every snapshot.
type Multi []Notifier

func (that Multi) Broadcast(matchID int64, state *entity.State) {
	for _, notifier := range that {
		notifier.Broadcast(matchID, state)
	}
}
