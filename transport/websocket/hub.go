package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ninebox/ninebox-backend/internal/entity"
)

// Hub tracks which connections are subscribed to which match and pushes
// every state change to them. It satisfies the engine's broadcaster.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[int64]map[*client]bool
}

// client is one WebSocket connection. Writes go through the send channel
// so the single writer goroutine owns the connection.
type client struct {
	conn     *websocket.Conn
	send     chan []byte
	playerID int64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		rooms:  make(map[int64]map[*client]bool),
	}
}

// Broadcast pushes the snapshot to every subscriber of the match. Slow
// consumers are dropped rather than allowed to stall the engine.
func (that *Hub) Broadcast(matchID int64, state *entity.State) {
	payload, err := json.Marshal(state)
	if err != nil {
		that.logger.Error("failed to marshal state", "matchID", matchID, "error", err)
		return
	}

	message, err := json.Marshal(Message{Action: "update_state", Payload: payload})
	if err != nil {
		that.logger.Error("failed to marshal message", "matchID", matchID, "error", err)
		return
	}

	that.mu.RLock()
	defer that.mu.RUnlock()

	for subscriber := range that.rooms[matchID] {
		select {
		case subscriber.send <- message:
		default:
			that.logger.Warn("dropping slow subscriber", "matchID", matchID, "playerID", subscriber.playerID)
			go that.leaveAll(subscriber)
		}
	}
}

// join subscribes the client to the match's room.
func (that *Hub) join(matchID int64, subscriber *client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.rooms[matchID] == nil {
		that.rooms[matchID] = make(map[*client]bool)
	}
	that.rooms[matchID][subscriber] = true
}

// leaveAll removes the client from every room it joined.
func (that *Hub) leaveAll(subscriber *client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for matchID, room := range that.rooms {
		if room[subscriber] {
			delete(room, subscriber)
			if len(room) == 0 {
				delete(that.rooms, matchID)
			}
		}
	}
}
