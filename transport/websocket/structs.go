package websocket

import "encoding/json"

// Message is one WebSocket envelope: an action name and its payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// joinPayload subscribes the connection to a match's updates.
type joinPayload struct {
	MatchID int64 `json:"match_id"`
}

// movePayload submits a move.
type movePayload struct {
	MatchID int64 `json:"match_id"`
	Row     int   `json:"row"`
	Col     int   `json:"col"`
}

// matchPayload is used by resign and add_time.
type matchPayload struct {
	MatchID int64 `json:"match_id"`
}

// errorPayload reports a rejected action back to the sender.
type errorPayload struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}
