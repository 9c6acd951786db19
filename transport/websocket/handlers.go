package websocket

import (
	"context"
	"encoding/json"
	"fmt"
)

// handleJoin subscribes the connection to a match room and immediately
// sends the current snapshot so late joiners and spectators catch up.
func (that *Server) handleJoin(ctx context.Context, subscriber *client, message *Message) error {
	var payload joinPayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	match, err := that.manager.GetMatch(ctx, payload.MatchID)
	if err != nil {
		return fmt.Errorf("failed to get match: %w", err)
	}

	that.hub.join(payload.MatchID, subscriber)

	state, err := json.Marshal(match.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	raw, err := json.Marshal(Message{Action: "update_state", Payload: state})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case subscriber.send <- raw:
	default:
	}

	return nil
}

func (that *Server) handleMove(ctx context.Context, subscriber *client, message *Message) error {
	var payload movePayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if _, err := that.manager.SubmitMove(ctx, payload.MatchID, subscriber.playerID, payload.Row, payload.Col); err != nil {
		return fmt.Errorf("failed to submit move: %w", err)
	}

	return nil
}

func (that *Server) handleResign(ctx context.Context, subscriber *client, message *Message) error {
	var payload matchPayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if _, err := that.manager.Resign(ctx, payload.MatchID, subscriber.playerID); err != nil {
		return fmt.Errorf("failed to resign: %w", err)
	}

	return nil
}

func (that *Server) handleAddTime(ctx context.Context, subscriber *client, message *Message) error {
	var payload matchPayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if _, err := that.manager.AddTime(ctx, payload.MatchID, subscriber.playerID); err != nil {
		return fmt.Errorf("failed to add time: %w", err)
	}

	return nil
}
