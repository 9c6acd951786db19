package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ninebox/ninebox-backend/internal/entity"
)

// Publisher pushes snapshots onto a Redis channel per match so other
// instances (or external consumers) can relay them. It is optional glue:
// a single-instance deployment runs fine with just the in-process hub.
type Publisher struct {
	logger *slog.Logger
	client *redis.Client
}

func NewPublisher(ctx context.Context, logger *slog.Logger, addr string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Publisher{
		logger: logger,
		client: client,
	}, nil
}

func (that *Publisher) Broadcast(matchID int64, state *entity.State) {
	payload, err := json.Marshal(state)
	if err != nil {
		that.logger.Error("failed to marshal state", "matchID", matchID, "error", err)
		return
	}

	channel := fmt.Sprintf("match:%d", matchID)
	if err = that.client.Publish(context.Background(), channel, payload).Err(); err != nil {
		that.logger.Error("failed to publish state", "matchID", matchID, "error", err)
	}
}

func (that *Publisher) Close() error {
	if err := that.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
