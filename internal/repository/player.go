package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ninebox/ninebox-backend/internal/entity"
	"github.com/ninebox/ninebox-backend/internal/ordered"
)

var ErrPlayerNotFound = errors.New("player not found")

// PlayerRepository stores players in an ordered collection; like matches,
// a player's id is its append position.
type PlayerRepository struct {
	store *ordered.Store[*entity.Player]
}

func NewPlayerRepository(ctx context.Context, db *sql.DB) (*PlayerRepository, error) {
	store, err := ordered.New(ctx, db, playerSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create player store: %w", err)
	}

	return &PlayerRepository{store: store}, nil
}

func playerSchema() ordered.Schema[*entity.Player] {
	return ordered.Schema[*entity.Player]{
		Table: "players",
		Columns: []ordered.Column{
			{Name: "username", Type: "TEXT"},
			{Name: "password_hash", Type: "TEXT"},
			{Name: "matches", Type: "BLOB"},
		},
		Encode: encodePlayer,
		Decode: decodePlayer,
	}
}

func encodePlayer(player *entity.Player) (ordered.Row, error) {
	matches, err := json.Marshal(player.Matches)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match ids: %w", err)
	}

	return ordered.Row{
		"username":      player.Username,
		"password_hash": player.PasswordHash,
		"matches":       matches,
	}, nil
}

func decodePlayer(row ordered.Row) (*entity.Player, error) {
	player := &entity.Player{
		ID:           row.Int64(ordered.PosKey),
		Username:     row.String("username"),
		PasswordHash: row.String("password_hash"),
		Matches:      []int64{},
	}

	if raw := row.Bytes("matches"); raw != nil {
		if err := json.Unmarshal(raw, &player.Matches); err != nil {
			return nil, fmt.Errorf("failed to unmarshal match ids: %w", err)
		}
	}

	return player, nil
}

// Create appends the player and stamps it with its assigned id.
func (that *PlayerRepository) Create(ctx context.Context, player *entity.Player) (int64, error) {
	id, err := that.store.Append(ctx, player)
	if err != nil {
		return 0, fmt.Errorf("failed to append player: %w", err)
	}

	player.ID = id

	return id, nil
}

func (that *PlayerRepository) GetByID(ctx context.Context, id int64) (*entity.Player, error) {
	if id < 0 {
		return nil, fmt.Errorf("%w: id %d", ErrPlayerNotFound, id)
	}

	player, err := that.store.Get(ctx, id)
	if errors.Is(err, ordered.ErrIndexOutOfRange) {
		return nil, fmt.Errorf("%w: id %d", ErrPlayerNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	return player, nil
}

// GetByUsername resolves a registered username; anonymous players have an
// empty username and are not reachable this way.
func (that *PlayerRepository) GetByUsername(ctx context.Context, username string) (*entity.Player, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: empty username", ErrPlayerNotFound)
	}

	players, err := that.store.FindBy(ctx, "username", username)
	if err != nil {
		return nil, fmt.Errorf("failed to find player: %w", err)
	}

	if len(players) == 0 {
		return nil, fmt.Errorf("%w: username %q", ErrPlayerNotFound, username)
	}

	return players[0], nil
}

func (that *PlayerRepository) Update(ctx context.Context, player *entity.Player) error {
	if err := that.store.Set(ctx, player.ID, player); err != nil {
		if errors.Is(err, ordered.ErrIndexOutOfRange) {
			return fmt.Errorf("%w: id %d", ErrPlayerNotFound, player.ID)
		}
		return fmt.Errorf("failed to update player: %w", err)
	}

	return nil
}
