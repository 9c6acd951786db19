package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/ninebox/ninebox-backend/internal/entity"
	"github.com/ninebox/ninebox-backend/internal/ordered"
)

var ErrMatchNotFound = errors.New("match not found")

// MatchRepository stores matches in an ordered collection; a match's id is
// its position, assigned on append and stable because matches are never
// inserted mid-sequence or deleted.
type MatchRepository struct {
	store *ordered.Store[*entity.Match]
}

func NewMatchRepository(ctx context.Context, db *sql.DB) (*MatchRepository, error) {
	store, err := ordered.New(ctx, db, matchSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create match store: %w", err)
	}

	return &MatchRepository{store: store}, nil
}

// matchSchema declares one column per match field. Primitive fields map to
// scalar columns; seats, the move log and the time budgets are JSON blobs;
// the board is its 81-digit encoding.
func matchSchema() ordered.Schema[*entity.Match] {
	return ordered.Schema[*entity.Match]{
		Table: "matches",
		Columns: []ordered.Column{
			{Name: "seats", Type: "BLOB"},
			{Name: "moves", Type: "BLOB"},
			{Name: "turn", Type: "INTEGER"},
			{Name: "status", Type: "TEXT"},
			{Name: "board", Type: "TEXT"},
			{Name: "timed", Type: "INTEGER"},
			{Name: "time_left", Type: "BLOB"},
			{Name: "increment", Type: "REAL"},
			{Name: "last_move_at", Type: "INTEGER"},
			{Name: "winner", Type: "INTEGER"},
		},
		Encode: encodeMatch,
		Decode: decodeMatch,
	}
}

func encodeMatch(match *entity.Match) (ordered.Row, error) {
	seats, err := json.Marshal(match.Seats)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal seats: %w", err)
	}

	moves, err := json.Marshal(match.Moves)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal moves: %w", err)
	}

	timeLeft, err := json.Marshal(match.TimeLeft)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal time budgets: %w", err)
	}

	row := ordered.Row{
		"seats":        seats,
		"moves":        moves,
		"turn":         int64(match.Turn),
		"status":       match.Status,
		"board":        match.Board.Encode(),
		"timed":        boolToInt(match.Timed),
		"time_left":    timeLeft,
		"increment":    match.Increment,
		"last_move_at": nil,
		"winner":       nil,
	}

	if match.LastMoveAt != nil {
		row["last_move_at"] = match.LastMoveAt.UnixMicro()
	}

	if match.Winner != nil {
		row["winner"] = int64(*match.Winner)
	}

	return row, nil
}

func decodeMatch(row ordered.Row) (*entity.Match, error) {
	match := &entity.Match{
		ID:        row.Int64(ordered.PosKey),
		Moves:     []int{},
		Turn:      int(row.Int64("turn")),
		Status:    row.String("status"),
		Timed:     row.Int64("timed") != 0,
		Increment: row.Float64("increment"),
	}

	if match.Status == "" {
		match.Status = entity.StatusWaiting
	}

	if raw := row.Bytes("seats"); raw != nil {
		if err := json.Unmarshal(raw, &match.Seats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal seats: %w", err)
		}
	}

	if raw := row.Bytes("moves"); raw != nil {
		if err := json.Unmarshal(raw, &match.Moves); err != nil {
			return nil, fmt.Errorf("failed to unmarshal moves: %w", err)
		}
	}

	if raw := row.Bytes("time_left"); raw != nil {
		if err := json.Unmarshal(raw, &match.TimeLeft); err != nil {
			return nil, fmt.Errorf("failed to unmarshal time budgets: %w", err)
		}
	}

	board, err := entity.DecodeBoard(row.String("board"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode board: %w", err)
	}
	match.Board = board

	if !row.IsNull("last_move_at") {
		at := time.UnixMicro(row.Int64("last_move_at")).UTC()
		match.LastMoveAt = &at
	}

	if !row.IsNull("winner") {
		winner := int(row.Int64("winner"))
		match.Winner = &winner
	}

	return match, nil
}

// Create appends the match and stamps it with its assigned id.
func (that *MatchRepository) Create(ctx context.Context, match *entity.Match) (int64, error) {
	id, err := that.store.Append(ctx, match)
	if err != nil {
		return 0, fmt.Errorf("failed to append match: %w", err)
	}

	match.ID = id

	return id, nil
}

func (that *MatchRepository) GetByID(ctx context.Context, id int64) (*entity.Match, error) {
	if id < 0 {
		return nil, fmt.Errorf("%w: id %d", ErrMatchNotFound, id)
	}

	match, err := that.store.Get(ctx, id)
	if errors.Is(err, ordered.ErrIndexOutOfRange) {
		return nil, fmt.Errorf("%w: id %d", ErrMatchNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	return match, nil
}

func (that *MatchRepository) Update(ctx context.Context, match *entity.Match) error {
	if err := that.store.Set(ctx, match.ID, match); err != nil {
		if errors.Is(err, ordered.ErrIndexOutOfRange) {
			return fmt.Errorf("%w: id %d", ErrMatchNotFound, match.ID)
		}
		return fmt.Errorf("failed to update match: %w", err)
	}

	return nil
}

// Recent returns up to limit matches, newest first.
func (that *MatchRepository) Recent(ctx context.Context, limit int64) ([]*entity.Match, error) {
	matches, err := that.store.Slice(ctx, -limit, math.MaxInt64, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}

	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}

	return matches, nil
}

// All iterates every match in id order, re-reading the store lazily.
func (that *MatchRepository) All(ctx context.Context) iter.Seq2[*entity.Match, error] {
	return that.store.Ascending(ctx)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
