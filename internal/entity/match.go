package entity

import (
	"math"
	"time"

	"github.com/ninebox/ninebox-backend/internal/apperror"
)

const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusEnded   = "ended"

	SideX = 0
	SideO = 1
)

// Marks maps a side to the mark it plays with.
var Marks = [2]string{MarkX, MarkO}

// OtherSide returns the opposing side.
func OtherSide(side int) int {
	return (side + 1) % 2
}

// Match is one game of recursive tic-tac-toe. Seats hold player ids; a nil
// seat is unclaimed. Moves records the cell-within-sub-board value (0..8)
// of each accepted move; the last entry selects the sub-board the next
// mover is constrained to.
type Match struct {
	ID     int64     `json:"id"`
	Seats  [2]*int64 `json:"seats"`
	Moves  []int     `json:"moves"`
	Turn   int       `json:"turn"`
	Status string    `json:"status"`
	Board  Board     `json:"board"`

	Timed      bool       `json:"timed"`
	TimeLeft   [2]float64 `json:"time_left"`
	Increment  float64    `json:"increment"`
	LastMoveAt *time.Time `json:"last_move_at,omitempty"`

	Winner *int `json:"winner,omitempty"`
}

// MatchOptions configures a new match.
type MatchOptions struct {
	CreatorID       int64
	CreatorMark     string
	Timed           bool
	DurationMinutes float64
	IncrementSecs   float64
	RandomStart     bool
}

// NewMatch creates a waiting match with the creator seated on the side of
// their chosen mark; the other seat stays empty until someone joins.
func NewMatch(opts MatchOptions) *Match {
	match := &Match{
		Moves:     []int{},
		Turn:      SideX,
		Status:    StatusWaiting,
		Timed:     opts.Timed,
		Increment: opts.IncrementSecs,
	}

	creator := opts.CreatorID
	if opts.CreatorMark == MarkO {
		match.Seats[SideO] = &creator
	} else {
		match.Seats[SideX] = &creator
	}

	if opts.Timed {
		budget := opts.DurationMinutes * 60
		match.TimeLeft = [2]float64{budget, budget}
	}

	if opts.RandomStart {
		match.Board = RandomStartBoard()
	}

	return match
}

func (that *Match) IsWaiting() bool {
	return that.Status == StatusWaiting
}

func (that *Match) IsActive() bool {
	return that.Status == StatusActive
}

func (that *Match) IsEnded() bool {
	return that.Status == StatusEnded
}

// Side returns the seat index of the player, if seated.
func (that *Match) Side(playerID int64) (int, bool) {
	for side, seat := range that.Seats {
		if seat != nil && *seat == playerID {
			return side, true
		}
	}

	return 0, false
}

// Seated counts claimed seats.
func (that *Match) Seated() int {
	count := 0
	for _, seat := range that.Seats {
		if seat != nil {
			count++
		}
	}

	return count
}

// ActiveSubBoard is the sub-board the next move must land in, derived from
// the previous move's position within its own sub-board. Any sub-board is
// legal when no move has been played yet.
func (that *Match) ActiveSubBoard() int {
	if len(that.Moves) == 0 {
		return AnySubBoard
	}

	return that.Moves[len(that.Moves)-1]
}

// ValidateMove checks a move in rule order: match active, mover's turn,
// cell empty, cell inside the active sub-board. The first failing check
// wins and nothing is mutated.
func (that *Match) ValidateMove(side, row, col int) error {
	if !that.IsActive() {
		return apperror.ErrMatchNotActive
	}

	if row < 0 || row >= BoardSize || col < 0 || col >= BoardSize {
		return apperror.ErrInvalidCell
	}

	if that.Turn != side {
		return apperror.ErrNotYourTurn
	}

	if that.Board[row][col] != EmptyCell {
		return apperror.ErrCellOccupied
	}

	if active := that.ActiveSubBoard(); active != AnySubBoard && SubBoardAt(row, col) != active {
		return apperror.ErrWrongSubBoard
	}

	return nil
}

// ApplyMove records a validated move: places the mark, appends to the move
// log and either ends the match (sub-board won) or passes the turn.
// Returns true when the move wins the match.
func (that *Match) ApplyMove(side, row, col int) bool {
	won := that.Board.Apply(row, col, Marks[side])
	that.Moves = append(that.Moves, CellInSubBoard(row, col))

	if won {
		that.EndWith(side)
		return true
	}

	that.Turn = OtherSide(side)

	return false
}

// EndWith moves the match to its terminal state with the given winner.
// Ending an already ended match is a no-op.
func (that *Match) EndWith(winner int) {
	if that.IsEnded() {
		return
	}

	that.Status = StatusEnded
	that.Winner = &winner
}

// State is the snapshot pushed to every subscriber of a match on each
// externally visible change.
type State struct {
	ID             int64       `json:"id"`
	Status         string      `json:"status"`
	Moves          []int       `json:"moves"`
	Board          string      `json:"board"`
	Turn           int         `json:"turn"`
	Players        [2]*int64   `json:"players"`
	Winner         *int        `json:"winner"`
	TimeLeft       *[2]float64 `json:"time_left"`
	LastMoveAt     *float64    `json:"last_move_at"`
	ActiveSubBoard int         `json:"active_sub_board"`
}

// Snapshot renders the match for clients. Remaining time is rounded to two
// decimals; the last move instant is epoch seconds or null.
func (that *Match) Snapshot() *State {
	state := &State{
		ID:             that.ID,
		Status:         that.Status,
		Moves:          append([]int{}, that.Moves...),
		Board:          that.Board.Encode(),
		Turn:           that.Turn,
		Players:        that.Seats,
		Winner:         that.Winner,
		ActiveSubBoard: that.ActiveSubBoard(),
	}

	if that.Timed {
		rounded := [2]float64{
			math.Round(that.TimeLeft[0]*100) / 100,
			math.Round(that.TimeLeft[1]*100) / 100,
		}
		state.TimeLeft = &rounded
	}

	if that.LastMoveAt != nil {
		epoch := float64(that.LastMoveAt.UnixMicro()) / 1e6
		state.LastMoveAt = &epoch
	}

	return state
}
