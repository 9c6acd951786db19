package entity

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

const (
	MarkX = "X"
	MarkO = "O"

	EmptyCell = ""

	// BoardSize is the side length of the full grid; it is composed of
	// nine SubBoardSize x SubBoardSize regions arranged 3x3.
	BoardSize    = 9
	SubBoardSize = 3

	// AnySubBoard means the next move may land in any sub-board.
	AnySubBoard = -1
)

var ErrBadBoardEncoding = errors.New("bad board encoding")

// WinCombos are the eight winning triples of a 3x3 sub-board,
// indexed over its cells in row-major order.
var WinCombos = [][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Board is the full 9x9 grid. Cells hold MarkX, MarkO or EmptyCell.
type Board [BoardSize][BoardSize]string

// SubBoardAt returns the index (0..8) of the sub-board containing the cell.
func SubBoardAt(row, col int) int {
	return SubBoardSize*(row/SubBoardSize) + col/SubBoardSize
}

// CellInSubBoard returns the position (0..8) of the cell within its own
// sub-board. This value is what the move log records, and it selects the
// sub-board the opponent must play in next.
func CellInSubBoard(row, col int) int {
	return SubBoardSize*(row%SubBoardSize) + col%SubBoardSize
}

// subBoard flattens the 3x3 region containing (row, col) in row-major order.
func (that *Board) subBoard(row, col int) [9]string {
	baseRow := (row / SubBoardSize) * SubBoardSize
	baseCol := (col / SubBoardSize) * SubBoardSize

	var cells [9]string
	for i := range SubBoardSize {
		for j := range SubBoardSize {
			cells[i*SubBoardSize+j] = that[baseRow+i][baseCol+j]
		}
	}

	return cells
}

// SubBoardWon reports whether the sub-board containing (row, col) holds
// three equal non-empty marks on any triple.
func (that *Board) SubBoardWon(row, col int) bool {
	cells := that.subBoard(row, col)

	for _, combo := range WinCombos {
		a, b, c := cells[combo[0]], cells[combo[1]], cells[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return true
		}
	}

	return false
}

// SubBoardFull reports whether the sub-board containing (row, col) has no
// empty cells left.
func (that *Board) SubBoardFull(row, col int) bool {
	for _, cell := range that.subBoard(row, col) {
		if cell == EmptyCell {
			return false
		}
	}

	return true
}

// ClearSubBoard resets all nine cells of the sub-board containing (row, col).
func (that *Board) ClearSubBoard(row, col int) {
	baseRow := (row / SubBoardSize) * SubBoardSize
	baseCol := (col / SubBoardSize) * SubBoardSize

	for i := range SubBoardSize {
		for j := range SubBoardSize {
			that[baseRow+i][baseCol+j] = EmptyCell
		}
	}
}

// Apply places mark at (row, col) and evaluates the sub-board that was just
// played. It returns true when the placement wins that sub-board, which ends
// the whole match. A full sub-board with no winning triple is cleared back to
// empty so it can be replayed; this is a deliberate rule of this game, not
// the common "mark drawn sub-boards permanently claimed" convention.
func (that *Board) Apply(row, col int, mark string) bool {
	that[row][col] = mark

	if that.SubBoardWon(row, col) {
		return true
	}

	if that.SubBoardFull(row, col) {
		that.ClearSubBoard(row, col)
	}

	return false
}

// Encode renders the board as 81 digits in row-major order:
// '0' empty, '1' for X, '2' for O.
func (that *Board) Encode() string {
	var sb strings.Builder
	sb.Grow(BoardSize * BoardSize)

	for i := range BoardSize {
		for j := range BoardSize {
			switch that[i][j] {
			case MarkX:
				sb.WriteByte('1')
			case MarkO:
				sb.WriteByte('2')
			default:
				sb.WriteByte('0')
			}
		}
	}

	return sb.String()
}

// DecodeBoard parses the 81-digit encoding produced by Encode.
// An empty string decodes to an empty board.
func DecodeBoard(encoded string) (Board, error) {
	var board Board
	if encoded == "" {
		return board, nil
	}

	if len(encoded) != BoardSize*BoardSize {
		return board, fmt.Errorf("%w: length %d", ErrBadBoardEncoding, len(encoded))
	}

	for i := range BoardSize {
		for j := range BoardSize {
			switch encoded[i*BoardSize+j] {
			case '0':
				board[i][j] = EmptyCell
			case '1':
				board[i][j] = MarkX
			case '2':
				board[i][j] = MarkO
			default:
				return Board{}, fmt.Errorf("%w: cell %q", ErrBadBoardEncoding, encoded[i*BoardSize+j])
			}
		}
	}

	return board, nil
}

// RandomStartBoard places one X and one O at random positions inside every
// sub-board, producing a scrambled opening position.
func RandomStartBoard() Board {
	var board Board

	for blockRow := range SubBoardSize {
		for blockCol := range SubBoardSize {
			positions := rand.Perm(SubBoardSize * SubBoardSize)

			baseRow := blockRow * SubBoardSize
			baseCol := blockCol * SubBoardSize

			board[baseRow+positions[0]/SubBoardSize][baseCol+positions[0]%SubBoardSize] = MarkX
			board[baseRow+positions[1]/SubBoardSize][baseCol+positions[1]%SubBoardSize] = MarkO
		}
	}

	return board
}
