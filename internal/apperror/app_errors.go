package apperror

import "errors"

var (
	ErrMatchNotActive   = errors.New("match is not active")
	ErrMatchNotJoinable = errors.New("match is not open for joining")
	ErrMatchFull        = errors.New("match already has two players")

	ErrNotYourTurn   = errors.New("it's not your turn")
	ErrCellOccupied  = errors.New("cell is already occupied")
	ErrWrongSubBoard = errors.New("cell is outside the active sub-board")
	ErrInvalidCell   = errors.New("invalid cell coordinates")

	ErrNotParticipant = errors.New("player is not part of this match")
	ErrTimeExpired    = errors.New("time has expired")

	ErrUsernameTaken      = errors.New("username is already taken")
	ErrInvalidUsername    = errors.New("username is invalid")
	ErrInvalidPassword    = errors.New("password is invalid")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
