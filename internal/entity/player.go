package entity

// Player is created anonymously on first contact and may later be upgraded
// with credentials on signup. Matches lists the ids of matches the player
// has created or joined.
type Player struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username,omitempty"`
	PasswordHash string  `json:"-"`
	Matches      []int64 `json:"matches"`
}

func (that *Player) IsAnonymous() bool {
	return that.Username == ""
}
