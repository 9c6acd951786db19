package rest

import (
	"net/http"
	"strconv"
	"time"
)

type contextKey string

const playerIDKey contextKey = "player_id"

const sessionCookie = "player_id"

// withPlayer guarantees a player identity for the request: an existing
// session cookie is validated against the store, anything else gets a
// fresh anonymous player and a new cookie. Players are created on first
// contact; signup upgrades them later.
func (that *Handlers) withPlayer(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if cookie, err := r.Cookie(sessionCookie); err == nil {
			if playerID, parseErr := strconv.ParseInt(cookie.Value, 10, 64); parseErr == nil {
				if _, getErr := that.manager.GetPlayer(ctx, playerID); getErr == nil {
					next(w, r.WithContext(withPlayerID(ctx, playerID)))
					return
				}
			}
		}

		player, err := that.manager.CreateAnonymousPlayer(ctx)
		if err != nil {
			that.logger.Error("failed to create player", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		setSessionCookie(w, player.ID)

		next(w, r.WithContext(withPlayerID(ctx, player.ID)))
	})
}

func setSessionCookie(w http.ResponseWriter, playerID int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    strconv.FormatInt(playerID, 10),
		Path:     "/",
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		HttpOnly: true,
	})
}
