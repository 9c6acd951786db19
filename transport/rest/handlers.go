package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ninebox/ninebox-backend/internal/apperror"
	"github.com/ninebox/ninebox-backend/internal/repository"
	"github.com/ninebox/ninebox-backend/internal/usecase"
)

type Handlers struct {
	logger  *slog.Logger
	manager *usecase.MatchManager
}

func NewHandlers(logger *slog.Logger, manager *usecase.MatchManager) *Handlers {
	return &Handlers{
		logger:  logger,
		manager: manager,
	}
}

func (that *Handlers) Ping(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

type createMatchRequest struct {
	Mark             string  `json:"mark"`
	UseClock         bool    `json:"use_clock"`
	DurationMinutes  float64 `json:"duration_minutes"`
	IncrementSeconds float64 `json:"increment_seconds"`
	RandomStart      bool    `json:"random_start"`
}

func (that *Handlers) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	match, err := that.manager.CreateMatch(r.Context(), usecase.CreateMatchParams{
		CreatorID:       playerIDFrom(r.Context()),
		Mark:            req.Mark,
		UseClock:        req.UseClock,
		DurationMinutes: req.DurationMinutes,
		IncrementSecs:   req.IncrementSeconds,
		RandomStart:     req.RandomStart,
	})
	if err != nil {
		that.logger.Error("failed to create match", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create match")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"match_id": match.ID})
}

func (that *Handlers) JoinMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}

	match, err := that.manager.JoinMatch(r.Context(), matchID, playerIDFrom(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrMatchNotFound):
			writeError(w, http.StatusNotFound, "match not found")
		case errors.Is(err, apperror.ErrMatchNotJoinable), errors.Is(err, apperror.ErrMatchFull):
			writeError(w, http.StatusConflict, err.Error())
		default:
			that.logger.Error("failed to join match", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to join match")
		}
		return
	}

	writeJSON(w, http.StatusOK, match.Snapshot())
}

func (that *Handlers) RecentMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := that.manager.RecentMatches(r.Context(), 5)
	if err != nil {
		that.logger.Error("failed to list matches", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}

	states := make([]any, 0, len(matches))
	for _, match := range matches {
		states = append(states, match.Snapshot())
	}

	writeJSON(w, http.StatusOK, states)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (that *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	player, err := that.manager.Signup(r.Context(), playerIDFrom(r.Context()), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, apperror.ErrUsernameTaken),
			errors.Is(err, apperror.ErrInvalidUsername),
			errors.Is(err, apperror.ErrInvalidPassword):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			that.logger.Error("failed to sign up", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to sign up")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"player_id": player.ID, "username": player.Username})
}

func (that *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	player, err := that.manager.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		that.logger.Error("failed to log in", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	setSessionCookie(w, player.ID)
	writeJSON(w, http.StatusOK, map[string]any{"player_id": player.ID, "username": player.Username})
}

func (that *Handlers) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	w.WriteHeader(http.StatusOK)
}

func withPlayerID(ctx context.Context, playerID int64) context.Context {
	return context.WithValue(ctx, playerIDKey, playerID)
}

func playerIDFrom(ctx context.Context) int64 {
	playerID, _ := ctx.Value(playerIDKey).(int64)
	return playerID
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
