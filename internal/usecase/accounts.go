package usecase

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/ninebox/ninebox-backend/internal/apperror"
	"github.com/ninebox/ninebox-backend/internal/entity"
	"github.com/ninebox/ninebox-backend/internal/repository"
)

const (
	minCredentialLen = 3
	maxCredentialLen = 30
)

// CreateAnonymousPlayer registers a fresh player with no credentials.
// Players are created on first contact and never deleted; signup later
// upgrades the same record.
func (that *MatchManager) CreateAnonymousPlayer(ctx context.Context) (*entity.Player, error) {
	player := &entity.Player{Matches: []int64{}}

	id, err := that.players.Create(ctx, player)
	if err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}

	that.logger.Info("anonymous player created", "playerID", id)

	return player, nil
}

// GetPlayer returns a player by id.
func (that *MatchManager) GetPlayer(ctx context.Context, playerID int64) (*entity.Player, error) {
	player, err := that.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	return player, nil
}

// Signup attaches credentials to an existing (usually anonymous) player.
func (that *MatchManager) Signup(ctx context.Context, playerID int64, username, password string) (*entity.Player, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	if len(password) < minCredentialLen || len(password) > maxCredentialLen {
		return nil, apperror.ErrInvalidPassword
	}

	if _, err := that.players.GetByUsername(ctx, username); err == nil {
		return nil, apperror.ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrPlayerNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	player, err := that.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	player.Username = username
	player.PasswordHash = string(hash)

	if err = that.players.Update(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to update player: %w", err)
	}

	that.logger.Info("player signed up", "playerID", playerID, "username", username)

	return player, nil
}

// Login resolves credentials to a player.
func (that *MatchManager) Login(ctx context.Context, username, password string) (*entity.Player, error) {
	player, err := that.players.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrPlayerNotFound) {
		return nil, apperror.ErrInvalidCredentials
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(player.PasswordHash), []byte(password)) != nil {
		return nil, apperror.ErrInvalidCredentials
	}

	return player, nil
}

func validateUsername(username string) error {
	runes := []rune(username)
	if len(runes) < minCredentialLen || len(runes) > maxCredentialLen {
		return apperror.ErrInvalidUsername
	}

	for _, r := range runes {
		// U+3164 is a hangul filler that renders as blank.
		if unicode.IsSpace(r) || r == 'ㅤ' {
			return apperror.ErrInvalidUsername
		}
	}

	return nil
}
