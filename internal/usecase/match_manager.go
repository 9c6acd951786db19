package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ninebox/ninebox-backend/internal/apperror"
	"github.com/ninebox/ninebox-backend/internal/clock"
	"github.com/ninebox/ninebox-backend/internal/entity"
	"github.com/ninebox/ninebox-backend/internal/repository"
)

// TimeBonusSeconds is the fixed amount a player may grant to their
// opponent's budget while a clock is live.
const TimeBonusSeconds = 15

// broadcaster receives a state snapshot on every externally visible
// change of a match.
type broadcaster interface {
	Broadcast(matchID int64, state *entity.State)
}

// MatchManager orchestrates match play: it loads matches from the store,
// validates and applies moves, debits and credits turn clocks, terminates
// matches on win, resignation or timeout, and notifies the broadcaster.
//
// A match's state can be mutated from two execution contexts: the request
// path and the clock expiration path. Every mutation therefore runs under
// that match's own mutex, so the two paths never interleave.
type MatchManager struct {
	logger *slog.Logger

	matches  *repository.MatchRepository
	players  *repository.PlayerRepository
	clocks   *clock.Registry
	notifier broadcaster
	clk      clockwork.Clock

	mu    sync.Mutex
	locks map[int64]*matchLock
}

// matchLock is one match's mutex plus the number of goroutines holding or
// waiting on it, so the map entry can be dropped when the last one leaves.
type matchLock struct {
	mu   sync.Mutex
	refs int
}

func NewMatchManager(
	logger *slog.Logger,
	matches *repository.MatchRepository,
	players *repository.PlayerRepository,
	clocks *clock.Registry,
	notifier broadcaster,
	clk clockwork.Clock,
) *MatchManager {
	return &MatchManager{
		logger:   logger,
		matches:  matches,
		players:  players,
		clocks:   clocks,
		notifier: notifier,
		clk:      clk,
		locks:    make(map[int64]*matchLock),
	}
}

// lockMatch serializes all mutating access to one match, including its
// countdown lifecycle. Matches are independent units of concurrency, so
// there is no cross-match locking. Entries are reference counted and
// removed once the last holder releases, so the map stays bounded by the
// number of matches being touched right now.
func (that *MatchManager) lockMatch(matchID int64) func() {
	that.mu.Lock()
	lock, ok := that.locks[matchID]
	if !ok {
		lock = &matchLock{}
		that.locks[matchID] = lock
	}
	lock.refs++
	that.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		that.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(that.locks, matchID)
		}
		that.mu.Unlock()
	}
}

// CreateMatchParams mirrors the create operation's inputs.
type CreateMatchParams struct {
	CreatorID       int64
	Mark            string
	UseClock        bool
	DurationMinutes float64
	IncrementSecs   float64
	RandomStart     bool
}

// CreateMatch creates a waiting match with the creator seated and records
// the match id on the creator's record.
func (that *MatchManager) CreateMatch(ctx context.Context, params CreateMatchParams) (*entity.Match, error) {
	player, err := that.players.GetByID(ctx, params.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get creator: %w", err)
	}

	match := entity.NewMatch(entity.MatchOptions{
		CreatorID:       params.CreatorID,
		CreatorMark:     params.Mark,
		Timed:           params.UseClock,
		DurationMinutes: params.DurationMinutes,
		IncrementSecs:   params.IncrementSecs,
		RandomStart:     params.RandomStart,
	})

	id, err := that.matches.Create(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	player.Matches = append(player.Matches, id)
	if err = that.players.Update(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to update creator: %w", err)
	}

	that.logger.Info("match created", "matchID", id, "creatorID", params.CreatorID, "timed", params.UseClock)

	return match, nil
}

// JoinMatch seats the joiner in a waiting match and activates it. When the
// match is time-controlled the first countdown starts against the player
// whose turn it is. Joining a match one is already seated in is a no-op.
func (that *MatchManager) JoinMatch(ctx context.Context, matchID, joinerID int64) (*entity.Match, error) {
	unlock := that.lockMatch(matchID)
	defer unlock()

	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	if _, seated := match.Side(joinerID); seated {
		return match, nil
	}

	if !match.IsWaiting() {
		return nil, apperror.ErrMatchNotJoinable
	}

	if match.Seated() >= 2 {
		return nil, apperror.ErrMatchFull
	}

	player, err := that.players.GetByID(ctx, joinerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get joiner: %w", err)
	}

	for side := range match.Seats {
		if match.Seats[side] == nil {
			id := joinerID
			match.Seats[side] = &id
			break
		}
	}

	now := that.clk.Now()
	match.Status = entity.StatusActive
	match.LastMoveAt = &now

	player.Matches = append(player.Matches, matchID)
	if err = that.players.Update(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to update joiner: %w", err)
	}

	if err = that.matches.Update(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}

	if match.Timed {
		that.startCountdown(match, match.Turn)
	}

	that.logger.Info("match activated", "matchID", matchID, "joinerID", joinerID)
	that.notifier.Broadcast(matchID, match.Snapshot())

	return match, nil
}

// SubmitMove validates and applies one move. On a time-controlled match
// the mover's budget is debited by the wall time since the last move
// first; an exhausted budget ends the match by timeout and the move is
// not applied. Otherwise the move lands, the mover is credited the
// increment and the opponent's countdown starts.
func (that *MatchManager) SubmitMove(ctx context.Context, matchID, playerID int64, row, col int) (*entity.State, error) {
	unlock := that.lockMatch(matchID)
	defer unlock()

	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	if !match.IsActive() {
		return nil, apperror.ErrMatchNotActive
	}

	side, seated := match.Side(playerID)
	if !seated {
		return nil, apperror.ErrNotParticipant
	}

	if err = match.ValidateMove(side, row, col); err != nil {
		return nil, fmt.Errorf("invalid move: %w", err)
	}

	if match.Timed {
		now := that.clk.Now()

		that.clocks.Cancel(matchID)

		match.TimeLeft[side] -= now.Sub(*match.LastMoveAt).Seconds()
		if match.TimeLeft[side] <= 0 {
			state, err := that.endByTimeout(ctx, match, side)
			if err != nil {
				return nil, err
			}
			return state, apperror.ErrTimeExpired
		}

		match.LastMoveAt = &now
	}

	won := match.ApplyMove(side, row, col)

	if match.Timed {
		match.TimeLeft[side] += match.Increment

		if won {
			that.clocks.Cancel(matchID)
		} else {
			that.startCountdown(match, match.Turn)
		}
	}

	if err = that.matches.Update(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}

	state := match.Snapshot()
	that.notifier.Broadcast(matchID, state)

	return state, nil
}

// Resign ends the match in favor of the resigner's opponent. Resigning an
// already ended match is a no-op success; a match that never started has
// no opponent to concede to and cannot be resigned.
func (that *MatchManager) Resign(ctx context.Context, matchID, playerID int64) (*entity.State, error) {
	unlock := that.lockMatch(matchID)
	defer unlock()

	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	side, seated := match.Side(playerID)
	if !seated {
		return nil, apperror.ErrNotParticipant
	}

	if match.IsEnded() {
		return match.Snapshot(), nil
	}

	if !match.IsActive() {
		return nil, apperror.ErrMatchNotActive
	}

	match.EndWith(entity.OtherSide(side))
	that.clocks.Cancel(matchID)

	if err = that.matches.Update(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}

	that.logger.Info("match resigned", "matchID", matchID, "playerID", playerID)

	state := match.Snapshot()
	that.notifier.Broadcast(matchID, state)

	return state, nil
}

// AddTime grants the granter's opponent a fixed bonus. The opponent's
// budget always grows; their live countdown is additionally extended when
// it is currently running against them. Without any live countdown for
// the match the request fails with ErrNoActiveClock.
func (that *MatchManager) AddTime(ctx context.Context, matchID, granterID int64) (*entity.State, error) {
	unlock := that.lockMatch(matchID)
	defer unlock()

	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	side, seated := match.Side(granterID)
	if !seated {
		return nil, apperror.ErrNotParticipant
	}

	if _, running := that.clocks.Get(matchID); !running {
		return nil, clock.ErrNoActiveClock
	}

	opponent := entity.OtherSide(side)
	match.TimeLeft[opponent] += TimeBonusSeconds

	if match.Turn == opponent {
		if err = that.clocks.Extend(matchID, TimeBonusSeconds*time.Second); err != nil {
			return nil, fmt.Errorf("failed to extend countdown: %w", err)
		}
	}

	if err = that.matches.Update(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}

	that.logger.Info("time added", "matchID", matchID, "granterID", granterID)

	state := match.Snapshot()
	that.notifier.Broadcast(matchID, state)

	return state, nil
}

// HandleTimeout is the clock expiration path. It re-checks everything
// under the match lock because a move, resignation or extension may have
// raced the firing: a countdown for a match that has already ended, or
// whose turn has passed, or whose recomputed budget still has time left,
// is treated as stale and either ignored or re-armed.
func (that *MatchManager) HandleTimeout(ctx context.Context, matchID int64, side int) {
	log := that.logger.With("method", "HandleTimeout", "matchID", matchID)

	unlock := that.lockMatch(matchID)
	defer unlock()

	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		log.Error("failed to get match", "error", err)
		return
	}

	if !match.IsActive() || match.Turn != side || !match.Timed {
		return
	}

	remaining := match.TimeLeft[side]
	if match.LastMoveAt != nil {
		remaining -= that.clk.Now().Sub(*match.LastMoveAt).Seconds()
	}

	if remaining > 0 {
		// Fired early relative to the persisted budget (an extension or a
		// grant raced the tick); re-arm for what is actually left.
		that.clocks.Replace(matchID, time.Duration(remaining*float64(time.Second)), func() {
			that.HandleTimeout(context.Background(), matchID, side)
		})
		return
	}

	if _, err = that.endByTimeout(ctx, match, side); err != nil {
		log.Error("failed to end match by timeout", "error", err)
	}
}

// Recover reconciles time-controlled matches after a restart: live
// countdowns do not survive a crash, so elapsed time is recomputed from
// the persisted last-move instant, ending overdue matches and re-arming
// the rest.
func (that *MatchManager) Recover(ctx context.Context) error {
	for match, err := range that.matches.All(ctx) {
		if err != nil {
			return fmt.Errorf("failed to scan matches: %w", err)
		}

		if !match.IsActive() || !match.Timed || match.LastMoveAt == nil {
			continue
		}

		side := match.Turn
		match.TimeLeft[side] -= that.clk.Now().Sub(*match.LastMoveAt).Seconds()

		if match.TimeLeft[side] <= 0 {
			if _, err = that.endByTimeout(ctx, match, side); err != nil {
				return err
			}
			continue
		}

		now := that.clk.Now()
		match.LastMoveAt = &now
		if err = that.matches.Update(ctx, match); err != nil {
			return fmt.Errorf("failed to update match: %w", err)
		}

		that.startCountdown(match, side)
		that.logger.Info("countdown re-armed after restart", "matchID", match.ID, "remaining", match.TimeLeft[side])
	}

	return nil
}

// startCountdown arms the registry for the given side's remaining budget.
// Expiration fires on the timer's goroutine and follows the same
// load-mutate-persist-notify path as a request, serialized by the match
// lock.
func (that *MatchManager) startCountdown(match *entity.Match, side int) {
	matchID := match.ID
	remaining := time.Duration(match.TimeLeft[side] * float64(time.Second))

	that.clocks.Replace(matchID, remaining, func() {
		that.HandleTimeout(context.Background(), matchID, side)
	})
}

// endByTimeout ends the match in favor of the flagged side's opponent.
// Callers hold the match lock.
func (that *MatchManager) endByTimeout(ctx context.Context, match *entity.Match, side int) (*entity.State, error) {
	match.TimeLeft[side] = 0
	match.EndWith(entity.OtherSide(side))
	that.clocks.Cancel(match.ID)

	if err := that.matches.Update(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}

	that.logger.Info("match ended by timeout", "matchID", match.ID, "loserSide", side)

	state := match.Snapshot()
	that.notifier.Broadcast(match.ID, state)

	return state, nil
}

// GetMatch returns a match by id.
func (that *MatchManager) GetMatch(ctx context.Context, matchID int64) (*entity.Match, error) {
	match, err := that.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	return match, nil
}

// RecentMatches returns up to limit matches, newest first.
func (that *MatchManager) RecentMatches(ctx context.Context, limit int64) ([]*entity.Match, error) {
	matches, err := that.matches.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}

	return matches, nil
}
