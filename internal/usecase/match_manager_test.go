package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninebox/ninebox-backend/internal/apperror"
	"github.com/ninebox/ninebox-backend/internal/clock"
	"github.com/ninebox/ninebox-backend/internal/entity"
	"github.com/ninebox/ninebox-backend/internal/repository"
	"github.com/ninebox/ninebox-backend/testing/suite"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

// recorder captures broadcast snapshots for assertions.
type recorder struct {
	mu     sync.Mutex
	states []*entity.State
}

func (that *recorder) Broadcast(_ int64, state *entity.State) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.states = append(that.states, state)
}

func (that *recorder) last() *entity.State {
	that.mu.Lock()
	defer that.mu.Unlock()

	if len(that.states) == 0 {
		return nil
	}

	return that.states[len(that.states)-1]
}

type fixture struct {
	ctx      context.Context
	clk      *clockwork.FakeClock
	clocks   *clock.Registry
	matches  *repository.MatchRepository
	players  *repository.PlayerRepository
	notifier *recorder
	manager  *MatchManager

	creator int64
	joiner  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx, st := suite.New(t)

	matchRepo, err := repository.NewMatchRepository(ctx, st.Storage.Connection)
	require.NoError(t, err)

	playerRepo, err := repository.NewPlayerRepository(ctx, st.Storage.Connection)
	require.NoError(t, err)

	clk := clockwork.NewFakeClock()
	clocks := clock.NewRegistry(clk)
	t.Cleanup(clocks.Shutdown)

	notifier := &recorder{}
	manager := NewMatchManager(st.Logger, matchRepo, playerRepo, clocks, notifier, clk)

	creator, err := manager.CreateAnonymousPlayer(ctx)
	require.NoError(t, err)

	joiner, err := manager.CreateAnonymousPlayer(ctx)
	require.NoError(t, err)

	return &fixture{
		ctx:      ctx,
		clk:      clk,
		clocks:   clocks,
		matches:  matchRepo,
		players:  playerRepo,
		notifier: notifier,
		manager:  manager,
		creator:  creator.ID,
		joiner:   joiner.ID,
	}
}

// startedMatch creates and joins a match so it is active with the creator
// playing X and on turn.
func (that *fixture) startedMatch(t *testing.T, params CreateMatchParams) *entity.Match {
	t.Helper()

	params.CreatorID = that.creator
	params.Mark = entity.MarkX

	match, err := that.manager.CreateMatch(that.ctx, params)
	require.NoError(t, err)

	match, err = that.manager.JoinMatch(that.ctx, match.ID, that.joiner)
	require.NoError(t, err)

	return match
}

func TestMatchManager_CreateMatch(t *testing.T) {
	fx := newFixture(t)

	// When: the creator asks for a match playing O
	match, err := fx.manager.CreateMatch(fx.ctx, CreateMatchParams{CreatorID: fx.creator, Mark: entity.MarkO})

	// Then: the match waits with the creator seated on O
	require.NoError(t, err)
	assert.True(t, match.IsWaiting())
	require.NotNil(t, match.Seats[entity.SideO])
	assert.Equal(t, fx.creator, *match.Seats[entity.SideO])
	assert.Nil(t, match.Seats[entity.SideX])

	// And: the match is recorded on the creator
	player, err := fx.manager.GetPlayer(fx.ctx, fx.creator)
	require.NoError(t, err)
	assert.Contains(t, player.Matches, match.ID)
}

func TestMatchManager_JoinMatch(t *testing.T) {
	t.Run("joining activates the match", func(t *testing.T) {
		fx := newFixture(t)

		match, err := fx.manager.CreateMatch(fx.ctx, CreateMatchParams{CreatorID: fx.creator, Mark: entity.MarkX})
		require.NoError(t, err)

		// When: a second player joins
		match, err = fx.manager.JoinMatch(fx.ctx, match.ID, fx.joiner)

		// Then: both seats are claimed and the match runs
		require.NoError(t, err)
		assert.True(t, match.IsActive())
		assert.Equal(t, 2, match.Seated())

		// And: subscribers were told
		state := fx.notifier.last()
		require.NotNil(t, state)
		assert.Equal(t, entity.StatusActive, state.Status)
	})

	t.Run("rejoining is a no-op", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		// When: the creator joins their own running match again
		again, err := fx.manager.JoinMatch(fx.ctx, match.ID, fx.creator)

		// Then: nothing changes
		require.NoError(t, err)
		assert.Equal(t, 2, again.Seated())
		assert.True(t, again.IsActive())
	})

	t.Run("a third player cannot join", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		stranger, err := fx.manager.CreateAnonymousPlayer(fx.ctx)
		require.NoError(t, err)

		_, err = fx.manager.JoinMatch(fx.ctx, match.ID, stranger.ID)
		assert.ErrorIs(t, err, apperror.ErrMatchNotJoinable)
	})

	t.Run("joining a missing match fails", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.manager.JoinMatch(fx.ctx, 999, fx.joiner)
		assert.ErrorIs(t, err, repository.ErrMatchNotFound)
	})

	t.Run("joining a timed match starts the first countdown", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1})

		countdown, running := fx.clocks.Get(match.ID)
		require.True(t, running)
		assert.Equal(t, time.Minute, countdown.Remaining())
	})
}

func TestMatchManager_SubmitMove(t *testing.T) {
	t.Run("a legal move flips the turn and persists", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		// When: the creator plays the center
		state, err := fx.manager.SubmitMove(fx.ctx, match.ID, fx.creator, 4, 4)

		// Then: the snapshot shows the move and the new turn
		require.NoError(t, err)
		assert.Equal(t, []int{4}, state.Moves)
		assert.Equal(t, entity.SideO, state.Turn)
		assert.Equal(t, 4, state.ActiveSubBoard)

		// And: the stored match agrees
		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{4}, stored.Moves)
		assert.Equal(t, entity.MarkX, stored.Board[4][4])
	})

	t.Run("a stranger cannot move", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		stranger, err := fx.manager.CreateAnonymousPlayer(fx.ctx)
		require.NoError(t, err)

		_, err = fx.manager.SubmitMove(fx.ctx, match.ID, stranger.ID, 4, 4)
		assert.ErrorIs(t, err, apperror.ErrNotParticipant)
	})

	t.Run("moving out of turn is rejected", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		_, err := fx.manager.SubmitMove(fx.ctx, match.ID, fx.joiner, 4, 4)
		assert.ErrorIs(t, err, apperror.ErrNotYourTurn)
	})

	t.Run("moving in a waiting match is rejected", func(t *testing.T) {
		fx := newFixture(t)

		match, err := fx.manager.CreateMatch(fx.ctx, CreateMatchParams{CreatorID: fx.creator, Mark: entity.MarkX})
		require.NoError(t, err)

		_, err = fx.manager.SubmitMove(fx.ctx, match.ID, fx.creator, 4, 4)
		assert.ErrorIs(t, err, apperror.ErrMatchNotActive)
	})

	t.Run("thinking time is debited and the increment credited", func(t *testing.T) {
		// Given: a one minute match with a two second increment
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1, IncrementSecs: 2})

		// When: the creator thinks for ten seconds before moving
		fx.clk.Advance(10 * time.Second)
		state, err := fx.manager.SubmitMove(fx.ctx, match.ID, fx.creator, 4, 4)

		// Then: their budget is 60 - 10 + 2 seconds
		require.NoError(t, err)
		require.NotNil(t, state.TimeLeft)
		assert.Equal(t, float64(52), state.TimeLeft[entity.SideX])
		assert.Equal(t, float64(60), state.TimeLeft[entity.SideO])

		// And: the countdown now runs against the opponent's full budget
		countdown, running := fx.clocks.Get(match.ID)
		require.True(t, running)
		assert.Equal(t, time.Minute, countdown.Remaining())
	})

	t.Run("an exhausted budget loses before the move lands", func(t *testing.T) {
		// Given: a three second match whose countdown has been detached,
		// so only the request path can observe the overdraft
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 0.05})
		fx.clocks.Cancel(match.ID)

		// When: the creator moves five seconds in
		fx.clk.Advance(5 * time.Second)
		state, err := fx.manager.SubmitMove(fx.ctx, match.ID, fx.creator, 4, 4)

		// Then: the match ends by timeout and the move is not applied
		assert.ErrorIs(t, err, apperror.ErrTimeExpired)
		require.NotNil(t, state)
		assert.Equal(t, entity.StatusEnded, state.Status)
		assert.Empty(t, state.Moves)
		require.NotNil(t, state.Winner)
		assert.Equal(t, entity.SideO, *state.Winner)
		require.NotNil(t, state.TimeLeft)
		assert.Equal(t, float64(0), state.TimeLeft[entity.SideX])
	})

	t.Run("winning a sub-board ends the match and stops the clock", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1})

		// Given: X one cell short of a triple in sub-board 0
		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		stored.Board[0][0] = entity.MarkX
		stored.Board[0][1] = entity.MarkX
		stored.Moves = []int{0}
		require.NoError(t, fx.matches.Update(fx.ctx, stored))

		// When: X completes the triple
		state, err := fx.manager.SubmitMove(fx.ctx, match.ID, fx.creator, 0, 2)

		// Then: the match is over and no countdown survives
		require.NoError(t, err)
		assert.Equal(t, entity.StatusEnded, state.Status)
		require.NotNil(t, state.Winner)
		assert.Equal(t, entity.SideX, *state.Winner)

		_, running := fx.clocks.Get(match.ID)
		assert.False(t, running)
	})
}

func TestMatchManager_Resign(t *testing.T) {
	t.Run("resigning hands the opponent the win", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		state, err := fx.manager.Resign(fx.ctx, match.ID, fx.creator)

		require.NoError(t, err)
		assert.Equal(t, entity.StatusEnded, state.Status)
		require.NotNil(t, state.Winner)
		assert.Equal(t, entity.SideO, *state.Winner)
	})

	t.Run("resigning an ended match is a no-op success", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		_, err := fx.manager.Resign(fx.ctx, match.ID, fx.creator)
		require.NoError(t, err)

		state, err := fx.manager.Resign(fx.ctx, match.ID, fx.joiner)
		require.NoError(t, err)
		require.NotNil(t, state.Winner)
		assert.Equal(t, entity.SideO, *state.Winner)
	})

	t.Run("a waiting match cannot be resigned", func(t *testing.T) {
		fx := newFixture(t)

		match, err := fx.manager.CreateMatch(fx.ctx, CreateMatchParams{CreatorID: fx.creator, Mark: entity.MarkX})
		require.NoError(t, err)

		// When: the creator resigns before anyone joined
		_, err = fx.manager.Resign(fx.ctx, match.ID, fx.creator)
		assert.ErrorIs(t, err, apperror.ErrMatchNotActive)

		// Then: the match still waits and names no winner
		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsWaiting())
		assert.Nil(t, stored.Winner)
	})
}

func TestMatchManager_MatchLocks(t *testing.T) {
	t.Run("lock entries are dropped once released", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		// When: a full little game plays out
		_, err := fx.manager.SubmitMove(fx.ctx, match.ID, fx.creator, 4, 4)
		require.NoError(t, err)

		_, err = fx.manager.Resign(fx.ctx, match.ID, fx.joiner)
		require.NoError(t, err)

		// Then: no per-match lock lingers
		fx.manager.mu.Lock()
		held := len(fx.manager.locks)
		fx.manager.mu.Unlock()
		assert.Zero(t, held)
	})
}

func TestMatchManager_AddTime(t *testing.T) {
	t.Run("granting extends the opponent's running countdown", func(t *testing.T) {
		// Given: a timed match where it is X's turn
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1})
		fx.clk.Advance(4 * time.Second)

		// When: O grants time to X
		state, err := fx.manager.AddTime(fx.ctx, match.ID, fx.joiner)

		// Then: X's budget grows by the bonus
		require.NoError(t, err)
		require.NotNil(t, state.TimeLeft)
		assert.Equal(t, float64(75), state.TimeLeft[entity.SideX])

		// And: the live countdown keeps the consumed time consumed:
		// 60 - 4 + 15 seconds remain
		countdown, running := fx.clocks.Get(match.ID)
		require.True(t, running)
		assert.Equal(t, 71*time.Second, countdown.Remaining())
	})

	t.Run("granting to the side not on turn only grows the budget", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1})

		// When: X grants time to O while it is X's own turn
		state, err := fx.manager.AddTime(fx.ctx, match.ID, fx.creator)

		// Then: O's budget grows but X's countdown is untouched
		require.NoError(t, err)
		require.NotNil(t, state.TimeLeft)
		assert.Equal(t, float64(75), state.TimeLeft[entity.SideO])

		countdown, running := fx.clocks.Get(match.ID)
		require.True(t, running)
		assert.Equal(t, time.Minute, countdown.Remaining())
	})

	t.Run("granting without a live countdown fails", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		_, err := fx.manager.AddTime(fx.ctx, match.ID, fx.creator)
		assert.ErrorIs(t, err, clock.ErrNoActiveClock)
	})
}

func TestMatchManager_Timeout(t *testing.T) {
	t.Run("an expired countdown ends the match", func(t *testing.T) {
		// Given: a three second match
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 0.05})

		// When: the full budget elapses with no move
		fx.clk.Advance(3 * time.Second)

		// Then: the expiration path ends the match in O's favor
		require.Eventually(t, func() bool {
			stored, err := fx.matches.GetByID(fx.ctx, match.ID)
			return err == nil && stored.IsEnded()
		}, waitFor, tick)

		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Winner)
		assert.Equal(t, entity.SideO, *stored.Winner)
		assert.Equal(t, float64(0), stored.TimeLeft[entity.SideX])
	})

	t.Run("a stale firing for the wrong side is ignored", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1})

		// When: an expiration for the side not on turn arrives
		fx.manager.HandleTimeout(fx.ctx, match.ID, entity.SideO)

		// Then: nothing happens
		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsActive())
	})

	t.Run("a firing with budget left re-arms instead of ending", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1})

		// When: an expiration arrives while the persisted budget still has time
		fx.manager.HandleTimeout(fx.ctx, match.ID, entity.SideX)

		// Then: the match goes on with a re-armed countdown
		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsActive())

		countdown, running := fx.clocks.Get(match.ID)
		require.True(t, running)
		assert.Equal(t, time.Minute, countdown.Remaining())
	})
}

func TestMatchManager_MoveTimeoutRace(t *testing.T) {
	t.Run("a move racing an expired clock yields exactly one outcome", func(t *testing.T) {
		// Given: a three second match whose budget is already gone, with
		// the countdown detached so both paths can be driven by hand
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 0.05})
		fx.clocks.Cancel(match.ID)
		fx.clk.Advance(3 * time.Second)

		// When: the move and the expiration race for the same match
		var wg sync.WaitGroup
		var moveErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, moveErr = fx.manager.SubmitMove(fx.ctx, match.ID, fx.creator, 4, 4)
		}()
		go func() {
			defer wg.Done()
			fx.manager.HandleTimeout(fx.ctx, match.ID, entity.SideX)
		}()
		wg.Wait()

		// Then: whichever path ran second observed the terminal state
		require.Error(t, moveErr)
		assert.True(t,
			errors.Is(moveErr, apperror.ErrTimeExpired) || errors.Is(moveErr, apperror.ErrMatchNotActive),
			"unexpected error: %v", moveErr)

		// And: the match ended by timeout exactly once, with no move applied
		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsEnded())
		require.NotNil(t, stored.Winner)
		assert.Equal(t, entity.SideO, *stored.Winner)
		assert.Empty(t, stored.Moves)
		assert.Equal(t, float64(0), stored.TimeLeft[entity.SideX])
	})

	t.Run("a move racing a premature firing still lands", func(t *testing.T) {
		// Given: a one minute match with its whole budget intact
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1})

		// When: the move and a firing for the mover's side race
		var wg sync.WaitGroup
		var moveErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, moveErr = fx.manager.SubmitMove(fx.ctx, match.ID, fx.creator, 4, 4)
		}()
		go func() {
			defer wg.Done()
			fx.manager.HandleTimeout(fx.ctx, match.ID, entity.SideX)
		}()
		wg.Wait()

		// Then: the move landed and the match goes on
		require.NoError(t, moveErr)
		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsActive())
		assert.Equal(t, []int{4}, stored.Moves)
		assert.Equal(t, entity.SideO, stored.Turn)

		// And: exactly one countdown runs, against the opponent
		countdown, running := fx.clocks.Get(match.ID)
		require.True(t, running)
		assert.Equal(t, time.Minute, countdown.Remaining())
	})
}

func TestMatchManager_Recover(t *testing.T) {
	t.Run("an overdue match ends on restart", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1})

		// Given: the process dies and comes back two minutes later
		fx.clocks.Cancel(match.ID)
		fx.clk.Advance(2 * time.Minute)

		// When: the manager reconciles persisted matches
		require.NoError(t, fx.manager.Recover(fx.ctx))

		// Then: the match ended while nobody was watching
		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsEnded())
		require.NotNil(t, stored.Winner)
		assert.Equal(t, entity.SideO, *stored.Winner)
	})

	t.Run("a match with budget left is re-armed", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{UseClock: true, DurationMinutes: 1})

		// Given: the process dies and comes back ten seconds later
		fx.clocks.Cancel(match.ID)
		fx.clk.Advance(10 * time.Second)

		// When: the manager reconciles persisted matches
		require.NoError(t, fx.manager.Recover(fx.ctx))

		// Then: the elapsed time is charged and the countdown runs again
		stored, err := fx.matches.GetByID(fx.ctx, match.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsActive())
		assert.Equal(t, float64(50), stored.TimeLeft[entity.SideX])

		countdown, running := fx.clocks.Get(match.ID)
		require.True(t, running)
		assert.Equal(t, 50*time.Second, countdown.Remaining())
	})

	t.Run("untimed and ended matches are left alone", func(t *testing.T) {
		fx := newFixture(t)
		match := fx.startedMatch(t, CreateMatchParams{})

		require.NoError(t, fx.manager.Recover(fx.ctx))

		_, running := fx.clocks.Get(match.ID)
		assert.False(t, running)
	})
}

func TestMatchManager_RecentMatches(t *testing.T) {
	fx := newFixture(t)

	for range 3 {
		_, err := fx.manager.CreateMatch(fx.ctx, CreateMatchParams{CreatorID: fx.creator, Mark: entity.MarkX})
		require.NoError(t, err)
	}

	matches, err := fx.manager.RecentMatches(fx.ctx, 2)

	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(2), matches[0].ID)
	assert.Equal(t, int64(1), matches[1].ID)
}
