package livesync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/models"
	"github.com/mcdev12/picklesync/go/internal/rules"
	"github.com/mcdev12/picklesync/go/internal/store"
)

// NewGameRequest describes a game to start. Rules default to the standard
// doubles rule set. When VariationID resolves, the variation's rules win.
type NewGameRequest struct {
	GameType    string
	Rules       *models.RuleSet
	VariationID *uuid.UUID
}

// Load restores the most recent unfinished game from the store. The timer
// continues from the saved elapsed time if the game was in play.
func (c *Coordinator) Load(ctx context.Context) (*models.Game, error) {
	var out *models.Game
	err := c.do(ctx, func() error {
		sctx, cancel := c.storeCtx()
		defer cancel()

		g, err := c.store.FetchCurrentIncompleteGame(sctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			c.stats.StoreFailures++
			log.Error().Err(err).Str("phase", "load").Msg("failed to load current game")
			return err
		}

		c.install(g)
		running := g.State == models.GameStatePlaying
		c.timer.ApplyBaseline(secondsToDuration(g.ElapsedSeconds), running, nil)
		if running {
			c.timer.RecordActivity()
		}
		log.Info().
			Str("game_id", g.ID.String()).
			Int("score1", g.Score1).
			Int("score2", g.Score2).
			Msg("restored live game")

		c.emitGame(EventGameUpdated, c.game)
		out = c.game.Clone()
		return nil
	})
	return out, err
}

// StartNewGame creates a game and makes it the live one. An unfinished live
// game is completed first.
func (c *Coordinator) StartNewGame(ctx context.Context, req NewGameRequest) (*models.Game, error) {
	var out *models.Game
	err := c.do(ctx, func() error {
		now := c.clock.Now()

		ruleSet, variationID := c.resolveRules(req)
		if c.game != nil && c.game.IsActive() {
			c.timer.Stop()
			if err := rules.Complete(c.game, now); err == nil {
				c.persist("replace_game")
				c.emitGame(EventGameCompleted, c.game)
			}
		}

		g := models.NewGame(uuid.New(), req.GameType, ruleSet, now)
		g.VariationID = variationID

		sctx, cancel := c.storeCtx()
		defer cancel()
		if err := c.store.Insert(sctx, g); err != nil {
			c.stats.StoreFailures++
			log.Error().Err(err).Str("game_id", g.ID.String()).Str("phase", "new_game").Msg("failed to insert game")
		}

		c.install(g)
		log.Info().
			Str("game_id", g.ID.String()).
			Str("game_type", g.GameType).
			Int("winning_score", g.Rules.WinningScore).
			Msg("started new game")

		c.emitGame(EventGameUpdated, c.game)
		c.syncState(false)
		out = c.game.Clone()
		return nil
	})
	return out, err
}

func (c *Coordinator) resolveRules(req NewGameRequest) (models.RuleSet, *uuid.UUID) {
	ruleSet := models.DefaultRuleSet()
	if req.Rules != nil {
		ruleSet = req.Rules.Clone()
	}
	if req.VariationID == nil || c.variations == nil {
		return ruleSet, nil
	}

	ctx, cancel := c.storeCtx()
	defer cancel()
	v, err := c.variations.ResolveVariation(ctx, *req.VariationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("variation_id", req.VariationID.String()).Msg("failed to resolve variation")
		}
		return ruleSet, nil
	}
	id := v.ID
	return v.Rules.Clone(), &id
}

// install makes g the live game and resets per-game sync state.
func (c *Coordinator) install(g *models.Game) {
	c.timer.Reset()
	c.game = g
	c.lastSend = time.Time{}
	c.pending = nil
}

// StartGame moves the live game into play and starts the timer.
func (c *Coordinator) StartGame(ctx context.Context) error {
	return c.mutate(ctx, "start", func(g *models.Game) (bool, error) {
		if err := rules.StartPlay(g, c.clock.Now()); err != nil {
			return false, err
		}
		c.timer.Start(g.State)
		c.timer.RecordActivity()
		return true, nil
	})
}

// ScorePoint awards a point. Scoring a paused game resumes it, and a timer
// that was paused for inactivity starts again.
func (c *Coordinator) ScorePoint(ctx context.Context, side models.Side) error {
	if !side.Valid() {
		return errors.New("side must be 1 or 2")
	}
	return c.mutate(ctx, "score", func(g *models.Game) (bool, error) {
		now := c.clock.Now()
		if g.State == models.GameStatePaused {
			if err := rules.Resume(g, now); err != nil {
				return false, err
			}
		}
		if !rules.ScorePoint(g, side, now, c.timer.Elapsed()) {
			return false, nil
		}
		c.afterPlay(g)
		return true, nil
	})
}

func (c *Coordinator) UndoLastPoint(ctx context.Context) error {
	return c.mutate(ctx, "undo", func(g *models.Game) (bool, error) {
		if !rules.UndoLastPoint(g, c.clock.Now()) {
			return false, nil
		}
		c.afterPlay(g)
		return true, nil
	})
}

func (c *Coordinator) ServiceFault(ctx context.Context) error {
	return c.mutate(ctx, "fault", func(g *models.Game) (bool, error) {
		if !rules.HandleServiceFault(g, c.clock.Now()) {
			return false, nil
		}
		c.afterPlay(g)
		return true, nil
	})
}

// afterPlay keeps the timer in step with the game after a rally-level change.
func (c *Coordinator) afterPlay(g *models.Game) {
	switch g.State {
	case models.GameStatePlaying:
		c.timer.Start(g.State)
		c.timer.RecordActivity()
	case models.GameStateCompleted:
		c.timer.Stop()
	case models.GameStateInitial:
		c.timer.Pause()
	}
}

func (c *Coordinator) Pause(ctx context.Context) error {
	return c.mutate(ctx, "pause", func(g *models.Game) (bool, error) {
		if err := rules.Pause(g, c.clock.Now()); err != nil {
			return false, err
		}
		c.timer.Pause()
		return true, nil
	})
}

func (c *Coordinator) Resume(ctx context.Context) error {
	return c.mutate(ctx, "resume", func(g *models.Game) (bool, error) {
		if err := rules.Resume(g, c.clock.Now()); err != nil {
			return false, err
		}
		c.timer.Resume(g.State)
		c.timer.RecordActivity()
		return true, nil
	})
}

// CompleteGame ends the live game regardless of score.
func (c *Coordinator) CompleteGame(ctx context.Context) error {
	return c.mutate(ctx, "complete", func(g *models.Game) (bool, error) {
		if err := rules.Complete(g, c.clock.Now()); err != nil {
			return false, err
		}
		c.timer.Stop()
		return true, nil
	})
}

// ResetGame zeroes the live game and its timer.
func (c *Coordinator) ResetGame(ctx context.Context) error {
	return c.mutate(ctx, "reset", func(g *models.Game) (bool, error) {
		rules.Reset(g, c.clock.Now())
		c.timer.Reset()
		return true, nil
	})
}

// DeleteGame removes the live game locally. The peer is not told.
func (c *Coordinator) DeleteGame(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.game == nil {
			return ErrNoActiveGame
		}
		g := c.game

		sctx, cancel := c.storeCtx()
		defer cancel()
		if err := c.store.Delete(sctx, g.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.stats.StoreFailures++
			log.Error().Err(err).Str("game_id", g.ID.String()).Str("phase", "delete").Msg("failed to delete game")
		}

		c.timer.Reset()
		c.game = nil
		log.Info().Str("game_id", g.ID.String()).Msg("deleted live game")
		c.emit(Event{Type: EventGameDeleted, GameID: g.ID})
		return nil
	})
}

// mutate applies fn to the live game and, when it reports a change, persists
// the game, notifies subscribers and offers a snapshot to the peer.
func (c *Coordinator) mutate(ctx context.Context, phase string, fn func(g *models.Game) (bool, error)) error {
	return c.do(ctx, func() error {
		if c.game == nil {
			return ErrNoActiveGame
		}
		g := c.game
		wasActive := g.IsActive()

		changed, err := fn(g)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		log.Debug().
			Str("game_id", g.ID.String()).
			Str("phase", phase).
			Int("score1", g.Score1).
			Int("score2", g.Score2).
			Str("state", string(g.State)).
			Msg("game updated")

		c.persist(phase)
		if wasActive && !g.IsActive() {
			log.Info().
				Str("game_id", g.ID.String()).
				Int("score1", g.Score1).
				Int("score2", g.Score2).
				Msg("game completed")
			c.emitGame(EventGameCompleted, g)
		}
		c.emitGame(EventGameUpdated, g)
		// A finished game is never followed by another mutation, so its
		// snapshot must not be throttled away.
		c.syncState(wasActive && !g.IsActive())
		return nil
	})
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
