package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/picklesync/go/internal/models"
)

// ErrInvalidTransition is returned when a lifecycle change is not allowed from
// the game's current state.
var ErrInvalidTransition = errors.New("invalid game state transition")

// StartServing moves a fresh game to the serving state.
func StartServing(g *models.Game, now time.Time) error {
	if g.State != models.GameStateInitial {
		return transitionErr(g.State, models.GameStateServing)
	}
	g.State = models.GameStateServing
	g.Touch(now)
	return nil
}

// StartPlay moves a game that has not started yet into play. A game already
// playing is left alone.
func StartPlay(g *models.Game, now time.Time) error {
	switch g.State {
	case models.GameStatePlaying:
		return nil
	case models.GameStateInitial, models.GameStateServing:
		g.State = models.GameStatePlaying
		g.Touch(now)
		return nil
	default:
		return transitionErr(g.State, models.GameStatePlaying)
	}
}

func Pause(g *models.Game, now time.Time) error {
	if g.State != models.GameStatePlaying {
		return transitionErr(g.State, models.GameStatePaused)
	}
	g.State = models.GameStatePaused
	g.Touch(now)
	return nil
}

func Resume(g *models.Game, now time.Time) error {
	if g.State != models.GameStatePaused {
		return transitionErr(g.State, models.GameStatePlaying)
	}
	g.State = models.GameStatePlaying
	g.Touch(now)
	return nil
}

// Complete ends an active game regardless of score.
func Complete(g *models.Game, now time.Time) error {
	if !g.IsActive() {
		return transitionErr(g.State, models.GameStateCompleted)
	}
	complete(g, now)
	g.Touch(now)
	return nil
}

// Reset clears scores and completion and returns the game to its initial
// state. It is the only way out of a completed game besides undo.
func Reset(g *models.Game, now time.Time) {
	g.Score1 = 0
	g.Score2 = 0
	g.RallyCount = 0
	g.IsCompleted = false
	g.CompletedAt = nil
	g.ResetServe()
	g.Touch(now)
}

func transitionErr(from, to models.GameState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
