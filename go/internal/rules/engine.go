// Package rules implements pickleball scoring as pure transitions over a
// models.Game. Nothing here performs I/O or reads the clock: callers pass the
// current time and the elapsed game time explicitly.
package rules

import (
	"time"

	"github.com/mcdev12/picklesync/go/internal/models"
)

// ScorePoint awards a point to side. It reports false and leaves the game
// untouched when the game is already completed or side is not 1 or 2.
// Points are recorded as reported by the caller; under standard rotation a
// point for the receiving side also hands it the serve.
func ScorePoint(g *models.Game, side models.Side, now time.Time, elapsed time.Duration) bool {
	if !g.IsActive() || !side.Valid() {
		return false
	}

	before1, before2 := g.Score1, g.Score2
	if side == models.SideOne {
		g.Score1++
	} else {
		g.Score2++
	}
	g.RallyCount++

	advanceServe(g, side)
	if sideSwitchDue(g.Rules.SideSwitching, before1, before2, g.Score1, g.Score2, g.Rules.WinningScore) {
		g.CourtSide = g.CourtSide.Opposite()
	}

	if g.State == models.GameStateInitial || g.State == models.GameStateServing {
		g.State = models.GameStatePlaying
	}
	g.Touch(now)

	if ShouldComplete(g, elapsed) {
		complete(g, now)
	}
	return true
}

// ShouldComplete reports whether the game has reached any end condition: the
// winning score with the win-by-two margin satisfied, the time limit, or the
// rally cap.
func ShouldComplete(g *models.Game, elapsed time.Duration) bool {
	w := g.Rules.WinningScore
	if g.Score1 >= w || g.Score2 >= w {
		if !g.Rules.WinByTwo || abs(g.Score1-g.Score2) >= 2 {
			return true
		}
	}
	if limit, ok := g.Rules.TimeLimit(); ok && elapsed >= limit {
		return true
	}
	if g.Rules.MaxRallies != nil && *g.Rules.MaxRallies > 0 && g.RallyCount >= *g.Rules.MaxRallies {
		return true
	}
	return false
}

// CompleteIfDue completes an active game whose end condition holds. It is used
// for conditions that can become true without a point being scored, such as
// the time limit.
func CompleteIfDue(g *models.Game, now time.Time, elapsed time.Duration) bool {
	if !g.IsActive() || !ShouldComplete(g, elapsed) {
		return false
	}
	complete(g, now)
	g.Touch(now)
	return true
}

// UndoLastPoint removes the most recent point. The leading side loses a
// point; on a tie side 2 does.
//
// Serve and court side are recomputed from the remaining score rather than
// replayed from history, so after several undos they may differ from what was
// actually on court. With no rallies left the game returns to its initial
// state.
func UndoLastPoint(g *models.Game, now time.Time) bool {
	if g.RallyCount == 0 {
		return false
	}

	switch {
	case g.Score1 > g.Score2:
		g.Score1--
	case g.Score2 > 0:
		g.Score2--
	case g.Score1 > 0:
		g.Score1--
	}
	g.RallyCount--
	g.IsCompleted = false
	g.CompletedAt = nil

	if g.RallyCount == 0 {
		g.ResetServe()
	} else {
		g.ServePosition = positionForScore(g.Score(g.ServingSide))
		g.CourtSide = courtSideFor(g.Rules, g.Score1, g.Score2, g.RallyCount)
		if g.State != models.GameStatePaused {
			g.State = models.GameStatePlaying
		}
	}
	g.Touch(now)
	return true
}

// HandleServiceFault records a fault by the serving side. In singles the
// serve passes to the other side. In doubles the first server of the game
// hands straight to the other side; afterwards server 1 hands to the partner
// and server 2 hands to the other side.
func HandleServiceFault(g *models.Game, now time.Time) bool {
	if !g.IsActive() {
		return false
	}

	switch {
	case g.Rules.TeamSize <= 1:
		sideOut(g)
	case g.IsFirstServiceSequence:
		sideOut(g)
	case g.ServerNumber == 1:
		g.ServerNumber = 2
		g.ServePosition = g.ServePosition.Opposite()
	default:
		sideOut(g)
	}

	if g.State == models.GameStateInitial || g.State == models.GameStateServing {
		g.State = models.GameStatePlaying
	}
	g.Touch(now)
	return true
}

func advanceServe(g *models.Game, scorer models.Side) {
	if scorer != g.ServingSide {
		g.ServingSide = scorer
		g.ServerNumber = 1
		g.IsFirstServiceSequence = false
		g.ServePosition = positionForScore(g.Score(scorer))
		return
	}

	switch g.Rules.ServeRotation {
	case models.ServeRotationRally:
		g.ServePosition = positionForScore(g.Score(scorer))
	default:
		g.ServePosition = g.ServePosition.Opposite()
	}
}

func sideOut(g *models.Game) {
	g.ServingSide = g.ServingSide.Other()
	g.ServerNumber = 1
	g.IsFirstServiceSequence = false
	g.ServePosition = positionForScore(g.Score(g.ServingSide))
}

func complete(g *models.Game, now time.Time) {
	t := now
	g.IsCompleted = true
	g.CompletedAt = &t
	g.State = models.GameStateCompleted
	if g.Rules.SideSwitching == models.SideSwitchAfterEachGame {
		g.CourtSide = g.CourtSide.Opposite()
	}
}

// positionForScore puts the server on the right when their score is even.
func positionForScore(score int) models.ServePosition {
	if score%2 == 0 {
		return models.ServePositionRight
	}
	return models.ServePositionLeft
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
