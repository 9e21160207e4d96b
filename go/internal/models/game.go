package models

import (
	"time"

	"github.com/google/uuid"
)

// GameState defines the lifecycle state of a game.
type GameState string

const (
	GameStateInitial   GameState = "INITIAL"
	GameStateServing   GameState = "SERVING"
	GameStatePlaying   GameState = "PLAYING"
	GameStatePaused    GameState = "PAUSED"
	GameStateCompleted GameState = "COMPLETED"
)

// Side identifies one of the two teams on court.
type Side int

const (
	SideOne Side = 1
	SideTwo Side = 2
)

// Valid reports whether s is side 1 or 2.
func (s Side) Valid() bool {
	return s == SideOne || s == SideTwo
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == SideOne {
		return SideTwo
	}
	return SideOne
}

// ServePosition is the half of the court the server stands in.
type ServePosition string

const (
	ServePositionRight ServePosition = "RIGHT"
	ServePositionLeft  ServePosition = "LEFT"
)

// Opposite returns the other serve position.
func (p ServePosition) Opposite() ServePosition {
	if p == ServePositionRight {
		return ServePositionLeft
	}
	return ServePositionRight
}

// CourtSide is the end of the court side 1 is currently playing from.
type CourtSide string

const (
	CourtSideA CourtSide = "A"
	CourtSideB CourtSide = "B"
)

// Opposite returns the other end of the court.
func (c CourtSide) Opposite() CourtSide {
	if c == CourtSideA {
		return CourtSideB
	}
	return CourtSideA
}

// Game is the authoritative record of a single match.
type Game struct {
	ID       uuid.UUID `json:"id"`
	GameType string    `json:"game_type"`

	Score1      int        `json:"score1"`
	Score2      int        `json:"score2"`
	RallyCount  int        `json:"rally_count"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ServingSide            Side          `json:"serving_side"`
	ServerNumber           int           `json:"server_number"`
	ServePosition          ServePosition `json:"serve_position"`
	CourtSide              CourtSide     `json:"court_side"`
	IsFirstServiceSequence bool          `json:"is_first_service_sequence"`

	State GameState `json:"state"`
	Rules RuleSet   `json:"rules"`

	// VariationID points at the rule variation the game was created from. It is
	// a weak reference: a variation that can no longer be resolved is treated
	// as absent.
	VariationID *uuid.UUID `json:"variation_id,omitempty"`

	// ElapsedSeconds is the timer value recorded the last time the game was
	// persisted. The live value is owned by the timer controller.
	ElapsedSeconds float64 `json:"elapsed_seconds"`

	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// NewGame returns a game in its initial state with rules copied by value.
func NewGame(id uuid.UUID, gameType string, rules RuleSet, now time.Time) *Game {
	g := &Game{
		ID:        id,
		GameType:  gameType,
		Rules:     rules.Normalize(),
		CreatedAt: now,
	}
	g.ResetServe()
	g.LastModified = now
	return g
}

// ResetServe puts serve and court fields back to the start-of-game values.
// Side 1 serves first from the right; in doubles the opening server only gets
// one fault before side out.
func (g *Game) ResetServe() {
	g.ServingSide = SideOne
	g.ServerNumber = 1
	g.ServePosition = ServePositionRight
	g.CourtSide = CourtSideA
	g.IsFirstServiceSequence = g.Rules.TeamSize > 1
	g.State = GameStateInitial
}

// Score returns the score of the given side.
func (g *Game) Score(side Side) int {
	if side == SideTwo {
		return g.Score2
	}
	return g.Score1
}

// Winner returns the side with the higher score of a completed game. A tied
// or unfinished game has no winner.
func (g *Game) Winner() (Side, bool) {
	if !g.IsCompleted || g.Score1 == g.Score2 {
		return 0, false
	}
	if g.Score1 > g.Score2 {
		return SideOne, true
	}
	return SideTwo, true
}

// IsActive reports whether the game still accepts play.
func (g *Game) IsActive() bool {
	return !g.IsCompleted && g.State != GameStateCompleted
}

// Clone returns a deep copy of the game.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		c.CompletedAt = &t
	}
	if g.VariationID != nil {
		v := *g.VariationID
		c.VariationID = &v
	}
	c.Rules = g.Rules.Clone()
	return &c
}

// Touch stamps the game as modified at now.
func (g *Game) Touch(now time.Time) {
	g.LastModified = now
}
